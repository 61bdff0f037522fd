// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/failure"
)

// Step is one stage of an installation run. Steps run in declaration order.
type Step int

const (
	StepInitializing Step = iota
	StepDownloading
	StepExtracting
	StepConfiguring
	StepInstallingPackageManager
	StepInstallingRequiredLibraries
	StepInstallingOptionalLibraries
	StepVerifying
	StepCompleted
)

var stepNames = [...]string{
	StepInitializing:                "initializing",
	StepDownloading:                 "downloading",
	StepExtracting:                  "extracting",
	StepConfiguring:                 "configuring",
	StepInstallingPackageManager:    "installing_package_manager",
	StepInstallingRequiredLibraries: "installing_required_libraries",
	StepInstallingOptionalLibraries: "installing_optional_libraries",
	StepVerifying:                   "verifying",
	StepCompleted:                   "completed",
}

var stepWeights = [...]int{
	StepInitializing:                0,
	StepDownloading:                 10,
	StepExtracting:                  30,
	StepConfiguring:                 50,
	StepInstallingPackageManager:    60,
	StepInstallingRequiredLibraries: 70,
	StepInstallingOptionalLibraries: 80,
	StepVerifying:                   90,
	StepCompleted:                   100,
}

// Steps returns every step in execution order.
func Steps() []Step {
	out := make([]Step, 0, len(stepNames))
	for s := StepInitializing; s <= StepCompleted; s++ {
		out = append(out, s)
	}
	return out
}

// String returns the wire name of the step.
func (s Step) String() string {
	if s < StepInitializing || s > StepCompleted {
		return "unknown"
	}
	return stepNames[s]
}

// Weight is the step's display progress, 0 to 100.
func (s Step) Weight() int {
	if s < StepInitializing || s > StepCompleted {
		return 0
	}
	return stepWeights[s]
}

// MarshalText implements encoding.TextMarshaler.
func (s Step) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Step) UnmarshalText(b []byte) error {
	for i, name := range stepNames {
		if name == string(b) {
			*s = Step(i)
			return nil
		}
	}
	return fmt.Errorf("unknown step %q", string(b))
}

// ProgressEvent reports that a run has reached a step.
//
// Every step emits one event before its work starts. A failing run adds
// one terminal event carrying the failing step, Error and ErrorKind. A
// successful run ends with the completed step, which is itself terminal.
type ProgressEvent struct {
	RunID     string `json:"run_id"`
	Step      Step   `json:"step"`
	Progress  int    `json:"progress"`
	Message   string `json:"message"`
	Terminal  bool   `json:"terminal"`
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
}

// Failed reports whether the event ends a run unsuccessfully.
func (e ProgressEvent) Failed() bool {
	return e.Terminal && e.Error != ""
}

// LibraryFailure records one library that did not install.
type LibraryFailure struct {
	Library string `json:"library"`
	Error   string `json:"error"`
}

// PartialInstallation lists libraries that failed without failing the run.
type PartialInstallation struct {
	Required []LibraryFailure `json:"required,omitempty"`
	Optional []LibraryFailure `json:"optional,omitempty"`
}

// Empty reports whether every library installed.
func (p PartialInstallation) Empty() bool {
	return len(p.Required) == 0 && len(p.Optional) == 0
}

// Err summarizes the failures as a PartialInstallation error, or nil.
func (p PartialInstallation) Err() error {
	if p.Empty() {
		return nil
	}
	names := make([]string, 0, len(p.Required)+len(p.Optional))
	for _, f := range p.Required {
		names = append(names, f.Library)
	}
	for _, f := range p.Optional {
		names = append(names, f.Library+" (optional)")
	}
	e := failure.New(failure.KindPartialInstallation, "pipeline.install",
		fmt.Sprintf("%d libraries failed to install: %s", len(names), strings.Join(names, ", ")))
	e.Remediation = "Re-run the runtime setup once the network is stable"
	return e
}
