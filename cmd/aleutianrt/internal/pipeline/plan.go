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
)

// Archive formats understood by the extracting step.
const (
	FormatZip   = "zip"
	FormatTarGz = "tar.gz"
)

// RuntimeVersion is the Python release the pipeline installs.
const RuntimeVersion = "3.11.7"

// DefaultGetPipURL is the package-manager bootstrap script.
const DefaultGetPipURL = "https://bootstrap.pypa.io/get-pip.py"

const standaloneRelease = "20240107"

// Library is one pip requirement and the module that proves it installed.
type Library struct {
	Requirement string `yaml:"requirement" json:"requirement" validate:"required,pyrequirement"`
	Module      string `yaml:"module" json:"module" validate:"required,pymodule"`
}

// Plan is everything platform-specific about an installation.
type Plan struct {
	ArchiveURL    string
	ArchiveFormat string

	// StripRoot drops the archive's single top-level directory.
	StripRoot bool

	// Flavor appears in the download message, e.g. "embedded".
	Flavor string

	GetPipURL string
	Required  []Library
	Optional  []Library
}

// DefaultRequired returns the pinned analysis stack.
func DefaultRequired() []Library {
	return []Library{
		{Requirement: "pandas==2.1.4", Module: "pandas"},
		{Requirement: "numpy==1.24.4", Module: "numpy"},
		{Requirement: "scipy==1.11.4", Module: "scipy"},
		{Requirement: "matplotlib==3.8.2", Module: "matplotlib"},
		{Requirement: "seaborn==0.13.0", Module: "seaborn"},
		{Requirement: "statsmodels==0.14.1", Module: "statsmodels"},
		{Requirement: "scikit-learn==1.3.2", Module: "sklearn"},
		{Requirement: "plotly==5.18.0", Module: "plotly"},
	}
}

// DefaultOptional returns libraries whose failure is tolerated.
func DefaultOptional() []Library {
	return []Library{
		{Requirement: "pingouin", Module: "pingouin"},
		{Requirement: "lifelines", Module: "lifelines"},
	}
}

// DefaultPlan returns the plan for a platform.
//
// Windows uses the python.org embeddable zip. Everything else uses a
// relocatable python-build-standalone build, which ships with pip.
func DefaultPlan(goos, goarch string) Plan {
	p := Plan{
		GetPipURL: DefaultGetPipURL,
		Required:  DefaultRequired(),
		Optional:  DefaultOptional(),
	}

	if goos == "windows" {
		p.ArchiveURL = fmt.Sprintf("https://www.python.org/ftp/python/%s/python-%s-embed-amd64.zip", RuntimeVersion, RuntimeVersion)
		p.ArchiveFormat = FormatZip
		p.Flavor = "embedded"
		return p
	}

	p.ArchiveURL = fmt.Sprintf(
		"https://github.com/indygreg/python-build-standalone/releases/download/%s/cpython-%s+%s-%s-install_only.tar.gz",
		standaloneRelease, RuntimeVersion, standaloneRelease, standaloneTriple(goos, goarch))
	p.ArchiveFormat = FormatTarGz
	p.StripRoot = true
	p.Flavor = "standalone"
	return p
}

func standaloneTriple(goos, goarch string) string {
	arch := "x86_64"
	if goarch == "arm64" {
		arch = "aarch64"
	}
	if goos == "darwin" {
		return arch + "-apple-darwin"
	}
	return arch + "-unknown-linux-gnu"
}

// archiveName is the on-disk name of the downloaded archive.
func (p Plan) archiveName() string {
	return "python-runtime." + p.ArchiveFormat
}
