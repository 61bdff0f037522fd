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
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/failure"
	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/fetcher"
	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/util"
)

const getPipName = "get-pip.py"

// =============================================================================
// Steps
// =============================================================================

func (s *runState) initialize(ctx context.Context) error {
	if err := os.MkdirAll(s.target, 0o755); err != nil {
		return failure.Wrap(err, failure.KindUnknown, "pipeline.initializing", "Failed to create runtime directory")
	}
	// A previous run may have died between fetching and running the bootstrap.
	_ = os.Remove(filepath.Join(s.target, getPipName))
	return nil
}

func (s *runState) download(ctx context.Context) error {
	dest := filepath.Join(s.target, s.plan.archiveName())
	if err := s.deps.Downloader.Fetch(ctx, s.plan.ArchiveURL, dest, s.progress); err != nil {
		return stepError(err, failure.KindNetworkFailure, StepDownloading, "Failed to download Python runtime")
	}
	return nil
}

func (s *runState) extract(ctx context.Context) error {
	archive := filepath.Join(s.target, s.plan.archiveName())

	var err error
	switch s.plan.ArchiveFormat {
	case FormatZip:
		err = fetcher.ExtractZip(archive, s.target)
	case FormatTarGz:
		err = fetcher.ExtractTarGz(archive, s.target, s.plan.StripRoot)
	default:
		err = fmt.Errorf("unsupported archive format %q", s.plan.ArchiveFormat)
	}
	if err != nil {
		// A corrupt archive must not be resumed on the next run.
		_ = os.Remove(archive)
		return stepError(err, failure.KindVerificationFailure, StepExtracting, "Failed to extract Python runtime")
	}

	if err := os.Remove(archive); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("could not remove runtime archive", "path", archive, "error", err)
	}
	return nil
}

func (s *runState) configure(ctx context.Context) error {
	pths, _ := filepath.Glob(filepath.Join(s.target, "*._pth"))
	for _, pth := range pths {
		if err := enableSite(pth); err != nil {
			return stepError(err, failure.KindUnknown, StepConfiguring, "Failed to configure Python path file")
		}
	}

	info, err := os.Stat(s.python)
	if err != nil || info.IsDir() {
		e := failure.New(failure.KindNotFound, "pipeline.configuring", "Python executable not found after extraction")
		e.Detail = s.python
		e.Remediation = "Delete the runtime directory and run setup again"
		return e
	}
	if s.goos() != "windows" {
		if err := os.Chmod(s.python, 0o755); err != nil {
			return stepError(err, failure.KindUnknown, StepConfiguring, "Failed to make Python executable")
		}
	}
	return nil
}

func (s *runState) installPackageManager(ctx context.Context) error {
	if res, err := s.deps.Prober.RunSync(ctx, s.python, "-m", "pip", "--version"); err == nil && res.ExitSuccess {
		s.logger.Debug("pip already present, skipping bootstrap")
		return nil
	}

	script := filepath.Join(s.target, getPipName)
	defer os.Remove(script)

	if err := s.deps.Downloader.Fetch(ctx, s.plan.GetPipURL, script, nil); err != nil {
		return stepError(err, failure.KindNetworkFailure, StepInstallingPackageManager, "Failed to download package manager")
	}

	args := []string{script, "--no-warn-script-location"}
	if err := s.runPython(ctx, args...); err != nil {
		return stepError(err, failure.KindExternalProcessFailure, StepInstallingPackageManager, "Failed to install package manager")
	}
	return nil
}

// installLibraries installs each library independently. Failures are
// recorded in the run's partial result; only cancellation stops the step.
func (s *runState) installLibraries(ctx context.Context, tier string, libs []Library) error {
	step := StepInstallingRequiredLibraries
	if tier == "optional" {
		step = StepInstallingOptionalLibraries
	}

	for _, lib := range libs {
		if err := ctx.Err(); err != nil {
			return stepError(err, failure.KindCancelled, step, "Installation cancelled")
		}

		err := s.runPython(ctx, "-m", "pip", "install", lib.Requirement, "--quiet", "--disable-pip-version-check")
		if err != nil && ctx.Err() != nil {
			return stepError(ctx.Err(), failure.KindCancelled, step, "Installation cancelled")
		}
		s.deps.Metrics.RecordLibraryInstall(tier, err == nil)
		if err == nil {
			continue
		}

		s.logger.Warn("library install failed", "tier", tier, "library", lib.Requirement, "error", err)
		f := LibraryFailure{Library: lib.Requirement, Error: util.TailString(err.Error(), 512)}
		if tier == "optional" {
			s.partial.Optional = append(s.partial.Optional, f)
		} else {
			s.partial.Required = append(s.partial.Required, f)
		}
	}
	return nil
}

func (s *runState) verify(ctx context.Context) error {
	report := s.deps.Inspector.Inspect(ctx, s.python)
	if report.OK && s.deps.Inspector.CoreReady(report.Libraries) {
		return nil
	}

	var missing []string
	for name, ok := range report.Libraries {
		if !ok {
			missing = append(missing, name)
		}
	}
	slices.Sort(missing)
	e := failure.New(failure.KindVerificationFailure, "pipeline.verifying", "Core analysis libraries are not importable")
	if !report.OK {
		e.Detail = "runtime inspection failed: " + s.python
	} else {
		e.Detail = "not importable: " + strings.Join(missing, ", ")
	}
	e.Remediation = "Check network access to the package index and run setup again"
	return e
}

// =============================================================================
// Helpers
// =============================================================================

func (s *runState) runPython(ctx context.Context, args ...string) error {
	res, err := s.deps.Prober.RunSync(ctx, s.python, args...)
	if err != nil {
		return util.NewCommandError(util.CommandLine(s.python, args...), -1, "", err)
	}
	if !res.ExitSuccess {
		stderr := strings.TrimSpace(string(res.Stderr))
		return util.NewCommandError(util.CommandLine(s.python, args...), res.ExitCode, stderr, nil)
	}
	return nil
}

// stepError keeps the kind of an already classified error and falls back
// to kind otherwise. Cancellation always wins.
func stepError(err error, kind failure.Kind, step Step, message string) *failure.Error {
	op := "pipeline." + step.String()
	if errors.Is(err, context.Canceled) || failure.IsKind(err, failure.KindCancelled) {
		return failure.Wrap(err, failure.KindCancelled, op, "Installation cancelled")
	}
	if k := failure.KindOf(err); k != failure.KindUnknown {
		kind = k
	}
	e := failure.Wrap(err, kind, op, message)
	e.Step = step.String()
	return e
}

// enableSite turns on "import site" in an embedded distribution's ._pth
// file so pip-installed packages are importable.
func enableSite(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "import site" {
			return nil
		}
		if strings.HasPrefix(trimmed, "#") && strings.TrimSpace(strings.TrimPrefix(trimmed, "#")) == "import site" {
			lines[i] = "import site"
			return os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644)
		}
	}

	var buf bytes.Buffer
	buf.WriteString(strings.TrimRight(string(data), "\r\n"))
	buf.WriteString("\nimport site\n")
	return os.WriteFile(path, buf.Bytes(), 0o644)
}
