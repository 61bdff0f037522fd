// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package probe locates executables and runs them.

Every process the provisioning engine touches (the inference service binary,
the Python interpreter, pip) goes through the Prober interface so that the
resolver, supervisor and pipeline can be tested without real binaries.

# Design Rationale

Direct calls to exec.Command are not testable because they execute real
processes. Behind Prober, tests script outcomes with MockProber:

	mock := &probe.MockProber{
	    LocateFunc: func(c []string) (string, bool) { return "/opt/ollama", true },
	    RunSyncFunc: func(ctx context.Context, path string, args ...string) (*probe.Result, error) {
	        return &probe.Result{ExitSuccess: true, Stdout: []byte("ollama version is 0.5.7")}, nil
	    },
	}
*/
package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// -----------------------------------------------------------------------------
// Interface Definition
// -----------------------------------------------------------------------------

// Prober handles executable discovery and process execution.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use from multiple goroutines.
type Prober interface {
	// Locate returns the first candidate that exists.
	//
	// # Description
	//
	// Candidates containing a path separator are checked on disk and must
	// be regular files. Bare command names are resolved through PATH.
	// Order matters: callers list bundled paths before system ones.
	//
	// # Outputs
	//
	//   - string: The resolved path of the first match
	//   - bool: False if no candidate matched
	//
	// # Examples
	//
	//	path, ok := p.Locate([]string{"/app/resources/ollama/ollama", "ollama"})
	Locate(candidates []string) (string, bool)

	// RunSync executes a process and waits for it to exit.
	//
	// # Description
	//
	// A non-zero exit is reported through Result, not as an error. An
	// error is returned only when the process could not be started or
	// was killed because ctx ended. There is no built-in timeout; callers
	// bound the run with ctx.
	//
	// # Examples
	//
	//	res, err := p.RunSync(ctx, python, "-m", "pip", "--version")
	//	if err == nil && res.ExitSuccess { ... }
	RunSync(ctx context.Context, path string, args ...string) (*Result, error)

	// RunDetached spawns a long-lived process and returns immediately.
	//
	// # Description
	//
	// Output is discarded and the child runs in its own process group so
	// it outlives the caller. Whether the process is actually healthy is
	// not the probe's concern; the supervisor verifies that out of band.
	//
	// # Limitations
	//
	//   - ctx is not used to kill the child
	//   - A spawn failure is an error, never a "not healthy" signal
	RunDetached(ctx context.Context, path string, args ...string) (*Handle, error)
}

// Result holds the outcome of a synchronous run.
type Result struct {
	ExitSuccess bool
	ExitCode    int
	Stdout      []byte
	Stderr      []byte
}

// Handle identifies a detached process.
type Handle struct {
	PID  int
	Path string
	Args []string
}

// -----------------------------------------------------------------------------
// Implementation
// -----------------------------------------------------------------------------

// DefaultProber implements Prober using os/exec.
type DefaultProber struct{}

// NewDefaultProber creates a Prober that executes real processes.
func NewDefaultProber() *DefaultProber {
	return &DefaultProber{}
}

// Locate returns the first candidate that exists.
func (p *DefaultProber) Locate(candidates []string) (string, bool) {
	for _, candidate := range candidates {
		if candidate == "" {
			continue
		}
		if isPathLike(candidate) {
			info, err := os.Stat(candidate)
			if err == nil && info.Mode().IsRegular() {
				return candidate, true
			}
			continue
		}
		if resolved, err := exec.LookPath(candidate); err == nil {
			return resolved, true
		}
	}
	return "", false
}

// RunSync executes a process and waits for it to exit.
func (p *DefaultProber) RunSync(ctx context.Context, path string, args ...string) (*Result, error) {
	cmd := exec.CommandContext(ctx, path, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := &Result{
		Stdout: stdout.Bytes(),
		Stderr: stderr.Bytes(),
	}
	if err == nil {
		result.ExitSuccess = true
		return result, nil
	}

	// A context kill shows up as an ExitError too, so check ctx first.
	if ctx.Err() != nil {
		return result, fmt.Errorf("run %s: %w", path, ctx.Err())
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}
	return nil, fmt.Errorf("run %s: %w", path, err)
}

// RunDetached spawns a long-lived process and returns immediately.
func (p *DefaultProber) RunDetached(ctx context.Context, path string, args ...string) (*Handle, error) {
	cmd := exec.Command(path, args...)
	cmd.SysProcAttr = detachedAttr()

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", path, err)
	}

	// Reap the child if it exits so it does not linger as a zombie.
	go func() { _ = cmd.Wait() }()

	return &Handle{PID: cmd.Process.Pid, Path: path, Args: args}, nil
}

// isPathLike reports whether candidate names a file rather than a command.
func isPathLike(candidate string) bool {
	for i := 0; i < len(candidate); i++ {
		if os.IsPathSeparator(candidate[i]) || candidate[i] == '/' {
			return true
		}
	}
	return false
}

var _ Prober = (*DefaultProber)(nil)
