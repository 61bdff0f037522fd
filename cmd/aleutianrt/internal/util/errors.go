// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package util

import (
	"errors"
	"fmt"
	"strings"
)

// maxStderrLen bounds the stderr kept on a CommandError. pip can print
// several kilobytes of resolver output; only the tail is actionable.
const maxStderrLen = 2048

// =============================================================================
// CommandError
// =============================================================================

// CommandError describes an external process that ran but exited non-zero.
//
// # Description
//
// CommandError keeps the command line, exit code and the tail of stderr so
// that a failing `pip install` or `ollama pull` can be reported with the
// reason the tool itself printed.
//
// # Example
//
//	err := util.NewCommandError("python -m pip install pandas", 1, stderr, nil)
//	fmt.Println(err) // python -m pip install pandas (exit 1): No matching distribution...
type CommandError struct {
	// Command is the command line that was executed.
	Command string

	// ExitCode is the process exit code, or -1 if unknown.
	ExitCode int

	// Stderr is the trimmed tail of the process's standard error.
	Stderr string

	// Wrapped is the underlying error, if any.
	Wrapped error
}

// Error implements the error interface.
func (e *CommandError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s (exit %d): %s", e.Command, e.ExitCode, e.Stderr)
	}
	if e.Wrapped != nil {
		return fmt.Sprintf("%s (exit %d): %v", e.Command, e.ExitCode, e.Wrapped)
	}
	return fmt.Sprintf("%s (exit %d)", e.Command, e.ExitCode)
}

// Unwrap returns the wrapped error.
func (e *CommandError) Unwrap() error {
	return e.Wrapped
}

// HasStderr reports whether stderr output was captured.
func (e *CommandError) HasStderr() bool {
	return e.Stderr != ""
}

var _ error = (*CommandError)(nil)

// NewCommandError builds a CommandError, trimming stderr to its tail.
func NewCommandError(cmd string, exitCode int, stderr string, wrapped error) *CommandError {
	return &CommandError{
		Command:  cmd,
		ExitCode: exitCode,
		Stderr:   TailString(strings.TrimSpace(stderr), maxStderrLen),
		Wrapped:  wrapped,
	}
}

// CommandLine joins an executable and its arguments for display.
func CommandLine(path string, args ...string) string {
	if len(args) == 0 {
		return path
	}
	return path + " " + strings.Join(args, " ")
}

// ExtractStderr returns the stderr of the first CommandError in err's chain.
func ExtractStderr(err error) string {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) && cmdErr.HasStderr() {
		return cmdErr.Stderr
	}
	return ""
}

// TailString returns the last max bytes of s, prefixed with an ellipsis
// when truncated.
func TailString(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return "..." + s[len(s)-max:]
}
