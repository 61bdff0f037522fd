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
	"testing"
	"time"
)

// =============================================================================
// CommandError Tests
// =============================================================================

func TestCommandError_Error_WithStderr(t *testing.T) {
	err := NewCommandError("python -m pip install pandas", 1, "  no space left  \n", nil)

	want := "python -m pip install pandas (exit 1): no space left"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestCommandError_Error_WithWrapped(t *testing.T) {
	wrapped := errors.New("signal: killed")
	err := NewCommandError("ollama pull tinyllama", -1, "", wrapped)

	want := "ollama pull tinyllama (exit -1): signal: killed"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, wrapped) {
		t.Error("errors.Is should find the wrapped error")
	}
}

func TestCommandError_Error_Bare(t *testing.T) {
	err := NewCommandError("false", 1, "", nil)
	if got := err.Error(); got != "false (exit 1)" {
		t.Errorf("Error() = %q", got)
	}
}

func TestNewCommandError_TruncatesStderr(t *testing.T) {
	long := strings.Repeat("x", maxStderrLen*2) + "TAIL"
	err := NewCommandError("pip", 1, long, nil)

	if !strings.HasSuffix(err.Stderr, "TAIL") {
		t.Error("stderr tail should be preserved")
	}
	if len(err.Stderr) > maxStderrLen+3 {
		t.Errorf("stderr length = %d, want <= %d", len(err.Stderr), maxStderrLen+3)
	}
}

func TestExtractStderr(t *testing.T) {
	cmdErr := NewCommandError("pip", 1, "resolver conflict", nil)
	wrapped := fmt.Errorf("install numpy: %w", cmdErr)

	if got := ExtractStderr(wrapped); got != "resolver conflict" {
		t.Errorf("ExtractStderr() = %q", got)
	}
	if got := ExtractStderr(errors.New("plain")); got != "" {
		t.Errorf("ExtractStderr(plain) = %q, want empty", got)
	}
}

func TestCommandLine(t *testing.T) {
	if got := CommandLine("ollama"); got != "ollama" {
		t.Errorf("CommandLine() = %q", got)
	}
	if got := CommandLine("ollama", "pull", "phi3:mini"); got != "ollama pull phi3:mini" {
		t.Errorf("CommandLine() = %q", got)
	}
}

// =============================================================================
// Timeout Tests
// =============================================================================

func TestTimeoutConfig_Validated_Defaults(t *testing.T) {
	got := TimeoutConfig{}.Validated()

	if got.Status != StatusTimeout {
		t.Errorf("Status = %v, want %v", got.Status, StatusTimeout)
	}
	if got.List != ListTimeout {
		t.Errorf("List = %v, want %v", got.List, ListTimeout)
	}
	if got.Generate != GenerateTimeout {
		t.Errorf("Generate = %v, want %v", got.Generate, GenerateTimeout)
	}
	if got.GracePeriod != ServiceGracePeriod {
		t.Errorf("GracePeriod = %v, want %v", got.GracePeriod, ServiceGracePeriod)
	}
}

func TestTimeoutConfig_Validated_EnforcesMinimum(t *testing.T) {
	got := TimeoutConfig{Status: 10 * time.Millisecond, GracePeriod: -1}.Validated()

	if got.Status != MinHTTPTimeout {
		t.Errorf("Status = %v, want %v", got.Status, MinHTTPTimeout)
	}
	if got.GracePeriod != ServiceGracePeriod {
		t.Errorf("GracePeriod = %v, want %v", got.GracePeriod, ServiceGracePeriod)
	}
}

func TestTimeoutConfig_Validated_KeepsExplicitGracePeriod(t *testing.T) {
	got := TimeoutConfig{GracePeriod: time.Millisecond}.Validated()

	if got.GracePeriod != time.Millisecond {
		t.Errorf("GracePeriod = %v, want 1ms", got.GracePeriod)
	}
}

func TestEnforceDefaultTimeout(t *testing.T) {
	if got := EnforceDefaultTimeout(0, time.Second); got != time.Second {
		t.Errorf("got %v", got)
	}
	if got := EnforceDefaultTimeout(2*time.Second, time.Second); got != 2*time.Second {
		t.Errorf("got %v", got)
	}
}

// =============================================================================
// SafeGo Tests
// =============================================================================

func TestSafeGo_RecoversPanic(t *testing.T) {
	done := make(chan PanicInfo, 1)
	SafeGo(func() { panic("boom") }, func(p PanicInfo) { done <- p })

	select {
	case p := <-done:
		if p.Value != "boom" {
			t.Errorf("Value = %v", p.Value)
		}
		if p.Stack == "" {
			t.Error("Stack should be captured")
		}
		if p.Error() != "panic: boom" {
			t.Errorf("Error() = %q", p.Error())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("onPanic not called")
	}
}

func TestSafeGo_NoPanic(t *testing.T) {
	ran := make(chan struct{})
	SafeGo(func() { close(ran) }, func(PanicInfo) { t.Error("unexpected panic") })

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("fn not run")
	}
}
