// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package probe

import (
	"context"
	"fmt"
	"sync"
)

// -----------------------------------------------------------------------------
// Mock Implementation for Testing
// -----------------------------------------------------------------------------

// MockProber is a test double for Prober.
//
// Configure it by setting function fields. Unlike a strict mock, a nil
// LocateFunc reports "not found" and a nil run function returns an error,
// so tests only script the calls they care about.
//
// # Examples
//
//	mock := &MockProber{
//	    LocateFunc: func(c []string) (string, bool) { return "", false },
//	}
type MockProber struct {
	LocateFunc      func(candidates []string) (string, bool)
	RunSyncFunc     func(ctx context.Context, path string, args ...string) (*Result, error)
	RunDetachedFunc func(ctx context.Context, path string, args ...string) (*Handle, error)

	calls []Call
	mu    sync.Mutex
}

// Call records a single method invocation.
type Call struct {
	Method string
	Path   string
	Args   []string
}

func (m *MockProber) record(method, path string, args []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: method, Path: path, Args: args})
}

// Locate delegates to LocateFunc and records the call.
func (m *MockProber) Locate(candidates []string) (string, bool) {
	m.record("Locate", "", candidates)
	if m.LocateFunc == nil {
		return "", false
	}
	return m.LocateFunc(candidates)
}

// RunSync delegates to RunSyncFunc and records the call.
func (m *MockProber) RunSync(ctx context.Context, path string, args ...string) (*Result, error) {
	m.record("RunSync", path, args)
	if m.RunSyncFunc == nil {
		return nil, fmt.Errorf("MockProber.RunSyncFunc not set")
	}
	return m.RunSyncFunc(ctx, path, args...)
}

// RunDetached delegates to RunDetachedFunc and records the call.
func (m *MockProber) RunDetached(ctx context.Context, path string, args ...string) (*Handle, error) {
	m.record("RunDetached", path, args)
	if m.RunDetachedFunc == nil {
		return nil, fmt.Errorf("MockProber.RunDetachedFunc not set")
	}
	return m.RunDetachedFunc(ctx, path, args...)
}

// Calls returns a copy of all recorded calls.
func (m *MockProber) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallsTo returns the recorded calls of one method.
func (m *MockProber) CallsTo(method string) []Call {
	var out []Call
	for _, c := range m.Calls() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// Reset clears all recorded calls.
func (m *MockProber) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// LocateIn returns a LocateFunc that matches candidates against a set of
// existing paths, preserving candidate order.
func LocateIn(existing ...string) func([]string) (string, bool) {
	set := make(map[string]bool, len(existing))
	for _, e := range existing {
		set[e] = true
	}
	return func(candidates []string) (string, bool) {
		for _, c := range candidates {
			if set[c] {
				return c, true
			}
		}
		return "", false
	}
}

var _ Prober = (*MockProber)(nil)
