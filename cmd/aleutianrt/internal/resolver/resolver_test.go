// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resolver

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/inspector"
	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/probe"
)

type fakeHealth struct {
	up    bool
	calls atomic.Int32
}

func (f *fakeHealth) Check(ctx context.Context, timeout time.Duration) bool {
	f.calls.Add(1)
	return f.up
}

const (
	bundledPy   = "/res/python/bin/python3"
	bundledSvc  = "/res/ollama/ollama"
	systemSvc   = "/usr/local/bin/ollama"
	healthyJSON = `{"version": "3.11.7", "libraries": {"pandas": true, "numpy": true, "scipy": true, "matplotlib": true, "seaborn": false, "statsmodels": true, "sklearn": true, "plotly": true}}`
	missingJSON = `{"version": "3.12.1", "libraries": {"pandas": false, "numpy": true, "scipy": false}}`
)

var testCfg = Config{
	ServiceCandidates: probe.Candidates{Bundled: []string{bundledSvc}, System: []string{"ollama", systemSvc}},
	RuntimeCandidates: probe.Candidates{Bundled: []string{bundledPy}, System: []string{"python3", "python"}},
}

// scriptedProber answers inspections per interpreter path and --version for
// any service binary.
func scriptedProber(existing []string, inspections map[string]string) *probe.MockProber {
	return &probe.MockProber{
		LocateFunc: probe.LocateIn(existing...),
		RunSyncFunc: func(ctx context.Context, path string, args ...string) (*probe.Result, error) {
			if len(args) > 0 && args[0] == "--version" {
				return &probe.Result{ExitSuccess: true, Stdout: []byte("ollama version is 0.5.7\n")}, nil
			}
			out, ok := inspections[path]
			if !ok {
				return &probe.Result{ExitSuccess: false, ExitCode: 1, Stderr: []byte("boom")}, nil
			}
			return &probe.Result{ExitSuccess: true, Stdout: []byte(out)}, nil
		},
	}
}

func newTestResolver(p probe.Prober, h *fakeHealth) *Resolver {
	insp := inspector.New(p, inspector.DefaultModules(), inspector.DefaultCoreModules())
	return New(p, insp, h, testCfg, nil)
}

// =============================================================================
// Runtime environment
// =============================================================================

func TestResolve_Runtime_BundledHealthy(t *testing.T) {
	p := scriptedProber([]string{bundledPy, "python3"}, map[string]string{bundledPy: healthyJSON, "python3": healthyJSON})
	r := newTestResolver(p, &fakeHealth{})

	s := r.Resolve(context.Background(), RuntimeEnvironment)

	assert.True(t, s.Available)
	assert.False(t, s.SetupRequired)
	assert.False(t, s.Degraded)
	assert.Equal(t, OriginBundled, s.Origin)
	assert.Equal(t, bundledPy, s.ExecutablePath)
	assert.Equal(t, "3.11.7", s.Version)
	assert.True(t, s.CapabilityFlags["pandas"])
	assert.False(t, s.CapabilityFlags["seaborn"])
	assert.True(t, s.CapabilityFlags[FlagCoreLibraries])
	assert.True(t, s.CapabilityFlags[FlagVersionSupported])
	assert.Len(t, p.CallsTo("RunSync"), 1, "system runtime should not be inspected once bundled is usable")
}

func TestResolve_Runtime_FallsBackToSystem(t *testing.T) {
	p := scriptedProber([]string{"python3"}, map[string]string{"python3": healthyJSON})
	r := newTestResolver(p, &fakeHealth{})

	s := r.Resolve(context.Background(), RuntimeEnvironment)

	assert.Equal(t, OriginSystem, s.Origin)
	assert.Equal(t, "python3", s.ExecutablePath)
	assert.False(t, s.SetupRequired)
}

func TestResolve_Runtime_MissingCoreIsDegraded(t *testing.T) {
	p := scriptedProber([]string{"python3"}, map[string]string{"python3": missingJSON})
	r := newTestResolver(p, &fakeHealth{})

	s := r.Resolve(context.Background(), RuntimeEnvironment)

	assert.True(t, s.Available, "inspection ran, so the runtime is present")
	assert.True(t, s.SetupRequired)
	assert.True(t, s.Degraded)
	assert.Equal(t, OriginSystem, s.Origin)
	assert.Equal(t, "3.12.1", s.Version)
	assert.False(t, s.CapabilityFlags[FlagCoreLibraries])
}

func TestResolve_Runtime_BrokenBundledPrefersHealthySystem(t *testing.T) {
	p := scriptedProber([]string{bundledPy, "python3"}, map[string]string{"python3": healthyJSON})
	r := newTestResolver(p, &fakeHealth{})

	s := r.Resolve(context.Background(), RuntimeEnvironment)

	assert.Equal(t, OriginSystem, s.Origin)
	assert.False(t, s.SetupRequired)
	assert.False(t, s.Degraded)
}

func TestResolve_Runtime_BestDegradedWins(t *testing.T) {
	// Both found, neither usable: the bundled one is reported.
	p := scriptedProber([]string{bundledPy, "python3"}, map[string]string{"python3": missingJSON})
	r := newTestResolver(p, &fakeHealth{})

	s := r.Resolve(context.Background(), RuntimeEnvironment)

	assert.Equal(t, OriginBundled, s.Origin)
	assert.True(t, s.Degraded)
	assert.False(t, s.Available, "bundled inspection failed outright")
	assert.True(t, s.SetupRequired)
}

func TestResolve_Runtime_NothingFound(t *testing.T) {
	p := scriptedProber(nil, nil)
	r := newTestResolver(p, &fakeHealth{})

	s := r.Resolve(context.Background(), RuntimeEnvironment)

	assert.Equal(t, OriginNone, s.Origin)
	assert.False(t, s.Available)
	assert.True(t, s.SetupRequired)
	assert.False(t, s.Degraded)
	assert.Empty(t, s.ExecutablePath)
	assert.Empty(t, p.CallsTo("RunSync"))
}

// =============================================================================
// Inference service
// =============================================================================

func TestResolve_Service_PrefersBundled(t *testing.T) {
	p := scriptedProber([]string{bundledSvc, systemSvc}, nil)
	r := newTestResolver(p, &fakeHealth{up: false})

	s := r.Resolve(context.Background(), InferenceService)

	assert.True(t, s.Available)
	assert.False(t, s.SetupRequired)
	assert.Equal(t, OriginBundled, s.Origin)
	assert.Equal(t, bundledSvc, s.ExecutablePath)
	assert.Equal(t, "0.5.7", s.Version)
	assert.True(t, s.CapabilityFlags[FlagBinaryPresent])
	assert.False(t, s.CapabilityFlags[FlagServiceResponding])
}

func TestResolve_Service_SystemBinary(t *testing.T) {
	p := scriptedProber([]string{systemSvc}, nil)
	r := newTestResolver(p, &fakeHealth{up: true})

	s := r.Resolve(context.Background(), InferenceService)

	assert.Equal(t, OriginSystem, s.Origin)
	assert.Equal(t, systemSvc, s.ExecutablePath)
	assert.True(t, s.CapabilityFlags[FlagServiceResponding])
}

func TestResolve_Service_RespondingWithoutBinary(t *testing.T) {
	p := scriptedProber(nil, nil)
	r := newTestResolver(p, &fakeHealth{up: true})

	s := r.Resolve(context.Background(), InferenceService)

	assert.True(t, s.Available)
	assert.False(t, s.SetupRequired)
	assert.Equal(t, OriginSystem, s.Origin)
	assert.Empty(t, s.ExecutablePath)
	assert.False(t, s.CapabilityFlags[FlagBinaryPresent])
}

func TestResolve_Service_Nothing(t *testing.T) {
	r := newTestResolver(scriptedProber(nil, nil), &fakeHealth{})

	s := r.Resolve(context.Background(), InferenceService)

	assert.False(t, s.Available)
	assert.True(t, s.SetupRequired)
	assert.Equal(t, OriginNone, s.Origin)
}

// =============================================================================
// Cross-cutting
// =============================================================================

func TestResolve_Idempotent(t *testing.T) {
	p := scriptedProber([]string{bundledPy, systemSvc}, map[string]string{bundledPy: healthyJSON})
	r := newTestResolver(p, &fakeHealth{up: true})

	for _, k := range Kinds() {
		first := r.Resolve(context.Background(), k)
		second := r.Resolve(context.Background(), k)
		assert.Equal(t, first, second, k.String())
	}
}

func TestResolveAll(t *testing.T) {
	p := scriptedProber([]string{bundledPy, bundledSvc}, map[string]string{bundledPy: healthyJSON})
	h := &fakeHealth{up: true}
	r := newTestResolver(p, h)

	all := r.ResolveAll(context.Background())

	require.Len(t, all, 2)
	assert.Equal(t, InferenceService, all[InferenceService].Kind)
	assert.Equal(t, RuntimeEnvironment, all[RuntimeEnvironment].Kind)
	assert.Equal(t, int32(1), h.calls.Load())
}

func TestServiceBinaries_OrderedByPreference(t *testing.T) {
	r := newTestResolver(scriptedProber([]string{systemSvc, bundledSvc}, nil), &fakeHealth{})

	bins := r.ServiceBinaries()

	require.Len(t, bins, 2)
	assert.Equal(t, Binary{Path: bundledSvc, Origin: OriginBundled}, bins[0])
	assert.Equal(t, Binary{Path: systemSvc, Origin: OriginSystem}, bins[1])
}

func TestLastVersionToken(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"ollama version is 0.5.7", "0.5.7"},
		{"Warning: could not connect to a running Ollama instance\nWarning: client version is 0.6.2\n", "0.6.2"},
		{"no version here", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, lastVersionToken([]byte(tt.in)), tt.in)
	}
}

func TestDependencyStatus_JSON(t *testing.T) {
	s := DependencyStatus{
		Kind:            RuntimeEnvironment,
		Origin:          OriginBundled,
		CapabilityFlags: map[string]bool{"pandas": true},
	}
	b, err := json.Marshal(s)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))
	assert.Equal(t, "runtime_environment", raw["kind"])
	assert.Equal(t, "bundled", raw["origin"])
	assert.NotContains(t, raw, "executable_path")

	var back DependencyStatus
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, s, back)
}

func TestParseKind(t *testing.T) {
	for _, in := range []string{"service", "ollama", "inference_service"} {
		k, err := ParseKind(in)
		require.NoError(t, err)
		assert.Equal(t, InferenceService, k)
	}
	k, err := ParseKind("Runtime")
	require.NoError(t, err)
	assert.Equal(t, RuntimeEnvironment, k)

	_, err = ParseKind("database")
	assert.Error(t, err)
}

func TestOrigin_Prefers(t *testing.T) {
	assert.True(t, OriginBundled.Prefers(OriginSystem))
	assert.True(t, OriginSystem.Prefers(OriginNone))
	assert.False(t, OriginNone.Prefers(OriginSystem))
}
