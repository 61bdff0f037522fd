// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/config"
	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/failure"
	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/ollama"
	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/ollama/ollamatest"
	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/pipeline"
	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/resolver"
	"github.com/AleutianAI/AleutianRuntime/pkg/extensions"
	"github.com/AleutianAI/AleutianRuntime/pkg/logging"
)

// =============================================================================
// Harness
// =============================================================================

// execute runs the CLI against a config file pointing at srv and returns
// captured stdout.
func execute(t *testing.T, srv *ollamatest.Server, extraYAML string, args ...string) (string, error) {
	t.Helper()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "runtime.yaml")
	yaml := fmt.Sprintf("service:\n  url: %s\nruntime:\n  resources_dir: %s\nlogging:\n  dir: \"\"\n%s",
		srv.URL, filepath.Join(dir, "resources"), extraYAML)
	require.NoError(t, os.WriteFile(cfgPath, []byte(yaml), 0o600))

	jsonOutput, verbose, watchStatus, assumeYes, serveAddr = false, false, false, false, ""
	var out bytes.Buffer
	stdout = &out
	t.Cleanup(func() {
		stdout = os.Stdout
		jsonOutput = false
		app = nil
	})

	rootCmd.SetArgs(append([]string{"--config", cfgPath}, args...))
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

// =============================================================================
// Commands
// =============================================================================

func TestModelsList_JSON(t *testing.T) {
	srv := ollamatest.NewServer("tinyllama:latest", "phi3:mini")
	defer srv.Close()

	out, err := execute(t, srv, "", "--json", "models", "list")
	require.NoError(t, err)

	var names []string
	require.NoError(t, json.Unmarshal([]byte(out), &names))
	assert.Equal(t, []string{"tinyllama:latest", "phi3:mini"}, names)
}

func TestModelsList_EmptyPrintsHint(t *testing.T) {
	srv := ollamatest.NewServer()
	defer srv.Close()

	out, err := execute(t, srv, "", "models", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No models installed")
}

func TestModelsPull_APIMode(t *testing.T) {
	srv := ollamatest.NewServer()
	defer srv.Close()

	out, err := execute(t, srv, "models:\n  pull_mode: api\n", "--json", "models", "pull", "tinyllama")
	require.NoError(t, err)

	var msg map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &msg))
	assert.Contains(t, msg["message"], "tinyllama")
	assert.Equal(t, int64(1), srv.Count("/api/pull"))
}

func TestQuery(t *testing.T) {
	srv := ollamatest.NewServer("tinyllama:latest")
	defer srv.Close()
	srv.SetResponse("The mean is 4.2")

	out, err := execute(t, srv, "", "query", "tinyllama", "what", "is", "the", "mean?")
	require.NoError(t, err)
	assert.Equal(t, "The mean is 4.2\n", out)
}

func TestStatus_ServiceRespondingIsAvailable(t *testing.T) {
	srv := ollamatest.NewServer()
	defer srv.Close()

	out, err := execute(t, srv, "", "--json", "status", "service")
	require.NoError(t, err)

	var s resolver.DependencyStatus
	require.NoError(t, json.Unmarshal([]byte(out), &s))
	assert.Equal(t, resolver.InferenceService, s.Kind)
	assert.True(t, s.Available)
	assert.True(t, s.CapabilityFlags[resolver.FlagServiceResponding])
}

func TestStatus_UnknownKind(t *testing.T) {
	srv := ollamatest.NewServer()
	defer srv.Close()

	_, err := execute(t, srv, "", "status", "database")
	assert.ErrorContains(t, err, "unknown dependency kind")
}

func TestServiceStart_AlreadyRunning(t *testing.T) {
	srv := ollamatest.NewServer()
	defer srv.Close()

	out, err := execute(t, srv, "", "service", "start")
	require.NoError(t, err)
	assert.Contains(t, out, "already running")
}

func TestRuntimeSetup_RequiresConfirmationOffTerminal(t *testing.T) {
	srv := ollamatest.NewServer()
	defer srv.Close()

	_, err := execute(t, srv, "", "--json", "runtime", "setup")
	require.Error(t, err)

	var fe *failure.Error
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "Run: aleutianrt runtime setup --yes", fe.Remediation)
	assert.ErrorIs(t, err, errConfirmationRequired)
}

func TestInvalidConfigIsReported(t *testing.T) {
	srv := ollamatest.NewServer()
	defer srv.Close()

	_, err := execute(t, srv, "models:\n  pull_mode: torrent\n", "models", "list")
	assert.ErrorContains(t, err, "invalid config")
}

func TestServiceConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Runtime.ResourcesDir = "/opt/aleutian/resources"
	cfg.Runtime.ArchiveURL = "https://mirror.example.com/python.tar.gz"
	cfg.Models.PullMode = "api"

	pc := serviceConfig(cfg, "linux", "amd64")

	assert.Equal(t, cfg.Service.URL, pc.ServiceURL)
	assert.Equal(t, "/opt/aleutian/resources", pc.ResourcesDir)
	assert.Equal(t, "Ollama", pc.ServiceName)
	assert.Equal(t, "ollama", pc.ServiceBinary)
	assert.Equal(t, "api", pc.PullMode)
	assert.Equal(t, cfg.Libraries.Core, pc.CoreModules)
	require.NotNil(t, pc.Plan)
	assert.Equal(t, "https://mirror.example.com/python.tar.gz", pc.Plan.ArchiveURL)
}

// =============================================================================
// Rendering
// =============================================================================

func TestRenderError_Failure(t *testing.T) {
	fe := failure.Wrap(errors.New("dial tcp: refused"), failure.KindNetworkFailure, "pipeline.downloading", "Failed to download Python runtime")
	fe.Step = "downloading"
	fe.Remediation = "Check your internet connection"

	out := renderError(fe)

	assert.Contains(t, out, "Failed to download Python runtime")
	assert.Contains(t, out, "downloading")
	assert.Contains(t, out, fe.Kind.String())
	assert.Contains(t, out, "dial tcp: refused")
	assert.Contains(t, out, "Check your internet connection")
}

func TestRenderError_Plain(t *testing.T) {
	assert.Contains(t, renderError(errors.New("boom")), "boom")
}

func TestRenderStatus(t *testing.T) {
	out := renderStatus(resolver.DependencyStatus{
		Kind:            resolver.RuntimeEnvironment,
		Origin:          resolver.OriginSystem,
		ExecutablePath:  "/usr/bin/python3",
		Version:         "3.12.1",
		SetupRequired:   true,
		Degraded:        true,
		CapabilityFlags: map[string]bool{"pandas": false, resolver.FlagCoreLibraries: false},
	})

	assert.Contains(t, out, "runtime_environment")
	assert.Contains(t, out, "found, setup required")
	assert.Contains(t, out, "/usr/bin/python3")
	assert.Contains(t, out, "pandas")
}

func TestPullPrinter_CollapsesRepeats(t *testing.T) {
	var buf bytes.Buffer
	p := pullPrinter(&buf)

	p(ollama.PullProgress{Status: "pulling manifest"})
	p(ollama.PullProgress{Status: "pulling manifest"})
	for done := int64(0); done <= 100; done += 5 {
		p(ollama.PullProgress{Status: "downloading", Total: 100, Completed: done})
	}
	p(ollama.PullProgress{Status: "success"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 1+11+1)
	assert.Contains(t, lines[0], "pulling manifest")
	assert.Contains(t, lines[len(lines)-1], "success")
}

func TestLineReporter(t *testing.T) {
	var buf bytes.Buffer
	r := &lineReporter{w: &buf, lastDecile: -1}

	r.Event(pipeline.ProgressEvent{Step: pipeline.StepDownloading, Progress: 10, Message: "Downloading Python runtime..."})
	r.Bytes(10, 100)
	r.Bytes(15, 100)
	r.Bytes(100, 100)
	r.Event(pipeline.ProgressEvent{Step: pipeline.StepExtracting, Progress: 30, Message: "Failed to extract", Terminal: true, Error: "bad gzip"})
	r.Close()

	out := buf.String()
	assert.Contains(t, out, "[ 10%] Downloading Python runtime...")
	assert.Equal(t, 2, strings.Count(out, "downloaded"))
	assert.Contains(t, out, "extracting failed: Failed to extract")
}

func TestJSONReporter(t *testing.T) {
	var buf bytes.Buffer
	r := &jsonReporter{w: &buf}

	r.Event(pipeline.ProgressEvent{RunID: "r1", Step: pipeline.StepInitializing, Message: "Initializing Python setup..."})
	r.Bytes(1, 2)
	r.Event(pipeline.ProgressEvent{RunID: "r1", Step: pipeline.StepCompleted, Progress: 100, Terminal: true})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	var ev pipeline.ProgressEvent
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &ev))
	assert.Equal(t, pipeline.StepCompleted, ev.Step)
	assert.True(t, ev.Terminal)
}

// =============================================================================
// Watch
// =============================================================================

func TestWatchTargets(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "python"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), nil, 0o644))

	assert.ElementsMatch(t, []string{dir, filepath.Join(dir, "python")}, watchTargets(dir))

	missing := filepath.Join(dir, "a", "b", "resources")
	assert.Equal(t, []string{dir}, watchTargets(missing))
}

func TestRelevant(t *testing.T) {
	dir := filepath.Join("/home", "u", ".aleutian", "resources")
	tests := []struct {
		path string
		want bool
	}{
		{dir, true},
		{filepath.Join(dir, "python"), true},
		{filepath.Join("/home", "u", ".aleutian"), true},
		{filepath.Join(dir, "python", "lib"), false},
		{filepath.Join("/home", "u", "other"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, relevant(dir, tt.path), tt.path)
	}
}

func TestWatchResources_ReResolvesOnChange(t *testing.T) {
	app = &appState{logger: logging.New(logging.Config{Quiet: true})}
	t.Cleanup(func() { app = nil })

	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- watchResources(ctx, dir, func(context.Context) error {
			calls.Add(1)
			return nil
		})
	}()

	// Give the watcher time to register before touching the directory.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "python"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "python", "marker"), nil, 0o644))

	assert.Eventually(t, func() bool { return calls.Load() >= 1 }, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop after cancel")
	}
}

func TestServerExtensions(t *testing.T) {
	logger := logging.New(logging.Config{Output: &bytes.Buffer{}, Quiet: true}).Slog()

	open := serverExtensions(config.ServerConfig{}, logger)
	assert.IsType(t, &extensions.NopAuthProvider{}, open.AuthProvider)
	assert.IsType(t, &extensions.SlogAuditLogger{}, open.AuditLogger)

	locked := serverExtensions(config.ServerConfig{Token: "abc"}, logger)
	_, err := locked.AuthProvider.Validate(context.Background(), "wrong")
	assert.ErrorIs(t, err, extensions.ErrUnauthorized)
	info, err := locked.AuthProvider.Validate(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "token-user", info.UserID)
}
