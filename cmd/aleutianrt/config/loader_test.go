// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/pipeline"
)

func TestLoad_CreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".aleutian", "runtime.yaml")

	cfg, created, err := Load(path)
	require.NoError(t, err)
	assert.True(t, created)
	assert.FileExists(t, path)

	assert.Equal(t, "http://localhost:11434", cfg.Service.URL)
	assert.Equal(t, CurrentConfigVersion, cfg.Meta.Version)
	assert.NotContains(t, cfg.Runtime.ResourcesDir, "~", "home is expanded")

	_, created, err = Load(path)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestLoad_DefaultFileRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runtime.yaml")
	require.NoError(t, createDefault(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "status: 5s", "durations are written as strings")

	var cfg RuntimeConfig
	require.NoError(t, yaml.Unmarshal(data, &cfg))
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runtime.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
models:
  pull_mode: api
timeouts:
  generate: 2m
runtime:
  resources_dir: /opt/aleutian
  min_version: "3.10"
`), 0o644))

	cfg, _, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "api", cfg.Models.PullMode)
	assert.Equal(t, 2*time.Minute, cfg.Timeouts.Generate)
	assert.Equal(t, 5*time.Second, cfg.Timeouts.Status)
	assert.Equal(t, "/opt/aleutian", cfg.Runtime.ResourcesDir)
	assert.Equal(t, "Ollama", cfg.Service.Name)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runtime.yaml")
	t.Setenv(EnvServiceURL, "http://gpu-box:11434/")
	t.Setenv(EnvResourcesDir, "/srv/resources")
	t.Setenv(EnvOTLPEndpoint, "localhost:4317")

	cfg, _, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://gpu-box:11434", cfg.Service.URL)
	assert.Equal(t, "/srv/resources", cfg.Runtime.ResourcesDir)
	assert.Equal(t, "localhost:4317", cfg.Telemetry.OTLPEndpoint)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"bad pull mode", "models:\n  pull_mode: torrent\n", "Models.PullMode"},
		{"bad url", "service:\n  url: not a url\n", "Service.URL"},
		{"bad log level", "logging:\n  level: loud\n", "Logging.Level"},
		{"empty core", "libraries:\n  core: []\n", "Libraries.Core"},
		{"library without module", "libraries:\n  required:\n    - requirement: pandas\n", "Module"},
		{"requirement with url", "libraries:\n  required:\n    - requirement: pkg @ https://example.com/pkg.whl\n      module: pkg\n", "pyrequirement"},
		{"module with dash", "libraries:\n  inspect: [pandas, scikit-learn]\n", "pymodule"},
		{"malformed yaml", "service: [", "parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "runtime.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0o644))

			_, _, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestPlan_Overrides(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Runtime.ArchiveURL = "https://mirror.internal/python.tar.gz"
	cfg.Libraries.Required = []pipeline.Library{{Requirement: "pandas", Module: "pandas"}}
	cfg.Libraries.Optional = []pipeline.Library{}

	p := cfg.Plan("linux", "amd64")

	assert.Equal(t, "https://mirror.internal/python.tar.gz", p.ArchiveURL)
	assert.Equal(t, pipeline.DefaultGetPipURL, p.GetPipURL)
	assert.Len(t, p.Required, 1)
	assert.Empty(t, p.Optional)
	assert.Equal(t, pipeline.FormatTarGz, p.ArchiveFormat)
}

func TestApplyEnv_IgnoresEmpty(t *testing.T) {
	cfg := DefaultConfig()
	applyEnv(&cfg, func(k string) (string, bool) { return "", true })
	assert.Equal(t, DefaultConfig().Service.URL, cfg.Service.URL)
}

func TestApplyEnv_APIToken(t *testing.T) {
	cfg := DefaultConfig()
	applyEnv(&cfg, func(k string) (string, bool) {
		if k == EnvAPIToken {
			return "abc", true
		}
		return "", false
	})
	assert.Equal(t, "abc", cfg.Server.Token)
	assert.Equal(t, DefaultConfig().Server.Addr, cfg.Server.Addr)
}
