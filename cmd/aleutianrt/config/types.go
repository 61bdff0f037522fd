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
	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/catalog"
	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/fetcher"
	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/inspector"
	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/ollama"
	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/pipeline"
	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/util"
)

// CurrentConfigVersion is written into new config files.
const CurrentConfigVersion = "1"

// RuntimeConfig is the on-disk configuration, ~/.aleutian/runtime.yaml.
type RuntimeConfig struct {
	Meta      MetaConfig         `yaml:"meta"`
	Service   ServiceConfig      `yaml:"service"`
	Runtime   RuntimeEnvConfig   `yaml:"runtime"`
	Libraries LibrariesConfig    `yaml:"libraries"`
	Models    ModelsConfig       `yaml:"models"`
	Timeouts  util.TimeoutConfig `yaml:"timeouts"`
	Telemetry TelemetryConfig    `yaml:"telemetry"`
	Logging   LoggingConfig      `yaml:"logging"`
	Server    ServerConfig       `yaml:"server"`
}

type MetaConfig struct {
	Version string `yaml:"version"`
}

// ServiceConfig locates the inference service.
type ServiceConfig struct {
	URL    string `yaml:"url" validate:"required,url"`
	Name   string `yaml:"name" validate:"required"`
	Binary string `yaml:"binary" validate:"required,excludesall=/\\"`
}

// RuntimeEnvConfig controls discovery and installation of the Python runtime.
type RuntimeEnvConfig struct {
	// ResourcesDir holds the bundled service binary and the installed runtime.
	ResourcesDir string `yaml:"resources_dir" validate:"required"`

	// MinVersion feeds the version_supported capability flag.
	MinVersion string `yaml:"min_version" validate:"required"`

	// ArchiveURL overrides the platform default download.
	ArchiveURL string `yaml:"archive_url,omitempty" validate:"omitempty,url"`

	GetPipURL string `yaml:"get_pip_url,omitempty" validate:"omitempty,url"`
}

// LibrariesConfig lists what is inspected and installed.
type LibrariesConfig struct {
	Inspect  []string           `yaml:"inspect" validate:"min=1,dive,required,pymodule"`
	Core     []string           `yaml:"core" validate:"min=1,dive,required,pymodule"`
	Required []pipeline.Library `yaml:"required" validate:"dive"`
	Optional []pipeline.Library `yaml:"optional" validate:"dive"`
}

type ModelsConfig struct {
	// PullMode is "cli" (run `<binary> pull`) or "api" (POST /api/pull).
	PullMode string `yaml:"pull_mode" validate:"oneof=cli api"`
	Default  string `yaml:"default"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	StdoutTraces bool   `yaml:"stdout_traces"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`

	// Dir receives dated JSON log files. Empty disables file logging.
	Dir string `yaml:"dir"`
}

type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required,hostname_port"`

	// Token, when set, is required as a bearer token on every /v1 request.
	Token string `yaml:"token,omitempty"`
}

// DefaultConfig returns the settings written on first run.
func DefaultConfig() RuntimeConfig {
	return RuntimeConfig{
		Meta: MetaConfig{Version: CurrentConfigVersion},
		Service: ServiceConfig{
			URL:    ollama.DefaultBaseURL,
			Name:   "Ollama",
			Binary: "ollama",
		},
		Runtime: RuntimeEnvConfig{
			ResourcesDir: "~/.aleutian/resources",
			MinVersion:   "3.9",
		},
		Libraries: LibrariesConfig{
			Inspect:  inspector.DefaultModules(),
			Core:     inspector.DefaultCoreModules(),
			Required: pipeline.DefaultRequired(),
			Optional: pipeline.DefaultOptional(),
		},
		Models: ModelsConfig{
			PullMode: fetcher.PullModeCLI,
			Default:  catalog.TinyLlama,
		},
		Timeouts: util.NewTimeoutConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Dir:    "~/.aleutian/logs",
		},
		Server: ServerConfig{Addr: "127.0.0.1:12210"},
	}
}

// Plan returns the installation plan for a platform with overrides applied.
func (c RuntimeConfig) Plan(goos, goarch string) pipeline.Plan {
	p := pipeline.DefaultPlan(goos, goarch)
	if c.Runtime.ArchiveURL != "" {
		p.ArchiveURL = c.Runtime.ArchiveURL
	}
	if c.Runtime.GetPipURL != "" {
		p.GetPipURL = c.Runtime.GetPipURL
	}
	if len(c.Libraries.Required) > 0 {
		p.Required = append([]pipeline.Library(nil), c.Libraries.Required...)
	}
	if c.Libraries.Optional != nil {
		p.Optional = append([]pipeline.Library(nil), c.Libraries.Optional...)
	}
	return p
}
