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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianRuntime/pkg/validation"
)

// Environment variables that override the file.
const (
	EnvServiceURL   = "ALEUTIAN_OLLAMA_URL"
	EnvResourcesDir = "ALEUTIAN_RESOURCES_DIR"
	EnvOTLPEndpoint = "OTEL_EXPORTER_OTLP_ENDPOINT"
	EnvAPIToken     = "ALEUTIAN_API_TOKEN"
)

// DefaultPath is where the config lives unless --config says otherwise.
const DefaultPath = "~/.aleutian/runtime.yaml"

var validate = newValidator()

// newValidator adds "pyrequirement" and "pymodule" for library lists.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("pyrequirement", func(fl validator.FieldLevel) bool {
		return validation.ValidateRequirement(fl.Field().String()) == nil
	})
	_ = v.RegisterValidation("pymodule", func(fl validator.FieldLevel) bool {
		return validation.ValidateModuleName(fl.Field().String()) == nil
	})
	return v
}

// Load reads the config at path, creating it with defaults on first run.
//
// # Description
//
// Fields missing from the file keep their default values. Environment
// overrides are applied after parsing, "~" is expanded in paths, and the
// result is validated.
//
// # Inputs
//
//   - path: Config file path. Empty means DefaultPath.
//
// # Outputs
//
//   - RuntimeConfig: The effective configuration.
//   - bool: True when the file was created by this call.
//   - error: Non-nil if the file cannot be read, parsed or validated.
func Load(path string) (RuntimeConfig, bool, error) {
	if path == "" {
		path = DefaultPath
	}
	path, err := homedir.Expand(path)
	if err != nil {
		return RuntimeConfig{}, false, fmt.Errorf("could not expand config path: %w", err)
	}

	created := false
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := createDefault(path); err != nil {
			return RuntimeConfig{}, false, err
		}
		created = true
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return RuntimeConfig{}, created, fmt.Errorf("failed to read the config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return RuntimeConfig{}, created, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	applyEnv(&cfg, os.LookupEnv)
	if err := expandPaths(&cfg); err != nil {
		return RuntimeConfig{}, created, err
	}
	if err := Validate(cfg); err != nil {
		return RuntimeConfig{}, created, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, created, nil
}

// Validate checks struct constraints.
func Validate(cfg RuntimeConfig) error {
	err := validate.Struct(cfg)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", strings.TrimPrefix(fe.Namespace(), "RuntimeConfig."), fe.Tag()))
	}
	return errors.New(strings.Join(msgs, "; "))
}

func applyEnv(cfg *RuntimeConfig, lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvServiceURL); ok && v != "" {
		cfg.Service.URL = strings.TrimRight(v, "/")
	}
	if v, ok := lookup(EnvResourcesDir); ok && v != "" {
		cfg.Runtime.ResourcesDir = v
	}
	if v, ok := lookup(EnvOTLPEndpoint); ok && v != "" {
		cfg.Telemetry.OTLPEndpoint = v
	}
	if v, ok := lookup(EnvAPIToken); ok && v != "" {
		cfg.Server.Token = v
	}
}

func expandPaths(cfg *RuntimeConfig) error {
	for _, p := range []*string{&cfg.Runtime.ResourcesDir, &cfg.Logging.Dir} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("could not expand %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

func createDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
