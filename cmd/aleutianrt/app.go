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
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/config"
	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/provision"
	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/telemetry"
	"github.com/AleutianAI/AleutianRuntime/pkg/logging"
)

// appState is built once per invocation by the root PersistentPreRunE.
type appState struct {
	cfg       config.RuntimeConfig
	logger    *logging.Logger
	telemetry *telemetry.Providers
}

var app *appState

// setup loads configuration, then wires logging and telemetry.
func setup(cmd *cobra.Command, _ []string) error {
	cfg, created, err := config.Load(configPath)
	if err != nil {
		return err
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: "aleutianrt",
		JSON:    cfg.Logging.Format == "json",
		Quiet:   !verbose,
	})
	slog.SetDefault(logger.Slog())
	if created {
		logger.Info("wrote default configuration", "path", configPath)
	}

	providers, err := telemetry.Setup(cmd.Context(), telemetry.Config{
		ServiceName:  "aleutian-runtime",
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		StdoutTraces: cfg.Telemetry.StdoutTraces,
	})
	if err != nil {
		_ = logger.Close()
		return fmt.Errorf("telemetry: %w", err)
	}

	app = &appState{cfg: cfg, logger: logger, telemetry: providers}
	return nil
}

// teardown flushes telemetry and closes the log file.
func teardown(*cobra.Command, []string) {
	if app == nil {
		return
	}
	if err := app.telemetry.Shutdown(context.Background()); err != nil {
		app.logger.Warn("telemetry shutdown failed", "error", err)
	}
	_ = app.logger.Close()
}

// service builds the provisioning facade from the loaded configuration.
func (a *appState) service(opts ...provision.Option) *provision.Service {
	base := []provision.Option{
		provision.WithLogger(a.logger.Slog()),
		provision.WithMetrics(a.telemetry.Metrics),
	}
	return provision.New(serviceConfig(a.cfg, runtime.GOOS, runtime.GOARCH), append(base, opts...)...)
}

// serviceConfig maps the on-disk configuration onto provision.Config.
func serviceConfig(cfg config.RuntimeConfig, goos, goarch string) provision.Config {
	plan := cfg.Plan(goos, goarch)
	return provision.Config{
		ServiceURL:        cfg.Service.URL,
		ResourcesDir:      cfg.Runtime.ResourcesDir,
		ServiceName:       cfg.Service.Name,
		ServiceBinary:     cfg.Service.Binary,
		PullMode:          cfg.Models.PullMode,
		Timeouts:          cfg.Timeouts,
		MinRuntimeVersion: cfg.Runtime.MinVersion,
		Modules:           cfg.Libraries.Inspect,
		CoreModules:       cfg.Libraries.Core,
		Plan:              &plan,
	}
}
