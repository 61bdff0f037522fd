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
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/config"
	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/server"
	"github.com/AleutianAI/AleutianRuntime/pkg/extensions"
)

func runServe(cmd *cobra.Command, _ []string) error {
	addr := serveAddr
	if addr == "" {
		addr = app.cfg.Server.Addr
	}

	srv := server.New(app.service(), server.Options{
		ServiceName: "aleutian-runtime",
		Gatherer:    app.telemetry.Registry,
		Logger:      app.logger.Slog(),
		Extensions:  serverExtensions(app.cfg.Server, app.logger.Slog()),
	})
	return srv.ListenAndServe(cmd.Context(), addr)
}

// serverExtensions enables bearer auth when a token is configured. Mutating
// requests are always audited to the log.
func serverExtensions(cfg config.ServerConfig, logger *slog.Logger) extensions.Options {
	opts := extensions.DefaultOptions().WithAudit(extensions.NewSlogAuditLogger(logger))
	if cfg.Token != "" {
		opts = opts.WithAuth(extensions.NewTokenAuthProvider(cfg.Token))
	} else {
		logger.Info("API authentication disabled; set server.token or " + config.EnvAPIToken + " to require a bearer token")
	}
	return opts
}
