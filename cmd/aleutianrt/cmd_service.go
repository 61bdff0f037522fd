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
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/ollama"
	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/provision"
	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/resolver"
)

func runServiceStart(cmd *cobra.Command, _ []string) error {
	svc := app.service()

	var msg provision.Message
	err := withSpinner("Starting "+svc.ServiceName(), func() error {
		var err error
		msg, err = svc.EnsureServiceRunning(cmd.Context())
		return err
	})
	if err != nil {
		return err
	}
	return emit(msg, func() string { return styles.OK.Render(msg.Text) })
}

func runServiceStatus(cmd *cobra.Command, _ []string) error {
	svc := app.service()
	healthy := svc.ServiceHealthy(cmd.Context())
	status := svc.ResolveDependency(cmd.Context(), resolver.InferenceService)

	out := struct {
		Healthy bool                      `json:"healthy"`
		Status  resolver.DependencyStatus `json:"status"`
	}{healthy, status}

	return emit(out, func() string {
		line := styles.OK.Render(svc.ServiceName() + " is responding")
		if !healthy {
			line = styles.Warning.Render(svc.ServiceName() + " is not responding")
		}
		return line + "\n" + renderStatus(status)
	})
}

func runServicePrepare(cmd *cobra.Command, _ []string) error {
	msg, err := app.service().PrepareBundledService(cmd.Context())
	if err != nil {
		return err
	}
	return emit(msg, func() string { return styles.OK.Render(msg.Text) })
}

func runModelsList(cmd *cobra.Command, _ []string) error {
	names, err := app.service().ListInstalledModels(cmd.Context())
	if err != nil {
		return err
	}
	if names == nil {
		names = []string{}
	}
	return emit(names, func() string { return renderModels(names) })
}

func runModelsPull(cmd *cobra.Command, args []string) error {
	var opts []provision.Option
	if !jsonOutput {
		opts = append(opts, provision.WithPullProgress(pullPrinter(os.Stderr)))
	}

	msg, err := app.service(opts...).DownloadModel(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return emit(msg, func() string { return styles.OK.Render(msg.Text) })
}

// pullPrinter prints one line per status change and per ten percent of a
// layer download.
func pullPrinter(w io.Writer) ollama.PullProgressFunc {
	lastStatus := ""
	lastDecile := int64(-1)
	return func(p ollama.PullProgress) {
		if p.Total > 0 {
			decile := p.Completed * 10 / p.Total
			if p.Status == lastStatus && decile == lastDecile {
				return
			}
			lastStatus, lastDecile = p.Status, decile
			fmt.Fprintf(w, "%s %3d%%\n", styles.Muted.Render(p.Status), decile*10)
			return
		}
		if p.Status != lastStatus {
			lastStatus, lastDecile = p.Status, -1
			fmt.Fprintln(w, styles.Muted.Render(p.Status))
		}
	}
}

func runQuery(cmd *cobra.Command, args []string) error {
	res, err := app.service().QueryService(cmd.Context(), args[0], strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	return emit(res, func() string { return res.Text })
}
