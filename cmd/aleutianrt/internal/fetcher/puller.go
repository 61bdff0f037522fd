// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/failure"
	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/ollama"
	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/probe"
	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/resolver"
	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/util"
)

// Pull modes accepted by NewModelPuller.
const (
	PullModeCLI = "cli"
	PullModeAPI = "api"
)

// ModelPuller installs a model into the inference service.
type ModelPuller interface {
	PullModel(ctx context.Context, name string) error
}

// BinarySource lists service binaries, best first.
type BinarySource interface {
	ServiceBinaries() []resolver.Binary
}

// PullSuccessMessage is the user-facing text for a finished pull.
func PullSuccessMessage(name string) string {
	return fmt.Sprintf("Model %s downloaded successfully", name)
}

func pullFailureMessage(name, service string) string {
	return fmt.Sprintf("Failed to download model %s. Please ensure %s is running.", name, service)
}

// -----------------------------------------------------------------------------
// CommandPuller
// -----------------------------------------------------------------------------

// CommandPuller runs `<bin> pull <name>` against each located binary in
// turn until one exits 0.
type CommandPuller struct {
	Prober      probe.Prober
	Binaries    BinarySource
	ServiceName string
	Logger      *slog.Logger
}

// PullModel implements ModelPuller.
func (p *CommandPuller) PullModel(ctx context.Context, name string) error {
	const op = "fetcher.CommandPuller.PullModel"
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	bins := p.Binaries.ServiceBinaries()
	if len(bins) == 0 {
		e := failure.New(failure.KindNotFound, op, pullFailureMessage(name, p.ServiceName))
		e.Detail = "no service binary was found"
		e.Remediation = "Install the inference service or reinstall the application"
		return e
	}

	var lastErr error
	for _, bin := range bins {
		res, err := p.Prober.RunSync(ctx, bin.Path, "pull", name)
		if ctx.Err() != nil {
			return failure.Wrap(ctx.Err(), failure.KindCancelled, op, "Model download cancelled")
		}
		if err != nil {
			lastErr = err
			logger.Warn("model pull could not start", "binary", bin.Path, "error", err)
			continue
		}
		if res.ExitSuccess {
			return nil
		}
		lastErr = util.NewCommandError(util.CommandLine(bin.Path, "pull", name), res.ExitCode,
			strings.TrimSpace(string(res.Stderr)), nil)
		logger.Warn("model pull failed", "binary", bin.Path, "exit_code", res.ExitCode)
	}

	return failure.Wrap(lastErr, failure.KindExternalProcessFailure, op, pullFailureMessage(name, p.ServiceName))
}

// -----------------------------------------------------------------------------
// APIPuller
// -----------------------------------------------------------------------------

// APIPuller streams the pull through the service's HTTP API.
type APIPuller struct {
	Client      *ollama.Client
	ServiceName string
	Progress    ollama.PullProgressFunc
}

// PullModel implements ModelPuller.
func (p *APIPuller) PullModel(ctx context.Context, name string) error {
	if err := p.Client.Pull(ctx, name, p.Progress); err != nil {
		if failure.IsKind(err, failure.KindNetworkFailure) {
			return failure.Wrap(err, failure.KindNetworkFailure, "fetcher.APIPuller.PullModel",
				pullFailureMessage(name, p.ServiceName))
		}
		return err
	}
	return nil
}

// NewModelPuller picks an implementation by mode. Unknown modes fall back
// to the command puller.
func NewModelPuller(mode string, p probe.Prober, bins BinarySource, client *ollama.Client, serviceName string, logger *slog.Logger) ModelPuller {
	if mode == PullModeAPI {
		return &APIPuller{Client: client, ServiceName: serviceName}
	}
	return &CommandPuller{Prober: p, Binaries: bins, ServiceName: serviceName, Logger: logger}
}
