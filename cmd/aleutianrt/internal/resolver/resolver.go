// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package resolver decides, per call, where each dependency comes from.

# Algorithm

Origins are walked in preference order (bundled, then system). For each,
the first existing candidate is probed:

  - Inference service: a located binary is usable.
  - Runtime environment: a located interpreter is usable only if the
    inspector reports every foundational library importable.

The first usable origin wins. When a runtime is found but unusable, the
best such origin is reported with SetupRequired=true and Degraded=true
instead of OriginNone, so the frontend can say "Python found, libraries
missing" rather than "no Python".

Nothing is cached. Resolving twice with no change on disk returns the same
status.
*/
package resolver

import (
	"bytes"
	"context"
	"log/slog"
	"time"

	"github.com/hashicorp/go-version"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/health"
	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/inspector"
	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/probe"
	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/util"
)

// RuntimeInspector is the subset of *inspector.Inspector the resolver needs.
type RuntimeInspector interface {
	Inspect(ctx context.Context, runtimePath string) inspector.Report
	CoreReady(flags map[string]bool) bool
}

// Config holds discovery inputs.
type Config struct {
	ServiceCandidates probe.Candidates
	RuntimeCandidates probe.Candidates

	// MinRuntimeVersion feeds the version_supported flag. It does not gate
	// usability.
	MinRuntimeVersion string

	// StatusTimeout bounds the service liveness probe.
	StatusTimeout time.Duration
}

// Binary is a located service executable.
type Binary struct {
	Path   string
	Origin Origin
}

// Resolver composes the probe, the health checker and the inspector.
type Resolver struct {
	prober    probe.Prober
	inspector RuntimeInspector
	health    health.Prober
	cfg       Config
	logger    *slog.Logger
}

// New creates a Resolver. A nil logger means slog.Default().
func New(p probe.Prober, insp RuntimeInspector, h health.Prober, cfg Config, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.StatusTimeout <= 0 {
		cfg.StatusTimeout = util.StatusTimeout
	}
	if cfg.MinRuntimeVersion == "" {
		cfg.MinRuntimeVersion = "3.9"
	}
	return &Resolver{prober: p, inspector: insp, health: h, cfg: cfg, logger: logger}
}

// Resolve computes the current status of one dependency kind.
func (r *Resolver) Resolve(ctx context.Context, kind Kind) DependencyStatus {
	switch kind {
	case InferenceService:
		return r.resolveService(ctx)
	default:
		return r.resolveRuntime(ctx)
	}
}

// ResolveAll resolves both kinds concurrently.
func (r *Resolver) ResolveAll(ctx context.Context) map[Kind]DependencyStatus {
	kinds := Kinds()
	results := make([]DependencyStatus, len(kinds))

	var g errgroup.Group
	for i, k := range kinds {
		g.Go(func() error {
			results[i] = r.Resolve(ctx, k)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[Kind]DependencyStatus, len(kinds))
	for i, k := range kinds {
		out[k] = results[i]
	}
	return out
}

// ServiceBinaries returns every located service binary, best origin first.
// At most one binary per origin is returned.
func (r *Resolver) ServiceBinaries() []Binary {
	var out []Binary
	for _, origin := range PreferenceOrder() {
		if path, ok := r.prober.Locate(r.candidates(InferenceService, origin)); ok {
			out = append(out, Binary{Path: path, Origin: origin})
		}
	}
	return out
}

func (r *Resolver) candidates(kind Kind, origin Origin) []string {
	c := r.cfg.RuntimeCandidates
	if kind == InferenceService {
		c = r.cfg.ServiceCandidates
	}
	if origin == OriginBundled {
		return c.Bundled
	}
	return c.System
}

// -----------------------------------------------------------------------------
// Inference service
// -----------------------------------------------------------------------------

func (r *Resolver) resolveService(ctx context.Context) DependencyStatus {
	responding := r.health.Check(ctx, r.cfg.StatusTimeout)

	for _, bin := range r.ServiceBinaries() {
		return DependencyStatus{
			Kind:           InferenceService,
			Available:      true,
			ExecutablePath: bin.Path,
			Version:        r.serviceVersion(ctx, bin.Path),
			Origin:         bin.Origin,
			CapabilityFlags: map[string]bool{
				FlagBinaryPresent:     true,
				FlagServiceResponding: responding,
			},
		}
	}

	if responding {
		// Managed outside this application, e.g. a system service or a
		// container. Usable, but we cannot start or pull through a binary.
		return DependencyStatus{
			Kind:      InferenceService,
			Available: true,
			Origin:    OriginSystem,
			CapabilityFlags: map[string]bool{
				FlagBinaryPresent:     false,
				FlagServiceResponding: true,
			},
		}
	}

	return DependencyStatus{
		Kind:   InferenceService,
		Origin: OriginNone,
		CapabilityFlags: map[string]bool{
			FlagBinaryPresent:     false,
			FlagServiceResponding: false,
		},
		SetupRequired: true,
	}
}

// serviceVersion runs `<bin> --version` and returns the last token that
// parses as a version. Output differs across releases, e.g.
// "ollama version is 0.5.7" or "Warning: client version is 0.5.7".
func (r *Resolver) serviceVersion(ctx context.Context, path string) string {
	ctx, cancel := context.WithTimeout(ctx, util.VersionTimeout)
	defer cancel()

	res, err := r.prober.RunSync(ctx, path, "--version")
	if err != nil || res == nil {
		return ""
	}
	return lastVersionToken(append(append([]byte{}, res.Stdout...), res.Stderr...))
}

func lastVersionToken(out []byte) string {
	found := ""
	for _, field := range bytes.Fields(out) {
		tok := string(bytes.Trim(field, ",;()"))
		if !bytes.ContainsRune(field, '.') {
			continue
		}
		if v, err := version.NewVersion(tok); err == nil {
			found = v.Original()
		}
	}
	return found
}

// -----------------------------------------------------------------------------
// Runtime environment
// -----------------------------------------------------------------------------

func (r *Resolver) resolveRuntime(ctx context.Context) DependencyStatus {
	var degraded *DependencyStatus

	for _, origin := range PreferenceOrder() {
		path, ok := r.prober.Locate(r.candidates(RuntimeEnvironment, origin))
		if !ok {
			continue
		}

		status := r.runtimeStatus(ctx, origin, path)
		if !status.SetupRequired {
			return status
		}

		r.logger.Debug("runtime found but not usable",
			"origin", origin.String(),
			"path", path,
			"version", status.Version,
			"core_libraries", status.CapabilityFlags[FlagCoreLibraries],
		)
		if degraded == nil {
			status.Degraded = true
			degraded = &status
		}
	}

	if degraded != nil {
		return *degraded
	}

	return DependencyStatus{
		Kind:   RuntimeEnvironment,
		Origin: OriginNone,
		CapabilityFlags: map[string]bool{
			FlagCoreLibraries:    false,
			FlagVersionSupported: false,
		},
		SetupRequired: true,
	}
}

func (r *Resolver) runtimeStatus(ctx context.Context, origin Origin, path string) DependencyStatus {
	report := r.inspector.Inspect(ctx, path)

	flags := make(map[string]bool, len(report.Libraries)+2)
	for name, ok := range report.Libraries {
		flags[name] = ok
	}
	core := report.OK && r.inspector.CoreReady(report.Libraries)
	flags[FlagCoreLibraries] = core
	flags[FlagVersionSupported] = report.OK && inspector.VersionSupported(report.Version, r.cfg.MinRuntimeVersion)

	return DependencyStatus{
		Kind:            RuntimeEnvironment,
		Available:       report.OK,
		ExecutablePath:  path,
		Version:         report.Version,
		Origin:          origin,
		CapabilityFlags: flags,
		SetupRequired:   !report.OK || !core,
	}
}
