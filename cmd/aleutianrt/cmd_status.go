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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/resolver"
)

const watchDebounce = 500 * time.Millisecond

func runHardware(cmd *cobra.Command, _ []string) error {
	profile, err := app.service().HardwareProfile(cmd.Context())
	if err != nil {
		return err
	}
	return emit(profile, func() string { return renderProfile(profile) })
}

func runCatalog(cmd *cobra.Command, _ []string) error {
	svc := app.service()
	entries := svc.ModelCatalog()

	recommended := ""
	if profile, err := svc.HardwareProfile(cmd.Context()); err == nil {
		recommended = profile.RecommendedModel
	}
	return emit(entries, func() string { return renderCatalog(entries, recommended) })
}

func runStatus(cmd *cobra.Command, args []string) error {
	var kinds []resolver.Kind
	if len(args) == 1 {
		k, err := resolver.ParseKind(args[0])
		if err != nil {
			return err
		}
		kinds = []resolver.Kind{k}
	}

	show := func(ctx context.Context) error {
		svc := app.service()
		if len(kinds) == 1 {
			s := svc.ResolveDependency(ctx, kinds[0])
			return emit(s, func() string { return renderStatus(s) })
		}
		all := svc.ResolveAll(ctx)
		return emit(all, func() string { return renderStatuses(all) })
	}

	if err := show(cmd.Context()); err != nil {
		return err
	}
	if !watchStatus {
		return nil
	}
	return watchResources(cmd.Context(), app.cfg.Runtime.ResourcesDir, show)
}

// -----------------------------------------------------------------------------
// Watch
// -----------------------------------------------------------------------------

// watchResources calls onChange after each burst of filesystem activity
// under dir, until ctx is cancelled.
//
// # Description
//
// The resources directory and its immediate subdirectories are watched, so
// an extracted runtime or a copied service binary triggers a re-resolve.
// Directories created while watching are added. If dir does not exist yet,
// its nearest existing ancestor is watched instead and dir is picked up once
// created.
//
// # Limitations
//
// Changes deeper than one level below dir (for example site-packages) are
// not observed.
func watchResources(ctx context.Context, dir string, onChange func(context.Context) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	for _, path := range watchTargets(dir) {
		if err := watcher.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
	}
	app.logger.Debug("watching resources", "dir", dir, "paths", watcher.WatchList())

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) && relevant(dir, ev.Name) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = watcher.Add(ev.Name)
				}
			}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
			} else {
				timer.Reset(watchDebounce)
			}
			fire = timer.C

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			app.logger.Warn("resource watcher error", "error", err)

		case <-fire:
			fire = nil
			if err := onChange(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
		}
	}
}

// watchTargets returns dir and its existing subdirectories, or the nearest
// existing ancestor when dir is missing.
func watchTargets(dir string) []string {
	dir = filepath.Clean(dir)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		for parent := filepath.Dir(dir); ; parent = filepath.Dir(parent) {
			if pi, err := os.Stat(parent); err == nil && pi.IsDir() {
				return []string{parent}
			}
			if parent == filepath.Dir(parent) {
				return nil
			}
		}
	}

	targets := []string{dir}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return targets
	}
	for _, e := range entries {
		if e.IsDir() {
			targets = append(targets, filepath.Join(dir, e.Name()))
		}
	}
	return targets
}

// relevant reports whether a newly created path should be watched: dir
// itself, a directory directly under it, or an ancestor on the way to it.
func relevant(dir, path string) bool {
	dir = filepath.Clean(dir)
	path = filepath.Clean(path)
	if path == dir || filepath.Dir(path) == dir {
		return true
	}
	return strings.HasPrefix(dir, path+string(filepath.Separator))
}
