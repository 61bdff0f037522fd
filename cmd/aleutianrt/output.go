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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/catalog"
	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/failure"
	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/hardware"
	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/pipeline"
	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/resolver"
)

// Deep ocean palette shared with the rest of the Aleutian tooling.
var (
	colorTeal    = lipgloss.Color("#2CD7C7")
	colorPrimary = lipgloss.Color("#20B9B4")
	colorBorder  = lipgloss.Color("#16858E")
	colorWarning = lipgloss.Color("#F4D03F")
	colorError   = lipgloss.Color("#E74C3C")
	colorMuted   = lipgloss.Color("#2C4A54")
)

var styles = struct {
	Title    lipgloss.Style
	Label    lipgloss.Style
	Muted    lipgloss.Style
	OK       lipgloss.Style
	Warning  lipgloss.Style
	Error    lipgloss.Style
	Box      lipgloss.Style
	ErrorBox lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(colorTeal),
	Label:   lipgloss.NewStyle().Foreground(colorPrimary).Width(20),
	Muted:   lipgloss.NewStyle().Foreground(colorMuted),
	OK:      lipgloss.NewStyle().Foreground(colorTeal),
	Warning: lipgloss.NewStyle().Foreground(colorWarning),
	Error:   lipgloss.NewStyle().Foreground(colorError).Bold(true),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorBorder).
		Padding(0, 1),
	ErrorBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorError).
		Padding(0, 1),
}

var stdout io.Writer = os.Stdout

// printJSON writes v as indented JSON.
func printJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// emit prints v as JSON under --json and the rendered text otherwise.
func emit(v any, render func() string) error {
	if jsonOutput {
		return printJSON(v)
	}
	_, err := fmt.Fprintln(stdout, render())
	return err
}

func row(label, value string) string {
	return styles.Label.Render(label) + value
}

func yesNo(b bool) string {
	if b {
		return styles.OK.Render("yes")
	}
	return styles.Muted.Render("no")
}

// -----------------------------------------------------------------------------
// Renderers
// -----------------------------------------------------------------------------

func renderStatus(s resolver.DependencyStatus) string {
	state := styles.OK.Render("ready")
	switch {
	case s.Degraded:
		state = styles.Warning.Render("found, setup required")
	case s.SetupRequired:
		state = styles.Error.Render("setup required")
	}

	lines := []string{
		styles.Title.Render(s.Kind.String()),
		row("state", state),
		row("origin", s.Origin.String()),
	}
	if s.ExecutablePath != "" {
		lines = append(lines, row("executable", s.ExecutablePath))
	}
	if s.Version != "" {
		lines = append(lines, row("version", s.Version))
	}

	flags := make([]string, 0, len(s.CapabilityFlags))
	for name := range s.CapabilityFlags {
		flags = append(flags, name)
	}
	sort.Strings(flags)
	for _, name := range flags {
		lines = append(lines, row("  "+name, yesNo(s.CapabilityFlags[name])))
	}
	return styles.Box.Render(strings.Join(lines, "\n"))
}

func renderStatuses(all map[resolver.Kind]resolver.DependencyStatus) string {
	parts := make([]string, 0, len(all))
	for _, k := range resolver.Kinds() {
		if s, ok := all[k]; ok {
			parts = append(parts, renderStatus(s))
		}
	}
	return strings.Join(parts, "\n")
}

func renderProfile(p hardware.Profile) string {
	return styles.Box.Render(strings.Join([]string{
		styles.Title.Render("Hardware"),
		row("os", p.OS),
		row("cpus", fmt.Sprintf("%d", p.CPUCount)),
		row("memory", fmt.Sprintf("%.1f GB total, %.1f GB available", p.TotalMemoryGB, p.AvailableMemoryGB)),
		row("can run mini", yesNo(p.CanRunMini)),
		row("can run 7b", yesNo(p.CanRun7B)),
		row("recommended", styles.OK.Render(p.RecommendedModel)),
	}, "\n"))
}

func renderCatalog(entries []catalog.Entry, recommended string) string {
	lines := []string{styles.Title.Render("Models")}
	for _, e := range entries {
		name := e.Name
		if e.Name == recommended {
			name = styles.OK.Render(name + " *")
		}
		lines = append(lines, fmt.Sprintf("%s %5.1f GB  needs %4.1f GB RAM  %s",
			lipgloss.NewStyle().Width(18).Render(name), e.SizeGB, e.RecommendedRAMGB, styles.Muted.Render(e.Description)))
	}
	if recommended != "" {
		lines = append(lines, styles.Muted.Render("* recommended for this machine"))
	}
	return strings.Join(lines, "\n")
}

func renderModels(names []string) string {
	if len(names) == 0 {
		return styles.Muted.Render("No models installed. Run: aleutianrt models pull " + catalog.TinyLlama)
	}
	return strings.Join(names, "\n")
}

func renderResult(r pipeline.Result) string {
	lines := []string{
		styles.OK.Render("Python runtime installed"),
		row("executable", r.Status.ExecutablePath),
		row("version", r.Status.Version),
	}
	for _, f := range r.Partial.Required {
		lines = append(lines, styles.Warning.Render("required library failed: ")+f.Library)
	}
	for _, f := range r.Partial.Optional {
		lines = append(lines, styles.Muted.Render("optional library failed: ")+f.Library)
	}
	return styles.Box.Render(strings.Join(lines, "\n"))
}

// renderError formats err for stderr, including the failure kind, step and
// remediation when err carries them.
func renderError(err error) string {
	var fe *failure.Error
	if !errors.As(err, &fe) {
		return styles.Error.Render("Error: ") + err.Error()
	}

	lines := []string{styles.Error.Render(fe.Message)}
	if fe.Step != "" {
		lines = append(lines, row("step", fe.Step))
	}
	lines = append(lines, row("kind", fe.Kind.String()))
	if fe.Detail != "" {
		lines = append(lines, row("detail", fe.Detail))
	} else if fe.Err != nil {
		lines = append(lines, row("detail", fe.Err.Error()))
	}
	if fe.Remediation != "" {
		lines = append(lines, row("fix", styles.OK.Render(fe.Remediation)))
	}
	return styles.ErrorBox.Render(strings.Join(lines, "\n"))
}
