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
Package inspector runs a diagnostic script inside a candidate Python runtime
to learn its version and which analysis libraries import cleanly.

An unusable runtime is a valid answer, not an exception: a non-zero exit, a
timeout or garbage on stdout all produce a Report with OK=false, every flag
false and no version.

# Usage

	insp := inspector.New(prober, inspector.DefaultModules(), inspector.DefaultCoreModules())
	report := insp.Inspect(ctx, "/opt/app/resources/python/bin/python3")
	if insp.CoreReady(report.Libraries) {
	    // pandas, numpy and scipy are importable
	}
*/
package inspector

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/go-version"

	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/probe"
	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/util"
)

// diagnosticScript imports each module named on argv and prints a single
// JSON line. It must stay compatible with every Python 3 release the
// resolver might encounter on a system PATH.
const diagnosticScript = `
import importlib, json, platform, sys
out = {"version": platform.python_version(), "libraries": {}}
for name in sys.argv[1:]:
    try:
        importlib.import_module(name)
        out["libraries"][name] = True
    except Exception:
        out["libraries"][name] = False
sys.stdout.write(json.dumps(out) + "\n")
`

// DefaultModules returns the import names checked by default, in report order.
func DefaultModules() []string {
	return []string{"pandas", "numpy", "scipy", "matplotlib", "seaborn", "statsmodels", "sklearn", "plotly"}
}

// DefaultCoreModules returns the foundational modules that gate usability.
func DefaultCoreModules() []string {
	return []string{"pandas", "numpy", "scipy"}
}

// Report is the outcome of one inspection.
type Report struct {
	// Version is the interpreter version, empty if inspection failed.
	Version string `json:"version,omitempty"`

	// Libraries maps every configured module to whether it imported.
	Libraries map[string]bool `json:"libraries"`

	// OK is true when the script ran and its output parsed.
	OK bool `json:"ok"`
}

// Inspector runs the diagnostic script through a Prober.
type Inspector struct {
	prober  probe.Prober
	modules []string
	core    []string
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures an Inspector.
type Option func(*Inspector)

// WithTimeout bounds each inspection run.
func WithTimeout(d time.Duration) Option {
	return func(i *Inspector) { i.timeout = d }
}

// WithLogger sets the logger; slog.Default() otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(i *Inspector) { i.logger = l }
}

// New creates an Inspector checking modules, gated on core.
func New(p probe.Prober, modules, core []string, opts ...Option) *Inspector {
	i := &Inspector{
		prober:  p,
		modules: append([]string(nil), modules...),
		core:    append([]string(nil), core...),
		timeout: util.InspectTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Modules returns the configured module list.
func (i *Inspector) Modules() []string {
	return append([]string(nil), i.modules...)
}

// Inspect runs the diagnostic script inside runtimePath.
func (i *Inspector) Inspect(ctx context.Context, runtimePath string) Report {
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	args := append([]string{"-c", diagnosticScript}, i.modules...)
	res, err := i.prober.RunSync(ctx, runtimePath, args...)
	if err != nil {
		i.logger.Debug("runtime inspection could not run", "runtime", runtimePath, "error", err)
		return i.failed()
	}
	if !res.ExitSuccess {
		i.logger.Debug("runtime inspection exited non-zero",
			"runtime", runtimePath,
			"exit_code", res.ExitCode,
			"stderr", util.TailString(strings.TrimSpace(string(res.Stderr)), 512),
		)
		return i.failed()
	}

	report, ok := i.parse(res.Stdout)
	if !ok {
		i.logger.Debug("runtime inspection output malformed", "runtime", runtimePath)
		return i.failed()
	}
	return report
}

// CoreReady reports whether every foundational module is present.
func (i *Inspector) CoreReady(flags map[string]bool) bool {
	return CoreReady(flags, i.core)
}

// CoreReady reports whether every module in core is true in flags.
func CoreReady(flags map[string]bool, core []string) bool {
	if len(core) == 0 {
		return false
	}
	for _, m := range core {
		if !flags[m] {
			return false
		}
	}
	return true
}

// VersionSupported reports whether v is at least minimum.
// Unparseable input is treated as unsupported.
func VersionSupported(v, minimum string) bool {
	have, err := version.NewVersion(v)
	if err != nil {
		return false
	}
	want, err := version.NewVersion(minimum)
	if err != nil {
		return false
	}
	return have.GreaterThanOrEqual(want)
}

type scriptOutput struct {
	Version   string          `json:"version"`
	Libraries map[string]bool `json:"libraries"`
}

// parse reads the last non-empty stdout line; libraries occasionally print
// banners on import.
func (i *Inspector) parse(stdout []byte) (Report, bool) {
	lines := bytes.Split(bytes.TrimSpace(stdout), []byte("\n"))
	if len(lines) == 0 {
		return Report{}, false
	}
	last := bytes.TrimSpace(lines[len(lines)-1])

	var out scriptOutput
	if err := json.Unmarshal(last, &out); err != nil || out.Version == "" {
		return Report{}, false
	}

	flags := make(map[string]bool, len(i.modules))
	for _, m := range i.modules {
		flags[m] = out.Libraries[m]
	}
	return Report{Version: out.Version, Libraries: flags, OK: true}, true
}

func (i *Inspector) failed() Report {
	flags := make(map[string]bool, len(i.modules))
	for _, m := range i.modules {
		flags[m] = false
	}
	return Report{Libraries: flags}
}
