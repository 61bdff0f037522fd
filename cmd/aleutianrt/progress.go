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
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/pipeline"
)

// installReporter renders an installation run.
//
// Event is called from the goroutine draining the run. Bytes is called from
// the pipeline goroutine while the runtime archive downloads.
type installReporter interface {
	Event(ev pipeline.ProgressEvent)
	Bytes(done, total int64)
	Close()
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// newReporter picks bars on a terminal, NDJSON under --json and plain
// lines otherwise.
func newReporter(w *os.File) installReporter {
	switch {
	case jsonOutput:
		return &jsonReporter{w: w}
	case isTerminal(w):
		return newBarReporter(w)
	default:
		return &lineReporter{w: w, lastDecile: -1}
	}
}

// -----------------------------------------------------------------------------
// Bars
// -----------------------------------------------------------------------------

type barReporter struct {
	progress *mpb.Progress
	steps    *mpb.Bar
	message  atomic.Value

	mu       sync.Mutex
	download *mpb.Bar
}

func newBarReporter(w io.Writer) *barReporter {
	r := &barReporter{
		progress: mpb.New(
			mpb.WithOutput(w),
			mpb.WithWidth(40),
			mpb.WithRefreshRate(180*time.Millisecond),
		),
	}
	r.message.Store("Starting...")

	r.steps = r.progress.AddBar(100,
		mpb.PrependDecorators(
			decor.Name("Python runtime", decor.WC{W: 16, C: decor.DindentRight}),
			decor.Percentage(decor.WC{W: 5}),
		),
		mpb.AppendDecorators(
			decor.Any(func(decor.Statistics) string {
				return r.message.Load().(string)
			}),
		),
	)
	return r
}

func (r *barReporter) Event(ev pipeline.ProgressEvent) {
	r.message.Store(ev.Message)
	if ev.Failed() {
		r.steps.Abort(false)
		return
	}
	r.steps.SetCurrent(int64(ev.Progress))
}

func (r *barReporter) Bytes(done, total int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.download == nil {
		r.download = r.progress.AddBar(total,
			mpb.PrependDecorators(
				decor.Name("  archive", decor.WC{W: 16, C: decor.DindentRight}),
				decor.CountersKibiByte("% .1f / % .1f"),
			),
			mpb.AppendDecorators(
				decor.AverageSpeed(decor.SizeB1024(0), "% .1f"),
			),
		)
	}
	r.download.SetCurrent(done)
	if total > 0 && done >= total {
		r.download.SetTotal(total, true)
	}
}

// Close aborts unfinished bars so Wait returns.
func (r *barReporter) Close() {
	r.mu.Lock()
	if r.download != nil && !r.download.Completed() {
		r.download.Abort(false)
	}
	r.mu.Unlock()

	if !r.steps.Completed() {
		r.steps.Abort(false)
	}
	r.progress.Wait()
}

// -----------------------------------------------------------------------------
// Plain lines
// -----------------------------------------------------------------------------

type lineReporter struct {
	w io.Writer

	mu         sync.Mutex
	lastDecile int64
}

func (r *lineReporter) Event(ev pipeline.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ev.Failed() {
		fmt.Fprintf(r.w, "[%3d%%] %s failed: %s\n", ev.Progress, ev.Step, ev.Message)
		return
	}
	fmt.Fprintf(r.w, "[%3d%%] %s\n", ev.Progress, ev.Message)
}

func (r *lineReporter) Bytes(done, total int64) {
	if total <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	decile := done * 10 / total
	if decile == r.lastDecile {
		return
	}
	r.lastDecile = decile
	fmt.Fprintf(r.w, "       downloaded %d%% (%.1f of %.1f MiB)\n",
		decile*10, float64(done)/(1<<20), float64(total)/(1<<20))
}

func (r *lineReporter) Close() {}

// -----------------------------------------------------------------------------
// JSON
// -----------------------------------------------------------------------------

type jsonReporter struct {
	w  io.Writer
	mu sync.Mutex
}

func (r *jsonReporter) Event(ev pipeline.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	writeJSONLine(r.w, ev)
}

// Bytes is not reported in JSON mode; the event stream carries step
// progress only.
func (r *jsonReporter) Bytes(int64, int64) {}

func (r *jsonReporter) Close() {}
