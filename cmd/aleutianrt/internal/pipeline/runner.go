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
Package pipeline installs the Python runtime and its analysis libraries
into a target directory, reporting progress as a stream of events.

# Usage

	run, err := runner.Start(ctx, pipeline.Options{TargetDir: layout.RuntimeDir()})
	if err != nil {
	    return err // failure.KindLockHeld when another run owns the directory
	}
	for ev := range run.Events() {
	    fmt.Printf("[%3d%%] %s\n", ev.Progress, ev.Message)
	}
	result, err := run.Wait()

# Failure policy

Every step is fatal except the two library-install steps, which record
each failed library in Result.Partial and continue. Verification then
decides: the run fails only if a foundational library is missing.

Nothing is rolled back on failure or cancellation. Re-running resumes an
interrupted download and reinstalls libraries idempotently.
*/
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/failure"
	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/fetcher"
	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/inspector"
	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/probe"
	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/resolver"
	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/telemetry"
	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/util"
)

// -----------------------------------------------------------------------------
// Dependencies
// -----------------------------------------------------------------------------

// Downloader fetches a URL to a file. *fetcher.Fetcher satisfies it.
type Downloader interface {
	Fetch(ctx context.Context, url, dest string, progress fetcher.ProgressFunc) error
}

// RuntimeInspector re-inspects the installed interpreter.
type RuntimeInspector interface {
	Inspect(ctx context.Context, runtimePath string) inspector.Report
	CoreReady(flags map[string]bool) bool
}

// StatusFunc resolves the runtime after a successful run.
type StatusFunc func(ctx context.Context) resolver.DependencyStatus

// Deps are the collaborators a Runner drives.
type Deps struct {
	Downloader Downloader
	Prober     probe.Prober
	Inspector  RuntimeInspector
	Status     StatusFunc
	Layout     probe.Layout
	Metrics    *telemetry.Metrics
	Logger     *slog.Logger
}

// Options describe one run.
type Options struct {
	// TargetDir receives the runtime. Defaults to Layout.RuntimeDir().
	TargetDir string

	// Plan overrides the platform default.
	Plan *Plan

	// OnDownloadProgress receives throttled byte counts during downloads.
	OnDownloadProgress fetcher.ProgressFunc
}

// Result is the outcome of a successful run.
type Result struct {
	RunID   string                    `json:"run_id"`
	Status  resolver.DependencyStatus `json:"status"`
	Partial PartialInstallation       `json:"partial"`
}

// -----------------------------------------------------------------------------
// Run
// -----------------------------------------------------------------------------

// Run is an in-flight installation.
type Run struct {
	ID string

	events chan ProgressEvent
	done   chan struct{}
	result Result
	err    error
}

// Events delivers the run's events and is closed after the terminal one.
// The channel is buffered for the whole run, so a caller that stops
// reading never stalls the installation.
func (r *Run) Events() <-chan ProgressEvent {
	return r.events
}

// Done is closed when the run has finished.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run finishes.
func (r *Run) Wait() (Result, error) {
	<-r.done
	return r.result, r.err
}

// -----------------------------------------------------------------------------
// Runner
// -----------------------------------------------------------------------------

// Runner starts installation runs.
type Runner struct {
	deps Deps
}

// NewRunner creates a Runner.
func NewRunner(deps Deps) *Runner {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Status == nil {
		deps.Status = func(context.Context) resolver.DependencyStatus {
			return resolver.DependencyStatus{Kind: resolver.RuntimeEnvironment}
		}
	}
	return &Runner{deps: deps}
}

// Start claims the target directory and begins a run in the background.
// A second Start on the same directory fails with failure.KindLockHeld and
// produces no events.
func (r *Runner) Start(ctx context.Context, opts Options) (*Run, error) {
	const op = "pipeline.Start"

	target := opts.TargetDir
	if target == "" {
		target = r.deps.Layout.RuntimeDir()
	}
	plan := DefaultPlan(r.goos(), runtime.GOARCH)
	if opts.Plan != nil {
		plan = *opts.Plan
	}

	release, err := lockTarget(target)
	if errors.Is(err, ErrLockHeld) {
		e := failure.Wrap(err, failure.KindLockHeld, op, "Runtime installation already in progress")
		e.Remediation = "Wait for the running installation to finish"
		return nil, e
	}
	if err != nil {
		return nil, failure.Wrap(err, failure.KindUnknown, op, "Failed to lock the runtime directory")
	}

	run := &Run{
		ID:     uuid.NewString(),
		events: make(chan ProgressEvent, len(stepNames)+1),
		done:   make(chan struct{}),
	}
	st := &runState{
		Runner:   r,
		run:      run,
		target:   target,
		plan:     plan,
		python:   r.deps.Layout.RuntimeExecutable(target),
		progress: opts.OnDownloadProgress,
		logger:   r.deps.Logger.With("run_id", run.ID, "target", target),
		release:  release,
	}

	util.SafeGo(func() {
		st.execute(ctx)
	}, func(p util.PanicInfo) {
		st.logger.Error("pipeline panicked", "panic", p.Value, "stack", p.Stack)
		recordRun(context.Background(), failure.KindUnknown.String())
		st.finish(Result{RunID: run.ID, Partial: st.partial}, failure.Wrap(p, failure.KindUnknown, op, "Installation crashed"))
	})
	return run, nil
}

// Run starts a run, forwards each event to onEvent, and waits for it.
func (r *Runner) Run(ctx context.Context, opts Options, onEvent func(ProgressEvent)) (Result, error) {
	run, err := r.Start(ctx, opts)
	if err != nil {
		return Result{}, err
	}
	for ev := range run.Events() {
		if onEvent != nil {
			onEvent(ev)
		}
	}
	return run.Wait()
}

func (r *Runner) goos() string {
	if r.deps.Layout.GOOS != "" {
		return r.deps.Layout.GOOS
	}
	return runtime.GOOS
}

// -----------------------------------------------------------------------------
// Execution
// -----------------------------------------------------------------------------

type runState struct {
	*Runner
	run      *Run
	target   string
	plan     Plan
	python   string
	progress fetcher.ProgressFunc
	logger   *slog.Logger
	release  func()

	partial  PartialInstallation
	current  Step
	terminal bool
	finished bool
}

func (s *runState) stepMessage(step Step) string {
	switch step {
	case StepInitializing:
		return "Initializing Python setup..."
	case StepDownloading:
		return fmt.Sprintf("Downloading Python %s %s...", RuntimeVersion, s.plan.Flavor)
	case StepExtracting:
		return "Extracting Python runtime..."
	case StepConfiguring:
		return "Configuring Python environment..."
	case StepInstallingPackageManager:
		return "Installing package manager..."
	case StepInstallingRequiredLibraries:
		return "Installing medical analysis libraries..."
	case StepInstallingOptionalLibraries:
		return "Installing optional analysis libraries..."
	case StepVerifying:
		return "Verifying installation..."
	default:
		return "Medical Python environment ready!"
	}
}

func (s *runState) work(step Step) func(context.Context) error {
	switch step {
	case StepInitializing:
		return s.initialize
	case StepDownloading:
		return s.download
	case StepExtracting:
		return s.extract
	case StepConfiguring:
		return s.configure
	case StepInstallingPackageManager:
		return s.installPackageManager
	case StepInstallingRequiredLibraries:
		return func(ctx context.Context) error { return s.installLibraries(ctx, "required", s.plan.Required) }
	case StepInstallingOptionalLibraries:
		return func(ctx context.Context) error { return s.installLibraries(ctx, "optional", s.plan.Optional) }
	case StepVerifying:
		return s.verify
	default:
		return nil
	}
}

func (s *runState) execute(ctx context.Context) {
	ctx, span := tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("run.id", s.run.ID),
		attribute.String("target", s.target),
	))
	defer span.End()

	started := time.Now()
	s.logger.InfoContext(ctx, "pipeline started", "archive", s.plan.ArchiveURL)

	for _, step := range Steps() {
		if step == StepCompleted {
			break
		}

		s.emit(ProgressEvent{Step: step, Progress: step.Weight(), Message: s.stepMessage(step)})

		if err := ctx.Err(); err != nil {
			s.fail(ctx, span, step, failure.Wrap(err, failure.KindCancelled, "pipeline."+step.String(), "Installation cancelled"))
			return
		}

		if err := s.runStep(ctx, step); err != nil {
			if ctx.Err() != nil && !failure.IsKind(err, failure.KindCancelled) {
				err = failure.Wrap(ctx.Err(), failure.KindCancelled, "pipeline."+step.String(), "Installation cancelled")
			}
			s.fail(ctx, span, step, err)
			return
		}
	}

	status := s.deps.Status(ctx)
	result := Result{RunID: s.run.ID, Status: status, Partial: s.partial}

	if perr := s.partial.Err(); perr != nil {
		s.logger.WarnContext(ctx, "pipeline completed with library failures", "error", perr)
	}
	s.logger.InfoContext(ctx, "pipeline completed", "duration", time.Since(started), "origin", status.Origin.String())
	span.SetStatus(codes.Ok, "")
	recordRun(ctx, "completed")

	s.emit(ProgressEvent{
		Step:     StepCompleted,
		Progress: StepCompleted.Weight(),
		Message:  s.stepMessage(StepCompleted),
		Terminal: true,
	})
	s.finish(result, nil)
}

func (s *runState) runStep(ctx context.Context, step Step) error {
	ctx, span := tracer.Start(ctx, "pipeline."+step.String())
	defer span.End()

	start := time.Now()
	err := s.work(step)(ctx)
	recordStep(ctx, step, time.Since(start), err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (s *runState) fail(ctx context.Context, span trace.Span, step Step, err error) {
	var fe *failure.Error
	if !errors.As(err, &fe) {
		fe = failure.Wrap(err, failure.KindUnknown, "pipeline."+step.String(), err.Error())
	}
	if fe.Step == "" {
		fe.Step = step.String()
	}

	s.logger.ErrorContext(ctx, "pipeline failed", "step", step.String(), "kind", fe.Kind.String(), "error", fe.FullError())
	span.RecordError(fe)
	span.SetStatus(codes.Error, fe.Message)
	recordRun(ctx, fe.Kind.String())

	s.emit(ProgressEvent{
		Step:      step,
		Progress:  step.Weight(),
		Message:   fe.Message,
		Terminal:  true,
		Error:     fe.Error(),
		ErrorKind: fe.Kind.String(),
	})
	s.finish(Result{RunID: s.run.ID, Partial: s.partial}, fe)
}

func (s *runState) emit(ev ProgressEvent) {
	if s.finished || s.terminal {
		return
	}
	ev.RunID = s.run.ID
	s.current = ev.Step
	s.terminal = ev.Terminal
	s.run.events <- ev
}

// finish closes the stream exactly once. When err is set and no terminal
// event went out yet (a panic mid-step), one is sent for the current step.
//
// The target lock is released after the terminal event is queued and before
// Wait returns, so the next run never overlaps this one's stream and a
// caller that waited can start again immediately.
func (s *runState) finish(result Result, err error) {
	if s.finished {
		return
	}
	if err != nil && !s.terminal {
		ev := ProgressEvent{Step: s.current, Progress: s.current.Weight(), Terminal: true, Error: err.Error(), Message: err.Error()}
		var fe *failure.Error
		if errors.As(err, &fe) {
			ev.Message = fe.Message
			ev.ErrorKind = fe.Kind.String()
		}
		s.emit(ev)
	}
	if s.release != nil {
		s.release()
		s.release = nil
	}
	s.finished = true
	s.run.result = result
	s.run.err = err
	close(s.run.events)
	close(s.run.done)
}
