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
Package provision is the operation surface the frontend calls: hardware and
catalog queries, dependency status, service supervision, model management
and runtime installation.

Every operation is independently invocable. Status is recomputed on every
call and nothing is cached between calls.

# Usage

	svc := provision.New(provision.Config{
	    ServiceURL:   "http://localhost:11434",
	    ResourcesDir: "/opt/aleutian/resources",
	})
	status := svc.ResolveDependency(ctx, resolver.RuntimeEnvironment)
	if status.SetupRequired {
	    run, err := svc.RunInstallationPipeline(ctx, pipeline.Options{})
	    ...
	}
*/
package provision

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/catalog"
	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/failure"
	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/fetcher"
	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/hardware"
	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/health"
	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/inspector"
	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/ollama"
	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/pipeline"
	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/probe"
	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/resolver"
	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/supervisor"
	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/telemetry"
	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/util"
	"github.com/AleutianAI/AleutianRuntime/pkg/validation"
)

var tracer = otel.Tracer("aleutian.provision")

// =============================================================================
// Types
// =============================================================================

// Message is a user-facing confirmation.
type Message struct {
	Text string `json:"message"`
}

// QueryResult is a completed generation.
type QueryResult struct {
	Text string `json:"text"`
}

// HardwareDetector reads the host profile. *hardware.Detector satisfies it.
type HardwareDetector interface {
	Detect() (hardware.Profile, error)
}

// Config selects the service endpoint, the resources layout and tunables.
type Config struct {
	// ServiceURL is the inference service base URL.
	ServiceURL string

	// ResourcesDir holds bundled binaries and the installed runtime.
	ResourcesDir string

	// ServiceName appears in user-facing messages. Defaults to "Ollama".
	ServiceName string

	// ServiceBinary is the executable base name. Defaults to "ollama".
	ServiceBinary string

	// PullMode is fetcher.PullModeCLI or fetcher.PullModeAPI.
	PullMode string

	Timeouts          util.TimeoutConfig
	MinRuntimeVersion string

	// Modules and CoreModules override the inspected library set.
	Modules     []string
	CoreModules []string

	// Plan overrides the platform installation plan.
	Plan *pipeline.Plan
}

// Option configures a Service.
type Option func(*options)

type options struct {
	prober     probe.Prober
	httpClient *http.Client
	downloader pipeline.Downloader
	detector   HardwareDetector
	metrics    *telemetry.Metrics
	logger     *slog.Logger
	goos       string
	progress   ollama.PullProgressFunc
}

// WithProber replaces the process prober, mainly for tests.
func WithProber(p probe.Prober) Option { return func(o *options) { o.prober = p } }

// WithHTTPClient sets the client used for the inference service.
func WithHTTPClient(c *http.Client) Option { return func(o *options) { o.httpClient = c } }

// WithDownloader replaces the artifact fetcher.
func WithDownloader(d pipeline.Downloader) Option { return func(o *options) { o.downloader = d } }

// WithHardwareDetector replaces host detection.
func WithHardwareDetector(d HardwareDetector) Option { return func(o *options) { o.detector = d } }

// WithMetrics records Prometheus metrics.
func WithMetrics(m *telemetry.Metrics) Option { return func(o *options) { o.metrics = m } }

// WithLogger sets the logger; slog.Default() otherwise.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithGOOS overrides platform naming in the resources layout.
func WithGOOS(goos string) Option { return func(o *options) { o.goos = goos } }

// WithPullProgress receives model pull progress in API pull mode.
func WithPullProgress(fn ollama.PullProgressFunc) Option { return func(o *options) { o.progress = fn } }

// =============================================================================
// Service
// =============================================================================

// Service wires the components together. It is safe for concurrent use.
type Service struct {
	cfg    Config
	layout probe.Layout
	logger *slog.Logger

	detector   HardwareDetector
	health     *health.Checker
	resolver   *resolver.Resolver
	supervisor *supervisor.Supervisor
	client     *ollama.Client
	puller     fetcher.ModelPuller
	runner     *pipeline.Runner
}

// New builds a Service from cfg.
func New(cfg Config, opts ...Option) *Service {
	o := options{
		prober: probe.NewDefaultProber(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	if cfg.ServiceURL == "" {
		cfg.ServiceURL = ollama.DefaultBaseURL
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "Ollama"
	}
	if len(cfg.Modules) == 0 {
		cfg.Modules = inspector.DefaultModules()
	}
	if len(cfg.CoreModules) == 0 {
		cfg.CoreModules = inspector.DefaultCoreModules()
	}
	cfg.Timeouts = cfg.Timeouts.Validated()

	layout := probe.Layout{ResourcesDir: cfg.ResourcesDir, GOOS: o.goos, ServiceBinary: cfg.ServiceBinary}

	healthOpts := []health.Option{health.WithMetrics(o.metrics), health.WithLogger(o.logger)}
	clientOpts := []ollama.Option{ollama.WithTimeouts(cfg.Timeouts), ollama.WithLogger(o.logger)}
	if o.httpClient != nil {
		healthOpts = append(healthOpts, health.WithHTTPClient(o.httpClient))
		clientOpts = append(clientOpts, ollama.WithHTTPClient(o.httpClient))
	}
	checker := health.NewChecker(cfg.ServiceURL, healthOpts...)
	client := ollama.NewClient(cfg.ServiceURL, clientOpts...)

	insp := inspector.New(o.prober, cfg.Modules, cfg.CoreModules,
		inspector.WithTimeout(cfg.Timeouts.Inspect), inspector.WithLogger(o.logger))

	res := resolver.New(o.prober, insp, checker, resolver.Config{
		ServiceCandidates: layout.ServiceCandidates(),
		RuntimeCandidates: layout.RuntimeCandidates(),
		MinRuntimeVersion: cfg.MinRuntimeVersion,
		StatusTimeout:     cfg.Timeouts.Status,
	}, o.logger)

	sup := supervisor.New(checker, o.prober, res, supervisor.Config{
		ServiceName:   cfg.ServiceName,
		StatusTimeout: cfg.Timeouts.Status,
		GracePeriod:   cfg.Timeouts.GracePeriod,
	}, o.metrics, o.logger)

	puller := fetcher.NewModelPuller(cfg.PullMode, o.prober, res, client, cfg.ServiceName, o.logger)
	if api, ok := puller.(*fetcher.APIPuller); ok {
		api.Progress = o.progress
	}

	downloader := o.downloader
	if downloader == nil {
		downloader = fetcher.New(fetcher.WithMetrics(o.metrics), fetcher.WithLogger(o.logger))
	}

	detector := o.detector
	if detector == nil {
		detector = hardware.NewDetector()
	}

	s := &Service{
		cfg:        cfg,
		layout:     layout,
		logger:     o.logger,
		detector:   detector,
		health:     checker,
		resolver:   res,
		supervisor: sup,
		client:     client,
		puller:     puller,
	}
	s.runner = pipeline.NewRunner(pipeline.Deps{
		Downloader: downloader,
		Prober:     o.prober,
		Inspector:  insp,
		Layout:     layout,
		Metrics:    o.metrics,
		Logger:     o.logger,
		Status: func(ctx context.Context) resolver.DependencyStatus {
			return res.Resolve(ctx, resolver.RuntimeEnvironment)
		},
	})
	return s
}

// Layout returns the resources layout in use.
func (s *Service) Layout() probe.Layout {
	return s.layout
}

// ServiceName returns the display name of the inference service.
func (s *Service) ServiceName() string {
	return s.cfg.ServiceName
}

// =============================================================================
// Host
// =============================================================================

// HardwareProfile reads memory, CPU and OS and recommends a model.
func (s *Service) HardwareProfile(ctx context.Context) (hardware.Profile, error) {
	_, span := tracer.Start(ctx, "provision.HardwareProfile")
	defer span.End()

	p, err := s.detector.Detect()
	if err != nil {
		endSpan(span, err)
		return hardware.Profile{}, err
	}
	span.SetAttributes(
		attribute.Float64("hardware.total_memory_gb", p.TotalMemoryGB),
		attribute.String("hardware.recommended_model", p.RecommendedModel),
	)
	return p, nil
}

// ModelCatalog returns the fixed list of offered models.
func (s *Service) ModelCatalog() []catalog.Entry {
	return catalog.Entries()
}

// =============================================================================
// Dependencies
// =============================================================================

// ResolveDependency computes the current status of one dependency.
func (s *Service) ResolveDependency(ctx context.Context, kind resolver.Kind) resolver.DependencyStatus {
	ctx, span := tracer.Start(ctx, "provision.ResolveDependency",
		trace.WithAttributes(attribute.String("dependency.kind", kind.String())))
	defer span.End()

	status := s.resolver.Resolve(ctx, kind)
	span.SetAttributes(
		attribute.String("dependency.origin", status.Origin.String()),
		attribute.Bool("dependency.setup_required", status.SetupRequired),
	)
	return status
}

// ResolveAll computes both statuses concurrently.
func (s *Service) ResolveAll(ctx context.Context) map[resolver.Kind]resolver.DependencyStatus {
	ctx, span := tracer.Start(ctx, "provision.ResolveAll")
	defer span.End()
	return s.resolver.ResolveAll(ctx)
}

// RuntimePath returns the interpreter that would be used, usable or not.
func (s *Service) RuntimePath(ctx context.Context) (string, error) {
	status := s.ResolveDependency(ctx, resolver.RuntimeEnvironment)
	if status.ExecutablePath == "" {
		e := failure.New(failure.KindNotFound, "provision.RuntimePath", "No Python installation found")
		e.Remediation = "Run: aleutianrt runtime setup"
		return "", e
	}
	return status.ExecutablePath, nil
}

// RunInstallationPipeline starts a runtime installation. Consume
// run.Events() for progress and run.Wait() for the final status.
func (s *Service) RunInstallationPipeline(ctx context.Context, opts pipeline.Options) (*pipeline.Run, error) {
	if opts.Plan == nil && s.cfg.Plan != nil {
		plan := *s.cfg.Plan
		opts.Plan = &plan
	}
	run, err := s.runner.Start(ctx, opts)
	if err != nil {
		s.logger.Warn("installation rejected", "error", err)
		return nil, err
	}
	return run, nil
}

// =============================================================================
// Inference service
// =============================================================================

// ServiceHealthy is the raw liveness check.
func (s *Service) ServiceHealthy(ctx context.Context) bool {
	return s.supervisor.Healthy(ctx)
}

// EnsureServiceRunning starts the service if it is not responding.
func (s *Service) EnsureServiceRunning(ctx context.Context) (Message, error) {
	ctx, span := tracer.Start(ctx, "provision.EnsureServiceRunning")
	defer span.End()

	outcome, err := s.supervisor.EnsureRunning(ctx)
	if err != nil {
		endSpan(span, err)
		return Message{}, err
	}
	span.SetAttributes(
		attribute.Bool("service.started", outcome.Started),
		attribute.String("service.origin", outcome.Origin.String()),
	)
	return Message{Text: outcome.Message}, nil
}

// PrepareBundledService marks the bundled binary executable.
func (s *Service) PrepareBundledService(ctx context.Context) (Message, error) {
	_, span := tracer.Start(ctx, "provision.PrepareBundledService")
	defer span.End()

	msg, err := supervisor.PrepareBundled(s.layout.BundledServicePath(), s.cfg.ServiceName)
	if err != nil {
		endSpan(span, err)
		return Message{}, err
	}
	return Message{Text: msg}, nil
}

// DownloadModel pulls a model into the service.
func (s *Service) DownloadModel(ctx context.Context, name string) (Message, error) {
	name = strings.TrimSpace(name)
	ctx, span := tracer.Start(ctx, "provision.DownloadModel",
		trace.WithAttributes(attribute.String("model.name", name)))
	defer span.End()

	if name == "" {
		err := failure.New(failure.KindUnknown, "provision.DownloadModel", "Model name is required")
		endSpan(span, err)
		return Message{}, err
	}
	if err := validation.ValidateModelName(name); err != nil {
		fe := failure.Wrap(err, failure.KindUnknown, "provision.DownloadModel", "Invalid model name")
		fe.Detail = err.Error()
		endSpan(span, fe)
		return Message{}, fe
	}
	if entry, ok := catalog.Lookup(name); ok {
		s.logger.Info("pulling catalog model", "model", entry.Name, "size_gb", entry.SizeGB)
	} else {
		s.logger.Info("pulling model outside the catalog", "model", name)
	}

	if err := s.puller.PullModel(ctx, name); err != nil {
		endSpan(span, err)
		return Message{}, err
	}
	return Message{Text: fetcher.PullSuccessMessage(name)}, nil
}

// ListInstalledModels returns the names the service reports.
func (s *Service) ListInstalledModels(ctx context.Context) ([]string, error) {
	ctx, span := tracer.Start(ctx, "provision.ListInstalledModels")
	defer span.End()

	names, err := s.client.ModelNames(ctx)
	if err != nil {
		endSpan(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("model.count", len(names)))
	return names, nil
}

// QueryService sends one non-streaming prompt.
func (s *Service) QueryService(ctx context.Context, model, prompt string) (QueryResult, error) {
	ctx, span := tracer.Start(ctx, "provision.QueryService",
		trace.WithAttributes(attribute.String("model.name", model)))
	defer span.End()

	res, err := s.client.Generate(ctx, model, prompt)
	if err != nil {
		endSpan(span, err)
		return QueryResult{}, err
	}
	return QueryResult{Text: res.Response}, nil
}

func endSpan(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attribute.String("error.kind", failure.KindOf(err).String()))
}
