// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Config selects the telemetry exporters.
type Config struct {
	// ServiceName is reported as the otel service.name resource attribute.
	ServiceName string

	// OTLPEndpoint enables OTLP/gRPC trace export when non-empty.
	OTLPEndpoint string

	// StdoutTraces writes spans to stderr when no OTLP endpoint is set.
	StdoutTraces bool
}

// Providers is the result of Setup.
type Providers struct {
	// Registry holds both the engine's Prometheus collectors and the
	// otel meter instruments bridged by the prometheus exporter.
	Registry *prometheus.Registry

	// Metrics is registered on Registry.
	Metrics *Metrics

	shutdown []func(context.Context) error
}

// Shutdown flushes and stops all providers, bounded to five seconds.
func (p *Providers) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var errs []error
	for i := len(p.shutdown) - 1; i >= 0; i-- {
		if err := p.shutdown[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Setup installs the global tracer and meter providers.
//
// # Description
//
// Traces go to an OTLP collector over gRPC when an endpoint is configured,
// to stderr when StdoutTraces is set, and nowhere otherwise (the global
// no-op provider stays in place). Metrics always go to a fresh Prometheus
// registry through the otel prometheus exporter; the engine's own
// collectors are registered on the same registry.
//
// # Outputs
//
//   - *Providers: Registry, Metrics and the shutdown hook
//   - error: Non-nil if an exporter could not be created
func Setup(ctx context.Context, cfg Config) (*Providers, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "aleutian-runtime"
	}
	if cfg.OTLPEndpoint == "" {
		cfg.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(cfg.ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}

	p := &Providers{Registry: prometheus.NewRegistry()}

	if err := setupTracing(ctx, cfg, res, p); err != nil {
		return nil, err
	}

	exporter, err := otelprom.New(otelprom.WithRegisterer(p.Registry))
	if err != nil {
		return nil, fmt.Errorf("prometheus exporter: %w", err)
	}
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(meterProvider)
	p.shutdown = append(p.shutdown, meterProvider.Shutdown)

	p.Metrics, err = NewMetrics(p.Registry)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	return p, nil
}

func setupTracing(ctx context.Context, cfg Config, res *resource.Resource, p *Providers) error {
	var exporter sdktrace.SpanExporter

	switch {
	case cfg.OTLPEndpoint != "":
		conn, err := grpc.NewClient(cfg.OTLPEndpoint,
			grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return fmt.Errorf("otlp grpc client: %w", err)
		}
		exp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
		if err != nil {
			return fmt.Errorf("otlp trace exporter: %w", err)
		}
		exporter = exp
		slog.Debug("tracing to OTLP collector", "endpoint", cfg.OTLPEndpoint)
	case cfg.StdoutTraces:
		exp, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr), stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("stdout trace exporter: %w", err)
		}
		exporter = exp
	default:
		return nil
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))
	p.shutdown = append(p.shutdown, tp.Shutdown)
	return nil
}
