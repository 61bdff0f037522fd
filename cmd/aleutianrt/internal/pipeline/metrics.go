// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level tracer and meter for installation runs.
var (
	tracer = otel.Tracer("aleutian.pipeline")
	meter  = otel.Meter("aleutian.pipeline")
)

var (
	runTotal     metric.Int64Counter
	stepDuration metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the instruments. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		runTotal, err = meter.Int64Counter(
			"pipeline_runs_total",
			metric.WithDescription("Installation runs by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		stepDuration, err = meter.Float64Histogram(
			"pipeline_step_duration_seconds",
			metric.WithDescription("Duration of each installation step"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordRun(ctx context.Context, outcome string) {
	if initMetrics() != nil {
		return
	}
	runTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func recordStep(ctx context.Context, step Step, d time.Duration, err error) {
	if initMetrics() != nil {
		return
	}
	stepDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("step", step.String()),
		attribute.Bool("success", err == nil),
	))
}
