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
Package telemetry provides Prometheus metrics and OpenTelemetry setup for the
provisioning engine.

# Metrics Exported

Service subsystem:

  - aleutian_service_health_checks_total: Counter by result (up, down)
  - aleutian_service_ensure_total: Counter by outcome (already_running, started, failed, not_found)
  - aleutian_service_spawns_total: Counter by origin (bundled, system)

Runtime subsystem:

  - aleutian_runtime_library_installs_total: Counter by tier and outcome
  - aleutian_runtime_download_bytes_total: Counter of bytes streamed to disk

Pipeline run and step metrics are recorded through the OpenTelemetry meter
and exported on the same registry by the otel prometheus exporter (see
Setup).

All recording methods are safe on a nil *Metrics, so components can be
constructed without metrics in tests.
*/
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "aleutian"

	metricsSubsystemService = "service"

	metricsSubsystemRuntime = "runtime"
)

// Metrics holds the Prometheus collectors of the engine.
type Metrics struct {
	healthChecks    *prometheus.CounterVec
	ensureOutcomes  *prometheus.CounterVec
	spawns          *prometheus.CounterVec
	libraryInstalls *prometheus.CounterVec
	downloadBytes   prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
//
// # Description
//
// Pass a dedicated prometheus.Registry in tests to avoid duplicate
// registration panics against the default registry.
//
// # Outputs
//
//   - *Metrics: Ready-to-use recorder
//   - error: Non-nil if a collector could not be registered
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		healthChecks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystemService,
				Name:      "health_checks_total",
				Help:      "Inference service health checks by result.",
			},
			[]string{"result"},
		),
		ensureOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystemService,
				Name:      "ensure_total",
				Help:      "Ensure-running calls by outcome.",
			},
			[]string{"outcome"},
		),
		spawns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystemService,
				Name:      "spawns_total",
				Help:      "Service process spawn attempts by binary origin.",
			},
			[]string{"origin"},
		),
		libraryInstalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystemRuntime,
				Name:      "library_installs_total",
				Help:      "Library install attempts by tier and outcome.",
			},
			[]string{"tier", "outcome"},
		),
		downloadBytes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystemRuntime,
				Name:      "download_bytes_total",
				Help:      "Bytes of runtime artifacts streamed to disk.",
			},
		),
	}

	for _, c := range []prometheus.Collector{
		m.healthChecks, m.ensureOutcomes, m.spawns, m.libraryInstalls, m.downloadBytes,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RecordHealthCheck counts one health probe.
func (m *Metrics) RecordHealthCheck(up bool) {
	if m == nil {
		return
	}
	result := "down"
	if up {
		result = "up"
	}
	m.healthChecks.WithLabelValues(result).Inc()
}

// RecordEnsure counts one ensure-running outcome.
func (m *Metrics) RecordEnsure(outcome string) {
	if m == nil {
		return
	}
	m.ensureOutcomes.WithLabelValues(outcome).Inc()
}

// RecordSpawn counts one service spawn attempt.
func (m *Metrics) RecordSpawn(origin string) {
	if m == nil {
		return
	}
	m.spawns.WithLabelValues(origin).Inc()
}

// RecordLibraryInstall counts one library install attempt.
func (m *Metrics) RecordLibraryInstall(tier string, ok bool) {
	if m == nil {
		return
	}
	outcome := "failed"
	if ok {
		outcome = "installed"
	}
	m.libraryInstalls.WithLabelValues(tier, outcome).Inc()
}

// AddDownloadBytes adds n streamed bytes.
func (m *Metrics) AddDownloadBytes(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.downloadBytes.Add(float64(n))
}
