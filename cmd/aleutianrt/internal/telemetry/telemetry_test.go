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
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordHealthCheck(true)
		m.RecordEnsure("started")
		m.RecordSpawn("bundled")
		m.RecordLibraryInstall("required", false)
		m.AddDownloadBytes(10)
	})
}

func TestMetrics_Records(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	m.RecordHealthCheck(true)
	m.RecordHealthCheck(false)
	m.RecordHealthCheck(false)
	m.RecordLibraryInstall("optional", false)
	m.AddDownloadBytes(1024)
	m.AddDownloadBytes(-5)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.healthChecks.WithLabelValues("up")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.healthChecks.WithLabelValues("down")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.libraryInstalls.WithLabelValues("optional", "failed")))
	assert.Equal(t, 1024.0, testutil.ToFloat64(m.downloadBytes))
}

func TestNewMetrics_DuplicateRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewMetrics(reg)
	require.NoError(t, err)

	_, err = NewMetrics(reg)
	assert.Error(t, err)
}

func TestSetup_PrometheusOnly(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	p, err := Setup(context.Background(), Config{ServiceName: "test"})
	require.NoError(t, err)
	defer func() { _ = p.Shutdown(context.Background()) }()

	require.NotNil(t, p.Metrics)
	p.Metrics.RecordEnsure("already_running")

	families, err := p.Registry.Gather()
	require.NoError(t, err)

	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "aleutian_service_ensure_total")
}
