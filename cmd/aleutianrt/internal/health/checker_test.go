// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package health

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/telemetry"
)

func TestChecker_Check_Healthy(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"models":[]}`))
	}))
	defer srv.Close()

	c := NewChecker(srv.URL + "/")
	assert.True(t, c.Check(context.Background(), time.Second))
	assert.Equal(t, StatusPath, gotPath)
}

func TestChecker_Check_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	assert.False(t, NewChecker(srv.URL).Check(context.Background(), time.Second))
}

func TestChecker_Check_ConnectionRefused(t *testing.T) {
	// Grab a free port, then close the listener so nothing accepts on it.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	c := NewChecker("http://" + addr)

	start := time.Now()
	up := c.Check(context.Background(), 2*time.Second)

	assert.False(t, up)
	assert.Less(t, time.Since(start), 2*time.Second+500*time.Millisecond)
}

func TestChecker_Check_TimeoutReturnsFalse(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	up := NewChecker(srv.URL).Check(context.Background(), time.Second)

	assert.False(t, up)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestChecker_Check_RecordsMetrics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	reg := prometheus.NewRegistry()
	m, err := telemetry.NewMetrics(reg)
	require.NoError(t, err)

	c := NewChecker(srv.URL, WithMetrics(m))
	c.Check(context.Background(), time.Second)

	families, err := reg.Gather()
	require.NoError(t, err)
	found := false
	for _, f := range families {
		if f.GetName() == "aleutian_service_health_checks_total" {
			found = true
		}
	}
	assert.True(t, found)
}
