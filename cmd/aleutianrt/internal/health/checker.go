// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package health answers one question: is the inference service up right now?
//
// "Down" is the expected common case before the service has been started,
// so Check never returns an error. A refused connection, a non-2xx status
// and an expired timeout all read as false.
package health

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/telemetry"
	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/util"
)

// StatusPath is the endpoint used for liveness. Listing tags is cheap and
// is served as soon as the service accepts connections.
const StatusPath = "/api/tags"

// Prober is the health-check contract consumed by the supervisor and
// resolver.
type Prober interface {
	Check(ctx context.Context, timeout time.Duration) bool
}

// Checker polls the inference service's status endpoint.
type Checker struct {
	baseURL    string
	httpClient *http.Client
	metrics    *telemetry.Metrics
	logger     *slog.Logger
}

// Option configures a Checker.
type Option func(*Checker)

// WithHTTPClient overrides the HTTP client. The per-call timeout still
// applies through the request context.
func WithHTTPClient(c *http.Client) Option {
	return func(h *Checker) { h.httpClient = c }
}

// WithMetrics records every check.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(h *Checker) { h.metrics = m }
}

// WithLogger sets the logger; slog.Default() otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(h *Checker) { h.logger = l }
}

// NewChecker creates a Checker for the service at baseURL.
func NewChecker(baseURL string, opts ...Option) *Checker {
	c := &Checker{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the service base address.
func (c *Checker) BaseURL() string {
	return c.baseURL
}

// Check returns true only on a 2xx response received within timeout.
//
// # Inputs
//
//   - ctx: Parent context; cancellation also yields false
//   - timeout: Bound for the whole request, raised to at least one second
func (c *Checker) Check(ctx context.Context, timeout time.Duration) bool {
	timeout = util.EnforceMinTimeout(timeout, util.MinHTTPTimeout)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	up := c.check(ctx)
	c.metrics.RecordHealthCheck(up)
	return up
}

func (c *Checker) check(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+StatusPath, nil)
	if err != nil {
		c.logger.Warn("health check request invalid", "url", c.baseURL, "error", err)
		return false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("service not reachable", "url", c.baseURL, "error", err)
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Debug("service returned non-2xx", "url", c.baseURL, "status", resp.StatusCode)
		return false
	}
	return true
}

var _ Prober = (*Checker)(nil)
