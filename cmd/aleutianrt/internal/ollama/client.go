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
Package ollama talks to the inference service's local HTTP API.

Three endpoints are used:

	GET  /api/tags      installed models          (list timeout, 10s)
	POST /api/generate  one-shot completion       (generate timeout, 30s)
	POST /api/pull      streaming model download  (context only)

Every failure is a *failure.Error:

  - NetworkFailure: the service could not be reached
  - Timeout: the per-call deadline passed
  - Cancelled: the caller's context was cancelled
  - ExternalProcessFailure: the service answered with a non-2xx status,
    an error line, or a body that did not parse
*/
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/failure"
	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/util"
)

// DefaultBaseURL is where the service listens unless configured otherwise.
const DefaultBaseURL = "http://localhost:11434"

// maxErrorBody caps how much of a failed response body is kept as detail.
const maxErrorBody = 4096

// -----------------------------------------------------------------------------
// Data Types
// -----------------------------------------------------------------------------

// Model is one installed model from /api/tags.
type Model struct {
	Name              string    `json:"name"`
	Size              int64     `json:"size"`
	Digest            string    `json:"digest"`
	ModifiedAt        time.Time `json:"modified_at"`
	Family            string    `json:"family,omitempty"`
	ParameterSize     string    `json:"parameter_size,omitempty"`
	QuantizationLevel string    `json:"quantization_level,omitempty"`
}

// GenerateResult is the non-streaming /api/generate answer.
type GenerateResult struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Context  []int  `json:"context,omitempty"`
}

// PullProgress is one NDJSON line from /api/pull.
type PullProgress struct {
	Status    string `json:"status"`
	Digest    string `json:"digest,omitempty"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
	Error     string `json:"error,omitempty"`
}

// PullProgressFunc receives each parsed pull progress line.
type PullProgressFunc func(PullProgress)

type tagsResponse struct {
	Models []struct {
		Name       string    `json:"name"`
		Size       int64     `json:"size"`
		Digest     string    `json:"digest"`
		ModifiedAt time.Time `json:"modified_at"`
		Details    struct {
			Family            string `json:"family"`
			ParameterSize     string `json:"parameter_size"`
			QuantizationLevel string `json:"quantization_level"`
		} `json:"details"`
	} `json:"models"`
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type pullRequest struct {
	Name   string `json:"name"`
	Stream bool   `json:"stream"`
}

// -----------------------------------------------------------------------------
// Client
// -----------------------------------------------------------------------------

// Client is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeouts   util.TimeoutConfig
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the transport. The client must not set its own
// Timeout, since pulls run for as long as the context allows.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeouts overrides the list and generate deadlines.
func WithTimeouts(t util.TimeoutConfig) Option {
	return func(c *Client) { c.timeouts = t.Validated() }
}

// WithLogger sets the logger; slog.Default() otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client for baseURL. Empty means DefaultBaseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{},
		timeouts:   util.NewTimeoutConfig(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the normalized service URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ListModels returns every installed model.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	const op = "ollama.ListModels"

	ctx, cancel := context.WithTimeout(ctx, c.timeouts.List)
	defer cancel()

	resp, err := c.do(ctx, op, http.MethodGet, "/api/tags", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, badBody(op, err)
	}

	models := make([]Model, 0, len(tags.Models))
	for _, m := range tags.Models {
		models = append(models, Model{
			Name:              m.Name,
			Size:              m.Size,
			Digest:            m.Digest,
			ModifiedAt:        m.ModifiedAt,
			Family:            m.Details.Family,
			ParameterSize:     m.Details.ParameterSize,
			QuantizationLevel: m.Details.QuantizationLevel,
		})
	}
	c.logger.Debug("listed installed models", "count", len(models))
	return models, nil
}

// ModelNames returns the names of every installed model, in service order.
func (c *Client) ModelNames(ctx context.Context) ([]string, error) {
	models, err := c.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(models))
	for _, m := range models {
		names = append(names, m.Name)
	}
	return names, nil
}

// HasModel reports whether name is installed. "x" and "x:latest" match.
func (c *Client) HasModel(ctx context.Context, name string) (bool, error) {
	models, err := c.ListModels(ctx)
	if err != nil {
		return false, err
	}
	want := NormalizeModelName(name)
	for _, m := range models {
		if NormalizeModelName(m.Name) == want {
			return true, nil
		}
	}
	return false, nil
}

// Generate runs a single non-streaming completion.
func (c *Client) Generate(ctx context.Context, model, prompt string) (GenerateResult, error) {
	const op = "ollama.Generate"

	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Generate)
	defer cancel()

	body, err := json.Marshal(generateRequest{Model: model, Prompt: prompt})
	if err != nil {
		return GenerateResult{}, failure.Wrap(err, failure.KindUnknown, op, "Failed to encode generate request")
	}

	resp, err := c.do(ctx, op, http.MethodPost, "/api/generate", body)
	if err != nil {
		return GenerateResult{}, err
	}
	defer resp.Body.Close()

	var out GenerateResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if ctxErr := classifyContext(ctx, op); ctxErr != nil {
			return GenerateResult{}, ctxErr
		}
		return GenerateResult{}, badBody(op, err)
	}
	return out, nil
}

// Pull downloads a model through the streaming API. It succeeds only when
// the final status line is "success".
func (c *Client) Pull(ctx context.Context, name string, progress PullProgressFunc) error {
	const op = "ollama.Pull"

	body, err := json.Marshal(pullRequest{Name: name, Stream: true})
	if err != nil {
		return failure.Wrap(err, failure.KindUnknown, op, "Failed to encode pull request")
	}

	resp, err := c.do(ctx, op, http.MethodPost, "/api/pull", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	last := ""
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var p PullProgress
		if err := json.Unmarshal(line, &p); err != nil {
			c.logger.Debug("skipping unparseable pull line", "line", string(line), "error", err)
			continue
		}
		if p.Error != "" {
			e := failure.New(failure.KindExternalProcessFailure, op, fmt.Sprintf("Failed to download model %s", name))
			e.Detail = p.Error
			e.Remediation = "Check the model name and your network connection, then try again"
			return e
		}
		last = p.Status
		if progress != nil {
			progress(p)
		}
	}

	if err := scanner.Err(); err != nil {
		if ctxErr := classifyContext(ctx, op); ctxErr != nil {
			return ctxErr
		}
		return failure.Wrap(err, failure.KindNetworkFailure, op, "Pull stream interrupted")
	}
	if ctxErr := classifyContext(ctx, op); ctxErr != nil {
		return ctxErr
	}
	if last != "success" {
		e := failure.New(failure.KindExternalProcessFailure, op, fmt.Sprintf("Failed to download model %s", name))
		e.Detail = fmt.Sprintf("stream ended with status %q", last)
		return e
	}

	c.logger.Info("model pulled", "model", name)
	return nil
}

// NormalizeModelName lowercases and drops a ":latest" tag.
func NormalizeModelName(name string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(name)), ":latest")
}

// -----------------------------------------------------------------------------
// Transport helpers
// -----------------------------------------------------------------------------

// do sends a request and returns the response only for a 2xx status.
func (c *Client) do(ctx context.Context, op, method, path string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, failure.Wrap(err, failure.KindUnknown, op, "Failed to create request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := classifyContext(ctx, op); ctxErr != nil {
			return nil, ctxErr
		}
		e := failure.Wrap(err, failure.KindNetworkFailure, op, "Cannot connect to the inference service")
		e.Remediation = fmt.Sprintf("Ensure the service is running at %s", c.baseURL)
		return nil, e
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		e := failure.New(failure.KindExternalProcessFailure, op,
			fmt.Sprintf("Inference service returned status %d", resp.StatusCode))
		e.Detail = strings.TrimSpace(string(detail))
		if resp.StatusCode == http.StatusNotFound {
			e.Remediation = "Check that the model is installed"
		}
		return nil, e
	}
	return resp, nil
}

// classifyContext maps a finished context onto Timeout or Cancelled.
func classifyContext(ctx context.Context, op string) error {
	switch err := ctx.Err(); {
	case errors.Is(err, context.DeadlineExceeded):
		e := failure.Wrap(err, failure.KindTimeout, op, "Inference service did not answer in time")
		e.Remediation = "The model may still be loading; try again shortly"
		return e
	case errors.Is(err, context.Canceled):
		return failure.Wrap(err, failure.KindCancelled, op, "Request cancelled")
	default:
		return nil
	}
}

func badBody(op string, err error) error {
	e := failure.Wrap(err, failure.KindExternalProcessFailure, op, "Failed to parse inference service response")
	e.Remediation = "This may indicate a service version mismatch"
	return e
}
