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
Package fetcher moves artifacts onto disk: remote archives, the archives'
contents, and inference models.

# Downloads

Fetch streams a URL to "<dest>.<url-hash>.tmp" and renames it to dest once
the body is complete, so a reader never sees a half-written dest. Memory
use is one copy buffer regardless of artifact size.

A leftover .tmp from an interrupted run of the same URL is resumed with a
Range request. Partial files left by other URLs for the same dest are
removed first. Servers that ignore Range (200 instead of 206), or answer
with a Content-Range that does not start where the file ends, restart
from zero.

Transient failures (connection errors, 5xx, short reads) are retried with
exponential backoff. 4xx responses and cancellation are permanent.

# Usage

	f := fetcher.New(fetcher.WithMetrics(m))
	err := f.Fetch(ctx, archiveURL, "/opt/app/resources/python.tar.gz",
	    func(done, total int64) { fmt.Printf("\r%d/%d", done, total) })
*/
package fetcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/failure"
	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/telemetry"
)

// DefaultMaxTries bounds download attempts, including the first.
const DefaultMaxTries = 3

// DefaultProgressInterval is the minimum spacing between progress callbacks.
const DefaultProgressInterval = 250 * time.Millisecond

// ProgressFunc receives bytes on disk so far and the expected total.
// total is zero when the server sent no length.
type ProgressFunc func(done, total int64)

// Fetcher downloads artifacts. It is safe for concurrent use on distinct
// destinations.
type Fetcher struct {
	httpClient       *http.Client
	maxTries         uint
	newBackOff       func() backoff.BackOff
	progressInterval time.Duration
	metrics          *telemetry.Metrics
	logger           *slog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.httpClient = c }
}

// WithMaxTries sets the attempt limit.
func WithMaxTries(n uint) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxTries = n
		}
	}
}

// WithBackOff sets the retry schedule factory, called once per Fetch.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(f *Fetcher) { f.newBackOff = fn }
}

// WithProgressInterval sets the progress callback throttle.
func WithProgressInterval(d time.Duration) Option {
	return func(f *Fetcher) { f.progressInterval = d }
}

// WithMetrics counts downloaded bytes.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(f *Fetcher) { f.metrics = m }
}

// WithLogger sets the logger; slog.Default() otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// New creates a Fetcher.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		httpClient: &http.Client{},
		maxTries:   DefaultMaxTries,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxInterval = 30 * time.Second
			return b
		},
		progressInterval: DefaultProgressInterval,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch downloads url into dest. progress may be nil.
func (f *Fetcher) Fetch(ctx context.Context, url, dest string, progress ProgressFunc) error {
	const op = "fetcher.Fetch"
	tmp := tempPath(dest, url)
	f.sweepStale(dest, tmp)

	report := f.throttle(progress)
	attempt := 0

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		return struct{}{}, f.attempt(ctx, url, tmp, report)
	},
		backoff.WithBackOff(f.newBackOff()),
		backoff.WithMaxTries(f.maxTries),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			f.logger.Warn("download attempt failed, retrying",
				"url", url, "attempt", attempt, "wait", wait, "error", err)
		}),
	)
	if err != nil {
		return classify(ctx, op, url, err)
	}

	if err := os.Rename(tmp, dest); err != nil {
		return failure.Wrap(err, failure.KindUnknown, op, "Failed to move download into place")
	}
	f.logger.Debug("download complete", "url", url, "dest", dest)
	return nil
}

// tempPath names the partial file for url, so a changed source never
// resumes onto another artifact's bytes.
func tempPath(dest, url string) string {
	sum := sha256.Sum256([]byte(url))
	return dest + "." + hex.EncodeToString(sum[:6]) + ".tmp"
}

// sweepStale removes partial files for dest other than keep: both
// "<dest>.tmp" and "<dest>.<hash>.tmp" for other URLs.
func (f *Fetcher) sweepStale(dest, keep string) {
	entries, err := os.ReadDir(filepath.Dir(dest))
	if err != nil {
		return
	}
	base, keepName := filepath.Base(dest), filepath.Base(keep)
	for _, e := range entries {
		rest, ok := strings.CutPrefix(e.Name(), base+".")
		if !ok || e.IsDir() || e.Name() == keepName {
			continue
		}
		if rest != "tmp" {
			key, ok := strings.CutSuffix(rest, ".tmp")
			if !ok || !isTempKey(key) {
				continue
			}
		}
		path := filepath.Join(filepath.Dir(dest), e.Name())
		if err := os.Remove(path); err == nil {
			f.logger.Debug("removed stale partial download", "path", path)
		}
	}
}

func isTempKey(s string) bool {
	if len(s) != 12 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// rangeStart parses the first byte offset of a "bytes <start>-<end>/<size>"
// Content-Range header.
func rangeStart(header string) (int64, bool) {
	spec, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes ")
	if !ok {
		return 0, false
	}
	first, _, ok := strings.Cut(spec, "-")
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(first), 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// throttle wraps progress so it fires at most once per interval. The
// returned func takes a final flag that always fires.
func (f *Fetcher) throttle(progress ProgressFunc) func(done, total int64, final bool) {
	if progress == nil {
		return func(int64, int64, bool) {}
	}
	sometimes := &rate.Sometimes{Interval: f.progressInterval}
	return func(done, total int64, final bool) {
		if final {
			progress(done, total)
			return
		}
		sometimes.Do(func() { progress(done, total) })
	}
}

// statusError carries a non-success HTTP status out of an attempt.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("server returned %d %s", e.code, http.StatusText(e.code))
}

func (f *Fetcher) attempt(ctx context.Context, url, tmp string, report func(int64, int64, bool)) error {
	var offset int64
	if info, err := os.Stat(tmp); err == nil {
		offset = info.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return backoff.Permanent(err)
	}
	if offset > 0 {
		req.Header.Set("Range", "bytes="+strconv.FormatInt(offset, 10)+"-")
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}
	defer resp.Body.Close()

	flags := os.O_CREATE | os.O_WRONLY
	switch {
	case resp.StatusCode == http.StatusPartialContent && offset > 0:
		if start, ok := rangeStart(resp.Header.Get("Content-Range")); !ok || start != offset {
			f.logger.Info("server resumed at the wrong offset, restarting download",
				"url", url, "offset", offset, "content_range", resp.Header.Get("Content-Range"))
			_ = os.Remove(tmp)
			return fmt.Errorf("content range %q does not start at %d", resp.Header.Get("Content-Range"), offset)
		}
		flags |= os.O_APPEND
	case resp.StatusCode == http.StatusOK:
		if offset > 0 {
			f.logger.Info("server ignored range request, restarting download", "url", url)
		}
		offset = 0
		flags |= os.O_TRUNC
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		// Stale or oversized .tmp; start clean on the next attempt.
		_ = os.Remove(tmp)
		return &statusError{code: resp.StatusCode}
	case resp.StatusCode >= 500:
		return &statusError{code: resp.StatusCode}
	default:
		return backoff.Permanent(&statusError{code: resp.StatusCode})
	}

	var total int64
	if resp.ContentLength > 0 {
		total = offset + resp.ContentLength
	}

	out, err := os.OpenFile(tmp, flags, 0o644)
	if err != nil {
		return backoff.Permanent(err)
	}

	w := &countingWriter{w: out, n: offset, total: total, report: report, metrics: f.metrics}
	_, copyErr := io.Copy(w, resp.Body)
	closeErr := out.Close()

	if copyErr != nil {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return copyErr
	}
	if closeErr != nil {
		return backoff.Permanent(closeErr)
	}
	if total > 0 && w.n != total {
		return fmt.Errorf("short download: got %d of %d bytes", w.n, total)
	}
	report(w.n, total, true)
	return nil
}

type countingWriter struct {
	w       io.Writer
	n       int64
	total   int64
	report  func(int64, int64, bool)
	metrics *telemetry.Metrics
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	c.metrics.AddDownloadBytes(int64(n))
	c.report(c.n, c.total, false)
	return n, err
}

func classify(ctx context.Context, op, url string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		return failure.Wrap(err, failure.KindCancelled, op, "Download cancelled")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return failure.Wrap(err, failure.KindTimeout, op, "Download timed out")
	}

	var se *statusError
	if errors.As(err, &se) {
		e := failure.Wrap(err, failure.KindNetworkFailure, op, fmt.Sprintf("Download of %s failed", url))
		if se.code == http.StatusNotFound {
			e.Remediation = "The download location may have moved; check for an application update"
		}
		return e
	}

	e := failure.Wrap(err, failure.KindNetworkFailure, op, fmt.Sprintf("Download of %s failed", url))
	e.Remediation = "Check your internet connection and try again; partial progress is kept"
	return e
}
