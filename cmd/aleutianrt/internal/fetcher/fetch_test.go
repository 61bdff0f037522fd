// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/failure"
	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/telemetry"
)

func fastFetcher(opts ...Option) *Fetcher {
	base := []Option{
		WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }),
		WithProgressInterval(time.Hour),
	}
	return New(append(base, opts...)...)
}

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

func serveBytes(data []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "artifact", time.Time{}, bytes.NewReader(data))
	}
}

func TestFetch_WritesDestAndRemovesTmp(t *testing.T) {
	data := payload(100_000)
	srv := httptest.NewServer(serveBytes(data))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "python.tar.gz")
	var lastDone, lastTotal int64
	err := fastFetcher().Fetch(context.Background(), srv.URL, dest, func(done, total int64) {
		lastDone, lastTotal = done, total
	})
	require.NoError(t, err)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.NoFileExists(t, tempPath(dest, srv.URL))
	assert.Equal(t, int64(len(data)), lastDone, "final progress always fires")
	assert.Equal(t, int64(len(data)), lastTotal)
}

func TestFetch_ResumesPartialTmp(t *testing.T) {
	data := payload(50_000)
	var rangeHeader atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rangeHeader.Store(r.Header.Get("Range"))
		serveBytes(data)(w, r)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "get-pip.py")
	require.NoError(t, os.WriteFile(tempPath(dest, srv.URL), data[:20_000], 0o644))

	require.NoError(t, fastFetcher().Fetch(context.Background(), srv.URL, dest, nil))

	assert.Equal(t, "bytes=20000-", rangeHeader.Load())
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestFetch_ServerIgnoringRangeRestarts(t *testing.T) {
	data := payload(10_000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "a.zip")
	require.NoError(t, os.WriteFile(tempPath(dest, srv.URL), []byte("garbage from an older run"), 0o644))

	require.NoError(t, fastFetcher().Fetch(context.Background(), srv.URL, dest, nil))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestFetch_MismatchedContentRangeRestarts(t *testing.T) {
	data := payload(30_000)
	var partial atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Range") != "" {
			// Answers from byte 0 whatever was asked for.
			partial.Add(1)
			w.Header().Set("Content-Range", fmt.Sprintf("bytes 0-%d/%d", len(data)-1, len(data)))
			w.WriteHeader(http.StatusPartialContent)
			_, _ = w.Write(data)
			return
		}
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "python-runtime.tar.gz")
	require.NoError(t, os.WriteFile(tempPath(dest, srv.URL), data[:10_000], 0o644))

	require.NoError(t, fastFetcher().Fetch(context.Background(), srv.URL, dest, nil))

	assert.Equal(t, int32(1), partial.Load())
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestFetch_PartialFromOtherURLNotResumed(t *testing.T) {
	data := payload(20_000)
	var ranged atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Range") != "" {
			ranged.Add(1)
		}
		serveBytes(data)(w, r)
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "python-runtime.tar.gz")
	old := tempPath(dest, "https://old.example/python-3.11.tar.gz")
	require.NoError(t, os.WriteFile(old, payload(5_000)[1:], 0o644))
	require.NoError(t, os.WriteFile(dest+".tmp", []byte("legacy partial"), 0o644))
	unrelated := filepath.Join(dir, "python-runtime.tar.gz.notes.tmp")
	require.NoError(t, os.WriteFile(unrelated, []byte("keep"), 0o644))

	require.NoError(t, fastFetcher().Fetch(context.Background(), srv.URL, dest, nil))

	assert.Zero(t, ranged.Load(), "a partial file from another URL must not be resumed")
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.NoFileExists(t, old)
	assert.NoFileExists(t, dest+".tmp")
	assert.FileExists(t, unrelated)
}

func TestTempPath_KeyedOnURL(t *testing.T) {
	a := tempPath("/rt/python-runtime.zip", "https://a.example/x.zip")
	b := tempPath("/rt/python-runtime.zip", "https://b.example/x.zip")
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, tempPath("/rt/python-runtime.zip", "https://a.example/x.zip"))
	assert.True(t, strings.HasPrefix(a, "/rt/python-runtime.zip."))
	assert.True(t, strings.HasSuffix(a, ".tmp"))
}

func TestRangeStart(t *testing.T) {
	tests := []struct {
		header string
		want   int64
		ok     bool
	}{
		{"bytes 100-199/200", 100, true},
		{"bytes 0-99/*", 0, true},
		{" bytes 42-99/100 ", 42, true},
		{"bytes */200", 0, false},
		{"items 1-2/3", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := rangeStart(tt.header)
		assert.Equal(t, tt.ok, ok, tt.header)
		assert.Equal(t, tt.want, got, tt.header)
	}
}

func TestFetch_RetriesServerErrors(t *testing.T) {
	data := payload(1000)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "a.bin")
	require.NoError(t, fastFetcher().Fetch(context.Background(), srv.URL, dest, nil))
	assert.Equal(t, int32(3), hits.Load())
}

func TestFetch_GivesUpAfterMaxTries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := fastFetcher().Fetch(context.Background(), srv.URL, filepath.Join(t.TempDir(), "a.bin"), nil)

	assert.True(t, failure.IsKind(err, failure.KindNetworkFailure), "got %v", err)
	assert.Equal(t, int32(DefaultMaxTries), hits.Load())
}

func TestFetch_ClientErrorIsPermanent(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "a.bin")
	err := fastFetcher().Fetch(context.Background(), srv.URL, dest, nil)

	require.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())
	assert.NoFileExists(t, dest)
}

func TestFetch_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000000")
		_, _ = w.Write(payload(1000))
		w.(http.Flusher).Flush()
		cancel()
		<-r.Context().Done()
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "a.bin")
	err := fastFetcher().Fetch(ctx, srv.URL, dest, nil)

	assert.True(t, failure.IsKind(err, failure.KindCancelled), "got %v", err)
	assert.NoFileExists(t, dest)
}

func TestFetch_CountsBytes(t *testing.T) {
	data := payload(4096)
	srv := httptest.NewServer(serveBytes(data))
	defer srv.Close()

	reg := prometheus.NewRegistry()
	m, err := telemetry.NewMetrics(reg)
	require.NoError(t, err)

	require.NoError(t, fastFetcher(WithMetrics(m)).Fetch(context.Background(), srv.URL, filepath.Join(t.TempDir(), "a"), nil))
	expected := `
# HELP aleutian_runtime_download_bytes_total Bytes of runtime artifacts streamed to disk.
# TYPE aleutian_runtime_download_bytes_total counter
aleutian_runtime_download_bytes_total 4096
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "aleutian_runtime_download_bytes_total"))
}
