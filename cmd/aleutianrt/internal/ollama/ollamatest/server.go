// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ollamatest provides an in-memory inference service for tests.
package ollamatest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
)

// Server answers /api/tags, /api/generate and /api/pull.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	models   []string
	response string
	pullErr  string
	down     atomic.Bool

	// Requests counts every request by path.
	requests sync.Map
}

// NewServer starts a server reporting models as installed.
func NewServer(models ...string) *Server {
	s := &Server{models: models, response: "ok"}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// SetResponse sets the text /api/generate returns.
func (s *Server) SetResponse(text string) {
	s.mu.Lock()
	s.response = text
	s.mu.Unlock()
}

// FailPulls makes /api/pull stream an error line.
func (s *Server) FailPulls(msg string) {
	s.mu.Lock()
	s.pullErr = msg
	s.mu.Unlock()
}

// SetDown makes every endpoint answer 503.
func (s *Server) SetDown(down bool) {
	s.down.Store(down)
}

// Models returns the installed model names.
func (s *Server) Models() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.models...)
}

// Count returns how many requests hit path.
func (s *Server) Count(path string) int64 {
	v, ok := s.requests.Load(path)
	if !ok {
		return 0
	}
	return v.(*atomic.Int64).Load()
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	n, _ := s.requests.LoadOrStore(r.URL.Path, new(atomic.Int64))
	n.(*atomic.Int64).Add(1)

	if s.down.Load() {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	switch r.URL.Path {
	case "/api/tags":
		type model struct {
			Name string `json:"name"`
		}
		var out struct {
			Models []model `json:"models"`
		}
		for _, m := range s.Models() {
			out.Models = append(out.Models, model{Name: m})
		}
		_ = json.NewEncoder(w).Encode(out)

	case "/api/generate":
		var req struct {
			Model  string `json:"model"`
			Prompt string `json:"prompt"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		resp := s.response
		s.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"model": req.Model, "response": resp, "done": true})

	case "/api/pull":
		var req struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		pullErr := s.pullErr
		s.mu.Unlock()

		enc := json.NewEncoder(w)
		_ = enc.Encode(map[string]any{"status": "pulling manifest"})
		if pullErr != "" {
			_ = enc.Encode(map[string]any{"error": pullErr})
			return
		}
		_ = enc.Encode(map[string]any{"status": "downloading", "digest": "sha256:0", "total": 100, "completed": 100})

		s.mu.Lock()
		s.models = append(s.models, req.Name)
		s.mu.Unlock()
		_ = enc.Encode(map[string]any{"status": "success"})

	default:
		http.NotFound(w, r)
	}
}
