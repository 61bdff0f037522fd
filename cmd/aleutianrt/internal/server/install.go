// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/pipeline"
	"github.com/AleutianAI/AleutianRuntime/pkg/extensions"
)

// appSchemes are origins a desktop shell serves its frontend from.
var appSchemes = []string{"file", "app", "tauri"}

func (s *Server) newUpgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  4 * 1024,
		WriteBufferSize: 16 * 1024,
		CheckOrigin:     s.checkOrigin,
	}
}

// checkOrigin admits any origin once a token gates /v1. Without a token
// only local and desktop-shell origins may open the socket.
func (s *Server) checkOrigin(r *http.Request) bool {
	if _, open := s.ext.AuthProvider.(*extensions.NopAuthProvider); !open {
		return true
	}
	return localOrigin(r.Header.Get("Origin"))
}

// localOrigin reports whether origin is absent, opaque, an app scheme,
// or an http(s) origin on a loopback host.
func localOrigin(origin string) bool {
	if origin == "" || origin == "null" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	for _, app := range appSchemes {
		if scheme == app {
			return true
		}
	}
	if scheme != "http" && scheme != "https" {
		return false
	}
	host := u.Hostname()
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// WSMessage is one message on the installation WebSocket.
type WSMessage struct {
	Type   string                  `json:"type"`
	Event  *pipeline.ProgressEvent `json:"event,omitempty"`
	Result *pipeline.Result        `json:"result,omitempty"`
	Error  *ErrorResponse          `json:"error,omitempty"`
}

// forward relays every event of run to send, pinging on idle, and returns
// once the stream closes. Send errors are logged and the stream drained so
// the run is never left writing into a full channel.
func (s *Server) forward(run *pipeline.Run, send func(pipeline.ProgressEvent) error, ping func() error) {
	ticker := time.NewTicker(s.opts.KeepAlive)
	defer ticker.Stop()

	broken := false
	events := run.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if broken {
				continue
			}
			if err := send(ev); err != nil {
				s.logger.Warn("install stream write failed", "run_id", run.ID, "error", err)
				broken = true
			}
		case <-ticker.C:
			if !broken && ping != nil {
				if err := ping(); err != nil {
					broken = true
				}
			}
		}
	}
}

// handleInstallSSE streams an installation as Server-Sent Events.
//
// A rejected start (another installation running) is a plain JSON error
// with status 409. Once streaming begins the status is always 200 and the
// outcome arrives as a final "result" or "error" event.
func (s *Server) handleInstallSSE(c *gin.Context) {
	run, err := s.prov.RunInstallationPipeline(c.Request.Context(), pipeline.Options{})
	if err != nil {
		s.audit(c, "runtime.install", "runtime", "", err)
		abortWithError(c, err)
		return
	}

	SetHeaders(c.Writer)
	c.Writer.WriteHeader(http.StatusOK)
	sse, err := NewSSEWriter(c.Writer)
	if err != nil {
		s.logger.Error("streaming unsupported", "error", err)
		_, _ = run.Wait()
		return
	}

	s.forward(run,
		func(ev pipeline.ProgressEvent) error { return sse.WriteEvent(EventProgress, ev) },
		sse.WriteKeepAlive,
	)

	result, err := run.Wait()
	s.audit(c, "runtime.install", "runtime", run.ID, err)
	if err != nil {
		_ = sse.WriteEvent(EventError, newErrorResponse(err))
		return
	}
	_ = sse.WriteEvent(EventResult, result)
}

// handleInstallWS streams an installation over a WebSocket. Closing the
// socket cancels the run.
func (s *Server) handleInstallWS(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("failed to upgrade the websocket", "error", err)
		return
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Reads only detect the peer going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	run, err := s.prov.RunInstallationPipeline(ctx, pipeline.Options{})
	if err != nil {
		s.audit(c, "runtime.install", "runtime", "", err)
		resp := newErrorResponse(err)
		_ = ws.WriteJSON(WSMessage{Type: EventError, Error: &resp})
		return
	}

	s.forward(run,
		func(ev pipeline.ProgressEvent) error {
			return ws.WriteJSON(WSMessage{Type: EventProgress, Event: &ev})
		},
		func() error {
			return ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
		},
	)

	result, err := run.Wait()
	s.audit(c, "runtime.install", "runtime", run.ID, err)
	if err != nil {
		resp := newErrorResponse(err)
		_ = ws.WriteJSON(WSMessage{Type: EventError, Error: &resp})
	} else {
		_ = ws.WriteJSON(WSMessage{Type: EventResult, Result: &result})
	}
	_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
}
