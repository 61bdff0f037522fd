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
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/failure"
	"github.com/AleutianAI/AleutianRuntime/pkg/extensions"
)

const authInfoKey = "auth_info"

// authenticate validates the bearer token on every /v1 request.
//
// Browsers cannot set headers on a WebSocket handshake, so a "token" query
// parameter is accepted as a fallback.
func (s *Server) authenticate(c *gin.Context) {
	token := bearerToken(c.GetHeader("Authorization"))
	if token == "" {
		token = c.Query("token")
	}

	info, err := s.ext.AuthProvider.Validate(c.Request.Context(), token)
	if err != nil {
		status := http.StatusUnauthorized
		if !errors.Is(err, extensions.ErrUnauthorized) {
			status = http.StatusInternalServerError
		}
		s.logger.Warn("request rejected", "path", c.FullPath(), "client_ip", c.ClientIP(), "error", err)
		c.Header("WWW-Authenticate", `Bearer realm="aleutian-runtime"`)
		c.AbortWithStatusJSON(status, ErrorResponse{Error: err.Error(), Kind: "unauthorized"})
		return
	}
	c.Set(authInfoKey, info)
	c.Next()
}

func bearerToken(header string) string {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// audit records a mutating operation. Logging failures are reported but
// never fail the request.
func (s *Server) audit(c *gin.Context, eventType, resourceType, resourceID string, err error) {
	event := extensions.AuditEvent{
		EventType:    eventType,
		Action:       eventType[strings.LastIndexByte(eventType, '.')+1:],
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Outcome:      "success",
		Metadata:     map[string]any{"client_ip": c.ClientIP()},
	}
	if v, ok := c.Get(authInfoKey); ok {
		if info, ok := v.(*extensions.AuthInfo); ok {
			event.UserID = info.UserID
		}
	}
	if err != nil {
		event.Outcome = "failure"
		if failure.IsKind(err, failure.KindLockHeld) {
			event.Outcome = "rejected"
		}
		event.Metadata["error"] = err.Error()
		event.Metadata["kind"] = failure.KindOf(err).String()
	}

	if lerr := s.ext.AuditLogger.Log(c.Request.Context(), event); lerr != nil {
		s.logger.Warn("audit log failed", "event_type", eventType, "error", lerr)
	}
}
