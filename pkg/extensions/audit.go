// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// AuditEvent records one mutating operation.
//
// EventType is "category.action", for example "service.start",
// "model.pull" or "runtime.install".
//
// Example:
//
//	event := AuditEvent{
//	    EventType:    "model.pull",
//	    UserID:       auth.UserID,
//	    Action:       "pull",
//	    ResourceType: "model",
//	    ResourceID:   "tinyllama",
//	    Outcome:      "success",
//	}
type AuditEvent struct {
	EventType string `json:"event_type"`

	// Timestamp is set to time.Now().UTC() by loggers when zero.
	Timestamp time.Time `json:"timestamp"`

	// UserID is "anonymous" when unknown.
	UserID string `json:"user_id"`

	Action       string `json:"action"`
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id,omitempty"`

	// Outcome is "success", "failure" or "rejected".
	Outcome string `json:"outcome"`

	// Metadata carries event-specific details such as "error" or
	// "client_ip".
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (e AuditEvent) normalized() AuditEvent {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.UserID == "" {
		e.UserID = "anonymous"
	}
	return e
}

// AuditLogger records audit events.
type AuditLogger interface {
	// Log records an event. It must return quickly.
	Log(ctx context.Context, event AuditEvent) error

	// Flush persists buffered events before shutdown.
	Flush(ctx context.Context) error
}

// NopAuditLogger discards all events.
type NopAuditLogger struct{}

// Log discards the event.
func (l *NopAuditLogger) Log(context.Context, AuditEvent) error { return nil }

// Flush is a no-op.
func (l *NopAuditLogger) Flush(context.Context) error { return nil }

// -----------------------------------------------------------------------------
// SlogAuditLogger
// -----------------------------------------------------------------------------

// SlogAuditLogger writes each event as an "audit" record at info level.
// Records go wherever the logger's handler sends them, which for the CLI
// includes the dated JSON log file.
type SlogAuditLogger struct {
	logger *slog.Logger
}

// NewSlogAuditLogger wraps logger. Nil means slog.Default().
func NewSlogAuditLogger(logger *slog.Logger) *SlogAuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogAuditLogger{logger: logger.With("component", "audit")}
}

// Log writes the event.
func (l *SlogAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	event = event.normalized()
	attrs := []any{
		"event_type", event.EventType,
		"user_id", event.UserID,
		"action", event.Action,
		"resource_type", event.ResourceType,
		"outcome", event.Outcome,
		"at", event.Timestamp,
	}
	if event.ResourceID != "" {
		attrs = append(attrs, "resource_id", event.ResourceID)
	}
	if len(event.Metadata) > 0 {
		attrs = append(attrs, "metadata", event.Metadata)
	}
	l.logger.InfoContext(ctx, "audit", attrs...)
	return nil
}

// Flush is a no-op; slog handlers write synchronously.
func (l *SlogAuditLogger) Flush(context.Context) error { return nil }

// -----------------------------------------------------------------------------
// MemoryAuditLogger
// -----------------------------------------------------------------------------

// AuditFilter selects events from a MemoryAuditLogger. Zero fields match
// everything; set fields are combined with AND.
type AuditFilter struct {
	EventTypes []string
	UserID     string
	Since      time.Time
}

// MemoryAuditLogger keeps events in memory, newest last. Used by tests and
// by embedders that surface recent activity.
type MemoryAuditLogger struct {
	mu     sync.Mutex
	events []AuditEvent
}

// Log appends the event.
func (l *MemoryAuditLogger) Log(_ context.Context, event AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event.normalized())
	return nil
}

// Flush is a no-op.
func (l *MemoryAuditLogger) Flush(context.Context) error { return nil }

// Query returns the events matching filter, oldest first.
func (l *MemoryAuditLogger) Query(filter AuditFilter) []AuditEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []AuditEvent
	for _, e := range l.events {
		if len(filter.EventTypes) > 0 && !slices.Contains(filter.EventTypes, e.EventType) {
			continue
		}
		if filter.UserID != "" && e.UserID != filter.UserID {
			continue
		}
		if !filter.Since.IsZero() && e.Timestamp.Before(filter.Since) {
			continue
		}
		out = append(out, e)
	}
	return out
}

var (
	_ AuditLogger = (*NopAuditLogger)(nil)
	_ AuditLogger = (*SlogAuditLogger)(nil)
	_ AuditLogger = (*MemoryAuditLogger)(nil)
)
