// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package extensions holds the extension points of the provisioning API.
//
// The API can spawn processes, download archives and install packages, so
// deployments that expose it beyond localhost need to know who called it
// and what they did. The defaults are no-ops suited to a single local
// user; a bearer token and a structured audit log are provided as concrete
// implementations.
//
// # Extension Categories
//
//   - auth.go: Authentication (AuthProvider)
//   - audit.go: Audit logging of mutating operations (AuditLogger)
//
// # Usage
//
//	opts := extensions.DefaultOptions()
//	if token != "" {
//	    opts = opts.WithAuth(extensions.NewTokenAuthProvider(token))
//	}
//	opts = opts.WithAudit(extensions.NewSlogAuditLogger(logger))
//	srv := server.New(svc, server.Options{Extensions: opts})
//
// # Thread Safety
//
// All implementations must be safe for concurrent use.
package extensions

// Options groups all extension points. Nil fields are replaced with no-op
// defaults by DefaultOptions and by Normalize.
type Options struct {
	// AuthProvider validates bearer tokens.
	// Default: NopAuthProvider (always returns the local user)
	AuthProvider AuthProvider

	// AuditLogger records mutating operations.
	// Default: NopAuditLogger (discards events)
	AuditLogger AuditLogger
}

// DefaultOptions returns Options with no-op implementations.
func DefaultOptions() Options {
	return Options{
		AuthProvider: &NopAuthProvider{},
		AuditLogger:  &NopAuditLogger{},
	}
}

// Normalize fills nil fields with their defaults.
func (opts Options) Normalize() Options {
	if opts.AuthProvider == nil {
		opts.AuthProvider = &NopAuthProvider{}
	}
	if opts.AuditLogger == nil {
		opts.AuditLogger = &NopAuditLogger{}
	}
	return opts
}

// WithAuth returns a copy with the given auth provider.
func (opts Options) WithAuth(provider AuthProvider) Options {
	opts.AuthProvider = provider
	return opts
}

// WithAudit returns a copy with the given audit logger.
func (opts Options) WithAudit(logger AuditLogger) Options {
	opts.AuditLogger = logger
	return opts
}
