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
Package server exposes the provisioning operations over HTTP.

JSON endpoints live under /v1. Runtime installation streams progress as
Server-Sent Events on POST /v1/runtime/install, or as JSON messages over a
WebSocket on GET /v1/runtime/install/ws. The stream is tied to the request:
a client that disconnects cancels its installation.

Every /v1 request passes through Options.Extensions.AuthProvider. Mutating
operations are recorded through Options.Extensions.AuditLogger.
*/
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/catalog"
	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/hardware"
	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/pipeline"
	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/provision"
	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/resolver"
	"github.com/AleutianAI/AleutianRuntime/pkg/extensions"
)

// Provisioner is the operation surface the server exposes.
// *provision.Service satisfies it.
type Provisioner interface {
	HardwareProfile(ctx context.Context) (hardware.Profile, error)
	ModelCatalog() []catalog.Entry
	ResolveDependency(ctx context.Context, kind resolver.Kind) resolver.DependencyStatus
	ResolveAll(ctx context.Context) map[resolver.Kind]resolver.DependencyStatus
	EnsureServiceRunning(ctx context.Context) (provision.Message, error)
	PrepareBundledService(ctx context.Context) (provision.Message, error)
	ServiceHealthy(ctx context.Context) bool
	DownloadModel(ctx context.Context, name string) (provision.Message, error)
	ListInstalledModels(ctx context.Context) ([]string, error)
	QueryService(ctx context.Context, model, prompt string) (provision.QueryResult, error)
	RuntimePath(ctx context.Context) (string, error)
	RunInstallationPipeline(ctx context.Context, opts pipeline.Options) (*pipeline.Run, error)
}

// Options configure a Server.
type Options struct {
	// ServiceName labels spans from the otelgin middleware.
	ServiceName string

	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer

	// KeepAlive is the SSE keepalive interval. Defaults to 15s.
	KeepAlive time.Duration

	// Extensions supply authentication and audit logging for /v1.
	// Zero value means no authentication and no audit trail.
	Extensions extensions.Options

	Logger *slog.Logger
}

// Server routes HTTP requests to a Provisioner.
type Server struct {
	prov   Provisioner
	opts   Options
	ext    extensions.Options
	router *gin.Engine

	upgrader *websocket.Upgrader
	logger *slog.Logger
}

// New builds the router.
func New(p Provisioner, opts Options) *Server {
	if opts.ServiceName == "" {
		opts.ServiceName = "aleutian-runtime"
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = 15 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Server{prov: p, opts: opts, ext: opts.Extensions.Normalize(), logger: opts.Logger}
	s.upgrader = s.newUpgrader()
	s.initRouter()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) initRouter() {
	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(otelgin.Middleware(s.opts.ServiceName))

	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if s.opts.Gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := s.router.Group("/v1", s.authenticate)
	{
		v1.GET("/hardware", s.handleHardware)

		v1.GET("/models/catalog", s.handleCatalog)
		v1.GET("/models", s.handleListModels)
		v1.POST("/models/pull", s.handlePullModel)
		v1.POST("/query", s.handleQuery)

		v1.GET("/dependencies", s.handleResolveAll)
		v1.GET("/dependencies/:kind", s.handleResolve)

		v1.GET("/service/health", s.handleServiceHealth)
		v1.POST("/service/ensure", s.handleEnsure)
		v1.POST("/service/prepare", s.handlePrepare)

		v1.GET("/runtime/path", s.handleRuntimePath)
		v1.POST("/runtime/install", s.handleInstallSSE)
		v1.GET("/runtime/install/ws", s.handleInstallWS)
	}
}

// ListenAndServe serves on addr until ctx is cancelled, then drains
// in-flight requests for up to ten seconds.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("api shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}
