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
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/resolver"
	"github.com/AleutianAI/AleutianRuntime/pkg/validation"
)

// PullRequest is the body of POST /v1/models/pull.
type PullRequest struct {
	Name string `json:"name" binding:"required,max=200"`
}

// QueryRequest is the body of POST /v1/query.
type QueryRequest struct {
	Model  string `json:"model" binding:"required,max=200"`
	Prompt string `json:"prompt" binding:"required"`
}

func (s *Server) handleHardware(c *gin.Context) {
	profile, err := s.prov.HardwareProfile(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (s *Server) handleCatalog(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"models": s.prov.ModelCatalog()})
}

func (s *Server) handleListModels(c *gin.Context) {
	names, err := s.prov.ListInstalledModels(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"models": names})
}

func (s *Server) handlePullModel(c *gin.Context) {
	var req PullRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Kind: "invalid_request"})
		return
	}
	if err := validation.ValidateModelName(strings.TrimSpace(req.Name)); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Kind: "invalid_request"})
		return
	}
	msg, err := s.prov.DownloadModel(c.Request.Context(), req.Name)
	s.audit(c, "model.pull", "model", strings.TrimSpace(req.Name), err)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (s *Server) handleQuery(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Kind: "invalid_request"})
		return
	}
	res, err := s.prov.QueryService(c.Request.Context(), req.Model, req.Prompt)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleResolveAll(c *gin.Context) {
	all := s.prov.ResolveAll(c.Request.Context())
	out := make(map[string]resolver.DependencyStatus, len(all))
	for k, v := range all {
		out[k.String()] = v
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleResolve(c *gin.Context) {
	kind, err := resolver.ParseKind(c.Param("kind"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Kind: "invalid_request"})
		return
	}
	c.JSON(http.StatusOK, s.prov.ResolveDependency(c.Request.Context(), kind))
}

func (s *Server) handleServiceHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"healthy": s.prov.ServiceHealthy(c.Request.Context())})
}

func (s *Server) handleEnsure(c *gin.Context) {
	msg, err := s.prov.EnsureServiceRunning(c.Request.Context())
	s.audit(c, "service.start", "service", "", err)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (s *Server) handlePrepare(c *gin.Context) {
	msg, err := s.prov.PrepareBundledService(c.Request.Context())
	s.audit(c, "service.prepare", "service", "", err)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (s *Server) handleRuntimePath(c *gin.Context) {
	path, err := s.prov.RuntimePath(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": path})
}
