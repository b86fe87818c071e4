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
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/testsieve/services/selector/vcs"
)

// affectedRequest is the body for the selection endpoints.
type affectedRequest struct {
	// Mode selects the change source: files, diff, staged, commit,
	// branch.
	Mode string `json:"mode" binding:"required"`

	// Files is the explicit list for mode=files.
	Files []string `json:"files,omitempty"`

	// Commit is the hash for mode=commit.
	Commit string `json:"commit,omitempty"`

	// BaseBranch is the base for mode=branch.
	BaseBranch string `json:"base_branch,omitempty"`
}

func (r affectedRequest) toVCS() vcs.Request {
	return vcs.Request{
		Mode:       vcs.ChangeMode(r.Mode),
		Files:      r.Files,
		Commit:     r.Commit,
		BaseBranch: r.BaseBranch,
	}
}

// handleAffected computes the file-level affected set.
func (s *Server) handleAffected(c *gin.Context) {
	var req affectedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	report, err := s.engine.Affected(c.Request.Context(), req.toVCS())
	if err != nil {
		s.logger.Error("affected query failed",
			slog.String("mode", req.Mode),
			slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

// handleAffectedMethods computes the method-level affected set.
func (s *Server) handleAffectedMethods(c *gin.Context) {
	var req affectedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	report, err := s.engine.AffectedMethods(c.Request.Context(), req.toVCS())
	if err != nil {
		s.logger.Error("affected-methods query failed",
			slog.String("mode", req.Mode),
			slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

// handleSymbol resolves a symbol to its declaring file and dependents.
func (s *Server) handleSymbol(c *gin.Context) {
	name := c.Param("name")

	path, ok := s.engine.DeclaringFile(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "symbol not found", "symbol": name})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol":     name,
		"file":       path,
		"dependents": s.engine.Dependents(path),
	})
}

// handleStats reports graph and build statistics.
func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Stats())
}

// handleHealth is the liveness probe.
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
