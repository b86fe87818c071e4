// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package server exposes the selection engine over HTTP for CI runners
// and editor integrations that prefer a long-lived process with a warm
// graph over repeated CLI invocations.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/AleutianAI/testsieve/services/selector"
	"github.com/AleutianAI/testsieve/services/selector/config"
)

// Server hosts the selection API.
//
// # Thread Safety
//
// The engine serializes builds internally; handlers may run
// concurrently.
type Server struct {
	engine *selector.Engine
	cfg    config.ServerConfig
	router *gin.Engine
	logger *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a Server around an engine.
//
// # Description
//
// Installs a Prometheus reader on the global OpenTelemetry meter
// provider so the histograms the analysis packages record show up at
// /metrics. A failed exporter setup degrades to no metrics, never to
// a failed server.
//
// # Inputs
//
//   - engine: The selection engine. Must not be nil.
//   - cfg: HTTP tuning; see config.ServerConfig.
//
// # Outputs
//
//   - *Server: Ready to Run.
func New(engine *selector.Engine, cfg config.ServerConfig, opts ...Option) *Server {
	s := &Server{
		engine: engine,
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if exporter, err := otelprom.New(); err == nil {
		otel.SetMeterProvider(sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(exporter)))
	} else {
		s.logger.Warn("prometheus exporter setup failed, /metrics will be empty",
			slog.String("error", err.Error()))
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("testsieve"))
	s.router = router

	s.registerRoutes()
	return s
}

// Router returns the underlying gin engine for testing.
func (s *Server) Router() *gin.Engine { return s.router }

// registerRoutes wires the API surface.
func (s *Server) registerRoutes() {
	s.router.GET("/healthz", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/v1")
	{
		v1.POST("/affected", s.handleAffected)
		v1.POST("/affected/methods", s.handleAffectedMethods)
		v1.GET("/symbols/:name", s.handleSymbol)
		v1.GET("/stats", s.handleStats)
	}
}

// Run serves until the context is canceled, then shuts down gracefully.
//
// # Outputs
//
//   - error: Non-nil on listener failure; a canceled context returns
//     nil after drain.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", slog.String("addr", s.cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	}
}
