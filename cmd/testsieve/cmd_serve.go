// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/testsieve/services/selector"
	"github.com/AleutianAI/testsieve/services/selector/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the selection API over HTTP",
	Long: `Run a long-lived server with a warm graph. CI runners and editor
integrations query POST /v1/affected instead of paying process startup
and snapshot load per question.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "",
		"Listen address (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, err := selector.New(cfg, selector.WithLogger(logger.Slog()))
	if err != nil {
		return err
	}

	// Warm the graph before accepting queries.
	if _, err := engine.Refresh(ctx); err != nil {
		return err
	}

	serverCfg := cfg.Server
	if serveAddr != "" {
		serverCfg.Addr = serveAddr
	}

	srv := server.New(engine, serverCfg, server.WithLogger(logger.Slog()))
	return srv.Run(ctx)
}
