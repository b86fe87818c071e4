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
	"github.com/AleutianAI/testsieve/services/selector/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep the graph warm by rebuilding on file changes",
	Long: `Watch the project tree and refresh the cached graph after each burst
of edits, so the next 'affected' query answers from an already-current
snapshot. Ctrl-C stops the watcher.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, err := selector.New(cfg, selector.WithLogger(logger.Slog()))
	if err != nil {
		return err
	}

	if _, err := engine.Refresh(ctx); err != nil {
		return err
	}
	logger.Info("initial build complete, watching", "root", cfg.Root)

	watcher := watch.New(cfg.Root,
		watch.WithDebounce(cfg.Watch.Debounce),
		watch.WithLogger(logger.Slog()))

	return watcher.Run(ctx, func(rebuildCtx context.Context) {
		stats, err := engine.Refresh(rebuildCtx)
		if err != nil {
			logger.Error("rebuild failed", "error", err.Error())
			return
		}
		logger.Info("graph refreshed",
			"extracted", stats.FilesExtracted,
			"dropped", stats.FilesDropped,
			"duration", stats.Duration.String())
	})
}
