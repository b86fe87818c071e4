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
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/testsieve/services/selector"
)

var buildFull bool

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build or refresh the dependency graph",
	Long: `Scan the project and bring the cached dependency graph up to date.
Run this once to warm the cache; later queries then re-extract only
changed files.

Examples:
  testsieve build
  testsieve build --full`,
	Args: cobra.NoArgs,
	RunE: runBuild,
}

func init() {
	buildCmd.Flags().BoolVar(&buildFull, "full", false,
		"Discard the cache and rebuild from scratch")
}

func runBuild(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	engine, err := selector.New(cfg, selector.WithLogger(logger.Slog()))
	if err != nil {
		return err
	}

	if buildFull {
		if err := engine.Invalidate(); err != nil {
			return err
		}
	}

	stats, err := engine.Refresh(ctx)
	if err != nil {
		return err
	}

	if flagJSON {
		return emitJSON(stats)
	}

	if stats.FullRebuild {
		heading("Full rebuild")
	} else if stats.CacheHit {
		heading("Cache hit, nothing to do")
	} else {
		heading("Incremental build")
	}
	note("extracted=%d from_cache=%d dropped=%d duration=%s",
		stats.FilesExtracted, stats.FilesFromCache, stats.FilesDropped,
		stats.Duration.Round(time.Millisecond))
	return nil
}
