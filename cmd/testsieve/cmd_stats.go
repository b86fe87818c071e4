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
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/testsieve/services/selector"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show graph and cache statistics",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	engine, err := selector.New(cfg, selector.WithLogger(logger.Slog()))
	if err != nil {
		return err
	}
	if _, err := engine.Refresh(ctx); err != nil {
		return err
	}

	stats := engine.Stats()
	if flagJSON {
		return emitJSON(stats)
	}

	heading("Graph")
	fmt.Printf("  files:   %d\n", stats.Files)
	fmt.Printf("  symbols: %d\n", stats.Symbols)
	fmt.Printf("  edges:   %d\n", stats.Edges)
	fmt.Printf("  methods: %d\n", stats.Methods)

	heading("Last build")
	fmt.Printf("  id:         %s\n", stats.Build.BuildID)
	fmt.Printf("  extracted:  %d\n", stats.Build.FilesExtracted)
	fmt.Printf("  from cache: %d\n", stats.Build.FilesFromCache)
	fmt.Printf("  duration:   %s\n", stats.Build.Duration.Round(time.Millisecond))

	heading("Cache")
	fmt.Printf("  dir:   %s\n", stats.Build.Cache.Dir)
	fmt.Printf("  graph: %d bytes\n", stats.Build.Cache.GraphBytes)
	fmt.Printf("  age:   %s\n", stats.Build.Cache.Age.Round(time.Second))
	return nil
}
