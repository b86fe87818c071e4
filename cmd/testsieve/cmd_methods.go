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

var (
	methodsDiff   bool
	methodsStaged bool
	methodsCommit string
	methodsBranch string
)

var methodsCmd = &cobra.Command{
	Use:   "methods",
	Short: "List methods affected by a change",
	Long: `Map changed lines onto method spans and walk the call graph backwards.
Finer-grained than 'affected' but blind to edits outside method bodies;
combine both for safe selection.

Requires a line-level diff, so an explicit file list is not accepted.

Examples:
  testsieve methods --diff
  testsieve methods --branch main --json`,
	Args: cobra.NoArgs,
	RunE: runMethods,
}

func init() {
	methodsCmd.Flags().BoolVar(&methodsDiff, "diff", false,
		"Analyze uncommitted changes (git diff)")
	methodsCmd.Flags().BoolVar(&methodsStaged, "staged", false,
		"Analyze staged changes (git diff --cached)")
	methodsCmd.Flags().StringVar(&methodsCommit, "commit", "",
		"Analyze a specific commit")
	methodsCmd.Flags().StringVar(&methodsBranch, "branch", "",
		"Analyze changes since branch point (e.g., main)")
}

func runMethods(cmd *cobra.Command, args []string) error {
	req, err := resolveRequest(methodsDiff, methodsStaged, methodsCommit, methodsBranch, nil)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	engine, err := selector.New(cfg, selector.WithLogger(logger.Slog()))
	if err != nil {
		return err
	}

	report, err := engine.AffectedMethods(ctx, req)
	if err != nil {
		return err
	}

	if flagJSON {
		return emitJSON(report)
	}

	heading(fmt.Sprintf("Affected methods (%d)", len(report.AffectedMethods)))
	for _, method := range report.AffectedMethods {
		fmt.Println(method)
	}
	note("%d files with touched methods", len(report.ChangedMethods))
	return nil
}
