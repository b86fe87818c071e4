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
	"github.com/AleutianAI/testsieve/services/selector/vcs"
)

var (
	affectedDiff   bool
	affectedStaged bool
	affectedCommit string
	affectedBranch string
)

var affectedCmd = &cobra.Command{
	Use:   "affected [files...]",
	Short: "List files affected by a change",
	Long: `List every file transitively affected by a change, the changed files
included. The graph is refreshed incrementally first, so only edited
files are re-parsed.

Change Detection Modes:
  --diff       Uncommitted changes (default)
  --staged     Staged changes only
  --commit     A specific commit
  --branch     Changes since branch point
  [files...]   Explicit files

Examples:
  testsieve affected --diff
  testsieve affected --branch main --json
  testsieve affected src/Models/User.php`,
	Args: cobra.ArbitraryArgs,
	RunE: runAffected,
}

func init() {
	affectedCmd.Flags().BoolVar(&affectedDiff, "diff", false,
		"Analyze uncommitted changes (git diff)")
	affectedCmd.Flags().BoolVar(&affectedStaged, "staged", false,
		"Analyze staged changes (git diff --cached)")
	affectedCmd.Flags().StringVar(&affectedCommit, "commit", "",
		"Analyze a specific commit")
	affectedCmd.Flags().StringVar(&affectedBranch, "branch", "",
		"Analyze changes since branch point (e.g., main)")
}

// resolveRequest maps the mode flags onto a vcs.Request, enforcing at
// most one mode and defaulting to --diff.
func resolveRequest(diff, staged bool, commit, branch string, files []string) (vcs.Request, error) {
	var req vcs.Request
	modeCount := 0
	if diff {
		req.Mode = vcs.ModeDiff
		modeCount++
	}
	if staged {
		req.Mode = vcs.ModeStaged
		modeCount++
	}
	if commit != "" {
		req.Mode = vcs.ModeCommit
		req.Commit = commit
		modeCount++
	}
	if branch != "" {
		req.Mode = vcs.ModeBranch
		req.BaseBranch = branch
		modeCount++
	}
	if len(files) > 0 {
		req.Mode = vcs.ModeFiles
		req.Files = files
		modeCount++
	}
	if modeCount > 1 {
		return req, fmt.Errorf("multiple change modes specified; use only one of --diff, --staged, --commit, --branch, or [files...]")
	}
	if modeCount == 0 {
		req.Mode = vcs.ModeDiff
	}
	return req, nil
}

func runAffected(cmd *cobra.Command, args []string) error {
	req, err := resolveRequest(affectedDiff, affectedStaged, affectedCommit, affectedBranch, args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	engine, err := selector.New(cfg, selector.WithLogger(logger.Slog()))
	if err != nil {
		return err
	}

	report, err := engine.Affected(ctx, req)
	if err != nil {
		return err
	}

	if flagJSON {
		return emitJSON(report)
	}

	heading(fmt.Sprintf("Affected files (%d)", len(report.Affected)))
	for _, path := range report.Affected {
		fmt.Println(path)
	}
	note("%d changed, %d affected", len(report.Changed), len(report.Affected))
	return nil
}
