// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package vcs

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

// ChangedLines maps file path -> touched line numbers on the new side
// of the diff, sorted ascending. Deleted files have no entry: there is
// no new side to attribute lines to.
type ChangedLines map[string][]int

// Lines resolves changed line numbers for the request, for mapping
// edits onto method spans.
//
// # Description
//
// Runs the unified-diff form of the request's mode and parses it with
// go-diff. Added lines map directly to new-side line numbers; for a
// deletion the line after the removal site is marked, so an edit that
// only removes code still lands inside the surrounding method's span.
//
// # Inputs
//
//   - ctx: Context for cancellation. Must not be nil.
//   - req: Which changed set to resolve. ModeFiles has no diff to
//     parse and returns an error.
//
// # Outputs
//
//   - ChangedLines: Per-file new-side line numbers.
//   - error: Non-nil if git fails or the diff cannot be parsed.
func (g *GitClient) Lines(ctx context.Context, req Request) (ChangedLines, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}

	var args []string
	switch req.Mode {
	case ModeDiff:
		args = []string{"diff", "--unified=0"}
	case ModeStaged:
		args = []string{"diff", "--cached", "--unified=0"}
	case ModeCommit:
		if req.Commit == "" {
			return nil, fmt.Errorf("commit hash required for commit mode")
		}
		args = []string{"show", "--unified=0", "--format=", req.Commit}
	case ModeBranch:
		if req.BaseBranch == "" {
			return nil, fmt.Errorf("base branch required for branch mode")
		}
		if err := g.verifyRef(ctx, req.BaseBranch); err != nil {
			return nil, err
		}
		args = []string{"diff", "--unified=0", req.BaseBranch + "...HEAD"}
	default:
		return nil, fmt.Errorf("change mode %s has no line-level diff", req.Mode)
	}

	out, err := g.run(ctx, args)
	if err != nil {
		return nil, err
	}
	return parseChangedLines([]byte(out))
}

// parseChangedLines extracts new-side line numbers from a unified diff.
func parseChangedLines(raw []byte) (ChangedLines, error) {
	fileDiffs, err := diff.ParseMultiFileDiff(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing unified diff: %w", err)
	}

	result := make(ChangedLines, len(fileDiffs))
	for _, fd := range fileDiffs {
		path := stripDiffPrefix(fd.NewName)
		if path == "" || path == "/dev/null" {
			continue
		}

		seen := make(map[int]struct{})
		for _, hunk := range fd.Hunks {
			for _, line := range hunkNewLines(hunk) {
				seen[line] = struct{}{}
			}
		}
		if len(seen) == 0 {
			continue
		}

		lines := make([]int, 0, len(seen))
		for line := range seen {
			lines = append(lines, line)
		}
		sort.Ints(lines)
		result[filepath.ToSlash(path)] = lines
	}
	return result, nil
}

// hunkNewLines walks one hunk body tracking the new-side line counter.
func hunkNewLines(hunk *diff.Hunk) []int {
	var out []int
	newLine := int(hunk.NewStartLine)
	sawDeletion := false

	for _, body := range strings.Split(string(hunk.Body), "\n") {
		if body == "" {
			continue
		}
		switch body[0] {
		case '+':
			out = append(out, newLine)
			newLine++
			sawDeletion = false
		case '-':
			sawDeletion = true
		default:
			newLine++
			sawDeletion = false
		}
	}

	// Pure-deletion hunk: anchor on the new-side line following the
	// removal so the enclosing method still registers as edited.
	if len(out) == 0 && sawDeletion {
		anchor := newLine
		if anchor < 1 {
			anchor = 1
		}
		out = append(out, anchor)
	}
	return out
}

// stripDiffPrefix removes the "a/" or "b/" git diff prefix.
func stripDiffPrefix(name string) string {
	if len(name) > 2 && (strings.HasPrefix(name, "a/") || strings.HasPrefix(name, "b/")) {
		return name[2:]
	}
	return name
}
