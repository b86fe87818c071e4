// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package vcs resolves "what changed" from the working copy's git
// state, at file granularity for graph-level selection and at line
// granularity for method-level attribution.
package vcs

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// ChangeMode selects where the changed set comes from.
type ChangeMode string

const (
	// ModeFiles uses an explicit file list, bypassing git.
	ModeFiles ChangeMode = "files"

	// ModeDiff uses unstaged working-tree changes.
	ModeDiff ChangeMode = "diff"

	// ModeStaged uses the index.
	ModeStaged ChangeMode = "staged"

	// ModeCommit uses a single commit's changes.
	ModeCommit ChangeMode = "commit"

	// ModeBranch uses the three-dot diff against a base branch.
	ModeBranch ChangeMode = "branch"
)

// ChangeType classifies one changed file.
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeDeleted  ChangeType = "deleted"
	ChangeRenamed  ChangeType = "renamed"
	ChangeCopied   ChangeType = "copied"
)

// ChangedFile is one entry of the changed set.
type ChangedFile struct {
	// Path is the current path, slash-separated, repo-relative.
	Path string `json:"path"`

	// OldPath is set for renames and copies.
	OldPath string `json:"old_path,omitempty"`

	// Type classifies the change.
	Type ChangeType `json:"type"`
}

// Request specifies which changed set to resolve.
type Request struct {
	// Mode selects the source of changes.
	Mode ChangeMode

	// Files is the explicit list for ModeFiles.
	Files []string

	// Commit is the hash for ModeCommit.
	Commit string

	// BaseBranch is the base for ModeBranch.
	BaseBranch string
}

// GitClient shells out to git for change detection.
//
// # Thread Safety
//
// GitClient is safe for concurrent use.
type GitClient struct {
	workDir string
}

// NewGitClient creates a GitClient rooted at the project directory.
//
// # Inputs
//
//   - workDir: Working directory (project root). Must not be empty.
//
// # Outputs
//
//   - *GitClient: The git client instance.
func NewGitClient(workDir string) *GitClient {
	return &GitClient{workDir: workDir}
}

// IsGitRepo checks if the working directory is inside a git repository.
func (g *GitClient) IsGitRepo() bool {
	cmd := exec.Command("git", "rev-parse", "--git-dir")
	cmd.Dir = g.workDir
	return cmd.Run() == nil
}

// Changed resolves the changed set for the request.
//
// # Inputs
//
//   - ctx: Context for cancellation. Must not be nil.
//   - req: Which changed set to resolve.
//
// # Outputs
//
//   - []ChangedFile: The changed set, one entry per file.
//   - error: Non-nil if the git operation fails or the request is
//     incomplete for its mode.
func (g *GitClient) Changed(ctx context.Context, req Request) ([]ChangedFile, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}

	switch req.Mode {
	case ModeFiles:
		// Explicit lists carry no git status; modified is the neutral
		// classification for impact purposes.
		result := make([]ChangedFile, 0, len(req.Files))
		for _, f := range req.Files {
			result = append(result, ChangedFile{
				Path: filepath.ToSlash(f),
				Type: ChangeModified,
			})
		}
		return result, nil
	case ModeDiff:
		return g.runNameStatus(ctx, []string{"diff", "--name-status"})
	case ModeStaged:
		return g.runNameStatus(ctx, []string{"diff", "--cached", "--name-status"})
	case ModeCommit:
		if req.Commit == "" {
			return nil, fmt.Errorf("commit hash required for commit mode")
		}
		return g.runNameStatus(ctx, []string{"show", "--name-status", "--format=", req.Commit})
	case ModeBranch:
		if req.BaseBranch == "" {
			return nil, fmt.Errorf("base branch required for branch mode")
		}
		if err := g.verifyRef(ctx, req.BaseBranch); err != nil {
			return nil, err
		}
		return g.runNameStatus(ctx, []string{"diff", "--name-status", req.BaseBranch + "...HEAD"})
	default:
		return nil, fmt.Errorf("unknown change mode: %s", req.Mode)
	}
}

// runNameStatus executes a git command and parses --name-status output.
func (g *GitClient) runNameStatus(ctx context.Context, args []string) ([]ChangedFile, error) {
	out, err := g.run(ctx, args)
	if err != nil {
		return nil, err
	}
	return parseNameStatus(out)
}

// run executes git with the given args and returns stdout.
func (g *GitClient) run(ctx context.Context, args []string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.workDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, stderr.String())
	}
	return stdout.String(), nil
}

// parseNameStatus turns --name-status lines into the changed set. Each
// line is a status letter, a tab, and one path — or two paths for
// renames and copies, whose status letters carry a similarity score
// ("R100"). Only the leading letter matters here.
func parseNameStatus(output string) ([]ChangedFile, error) {
	var result []ChangedFile

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Split(line, "\t")
		if len(parts) < 2 {
			continue
		}

		cf := ChangedFile{Path: filepath.ToSlash(parts[1])}
		switch parts[0][0] {
		case 'A':
			cf.Type = ChangeAdded
		case 'D':
			cf.Type = ChangeDeleted
		case 'R', 'C':
			cf.Type = ChangeRenamed
			if parts[0][0] == 'C' {
				cf.Type = ChangeCopied
			}
			if len(parts) >= 3 {
				cf.OldPath = filepath.ToSlash(parts[1])
				cf.Path = filepath.ToSlash(parts[2])
			}
		default:
			// M, T (type change) and anything exotic select the same
			// downstream behavior: re-extract the file.
			cf.Type = ChangeModified
		}

		result = append(result, cf)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("parsing git output: %w", err)
	}
	return result, nil
}

// verifyRef checks that a ref resolves.
func (g *GitClient) verifyRef(ctx context.Context, ref string) error {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--verify", ref)
	cmd.Dir = g.workDir

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ref %q not found: %w: %s", ref, err, stderr.String())
	}
	return nil
}

// MergeBase returns the merge base between HEAD and a ref.
func (g *GitClient) MergeBase(ctx context.Context, ref string) (string, error) {
	out, err := g.run(ctx, []string{"merge-base", ref, "HEAD"})
	if err != nil {
		return "", fmt.Errorf("getting merge base: %w", err)
	}
	return strings.TrimSpace(out), nil
}
