// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scan enumerates the candidate source files of a project
// tree, honoring .gitignore and the usual noise directories.
package scan

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
)

// Default extensions considered source files.
var defaultExtensions = []string{".php"}

// Directories never descended into, gitignore or not.
var skipDirs = map[string]struct{}{
	".git":         {},
	".svn":         {},
	".hg":          {},
	"node_modules": {},
	"vendor":       {},
}

// Scanner walks a project tree and returns candidate files.
//
// # Thread Safety
//
// A Scanner is immutable after construction and safe for concurrent
// use.
type Scanner struct {
	root       string
	extensions []string
	matcher    *ignore.GitIgnore
	logger     *slog.Logger
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithExtensions overrides the file extensions to collect.
func WithExtensions(exts []string) Option {
	return func(s *Scanner) {
		if len(exts) > 0 {
			s.extensions = exts
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scanner) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a Scanner rooted at root. A .gitignore at the root is
// compiled if present; a missing or malformed one is ignored with a
// debug log — scanning must not depend on it.
func New(root string, opts ...Option) *Scanner {
	s := &Scanner{
		root:       root,
		extensions: defaultExtensions,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	matcher, err := ignore.CompileIgnoreFile(filepath.Join(root, ".gitignore"))
	if err == nil {
		s.matcher = matcher
	} else {
		s.logger.Debug("no usable .gitignore at project root",
			slog.String("root", root),
			slog.String("error", err.Error()))
	}
	return s
}

// Files walks the tree and returns matching paths, sorted.
//
// # Inputs
//
//   - ctx: Context for cancellation; checked per directory entry.
//
// # Outputs
//
//   - []string: Absolute paths of candidate files, sorted.
//   - error: Non-nil if the walk fails or the context is canceled.
//     Unreadable subdirectories are skipped, not fatal.
func (s *Scanner) Files(ctx context.Context) ([]string, error) {
	var out []string

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			s.logger.Debug("skipping unreadable path",
				slog.String("path", path),
				slog.String("error", err.Error()))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		rel, relErr := filepath.Rel(s.root, path)
		if relErr != nil {
			rel = path
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if path == s.root {
				return nil
			}
			if _, skip := skipDirs[d.Name()]; skip {
				return filepath.SkipDir
			}
			if s.matcher != nil && s.matcher.MatchesPath(rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}

		if !s.wantFile(d.Name()) {
			return nil
		}
		if s.matcher != nil && s.matcher.MatchesPath(rel) {
			return nil
		}
		out = append(out, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", s.root, err)
	}

	sort.Strings(out)
	return out, nil
}

// wantFile checks the extension against the configured set.
func (s *Scanner) wantFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, want := range s.extensions {
		if ext == want {
			return true
		}
	}
	return false
}
