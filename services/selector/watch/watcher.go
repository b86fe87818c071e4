// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package watch triggers incremental rebuilds on filesystem events.
//
// fsnotify does not recurse, so every directory under the root is
// registered individually and newly created directories are added as
// they appear. Event bursts (editor save storms, branch switches) are
// coalesced behind a quiet-period timer and a rate limiter so one
// checkout triggers one rebuild, not hundreds.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"
)

// RebuildFunc is invoked after a coalesced batch of changes.
type RebuildFunc func(ctx context.Context)

// Watcher observes a project tree and fires debounced rebuilds.
type Watcher struct {
	root     string
	debounce time.Duration
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithDebounce sets the quiet period before a rebuild fires.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// New creates a Watcher for the given root.
func New(root string, opts ...Option) *Watcher {
	w := &Watcher{
		root:     root,
		debounce: 400 * time.Millisecond,
		// At most one rebuild per second regardless of event pressure.
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run watches until the context is canceled, invoking rebuild after
// each coalesced batch of events.
//
// # Inputs
//
//   - ctx: Cancellation stops the watch loop.
//   - rebuild: Called on the watch goroutine after the quiet period.
//     Must not be nil.
//
// # Outputs
//
//   - error: Non-nil if the watcher cannot be established; a canceled
//     context returns nil.
func (w *Watcher) Run(ctx context.Context, rebuild RebuildFunc) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer fsw.Close()

	if err := w.addTree(fsw, w.root); err != nil {
		return err
	}

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	pending := false

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Op.Has(fsnotify.Create) {
				// New subdirectories must be registered before files
				// inside them produce events.
				if info, statErr := os.Stat(event.Name); statErr == nil && info.IsDir() {
					if addErr := w.addTree(fsw, event.Name); addErr != nil {
						w.logger.Debug("cannot watch new directory",
							slog.String("path", event.Name),
							slog.String("error", addErr.Error()))
					}
				}
			}
			if !w.relevant(event) {
				continue
			}
			pending = true
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounce)

		case <-timer.C:
			if !pending {
				continue
			}
			pending = false
			if err := w.limiter.Wait(ctx); err != nil {
				return nil
			}
			w.logger.Debug("change batch settled, rebuilding")
			rebuild(ctx)

		case watchErr, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error",
				slog.String("error", watchErr.Error()))
		}
	}
}

// relevant filters events down to content-bearing changes.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op.Has(fsnotify.Chmod) && event.Op&^fsnotify.Chmod == 0 {
		return false
	}
	base := filepath.Base(event.Name)
	if base == "" || base[0] == '.' {
		return false
	}
	return true
}

// addTree registers root and every subdirectory with the watcher.
func (w *Watcher) addTree(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		name := d.Name()
		if path != root && (name == ".git" || name == "node_modules" || name == "vendor") {
			return filepath.SkipDir
		}
		if addErr := fsw.Add(path); addErr != nil {
			w.logger.Debug("cannot watch directory",
				slog.String("path", path),
				slog.String("error", addErr.Error()))
		}
		return nil
	})
}
