// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package state tracks per-file fingerprints so a build can answer
// "what changed since the last snapshot" without re-reading the world.
//
// Change detection is two-tiered: equal modification time and size mean
// unchanged without touching content (a deliberate trade-off that accepts
// a theoretical mtime+size collision), and a differing stat falls back to
// a content digest so that touched-but-identical files do not force
// re-extraction.
package state

import (
	"log/slog"
	"os"
	"sort"
)

// Registry is the durable record of tracked file fingerprints.
//
// Thread Safety: Registry is NOT safe for concurrent mutation. The
// builder owns it for the duration of a build; snapshots taken via
// Entries are copies.
type Registry struct {
	entries map[string]Fingerprint
	logger  *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the logger used for stat diagnostics.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		entries: make(map[string]Fingerprint),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Restore replaces the registry contents with a persisted entry set.
// Used by the cache layer when loading a snapshot.
func (r *Registry) Restore(entries map[string]Fingerprint) {
	r.entries = make(map[string]Fingerprint, len(entries))
	for path, fp := range entries {
		r.entries[path] = fp
	}
}

// Entries returns a copy of the stored fingerprints for persistence.
func (r *Registry) Entries() map[string]Fingerprint {
	out := make(map[string]Fingerprint, len(r.entries))
	for path, fp := range r.entries {
		out[path] = fp
	}
	return out
}

// Len returns the number of tracked files.
func (r *Registry) Len() int { return len(r.entries) }

// ChangedSince returns every candidate whose current fingerprint differs
// from the stored one (files never seen count as changed) plus every
// stored file absent from the candidate list (deletions).
//
// Candidate membership is checked through a set, keeping the whole pass
// O(candidates + stored), never quadratic. The result is sorted for
// deterministic builds.
func (r *Registry) ChangedSince(candidates []string) []string {
	candidateSet := make(map[string]struct{}, len(candidates))
	for _, path := range candidates {
		candidateSet[path] = struct{}{}
	}

	changed := make([]string, 0)
	for _, path := range candidates {
		if r.isChanged(path) {
			changed = append(changed, path)
		}
	}

	// Deletions: stored but no longer listed.
	for path := range r.entries {
		if _, ok := candidateSet[path]; !ok {
			changed = append(changed, path)
		}
	}

	sort.Strings(changed)
	return changed
}

// isChanged compares one file's current state against the stored
// fingerprint. A file that vanished between listing and stating is
// conservatively changed.
func (r *Registry) isChanged(path string) bool {
	stored, known := r.entries[path]
	if !known {
		return true
	}

	info, err := os.Stat(path)
	if err != nil {
		r.logger.Debug("stat failed, treating file as changed",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return true
	}

	// Fast path: identical mtime and size mean unchanged without
	// reading content.
	if info.ModTime().UnixNano() == stored.ModTime && info.Size() == stored.Size {
		return false
	}

	// The stat moved; only a digest mismatch is a real change.
	digest, err := digestFile(path)
	if err != nil {
		return true
	}
	return digest != stored.Digest
}

// Commit recomputes and stores fingerprints for the given paths. Called
// after a successful build pass so a failed build never advances the
// snapshot. Files that cannot be fingerprinted are dropped from the
// registry and will re-trigger extraction next run.
func (r *Registry) Commit(paths []string) {
	for _, path := range paths {
		fp, err := Stat(path)
		if err != nil {
			r.logger.Debug("fingerprint failed during commit",
				slog.String("path", path),
				slog.String("error", err.Error()))
			delete(r.entries, path)
			continue
		}
		r.entries[path] = fp
	}
}

// Forget removes a deleted file's fingerprint.
func (r *Registry) Forget(path string) {
	delete(r.entries, path)
}
