// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache persists the dependency graph and fingerprint registry
// across runs as versioned on-disk snapshots.
//
// # Design Principles
//
// The cache is a performance optimization, never a source of truth:
// graphs are always rebuildable from source. Loading therefore follows
// "absent on any doubt" semantics — a missing file, a version mismatch
// or a decode failure all collapse to "no cache", which the builder
// answers with one full rebuild. Corruption is self-healing by design.
//
// The graph snapshot and the fingerprint registry are two independent
// artifacts so either can be invalidated without discarding the other.
//
// # Thread Safety
//
// The on-disk cache is not safe for concurrent writers. Concurrent
// invocations against the same cache directory are out of scope.
package cache

import "errors"

// Sentinel errors for cache write operations. Loads never return
// errors; see Store.LoadGraph.
var (
	// ErrNoCacheDir is returned when the store was created without a
	// cache directory and a save is attempted.
	ErrNoCacheDir = errors.New("cache directory not configured")

	// ErrEncode is returned when a snapshot cannot be serialized.
	ErrEncode = errors.New("cache snapshot encode failed")

	// ErrWrite is returned when a snapshot cannot be written to disk.
	ErrWrite = errors.New("cache snapshot write failed")
)
