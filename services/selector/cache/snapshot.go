// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/AleutianAI/testsieve/services/selector/depgraph"
	"github.com/AleutianAI/testsieve/services/selector/state"
)

// Snapshot format versions. Bumping a version invalidates only the
// corresponding artifact.
const (
	// GraphVersion tags graph.json.
	GraphVersion = 3

	// RegistryVersion tags fingerprints.json.
	RegistryVersion = 2
)

// Artifact file names inside the cache directory.
const (
	graphFile    = "graph.json"
	registryFile = "fingerprints.json"
)

// graphEnvelope is the on-disk form of the graph artifact.
type graphEnvelope struct {
	Version   int                      `json:"version"`
	SavedAt   int64                    `json:"saved_at_milli"`
	Graph     *depgraph.Snapshot       `json:"graph"`
	Methods   *depgraph.MethodSnapshot `json:"methods,omitempty"`
}

// registryEnvelope is the on-disk form of the fingerprint artifact.
type registryEnvelope struct {
	Version int                          `json:"version"`
	SavedAt int64                        `json:"saved_at_milli"`
	Entries map[string]state.Fingerprint `json:"entries"`
}

// Store reads and writes the two cache artifacts.
type Store struct {
	dir    string
	logger *slog.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the logger for load diagnostics.
func WithLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStore creates a store rooted at dir. An empty dir disables
// persistence: loads report absent, saves return ErrNoCacheDir.
func NewStore(dir string, opts ...StoreOption) *Store {
	s := &Store{dir: dir, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the cache directory ("" when persistence is disabled).
func (s *Store) Dir() string { return s.dir }

// LoadGraph restores the graph and method-graph snapshots.
//
// Returns ok=false — never an error — when the artifact is missing,
// unreadable, version-skewed or undecodable. Any of these means "act
// as if there is no cache"; the caller does a full rebuild.
func (s *Store) LoadGraph() (*depgraph.Snapshot, *depgraph.MethodSnapshot, bool) {
	var env graphEnvelope
	if !s.loadEnvelope(graphFile, &env) {
		return nil, nil, false
	}
	if env.Version != GraphVersion || env.Graph == nil {
		s.logger.Debug("graph snapshot version mismatch, treating cache as absent",
			slog.Int("found", env.Version),
			slog.Int("want", GraphVersion))
		return nil, nil, false
	}
	return env.Graph, env.Methods, true
}

// LoadRegistry restores the fingerprint registry entries.
func (s *Store) LoadRegistry() (map[string]state.Fingerprint, bool) {
	var env registryEnvelope
	if !s.loadEnvelope(registryFile, &env) {
		return nil, false
	}
	if env.Version != RegistryVersion || env.Entries == nil {
		s.logger.Debug("fingerprint snapshot version mismatch, treating cache as absent",
			slog.Int("found", env.Version),
			slog.Int("want", RegistryVersion))
		return nil, false
	}
	return env.Entries, true
}

// SaveGraph persists the graph artifact. Write failures are errors;
// the caller logs and continues (the next run simply rebuilds).
func (s *Store) SaveGraph(graph *depgraph.Snapshot, methods *depgraph.MethodSnapshot) error {
	return s.saveEnvelope(graphFile, &graphEnvelope{
		Version: GraphVersion,
		SavedAt: time.Now().UnixMilli(),
		Graph:   graph,
		Methods: methods,
	})
}

// SaveRegistry persists the fingerprint artifact.
func (s *Store) SaveRegistry(entries map[string]state.Fingerprint) error {
	return s.saveEnvelope(registryFile, &registryEnvelope{
		Version: RegistryVersion,
		SavedAt: time.Now().UnixMilli(),
		Entries: entries,
	})
}

// Invalidate removes both artifacts. Missing files are fine.
func (s *Store) Invalidate() error {
	if s.dir == "" {
		return nil
	}
	for _, name := range []string{graphFile, registryFile} {
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("%w: %s: %v", ErrWrite, name, err)
		}
	}
	return nil
}

// Stats describes the cache on disk. Advisory only.
type Stats struct {
	// Dir is the cache directory.
	Dir string `json:"dir"`

	// GraphBytes and RegistryBytes are on-disk artifact sizes
	// (0 when absent).
	GraphBytes    int64 `json:"graph_bytes"`
	RegistryBytes int64 `json:"registry_bytes"`

	// Age is the time since the graph artifact was saved.
	Age time.Duration `json:"age_ns"`

	// GraphVersion and RegistryVersion are the expected format tags.
	GraphVersion    int `json:"graph_version"`
	RegistryVersion int `json:"registry_version"`
}

// Stat reports on-disk cache statistics.
func (s *Store) Stat() Stats {
	st := Stats{
		Dir:             s.dir,
		GraphVersion:    GraphVersion,
		RegistryVersion: RegistryVersion,
	}
	if s.dir == "" {
		return st
	}
	if info, err := os.Stat(filepath.Join(s.dir, graphFile)); err == nil {
		st.GraphBytes = info.Size()
		st.Age = time.Since(info.ModTime())
	}
	if info, err := os.Stat(filepath.Join(s.dir, registryFile)); err == nil {
		st.RegistryBytes = info.Size()
	}
	return st
}

// loadEnvelope decodes one artifact, reporting false on any doubt.
func (s *Store) loadEnvelope(name string, out any) bool {
	if s.dir == "" {
		return false
	}
	content, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Debug("cache artifact unreadable, treating as absent",
				slog.String("artifact", name),
				slog.String("error", err.Error()))
		}
		return false
	}
	if err := json.Unmarshal(content, out); err != nil {
		s.logger.Debug("cache artifact corrupt, treating as absent",
			slog.String("artifact", name),
			slog.String("error", err.Error()))
		return false
	}
	return true
}

// saveEnvelope writes one artifact atomically (temp file + rename) so
// a crash mid-write leaves the previous snapshot intact.
func (s *Store) saveEnvelope(name string, env any) error {
	if s.dir == "" {
		return ErrNoCacheDir
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("%w: creating %s: %v", ErrWrite, s.dir, err)
	}

	content, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrEncode, name, err)
	}

	target := filepath.Join(s.dir, name)
	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrWrite, name, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: %s: %v", ErrWrite, name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %s: %v", ErrWrite, name, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %s: %v", ErrWrite, name, err)
	}
	return nil
}
