// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package selector is the facade over the test-selection engine: scan
// the tree, build or refresh the dependency graph, resolve the changed
// set and propagate impact over the reverse edges.
package selector

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/AleutianAI/testsieve/services/selector/build"
	"github.com/AleutianAI/testsieve/services/selector/cache"
	"github.com/AleutianAI/testsieve/services/selector/config"
	"github.com/AleutianAI/testsieve/services/selector/depgraph"
	"github.com/AleutianAI/testsieve/services/selector/extract"
	"github.com/AleutianAI/testsieve/services/selector/impact"
	"github.com/AleutianAI/testsieve/services/selector/scan"
	"github.com/AleutianAI/testsieve/services/selector/vcs"
)

// Engine wires scanning, extraction, caching and propagation behind a
// small API. It is the unit the CLI and the HTTP server both sit on.
//
// # Thread Safety
//
// Reads (Affected, Declarers, Stats) are safe once a build completed.
// Builds are serialized internally; concurrent Refresh calls queue on
// a mutex because the on-disk cache has a single-writer model.
type Engine struct {
	cfg     config.Config
	scanner *scan.Scanner
	builder *build.Builder
	store   *cache.Store
	git     *vcs.GitClient
	logger  *slog.Logger

	mu      sync.Mutex
	graph   *depgraph.Graph
	methods *depgraph.MethodGraph
	stats   build.Stats
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New creates an Engine from a validated configuration.
//
// # Inputs
//
//   - cfg: Engine configuration; see config.Load.
//
// # Outputs
//
//   - *Engine: Ready to Refresh.
//   - error: Non-nil if the extraction backend is unknown.
func New(cfg config.Config, opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}

	extractor, err := extract.New(extract.Backend(cfg.Backend))
	if err != nil {
		return nil, fmt.Errorf("creating engine: %w", err)
	}

	e.scanner = scan.New(cfg.Root,
		scan.WithExtensions(cfg.Extensions),
		scan.WithLogger(e.logger))

	e.store = cache.NewStore(cfg.CacheDir, cache.WithLogger(e.logger))
	e.builder = build.NewBuilder(extractor, e.store,
		build.WithLogger(e.logger),
		build.WithConfig(build.Config{
			HighVolumeThreshold: cfg.Build.HighVolumeThreshold,
			Partitions:          cfg.Build.Partitions,
			PartitionTimeout:    cfg.Build.PartitionTimeout,
			MethodLevel:         cfg.MethodLevel,
		}))

	e.git = vcs.NewGitClient(cfg.Root)
	return e, nil
}

// Invalidate discards the on-disk snapshots; the next Refresh is a
// full rebuild.
func (e *Engine) Invalidate() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Invalidate()
}

// Refresh scans the tree and brings the graph up to date.
//
// # Outputs
//
//   - build.Stats: What the pass did (cache hit, extracted counts).
//   - error: Non-nil on scan failure or cancellation.
func (e *Engine) Refresh(ctx context.Context) (build.Stats, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	files, err := e.scanner.Files(ctx)
	if err != nil {
		return build.Stats{}, err
	}

	result, err := e.builder.Build(ctx, files)
	if err != nil {
		return build.Stats{}, err
	}

	e.graph = result.Graph
	e.methods = result.Methods
	e.stats = result.Stats
	return result.Stats, nil
}

// Report is the outcome of one selection query.
type Report struct {
	// Changed is the resolved changed set (graph keys).
	Changed []string `json:"changed"`

	// Affected is the transitive closure, Changed included.
	Affected []string `json:"affected"`
}

// Affected refreshes the graph, resolves the changed set per the
// request and returns the transitive closure of impacted files.
//
// # Inputs
//
//   - ctx: Context for cancellation.
//   - req: Change source; see vcs.Request.
//
// # Outputs
//
//   - *Report: Changed and affected file sets, sorted.
//   - error: Non-nil on scan, build or git failure.
func (e *Engine) Affected(ctx context.Context, req vcs.Request) (*Report, error) {
	if _, err := e.Refresh(ctx); err != nil {
		return nil, err
	}

	changedFiles, err := e.git.Changed(ctx, req)
	if err != nil {
		return nil, err
	}

	changed := make([]string, 0, len(changedFiles))
	for _, cf := range changedFiles {
		changed = append(changed, e.graphKey(cf.Path))
		// A rename impacts dependents of the old path too.
		if cf.OldPath != "" && cf.OldPath != cf.Path {
			changed = append(changed, e.graphKey(cf.OldPath))
		}
	}

	e.mu.Lock()
	graph := e.graph
	e.mu.Unlock()

	return &Report{
		Changed:  changed,
		Affected: impact.Affected(ctx, graph, changed),
	}, nil
}

// MethodReport is the outcome of one method-level selection query.
type MethodReport struct {
	// ChangedMethods maps file -> methods whose spans were touched.
	ChangedMethods map[string][]string `json:"changed_methods"`

	// AffectedMethods is the transitive closure over the call graph.
	AffectedMethods []string `json:"affected_methods"`
}

// AffectedMethods maps the request's changed lines onto method spans
// and propagates over the call graph's resolved reverse edges.
//
// Files whose edits fall outside every recorded span (top-level code,
// declarations) contribute no methods; callers combine this with the
// file-level report rather than relying on it alone.
func (e *Engine) AffectedMethods(ctx context.Context, req vcs.Request) (*MethodReport, error) {
	if !e.cfg.MethodLevel {
		return nil, fmt.Errorf("method-level analysis is disabled")
	}
	if _, err := e.Refresh(ctx); err != nil {
		return nil, err
	}

	lines, err := e.git.Lines(ctx, req)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	methods := e.methods
	e.mu.Unlock()

	report := &MethodReport{ChangedMethods: make(map[string][]string)}
	var seeds []string
	for path, nums := range lines {
		key := e.graphKey(path)
		touched := methods.MethodsAtLines(key, nums)
		if len(touched) == 0 {
			continue
		}
		report.ChangedMethods[path] = touched
		seeds = append(seeds, touched...)
	}

	report.AffectedMethods = impact.AffectedMethods(ctx, methods, seeds)
	return report, nil
}

// DeclaringFile resolves a symbol to its declaring file. Under a
// collision the last writer's file is authoritative.
func (e *Engine) DeclaringFile(symbol string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.graph == nil {
		return "", false
	}
	return e.graph.DeclaringFile(symbol)
}

// Dependents returns the direct dependents of a file.
func (e *Engine) Dependents(path string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.graph == nil {
		return nil
	}
	return e.graph.Dependents(path)
}

// EngineStats aggregates graph and build statistics.
type EngineStats struct {
	Build   build.Stats `json:"build"`
	Files   int         `json:"files"`
	Symbols int         `json:"symbols"`
	Edges   int         `json:"edges"`
	Methods int         `json:"methods"`
}

// Stats reports on the last completed build.
func (e *Engine) Stats() EngineStats {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := EngineStats{Build: e.stats}
	if e.graph != nil {
		st.Symbols, st.Files, st.Edges = e.graph.Counts()
	}
	if e.methods != nil {
		st.Methods, _ = e.methods.Counts()
	}
	return st
}

// graphKey maps a repo-relative git path onto the scanner's absolute
// path form used as graph keys. Absolute inputs pass through.
func (e *Engine) graphKey(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(e.cfg.Root, filepath.FromSlash(path))
}
