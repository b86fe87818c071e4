// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package build orchestrates graph construction: load snapshot, diff
// the current file set against the fingerprint registry, drop stale
// entries, re-extract only what changed, splice the results into the
// maps, and rebuild the (linear, cheap) reverse index.
//
// The incremental and full paths splice facts through the same code so
// an incremental build over changed set S is map-equal to a full
// rebuild with S's content substituted — a tested contract.
package build

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/testsieve/services/selector/cache"
	"github.com/AleutianAI/testsieve/services/selector/depgraph"
	"github.com/AleutianAI/testsieve/services/selector/extract"
	"github.com/AleutianAI/testsieve/services/selector/state"
)

// Default builder configuration values.
const (
	// DefaultHighVolumeThreshold is the file count above which
	// extraction fans out over parallel partitions.
	DefaultHighVolumeThreshold = 2000

	// DefaultPartitions is the number of extraction partitions.
	DefaultPartitions = 4

	// DefaultPartitionTimeout bounds one partition's extraction pass.
	DefaultPartitionTimeout = 60 * time.Second
)

// Config configures Builder behavior.
type Config struct {
	// HighVolumeThreshold is the candidate-file count above which
	// extraction is partitioned across workers. Default: 2000.
	HighVolumeThreshold int

	// Partitions is the worker count for partitioned extraction.
	// Default: 4.
	Partitions int

	// PartitionTimeout bounds one partition; a timed-out partition is
	// reprocessed sequentially. Default: 60s.
	PartitionTimeout time.Duration

	// MethodLevel enables the method call graph alongside the file
	// graph. Requires an extractor that implements MethodExtractor.
	MethodLevel bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		HighVolumeThreshold: DefaultHighVolumeThreshold,
		Partitions:          DefaultPartitions,
		PartitionTimeout:    DefaultPartitionTimeout,
		MethodLevel:         true,
	}
}

// Stats summarizes one build pass. Advisory only.
type Stats struct {
	// BuildID uniquely identifies this pass in logs and reports.
	BuildID string `json:"build_id"`

	// FullRebuild is true when no usable cache existed.
	FullRebuild bool `json:"full_rebuild"`

	// CacheHit is true when zero files needed re-extraction.
	CacheHit bool `json:"cache_hit"`

	// FilesExtracted and FilesFromCache partition the candidate set.
	FilesExtracted int `json:"files_extracted"`
	FilesFromCache int `json:"files_from_cache"`

	// FilesDropped counts deletions cleaned out of the graph.
	FilesDropped int `json:"files_dropped"`

	// Duration is the wall time of the whole pass.
	Duration time.Duration `json:"duration_ns"`

	// Cache reports the on-disk artifacts.
	Cache cache.Stats `json:"cache"`
}

// Result is the outcome of one build pass.
type Result struct {
	Graph   *depgraph.Graph
	Methods *depgraph.MethodGraph
	Stats   Stats
}

// Builder drives full and incremental graph builds.
//
// Thread Safety: a Builder is single-flight; the caller serializes
// Build invocations (the on-disk cache has no multi-writer story).
type Builder struct {
	extractor extract.Extractor
	store     *cache.Store
	registry  *state.Registry
	logger    *slog.Logger
	config    Config
}

// Option configures a Builder.
type Option func(*Builder)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Builder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithConfig sets the build configuration.
func WithConfig(config Config) Option {
	return func(b *Builder) {
		b.config = config
	}
}

// NewBuilder creates a Builder.
//
// # Inputs
//
//   - extractor: symbol extraction backend. Must not be nil.
//   - store: cache persistence. A store with an empty dir disables
//     persistence and every build is a full build.
//
// # Outputs
//
//   - *Builder: ready to use.
func NewBuilder(extractor extract.Extractor, store *cache.Store, opts ...Option) *Builder {
	b := &Builder{
		extractor: extractor,
		store:     store,
		logger:    slog.Default(),
		config:    DefaultConfig(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.registry = state.NewRegistry(state.WithLogger(b.logger))
	return b
}

// Registry exposes the fingerprint registry (read-mostly; used by the
// engine for stats).
func (b *Builder) Registry() *state.Registry { return b.registry }

// Build constructs the dependency graph for the candidate file set.
//
// # Description
//
// Attempts to restore the previous snapshot and re-extracts only files
// whose fingerprint moved. With no usable snapshot the whole candidate
// set is extracted. Either way the reverse index is rebuilt from
// scratch at the end — it is linear and rebuilding it sidesteps
// incremental reverse-graph bugs entirely.
//
// # Inputs
//
//   - ctx: context for cancellation; checked between phases.
//   - allFiles: every currently-trackable file path.
//
// # Outputs
//
//   - *Result: the graph, the method graph (when enabled) and stats.
//   - error: only for context cancellation; every data-level failure
//     (unreadable file, corrupt cache, worker loss) degrades to
//     "extract more", never to a failed build.
func (b *Builder) Build(ctx context.Context, allFiles []string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("build canceled before start: %w", err)
	}
	start := time.Now()
	stats := Stats{BuildID: uuid.NewString()}

	graphSnap, methodSnap, ok := b.store.LoadGraph()
	if !ok {
		result, err := b.fullBuild(ctx, allFiles, stats)
		if err != nil {
			return nil, err
		}
		result.Stats.Duration = time.Since(start)
		return result, nil
	}

	graph := depgraph.New(depgraph.WithLogger(b.logger))
	graph.Restore(graphSnap)
	methods := depgraph.NewMethodGraph()
	if methodSnap != nil {
		methods.Restore(methodSnap)
	}

	if entries, ok := b.store.LoadRegistry(); ok {
		b.registry.Restore(entries)
	} else {
		// Registry artifact invalidated independently: every candidate
		// counts as changed, which the incremental path handles.
		b.registry.Restore(nil)
	}

	candidateSet := make(map[string]struct{}, len(allFiles))
	for _, path := range allFiles {
		candidateSet[path] = struct{}{}
	}

	// Deletions come from two places: the registry's stored-but-absent
	// entries, and the restored graph itself. The graph must be checked
	// directly because an independently invalidated fingerprints.json
	// has no entries left to report a deletion from.
	dropped := make(map[string]struct{})
	drop := func(path string) {
		if _, done := dropped[path]; done {
			return
		}
		dropped[path] = struct{}{}
		graph.DropFile(path)
		methods.DropFile(path)
		b.registry.Forget(path)
		stats.FilesDropped++
	}
	for _, path := range graph.Files() {
		if _, present := candidateSet[path]; !present {
			drop(path)
		}
	}

	changed := b.registry.ChangedSince(allFiles)
	if len(changed) == 0 && len(dropped) == 0 {
		// Pure cache hit: the restored graph already reflects reality.
		graph.RebuildReverseIndex()
		methods.RebuildReverseIndex()
		stats.CacheHit = true
		stats.FilesFromCache = len(allFiles)
		stats.Duration = time.Since(start)
		stats.Cache = b.store.Stat()
		b.logger.Info("build served from cache",
			slog.String("build_id", stats.BuildID),
			slog.Int("files", len(allFiles)))
		return &Result{Graph: graph, Methods: methods, Stats: stats}, nil
	}

	// Split the changed set into deletions and re-extractions.
	var toExtract []string
	for _, path := range changed {
		if _, present := candidateSet[path]; present {
			toExtract = append(toExtract, path)
			continue
		}
		drop(path)
	}

	if err := b.extractInto(ctx, graph, methods, toExtract); err != nil {
		return nil, err
	}

	graph.RebuildReverseIndex()
	methods.RebuildReverseIndex()

	b.registry.Commit(allFiles)
	b.persist(graph, methods)

	stats.FilesExtracted = len(toExtract)
	stats.FilesFromCache = len(allFiles) - len(toExtract)
	stats.Duration = time.Since(start)
	stats.Cache = b.store.Stat()

	b.logger.Info("incremental build complete",
		slog.String("build_id", stats.BuildID),
		slog.Int("extracted", stats.FilesExtracted),
		slog.Int("from_cache", stats.FilesFromCache),
		slog.Int("dropped", stats.FilesDropped),
		slog.Duration("duration", stats.Duration))

	return &Result{Graph: graph, Methods: methods, Stats: stats}, nil
}

// fullBuild extracts every candidate into a fresh graph.
func (b *Builder) fullBuild(ctx context.Context, allFiles []string, stats Stats) (*Result, error) {
	graph := depgraph.New(depgraph.WithLogger(b.logger))
	methods := depgraph.NewMethodGraph()
	b.registry.Restore(nil)

	if err := b.extractInto(ctx, graph, methods, allFiles); err != nil {
		return nil, err
	}

	graph.RebuildReverseIndex()
	methods.RebuildReverseIndex()

	b.registry.Commit(allFiles)
	b.persist(graph, methods)

	stats.FullRebuild = true
	stats.FilesExtracted = len(allFiles)
	stats.Cache = b.store.Stat()

	b.logger.Info("full rebuild complete",
		slog.String("build_id", stats.BuildID),
		slog.Int("files", len(allFiles)))

	return &Result{Graph: graph, Methods: methods, Stats: stats}, nil
}

// extractInto re-extracts the given files and splices the facts into
// the graphs, dropping stale entries per file first so renamed or
// removed symbols inside an edited file cannot linger.
func (b *Builder) extractInto(ctx context.Context, graph *depgraph.Graph, methods *depgraph.MethodGraph, paths []string) error {
	var facts []fileFacts
	var err error
	if len(paths) >= b.config.HighVolumeThreshold && b.config.Partitions > 1 {
		facts, err = b.extractPartitioned(ctx, paths)
	} else {
		facts, err = b.extractSequential(ctx, paths)
	}
	if err != nil {
		return err
	}

	for _, ff := range facts {
		graph.DropFile(ff.path)
		graph.RecordDeclarations(ff.path, ff.declares)
		graph.RecordReferences(ff.path, ff.references)
		graph.RecordIncludes(ff.path, ff.includes)

		methods.DropFile(ff.path)
		for _, mf := range ff.methods {
			callees := append(append([]string(nil), mf.Calls...), mf.OpaqueCalls...)
			methods.RecordMethod(ff.path, mf.Name, mf.StartLine, mf.EndLine, callees)
		}
	}
	return nil
}

// fileFacts is the per-file extraction product spliced into the maps.
type fileFacts struct {
	path       string
	declares   []string
	references []string
	includes   []string
	methods    []extract.MethodFact
}

// extractOne reads and extracts a single file. An unreadable or
// unparseable file yields empty facts: its stale graph entries get
// cleared and nothing more — the pipeline never blocks on one file.
func (b *Builder) extractOne(ctx context.Context, path string) (fileFacts, error) {
	ff := fileFacts{path: path}

	content, err := os.ReadFile(path)
	if err != nil {
		b.logger.Debug("file unreadable during extraction",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return ff, nil
	}

	fact, err := b.extractor.Extract(ctx, content, path)
	if err != nil {
		// Extractors only error on context cancellation.
		return ff, err
	}
	ff.declares = fact.Declares
	ff.references = fact.ReferencedSymbols()
	ff.includes = fact.Includes

	if b.config.MethodLevel {
		if me, ok := b.extractor.(extract.MethodExtractor); ok {
			mfs, err := me.ExtractMethods(ctx, content, path)
			if err != nil {
				return ff, err
			}
			ff.methods = mfs
		}
	}
	return ff, nil
}

// extractSequential processes paths one at a time.
func (b *Builder) extractSequential(ctx context.Context, paths []string) ([]fileFacts, error) {
	out := make([]fileFacts, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("extraction canceled: %w", err)
		}
		ff, err := b.extractOne(ctx, path)
		if err != nil {
			return nil, err
		}
		out = append(out, ff)
	}
	return out, nil
}

// persist saves both artifacts; failures are diagnostics, not build
// errors — the next run rebuilds.
func (b *Builder) persist(graph *depgraph.Graph, methods *depgraph.MethodGraph) {
	if err := b.store.SaveGraph(graph.Export(), methods.Export()); err != nil {
		b.logger.Warn("graph snapshot save failed",
			slog.String("error", err.Error()))
	}
	if err := b.store.SaveRegistry(b.registry.Entries()); err != nil {
		b.logger.Warn("fingerprint snapshot save failed",
			slog.String("error", err.Error()))
	}
}
