// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package build

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AleutianAI/testsieve/services/selector/cache"
	"github.com/AleutianAI/testsieve/services/selector/extract"
	"github.com/AleutianAI/testsieve/services/selector/impact"
)

// countingExtractor wraps a real backend and counts Extract calls, for
// asserting that cache hits do zero extraction work.
type countingExtractor struct {
	inner extract.Extractor
	calls atomic.Int64
}

func (c *countingExtractor) Name() extract.Backend { return c.inner.Name() }

func (c *countingExtractor) Extract(ctx context.Context, content []byte, path string) (*extract.SymbolFact, error) {
	c.calls.Add(1)
	return c.inner.Extract(ctx, content, path)
}

func (c *countingExtractor) ExtractMethods(ctx context.Context, content []byte, path string) ([]extract.MethodFact, error) {
	me := c.inner.(extract.MethodExtractor)
	return me.ExtractMethods(ctx, content, path)
}

func newCounting(t *testing.T) *countingExtractor {
	t.Helper()
	inner, err := extract.New(extract.BackendToken)
	if err != nil {
		t.Fatalf("creating extractor: %v", err)
	}
	return &countingExtractor{inner: inner}
}

func writePHP(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

// userProject writes the canonical three-file chain:
// User.php <- UserCollector.php <- UserService.php.
func userProject(t *testing.T, dir string) (user, collector, service string) {
	t.Helper()
	user = writePHP(t, dir, "User.php", `<?php
class User {
    public function getName() {
        return $this->name;
    }
}
`)
	collector = writePHP(t, dir, "UserCollector.php", `<?php
class UserCollector {
    public function collect() {
        $u = new User();
        return User::getName();
    }
}
`)
	service = writePHP(t, dir, "UserService.php", `<?php
class UserService extends UserCollector {
    public function display() {
        return UserCollector::collect();
    }
}
`)
	return user, collector, service
}

func allFiles(paths ...string) []string {
	out := append([]string(nil), paths...)
	sort.Strings(out)
	return out
}

func TestBuild_FullThenAffectedChain(t *testing.T) {
	dir := t.TempDir()
	user, collector, service := userProject(t, dir)

	b := NewBuilder(newCounting(t), cache.NewStore(filepath.Join(dir, ".cache")))
	result, err := b.Build(context.Background(), allFiles(user, collector, service))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !result.Stats.FullRebuild {
		t.Error("first build not reported as full rebuild")
	}

	affected := impact.Affected(context.Background(), result.Graph, []string{user})
	want := allFiles(user, collector, service)
	if !reflect.DeepEqual(affected, want) {
		t.Errorf("Affected = %v, want full chain %v", affected, want)
	}

	// Changing the leaf touches only itself.
	affected = impact.Affected(context.Background(), result.Graph, []string{service})
	if !reflect.DeepEqual(affected, []string{service}) {
		t.Errorf("Affected(leaf) = %v, want [%s]", affected, service)
	}
}

func TestBuild_PureCacheHit(t *testing.T) {
	dir := t.TempDir()
	user, collector, service := userProject(t, dir)
	store := cache.NewStore(filepath.Join(dir, ".cache"))
	files := allFiles(user, collector, service)

	first := NewBuilder(newCounting(t), store)
	if _, err := first.Build(context.Background(), files); err != nil {
		t.Fatalf("warm build: %v", err)
	}

	counting := newCounting(t)
	second := NewBuilder(counting, store)
	result, err := second.Build(context.Background(), files)
	if err != nil {
		t.Fatalf("cached build: %v", err)
	}

	if !result.Stats.CacheHit {
		t.Error("unchanged tree not reported as cache hit")
	}
	if got := counting.calls.Load(); got != 0 {
		t.Errorf("cache hit performed %d extractions, want 0", got)
	}
	if result.Stats.FilesFromCache != len(files) {
		t.Errorf("FilesFromCache = %d, want %d", result.Stats.FilesFromCache, len(files))
	}

	// The restored graph must still answer impact queries.
	affected := impact.Affected(context.Background(), result.Graph, []string{user})
	if len(affected) != 3 {
		t.Errorf("restored graph Affected = %v, want chain of 3", affected)
	}
}

func TestBuild_IncrementalEqualsFull(t *testing.T) {
	dir := t.TempDir()
	user, collector, service := userProject(t, dir)
	files := allFiles(user, collector, service)
	store := cache.NewStore(filepath.Join(dir, ".cache"))

	warm := NewBuilder(newCounting(t), store)
	if _, err := warm.Build(context.Background(), files); err != nil {
		t.Fatalf("warm build: %v", err)
	}

	// Edit the collector: it no longer references User.
	writePHP(t, dir, "UserCollector.php", `<?php
class UserCollector {
    public function collect() {
        return [];
    }
}
`)
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(collector, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	counting := newCounting(t)
	incremental := NewBuilder(counting, store)
	incResult, err := incremental.Build(context.Background(), files)
	if err != nil {
		t.Fatalf("incremental build: %v", err)
	}
	if got := counting.calls.Load(); got != 1 {
		t.Errorf("incremental build extracted %d files, want 1", got)
	}

	// A from-scratch build over the same tree must produce the same
	// forward maps.
	fresh := NewBuilder(newCounting(t), cache.NewStore(filepath.Join(dir, ".cache2")))
	fullResult, err := fresh.Build(context.Background(), files)
	if err != nil {
		t.Fatalf("full build: %v", err)
	}

	if !reflect.DeepEqual(incResult.Graph.Export(), fullResult.Graph.Export()) {
		t.Error("incremental build diverged from full rebuild")
	}

	// The stale User -> collector edge must be gone.
	affected := impact.Affected(context.Background(), incResult.Graph, []string{user})
	if !reflect.DeepEqual(affected, []string{user}) {
		t.Errorf("Affected(user) = %v after edge removal, want [%s]", affected, user)
	}
}

func TestBuild_DeletedFileCleanedUp(t *testing.T) {
	dir := t.TempDir()
	user, collector, service := userProject(t, dir)
	store := cache.NewStore(filepath.Join(dir, ".cache"))

	warm := NewBuilder(newCounting(t), store)
	if _, err := warm.Build(context.Background(), allFiles(user, collector, service)); err != nil {
		t.Fatalf("warm build: %v", err)
	}

	if err := os.Remove(service); err != nil {
		t.Fatalf("remove: %v", err)
	}

	second := NewBuilder(newCounting(t), store)
	result, err := second.Build(context.Background(), allFiles(user, collector))
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	if result.Stats.FilesDropped != 1 {
		t.Errorf("FilesDropped = %d, want 1", result.Stats.FilesDropped)
	}
	if _, ok := result.Graph.DeclaringFile("UserService"); ok {
		t.Error("deleted file's symbol still declared")
	}
	affected := impact.Affected(context.Background(), result.Graph, []string{collector})
	for _, path := range affected {
		if path == service {
			t.Error("deleted file still appears in affected sets")
		}
	}
}

func TestBuild_DeletedFileCleanedUpWithoutRegistry(t *testing.T) {
	dir := t.TempDir()
	user, collector, service := userProject(t, dir)
	cacheDir := filepath.Join(dir, ".cache")
	store := cache.NewStore(cacheDir)

	warm := NewBuilder(newCounting(t), store)
	if _, err := warm.Build(context.Background(), allFiles(user, collector, service)); err != nil {
		t.Fatalf("warm build: %v", err)
	}

	// The graph artifact survives but the fingerprints are gone, so the
	// restored graph is the only witness of the deleted file.
	if err := os.Remove(service); err != nil {
		t.Fatalf("remove source: %v", err)
	}
	if err := os.Remove(filepath.Join(cacheDir, "fingerprints.json")); err != nil {
		t.Fatalf("remove registry artifact: %v", err)
	}

	second := NewBuilder(newCounting(t), store)
	result, err := second.Build(context.Background(), allFiles(user, collector))
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	if result.Stats.FilesDropped != 1 {
		t.Errorf("FilesDropped = %d, want 1", result.Stats.FilesDropped)
	}
	if _, ok := result.Graph.DeclaringFile("UserService"); ok {
		t.Error("deleted file's symbol still declared")
	}
	affected := impact.Affected(context.Background(), result.Graph, []string{collector})
	for _, path := range affected {
		if path == service {
			t.Error("deleted file still appears in affected sets")
		}
	}
}

func TestBuild_NewFileIntegrated(t *testing.T) {
	dir := t.TempDir()
	user, collector, service := userProject(t, dir)
	store := cache.NewStore(filepath.Join(dir, ".cache"))

	warm := NewBuilder(newCounting(t), store)
	if _, err := warm.Build(context.Background(), allFiles(user, collector, service)); err != nil {
		t.Fatalf("warm build: %v", err)
	}

	audit := writePHP(t, dir, "Audit.php", `<?php
class Audit {
    public function record() {
        $s = new UserService();
    }
}
`)

	counting := newCounting(t)
	second := NewBuilder(counting, store)
	result, err := second.Build(context.Background(), allFiles(user, collector, service, audit))
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if got := counting.calls.Load(); got != 1 {
		t.Errorf("rebuild extracted %d files, want only the new one", got)
	}

	affected := impact.Affected(context.Background(), result.Graph, []string{service})
	if !reflect.DeepEqual(affected, allFiles(audit, service)) {
		t.Errorf("Affected = %v, want new dependent included", affected)
	}
}

func TestBuild_PartitionedMatchesSequential(t *testing.T) {
	dir := t.TempDir()
	user, collector, service := userProject(t, dir)
	files := allFiles(user, collector, service)

	seqBuilder := NewBuilder(newCounting(t), cache.NewStore(""))
	seq, err := seqBuilder.Build(context.Background(), files)
	if err != nil {
		t.Fatalf("sequential build: %v", err)
	}

	parCfg := DefaultConfig()
	parCfg.HighVolumeThreshold = 1
	parCfg.Partitions = 2
	parBuilder := NewBuilder(newCounting(t), cache.NewStore(""), WithConfig(parCfg))
	par, err := parBuilder.Build(context.Background(), files)
	if err != nil {
		t.Fatalf("partitioned build: %v", err)
	}

	if !reflect.DeepEqual(seq.Graph.Export(), par.Graph.Export()) {
		t.Error("partitioned extraction diverged from sequential")
	}
	if !reflect.DeepEqual(seq.Methods.Export(), par.Methods.Export()) {
		t.Error("partitioned method graph diverged from sequential")
	}
}

func TestBuild_MethodGraphChain(t *testing.T) {
	dir := t.TempDir()
	user, collector, service := userProject(t, dir)

	b := NewBuilder(newCounting(t), cache.NewStore(""))
	result, err := b.Build(context.Background(), allFiles(user, collector, service))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	got := impact.AffectedMethods(context.Background(), result.Methods, []string{"User::getName"})
	want := []string{"User::getName", "UserCollector::collect", "UserService::display"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("AffectedMethods = %v, want %v", got, want)
	}
}

func TestBuild_UnreadableFileYieldsEmptyFacts(t *testing.T) {
	dir := t.TempDir()
	user, _, _ := userProject(t, dir)
	ghost := filepath.Join(dir, "Ghost.php") // never written

	b := NewBuilder(newCounting(t), cache.NewStore(""))
	result, err := b.Build(context.Background(), allFiles(user, ghost))
	if err != nil {
		t.Fatalf("Build with unreadable file: %v", err)
	}
	if refs := result.Graph.References(ghost); refs != nil {
		t.Errorf("unreadable file produced references: %v", refs)
	}
	if _, ok := result.Graph.DeclaringFile("User"); !ok {
		t.Error("healthy file not extracted alongside unreadable one")
	}
}

func TestBuild_CanceledContext(t *testing.T) {
	dir := t.TempDir()
	user, collector, service := userProject(t, dir)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := NewBuilder(newCounting(t), cache.NewStore(""))
	if _, err := b.Build(ctx, allFiles(user, collector, service)); err == nil {
		t.Error("Build with canceled context returned nil error")
	}
}
