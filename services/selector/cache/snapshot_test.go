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
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/AleutianAI/testsieve/services/selector/depgraph"
	"github.com/AleutianAI/testsieve/services/selector/state"
)

func sampleSnapshots() (*depgraph.Snapshot, *depgraph.MethodSnapshot) {
	g := depgraph.New()
	g.RecordDeclarations("user.php", []string{"User"})
	g.RecordReferences("svc.php", []string{"User"})

	m := depgraph.NewMethodGraph()
	m.RecordMethod("user.php", "User::getName", 10, 14, nil)

	return g.Export(), m.Export()
}

func TestStore_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	graphSnap, methodSnap := sampleSnapshots()
	if err := store.SaveGraph(graphSnap, methodSnap); err != nil {
		t.Fatalf("SaveGraph: %v", err)
	}

	loadedGraph, loadedMethods, ok := store.LoadGraph()
	if !ok {
		t.Fatal("LoadGraph reported absent after save")
	}
	if loadedGraph.Declares["User"] != "user.php" {
		t.Errorf("declares lost in round trip: %v", loadedGraph.Declares)
	}
	if loadedMethods == nil || loadedMethods.Spans["User::getName"] != [2]int{10, 14} {
		t.Errorf("method spans lost in round trip: %+v", loadedMethods)
	}
}

func TestStore_RegistryRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	entries := map[string]state.Fingerprint{
		"user.php": {Path: "user.php", ModTime: 12345, Size: 64, Digest: 99},
	}
	if err := store.SaveRegistry(entries); err != nil {
		t.Fatalf("SaveRegistry: %v", err)
	}

	loaded, ok := store.LoadRegistry()
	if !ok {
		t.Fatal("LoadRegistry reported absent after save")
	}
	if loaded["user.php"].Digest != 99 {
		t.Errorf("fingerprint lost in round trip: %+v", loaded)
	}
}

func TestLoadGraph_MissingIsAbsent(t *testing.T) {
	store := NewStore(t.TempDir())
	if _, _, ok := store.LoadGraph(); ok {
		t.Error("LoadGraph = ok on empty directory")
	}
}

func TestLoadGraph_CorruptIsAbsent(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	if err := os.WriteFile(filepath.Join(dir, "graph.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("writing corrupt artifact: %v", err)
	}

	if _, _, ok := store.LoadGraph(); ok {
		t.Error("corrupt artifact loaded as valid")
	}
}

func TestLoadGraph_VersionMismatchIsAbsent(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	graphSnap, _ := sampleSnapshots()
	stale, err := json.Marshal(graphEnvelope{
		Version: GraphVersion - 1,
		Graph:   graphSnap,
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "graph.json"), stale, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, _, ok := store.LoadGraph(); ok {
		t.Error("stale-version artifact loaded as valid")
	}
}

func TestStore_ArtifactsIndependent(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	graphSnap, methodSnap := sampleSnapshots()
	if err := store.SaveGraph(graphSnap, methodSnap); err != nil {
		t.Fatalf("SaveGraph: %v", err)
	}
	if err := store.SaveRegistry(map[string]state.Fingerprint{}); err != nil {
		t.Fatalf("SaveRegistry: %v", err)
	}
	if _, ok := store.LoadRegistry(); !ok {
		t.Error("empty registry did not round trip")
	}

	// Corrupting the registry must not take the graph down with it.
	if err := os.WriteFile(filepath.Join(dir, "fingerprints.json"), []byte("junk"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, ok := store.LoadRegistry(); ok {
		t.Error("corrupt registry loaded as valid")
	}
	if _, _, ok := store.LoadGraph(); !ok {
		t.Error("graph artifact lost when registry was corrupted")
	}
}

func TestStore_NoDirDisablesPersistence(t *testing.T) {
	store := NewStore("")

	if _, _, ok := store.LoadGraph(); ok {
		t.Error("LoadGraph = ok with no cache dir")
	}

	graphSnap, methodSnap := sampleSnapshots()
	err := store.SaveGraph(graphSnap, methodSnap)
	if !errors.Is(err, ErrNoCacheDir) {
		t.Errorf("SaveGraph error = %v, want ErrNoCacheDir", err)
	}
}

func TestInvalidate(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	graphSnap, methodSnap := sampleSnapshots()
	if err := store.SaveGraph(graphSnap, methodSnap); err != nil {
		t.Fatalf("SaveGraph: %v", err)
	}
	if err := store.Invalidate(); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, _, ok := store.LoadGraph(); ok {
		t.Error("graph survived Invalidate")
	}
	// A second invalidation of an already-empty cache is fine.
	if err := store.Invalidate(); err != nil {
		t.Errorf("repeat Invalidate: %v", err)
	}
}

func TestStat(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	st := store.Stat()
	if st.GraphBytes != 0 {
		t.Errorf("GraphBytes = %d on empty cache", st.GraphBytes)
	}

	graphSnap, methodSnap := sampleSnapshots()
	if err := store.SaveGraph(graphSnap, methodSnap); err != nil {
		t.Fatalf("SaveGraph: %v", err)
	}

	st = store.Stat()
	if st.GraphBytes == 0 {
		t.Error("GraphBytes = 0 after save")
	}
	if st.GraphVersion != GraphVersion {
		t.Errorf("GraphVersion = %d, want %d", st.GraphVersion, GraphVersion)
	}
}
