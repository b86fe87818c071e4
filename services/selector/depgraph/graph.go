// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package depgraph maintains the file-level symbol dependency graph and
// the optional method call graph.
//
// The file graph is two forward maps kept as one consistent structure:
// declares (symbol -> declaring file) and references (file -> referenced
// symbols), plus declaredBy, the exact structural inverse of declares.
// declares and declaredBy are always mutated together; declaredBy is
// what makes removing a file O(symbols-in-that-file) instead of a scan
// over every known symbol, which is the load-bearing performance
// property of the whole engine.
package depgraph

import (
	"log/slog"
	"sort"
)

// Graph is the file-level dependency graph.
//
// Thread Safety: Graph is NOT safe for concurrent mutation; the builder
// owns it during a build and readers receive it only after the build
// completes (single-writer model).
type Graph struct {
	// declares maps symbol -> declaring file. One declarer per symbol;
	// on collision the last writer wins (see RecordDeclarations).
	declares map[string]string

	// declaredBy maps file -> symbols it declares. Exact inverse of
	// declares, updated in the same operations.
	declaredBy map[string][]string

	// references maps file -> symbols it references.
	references map[string][]string

	// includes maps file -> literal include targets as written.
	includes map[string][]string

	// dependents maps file -> files that reference one of its symbols.
	// Derived; rebuilt in full by RebuildReverseIndex.
	dependents map[string][]string

	logger *slog.Logger
}

// GraphOption configures a Graph.
type GraphOption func(*Graph)

// WithLogger sets the logger used for collision diagnostics.
func WithLogger(logger *slog.Logger) GraphOption {
	return func(g *Graph) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// New creates an empty graph.
func New(opts ...GraphOption) *Graph {
	g := &Graph{
		declares:   make(map[string]string),
		declaredBy: make(map[string][]string),
		references: make(map[string][]string),
		includes:   make(map[string][]string),
		dependents: make(map[string][]string),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// RecordDeclarations replaces the declaration set for path, updating
// declares and declaredBy together. Idempotent.
//
// Collision policy: a symbol already declared by a different file is
// re-pointed at the new path (last writer wins) and the collision is
// logged. Duplicate short names across fixture files are common enough
// that this is a diagnostic, not an error.
func (g *Graph) RecordDeclarations(path string, symbols []string) {
	// Clear the old pairing first so declares/declaredBy stay inverse.
	for _, sym := range g.declaredBy[path] {
		if g.declares[sym] == path {
			delete(g.declares, sym)
		}
	}
	delete(g.declaredBy, path)

	if len(symbols) == 0 {
		return
	}

	kept := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		if prev, ok := g.declares[sym]; ok && prev != path {
			g.logger.Warn("symbol declared in multiple files, keeping last writer",
				slog.String("symbol", sym),
				slog.String("previous", prev),
				slog.String("winner", path))
			g.removeDeclaredBy(prev, sym)
		}
		g.declares[sym] = path
		kept = append(kept, sym)
	}
	sort.Strings(kept)
	g.declaredBy[path] = kept
}

// removeDeclaredBy drops one symbol from a file's declaredBy entry.
func (g *Graph) removeDeclaredBy(path, symbol string) {
	syms := g.declaredBy[path]
	for i, s := range syms {
		if s == symbol {
			g.declaredBy[path] = append(syms[:i], syms[i+1:]...)
			break
		}
	}
	if len(g.declaredBy[path]) == 0 {
		delete(g.declaredBy, path)
	}
}

// RecordReferences sets the referenced-symbol list for path.
func (g *Graph) RecordReferences(path string, symbols []string) {
	if len(symbols) == 0 {
		delete(g.references, path)
		return
	}
	refs := make([]string, len(symbols))
	copy(refs, symbols)
	sort.Strings(refs)
	g.references[path] = refs
}

// RecordIncludes sets the literal include targets for path.
func (g *Graph) RecordIncludes(path string, targets []string) {
	if len(targets) == 0 {
		delete(g.includes, path)
		return
	}
	t := make([]string, len(targets))
	copy(t, targets)
	sort.Strings(t)
	g.includes[path] = t
}

// DropFile removes every trace of path from the forward maps.
//
// Uses declaredBy to find exactly the symbols declared in this one
// file, so the cost is O(k) in that file's symbol count rather than a
// scan of all known symbols.
func (g *Graph) DropFile(path string) {
	for _, sym := range g.declaredBy[path] {
		if g.declares[sym] == path {
			delete(g.declares, sym)
		}
	}
	delete(g.declaredBy, path)
	delete(g.references, path)
	delete(g.includes, path)
}

// RebuildReverseIndex recomputes dependents from scratch: every
// referenced symbol is resolved through declares, and unresolved
// symbols (external or vendor types) are silently skipped so they can
// never propagate impact. Literal includes that resolve against a
// tracked file become direct edges.
//
// Linear in the total reference count; cheap enough to run on every
// build, which avoids a whole class of incremental reverse-graph bugs.
func (g *Graph) RebuildReverseIndex() {
	g.dependents = make(map[string][]string, len(g.declaredBy))

	// Set-based dedup keeps the rebuild linear in the reference count
	// even for hub files with thousands of dependents.
	seen := make(map[[2]string]struct{})
	appendEdge := func(declarer, referrer string) {
		if declarer == referrer {
			return
		}
		key := [2]string{declarer, referrer}
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		g.dependents[declarer] = append(g.dependents[declarer], referrer)
	}

	for path, symbols := range g.references {
		for _, sym := range symbols {
			declarer, ok := g.declares[sym]
			if !ok {
				continue
			}
			appendEdge(declarer, path)
		}
	}

	for path, targets := range g.includes {
		for _, target := range targets {
			resolved, ok := g.resolveInclude(path, target)
			if !ok {
				continue
			}
			appendEdge(resolved, path)
		}
	}

	for _, deps := range g.dependents {
		sort.Strings(deps)
	}
}

// resolveInclude matches a literal include target against tracked
// files by path suffix. Relative targets like "lib/helpers.php" match
// any tracked file ending in that suffix; ambiguity resolves to no
// edge rather than a wrong one.
func (g *Graph) resolveInclude(from, target string) (string, bool) {
	if _, ok := g.declaredBy[target]; ok {
		return target, true
	}
	if _, ok := g.references[target]; ok {
		return target, true
	}

	match := ""
	for _, path := range g.Files() {
		if path != from && hasPathSuffix(path, target) {
			if match != "" {
				return "", false
			}
			match = path
		}
	}
	return match, match != ""
}

func hasPathSuffix(path, suffix string) bool {
	if len(suffix) == 0 || len(suffix) > len(path) {
		return false
	}
	if path[len(path)-len(suffix):] != suffix {
		return false
	}
	return len(path) == len(suffix) || path[len(path)-len(suffix)-1] == '/'
}

// Dependents returns the files that reference symbols declared in path.
// The returned slice is owned by the graph; callers must not mutate it.
func (g *Graph) Dependents(path string) []string {
	return g.dependents[path]
}

// DeclaringFile resolves a symbol to its declaring file.
func (g *Graph) DeclaringFile(symbol string) (string, bool) {
	path, ok := g.declares[symbol]
	return path, ok
}

// DeclaredBy returns the symbols declared in path.
func (g *Graph) DeclaredBy(path string) []string {
	return g.declaredBy[path]
}

// References returns the symbols referenced by path.
func (g *Graph) References(path string) []string {
	return g.references[path]
}

// Files returns the sorted set of files known to the graph (any file
// with declarations, references or includes).
func (g *Graph) Files() []string {
	seen := make(map[string]struct{}, len(g.references))
	for path := range g.references {
		seen[path] = struct{}{}
	}
	for path := range g.declaredBy {
		seen[path] = struct{}{}
	}
	for path := range g.includes {
		seen[path] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for path := range seen {
		out = append(out, path)
	}
	sort.Strings(out)
	return out
}

// Declarers returns a read-only copy of the symbol -> declaring-file
// map, for collaborators that resolve type names back to files.
func (g *Graph) Declarers() map[string]string {
	out := make(map[string]string, len(g.declares))
	for sym, path := range g.declares {
		out[sym] = path
	}
	return out
}

// Counts returns the number of declared symbols, referencing files and
// reverse edges, for stats reporting.
func (g *Graph) Counts() (symbols, files, edges int) {
	for _, deps := range g.dependents {
		edges += len(deps)
	}
	return len(g.declares), len(g.references), edges
}

// Snapshot is the serializable form of the graph, carried by the cache
// layer. declaredBy is persisted alongside declares so a restore never
// reconstructs one map from the other.
type Snapshot struct {
	Declares   map[string]string   `json:"declares"`
	DeclaredBy map[string][]string `json:"declared_by"`
	References map[string][]string `json:"references"`
	Includes   map[string][]string `json:"includes,omitempty"`
}

// Export copies the forward maps into a Snapshot.
func (g *Graph) Export() *Snapshot {
	s := &Snapshot{
		Declares:   make(map[string]string, len(g.declares)),
		DeclaredBy: make(map[string][]string, len(g.declaredBy)),
		References: make(map[string][]string, len(g.references)),
		Includes:   make(map[string][]string, len(g.includes)),
	}
	for sym, path := range g.declares {
		s.Declares[sym] = path
	}
	for path, syms := range g.declaredBy {
		s.DeclaredBy[path] = append([]string(nil), syms...)
	}
	for path, syms := range g.references {
		s.References[path] = append([]string(nil), syms...)
	}
	for path, t := range g.includes {
		s.Includes[path] = append([]string(nil), t...)
	}
	return s
}

// Restore replaces the forward maps from a Snapshot. The reverse index
// is left empty; callers run RebuildReverseIndex before propagation.
func (g *Graph) Restore(s *Snapshot) {
	g.declares = make(map[string]string, len(s.Declares))
	for sym, path := range s.Declares {
		g.declares[sym] = path
	}
	g.declaredBy = make(map[string][]string, len(s.DeclaredBy))
	for path, syms := range s.DeclaredBy {
		g.declaredBy[path] = append([]string(nil), syms...)
	}
	g.references = make(map[string][]string, len(s.References))
	for path, syms := range s.References {
		g.references[path] = append([]string(nil), syms...)
	}
	g.includes = make(map[string][]string, len(s.Includes))
	for path, t := range s.Includes {
		g.includes[path] = append([]string(nil), t...)
	}
	g.dependents = make(map[string][]string)
}
