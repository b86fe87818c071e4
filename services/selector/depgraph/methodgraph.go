// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package depgraph

import (
	"sort"
	"strings"
)

// MethodGraph is the finer-grained call graph over Type::method nodes.
//
// Unresolved receiver calls ($var->m) are kept in the forward map as
// opaque tokens for diagnostics but are never inserted into calledBy:
// they cannot be attributed to a dependency target, so they must not
// propagate impact in either direction.
//
// Thread Safety: same single-writer model as Graph.
type MethodGraph struct {
	// calls maps caller -> callees (qualified methods plus opaque tokens).
	calls map[string][]string

	// calledBy is the reverse map, resolved edges only.
	calledBy map[string][]string

	// byFile maps file -> methods declared in it, for incremental
	// removal (the method-level analogue of declaredBy).
	byFile map[string][]string

	// spans maps qualified method -> [startLine, endLine].
	spans map[string][2]int
}

// NewMethodGraph creates an empty method graph.
func NewMethodGraph() *MethodGraph {
	return &MethodGraph{
		calls:    make(map[string][]string),
		calledBy: make(map[string][]string),
		byFile:   make(map[string][]string),
		spans:    make(map[string][2]int),
	}
}

// RecordMethod registers one method's span and outgoing calls.
// Opaque callees (receiver tokens starting with '$') are stored in the
// forward map only.
func (m *MethodGraph) RecordMethod(path, name string, startLine, endLine int, callees []string) {
	m.byFile[path] = append(m.byFile[path], name)
	m.spans[name] = [2]int{startLine, endLine}
	if len(callees) == 0 {
		delete(m.calls, name)
		return
	}
	out := make([]string, len(callees))
	copy(out, callees)
	sort.Strings(out)
	m.calls[name] = out
}

// DropFile removes every method declared in path. O(methods-in-file).
func (m *MethodGraph) DropFile(path string) {
	for _, name := range m.byFile[path] {
		delete(m.calls, name)
		delete(m.spans, name)
	}
	delete(m.byFile, path)
}

// RebuildReverseIndex recomputes calledBy from calls, skipping opaque
// receiver tokens on both sides of the edge.
func (m *MethodGraph) RebuildReverseIndex() {
	m.calledBy = make(map[string][]string, len(m.calls))
	seen := make(map[[2]string]struct{})
	for caller, callees := range m.calls {
		if isOpaque(caller) {
			continue
		}
		for _, callee := range callees {
			if isOpaque(callee) {
				continue
			}
			if callee == caller {
				continue
			}
			key := [2]string{callee, caller}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			m.calledBy[callee] = append(m.calledBy[callee], caller)
		}
	}
	for _, callers := range m.calledBy {
		sort.Strings(callers)
	}
}

// Callers returns the resolved callers of a qualified method.
func (m *MethodGraph) Callers(method string) []string {
	return m.calledBy[method]
}

// Calls returns the forward call list (including opaque tokens) for
// diagnostics.
func (m *MethodGraph) Calls(method string) []string {
	return m.calls[method]
}

// MethodsIn returns the methods declared in path.
func (m *MethodGraph) MethodsIn(path string) []string {
	return m.byFile[path]
}

// MethodsAtLines returns the methods of path whose recorded span
// contains at least one of the given changed lines.
func (m *MethodGraph) MethodsAtLines(path string, lines []int) []string {
	var out []string
	for _, name := range m.byFile[path] {
		span, ok := m.spans[name]
		if !ok {
			continue
		}
		for _, line := range lines {
			if line >= span[0] && line <= span[1] {
				out = append(out, name)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// Span returns a method's recorded line span.
func (m *MethodGraph) Span(method string) (start, end int, ok bool) {
	span, found := m.spans[method]
	if !found {
		return 0, 0, false
	}
	return span[0], span[1], true
}

// Counts returns method and resolved-edge counts for stats reporting.
func (m *MethodGraph) Counts() (methods, edges int) {
	for _, callers := range m.calledBy {
		edges += len(callers)
	}
	return len(m.spans), edges
}

// IsOpaqueMethod reports whether a call-graph node is an unresolved
// receiver token rather than a Type::method name.
func IsOpaqueMethod(node string) bool {
	return strings.HasPrefix(node, "$")
}

func isOpaque(node string) bool { return IsOpaqueMethod(node) }

// MethodSnapshot is the serializable form of the method graph.
type MethodSnapshot struct {
	Calls  map[string][]string `json:"calls"`
	ByFile map[string][]string `json:"by_file"`
	Spans  map[string][2]int   `json:"spans"`
}

// Export copies the forward state into a MethodSnapshot.
func (m *MethodGraph) Export() *MethodSnapshot {
	s := &MethodSnapshot{
		Calls:  make(map[string][]string, len(m.calls)),
		ByFile: make(map[string][]string, len(m.byFile)),
		Spans:  make(map[string][2]int, len(m.spans)),
	}
	for k, v := range m.calls {
		s.Calls[k] = append([]string(nil), v...)
	}
	for k, v := range m.byFile {
		s.ByFile[k] = append([]string(nil), v...)
	}
	for k, v := range m.spans {
		s.Spans[k] = v
	}
	return s
}

// Restore replaces the forward state from a MethodSnapshot; the
// reverse map is rebuilt by the caller.
func (m *MethodGraph) Restore(s *MethodSnapshot) {
	m.calls = make(map[string][]string, len(s.Calls))
	for k, v := range s.Calls {
		m.calls[k] = append([]string(nil), v...)
	}
	m.byFile = make(map[string][]string, len(s.ByFile))
	for k, v := range s.ByFile {
		m.byFile[k] = append([]string(nil), v...)
	}
	m.spans = make(map[string][2]int, len(s.Spans))
	for k, v := range s.Spans {
		m.spans[k] = v
	}
	m.calledBy = make(map[string][]string)
}
