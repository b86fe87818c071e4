// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package extract turns PHP source text into symbol-level dependency facts.
//
// Two interchangeable backends are provided: TokenExtractor (a fast
// hand-rolled token scanner, the default) and TreeExtractor (tree-sitter
// based, structural). Both produce identical SymbolFacts for valid input;
// that equivalence is a tested contract, not an accident.
//
// Design principles:
//   - Extraction never fails on malformed source. A file that is mid-edit
//     is a normal input, so broken syntax yields an empty fact, not an error.
//   - Names are recorded dependency-resolution-ready: declared types are
//     namespace-qualified, references are kept as written (leading backslash
//     stripped, aliases never expanded) so both backends agree byte-for-byte.
package extract

import (
	"sort"
	"strings"
)

// ReceiverCall is an instance-method call whose receiver could not be
// resolved to a type. It is kept for diagnostics only and never becomes
// a dependency edge.
type ReceiverCall struct {
	// Receiver is the receiver expression as written (e.g. "$repo").
	Receiver string `json:"receiver"`

	// Method is the called method name.
	Method string `json:"method"`
}

// SymbolFact is the flat set of symbol-level facts extracted from one file.
//
// All slice fields are sorted and deduplicated; see normalize. A zero
// SymbolFact (all sets empty) is the result of extracting unparseable input.
type SymbolFact struct {
	// Namespace is the file's namespace declaration, empty when absent.
	Namespace string `json:"namespace,omitempty"`

	// Declares lists the namespace-qualified type names (classes,
	// interfaces, traits, enums) declared in the file.
	Declares []string `json:"declares,omitempty"`

	// Uses lists imported names exactly as written in use statements.
	Uses []string `json:"uses,omitempty"`

	// Extends lists inherited type names (multiple for interfaces).
	Extends []string `json:"extends,omitempty"`

	// Implements lists implemented interface names.
	Implements []string `json:"implements,omitempty"`

	// Traits lists mixed-in trait names (class-body use statements).
	Traits []string `json:"traits,omitempty"`

	// Instantiates lists type names appearing in new-expressions.
	Instantiates []string `json:"instantiates,omitempty"`

	// StaticCalls lists type names used as static call receivers (X::m()).
	// self/static/parent receivers are excluded: self and static are
	// same-file references, parent is already covered by Extends.
	StaticCalls []string `json:"static_calls,omitempty"`

	// InstanceCalls lists unresolved receiver calls ($var->m()).
	// $this-> calls are resolved to the enclosing type and surface in the
	// method call graph instead.
	InstanceCalls []ReceiverCall `json:"instance_calls,omitempty"`

	// Includes lists literal string arguments of include/require forms.
	Includes []string `json:"includes,omitempty"`
}

// NewSymbolFact returns an empty fact. Used as the recovery value for
// unparseable input.
func NewSymbolFact() *SymbolFact {
	return &SymbolFact{}
}

// ReferencedSymbols returns the union of all type names the file depends
// on: imports, inheritance, interfaces, traits, constructions and static
// calls. The result is sorted and deduplicated.
func (f *SymbolFact) ReferencedSymbols() []string {
	seen := make(map[string]struct{})
	out := make([]string, 0,
		len(f.Uses)+len(f.Extends)+len(f.Implements)+
			len(f.Traits)+len(f.Instantiates)+len(f.StaticCalls))

	for _, group := range [][]string{
		f.Uses, f.Extends, f.Implements, f.Traits, f.Instantiates, f.StaticCalls,
	} {
		for _, name := range group {
			if name == "" {
				continue
			}
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}

	sort.Strings(out)
	return out
}

// IsEmpty reports whether the fact carries no information at all.
func (f *SymbolFact) IsEmpty() bool {
	return f.Namespace == "" &&
		len(f.Declares) == 0 && len(f.Uses) == 0 &&
		len(f.Extends) == 0 && len(f.Implements) == 0 &&
		len(f.Traits) == 0 && len(f.Instantiates) == 0 &&
		len(f.StaticCalls) == 0 && len(f.InstanceCalls) == 0 &&
		len(f.Includes) == 0
}

// Equal reports set-equality of two facts. Used by the backend
// equivalence tests and safe because normalize sorts every field.
func (f *SymbolFact) Equal(other *SymbolFact) bool {
	if f == nil || other == nil {
		return f == other
	}
	if f.Namespace != other.Namespace {
		return false
	}
	eq := func(a, b []string) bool {
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if a[i] != b[i] {
				return false
			}
		}
		return true
	}
	if !eq(f.Declares, other.Declares) || !eq(f.Uses, other.Uses) ||
		!eq(f.Extends, other.Extends) || !eq(f.Implements, other.Implements) ||
		!eq(f.Traits, other.Traits) || !eq(f.Instantiates, other.Instantiates) ||
		!eq(f.StaticCalls, other.StaticCalls) || !eq(f.Includes, other.Includes) {
		return false
	}
	if len(f.InstanceCalls) != len(other.InstanceCalls) {
		return false
	}
	for i := range f.InstanceCalls {
		if f.InstanceCalls[i] != other.InstanceCalls[i] {
			return false
		}
	}
	return true
}

// normalize sorts and deduplicates every set-valued field in place.
// Both backends call this before returning a fact so results compare
// deterministically.
func (f *SymbolFact) normalize() *SymbolFact {
	f.Declares = dedupSorted(f.Declares)
	f.Uses = dedupSorted(f.Uses)
	f.Extends = dedupSorted(f.Extends)
	f.Implements = dedupSorted(f.Implements)
	f.Traits = dedupSorted(f.Traits)
	f.Instantiates = dedupSorted(f.Instantiates)
	f.StaticCalls = dedupSorted(f.StaticCalls)
	f.Includes = dedupSorted(f.Includes)

	sort.Slice(f.InstanceCalls, func(i, j int) bool {
		a, b := f.InstanceCalls[i], f.InstanceCalls[j]
		if a.Receiver != b.Receiver {
			return a.Receiver < b.Receiver
		}
		return a.Method < b.Method
	})
	f.InstanceCalls = dedupCalls(f.InstanceCalls)
	return f
}

func dedupSorted(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	sort.Strings(in)
	out := in[:0]
	for _, s := range in {
		if s == "" {
			continue
		}
		if len(out) > 0 && s == out[len(out)-1] {
			continue
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func dedupCalls(in []ReceiverCall) []ReceiverCall {
	if len(in) == 0 {
		return nil
	}
	out := in[:1]
	for _, c := range in[1:] {
		if c != out[len(out)-1] {
			out = append(out, c)
		}
	}
	return out
}

// MethodFact describes one declared method and its outgoing calls.
// Produced by the token backend's method pass for the method call graph.
type MethodFact struct {
	// Name is the qualified method name, Type::method.
	Name string `json:"name"`

	// StartLine and EndLine delimit the method's lexical body, 1-based
	// and inclusive. Used to attribute changed diff lines to methods.
	StartLine int `json:"start_line"`
	EndLine   int `json:"end_line"`

	// Calls lists qualified call targets (Type::method) for calls whose
	// receiver resolved to a type ($this->, self::, static::, X::).
	Calls []string `json:"calls,omitempty"`

	// OpaqueCalls lists unresolved receiver calls, recorded as
	// "$var->method" tokens. Diagnostic only; never a graph edge.
	OpaqueCalls []string `json:"opaque_calls,omitempty"`
}

// QualifyMethod builds a Type::method node name.
func QualifyMethod(typeName, method string) string {
	return typeName + "::" + method
}

// IsOpaqueCall reports whether a call-graph node string is an unresolved
// receiver token rather than a Type::method name.
func IsOpaqueCall(node string) bool {
	return strings.HasPrefix(node, "$")
}

// qualify joins a namespace and a bare type name the way PHP does.
func qualify(namespace, name string) string {
	if namespace == "" {
		return name
	}
	return namespace + "\\" + name
}

// normalizeRef strips a single leading backslash from a referenced name
// so fully-qualified references compare equal to declared names. Aliases
// are deliberately not expanded; the name stays as written otherwise.
func normalizeRef(name string) string {
	return strings.TrimPrefix(name, "\\")
}
