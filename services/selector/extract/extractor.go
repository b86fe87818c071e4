// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extract

import (
	"context"
	"fmt"
)

// Backend identifies an extraction implementation.
type Backend string

const (
	// BackendToken is the fast token-stream scanner (default).
	BackendToken Backend = "token"

	// BackendTree is the tree-sitter structural backend.
	BackendTree Backend = "tree"
)

// Extractor produces symbol facts from one unit of source text.
//
// Implementations never return an error for malformed source; broken
// syntax yields an empty fact. The error return exists for context
// cancellation only.
type Extractor interface {
	// Name returns the backend identifier.
	Name() Backend

	// Extract scans content and returns the file's symbol facts.
	Extract(ctx context.Context, content []byte, path string) (*SymbolFact, error)
}

// MethodExtractor is the optional finer-grained capability: per-method
// call edges and lexical line spans.
type MethodExtractor interface {
	// ExtractMethods returns one MethodFact per declared method.
	ExtractMethods(ctx context.Context, content []byte, path string) ([]MethodFact, error)
}

// New returns the extractor for the given backend.
func New(backend Backend) (Extractor, error) {
	switch backend {
	case BackendToken, "":
		return NewTokenExtractor(), nil
	case BackendTree:
		return NewTreeExtractor(), nil
	default:
		return nil, fmt.Errorf("unknown extraction backend %q", backend)
	}
}
