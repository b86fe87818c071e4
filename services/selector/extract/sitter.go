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
	"strings"
	"time"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/php"
)

// TreeExtractor is the structural backend: tree-sitter over the PHP
// grammar. Slower than the token scanner but grammar-verified; the two
// must produce identical SymbolFacts for valid input.
//
// Thread Safety: safe for concurrent use. A fresh tree-sitter parser is
// created per Extract call; parser instances are not shareable.
type TreeExtractor struct{}

// NewTreeExtractor creates the tree-sitter backend.
func NewTreeExtractor() *TreeExtractor {
	return &TreeExtractor{}
}

// Name implements Extractor.
func (e *TreeExtractor) Name() Backend { return BackendTree }

// Extract implements Extractor.
//
// A parse failure or a tree full of errors still yields a fact built
// from whatever subtrees were recognizable; a total failure yields an
// empty fact. Only context cancellation is surfaced as an error.
func (e *TreeExtractor) Extract(ctx context.Context, content []byte, path string) (*SymbolFact, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("extract canceled before start: %w", err)
	}
	start := time.Now()

	parser := sitter.NewParser()
	parser.SetLanguage(php.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("extract canceled during parse: %w", ctx.Err())
		}
		// Best effort, never block the pipeline.
		return NewSymbolFact(), nil
	}
	defer tree.Close()

	fact := NewSymbolFact()
	root := tree.RootNode()
	if root != nil {
		w := &treeWalker{src: content, fact: fact}
		w.visit(root)
	}
	fact.normalize()

	recordExtractMetrics(ctx, string(BackendTree), time.Since(start), fact)
	return fact, nil
}

// treeWalker accumulates facts while descending the syntax tree.
type treeWalker struct {
	src  []byte
	fact *SymbolFact
}

func (w *treeWalker) text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return n.Content(w.src)
}

func (w *treeWalker) visit(n *sitter.Node) {
	switch n.Type() {
	case "namespace_definition":
		if name := childOfType(n, "namespace_name"); name != nil {
			w.fact.Namespace = normalizeRef(w.text(name))
		}

	case "namespace_use_declaration":
		w.visitUseDeclaration(n)
		return

	case "attribute_list":
		// Attributes are metadata, not dependencies; the argument
		// expressions inside #[...] are never evaluated at this level.
		return

	case "class_declaration", "interface_declaration", "trait_declaration", "enum_declaration":
		w.visitTypeDeclaration(n)
		// Fall through into the body for nested facts.

	case "use_declaration":
		// Trait mix-in inside a type body.
		for i := 0; i < int(n.NamedChildCount()); i++ {
			c := n.NamedChild(i)
			if c.Type() == "name" || c.Type() == "qualified_name" {
				if name := normalizeRef(w.text(c)); name != "" && !isKeyword(name) {
					w.fact.Traits = append(w.fact.Traits, name)
				}
			}
		}

	case "object_creation_expression":
		if name := w.creationTarget(n); name != "" {
			w.fact.Instantiates = append(w.fact.Instantiates, name)
		}
		// Anonymous classes carry their inheritance clauses directly on
		// the creation expression.
		for i := 0; i < int(n.NamedChildCount()); i++ {
			c := n.NamedChild(i)
			switch c.Type() {
			case "base_clause":
				w.appendNames(c, &w.fact.Extends)
			case "class_interface_clause":
				w.appendNames(c, &w.fact.Implements)
			}
		}

	case "scoped_call_expression", "class_constant_access_expression", "scoped_property_access_expression":
		w.visitScoped(n)

	case "member_call_expression":
		w.visitMemberCall(n)

	case "include_expression", "include_once_expression", "require_expression", "require_once_expression":
		if lit := includeLiteral(n, w.src); lit != "" {
			w.fact.Includes = append(w.fact.Includes, lit)
		}
	}

	for i := 0; i < int(n.NamedChildCount()); i++ {
		w.visit(n.NamedChild(i))
	}
}

// visitUseDeclaration records top-level imports. Function and const
// imports are skipped; aliases are skipped, never expanded.
func (w *treeWalker) visitUseDeclaration(n *sitter.Node) {
	// "use function ..." / "use const ..." carry a keyword child.
	for i := 0; i < int(n.ChildCount()); i++ {
		t := n.Child(i).Type()
		if t == "function" || t == "const" {
			return
		}
	}

	var groupPrefix string
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		switch c.Type() {
		case "namespace_use_clause":
			if name := firstNameChild(c, w.src); name != "" {
				w.fact.Uses = append(w.fact.Uses, name)
			}
		case "namespace_name", "name", "qualified_name":
			// Prefix of a grouped import: use Prefix\{A, B};
			groupPrefix = normalizeRef(w.text(c))
		case "namespace_use_group":
			for j := 0; j < int(c.NamedChildCount()); j++ {
				clause := c.NamedChild(j)
				if name := firstNameChild(clause, w.src); name != "" {
					if groupPrefix != "" {
						name = groupPrefix + "\\" + name
					}
					w.fact.Uses = append(w.fact.Uses, name)
				}
			}
		}
	}
}

// visitTypeDeclaration records the declared type and its inheritance
// clauses. Anonymous classes have no name node and declare nothing.
func (w *treeWalker) visitTypeDeclaration(n *sitter.Node) {
	if name := n.ChildByFieldName("name"); name != nil {
		w.fact.Declares = append(w.fact.Declares, qualify(w.fact.Namespace, w.text(name)))
	}

	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		switch c.Type() {
		case "base_clause":
			w.appendNames(c, &w.fact.Extends)
		case "class_interface_clause":
			w.appendNames(c, &w.fact.Implements)
		}
	}
}

// appendNames collects every name-like child of a clause node.
func (w *treeWalker) appendNames(clause *sitter.Node, dst *[]string) {
	for i := 0; i < int(clause.NamedChildCount()); i++ {
		c := clause.NamedChild(i)
		if c.Type() == "name" || c.Type() == "qualified_name" {
			if name := normalizeRef(w.text(c)); name != "" && !isKeyword(name) {
				*dst = append(*dst, name)
			}
		}
	}
}

// creationTarget resolves the type name of a new-expression, or ""
// when the target is a variable, self-like, or an anonymous class.
func (w *treeWalker) creationTarget(n *sitter.Node) string {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		switch c.Type() {
		case "name", "qualified_name":
			name := normalizeRef(w.text(c))
			if name == "" || isSelfLike(name) || isKeyword(name) {
				return ""
			}
			return name
		case "variable_name", "declaration_list", "relative_scope":
			return ""
		}
	}
	return ""
}

// visitScoped records the receiver type of any X::... access.
func (w *treeWalker) visitScoped(n *sitter.Node) {
	scope := n.ChildByFieldName("scope")
	if scope == nil && n.NamedChildCount() > 0 {
		scope = n.NamedChild(0)
	}
	if scope == nil {
		return
	}
	switch scope.Type() {
	case "name", "qualified_name":
		name := normalizeRef(w.text(scope))
		if name != "" && !isSelfLike(name) && !isKeyword(name) {
			w.fact.StaticCalls = append(w.fact.StaticCalls, name)
		}
	}
}

// visitMemberCall records unresolved $var->m() receiver calls. $this
// calls resolve to the enclosing type and belong to the method layer,
// not the file-level fact.
func (w *treeWalker) visitMemberCall(n *sitter.Node) {
	obj := n.ChildByFieldName("object")
	if obj == nil || obj.Type() != "variable_name" {
		return
	}
	receiver := w.text(obj)
	if receiver == "$this" {
		return
	}
	name := n.ChildByFieldName("name")
	if name == nil || name.Type() != "name" {
		return
	}
	w.fact.InstanceCalls = append(w.fact.InstanceCalls,
		ReceiverCall{Receiver: receiver, Method: w.text(name)})
}

// includeLiteral returns the literal path of an include-like expression
// when its argument is a bare string, unwrapping parentheses.
func includeLiteral(n *sitter.Node, src []byte) string {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		for c != nil && c.Type() == "parenthesized_expression" {
			if c.NamedChildCount() == 0 {
				return ""
			}
			c = c.NamedChild(0)
		}
		if c == nil {
			continue
		}
		switch c.Type() {
		case "string", "encapsed_string":
			return unquoteString(c.Content(src))
		}
	}
	return ""
}

// unquoteString strips the surrounding quotes and resolves simple
// backslash escapes, matching the token scanner's lexer.
func unquoteString(s string) string {
	if len(s) < 2 {
		return ""
	}
	q := s[0]
	if (q != '\'' && q != '"') || s[len(s)-1] != q {
		return ""
	}
	body := s[1 : len(s)-1]
	if !strings.ContainsRune(body, '\\') {
		return body
	}
	var sb strings.Builder
	for i := 0; i < len(body); i++ {
		if body[i] == '\\' && i+1 < len(body) {
			sb.WriteByte(body[i+1])
			i++
			continue
		}
		sb.WriteByte(body[i])
	}
	return sb.String()
}

// childOfType returns the first named child with the given type.
func childOfType(n *sitter.Node, typ string) *sitter.Node {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if c := n.NamedChild(i); c.Type() == typ {
			return c
		}
	}
	return nil
}

// firstNameChild returns the first name-like child's normalized text.
func firstNameChild(n *sitter.Node, src []byte) string {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		switch c.Type() {
		case "name", "qualified_name", "namespace_name":
			name := normalizeRef(c.Content(src))
			if name != "" && !isKeyword(name) {
				return name
			}
		}
	}
	return ""
}
