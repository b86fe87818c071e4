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
	"strings"
	"time"
)

// tokenKind classifies lexed tokens. The scanner only distinguishes what
// fact extraction needs; everything else is punctuation.
type tokenKind int

const (
	tokIdent tokenKind = iota // bare or qualified name (may contain backslashes)
	tokVar                    // $variable
	tokStr                    // string literal (value without quotes)
	tokPunct                  // single punctuation rune or :: / ->
)

type token struct {
	kind tokenKind
	val  string
	line int
}

// TokenExtractor is the fast default backend: a single linear pass over
// a hand-rolled PHP token stream with brace-depth bookkeeping.
//
// Thread Safety: stateless; safe for concurrent use.
type TokenExtractor struct{}

// NewTokenExtractor creates the token-stream backend.
func NewTokenExtractor() *TokenExtractor {
	return &TokenExtractor{}
}

// Name implements Extractor.
func (e *TokenExtractor) Name() Backend { return BackendToken }

// Extract implements Extractor. Malformed input produces an empty fact,
// never an error.
func (e *TokenExtractor) Extract(ctx context.Context, content []byte, path string) (*SymbolFact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	fact, _ := walk(lex(content), false)
	recordExtractMetrics(ctx, string(BackendToken), time.Since(start), fact)
	return fact, nil
}

// ExtractMethods implements MethodExtractor.
func (e *TokenExtractor) ExtractMethods(ctx context.Context, content []byte, path string) ([]MethodFact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, methods := walk(lex(content), true)
	return methods, nil
}

// lex turns source bytes into a flat token slice. Comments, attributes
// and string bodies are consumed here so the walker never sees them;
// string literals survive as tokStr because include arguments need them.
// Text outside <?php / <?= regions is template output, not code, and
// produces no tokens.
func lex(src []byte) []token {
	var toks []token
	line := 1
	i := 0
	n := len(src)
	inPHP := false

	emit := func(kind tokenKind, val string) {
		toks = append(toks, token{kind: kind, val: val, line: line})
	}

	for i < n {
		c := src[i]

		if !inPHP {
			if c == '\n' {
				line++
				i++
				continue
			}
			if c == '<' && i+1 < n && src[i+1] == '?' {
				i += 2
				if i+3 <= n && equalFoldASCII(src[i:i+3], "php") {
					i += 3
				} else if i < n && src[i] == '=' {
					i++
				}
				inPHP = true
			} else {
				i++
			}
			continue
		}

		switch {
		case c == '\n':
			line++
			i++

		case c == ' ' || c == '\t' || c == '\r':
			i++

		case c == '/' && i+1 < n && src[i+1] == '/':
			for i < n && src[i] != '\n' {
				i++
			}

		case c == '/' && i+1 < n && src[i+1] == '*':
			i += 2
			for i < n {
				if src[i] == '\n' {
					line++
				}
				if src[i] == '*' && i+1 < n && src[i+1] == '/' {
					i += 2
					break
				}
				i++
			}

		case c == '#':
			if i+1 < n && src[i+1] == '[' {
				// PHP 8 attribute: skip the balanced bracket group.
				i += 2
				depth := 1
				for i < n && depth > 0 {
					switch src[i] {
					case '\n':
						line++
					case '[':
						depth++
					case ']':
						depth--
					}
					i++
				}
			} else {
				for i < n && src[i] != '\n' {
					i++
				}
			}

		case c == '\'' || c == '"' || c == '`':
			quote := c
			i++
			var sb strings.Builder
			for i < n && src[i] != quote {
				if src[i] == '\\' && i+1 < n {
					sb.WriteByte(src[i+1])
					if src[i+1] == '\n' {
						line++
					}
					i += 2
					continue
				}
				if src[i] == '\n' {
					line++
				}
				sb.WriteByte(src[i])
				i++
			}
			i++ // closing quote
			if quote != '`' {
				emit(tokStr, sb.String())
			}

		case c == '<' && i+2 < n && src[i+1] == '<' && src[i+2] == '<':
			// Heredoc / nowdoc: skip to the terminator line.
			i += 3
			for i < n && (src[i] == ' ' || src[i] == '\t') {
				i++
			}
			quoted := false
			if i < n && (src[i] == '\'' || src[i] == '"') {
				quoted = true
				i++
			}
			idStart := i
			for i < n && isIdentByte(src[i]) {
				i++
			}
			id := string(src[idStart:i])
			if quoted && i < n {
				i++
			}
			for i < n {
				if src[i] == '\n' {
					line++
					i++
					j := i
					for j < n && (src[j] == ' ' || src[j] == '\t') {
						j++
					}
					if id != "" && strings.HasPrefix(string(src[j:min(j+len(id), n)]), id) {
						i = j + len(id)
						break
					}
					continue
				}
				i++
			}

		case c == '$':
			start := i
			i++
			for i < n && isIdentByte(src[i]) {
				i++
			}
			emit(tokVar, string(src[start:i]))

		case isIdentStart(c) || c == '\\':
			start := i
			if c == '\\' {
				i++
			}
			for i < n {
				if isIdentByte(src[i]) {
					i++
					continue
				}
				// A backslash joins qualified name segments only when
				// followed by another identifier character.
				if src[i] == '\\' && i+1 < n && isIdentStart(src[i+1]) {
					i++
					continue
				}
				break
			}
			emit(tokIdent, string(src[start:i]))

		case c == ':' && i+1 < n && src[i+1] == ':':
			emit(tokPunct, "::")
			i += 2

		case c == '-' && i+1 < n && src[i+1] == '>':
			emit(tokPunct, "->")
			i += 2

		case c == '?' && i+1 < n && src[i+1] == '>':
			// Close tag: back to template text.
			inPHP = false
			i += 2

		default:
			emit(tokPunct, string(c))
			i++
		}
	}

	return toks
}

// equalFoldASCII compares a byte window against a lowercase literal;
// PHP open tags are case-insensitive (<?PHP is legal).
func equalFoldASCII(b []byte, lower string) bool {
	if len(b) != len(lower) {
		return false
	}
	for i := 0; i < len(b); i++ {
		c := b[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		if c != lower[i] {
			return false
		}
	}
	return true
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80
}

func isIdentByte(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

// classFrame tracks one enclosing type declaration during the walk.
type classFrame struct {
	name      string // namespace-qualified, empty for anonymous classes
	parent    string // first extends target, used for parent:: attribution
	bodyDepth int    // brace depth inside the type body
}

// methodFrame tracks the method currently being scanned.
type methodFrame struct {
	fact      MethodFact
	bodyDepth int
}

// walk is the shared linear pass over the token stream. It produces the
// file-level SymbolFact and, when wantMethods is set, per-method facts.
func walk(toks []token, wantMethods bool) (*SymbolFact, []MethodFact) {
	fact := NewSymbolFact()
	var methods []MethodFact

	depth := 0
	var classes []classFrame
	var method *methodFrame

	top := func() *classFrame {
		if len(classes) == 0 {
			return nil
		}
		return &classes[len(classes)-1]
	}

	at := func(i int) token {
		if i < 0 || i >= len(toks) {
			return token{kind: tokPunct, val: ""}
		}
		return toks[i]
	}

	finishMethod := func(endLine int) {
		if method == nil {
			return
		}
		method.fact.EndLine = endLine
		methods = append(methods, method.fact)
		method = nil
	}

	i := 0
	for i < len(toks) {
		tk := toks[i]

		if tk.kind == tokPunct {
			switch tk.val {
			case "{":
				depth++
			case "}":
				depth--
				if method != nil && depth < method.bodyDepth {
					finishMethod(tk.line)
				}
				if c := top(); c != nil && depth < c.bodyDepth {
					classes = classes[:len(classes)-1]
				}
			case "::":
				prev, next := at(i-1), at(i+1)
				if prev.kind == tokIdent && !isSelfLike(prev.val) && prev.val != "" && !isKeyword(prev.val) {
					fact.StaticCalls = append(fact.StaticCalls, normalizeRef(prev.val))
				}
				if wantMethods && method != nil && next.kind == tokIdent && at(i+2).val == "(" {
					recordScopedCall(method, top(), prev, next.val)
				}
			case "->":
				prev, next := at(i-1), at(i+1)
				if next.kind == tokIdent && at(i+2).val == "(" {
					if prev.kind == tokVar && prev.val == "$this" {
						if c := top(); c != nil && c.name != "" && wantMethods && method != nil {
							method.fact.Calls = append(method.fact.Calls, QualifyMethod(c.name, next.val))
						}
					} else if prev.kind == tokVar {
						fact.InstanceCalls = append(fact.InstanceCalls,
							ReceiverCall{Receiver: prev.val, Method: next.val})
						if wantMethods && method != nil {
							method.fact.OpaqueCalls = append(method.fact.OpaqueCalls,
								prev.val+"->"+next.val)
						}
					}
				}
			}
			i++
			continue
		}

		if tk.kind != tokIdent {
			i++
			continue
		}

		switch strings.ToLower(tk.val) {
		case "namespace":
			if at(i - 1).val == "::" {
				i++
				continue
			}
			if at(i+1).kind == tokIdent {
				fact.Namespace = normalizeRef(at(i + 1).val)
				i += 2
				continue
			}
			i++

		case "use":
			i = parseUse(toks, i, depth, top(), fact)

		case "class", "interface", "trait", "enum":
			// Guard against Foo::class and ->class.
			if at(i-1).val == "::" || at(i-1).val == "->" {
				i++
				continue
			}
			anonymous := strings.EqualFold(at(i-1).val, "new")
			i = parseTypeHeader(toks, i, fact, &depth, &classes, anonymous)

		case "function", "fn":
			i = parseFunction(toks, i, &depth, top(), &method, wantMethods, finishMethod)

		case "new":
			next := at(i + 1)
			if next.kind == tokIdent && !isSelfLike(next.val) &&
				!strings.EqualFold(next.val, "class") && !isKeyword(next.val) {
				fact.Instantiates = append(fact.Instantiates, normalizeRef(next.val))
			}
			i++

		case "include", "include_once", "require", "require_once":
			j := i + 1
			if at(j).val == "(" {
				j++
			}
			// Only a bare literal argument counts; concatenated or
			// computed paths cannot be resolved statically.
			if at(j).kind == tokStr && at(j).val != "" {
				switch at(j + 1).val {
				case ";", ")", ",", "":
					fact.Includes = append(fact.Includes, at(j).val)
				}
			}
			i = j + 1

		default:
			i++
		}
	}
	finishMethod(at(len(toks) - 1).line)

	return fact.normalize(), methods
}

// parseUse handles the three distinct meanings of the use keyword:
// top-level import, class-body trait mix-in, and closure variable capture.
// Returns the index after the consumed statement.
func parseUse(toks []token, i, depth int, cls *classFrame, fact *SymbolFact) int {
	at := func(k int) token {
		if k < 0 || k >= len(toks) {
			return token{kind: tokPunct}
		}
		return toks[k]
	}

	// Closure capture: use ($x, $y)
	if at(i+1).val == "(" {
		j := i + 2
		for j < len(toks) && at(j).val != ")" {
			j++
		}
		return j + 1
	}

	// Trait mix-in inside a type body.
	if cls != nil && depth == cls.bodyDepth {
		j := i + 1
		for j < len(toks) {
			tk := at(j)
			if tk.kind == tokIdent && !isKeyword(tk.val) {
				fact.Traits = append(fact.Traits, normalizeRef(tk.val))
			}
			if tk.val == ";" {
				return j + 1
			}
			if tk.val == "{" {
				// Conflict-resolution block: skip balanced braces.
				j++
				inner := 1
				for j < len(toks) && inner > 0 {
					switch at(j).val {
					case "{":
						inner++
					case "}":
						inner--
					}
					j++
				}
				return j
			}
			j++
		}
		return j
	}

	// Top-level import. Function and const imports are name-level, not
	// type-level, and do not become dependency edges.
	j := i + 1
	if strings.EqualFold(at(j).val, "function") || strings.EqualFold(at(j).val, "const") {
		for j < len(toks) && at(j).val != ";" {
			j++
		}
		return j + 1
	}

	for j < len(toks) {
		tk := at(j)
		if tk.val == ";" {
			return j + 1
		}
		if tk.kind != tokIdent || isKeyword(tk.val) {
			j++
			continue
		}
		name := normalizeRef(tk.val)

		// Grouped import: use Prefix\{A, B as C};
		if at(j+1).val == "\\" && at(j+2).val == "{" {
			k := j + 3
			for k < len(toks) && at(k).val != "}" {
				el := at(k)
				if el.kind == tokIdent && !isKeyword(el.val) {
					fact.Uses = append(fact.Uses, name+"\\"+el.val)
					// Skip an optional alias.
					if strings.EqualFold(at(k+1).val, "as") {
						k += 2
					}
				}
				k++
			}
			j = k + 1
			continue
		}

		fact.Uses = append(fact.Uses, name)
		// Skip an optional alias; the alias itself is not a dependency.
		if strings.EqualFold(at(j+1).val, "as") {
			j += 3
			continue
		}
		j++
	}
	return j
}

// parseTypeHeader consumes "class Name extends A implements B, C {" and
// pushes the class frame. Returns the index just past the opening brace
// (or past the header if the body never opens, e.g. truncated input).
func parseTypeHeader(toks []token, i int, fact *SymbolFact, depth *int, classes *[]classFrame, anonymous bool) int {
	at := func(k int) token {
		if k < 0 || k >= len(toks) {
			return token{kind: tokPunct}
		}
		return toks[k]
	}

	frame := classFrame{}
	j := i + 1

	if !anonymous && at(j).kind == tokIdent && !isKeyword(at(j).val) {
		frame.name = qualify(fact.Namespace, at(j).val)
		fact.Declares = append(fact.Declares, frame.name)
		j++
	}

	const (
		modeNone = iota
		modeExtends
		modeImplements
	)
	mode := modeNone

	for j < len(toks) {
		tk := at(j)
		switch {
		case tk.val == "{":
			*depth++
			frame.bodyDepth = *depth
			*classes = append(*classes, frame)
			return j + 1
		case tk.val == ";":
			// Broken header; never opened a body.
			return j + 1
		case strings.EqualFold(tk.val, "extends"):
			mode = modeExtends
		case strings.EqualFold(tk.val, "implements"):
			mode = modeImplements
		case tk.val == ":":
			mode = modeNone // enum backing type
		case tk.kind == tokIdent && !isKeyword(tk.val):
			switch mode {
			case modeExtends:
				name := normalizeRef(tk.val)
				fact.Extends = append(fact.Extends, name)
				if frame.parent == "" {
					frame.parent = name
				}
			case modeImplements:
				fact.Implements = append(fact.Implements, normalizeRef(tk.val))
			}
		}
		j++
	}
	return j
}

// parseFunction consumes a function keyword. Inside a type body this is
// a method declaration and opens a method frame for the method pass.
func parseFunction(toks []token, i int, depth *int, cls *classFrame,
	method **methodFrame, wantMethods bool, finish func(int)) int {

	at := func(k int) token {
		if k < 0 || k >= len(toks) {
			return token{kind: tokPunct}
		}
		return toks[k]
	}

	j := i + 1
	if at(j).val == "&" {
		j++
	}

	// Anonymous function / arrow fn: no name token before the parameter
	// list; the body belongs to the enclosing method.
	if at(j).kind != tokIdent || at(j).val == "(" {
		return j
	}

	name := at(j).val
	isMethod := cls != nil && cls.name != "" && *depth == cls.bodyDepth

	// Scan the header for the body opener or an abstract terminator.
	k := j + 1
	parens := 0
	for k < len(toks) {
		tk := at(k)
		if tk.val == "(" {
			parens++
		}
		if tk.val == ")" {
			parens--
		}
		if parens == 0 && tk.val == "{" {
			*depth++
			if isMethod && wantMethods {
				finish(tk.line) // defensive close of a dangling frame
				*method = &methodFrame{
					fact: MethodFact{
						Name:      QualifyMethod(cls.name, name),
						StartLine: toks[i].line,
					},
					bodyDepth: *depth,
				}
			}
			return k + 1
		}
		if parens == 0 && tk.val == ";" {
			// Abstract or interface method: span is the header only.
			if isMethod && wantMethods {
				methodFactHeaderOnly(method, finish, cls.name, name, toks[i].line, tk.line)
			}
			return k + 1
		}
		k++
	}
	return k
}

// methodFactHeaderOnly records a bodyless method declaration.
func methodFactHeaderOnly(method **methodFrame, finish func(int), typeName, name string, start, end int) {
	finish(start)
	*method = &methodFrame{fact: MethodFact{
		Name:      QualifyMethod(typeName, name),
		StartLine: start,
	}}
	finish(end)
}

// recordScopedCall attributes an X::m() call inside a method body.
func recordScopedCall(method *methodFrame, cls *classFrame, receiver token, name string) {
	if receiver.kind != tokIdent {
		return
	}
	switch strings.ToLower(receiver.val) {
	case "self", "static":
		if cls != nil && cls.name != "" {
			method.fact.Calls = append(method.fact.Calls, QualifyMethod(cls.name, name))
		}
	case "parent":
		if cls != nil && cls.parent != "" {
			method.fact.Calls = append(method.fact.Calls, QualifyMethod(cls.parent, name))
		}
	default:
		if !isKeyword(receiver.val) {
			method.fact.Calls = append(method.fact.Calls,
				QualifyMethod(normalizeRef(receiver.val), name))
		}
	}
}

func isSelfLike(name string) bool {
	switch strings.ToLower(name) {
	case "self", "static", "parent":
		return true
	}
	return false
}

// isKeyword filters PHP keywords out of name positions. Deliberately the
// small set that can collide with names in the constructs we scan.
func isKeyword(name string) bool {
	switch strings.ToLower(name) {
	case "abstract", "as", "break", "case", "catch", "class", "clone",
		"const", "continue", "declare", "default", "do", "echo", "else",
		"elseif", "enum", "extends", "final", "finally", "fn", "for",
		"foreach", "function", "global", "if", "implements", "include",
		"include_once", "instanceof", "insteadof", "interface", "match",
		"namespace", "new", "print", "private", "protected", "public",
		"readonly", "require", "require_once", "return", "static", "switch",
		"throw", "trait", "try", "use", "var", "while", "yield",
		"true", "false", "null", "array", "callable", "void", "int",
		"float", "string", "bool", "mixed", "iterable", "object", "never",
		"self", "parent":
		return true
	}
	return false
}
