// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ast parses component source with tree-sitter and answers the
// structural questions the change pipeline asks: syntax errors, top-level
// declarations, exports, component props, and identifier resolution.
//
// Thread Safety: Parse creates a parser per call. A Module is read-only
// after Parse returns and may be shared, but Close must be called once.
package ast

import (
	"context"
	"errors"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// Language selects the tree-sitter grammar.
type Language string

const (
	LanguageTSX        Language = "tsx"
	LanguageTypeScript Language = "typescript"
	LanguageJavaScript Language = "javascript"
)

// ErrUnsupportedLanguage indicates a language without a grammar.
var ErrUnsupportedLanguage = errors.New("unsupported language")

// Grammar returns the tree-sitter grammar for lang.
func Grammar(lang Language) (*sitter.Language, error) {
	switch lang {
	case LanguageTSX, "":
		return tsx.GetLanguage(), nil
	case LanguageTypeScript:
		return typescript.GetLanguage(), nil
	case LanguageJavaScript:
		return javascript.GetLanguage(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, lang)
	}
}

// Module is a parsed source file.
type Module struct {
	Language Language
	Source   []byte
	tree     *sitter.Tree
	root     *sitter.Node
}

// Parse parses source with the grammar for lang.
//
// # Description
//
// Creates a parser per call, parses the full source, and returns a Module
// wrapping the tree. Syntax errors do not fail Parse; they are reported
// by SyntaxErrors.
//
// # Inputs
//
//   - ctx: Context for cancellation of the parse.
//   - lang: Grammar to use. Empty selects TSX.
//   - source: Complete source text.
//
// # Outputs
//
//   - *Module: Parsed module. Caller must Close it.
//   - error: Non-nil if the language is unsupported or parsing was canceled.
func Parse(ctx context.Context, lang Language, source string) (*Module, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	grammar, err := Grammar(lang)
	if err != nil {
		return nil, err
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(grammar)

	src := []byte(source)
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", lang, err)
	}

	return &Module{
		Language: lang,
		Source:   src,
		tree:     tree,
		root:     tree.RootNode(),
	}, nil
}

// Close releases the tree.
func (m *Module) Close() {
	if m != nil && m.tree != nil {
		m.tree.Close()
		m.tree = nil
	}
}

// Root returns the program node.
func (m *Module) Root() *sitter.Node {
	return m.root
}

// Text returns the source text covered by n.
func (m *Module) Text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return string(m.Source[n.StartByte():n.EndByte()])
}

// Line returns the 1-based line of n.
func Line(n *sitter.Node) int {
	if n == nil {
		return 0
	}
	return int(n.StartPoint().Row) + 1
}

// Walk visits n and its descendants in pre-order. Returning false from fn
// skips the children of the visited node.
func Walk(n *sitter.Node, fn func(n *sitter.Node) bool) {
	if n == nil {
		return
	}
	if !fn(n) {
		return
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		Walk(n.Child(i), fn)
	}
}

// =============================================================================
// Syntax Errors
// =============================================================================

// SyntaxError is one ERROR or MISSING node.
type SyntaxError struct {
	Line    int
	Column  int
	Message string
}

// SyntaxErrors returns up to limit syntax errors in document order.
// A limit of zero or less returns all of them.
func (m *Module) SyntaxErrors(limit int) []SyntaxError {
	if m.root == nil || !m.root.HasError() {
		return nil
	}

	var out []SyntaxError
	Walk(m.root, func(n *sitter.Node) bool {
		if limit > 0 && len(out) >= limit {
			return false
		}
		if !n.IsError() && !n.IsMissing() {
			return n.HasError()
		}

		se := SyntaxError{
			Line:   Line(n),
			Column: int(n.StartPoint().Column) + 1,
		}
		if n.IsMissing() {
			se.Message = fmt.Sprintf("missing %q", n.Type())
		} else {
			se.Message = fmt.Sprintf("unexpected %q", truncate(m.Text(n), 40))
		}
		out = append(out, se)
		return false
	})
	return out
}

// HasSyntaxError reports whether the tree contains ERROR or MISSING nodes.
func (m *Module) HasSyntaxError() bool {
	return m.root != nil && m.root.HasError()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
