// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validate

import (
	"context"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/AleutianAI/changeguard/services/changeguard/ast"
	"github.com/AleutianAI/changeguard/services/changeguard/change"
)

// ArgCheck inspects the argument list of a matched call.
type ArgCheck func(m *ast.Module, args *sitter.Node) bool

// DangerousPattern defines a construct the security stage looks for.
type DangerousPattern struct {
	// Name is the pattern identifier.
	Name string

	// NodeType is the AST node type to match.
	NodeType string

	// Targets are callee, constructor, assignment-target suffixes or JSX
	// names that trigger the pattern.
	Targets []string

	// Args, when set, must also accept the call arguments.
	Args ArgCheck

	Severity   change.Severity
	Message    string
	Suggestion string
}

// ComponentPatterns returns the default pattern table for UI components.
//
// Every critical pattern is banned: dynamic code evaluation, DOM writes of
// raw HTML, and dynamic iframe creation. Warnings are advisory.
func ComponentPatterns() []DangerousPattern {
	return []DangerousPattern{
		{
			Name:       "eval",
			NodeType:   "call_expression",
			Targets:    []string{"eval", "window.eval", "globalThis.eval"},
			Severity:   change.SeverityCritical,
			Message:    "use of eval() is not allowed",
			Suggestion: "parse data with JSON.parse or restructure the logic",
		},
		{
			Name:       "function_constructor",
			NodeType:   "new_expression",
			Targets:    []string{"Function"},
			Severity:   change.SeverityCritical,
			Message:    "dynamic code construction with new Function() is not allowed",
			Suggestion: "define the function statically",
		},
		{
			Name:       "function_call",
			NodeType:   "call_expression",
			Targets:    []string{"Function"},
			Severity:   change.SeverityCritical,
			Message:    "dynamic code construction with Function() is not allowed",
			Suggestion: "define the function statically",
		},
		{
			Name:       "string_timer",
			NodeType:   "call_expression",
			Targets:    []string{"setTimeout", "setInterval", "window.setTimeout", "window.setInterval"},
			Args:       firstArgIsString,
			Severity:   change.SeverityCritical,
			Message:    "timer with a string callback evaluates code",
			Suggestion: "pass a function instead of a string",
		},
		{
			Name:       "document_write",
			NodeType:   "call_expression",
			Targets:    []string{"document.write", "document.writeln"},
			Severity:   change.SeverityCritical,
			Message:    "document.write is not allowed",
			Suggestion: "render the content through JSX",
		},
		{
			Name:       "inner_html",
			NodeType:   "assignment_expression",
			Targets:    []string{".innerHTML", ".outerHTML"},
			Severity:   change.SeverityCritical,
			Message:    "assigning raw HTML to innerHTML/outerHTML is not allowed",
			Suggestion: "render the content through JSX or set textContent",
		},
		{
			Name:       "inner_html_append",
			NodeType:   "augmented_assignment_expression",
			Targets:    []string{".innerHTML", ".outerHTML"},
			Severity:   change.SeverityCritical,
			Message:    "appending raw HTML to innerHTML/outerHTML is not allowed",
			Suggestion: "render the content through JSX",
		},
		{
			Name:       "insert_adjacent_html",
			NodeType:   "call_expression",
			Targets:    []string{".insertAdjacentHTML"},
			Severity:   change.SeverityCritical,
			Message:    "insertAdjacentHTML is not allowed",
			Suggestion: "render the content through JSX",
		},
		{
			Name:       "dynamic_iframe",
			NodeType:   "call_expression",
			Targets:    []string{"document.createElement"},
			Args:       firstArgEquals("iframe"),
			Severity:   change.SeverityCritical,
			Message:    "dynamic iframe creation is not allowed",
			Suggestion: "embed third-party content through an approved wrapper",
		},
		{
			Name:       "dangerously_set_inner_html",
			NodeType:   "jsx_attribute",
			Targets:    []string{"dangerouslySetInnerHTML"},
			Severity:   change.SeverityWarning,
			Message:    "dangerouslySetInnerHTML renders unescaped HTML",
			Suggestion: "sanitize the HTML or render it as text",
		},
		{
			Name:       "jsx_iframe",
			NodeType:   "jsx_opening_element",
			Targets:    []string{"iframe"},
			Severity:   change.SeverityWarning,
			Message:    "component renders an iframe",
			Suggestion: "set a sandbox attribute on the iframe",
		},
		{
			Name:       "jsx_iframe",
			NodeType:   "jsx_self_closing_element",
			Targets:    []string{"iframe"},
			Severity:   change.SeverityWarning,
			Message:    "component renders an iframe",
			Suggestion: "set a sandbox attribute on the iframe",
		},
		{
			Name:       "proto_access",
			NodeType:   "member_expression",
			Targets:    []string{".__proto__"},
			Severity:   change.SeverityWarning,
			Message:    "__proto__ access can lead to prototype pollution",
			Suggestion: "use Object.getPrototypeOf",
		},
	}
}

// SecurityStage scans the syntax tree for banned constructs.
//
// Thread Safety: Safe for concurrent use. The pattern table is read-only.
type SecurityStage struct {
	patterns map[string][]DangerousPattern
}

// NewSecurityStage creates a security stage over patterns. A nil table
// uses ComponentPatterns.
func NewSecurityStage(patterns []DangerousPattern) *SecurityStage {
	if patterns == nil {
		patterns = ComponentPatterns()
	}
	byType := make(map[string][]DangerousPattern)
	for _, p := range patterns {
		byType[p.NodeType] = append(byType[p.NodeType], p)
	}
	return &SecurityStage{patterns: byType}
}

// Name implements Stage.
func (s *SecurityStage) Name() string { return "security" }

// Kind implements Stage.
func (s *SecurityStage) Kind() change.FailureKind { return change.KindSecurity }

// Check implements Stage.
func (s *SecurityStage) Check(ctx context.Context, in *Input) ([]change.ValidationIssue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var issues []change.ValidationIssue
	m := in.Module
	ast.Walk(m.Root(), func(n *sitter.Node) bool {
		for _, p := range s.patterns[n.Type()] {
			if !s.matches(m, n, p) {
				continue
			}
			issues = append(issues, change.ValidationIssue{
				Message:  p.Message,
				Severity: p.Severity,
				Line:     ast.Line(n),
				Column:   int(n.StartPoint().Column) + 1,
				Fix:      p.Suggestion,
			})
		}
		return true
	})
	return issues, nil
}

func (s *SecurityStage) matches(m *ast.Module, n *sitter.Node, p DangerousPattern) bool {
	target := targetText(m, n)
	if target == "" || !matchesTarget(target, p.Targets) {
		return false
	}
	if p.Args != nil {
		return p.Args(m, n.ChildByFieldName("arguments"))
	}
	return true
}

// targetText extracts the callee, constructor, assignment target, or JSX
// name that patterns are matched against.
func targetText(m *ast.Module, n *sitter.Node) string {
	switch n.Type() {
	case "call_expression":
		return m.Text(n.ChildByFieldName("function"))
	case "new_expression":
		return m.Text(n.ChildByFieldName("constructor"))
	case "assignment_expression", "augmented_assignment_expression":
		return m.Text(n.ChildByFieldName("left"))
	case "member_expression":
		return "." + m.Text(n.ChildByFieldName("property"))
	case "jsx_attribute":
		if n.NamedChildCount() > 0 {
			return m.Text(n.NamedChild(0))
		}
	case "jsx_opening_element", "jsx_self_closing_element":
		return m.Text(n.ChildByFieldName("name"))
	}
	return ""
}

// matchesTarget matches exactly, or by suffix for targets starting with ".".
func matchesTarget(target string, targets []string) bool {
	target = strings.ReplaceAll(target, "?.", ".")
	for _, t := range targets {
		if strings.HasPrefix(t, ".") {
			if strings.HasSuffix(target, t) {
				return true
			}
			continue
		}
		if target == t {
			return true
		}
	}
	return false
}

func firstArg(args *sitter.Node) *sitter.Node {
	if args == nil || args.NamedChildCount() == 0 {
		return nil
	}
	return args.NamedChild(0)
}

func firstArgIsString(_ *ast.Module, args *sitter.Node) bool {
	arg := firstArg(args)
	if arg == nil {
		return false
	}
	switch arg.Type() {
	case "string", "template_string", "binary_expression":
		return true
	}
	return false
}

func firstArgEquals(want string) ArgCheck {
	return func(m *ast.Module, args *sitter.Node) bool {
		arg := firstArg(args)
		if arg == nil || (arg.Type() != "string" && arg.Type() != "template_string") {
			return false
		}
		text := strings.Trim(m.Text(arg), "'\"`")
		return strings.EqualFold(text, want)
	}
}
