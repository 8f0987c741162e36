// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"unicode"

	sitter "github.com/smacker/go-tree-sitter"
)

// Reference is an identifier read somewhere in the module.
type Reference struct {
	Name   string
	Line   int
	Column int
}

// Bindings returns every name the module binds, at any scope depth:
// imports, declarations, parameters, catch clauses, and loop variables.
//
// Scopes are flattened. A name bound in one function therefore resolves
// references in another; resolution is deliberately permissive.
func (m *Module) Bindings() map[string]bool {
	bound := make(map[string]bool)

	Walk(m.root, func(n *sitter.Node) bool {
		switch n.Type() {
		case "import_clause":
			for i := 0; i < int(n.NamedChildCount()); i++ {
				c := n.NamedChild(i)
				if c.Type() == "identifier" {
					bound[m.Text(c)] = true
				}
			}
		case "namespace_import":
			for i := 0; i < int(n.NamedChildCount()); i++ {
				if c := n.NamedChild(i); c.Type() == "identifier" {
					bound[m.Text(c)] = true
				}
			}
		case "import_specifier":
			if alias := n.ChildByFieldName("alias"); alias != nil {
				bound[m.Text(alias)] = true
			} else if name := n.ChildByFieldName("name"); name != nil {
				bound[m.Text(name)] = true
			}
		case "variable_declarator":
			m.bindPattern(n.ChildByFieldName("name"), bound)
		case "function_declaration", "generator_function_declaration",
			"function_expression", "function", "class_declaration",
			"abstract_class_declaration", "class", "enum_declaration":
			if name := n.ChildByFieldName("name"); name != nil {
				bound[m.Text(name)] = true
			}
		case "formal_parameters":
			for i := 0; i < int(n.NamedChildCount()); i++ {
				m.bindPattern(n.NamedChild(i), bound)
			}
		case "arrow_function":
			m.bindPattern(n.ChildByFieldName("parameter"), bound)
		case "catch_clause":
			m.bindPattern(n.ChildByFieldName("parameter"), bound)
		case "for_in_statement":
			m.bindPattern(n.ChildByFieldName("left"), bound)
		}
		return true
	})
	return bound
}

func (m *Module) bindPattern(p *sitter.Node, bound map[string]bool) {
	if p == nil {
		return
	}
	switch p.Type() {
	case "identifier", "shorthand_property_identifier_pattern":
		bound[m.Text(p)] = true
	case "required_parameter", "optional_parameter":
		m.bindPattern(p.ChildByFieldName("pattern"), bound)
	case "assignment_pattern", "object_assignment_pattern":
		m.bindPattern(p.ChildByFieldName("left"), bound)
	case "pair_pattern":
		m.bindPattern(p.ChildByFieldName("value"), bound)
	case "object_pattern", "array_pattern", "rest_pattern":
		for i := 0; i < int(p.NamedChildCount()); i++ {
			m.bindPattern(p.NamedChild(i), bound)
		}
	}
}

// References returns identifier reads in document order.
//
// Property names, import specifier names, export aliases and lower-case
// JSX intrinsic tags (div, span) are not references.
func (m *Module) References() []Reference {
	var refs []Reference

	Walk(m.root, func(n *sitter.Node) bool {
		typ := n.Type()
		if typ != "identifier" && typ != "shorthand_property_identifier" {
			return true
		}
		if !m.isReference(n) {
			return true
		}
		refs = append(refs, Reference{
			Name:   m.Text(n),
			Line:   Line(n),
			Column: int(n.StartPoint().Column) + 1,
		})
		return true
	})
	return refs
}

func (m *Module) isReference(n *sitter.Node) bool {
	parent := n.Parent()
	if parent == nil {
		return true
	}

	switch parent.Type() {
	case "import_specifier", "import_clause", "namespace_import":
		return false
	case "export_specifier":
		alias := parent.ChildByFieldName("alias")
		return alias == nil || alias.StartByte() != n.StartByte()
	case "jsx_opening_element", "jsx_closing_element", "jsx_self_closing_element":
		name := m.Text(n)
		return name != "" && !unicode.IsLower([]rune(name)[0])
	}
	return true
}

// Unresolved returns references that are neither bound in the module nor
// listed in globals, de-duplicated by name and in first-seen order.
func (m *Module) Unresolved(globals map[string]bool) []Reference {
	bound := m.Bindings()
	seen := make(map[string]bool)

	var out []Reference
	for _, ref := range m.References() {
		if bound[ref.Name] || globals[ref.Name] || seen[ref.Name] {
			continue
		}
		seen[ref.Name] = true
		out = append(out, ref)
	}
	return out
}

// BrowserGlobals is the set of names a component may read without binding
// them: JavaScript built-ins, common browser globals, and React.
var BrowserGlobals = func() map[string]bool {
	names := []string{
		// language
		"undefined", "NaN", "Infinity", "globalThis", "arguments",
		"Object", "Array", "String", "Number", "Boolean", "Symbol", "BigInt",
		"Function", "Math", "JSON", "Date", "RegExp", "Error", "TypeError",
		"RangeError", "SyntaxError", "ReferenceError", "Promise", "Proxy",
		"Reflect", "Map", "Set", "WeakMap", "WeakSet", "Intl",
		"eval", "parseInt", "parseFloat", "isNaN", "isFinite",
		"encodeURIComponent", "decodeURIComponent", "encodeURI", "decodeURI",
		"structuredClone", "queueMicrotask",
		// browser
		"window", "document", "console", "navigator", "location", "history",
		"localStorage", "sessionStorage", "fetch", "setTimeout", "clearTimeout",
		"setInterval", "clearInterval", "requestAnimationFrame",
		"cancelAnimationFrame", "alert", "confirm", "prompt", "URL",
		"URLSearchParams", "FormData", "Headers", "Request", "Response",
		"Event", "CustomEvent", "HTMLElement", "Element", "Node",
		"AbortController", "IntersectionObserver", "ResizeObserver",
		"MutationObserver", "performance", "crypto", "Blob", "File",
		"FileReader", "Image", "TextEncoder", "TextDecoder",
		// runtime
		"React", "require", "module", "exports", "process",
	}
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}()
