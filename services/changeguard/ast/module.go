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
	"regexp"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// DeclKind is the syntactic kind of a top-level declaration.
type DeclKind string

const (
	DeclFunction DeclKind = "function"
	DeclArrow    DeclKind = "arrow"
	DeclClass    DeclKind = "class"
	DeclVariable DeclKind = "variable"
)

// Declaration is a named top-level declaration.
type Declaration struct {
	Name     string
	Kind     DeclKind
	Exported bool
	Default  bool
	Line     int

	// Node is the function, arrow, or class node that holds the body.
	// For plain variables it is the declarator's value (possibly nil).
	Node *sitter.Node

	// Heritage is the class heritage text, for example "extends Component".
	Heritage string
}

// Exports is the export surface of a module.
type Exports struct {
	// Names holds every exported binding name, "default" included when the
	// module has a default export.
	Names map[string]bool

	// DefaultText is the source of the default-exported expression or
	// declaration name.
	DefaultText string
}

// Has reports whether name is exported under its own name.
func (e Exports) Has(name string) bool {
	return e.Names[name]
}

// Sorted returns the exported names in lexical order.
func (e Exports) Sorted() []string {
	out := make([]string, 0, len(e.Names))
	for name := range e.Names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ExportsDefault reports whether the default export refers to name.
func (e Exports) ExportsDefault(name string) bool {
	if !e.Names["default"] {
		return false
	}
	return wordPattern(name).MatchString(e.DefaultText)
}

// Declarations returns the module's top-level declarations in order.
func (m *Module) Declarations() []Declaration {
	var out []Declaration
	root := m.root
	for i := 0; i < int(root.NamedChildCount()); i++ {
		out = append(out, m.declarationsOf(root.NamedChild(i), false, false)...)
	}
	return out
}

func (m *Module) declarationsOf(n *sitter.Node, exported, isDefault bool) []Declaration {
	switch n.Type() {
	case "export_statement":
		isDefault := hasChildType(n, "default")
		if decl := n.ChildByFieldName("declaration"); decl != nil {
			return m.declarationsOf(decl, true, isDefault)
		}
		// Named default expressions: export default function Btn() {}
		value := n.ChildByFieldName("value")
		if value == nil || !isDefault || value.ChildByFieldName("name") == nil {
			return nil
		}
		switch value.Type() {
		case "function_expression", "function":
			d := Declaration{
				Name: m.Text(value.ChildByFieldName("name")), Kind: DeclFunction,
				Exported: true, Default: true, Line: Line(value), Node: value,
			}
			return []Declaration{d}
		case "class":
			d := Declaration{
				Name: m.Text(value.ChildByFieldName("name")), Kind: DeclClass,
				Exported: true, Default: true, Line: Line(value), Node: value,
			}
			if h := firstChildOfType(value, "class_heritage"); h != nil {
				d.Heritage = m.Text(h)
			}
			return []Declaration{d}
		}
		return nil

	case "function_declaration", "generator_function_declaration":
		name := n.ChildByFieldName("name")
		if name == nil {
			return nil
		}
		return []Declaration{{
			Name: m.Text(name), Kind: DeclFunction, Exported: exported,
			Default: isDefault, Line: Line(n), Node: n,
		}}

	case "class_declaration", "abstract_class_declaration":
		name := n.ChildByFieldName("name")
		if name == nil {
			return nil
		}
		d := Declaration{
			Name: m.Text(name), Kind: DeclClass, Exported: exported,
			Default: isDefault, Line: Line(n), Node: n,
		}
		if h := firstChildOfType(n, "class_heritage"); h != nil {
			d.Heritage = m.Text(h)
		}
		return []Declaration{d}

	case "lexical_declaration", "variable_declaration":
		var out []Declaration
		for i := 0; i < int(n.NamedChildCount()); i++ {
			vd := n.NamedChild(i)
			if vd.Type() != "variable_declarator" {
				continue
			}
			name := vd.ChildByFieldName("name")
			if name == nil || name.Type() != "identifier" {
				continue
			}
			value := vd.ChildByFieldName("value")
			d := Declaration{
				Name: m.Text(name), Kind: DeclVariable, Exported: exported,
				Line: Line(vd), Node: value,
			}
			if fn := functionValue(value); fn != nil {
				d.Kind = DeclArrow
				d.Node = fn
			}
			out = append(out, d)
		}
		return out
	}
	return nil
}

// Exports returns the module's export surface.
func (m *Module) Exports() Exports {
	ex := Exports{Names: make(map[string]bool)}
	root := m.root

	for i := 0; i < int(root.NamedChildCount()); i++ {
		n := root.NamedChild(i)
		if n.Type() != "export_statement" {
			continue
		}
		isDefault := hasChildType(n, "default")

		if decl := n.ChildByFieldName("declaration"); decl != nil {
			for _, d := range m.declarationsOf(decl, true, isDefault) {
				ex.Names[d.Name] = true
				if isDefault {
					ex.Names["default"] = true
					ex.DefaultText = d.Name
				}
			}
			if isDefault && !ex.Names["default"] {
				ex.Names["default"] = true
				ex.DefaultText = m.Text(decl)
			}
			continue
		}

		if value := n.ChildByFieldName("value"); value != nil && isDefault {
			ex.Names["default"] = true
			ex.DefaultText = m.Text(value)
			continue
		}

		if clause := firstChildOfType(n, "export_clause"); clause != nil {
			for j := 0; j < int(clause.NamedChildCount()); j++ {
				specifier := clause.NamedChild(j)
				if specifier.Type() != "export_specifier" {
					continue
				}
				local := m.Text(specifier.ChildByFieldName("name"))
				exported := local
				if alias := specifier.ChildByFieldName("alias"); alias != nil {
					exported = m.Text(alias)
				}
				ex.Names[exported] = true
				if exported == "default" {
					ex.DefaultText = local
				}
			}
		}
	}
	return ex
}

// =============================================================================
// Components
// =============================================================================

// Component locates a component declaration by name.
//
// A component is a top-level function declaration, a variable bound to an
// arrow or function expression (optionally wrapped, as in memo(...) or
// forwardRef(...)), or a class whose heritage mentions Component.
func (m *Module) Component(name string) (Declaration, bool) {
	for _, d := range m.Declarations() {
		if d.Name != name {
			continue
		}
		switch d.Kind {
		case DeclFunction, DeclArrow:
			return d, true
		case DeclClass:
			if strings.Contains(d.Heritage, "Component") {
				return d, true
			}
		}
	}
	return Declaration{}, false
}

// ProducesOutput reports whether the component yields a value: an arrow
// with an expression body, a return with a value, or for classes a render
// method that returns a value.
func (m *Module) ProducesOutput(d Declaration) bool {
	if d.Node == nil {
		return false
	}

	body := d.Node.ChildByFieldName("body")
	if d.Kind == DeclClass {
		body = m.renderBody(body)
	}
	if body == nil {
		return false
	}
	if body.Type() != "statement_block" {
		return true
	}

	found := false
	Walk(body, func(n *sitter.Node) bool {
		if found {
			return false
		}
		if n.Type() == "return_statement" && n.NamedChildCount() > 0 {
			found = true
			return false
		}
		return true
	})
	return found
}

// ContainsJSX reports whether n contains any JSX element.
func ContainsJSX(n *sitter.Node) bool {
	found := false
	Walk(n, func(c *sitter.Node) bool {
		if found {
			return false
		}
		switch c.Type() {
		case "jsx_element", "jsx_self_closing_element", "jsx_fragment":
			found = true
			return false
		}
		return true
	})
	return found
}

func (m *Module) renderBody(classBody *sitter.Node) *sitter.Node {
	if classBody == nil {
		return nil
	}
	for i := 0; i < int(classBody.NamedChildCount()); i++ {
		member := classBody.NamedChild(i)
		if member.Type() != "method_definition" {
			continue
		}
		if m.Text(member.ChildByFieldName("name")) == "render" {
			return member.ChildByFieldName("body")
		}
	}
	return nil
}

// Props returns the sorted prop names a component reads.
//
// # Description
//
// For function components the first parameter is inspected: a destructured
// object pattern yields its keys, a plain identifier p yields every p.x
// member access and every destructuring of p in the body. For class
// components this.props.x accesses and destructurings of this.props are
// collected.
//
// # Inputs
//
//   - name: Component name.
//
// # Outputs
//
//   - []string: Prop names, nil if the component is absent or takes none.
func (m *Module) Props(name string) []string {
	d, ok := m.Component(name)
	if !ok {
		return nil
	}

	props := make(map[string]bool)
	if d.Kind == DeclClass {
		m.collectMemberProps(d.Node, "this.props", props)
	} else {
		param := firstParameter(d.Node)
		switch {
		case param == nil:
		case param.Type() == "object_pattern":
			m.patternKeys(param, props)
		case param.Type() == "identifier":
			m.collectMemberProps(d.Node.ChildByFieldName("body"), m.Text(param), props)
		}
	}

	if len(props) == 0 {
		return nil
	}
	out := make([]string, 0, len(props))
	for p := range props {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// collectMemberProps records obj.x accesses and `const {x} = obj` patterns.
func (m *Module) collectMemberProps(scope *sitter.Node, obj string, props map[string]bool) {
	Walk(scope, func(n *sitter.Node) bool {
		switch n.Type() {
		case "member_expression":
			if m.Text(n.ChildByFieldName("object")) == obj {
				if prop := n.ChildByFieldName("property"); prop != nil {
					props[m.Text(prop)] = true
				}
			}
		case "variable_declarator":
			name := n.ChildByFieldName("name")
			if name != nil && name.Type() == "object_pattern" &&
				m.Text(n.ChildByFieldName("value")) == obj {
				m.patternKeys(name, props)
			}
		}
		return true
	})
}

func (m *Module) patternKeys(pattern *sitter.Node, keys map[string]bool) {
	for i := 0; i < int(pattern.NamedChildCount()); i++ {
		c := pattern.NamedChild(i)
		switch c.Type() {
		case "shorthand_property_identifier_pattern", "shorthand_property_identifier":
			keys[m.Text(c)] = true
		case "pair_pattern":
			keys[m.Text(c.ChildByFieldName("key"))] = true
		case "object_assignment_pattern":
			keys[m.Text(c.ChildByFieldName("left"))] = true
		}
	}
}

// firstParameter unwraps the first formal parameter of a function node.
func firstParameter(fn *sitter.Node) *sitter.Node {
	if fn == nil {
		return nil
	}
	if p := fn.ChildByFieldName("parameter"); p != nil {
		return p
	}
	params := fn.ChildByFieldName("parameters")
	if params == nil || params.NamedChildCount() == 0 {
		return nil
	}
	p := params.NamedChild(0)
	for {
		switch p.Type() {
		case "required_parameter", "optional_parameter":
			inner := p.ChildByFieldName("pattern")
			if inner == nil {
				return nil
			}
			p = inner
		case "assignment_pattern":
			inner := p.ChildByFieldName("left")
			if inner == nil {
				return nil
			}
			p = inner
		default:
			return p
		}
	}
}

// functionValue returns the function node a declarator value evaluates to,
// looking through one wrapping call such as memo(() => ...).
func functionValue(value *sitter.Node) *sitter.Node {
	if value == nil {
		return nil
	}
	switch value.Type() {
	case "arrow_function", "function_expression", "function":
		return value
	case "call_expression":
		args := value.ChildByFieldName("arguments")
		if args == nil {
			return nil
		}
		for i := 0; i < int(args.NamedChildCount()); i++ {
			if fn := functionValue(args.NamedChild(i)); fn != nil {
				return fn
			}
		}
	case "parenthesized_expression", "as_expression", "satisfies_expression":
		if value.NamedChildCount() > 0 {
			return functionValue(value.NamedChild(0))
		}
	}
	return nil
}

func hasChildType(n *sitter.Node, typ string) bool {
	for i := 0; i < int(n.ChildCount()); i++ {
		if n.Child(i).Type() == typ {
			return true
		}
	}
	return false
}

func firstChildOfType(n *sitter.Node, typ string) *sitter.Node {
	for i := 0; i < int(n.ChildCount()); i++ {
		if c := n.Child(i); c.Type() == typ {
			return c
		}
	}
	return nil
}

func wordPattern(name string) *regexp.Regexp {
	return regexp.MustCompile(`\b` + regexp.QuoteMeta(name) + `\b`)
}
