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
	"fmt"

	"github.com/AleutianAI/changeguard/services/changeguard/ast"
	"github.com/AleutianAI/changeguard/services/changeguard/change"
)

// ComponentShape is the declaration form a component stage accepts.
type ComponentShape string

const (
	// ShapeFunction accepts function declarations and arrow/function
	// expressions bound to a name.
	ShapeFunction ComponentShape = "function"

	// ShapeClass accepts classes extending Component or PureComponent.
	ShapeClass ComponentShape = "class"
)

// ComponentStage checks that proposed source still defines the unit as a
// recognisable component: declared under the unit's name, exported, and
// producing an output value.
type ComponentStage struct {
	shape ComponentShape
}

// NewComponentStage creates a component stage for one declaration shape.
func NewComponentStage(shape ComponentShape) *ComponentStage {
	return &ComponentStage{shape: shape}
}

// Name implements Stage.
func (s *ComponentStage) Name() string { return "component" }

// Kind implements Stage.
func (s *ComponentStage) Kind() change.FailureKind { return change.KindPattern }

// Shape returns the declaration shape this stage accepts.
func (s *ComponentStage) Shape() ComponentShape { return s.shape }

// Check implements Stage.
//
// # Description
//
// Looks up the declaration named after the unit. A missing or wrongly
// shaped declaration yields "could not find a proper <Name> ..." and
// stops further checks. A missing export is reported with an auto-fixable
// suggestion. A declaration with no output value is an error, and one that
// never renders JSX gets an informational note.
func (s *ComponentStage) Check(_ context.Context, in *Input) ([]change.ValidationIssue, error) {
	name := in.Unit.Name
	if name == "" {
		return []change.ValidationIssue{{
			Message:  "unit has no name to validate against",
			Severity: change.SeverityError,
		}}, nil
	}

	m := in.Module
	decl, ok := m.Component(name)
	if !ok || !s.accepts(decl.Kind) {
		return []change.ValidationIssue{{
			Message:  fmt.Sprintf("could not find a proper %s %s component declaration", name, s.shape),
			Severity: change.SeverityError,
			Line:     1,
		}}, nil
	}

	var issues []change.ValidationIssue

	exports := m.Exports()
	if !decl.Exported && !exports.Has(name) && !exports.ExportsDefault(name) {
		issues = append(issues, change.ValidationIssue{
			Message:     fmt.Sprintf("%s is declared but not exported", name),
			Severity:    change.SeverityError,
			Line:        decl.Line,
			Fix:         fmt.Sprintf("export default %s;", name),
			AutoFixable: true,
		})
	}

	if !m.ProducesOutput(decl) {
		issues = append(issues, change.ValidationIssue{
			Message:  fmt.Sprintf("%s does not return a value", name),
			Severity: change.SeverityError,
			Line:     decl.Line,
			Fix:      "return the rendered element",
		})
	} else if !ast.ContainsJSX(decl.Node) {
		issues = append(issues, change.ValidationIssue{
			Message:  fmt.Sprintf("%s does not render any JSX", name),
			Severity: change.SeverityInfo,
			Line:     decl.Line,
		})
	}

	return issues, nil
}

func (s *ComponentStage) accepts(kind ast.DeclKind) bool {
	switch s.shape {
	case ShapeClass:
		return kind == ast.DeclClass
	default:
		return kind == ast.DeclFunction || kind == ast.DeclArrow
	}
}
