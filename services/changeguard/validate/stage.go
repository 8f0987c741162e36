// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validate provides the validation stages run against proposed
// unit source and the short-circuiting pipeline that sequences them.
//
// Stages:
//
//	syntax     - tree-sitter parse must be error free
//	security   - banned dynamic-code and DOM-write constructs (strict mode)
//	component  - the unit's declaration must exist, be exported, and render
//	sandbox    - every identifier read must resolve
package validate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/changeguard/services/changeguard/ast"
	"github.com/AleutianAI/changeguard/services/changeguard/change"
)

// ErrParse indicates the proposed source could not be parsed at all.
var ErrParse = errors.New("parse failed")

// Input is what every stage sees.
type Input struct {
	// Unit is the current state of the unit being changed.
	Unit change.CodeUnit

	// Proposed is the full replacement source.
	Proposed string

	// Module is the parsed Proposed source.
	Module *ast.Module
}

// Stage is one validation step.
//
// A stage returns the issues it found. Blocking issues (error, critical)
// stop the pipeline. A returned error is a hard failure of the stage
// itself, not of the source.
type Stage interface {
	// Name identifies the stage in issues and logs.
	Name() string

	// Kind is the failure kind reported when the stage blocks.
	Kind() change.FailureKind

	// Check inspects the input.
	Check(ctx context.Context, in *Input) ([]change.ValidationIssue, error)
}

// Pipeline runs stages in order and stops at the first blocking one.
//
// Thread Safety: Safe for concurrent use if every stage is.
type Pipeline struct {
	language ast.Language
	stages   []Stage
	logger   *slog.Logger
}

// NewPipeline creates a pipeline over stages for the given language.
func NewPipeline(language ast.Language, stages ...Stage) *Pipeline {
	return &Pipeline{
		language: language,
		stages:   stages,
		logger:   slog.Default().With("component", "validate.Pipeline"),
	}
}

// Stages returns the stage names in run order.
func (p *Pipeline) Stages() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name()
	}
	return names
}

// Run validates proposed source for unit.
//
// # Description
//
// Parses the proposed source once, then runs each stage in order. Issues
// are tagged with the stage name and accumulated. The first stage that
// produces a blocking issue or a hard error ends the run, and the result
// records that stage and its failure kind. Cancellation is checked before
// each stage; a stage already running is never interrupted.
//
// # Inputs
//
//   - ctx: Context for cancellation.
//   - unit: The unit's current state.
//   - proposed: The proposed replacement source.
//
// # Outputs
//
//   - *change.ValidationResult: Never nil.
//
// # Thread Safety
//
// Safe for concurrent use.
func (p *Pipeline) Run(ctx context.Context, unit change.CodeUnit, proposed string) *change.ValidationResult {
	result := change.NewValidationResult()
	if len(p.stages) == 0 {
		return result
	}

	mod, err := ast.Parse(ctx, p.language, proposed)
	if err != nil {
		kind := change.KindSyntax
		if ctx.Err() != nil {
			kind = change.KindCanceled
		}
		result.Fail(fmt.Sprintf("%v: %v", ErrParse, err))
		result.Stage = p.stages[0].Name()
		result.Kind = kind
		return result
	}
	defer mod.Close()

	in := &Input{Unit: unit, Proposed: proposed, Module: mod}

	for _, stage := range p.stages {
		if err := ctx.Err(); err != nil {
			result.Fail(fmt.Sprintf("validation canceled before %s: %v", stage.Name(), err))
			result.Stage = stage.Name()
			result.Kind = change.KindCanceled
			return result
		}

		issues, err := stage.Check(ctx, in)
		if err != nil {
			p.logger.Warn("stage failed",
				"stage", stage.Name(),
				"unit_id", unit.ID,
				"error", err,
			)
			result.Fail(fmt.Sprintf("%s stage failed: %v", stage.Name(), err))
			result.Stage = stage.Name()
			result.Kind = stage.Kind()
			return result
		}

		for _, issue := range issues {
			issue.Stage = stage.Name()
			result.AddIssue(issue)
		}
		if !result.Success {
			result.Stage = stage.Name()
			result.Kind = stage.Kind()
			return result
		}
	}

	return result
}
