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

	"github.com/AleutianAI/changeguard/services/changeguard/change"
)

// maxSyntaxIssues caps how many parse errors are reported per change.
const maxSyntaxIssues = 5

// SyntaxStage rejects source whose parse tree contains errors.
type SyntaxStage struct{}

// NewSyntaxStage creates the syntax stage.
func NewSyntaxStage() *SyntaxStage {
	return &SyntaxStage{}
}

// Name implements Stage.
func (s *SyntaxStage) Name() string { return "syntax" }

// Kind implements Stage.
func (s *SyntaxStage) Kind() change.FailureKind { return change.KindSyntax }

// Check implements Stage.
func (s *SyntaxStage) Check(_ context.Context, in *Input) ([]change.ValidationIssue, error) {
	var issues []change.ValidationIssue
	for _, se := range in.Module.SyntaxErrors(maxSyntaxIssues) {
		issues = append(issues, change.ValidationIssue{
			Message:  fmt.Sprintf("syntax error at line %d: %s", se.Line, se.Message),
			Severity: change.SeverityError,
			Line:     se.Line,
			Column:   se.Column,
		})
	}
	return issues, nil
}
