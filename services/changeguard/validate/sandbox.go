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

// SandboxStage dry-runs the module by resolving every identifier it reads.
//
// Code is never executed. An identifier that is neither bound in the module
// nor a known global would throw a ReferenceError on evaluation, and is
// reported as one.
type SandboxStage struct {
	globals map[string]bool
}

// NewSandboxStage creates a sandbox stage. extraGlobals are added to
// ast.BrowserGlobals, for example names injected by the host page.
func NewSandboxStage(extraGlobals ...string) *SandboxStage {
	globals := make(map[string]bool, len(ast.BrowserGlobals)+len(extraGlobals))
	for name := range ast.BrowserGlobals {
		globals[name] = true
	}
	for _, name := range extraGlobals {
		globals[name] = true
	}
	return &SandboxStage{globals: globals}
}

// Name implements Stage.
func (s *SandboxStage) Name() string { return "sandbox" }

// Kind implements Stage.
func (s *SandboxStage) Kind() change.FailureKind { return change.KindSandbox }

// Check implements Stage. Only the first unresolved name is reported, as a
// real evaluation would stop there.
func (s *SandboxStage) Check(ctx context.Context, in *Input) ([]change.ValidationIssue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	unresolved := in.Module.Unresolved(s.globals)
	if len(unresolved) == 0 {
		return nil, nil
	}
	ref := unresolved[0]
	return []change.ValidationIssue{{
		Message:  fmt.Sprintf("ReferenceError: %s is not defined", ref.Name),
		Severity: change.SeverityError,
		Line:     ref.Line,
		Column:   ref.Column,
	}}, nil
}
