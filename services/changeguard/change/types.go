// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package change holds the data model shared by the change pipeline:
// code units, change requests, validation issues, and change results.
//
// The types here carry no behaviour beyond small helpers. The pipeline
// itself lives in the apply and coordinate packages.
package change

// =============================================================================
// Code Units
// =============================================================================

// CodeUnit is a live, named unit of source text (for example a UI component).
//
// The registry that owns units is external. The pipeline only ever reads
// units through a LookupFunc.
type CodeUnit struct {
	// ID uniquely identifies the unit in the external registry.
	ID string `json:"id"`

	// Name is the declared name of the unit (for example "Btn").
	Name string `json:"name"`

	// Source is the current full source text.
	Source string `json:"source"`
}

// LookupFunc resolves a unit id to the unit's current state.
type LookupFunc func(id string) (CodeUnit, bool)

// DependentsFunc returns the ids of units that depend on the given unit.
type DependentsFunc func(id string) []string

// =============================================================================
// Requests
// =============================================================================

// ChangeRequest proposes a full-text replacement for one unit.
//
// Proposed is a pointer so that an absent body can be told apart from an
// empty one. An empty string is a legal proposal; nil is rejected.
type ChangeRequest struct {
	// UnitID identifies the target unit.
	UnitID string `json:"unit_id"`

	// Proposed is the complete replacement source text.
	Proposed *string `json:"proposed"`

	// Description is an optional human description of the change.
	Description string `json:"description,omitempty"`

	// Metadata carries optional caller context.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// NewRequest builds a request with a defined proposed body.
func NewRequest(unitID, proposed string) ChangeRequest {
	return ChangeRequest{UnitID: unitID, Proposed: &proposed}
}

// ProposedText returns the proposed body and whether it is defined.
func (r ChangeRequest) ProposedText() (string, bool) {
	if r.Proposed == nil {
		return "", false
	}
	return *r.Proposed, true
}

// =============================================================================
// Validation
// =============================================================================

// Severity grades a validation issue.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Blocking reports whether an issue of this severity fails validation.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// ValidationIssue is a single finding produced by a validation stage.
type ValidationIssue struct {
	Message     string   `json:"message"`
	Severity    Severity `json:"severity"`
	Line        int      `json:"line,omitempty"`
	Column      int      `json:"column,omitempty"`
	Fix         string   `json:"fix,omitempty"`
	AutoFixable bool     `json:"auto_fixable,omitempty"`
	Stage       string   `json:"stage,omitempty"`
}

// ValidationResult aggregates the issues of one or more stages.
//
// Success is false iff at least one issue is error or critical, or a
// stage reported a hard failure through Error.
type ValidationResult struct {
	Success bool              `json:"success"`
	Issues  []ValidationIssue `json:"issues,omitempty"`
	Error   string            `json:"error,omitempty"`

	// Stage names the stage that failed, empty on success.
	Stage string `json:"stage,omitempty"`

	// Kind classifies the failure, empty on success.
	Kind FailureKind `json:"kind,omitempty"`
}

// NewValidationResult returns an empty, successful result.
func NewValidationResult() *ValidationResult {
	return &ValidationResult{Success: true}
}

// AddIssue records an issue and updates Success.
func (r *ValidationResult) AddIssue(issue ValidationIssue) {
	r.Issues = append(r.Issues, issue)
	if issue.Severity.Blocking() {
		r.Success = false
		if r.Error == "" {
			r.Error = issue.Message
		}
	}
}

// Fail marks the result as a hard failure.
func (r *ValidationResult) Fail(message string) {
	r.Success = false
	if r.Error == "" {
		r.Error = message
	}
}

// Warnings returns the non-blocking issues.
func (r *ValidationResult) Warnings() []ValidationIssue {
	var out []ValidationIssue
	for _, issue := range r.Issues {
		if !issue.Severity.Blocking() {
			out = append(out, issue)
		}
	}
	return out
}

// =============================================================================
// Results
// =============================================================================

// ChangeResult reports the outcome of applying one change.
type ChangeResult struct {
	Success bool   `json:"success"`
	UnitID  string `json:"unit_id"`

	// NewSource is the accepted text. Only set when Success is true.
	NewSource string `json:"new_source,omitempty"`

	// Diff is a unified diff of old versus proposed text.
	Diff string `json:"diff,omitempty"`

	// AffectedDependents lists dependent unit ids the change may break.
	AffectedDependents []string `json:"affected_dependents,omitempty"`

	Issues []ValidationIssue `json:"issues,omitempty"`
	Error  string            `json:"error,omitempty"`
	Kind   FailureKind       `json:"kind,omitempty"`
}

// Failed builds a failure result.
func Failed(unitID string, kind FailureKind, message string) *ChangeResult {
	return &ChangeResult{
		UnitID: unitID,
		Error:  message,
		Kind:   kind,
	}
}
