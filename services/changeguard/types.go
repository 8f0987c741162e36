// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package changeguard

import (
	"time"

	"github.com/AleutianAI/changeguard/services/changeguard/change"
	"github.com/AleutianAI/changeguard/services/changeguard/conflict"
	"github.com/AleutianAI/changeguard/services/changeguard/journal"
)

// =============================================================================
// Unit Types
// =============================================================================

// Unit is a registered code unit and the units that depend on it.
type Unit struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Source     string    `json:"source"`
	Dependents []string  `json:"dependents,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`

	// BackupDepth is how many rollbacks are currently possible.
	BackupDepth int `json:"backup_depth"`
}

// PutUnitRequest is the request body for PUT /v1/changeguard/units/:id.
type PutUnitRequest struct {
	// Name defaults to the id.
	Name string `json:"name"`

	// Source is the current source text. Empty source is allowed.
	Source string `json:"source"`

	// Dependents are ids of units that import this one.
	Dependents []string `json:"dependents"`
}

// PutUnitResponse is the response for PUT /v1/changeguard/units/:id.
type PutUnitResponse struct {
	Unit    Unit `json:"unit"`
	Created bool `json:"created"`
}

// =============================================================================
// Apply Types
// =============================================================================

// ApplyRequest is one proposed change.
type ApplyRequest struct {
	UnitID string `json:"unit_id" binding:"required"`

	// Proposed is the full replacement source. A missing field is an
	// undefined body and fails the change.
	Proposed *string `json:"proposed"`

	Description string            `json:"description,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func (r ApplyRequest) toChange() change.ChangeRequest {
	return change.ChangeRequest{
		UnitID:      r.UnitID,
		Proposed:    r.Proposed,
		Description: r.Description,
		Metadata:    r.Metadata,
	}
}

// ApplyResponse is the response for POST /v1/changeguard/apply.
type ApplyResponse struct {
	Result *change.ChangeResult `json:"result"`

	// Committed reports whether the unit's stored source was replaced.
	Committed bool `json:"committed"`
}

// BatchRequest is the request body for POST /v1/changeguard/batch.
type BatchRequest struct {
	Changes []ApplyRequest `json:"changes" binding:"required,min=1,dive"`

	// Transactional makes the batch all-or-nothing.
	Transactional bool `json:"transactional"`
}

// BatchResponse is the response for POST /v1/changeguard/batch.
type BatchResponse struct {
	// Results follow request order. Members after a transactional failure
	// have no result and are listed in Unreported.
	Results    []*change.ChangeResult `json:"results"`
	Unreported []string               `json:"unreported,omitempty"`

	Applied       int  `json:"applied"`
	Failed        int  `json:"failed"`
	Transactional bool `json:"transactional"`
}

// RollbackResponse is the response for POST /v1/changeguard/units/:id/rollback.
type RollbackResponse struct {
	UnitID string `json:"unit_id"`

	// Source is the restored text, now stored for the unit.
	Source string `json:"source"`

	// Remaining is the backup depth after the rollback.
	Remaining int `json:"remaining"`
}

// =============================================================================
// Conflict Types
// =============================================================================

// ConflictsRequest is the request body for POST /v1/changeguard/conflicts.
type ConflictsRequest struct {
	Changes []conflict.CodeChange `json:"changes" binding:"required"`
}

// ConflictsResponse is the response for POST /v1/changeguard/conflicts.
type ConflictsResponse struct {
	Report *conflict.Report `json:"report"`
}

// =============================================================================
// History and Health
// =============================================================================

// HistoryResponse is the response for GET /v1/changeguard/units/:id/history.
type HistoryResponse struct {
	UnitID  string          `json:"unit_id"`
	Entries []journal.Entry `json:"entries"`
}

// HealthResponse is the response for GET /v1/changeguard/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Units   int    `json:"units"`
	Journal bool   `json:"journal"`
	Uptime  string `json:"uptime"`
}

// ErrorResponse is returned for all errors.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the error code (optional).
	Code string `json:"code,omitempty"`

	// Details provides additional error context (optional).
	Details string `json:"details,omitempty"`
}
