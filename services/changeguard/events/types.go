// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package events provides the lifecycle events of the change pipeline and
// the emitter that delivers them to subscribers.
//
// Events let external systems observe validation, application, rollback,
// and dependency checks without coupling to the pipeline.
//
// Thread Safety:
//
//	All types in this package are designed for concurrent use.
package events

import "time"

// Type identifies the kind of event.
type Type string

const (
	// TypeValidationStarted is emitted before the validation stages run.
	TypeValidationStarted Type = "validation_started"

	// TypeValidationCompleted is emitted when every validation stage passed.
	TypeValidationCompleted Type = "validation_completed"

	// TypeValidationFailed is emitted when a validation stage blocked.
	TypeValidationFailed Type = "validation_failed"

	// TypeApplicationStarted is emitted before the sandbox and apply steps.
	TypeApplicationStarted Type = "application_started"

	// TypeApplicationCompleted is emitted when a change was accepted.
	TypeApplicationCompleted Type = "application_completed"

	// TypeApplicationFailed is emitted when the sandbox or apply step failed.
	TypeApplicationFailed Type = "application_failed"

	// TypeRollbackStarted is emitted before a backup is restored.
	TypeRollbackStarted Type = "rollback_started"

	// TypeRollbackCompleted is emitted after a backup was restored.
	TypeRollbackCompleted Type = "rollback_completed"

	// TypeRollbackFailed is emitted when no backup could be restored.
	TypeRollbackFailed Type = "rollback_failed"

	// TypeDependencyCheckStarted is emitted before dependents are analysed.
	TypeDependencyCheckStarted Type = "dependency_check_started"

	// TypeDependencyCheckCompleted is emitted after dependents were analysed.
	TypeDependencyCheckCompleted Type = "dependency_check_completed"

	// TypeDependenciesAffected is emitted when at least one dependent may break.
	TypeDependenciesAffected Type = "dependencies_affected"
)

// AllTypes lists every event type in pipeline order.
var AllTypes = []Type{
	TypeValidationStarted, TypeValidationCompleted, TypeValidationFailed,
	TypeDependencyCheckStarted, TypeDependencyCheckCompleted, TypeDependenciesAffected,
	TypeApplicationStarted, TypeApplicationCompleted, TypeApplicationFailed,
	TypeRollbackStarted, TypeRollbackCompleted, TypeRollbackFailed,
}

// Event is one lifecycle event.
//
// Description:
//
//	Each event has a type that determines the structure of its Data field.
//	Use the typed data structs below when setting Data.
//
// Thread Safety:
//
//	Events are immutable after emission.
type Event struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	UnitID    string         `json:"unit_id"`
	Timestamp time.Time      `json:"timestamp"`
	Data      any            `json:"data,omitempty"`
	Metadata  *EventMetadata `json:"metadata,omitempty"`
}

// ValidationData accompanies validation events.
type ValidationData struct {
	Stage  string `json:"stage,omitempty"`
	Issues int    `json:"issues"`
	Error  string `json:"error,omitempty"`
}

// ApplicationData accompanies application events.
type ApplicationData struct {
	Kind     string   `json:"kind,omitempty"`
	Error    string   `json:"error,omitempty"`
	Affected []string `json:"affected,omitempty"`
}

// RollbackData accompanies rollback events.
type RollbackData struct {
	// Compensating is set when a transactional batch undoes a member.
	Compensating bool   `json:"compensating,omitempty"`
	BatchID      string `json:"batch_id,omitempty"`
	Error        string `json:"error,omitempty"`
}

// DependencyData accompanies dependency check events.
type DependencyData struct {
	Dependents     []string `json:"dependents,omitempty"`
	Affected       []string `json:"affected,omitempty"`
	ExportsChanged bool     `json:"exports_changed,omitempty"`
	PropsChanged   []string `json:"props_changed,omitempty"`
}
