// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package change

import "errors"

// FailureKind classifies why a change or rollback did not succeed.
type FailureKind string

const (
	KindNotFound          FailureKind = "not_found"
	KindInvalidRequest    FailureKind = "invalid_request"
	KindSyntax            FailureKind = "syntax_error"
	KindSecurity          FailureKind = "security_violation"
	KindPattern           FailureKind = "pattern_violation"
	KindSandbox           FailureKind = "sandbox_failure"
	KindDependencyWarning FailureKind = "dependency_warning"
	KindRollback          FailureKind = "rollback_failure"
	KindNoApplier         FailureKind = "no_applier"
	KindRolledBack        FailureKind = "rolled_back"
	KindBatchAborted      FailureKind = "batch_aborted"
	KindCanceled          FailureKind = "canceled"
	KindInternal          FailureKind = "internal"
)

// Sentinel errors for the change pipeline.
var (
	// ErrUnitNotFound indicates the lookup did not resolve the unit id.
	ErrUnitNotFound = errors.New("unit not found")

	// ErrUndefinedSource indicates a request without a proposed body.
	ErrUndefinedSource = errors.New("proposed source is undefined")

	// ErrNoApplier indicates no registered applier supports the unit type.
	ErrNoApplier = errors.New("no applier supports unit type")

	// ErrNoBackup indicates a rollback found no backup to restore.
	ErrNoBackup = errors.New("no backup available")
)

// MessageRolledBack is the error text given to batch members whose
// successful apply was undone because a later member failed.
const MessageRolledBack = "rolled back due to transactional failure"
