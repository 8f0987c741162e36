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
	"errors"

	"github.com/AleutianAI/changeguard/services/changeguard/change"
)

// Sentinel errors for the changeguard service.
var (
	// ErrUnitNotFound indicates no unit is registered under the id.
	ErrUnitNotFound = change.ErrUnitNotFound

	// ErrNoBackup indicates a rollback found nothing to restore.
	ErrNoBackup = change.ErrNoBackup

	// ErrEmptyUnitID indicates a request without a unit id.
	ErrEmptyUnitID = errors.New("unit id is required")

	// ErrDuplicateUnit indicates a batch naming the same unit twice.
	ErrDuplicateUnit = errors.New("unit appears more than once in batch")

	// ErrJournalDisabled indicates history was requested without a journal.
	ErrJournalDisabled = errors.New("event journal is disabled")
)
