// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command changeguard validates, applies and reconciles code changes.
//
// Usage:
//
//	changeguard serve --config changeguard.yaml
//	changeguard apply --unit Header --current Header.tsx --proposed Header.new.tsx
//	changeguard conflicts changes.json
//
// Configuration is read from --config or CHANGEGUARD_CONFIG. Output is
// rich on terminals and plain otherwise; --output or CHANGEGUARD_OUTPUT
// overrides.
//
// Example requests against a running server:
//
//	# Register a unit
//	curl -X PUT http://localhost:8090/v1/changeguard/units/header \
//	  -H "Content-Type: application/json" \
//	  -d '{"source": "export function Header() { return <h1/>; }"}'
//
//	# Apply a change
//	curl -X POST http://localhost:8090/v1/changeguard/apply \
//	  -H "Content-Type: application/json" \
//	  -d '{"unit_id": "header", "proposed": "export function Header() { return <h2/>; }"}'
package main

import (
	"errors"
	"os"

	"github.com/AleutianAI/changeguard/pkg/ux"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		if !errors.Is(err, errChangeRejected) {
			ux.NewPrinter(os.Stdout, os.Stderr, ux.DetectMode(os.Stderr)).Error(err.Error())
		}
		os.Exit(1)
	}
}
