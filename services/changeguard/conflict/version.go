// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conflict

import (
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

// CompareVersions orders two manifest version strings.
//
// # Description
//
// Range operators are stripped and the remaining versions compared as
// semantic versions, falling back to numeric component comparison for
// strings semver rejects. When the versions are equal a caret range
// outranks anything else.
//
// # Outputs
//
//   - int: -1 if a < b, 0 if equal, +1 if a > b.
func CompareVersions(a, b string) int {
	if c := compareBare(stripRange(a), stripRange(b)); c != 0 {
		return c
	}
	aCaret, bCaret := isCaret(a), isCaret(b)
	switch {
	case aCaret && !bCaret:
		return 1
	case bCaret && !aCaret:
		return -1
	}
	return 0
}

// HigherVersion returns the winning version. Ties keep a.
func HigherVersion(a, b string) string {
	if CompareVersions(b, a) > 0 {
		return b
	}
	return a
}

func isCaret(v string) bool {
	return strings.HasPrefix(strings.TrimSpace(v), "^")
}

func stripRange(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimLeft(v, "^~>=< ")
	return strings.TrimPrefix(v, "v")
}

func compareBare(a, b string) int {
	va, vb := "v"+a, "v"+b
	if semver.IsValid(va) && semver.IsValid(vb) {
		return semver.Compare(va, vb)
	}
	return compareNumeric(a, b)
}

// compareNumeric compares dot-separated numeric components. Missing or
// non-numeric components count as zero.
func compareNumeric(a, b string) int {
	pa, pb := strings.Split(a, "."), strings.Split(b, ".")
	n := max(len(pa), len(pb))
	for i := 0; i < n; i++ {
		x, y := component(pa, i), component(pb, i)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
	}
	return 0
}

func component(parts []string, i int) int {
	if i >= len(parts) {
		return 0
	}
	digits := parts[i]
	for j, r := range digits {
		if r < '0' || r > '9' {
			digits = digits[:j]
			break
		}
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0
	}
	return n
}
