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
	"regexp"
	"slices"
	"strings"

	"github.com/tidwall/gjson"
)

// Edits are usually fragments that do not parse on their own, so symbol
// extraction here is textual.

var (
	declPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\bfunction\s*\*?\s+([A-Za-z_$][\w$]*)`),
		regexp.MustCompile(`\bclass\s+([A-Za-z_$][\w$]*)`),
		regexp.MustCompile(`\b(?:const|let|var)\s+([A-Za-z_$][\w$]*)`),
		regexp.MustCompile(`\b(?:interface|type|enum)\s+([A-Za-z_$][\w$]*)`),
	}

	functionSignature = []*regexp.Regexp{
		regexp.MustCompile(`\bfunction\s+([A-Za-z_$][\w$]*)\s*(?:<[^>]*>)?\s*\(([^)]*)\)`),
		regexp.MustCompile(`\b(?:const|let|var)\s+([A-Za-z_$][\w$]*)\s*(?::[^=]+)?=\s*(?:async\s+)?\(([^)]*)\)\s*(?::[^=]+)?=>`),
		regexp.MustCompile(`(?m)^\s*(?:public\s+|private\s+|protected\s+|static\s+|async\s+)*([A-Za-z_$][\w$]*)\s*\(([^)]*)\)\s*(?::[^{]+)?\{`),
	}

	typedVariable = regexp.MustCompile(`\b(?:const|let|var)\s+([A-Za-z_$][\w$]*)\s*:\s*([^=;\n]+)`)

	importStatement  = regexp.MustCompile(`(?m)^\s*import\s+(?:type\s+)?(.*?)\s*from\s*['"]([^'"]+)['"];?\s*$`)
	sideEffectImport = regexp.MustCompile(`(?m)^\s*import\s+['"]([^'"]+)['"];?\s*$`)
	requireCall      = regexp.MustCompile(`\b(?:const|let|var)\s+(\{[^}]*\}|[A-Za-z_$][\w$]*)\s*=\s*require\(\s*['"]([^'"]+)['"]\s*\)`)

	dependencyEntry = regexp.MustCompile(`"([^"\s]+)"\s*:\s*"([^"]*)"`)

	keywords = map[string]bool{
		"if": true, "for": true, "while": true, "switch": true, "catch": true,
		"function": true, "return": true, "constructor": true,
	}
)

// DeclaredSymbols returns names declared in text, in first-seen order.
func DeclaredSymbols(text string) []string {
	var out []string
	for _, re := range declPatterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if !slices.Contains(out, m[1]) {
				out = append(out, m[1])
			}
		}
	}
	return out
}

// References reports whether text mentions name as a whole word.
func References(text, name string) bool {
	if name == "" {
		return false
	}
	re := regexp.MustCompile(`(^|[^\w$])` + regexp.QuoteMeta(name) + `($|[^\w$])`)
	return re.MatchString(text)
}

// FunctionSignatures maps function names to their normalised parameter
// lists.
func FunctionSignatures(text string) map[string]string {
	out := make(map[string]string)
	for _, re := range functionSignature {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if keywords[m[1]] {
				continue
			}
			if _, seen := out[m[1]]; !seen {
				out[m[1]] = normaliseSpace(m[2])
			}
		}
	}
	return out
}

// VariableTypes maps explicitly typed variable names to their types.
func VariableTypes(text string) map[string]string {
	out := make(map[string]string)
	for _, m := range typedVariable.FindAllStringSubmatch(text, -1) {
		if _, seen := out[m[1]]; !seen {
			out[m[1]] = normaliseSpace(m[2])
		}
	}
	return out
}

// ImportBinding is what one import statement binds from a module.
type ImportBinding struct {
	Default   string
	Namespace string
	Named     []string
}

// names returns every bound name, sorted.
func (b ImportBinding) names() []string {
	var out []string
	if b.Default != "" {
		out = append(out, "default:"+b.Default)
	}
	if b.Namespace != "" {
		out = append(out, "*:"+b.Namespace)
	}
	out = append(out, b.Named...)
	slices.Sort(out)
	return out
}

// merge unions other into b.
func (b ImportBinding) merge(other ImportBinding) ImportBinding {
	if b.Default == "" {
		b.Default = other.Default
	}
	if b.Namespace == "" {
		b.Namespace = other.Namespace
	}
	named := slices.Clone(b.Named)
	for _, n := range other.Named {
		if !slices.Contains(named, n) {
			named = append(named, n)
		}
	}
	slices.Sort(named)
	b.Named = named
	return b
}

// Imports are module paths with their bindings, in first-seen order.
type Imports struct {
	Order    []string
	Bindings map[string]ImportBinding
}

// ParseImports extracts ES import statements and require calls.
func ParseImports(text string) Imports {
	imp := Imports{Bindings: make(map[string]ImportBinding)}
	add := func(module string, b ImportBinding) {
		existing, ok := imp.Bindings[module]
		if !ok {
			imp.Order = append(imp.Order, module)
		}
		imp.Bindings[module] = existing.merge(b)
	}

	for _, m := range importStatement.FindAllStringSubmatch(text, -1) {
		add(m[2], parseImportClause(m[1]))
	}
	for _, m := range sideEffectImport.FindAllStringSubmatch(text, -1) {
		add(m[1], ImportBinding{})
	}
	for _, m := range requireCall.FindAllStringSubmatch(text, -1) {
		if strings.HasPrefix(m[1], "{") {
			add(m[2], ImportBinding{Named: splitNamed(m[1])})
		} else {
			add(m[2], ImportBinding{Default: m[1]})
		}
	}
	return imp
}

func parseImportClause(clause string) ImportBinding {
	var b ImportBinding
	clause = strings.TrimSpace(clause)
	if i := strings.Index(clause, "{"); i >= 0 {
		j := strings.LastIndex(clause, "}")
		if j > i {
			b.Named = splitNamed(clause[i : j+1])
			clause = strings.TrimSpace(clause[:i] + clause[j+1:])
		}
	}
	for _, part := range strings.Split(clause, ",") {
		part = strings.TrimSpace(part)
		switch {
		case part == "":
		case strings.HasPrefix(part, "*"):
			fields := strings.Fields(part)
			b.Namespace = fields[len(fields)-1]
		default:
			b.Default = part
		}
	}
	return b
}

func splitNamed(braced string) []string {
	inner := strings.Trim(strings.TrimSpace(braced), "{}")
	var out []string
	for _, n := range strings.Split(inner, ",") {
		n = normaliseSpace(n)
		if n != "" && !slices.Contains(out, n) {
			out = append(out, n)
		}
	}
	slices.Sort(out)
	return out
}

// Dependencies maps dependency names to version strings in a manifest or a
// manifest fragment.
//
// Whole JSON documents are read from the dependency sections only.
// Fragments fall back to scanning "name": "version" pairs.
func Dependencies(text string) map[string]string {
	out := make(map[string]string)
	if gjson.Valid(text) && strings.HasPrefix(strings.TrimSpace(text), "{") {
		doc := gjson.Parse(text)
		for _, section := range manifestSections {
			doc.Get(section).ForEach(func(k, v gjson.Result) bool {
				out[k.String()] = v.String()
				return true
			})
		}
		return out
	}
	for _, m := range dependencyEntry.FindAllStringSubmatch(text, -1) {
		if looksLikeVersion(m[2]) {
			out[m[1]] = m[2]
		}
	}
	return out
}

var manifestSections = []string{
	"dependencies", "devDependencies", "peerDependencies", "optionalDependencies",
}

func looksLikeVersion(v string) bool {
	v = strings.TrimSpace(v)
	if v == "" {
		return false
	}
	switch v[0] {
	case '^', '~', '>', '<', '=', '*', 'v':
		return true
	}
	return v[0] >= '0' && v[0] <= '9' || v == "latest"
}

func normaliseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
