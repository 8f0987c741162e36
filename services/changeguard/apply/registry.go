// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package apply

import (
	"errors"
	"fmt"
	"regexp"
	"sync"

	"github.com/AleutianAI/changeguard/services/changeguard/validate"
)

// UnitType tags the recognised shape of a unit's source.
type UnitType string

const (
	TypeFunctionComponent UnitType = "function_component"
	TypeClassComponent    UnitType = "class_component"
	TypeUnknown           UnitType = "unknown"
)

// Registry errors.
var (
	ErrInvalidCapabilities = errors.New("invalid capabilities")
	ErrUnknownType         = errors.New("unknown unit type")
)

// Detector reports whether source has a given shape.
type Detector func(source string) bool

// Capabilities is the per-type capability table entry.
//
// Each unit type names how to recognise it and which type-specific stages
// apply. Appliers look capabilities up by type instead of overriding
// methods.
type Capabilities struct {
	Type UnitType

	// Detect recognises source of this type.
	Detect Detector

	// Pattern is the type's shape check, run after syntax and security.
	Pattern validate.Stage

	// Sandbox is the optional dry run. Nil skips the sandbox step.
	Sandbox validate.Stage
}

// Registry holds capabilities in detection order.
//
// Thread Safety: Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	order []UnitType
	caps  map[UnitType]Capabilities
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{caps: make(map[UnitType]Capabilities)}
}

// Register adds or replaces a type's capabilities. New types are detected
// after those already registered.
func (r *Registry) Register(c Capabilities) error {
	if c.Type == "" || c.Type == TypeUnknown {
		return fmt.Errorf("%w: type %q", ErrInvalidCapabilities, c.Type)
	}
	if c.Detect == nil {
		return fmt.Errorf("%w: %s has no detector", ErrInvalidCapabilities, c.Type)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.caps[c.Type]; !exists {
		r.order = append(r.order, c.Type)
	}
	r.caps[c.Type] = c
	return nil
}

// Detect returns the first registered type whose detector accepts source,
// or TypeUnknown.
func (r *Registry) Detect(source string) UnitType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, t := range r.order {
		if r.caps[t].Detect(source) {
			return t
		}
	}
	return TypeUnknown
}

// Lookup returns a type's capabilities.
func (r *Registry) Lookup(t UnitType) (Capabilities, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.caps[t]
	return c, ok
}

// Types returns registered types in detection order.
func (r *Registry) Types() []UnitType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]UnitType, len(r.order))
	copy(out, r.order)
	return out
}

var (
	classComponentPattern = regexp.MustCompile(
		`\bclass\s+[A-Z][\w$]*(?:<[^>]*>)?\s+extends\s+(?:React\.)?(?:Pure)?Component\b`)

	functionComponentPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\bfunction\s+[A-Z][\w$]*\s*[(<]`),
		regexp.MustCompile(`\b(?:const|let|var)\s+[A-Z][\w$]*\b[^=\n]*=[^;\n]*=>`),
		regexp.MustCompile(`\b(?:const|let|var)\s+[A-Z][\w$]*\s*=\s*(?:React\.)?(?:memo|forwardRef)?\(?\s*function\b`),
	}
)

// IsClassComponent recognises class components.
func IsClassComponent(source string) bool {
	return classComponentPattern.MatchString(source)
}

// IsFunctionComponent recognises capitalised function or arrow components.
func IsFunctionComponent(source string) bool {
	for _, re := range functionComponentPatterns {
		if re.MatchString(source) {
			return true
		}
	}
	return false
}

// DefaultRegistry registers class components before function components,
// since a class module often contains capitalised helper arrows too.
//
// sandboxGlobals are extra names the sandbox treats as defined.
func DefaultRegistry(sandboxGlobals ...string) *Registry {
	r := NewRegistry()
	sandbox := validate.NewSandboxStage(sandboxGlobals...)

	// Both registrations are statically valid.
	_ = r.Register(Capabilities{
		Type:    TypeClassComponent,
		Detect:  IsClassComponent,
		Pattern: validate.NewComponentStage(validate.ShapeClass),
		Sandbox: sandbox,
	})
	_ = r.Register(Capabilities{
		Type:    TypeFunctionComponent,
		Detect:  IsFunctionComponent,
		Pattern: validate.NewComponentStage(validate.ShapeFunction),
		Sandbox: sandbox,
	})
	return r
}
