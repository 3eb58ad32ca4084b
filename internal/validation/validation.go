// Package validation compiles a model's validation-set descriptor for one
// (form, outcome) pair into a JSON Schema and evaluates it against an
// eager-loaded entity (spec.md §4.6 step 6). The validation-set compiler
// itself is out of scope (spec.md §1); this package consumes its already-
// produced schema document.
package validation

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"instanceresolver/internal/entity"
)

// Set is a compiled validation set: a JSON Schema document (as produced by
// the out-of-scope validation-set compiler) keyed by (form, outcome).
type Set struct {
	Schema map[string]any
}

// Registry looks up the Set for a (form, outcome) pair, if any is
// declared.
type Registry interface {
	Lookup(form, outcome string) (Set, bool)
}

// MapRegistry is a Registry backed by an in-memory map, the shape the
// model-definition loader is expected to populate at startup.
type MapRegistry map[string]Set

func (r MapRegistry) Lookup(form, outcome string) (Set, bool) {
	s, ok := r[key(form, outcome)]
	return s, ok
}

// key builds the registry key for a (form, outcome) pair.
func key(form, outcome string) string { return form + "::" + outcome }

// NewMapRegistry builds a MapRegistry keyed by (form, outcome).
func NewMapRegistry() MapRegistry { return MapRegistry{} }

// Register adds a validation set for a (form, outcome) pair.
func (r MapRegistry) Register(form, outcome string, set Set) {
	r[key(form, outcome)] = set
}

// Evaluate checks inst against set's schema, returning ok=false when the
// entity fails validation (spec.md §4.6 step 6: "on failure return
// sentinel ValidationFailed").
func Evaluate(set Set, inst entity.Instance) (ok bool, errors []string, err error) {
	schemaBytes, err := json.Marshal(set.Schema)
	if err != nil {
		return false, nil, fmt.Errorf("validation: marshaling schema: %w", err)
	}

	docBytes, err := json.Marshal(map[string]any(inst))
	if err != nil {
		return false, nil, fmt.Errorf("validation: marshaling entity: %w", err)
	}

	schemaLoader := gojsonschema.NewBytesLoader(schemaBytes)
	docLoader := gojsonschema.NewBytesLoader(docBytes)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return false, nil, fmt.Errorf("validation: evaluating schema: %w", err)
	}

	if result.Valid() {
		return true, nil, nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return false, msgs, nil
}

// ReferencedBindings returns the set of top-level property names a schema
// document references, used to compute eagerResolves (spec.md §4.6 step 1:
// "intersection of resolver relation fields with the validation-set's
// referenced bindings").
func ReferencedBindings(set Set) map[string]bool {
	out := map[string]bool{}
	props, ok := set.Schema["properties"].(map[string]any)
	if !ok {
		return out
	}
	for name := range props {
		out[name] = true
	}
	return out
}
