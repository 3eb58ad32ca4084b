// Package resolvererr defines the closed set of error kinds the resolver
// pipeline returns (spec.md §7). Each kind is a distinct Go type so a
// transport layer (HTTP/GraphQL) can type-switch on the result rather than
// parse error strings, the same shape the teacher uses for RuntimeError in
// internal/runner/types.go.
package resolvererr

import "fmt"

// UserInputError reports missing or malformed client input, such as a
// completeTask request without its id, taskId, form or outcome. Writes to
// fields outside the allowed-write set are reported as AuthorizationError,
// and destroy ignores non-state keys without an error.
type UserInputError struct {
	InstanceType string
	Field        string
	Reason       string
}

func (e *UserInputError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: invalid input for field %q: %s", e.InstanceType, e.Field, e.Reason)
	}
	return fmt.Sprintf("%s: invalid input: %s", e.InstanceType, e.Reason)
}

// NotFoundError reports that an entity id does not resolve to an instance.
type NotFoundError struct {
	InstanceType string
	ID           string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s: not found", e.InstanceType, e.ID)
}

// AuthorizationError reports an ACL denial, optionally naming the fields
// that caused it (e.g. a write touching a field outside AllowedFields).
type AuthorizationError struct {
	InstanceType    string
	Action          string
	OffendingFields []string
}

func (e *AuthorizationError) Error() string {
	if len(e.OffendingFields) > 0 {
		return fmt.Sprintf("%s: not authorized to %s fields %v", e.InstanceType, e.Action, e.OffendingFields)
	}
	return fmt.Sprintf("%s: not authorized to %s", e.InstanceType, e.Action)
}

// LogicError reports a violated invariant of the domain pipeline itself:
// an outcome with Result != "Complete" reached as if actionable, a relation
// lookup on a field that is not a declared relation, a create on a model
// not marked input, and similar programmer-facing contradictions between a
// model definition and the data it is fed. A state assignment naming an
// undeclared field is skipped, not reported.
type LogicError struct {
	InstanceType string
	Reason       string
}

func (e *LogicError) Error() string {
	return fmt.Sprintf("%s: logic error: %s", e.InstanceType, e.Reason)
}

// EngineError wraps a failure from an external collaborator or pipeline
// stage: the BPM engine, the persistence store, the validation evaluator,
// or the sequence allocator. Its message includes the underlying error's
// text, and it always carries that error for unwrapping, matching the
// teacher's RuntimeError.Unwrap convention.
type EngineError struct {
	Component string // "bpm" | "persistence" | "validation" | "sequence"
	Operation string
	Err       error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Component, e.Operation, e.Err)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// NewEngineError constructs an EngineError, mirroring the teacher's
// NewRuntimeError constructor shape.
func NewEngineError(component, operation string, err error) *EngineError {
	return &EngineError{Component: component, Operation: operation, Err: err}
}
