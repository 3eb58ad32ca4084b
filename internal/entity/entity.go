// Package entity defines the data model primitives shared by every
// component of the instance resolver: the declarative model definition, the
// element descriptors that drive introspection, and the generic entity
// instance representation.
//
// An entity is deliberately represented as map[string]any rather than a
// generated per-type struct: one resolver serves every instance type in the
// system, so there is nothing to generate code against. Declared elements
// describe which keys exist and how to treat them.
package entity

import (
	"time"

	"github.com/google/uuid"
)

// Kind classifies an element descriptor. Each element carries exactly one
// Kind; model.New keeps a declared owner, relation, state, id_sequence or
// datetime kind and treats any other value as scalar.
type Kind string

const (
	KindScalar     Kind = "scalar"
	KindRelation   Kind = "relation"
	KindOwner      Kind = "owner"
	KindState      Kind = "state"
	KindIDSequence Kind = "id_sequence"
	KindDatetime   Kind = "datetime"
)

// ListingConfig controls how an element participates in list filtering and
// sorting (spec.md §4.3).
type ListingConfig struct {
	Filter         bool
	FilterMultiple bool
	Sortable       bool
}

// Element is a declarative field descriptor, as produced by the (out of
// scope) model-definition loader.
type Element struct {
	Field          string
	Kind           Kind
	Type           string // target type name, for relations
	Input          *bool  // nil means true; explicit false excludes the field from input
	Listing        ListingConfig
	DefaultValue   any
	DefaultEnum    string
	DefaultEnumKey string
	JoinField      string // owner/relation foreign key column
	IDSequence     string // sequence name, for id-sequence kind
	DefaultEager   string // dotted relation path hint for eager loading
}

// Inputtable reports whether the element accepts client-supplied input.
func (e Element) Inputtable() bool {
	return e.Input == nil || *e.Input
}

// HasDefaultEnum reports whether a default should be resolved via an enum
// lookup rather than taken literally.
func (e Element) HasDefaultEnum() bool {
	return e.DefaultEnum != "" && e.DefaultEnumKey != ""
}

// EnumDefinition is a named enumeration of symbolic keys to literal values,
// e.g. {"Phase": {"Submitted": "submitted", "Published": "published"}}.
type EnumDefinition struct {
	Values map[string]any
}

// StateAssignment is one forced-state directive carried by an Outcome.
type StateAssignment struct {
	Type  string // "enum" | "simple"
	Value string // "Enum.Key" for type=enum, literal string for type=simple
}

// DateAssignment names a datetime field to stamp with the current instant.
type DateAssignment struct {
	Field string
}

// Outcome is a named terminal branch of a form completion.
type Outcome struct {
	Type                      string
	Result                    string // must equal "Complete" to be actionable
	RequiresValidatedSubmitter bool
	SkipValidations           bool
	State                     map[string]StateAssignment
	SequenceAssignment        []string
	DateAssignments           []DateAssignment
}

// Form groups the outcomes reachable from one workflow task form.
type Form struct {
	Form     string
	Outcomes []Outcome
}

// Extension is an ordered plugin participating in where-clause construction
// (see queryplan.FieldExtension / queryplan.FilterExtension).
type Extension struct {
	Name string
}

// Definition is the immutable, per-resolver declarative model.
type Definition struct {
	Name        string
	Input       bool
	Elements    []Element
	ACL         ACLHandle
	Extensions  []Extension
	ProcessKey  string
	Forms       []Form
	Enums       map[string]EnumDefinition
}

// ACLHandle is an opaque reference the model carries to its policy. No
// package in this module reads Definition.ACL: the policy in force is the
// acl.Evaluator the resolver is constructed with.
type ACLHandle interface {
	// Present reports whether an ACL policy is actually attached.
	Present() bool
}

// Instance is a generic entity record. Declared elements govern which keys
// are meaningful; the map may also carry transient keys (e.g. "tasks",
// "restrictedFields") added by the resolver pipeline.
type Instance map[string]any

// ID returns the instance's opaque identifier, or the zero UUID if unset.
func (i Instance) ID() uuid.UUID {
	v, _ := i["id"].(uuid.UUID)
	return v
}

// SetID assigns the identifier. Per spec.md §3, this must only be called
// once, at creation.
func (i Instance) SetID(id uuid.UUID) { i["id"] = id }

// Created returns the creation timestamp.
func (i Instance) Created() time.Time {
	t, _ := i["created"].(time.Time)
	return t
}

// Updated returns the last-modified timestamp.
func (i Instance) Updated() time.Time {
	t, _ := i["updated"].(time.Time)
	return t
}

// Touch stamps created/updated for a brand-new instance.
func (i Instance) Touch(now time.Time) {
	i["created"] = now
	i["updated"] = now
}

// Stamp refreshes only updated, preserving created.
func (i Instance) Stamp(now time.Time) {
	i["updated"] = now
}

// Clone returns a shallow copy safe to mutate independently of the source.
func (i Instance) Clone() Instance {
	out := make(Instance, len(i))
	for k, v := range i {
		out[k] = v
	}
	return out
}
