// Package queryplan implements the Query Planner (spec.md §4.3): it turns
// requested fields, filter/sort input, and subject scope into a
// entgo.io/ent/dialect/sql.Selector, used directly rather than through
// ent's code generation (spec.md §9, "Dynamic field-by-name projection").
//
// The selector is an opaque value threaded through a chain of transforming
// functions (spec.md §9): every Apply* function takes a *sql.Selector and
// returns one, and nothing here inspects persistence.Store's internals.
package queryplan

import (
	"context"
	"fmt"

	entsql "entgo.io/ent/dialect/sql"

	"instanceresolver/internal/acl"
	"instanceresolver/internal/entity"
	"instanceresolver/internal/model"
	"instanceresolver/internal/resolvererr"
)

const (
	defaultFirst = 200
	countColumn  = "internal_full_count"
)

// RequestedFields is the Query Planner's view of a GraphQL selection set,
// as produced by internal/graphfields: all top-level field names (relations
// included) plus, for each requested relation, the sub-fields selected on it.
type RequestedFields struct {
	Top       []string
	Relations map[string][]string // field -> requested sub-fields (may be empty)
}

// Input mirrors the list() operation's GraphQL arguments (spec.md §6).
type Input struct {
	Filter  map[string]any
	Sorting map[string]bool // field -> true(desc)/false(asc)
	First   *int
	Offset  *int
}

// FieldExtension is a per-field where-clause plugin. The first extension
// in the chain that returns changed=true short-circuits further
// processing of that field (spec.md §4.3).
type FieldExtension func(sel *entsql.Selector, field string, value any) (out *entsql.Selector, changed bool)

// FilterExtension is a whole-filter plugin: every one always runs and may
// augment the selector further (spec.md §4.3).
type FilterExtension func(sel *entsql.Selector, filter map[string]any) *entsql.Selector

// ListingExtension runs after the rest of planning and may replace the
// query wholesale (spec.md §4.3, "Listing query extensions").
type ListingExtension func(sel *entsql.Selector) *entsql.Selector

// Extensions groups a model's ordered plugin chain. Any of the three may
// be nil.
type Extensions struct {
	Field   []FieldExtension
	Filter  []FilterExtension
	Listing []ListingExtension
}

// Subject is the planner's view of the authenticated caller, used only for
// ownership scoping (spec.md §4.3).
type Subject struct {
	Authenticated bool
	ID            string
}

// Planner builds selectors for one instance type's table.
type Planner struct {
	Table       string
	Introspector *model.Introspector
	Extensions  Extensions
}

// New constructs a Planner over an already-computed introspector.
func New(table string, ins *model.Introspector, ext Extensions) *Planner {
	return &Planner{Table: table, Introspector: ins, Extensions: ext}
}

// Plan is a built selector plus the eager-relation paths a persistence
// adapter must fetch alongside it. entgo.io/ent/dialect/sql.Selector has
// no native eager-loading concept outside generated client code, so the
// paths travel beside the selector rather than inside it.
type Plan struct {
	Selector *entsql.Selector
	Eager    []string
}

// PlanGet builds the plan for a single-entity fetch: full projection, no
// filter/sort/paging, but still composing eager paths so get() can return
// nested selections in one round trip.
func (p *Planner) PlanGet(fields RequestedFields) Plan {
	sel := entsql.Select(p.projectionColumns(fields)...).From(entsql.Table(p.Table))
	return Plan{Selector: sel, Eager: p.eagerPaths(fields)}
}

// PlanList builds the full list() plan: projection, filter (including
// extensions), ownership scoping, sort, paging, and the
// internal_full_count window aggregate (spec.md §4.3).
func (p *Planner) PlanList(ctx context.Context, fields RequestedFields, in Input, match acl.Match, subject Subject) (Plan, error) {
	cols := p.projectionColumns(fields)
	cols = append(cols, fmt.Sprintf("COUNT(*) OVER() AS %s", countColumn))
	sel := entsql.Select(cols...).From(entsql.Table(p.Table))

	sel = p.applyFilter(sel, in.Filter)

	sel, err := p.applyOwnershipScope(sel, match, subject)
	if err != nil {
		return Plan{}, err
	}

	sel = p.applySorting(sel, in.Sorting)
	sel = p.applyPaging(sel, in.First, in.Offset)

	for _, ext := range p.Extensions.Listing {
		sel = ext(sel)
	}

	return Plan{Selector: sel, Eager: p.eagerPaths(fields)}, nil
}

// projectionColumns selects every requested top-level field that is not a
// relation (spec.md §4.3 "Projection"). Relations are fetched via eager
// paths instead.
func (p *Planner) projectionColumns(fields RequestedFields) []string {
	var cols []string
	seen := map[string]bool{}
	add := func(f string) {
		if !seen[f] {
			seen[f] = true
			cols = append(cols, f)
		}
	}
	add("id")
	add("created")
	add("updated")
	for _, f := range fields.Top {
		if p.Introspector.IsRelation(f) {
			continue
		}
		add(f)
	}
	return cols
}

// eagerPaths composes, for each requested relation field, the path
// "<field>" or "<field>.<defaultEager>" (spec.md §4.3 "Relation
// eager-loading").
func (p *Planner) eagerPaths(fields RequestedFields) []string {
	var paths []string
	for field := range fields.Relations {
		el, ok := p.Introspector.Element(field)
		if !ok || el.Kind != entity.KindRelation {
			continue
		}
		paths = append(paths, model.EagerPath(el))
	}
	return paths
}

// applyFilter implements spec.md §4.3's filter semantics over declared
// listing-filter fields only, running the per-field and whole-filter
// extension chains.
func (p *Planner) applyFilter(sel *entsql.Selector, filter map[string]any) *entsql.Selector {
	for field, value := range filter {
		if !p.Introspector.IsFilterable(field) {
			continue
		}

		if changed := p.runFieldExtensions(sel, field, value); changed {
			continue
		}

		el, _ := p.Introspector.Element(field)
		sel = applyFieldFilter(sel, field, value, el.Listing.FilterMultiple)
	}

	for _, ext := range p.Extensions.Filter {
		sel = ext(sel, filter)
	}

	return sel
}

// runFieldExtensions runs the per-field extension chain in order; the
// first one that reports changed=true short-circuits default handling for
// this field (spec.md §4.3).
func (p *Planner) runFieldExtensions(sel *entsql.Selector, field string, value any) bool {
	for _, ext := range p.Extensions.Field {
		if out, changed := ext(sel, field, value); changed {
			*sel = *out
			return true
		}
	}
	return false
}

// applyFieldFilter implements the four filter cases spec.md §4.3 names.
func applyFieldFilter(sel *entsql.Selector, field string, value any, multiple bool) *entsql.Selector {
	if value == nil {
		return sel.Where(entsql.IsNull(field))
	}

	if values, ok := value.([]any); ok && multiple {
		return sel.Where(entsql.In(field, values...))
	}

	if b, ok := value.(bool); ok && !b {
		return sel.Where(entsql.Or(entsql.EQ(field, false), entsql.IsNull(field)))
	}

	return sel.Where(entsql.EQ(field, value))
}

// applyOwnershipScope adds a disjunction over every owner field when the
// match's restrictions lack "all" (spec.md §4.3 "Ownership scoping"),
// rejecting with an authorization error if there is no subject at all.
func (p *Planner) applyOwnershipScope(sel *entsql.Selector, match acl.Match, subject Subject) (*entsql.Selector, error) {
	if match.HasAllScope() {
		return sel, nil
	}

	if !subject.Authenticated {
		return nil, &resolvererr.AuthorizationError{Action: "access", OffendingFields: nil}
	}

	owners := p.Introspector.Views.Owners
	if len(owners) == 0 {
		return sel, nil
	}

	preds := make([]*entsql.Predicate, 0, len(owners))
	for _, el := range owners {
		preds = append(preds, entsql.EQ(el.JoinField, subject.ID))
	}
	return sel.Where(entsql.Or(preds...)), nil
}

// applySorting implements spec.md §4.3 "Sorting": only declared
// listing-sortable fields with a boolean value participate; everything
// else is ignored.
func (p *Planner) applySorting(sel *entsql.Selector, sorting map[string]bool) *entsql.Selector {
	for field, desc := range sorting {
		if !p.Introspector.IsSortable(field) {
			continue
		}
		if desc {
			sel = sel.OrderBy(entsql.Desc(field))
		} else {
			sel = sel.OrderBy(entsql.Asc(field))
		}
	}
	return sel
}

// applyPaging applies LIMIT/OFFSET with spec.md §4.3's defaults (first=200,
// offset=0).
func (p *Planner) applyPaging(sel *entsql.Selector, first, offset *int) *entsql.Selector {
	limit := defaultFirst
	if first != nil {
		limit = *first
	}
	off := 0
	if offset != nil {
		off = *offset
	}
	return sel.Limit(limit).Offset(off)
}

// PageInfo is the listing envelope spec.md §4.3/§6 defines.
type PageInfo struct {
	TotalCount int
	Offset     int
	PageSize   int
}

// BuildPageInfo derives pageInfo from a page's row count metadata and the
// original paging input.
func BuildPageInfo(totalCount int, in Input) PageInfo {
	first := defaultFirst
	if in.First != nil {
		first = *in.First
	}
	offset := 0
	if in.Offset != nil {
		offset = *in.Offset
	}
	return PageInfo{TotalCount: totalCount, Offset: offset, PageSize: first}
}
