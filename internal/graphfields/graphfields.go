// Package graphfields adapts a gqlgen field-selection context into the
// plain RequestedFields structure internal/queryplan consumes. The
// GraphQL server itself is out of scope (spec.md §1); this package is the
// one narrow seam where the resolver reaches into gqlgen, for field-
// selection introspection only.
package graphfields

import (
	"context"

	"github.com/99designs/gqlgen/graphql"
	"github.com/vektah/gqlparser/v2/ast"

	"instanceresolver/internal/queryplan"
)

// Collect walks the field selection collected for the current GraphQL
// resolver (graphql.CollectFieldsCtx) and splits it into all top-level
// field names (relations included) and, for each relation listed in
// relationNames, its requested sub-field names.
//
// relationNames is supplied by the caller (the resolver already knows,
// via internal/model.Introspector, which requested top-level names are
// relations) rather than guessed from the GraphQL schema, since this
// package has no schema awareness of its own.
func Collect(ctx context.Context, relationNames map[string]bool) queryplan.RequestedFields {
	fc := graphql.GetFieldContext(ctx)
	if fc == nil {
		return queryplan.RequestedFields{}
	}

	fields := graphql.CollectFieldsCtx(ctx, nil)
	return collectFields(ctx, fields, relationNames)
}

func collectFields(ctx context.Context, fields []graphql.CollectedField, relationNames map[string]bool) queryplan.RequestedFields {
	out := queryplan.RequestedFields{Relations: map[string][]string{}}

	for _, f := range fields {
		name := f.Name
		if relationNames[name] {
			out.Top = append(out.Top, name)
			out.Relations[name] = subFieldNames(f.SelectionSet)
			continue
		}
		out.Top = append(out.Top, name)
	}

	return out
}

// subFieldNames flattens one level of a relation's selection set into
// plain field names, skipping fragment spreads (the planner only needs
// scalar sub-field names for projection restriction, spec.md §4.3).
func subFieldNames(sel ast.SelectionSet) []string {
	var names []string
	for _, s := range sel {
		if f, ok := s.(*ast.Field); ok {
			names = append(names, f.Name)
		}
	}
	return names
}
