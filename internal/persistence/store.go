// Package persistence names the ORM/SQL-driver collaborator spec.md §1
// treats as external: "the ORM / SQL driver (query-builder primitives,
// persistence)". Store is the one interface every resolver component
// depends on; internal/persistence/sqlstore is this module's concrete
// reference implementation.
package persistence

import (
	"context"

	"entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"instanceresolver/internal/entity"
)

// Page is the result of a list query: the projected rows plus the total
// count before paging (spec.md §4.3 pageInfo.totalCount).
type Page struct {
	Rows       []entity.Instance
	TotalCount int
}

// Eager names one relation a Get/List call must prefetch alongside its
// selector (spec.md §4.3 "Relation eager-loading", §290 glossary "Eager
// path"). Field is the requested relation field's first path segment (the
// key the nested instance is stored under); Table and JoinField are the
// target type's table and the foreign-key column on the source row that
// points into it, both already resolved by the caller from its model
// introspection since Store has no registry of other instance types.
type Eager struct {
	Field     string
	Table     string
	JoinField string
}

// Store is the persistence contract the query planner and resolver
// operations compile against. Selector is the opaque, already-built query
// value (entgo.io/ent/dialect/sql.Selector) produced by
// internal/queryplan; Store never inspects or rewrites it, it only
// executes it (spec.md §9: "expose the query as an opaque value threaded
// through a sequence of transforming functions").
type Store interface {
	// Get loads a single instance by id, or (nil, false) if absent,
	// prefetching each named eager relation onto the returned instance.
	Get(ctx context.Context, typeName string, id uuid.UUID, sel *sql.Selector, eager []Eager) (entity.Instance, bool, error)

	// List executes sel and returns the page it describes, prefetching
	// each named eager relation onto every row. sel is expected to
	// already carry LIMIT/OFFSET and the internal_full_count window
	// aggregate (spec.md §4.3).
	List(ctx context.Context, typeName string, sel *sql.Selector, eager []Eager) (Page, error)

	// Save inserts the instance if it has no row yet, or updates it in
	// place otherwise. It returns the persisted instance; the sqlstore
	// implementation returns the instance it was given and does not read
	// database-assigned defaults back.
	Save(ctx context.Context, typeName string, inst entity.Instance) (entity.Instance, error)
}
