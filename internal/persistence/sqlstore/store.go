// Package sqlstore is the reference persistence.Store implementation:
// a thin executor over entgo.io/ent/dialect/sql-built selectors, backed by
// database/sql with either the lib/pq (postgresql:// URLs) or
// mattn/go-sqlite3 (sqlite:// URLs) driver.
//
// It deliberately does not use ent's code generation: the resolver is
// generic over every instance type, so there is no per-type schema to
// generate against (spec.md §9, "Dynamic field-by-name projection"). What
// it reuses from ent is dialect/sql's standalone query builder, the same
// primitive ent's generated code calls into.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	idb "instanceresolver/internal/db"
	"instanceresolver/internal/entity"
	"instanceresolver/internal/persistence"
)

// Store implements persistence.Store against a database/sql connection
// pool. Table name is derived from the model name lower-cased by the
// caller; this package never pluralizes or otherwise guesses naming, it
// takes typeName->table mapping as given.
type Store struct {
	DB *sql.DB

	// TableName maps a model's declared Name to its SQL table. Tests
	// inject a trivial lower-case mapping; production wiring derives it
	// from the model-definition loader (out of scope, spec.md §1).
	TableName func(typeName string) string
}

// New constructs a Store. tableName defaults to a straight lower-case of
// typeName when nil.
func New(db *sql.DB, tableName func(string) string) *Store {
	if tableName == nil {
		tableName = func(t string) string { return lower(t) }
	}
	return &Store{DB: db, TableName: tableName}
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// Get implements persistence.Store.
func (s *Store) Get(ctx context.Context, typeName string, id uuid.UUID, sel *entsql.Selector, eager []persistence.Eager) (entity.Instance, bool, error) {
	if sel == nil {
		sel = entsql.Select("*").From(entsql.Table(s.TableName(typeName)))
	}
	sel = sel.Where(entsql.EQ("id", id.String()))

	query, args := sel.Query()
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("sqlstore: get %s: %w", typeName, err)
	}
	defer rows.Close()

	instances, _, err := scanRows(rows)
	if err != nil {
		return nil, false, fmt.Errorf("sqlstore: get %s: %w", typeName, err)
	}
	if len(instances) == 0 {
		return nil, false, nil
	}

	inst := instances[0]
	if err := s.loadEager(ctx, []entity.Instance{inst}, eager); err != nil {
		return nil, false, fmt.Errorf("sqlstore: get %s: %w", typeName, err)
	}
	return inst, true, nil
}

// List implements persistence.Store. sel is expected to already carry the
// internal_full_count window aggregate added by internal/queryplan
// (spec.md §4.3).
func (s *Store) List(ctx context.Context, typeName string, sel *entsql.Selector, eager []persistence.Eager) (persistence.Page, error) {
	query, args := sel.Query()
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return persistence.Page{}, fmt.Errorf("sqlstore: list %s: %w", typeName, err)
	}
	defer rows.Close()

	instances, totalCount, err := scanRows(rows)
	if err != nil {
		return persistence.Page{}, fmt.Errorf("sqlstore: list %s: %w", typeName, err)
	}

	if err := s.loadEager(ctx, instances, eager); err != nil {
		return persistence.Page{}, fmt.Errorf("sqlstore: list %s: %w", typeName, err)
	}
	return persistence.Page{Rows: instances, TotalCount: totalCount}, nil
}

// loadEager prefetches each named relation for every row, one query per
// relation per row (this store is a thin query-builder executor, not a
// generated ent client, so it has no dataloader-style batching across
// rows). A row missing the join column, or carrying a nil/empty one, is
// left without that relation rather than failing the whole fetch.
func (s *Store) loadEager(ctx context.Context, instances []entity.Instance, eager []persistence.Eager) error {
	for _, rel := range eager {
		for _, inst := range instances {
			joinValue, ok := inst[rel.JoinField]
			if !ok || joinValue == nil || joinValue == "" {
				continue
			}

			sel := entsql.Select("*").From(entsql.Table(rel.Table)).Where(entsql.EQ("id", joinValue))
			query, args := sel.Query()
			rows, err := s.DB.QueryContext(ctx, query, args...)
			if err != nil {
				return err
			}
			related, _, err := scanRows(rows)
			rows.Close()
			if err != nil {
				return err
			}
			if len(related) > 0 {
				inst[rel.Field] = related[0]
			}
		}
	}
	return nil
}

// Save implements persistence.Store. An instance without an id gets a fresh
// one and is inserted; an instance with an id is updated, and inserted when
// no row with that id exists yet.
func (s *Store) Save(ctx context.Context, typeName string, inst entity.Instance) (entity.Instance, error) {
	table := s.TableName(typeName)

	var result entity.Instance
	err := idb.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		isNew := inst.ID() == uuid.Nil
		if isNew {
			inst.SetID(uuid.New())
		}

		cols, vals := columnsOf(inst)

		var query string
		var args []any
		if isNew {
			query, args = entsql.Dialect(s.dialectName()).
				Insert(table).
				Columns(cols...).
				Values(vals...).
				Query()
		} else {
			upd := entsql.Dialect(s.dialectName()).Update(table)
			for i, c := range cols {
				if c == "id" {
					continue
				}
				upd = upd.Set(c, vals[i])
			}
			query, args = upd.Where(entsql.EQ("id", inst.ID().String())).Query()
		}

		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		if !isNew {
			if n, err := res.RowsAffected(); err == nil && n == 0 {
				// No row carries this id yet (resolver.Create assigns the id
				// before the first save): insert it instead.
				query, args = entsql.Dialect(s.dialectName()).Insert(table).Columns(cols...).Values(vals...).Query()
				if _, err := tx.ExecContext(ctx, query, args...); err != nil {
					return err
				}
			}
		}
		result = inst
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sqlstore: save %s: %w", typeName, err)
	}
	return result, nil
}

func (s *Store) dialectName() string {
	// SQL is always built with ent's postgres dialect, whichever driver
	// s.DB uses.
	return "postgres"
}

// columnsOf produces a deterministic column/value pairing for an insert or
// update statement. Relation/transient keys the resolver pipeline adds
// ("tasks", "restrictedFields") are never persisted.
func columnsOf(inst entity.Instance) ([]string, []any) {
	cols := make([]string, 0, len(inst))
	vals := make([]any, 0, len(inst))
	for k, v := range inst {
		if k == "tasks" || k == "restrictedFields" {
			continue
		}
		cols = append(cols, k)
		vals = append(vals, v)
	}
	return cols, vals
}

// scanRows materializes every row into an entity.Instance keyed by column
// name, and extracts internal_full_count from the first row when present
// (spec.md §4.3: "totalCount derived from the first row's
// internal_full_count, or 0 on an empty page").
func scanRows(rows *sql.Rows) ([]entity.Instance, int, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, 0, err
	}

	var instances []entity.Instance
	totalCount := 0
	first := true

	for rows.Next() {
		dest := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range dest {
			ptrs[i] = &dest[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, 0, err
		}

		inst := make(entity.Instance, len(cols))
		for i, c := range cols {
			if c == "internal_full_count" {
				if first {
					totalCount = toInt(dest[i])
				}
				continue
			}
			inst[c] = dest[i]
		}
		instances = append(instances, inst)
		first = false
	}
	return instances, totalCount, rows.Err()
}

func toInt(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}
