// Package sequence implements identifier-sequence allocation (spec.md
// §4.6 step 8): "S" plus a zero-padded six-digit decimal drawn from a
// named monotonic counter, semantically TO_CHAR(nextval(idSequence),
// '"S"fm000000'). Multiple fields on one outcome are allocated
// concurrently; all must succeed or the whole step fails, aggregated with
// github.com/hashicorp/go-multierror the way the teacher aggregates
// concurrent bot-lifecycle failures.
package sequence

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// Allocator draws the next value of a named sequence.
type Allocator interface {
	Next(ctx context.Context, sequenceName string) (string, error)
}

// Format renders a raw sequence number as spec.md §6 requires: "S" +
// zero-padded 6-digit decimal, e.g. 42 -> "S000042".
func Format(n int64) string {
	return fmt.Sprintf("S%06d", n)
}

// PostgresAllocator draws from real Postgres sequences via nextval().
type PostgresAllocator struct {
	DB *sql.DB
}

func (a *PostgresAllocator) Next(ctx context.Context, sequenceName string) (string, error) {
	var n int64
	row := a.DB.QueryRowContext(ctx, fmt.Sprintf(`SELECT nextval('%s')`, sequenceName))
	if err := row.Scan(&n); err != nil {
		return "", fmt.Errorf("sequence %s: %w", sequenceName, err)
	}
	return Format(n), nil
}

// MemoryAllocator is an in-process allocator for tests and for models with
// no durable sequence backing, incrementing a per-name counter under a
// mutex.
type MemoryAllocator struct {
	mu      sync.Mutex
	counters map[string]int64
}

// NewMemoryAllocator constructs an empty MemoryAllocator.
func NewMemoryAllocator() *MemoryAllocator {
	return &MemoryAllocator{counters: make(map[string]int64)}
}

func (a *MemoryAllocator) Next(ctx context.Context, sequenceName string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.counters[sequenceName]++
	return Format(a.counters[sequenceName]), nil
}

// Assignment is one id-sequence field awaiting allocation.
type Assignment struct {
	Field        string
	SequenceName string
}

// AllocateAll runs every assignment's allocator call concurrently,
// aggregating failures with go-multierror; on any failure the whole step
// fails per spec.md §4.6 step 8 ("all must succeed or the step fails").
func AllocateAll(ctx context.Context, allocator Allocator, assignments []Assignment) (map[string]string, error) {
	if len(assignments) == 0 {
		return nil, nil
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		result = make(map[string]string, len(assignments))
		errs   *multierror.Error
	)

	for _, a := range assignments {
		wg.Add(1)
		go func(a Assignment) {
			defer wg.Done()
			value, err := allocator.Next(ctx, a.SequenceName)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = multierror.Append(errs, fmt.Errorf("field %s: %w", a.Field, err))
				return
			}
			result[a.Field] = value
		}(a)
	}
	wg.Wait()

	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return result, nil
}
