package reqctx

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"instanceresolver/internal/entity"
	"instanceresolver/internal/identity"
)

func TestNextResolverID_MonotonicAndUnique(t *testing.T) {
	a := NextResolverID()
	b := NextResolverID()
	assert.NotEqual(t, a, b)
	assert.Greater(t, b, a)
}

func TestContext_WithSubject(t *testing.T) {
	rc := New().WithSubject(identity.Subject{ID: "user-1"}, true)
	assert.Equal(t, "user-1", rc.Subject.ID)
	assert.True(t, rc.Authenticated)
}

func TestContext_LookupMissReturnsFalse(t *testing.T) {
	rc := New()
	_, ok := rc.Lookup(1, uuid.New())
	assert.False(t, ok)
}

func TestContext_MemoizeThenLookup(t *testing.T) {
	rc := New()
	id := uuid.New()
	inst := entity.Instance{"id": id, "title": "Draft"}

	resolverID := NextResolverID()
	rc.Memoize(resolverID, id, inst)

	got, ok := rc.Lookup(resolverID, id)
	assert.True(t, ok)
	assert.Equal(t, inst, got)
}

func TestContext_MemoizeIsolatedPerResolverID(t *testing.T) {
	rc := New()
	id := uuid.New()
	inst := entity.Instance{"id": id}

	r1 := NextResolverID()
	r2 := NextResolverID()
	rc.Memoize(r1, id, inst)

	_, ok := rc.Lookup(r2, id)
	assert.False(t, ok)
}
