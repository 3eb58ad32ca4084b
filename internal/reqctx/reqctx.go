// Package reqctx implements the Request Context and its per-request
// instance memoization (spec.md §3 "Request Context", §4.7 "Request-scoped
// cache", §9 "model as an explicit request-scoped map keyed by a
// resolver-unique integer, passed by reference; no globals").
package reqctx

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"instanceresolver/internal/entity"
	"instanceresolver/internal/identity"
)

// resolverCounter hands out process-wide unique resolver ids so unrelated
// resolver instances never collide in a shared Context's lookup map.
var resolverCounter int64

// NextResolverID returns a fresh, process-unique resolver id.
func NextResolverID() int64 {
	return atomic.AddInt64(&resolverCounter, 1)
}

// Context is the per-GraphQL-request state every resolver operation reads
// and writes: the resolved subject, and the memoization table keyed by
// (resolverID, entity id).
type Context struct {
	Subject         identity.Subject
	Authenticated   bool
	mu              sync.Mutex
	instanceLookup  map[int64]map[uuid.UUID]entity.Instance
}

// New constructs an empty, request-owned Context.
func New() *Context {
	return &Context{instanceLookup: make(map[int64]map[uuid.UUID]entity.Instance)}
}

// WithSubject attaches a resolved subject.
func (c *Context) WithSubject(subject identity.Subject, authenticated bool) *Context {
	c.Subject = subject
	c.Authenticated = authenticated
	return c
}

// Lookup returns a memoized instance previously stored under
// (resolverID, id), if any.
func (c *Context) Lookup(resolverID int64, id uuid.UUID) (entity.Instance, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bucket, ok := c.instanceLookup[resolverID]
	if !ok {
		return nil, false
	}
	inst, ok := bucket[id]
	return inst, ok
}

// Memoize stores inst under (resolverID, id) for the lifetime of this
// request.
func (c *Context) Memoize(resolverID int64, id uuid.UUID, inst entity.Instance) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bucket, ok := c.instanceLookup[resolverID]
	if !ok {
		bucket = make(map[uuid.UUID]entity.Instance)
		c.instanceLookup[resolverID] = bucket
	}
	bucket[id] = inst
}
