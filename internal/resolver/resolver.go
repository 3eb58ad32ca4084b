// Package resolver implements the Public Operations (spec.md §4.7, §6):
// get, list, resolveRelation, create, update, destroy, restart, getTasks,
// and completeTask, wiring every other component together behind one
// per-instance-type Resolver.
package resolver

import (
	"context"
	"fmt"
	"strings"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"instanceresolver/internal/acl"
	"instanceresolver/internal/authzproject"
	"instanceresolver/internal/bpm"
	"instanceresolver/internal/entity"
	"instanceresolver/internal/model"
	"instanceresolver/internal/persistence"
	"instanceresolver/internal/pubsub"
	"instanceresolver/internal/queryplan"
	"instanceresolver/internal/reqctx"
	"instanceresolver/internal/resolvererr"
	"instanceresolver/internal/sequence"
	"instanceresolver/internal/taskengine"
	"instanceresolver/internal/validation"
)

// Resolver serves every public operation for one instance type,
// generalizing the teacher's NewResolver(client *ent.Client) dependency
// injection shape to the set of collaborators this domain needs instead
// of a single concrete ent client.
type Resolver struct {
	TypeName     string
	Table        string
	Definition   entity.Definition
	Introspector *model.Introspector
	Planner      *queryplan.Planner
	Projector    *authzproject.Projector
	Store        persistence.Store
	ACL          acl.Evaluator
	BPM          bpm.Client
	Validations  validation.Registry
	Sequences    sequence.Allocator
	PubSub       pubsub.PubSub

	AllowAnyAuthenticatedAdmin bool
}

// New wires a Resolver from its already-constructed collaborators.
func New(typeName, table string, def entity.Definition, evaluator acl.Evaluator, store persistence.Store, bpmClient bpm.Client, validations validation.Registry, sequences sequence.Allocator, ps pubsub.PubSub) *Resolver {
	ins := model.New(def)
	return &Resolver{
		TypeName:     typeName,
		Table:        table,
		Definition:   def,
		Introspector: ins,
		Planner:      queryplan.New(table, ins, queryplan.Extensions{}),
		Projector:    authzproject.New(ins, evaluator),
		Store:        store,
		ACL:          evaluator,
		BPM:          bpmClient,
		Validations:  validations,
		Sequences:    sequences,
		PubSub:       ps,
	}
}

func (r *Resolver) authzSubject(rc *reqctx.Context) authzproject.Subject {
	return authzproject.Subject{
		Authenticated:              rc.Authenticated,
		IsAdministrator:            rc.Subject.IsAdministrator(r.AllowAnyAuthenticatedAdmin),
		AllowAnyAuthenticatedAdmin: r.AllowAnyAuthenticatedAdmin,
	}
}

func (r *Resolver) targets(rc *reqctx.Context, owner bool) []acl.Target {
	return acl.DeriveTargets(rc.Authenticated, rc.Subject.IsAdministrator(r.AllowAnyAuthenticatedAdmin), owner, r.AllowAnyAuthenticatedAdmin)
}

// resolveEager turns the query planner's eager-path strings (each
// "<field>" or "<field>.<defaultEager>", spec.md §4.3) into the
// persistence.Eager descriptors Store needs: the relation field's first
// path segment, its target type's table (the same lower-case convention
// cmd/instanceresolverd wires sqlstore.New with), and its join column.
// Sub-path segments beyond the first are the Projector's concern, not
// Store's — they restrict which sub-fields are surfaced, not which row
// gets fetched.
func (r *Resolver) resolveEager(paths []string) []persistence.Eager {
	out := make([]persistence.Eager, 0, len(paths))
	for _, path := range paths {
		field := path
		if i := strings.IndexByte(path, '.'); i >= 0 {
			field = path[:i]
		}
		el, ok := r.Introspector.Element(field)
		if !ok || el.Kind != entity.KindRelation || el.Type == "" || el.JoinField == "" {
			continue
		}
		out = append(out, persistence.Eager{Field: field, Table: strings.ToLower(el.Type), JoinField: el.JoinField})
	}
	return out
}

func (r *Resolver) isOwner(rc *reqctx.Context, inst entity.Instance) bool {
	if inst == nil || rc.Subject.ID == "" {
		return false
	}
	for _, el := range r.Introspector.Views.Owners {
		if v, _ := inst[el.JoinField].(string); v == rc.Subject.ID {
			return true
		}
	}
	return false
}

// Get implements spec.md §6 get(id): requires id, runs access ACL, returns
// the projected entity with an opaque restrictedFields list.
func (r *Resolver) Get(ctx context.Context, rc *reqctx.Context, id uuid.UUID, fields queryplan.RequestedFields) (entity.Instance, error) {
	resolverID, hasResolverID := ctx.Value(resolverIDKey{}).(int64)
	if hasResolverID {
		if cached, ok := rc.Lookup(resolverID, id); ok {
			return r.Projector.Project(ctx, cached, fields.Top, r.authzSubject(rc), rc.Subject.ID), nil
		}
	}

	plan := r.Planner.PlanGet(fields)
	inst, found, err := r.Store.Get(ctx, r.TypeName, id, plan.Selector, r.resolveEager(plan.Eager))
	if err != nil {
		return nil, resolvererr.NewEngineError("persistence", "get", err)
	}
	if !found {
		return nil, &resolvererr.NotFoundError{InstanceType: r.TypeName, ID: id.String()}
	}

	owner := r.isOwner(rc, inst)
	match := r.ACL.Evaluate(ctx, r.targets(rc, owner), acl.ActionAccess)
	if !match.Allow || (!match.HasAllScope() && !owner) {
		return nil, &resolvererr.AuthorizationError{InstanceType: r.TypeName, Action: "access"}
	}

	if hasResolverID {
		rc.Memoize(resolverID, id, inst)
	}

	return r.Projector.Project(ctx, inst, fields.Top, r.authzSubject(rc), rc.Subject.ID), nil
}

// resolverIDKey is the context key a GraphQL transport stores the
// request's resolver id under (reqctx.NextResolverID), so Get can
// participate in request-scoped memoization without threading an extra
// parameter through every call site (spec.md §4.7 "Request-scoped
// cache").
type resolverIDKey struct{}

// WithResolverID attaches the given resolver id to ctx.
func WithResolverID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, resolverIDKey{}, id)
}

// List implements spec.md §6 list(first?, offset?, filter?, sorting?).
type ListResult struct {
	Results  []entity.Instance
	PageInfo queryplan.PageInfo
}

func (r *Resolver) List(ctx context.Context, rc *reqctx.Context, fields queryplan.RequestedFields, in queryplan.Input) (ListResult, error) {
	owner := false // list scoping decides ownership by restriction, not a single row
	match := r.ACL.Evaluate(ctx, r.targets(rc, owner), acl.ActionAccess)
	if !match.Allow {
		return ListResult{}, &resolvererr.AuthorizationError{InstanceType: r.TypeName, Action: "access"}
	}

	plan, err := r.Planner.PlanList(ctx, fields, in, match, queryplan.Subject{Authenticated: rc.Authenticated, ID: rc.Subject.ID})
	if err != nil {
		return ListResult{}, err
	}

	page, err := r.Store.List(ctx, r.TypeName, plan.Selector, r.resolveEager(plan.Eager))
	if err != nil {
		return ListResult{}, resolvererr.NewEngineError("persistence", "list", err)
	}

	subject := r.authzSubject(rc)
	results := make([]entity.Instance, len(page.Rows))
	for i, row := range page.Rows {
		results[i] = r.Projector.Project(ctx, row, fields.Top, subject, rc.Subject.ID)
	}

	return ListResult{Results: results, PageInfo: queryplan.BuildPageInfo(page.TotalCount, in)}, nil
}

// ResolveRelation loads the target-type instance(s) a relation field
// points to. relationResolver is supplied by the caller because a
// relation's target type has its own Resolver, persistence scope, and
// ACL — this package has no registry of other resolvers.
func (r *Resolver) ResolveRelation(ctx context.Context, rc *reqctx.Context, field string, joinValue uuid.UUID, target *Resolver, fields queryplan.RequestedFields) (entity.Instance, error) {
	if !r.Introspector.IsRelation(field) {
		return nil, &resolvererr.LogicError{InstanceType: r.TypeName, Reason: fmt.Sprintf("%s is not a declared relation", field)}
	}
	return target.Get(ctx, rc, joinValue, fields)
}

// Create implements spec.md §4.7 create(): defaults, owner stamping, BPM
// process start, created publish.
func (r *Resolver) Create(ctx context.Context, rc *reqctx.Context, input map[string]any) (entity.Instance, error) {
	if !r.Definition.Input {
		return nil, &resolvererr.LogicError{InstanceType: r.TypeName, Reason: "model is not marked input"}
	}

	match := r.ACL.Evaluate(ctx, r.targets(rc, false), acl.ActionCreate)
	if !match.Allow {
		return nil, &resolvererr.AuthorizationError{InstanceType: r.TypeName, Action: "create"}
	}

	now := time.Now().UTC()
	inst := entity.Instance{}
	inst.SetID(uuid.New())
	inst.Touch(now)

	for k, v := range input {
		el, ok := r.Introspector.Element(k)
		if !ok || !el.Inputtable() {
			continue
		}
		inst[k] = v
	}

	for _, el := range r.Introspector.Views.Owners {
		inst[el.JoinField] = rc.Subject.ID
	}

	applyDefaults(r.Introspector, inst, r.Definition)

	saved, err := r.Store.Save(ctx, r.TypeName, inst)
	if err != nil {
		return nil, resolvererr.NewEngineError("persistence", "save", err)
	}

	if r.Definition.ProcessKey != "" {
		if err := r.BPM.StartProcess(ctx, r.Definition.ProcessKey, saved.ID().String(), nil, stateVariables(r.Introspector, saved)); err != nil {
			return nil, err
		}
	}

	if r.PubSub != nil {
		_ = r.PubSub.Publish(ctx, pubsub.CreatedTopic(r.TypeName), pubsub.NewCreatedEvent(r.TypeName, saved.ID().String()))
	}

	return saved, nil
}

// applyDefaults resolves each writable element's default, preferring
// defaultEnum over defaultValue when a value was not supplied
// (spec.md §4.7: "apply defaults (defaultEnum preferred over
// defaultValue)").
func applyDefaults(ins *model.Introspector, inst entity.Instance, def entity.Definition) {
	for _, el := range ins.Views.WritableFields {
		if _, present := inst[el.Field]; present {
			continue
		}
		if el.HasDefaultEnum() {
			if enumDef, ok := def.Enums[el.DefaultEnum]; ok {
				if v, ok := enumDef.Values[el.DefaultEnumKey]; ok {
					inst[el.Field] = v
					continue
				}
			}
		}
		if el.DefaultValue != nil {
			inst[el.Field] = el.DefaultValue
		}
	}
}

func stateVariables(ins *model.Introspector, inst entity.Instance) map[string]any {
	vars := make(map[string]any, len(ins.Views.States))
	for _, el := range ins.Views.States {
		vars[el.Field] = inst[el.Field]
	}
	return vars
}

// Update implements spec.md §4.7 update(id, …fields): input restricted to
// allowed-input ∩ allowed-write; any disallowed key is a hard
// AuthorizationError, never a silent drop.
func (r *Resolver) Update(ctx context.Context, rc *reqctx.Context, id uuid.UUID, input map[string]any) (entity.Instance, error) {
	inst, err := r.fetchForMutation(ctx, rc, id)
	if err != nil {
		return nil, err
	}

	owner := r.isOwner(rc, inst)
	targets := r.targets(rc, owner)

	accessMatch := r.ACL.Evaluate(ctx, targets, acl.ActionAccess)
	if !accessMatch.Allow || (!accessMatch.HasAllScope() && !owner) {
		return nil, &resolvererr.AuthorizationError{InstanceType: r.TypeName, Action: "access"}
	}
	writeMatch := r.ACL.Evaluate(ctx, targets, acl.ActionWrite)
	if !writeMatch.Allow {
		return nil, &resolvererr.AuthorizationError{InstanceType: r.TypeName, Action: "write"}
	}

	var offending []string
	for k := range input {
		el, declared := r.Introspector.Element(k)
		if !declared || !el.Inputtable() || !writeMatch.FieldAllowed(k) {
			offending = append(offending, k)
		}
	}
	if len(offending) > 0 {
		return nil, &resolvererr.AuthorizationError{InstanceType: r.TypeName, Action: "write", OffendingFields: offending}
	}

	modified := false
	for k, v := range input {
		if inst[k] != v {
			inst[k] = v
			modified = true
		}
	}
	if modified {
		inst.Stamp(time.Now().UTC())
		inst, err = r.Store.Save(ctx, r.TypeName, inst)
		if err != nil {
			return nil, resolvererr.NewEngineError("persistence", "save", err)
		}
	}

	if r.PubSub != nil {
		_ = r.PubSub.Publish(ctx, pubsub.UpdatedTopic(r.TypeName), pubsub.NewUpdatedEvent(r.TypeName, inst.ID().String()))
	}

	return inst, nil
}

// Destroy implements spec.md §4.7 destroy(id, state?): state updates are
// exempt from the write ACL at this terminal transition; the BPM process
// instance is deleted by case-insensitive business-key match, or no-op if
// absent.
func (r *Resolver) Destroy(ctx context.Context, rc *reqctx.Context, id uuid.UUID, state map[string]any) (entity.Instance, error) {
	inst, err := r.fetchForMutation(ctx, rc, id)
	if err != nil {
		return nil, err
	}

	owner := r.isOwner(rc, inst)
	targets := r.targets(rc, owner)

	accessMatch := r.ACL.Evaluate(ctx, targets, acl.ActionAccess)
	if !accessMatch.Allow || (!accessMatch.HasAllScope() && !owner) {
		return nil, &resolvererr.AuthorizationError{InstanceType: r.TypeName, Action: "access"}
	}
	destroyMatch := r.ACL.Evaluate(ctx, targets, acl.ActionDestroy)
	if !destroyMatch.Allow {
		return nil, &resolvererr.AuthorizationError{InstanceType: r.TypeName, Action: "destroy"}
	}

	modified := false
	for k, v := range state {
		if !r.Introspector.IsState(k) {
			continue
		}
		if inst[k] != v {
			inst[k] = v
			modified = true
		}
	}
	if modified {
		inst.Stamp(time.Now().UTC())
		inst, err = r.Store.Save(ctx, r.TypeName, inst)
		if err != nil {
			return nil, resolvererr.NewEngineError("persistence", "save", err)
		}
	}

	if err := r.BPM.DeleteProcessInstance(ctx, inst.ID().String()); err != nil {
		return nil, err
	}

	if r.PubSub != nil {
		_ = r.PubSub.Publish(ctx, pubsub.UpdatedTopic(r.TypeName), pubsub.NewUpdatedEvent(r.TypeName, inst.ID().String()))
	}

	return inst, nil
}

// Restart implements spec.md §4.7 restart(): starts a new process for an
// existing entity at a given activity, with current state fields as
// variables.
func (r *Resolver) Restart(ctx context.Context, rc *reqctx.Context, id uuid.UUID, activityID string) (entity.Instance, error) {
	inst, err := r.fetchForMutation(ctx, rc, id)
	if err != nil {
		return nil, err
	}

	owner := r.isOwner(rc, inst)
	accessMatch := r.ACL.Evaluate(ctx, r.targets(rc, owner), acl.ActionAccess)
	if !accessMatch.Allow || (!accessMatch.HasAllScope() && !owner) {
		return nil, &resolvererr.AuthorizationError{InstanceType: r.TypeName, Action: "access"}
	}

	instructions := []bpm.StartInstruction{{Type: "startAfterActivity", ActivityID: activityID}}
	if err := r.BPM.StartProcess(ctx, r.Definition.ProcessKey, inst.ID().String(), instructions, stateVariables(r.Introspector, inst)); err != nil {
		return nil, err
	}

	if r.PubSub != nil {
		_ = r.PubSub.Publish(ctx, pubsub.UpdatedTopic(r.TypeName), pubsub.NewUpdatedEvent(r.TypeName, inst.ID().String()))
	}

	return inst, nil
}

// GetTasks implements spec.md §4.7 getTasks(): fetch, task ACL, list,
// strip transport links, filter by allowedTasks.
func (r *Resolver) GetTasks(ctx context.Context, rc *reqctx.Context, id uuid.UUID) ([]bpm.Task, error) {
	inst, err := r.fetchForMutation(ctx, rc, id)
	if err != nil {
		return nil, err
	}

	owner := r.isOwner(rc, inst)
	targets := r.targets(rc, owner)
	accessMatch := r.ACL.Evaluate(ctx, targets, acl.ActionAccess)
	if !accessMatch.Allow || (!accessMatch.HasAllScope() && !owner) {
		return nil, &resolvererr.AuthorizationError{InstanceType: r.TypeName, Action: "access"}
	}
	taskMatch := r.ACL.Evaluate(ctx, targets, acl.ActionTask)
	if !taskMatch.Allow {
		return nil, &resolvererr.AuthorizationError{InstanceType: r.TypeName, Action: "task"}
	}

	tasks, err := r.BPM.ListTasks(ctx, inst.ID().String())
	if err != nil {
		return nil, err
	}

	filtered := make([]bpm.Task, 0, len(tasks))
	for _, t := range tasks {
		if taskMatch.TaskAllowed(t.TaskDefinitionKey) {
			filtered = append(filtered, t)
		}
	}
	return filtered, nil
}

// CompleteTask implements spec.md §6 completeTask(), delegating the full
// pipeline to internal/taskengine.
func (r *Resolver) CompleteTask(ctx context.Context, rc *reqctx.Context, in taskengine.Input) (taskengine.Result, entity.Instance, error) {
	engine := &taskengine.Engine{
		TypeName:     r.TypeName,
		Table:        r.Table,
		Definition:   r.Definition,
		Introspector: r.Introspector,
		Store:        r.Store,
		ACL:          r.ACL,
		BPM:          r.BPM,
		Validations:  r.Validations,
		Sequences:    r.Sequences,
		PubSub:       r.PubSub,
	}
	return engine.Complete(ctx, in, rc.Subject, rc.Authenticated, r.AllowAnyAuthenticatedAdmin)
}

// fetchForMutation loads an entity by id for an operation that will check
// access/write/destroy/task ACLs against it, failing with NotFoundError
// rather than an authorization error when the row simply does not exist.
func (r *Resolver) fetchForMutation(ctx context.Context, rc *reqctx.Context, id uuid.UUID) (entity.Instance, error) {
	sel := entsql.Select("*").From(entsql.Table(r.Table)).Where(entsql.EQ("id", id.String()))
	inst, found, err := r.Store.Get(ctx, r.TypeName, id, sel, nil)
	if err != nil {
		return nil, resolvererr.NewEngineError("persistence", "get", err)
	}
	if !found {
		return nil, &resolvererr.NotFoundError{InstanceType: r.TypeName, ID: id.String()}
	}
	return inst, nil
}
