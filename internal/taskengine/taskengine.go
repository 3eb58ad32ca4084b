// Package taskengine implements the Task Completion Engine (spec.md §4.6):
// form/outcome resolution, concurrent prefetch, ACL checks, validation,
// forced state overlay, sequence/date assignment, and BPM completion.
package taskengine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"instanceresolver/internal/acl"
	"instanceresolver/internal/bpm"
	"instanceresolver/internal/entity"
	"instanceresolver/internal/identity"
	"instanceresolver/internal/model"
	"instanceresolver/internal/persistence"
	"instanceresolver/internal/pubsub"
	"instanceresolver/internal/resolvererr"
	"instanceresolver/internal/sequence"
	"instanceresolver/internal/validation"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"
)

// Result is the closed sentinel set completeTask returns (spec.md §4.6,
// §9 "model the result as a tagged union").
type Result string

const (
	ResultSuccess                Result = "Success"
	ResultValidatedEmailRequired Result = "ValidatedEmailRequired"
	ResultValidationFailed       Result = "ValidationFailed"
)

// Input is completeTask's argument set (spec.md §4.6).
type Input struct {
	ID      uuid.UUID
	TaskID  string
	Form    string
	Outcome string
	State   map[string]any
}

// Engine wires every collaborator the Task Completion Engine pipeline
// needs for one instance type.
type Engine struct {
	TypeName     string
	Table        string
	Definition   entity.Definition
	Introspector *model.Introspector
	Store        persistence.Store
	ACL          acl.Evaluator
	BPM          bpm.Client
	Validations  validation.Registry
	Sequences    sequence.Allocator
	PubSub       pubsub.PubSub
}

// Complete runs the full pipeline (spec.md §4.6 steps 1-12).
func (e *Engine) Complete(ctx context.Context, in Input, subject identity.Subject, authenticated bool, allowAnyAuthenticatedAdmin bool) (Result, entity.Instance, error) {
	if in.ID == uuid.Nil || in.TaskID == "" || in.Form == "" || in.Outcome == "" {
		return "", nil, &resolvererr.UserInputError{InstanceType: e.TypeName, Reason: "id, taskId, form, and outcome are required"}
	}

	form, ok := findForm(e.Definition.Forms, in.Form)
	if !ok {
		return "", nil, &resolvererr.NotFoundError{InstanceType: e.TypeName, ID: in.Form}
	}
	outcome, ok := findOutcome(form.Outcomes, in.Outcome)
	if !ok {
		return "", nil, &resolvererr.NotFoundError{InstanceType: e.TypeName, ID: in.Outcome}
	}
	if outcome.Result != "Complete" {
		return "", nil, &resolvererr.LogicError{InstanceType: e.TypeName, Reason: fmt.Sprintf("outcome %q is not a Complete outcome", in.Outcome)}
	}

	// Step 1: resolve the validation set for (form, outcome), then compute
	// eagerResolves as the intersection of the model's relation fields with
	// the validation set's referenced bindings, so step 6 can validate
	// against an entity with those relations already loaded.
	set, hasValidation := e.Validations.Lookup(in.Form, in.Outcome)
	var eagerResolves []persistence.Eager
	if hasValidation {
		eagerResolves = e.eagerResolves(validation.ReferencedBindings(set))
	}

	// Step 2: concurrent prefetch of entity, subject (already resolved by
	// caller) and task list filtered to id == taskId.
	inst, tasks, err := e.prefetch(ctx, in, eagerResolves)
	if err != nil {
		return "", nil, err
	}
	if inst == nil {
		return "", nil, &resolvererr.NotFoundError{InstanceType: e.TypeName, ID: in.ID.String()}
	}
	if len(tasks) == 0 {
		return "", nil, &resolvererr.NotFoundError{InstanceType: e.TypeName, ID: in.TaskID}
	}

	// Step 3: access + task ACL.
	owner := ownerOf(e.Introspector, inst, subject.ID)
	targets := acl.DeriveTargets(authenticated, subject.IsAdministrator(allowAnyAuthenticatedAdmin), owner, allowAnyAuthenticatedAdmin)

	accessMatch := e.ACL.Evaluate(ctx, targets, acl.ActionAccess)
	if !accessMatch.Allow || (!accessMatch.HasAllScope() && !owner) {
		return "", nil, &resolvererr.AuthorizationError{InstanceType: e.TypeName, Action: "access"}
	}
	taskMatch := e.ACL.Evaluate(ctx, targets, acl.ActionTask)
	if !taskMatch.Allow {
		return "", nil, &resolvererr.AuthorizationError{InstanceType: e.TypeName, Action: "task"}
	}

	// Step 4: validated-submitter requirement.
	if outcome.RequiresValidatedSubmitter {
		if !authenticated {
			return "", nil, &resolvererr.AuthorizationError{InstanceType: e.TypeName, Action: "task"}
		}
		if !subject.EmailVerified {
			return ResultValidatedEmailRequired, inst, nil
		}
	}

	// Step 5: filter the one-element task list by allowedTasks.
	task := tasks[0]
	if !taskMatch.TaskAllowed(task.TaskDefinitionKey) {
		return "", nil, &resolvererr.AuthorizationError{InstanceType: e.TypeName, Action: "task", OffendingFields: []string{task.TaskDefinitionKey}}
	}

	// Step 6: validation.
	if hasValidation && !outcome.SkipValidations {
		ok, _, err := validation.Evaluate(set, inst)
		if err != nil {
			return "", nil, resolvererr.NewEngineError("validation", "evaluate", err)
		}
		if !ok {
			return ResultValidationFailed, inst, nil
		}
	}

	// Step 7: build filtered state, overlay forced outcome state.
	didModify, err := applyState(e.Introspector, inst, in.State, outcome)
	if err != nil {
		return "", nil, err
	}

	// Step 8: id-sequence assignment.
	if seqModified, err := e.allocateSequences(ctx, inst, outcome); err != nil {
		return "", nil, resolvererr.NewEngineError("sequence", "allocate", err)
	} else if seqModified {
		didModify = true
	}

	// Step 9: date assignment.
	if applyDateAssignments(e.Introspector, inst, outcome, time.Now().UTC()) {
		didModify = true
	}

	// Step 10: persist if changed.
	if didModify {
		inst.Stamp(time.Now().UTC())
		inst, err = e.Store.Save(ctx, e.TypeName, inst)
		if err != nil {
			return "", nil, resolvererr.NewEngineError("persistence", "save", err)
		}
	}

	// Step 11: complete the task with variables from filtered state.
	variables := stateVariables(e.Introspector, inst)
	if err := e.BPM.CompleteTask(ctx, task.ID, variables); err != nil {
		return "", nil, err
	}

	// Step 12: publish updated, return Success.
	if e.PubSub != nil {
		_ = e.PubSub.Publish(ctx, pubsub.UpdatedTopic(e.TypeName), pubsub.NewUpdatedEvent(e.TypeName, inst.ID().String()))
	}

	return ResultSuccess, inst, nil
}

func findForm(forms []entity.Form, name string) (entity.Form, bool) {
	for _, f := range forms {
		if f.Form == name {
			return f, true
		}
	}
	return entity.Form{}, false
}

func findOutcome(outcomes []entity.Outcome, typ string) (entity.Outcome, bool) {
	for _, o := range outcomes {
		if o.Type == typ {
			return o, true
		}
	}
	return entity.Outcome{}, false
}

// eagerResolves intersects the model's declared relation fields with a
// validation set's referenced bindings (spec.md §4.6 step 1), resolving
// each surviving field to the persistence.Eager descriptor prefetch needs.
func (e *Engine) eagerResolves(referenced map[string]bool) []persistence.Eager {
	var out []persistence.Eager
	for _, el := range e.Introspector.Views.Relations {
		if !referenced[el.Field] || el.Type == "" || el.JoinField == "" {
			continue
		}
		out = append(out, persistence.Eager{Field: el.Field, Table: strings.ToLower(el.Type), JoinField: el.JoinField})
	}
	return out
}

// prefetch concurrently fetches the entity (eagerly loaded per step 1) and
// the task list filtered to taskId (spec.md §4.6 step 2; subject
// resolution happens upstream of the engine since it is shared across
// every operation, not just completeTask).
func (e *Engine) prefetch(ctx context.Context, in Input, eager []persistence.Eager) (entity.Instance, []bpm.Task, error) {
	var (
		wg       sync.WaitGroup
		inst     entity.Instance
		instErr  error
		allTasks []bpm.Task
		taskErr  error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		sel := entsql.Select("*").From(entsql.Table(e.Table)).Where(entsql.EQ("id", in.ID.String()))
		found, ok, err := e.Store.Get(ctx, e.TypeName, in.ID, sel, eager)
		if err != nil {
			instErr = err
			return
		}
		if ok {
			inst = found
		}
	}()
	go func() {
		defer wg.Done()
		allTasks, taskErr = e.BPM.ListTasks(ctx, in.ID.String())
	}()
	wg.Wait()

	if instErr != nil {
		return nil, nil, resolvererr.NewEngineError("persistence", "get", instErr)
	}
	if taskErr != nil {
		return nil, nil, taskErr
	}

	var matching []bpm.Task
	for _, t := range allTasks {
		if t.ID == in.TaskID {
			matching = append(matching, t)
		}
	}
	return inst, matching, nil
}

func ownerOf(ins *model.Introspector, inst entity.Instance, subjectID string) bool {
	if inst == nil || subjectID == "" {
		return false
	}
	for _, el := range ins.Views.Owners {
		if v, _ := inst[el.JoinField].(string); v == subjectID {
			return true
		}
	}
	return false
}

// applyState implements spec.md §4.6 step 7: client state restricted to
// declared state fields, then overlaid with outcome.State (forced values
// win).
func applyState(ins *model.Introspector, inst entity.Instance, clientState map[string]any, outcome entity.Outcome) (bool, error) {
	modified := false

	for field, value := range clientState {
		if !ins.IsState(field) {
			continue
		}
		if _, forced := outcome.State[field]; forced {
			continue // forced overlay takes precedence, applied below
		}
		if inst[field] != value {
			inst[field] = value
			modified = true
		}
	}

	for field, assignment := range outcome.State {
		if !ins.IsState(field) {
			continue
		}
		resolved, ok := resolveStateAssignment(assignment, ins.Definition.Enums)
		if !ok {
			continue
		}
		if inst[field] != resolved {
			inst[field] = resolved
			modified = true
		}
	}

	return modified, nil
}

func resolveStateAssignment(a entity.StateAssignment, enums map[string]entity.EnumDefinition) (any, bool) {
	if a.Type == "simple" {
		return a.Value, true
	}
	// type == "enum": value is "Enum.Key".
	enumName, key, ok := splitEnumRef(a.Value)
	if !ok {
		return nil, false
	}
	def, ok := enums[enumName]
	if !ok {
		return nil, false
	}
	v, ok := def.Values[key]
	return v, ok
}

func splitEnumRef(ref string) (enumName, key string, ok bool) {
	for i := 0; i < len(ref); i++ {
		if ref[i] == '.' {
			return ref[:i], ref[i+1:], true
		}
	}
	return "", "", false
}

// allocateSequences implements spec.md §4.6 step 8: allocate a new value
// for every id-sequence field in outcome.SequenceAssignment that is
// currently empty on the entity.
func (e *Engine) allocateSequences(ctx context.Context, inst entity.Instance, outcome entity.Outcome) (bool, error) {
	var assignments []sequence.Assignment
	for _, field := range outcome.SequenceAssignment {
		el, ok := e.Introspector.Element(field)
		if !ok || el.Kind != entity.KindIDSequence {
			continue
		}
		if v, present := inst[field]; present && v != "" && v != nil {
			continue
		}
		assignments = append(assignments, sequence.Assignment{Field: field, SequenceName: el.IDSequence})
	}
	if len(assignments) == 0 {
		return false, nil
	}

	values, err := sequence.AllocateAll(ctx, e.Sequences, assignments)
	if err != nil {
		return false, err
	}
	for field, v := range values {
		inst[field] = v
	}
	return true, nil
}

// applyDateAssignments implements spec.md §4.6 step 9.
func applyDateAssignments(ins *model.Introspector, inst entity.Instance, outcome entity.Outcome, now time.Time) bool {
	modified := false
	for _, da := range outcome.DateAssignments {
		if !ins.IsDatetime(da.Field) {
			continue
		}
		inst[da.Field] = now
		modified = true
	}
	return modified
}

// stateVariables derives the BPM completion variables from the entity's
// current declared state fields (spec.md §4.6 step 11, marshal rule
// §4.5).
func stateVariables(ins *model.Introspector, inst entity.Instance) map[string]any {
	vars := make(map[string]any)
	for _, el := range ins.Views.States {
		vars[el.Field] = inst[el.Field]
	}
	return vars
}
