package taskengine

import (
	"context"
	"regexp"
	"testing"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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
)

// fakeStore is a minimal in-memory persistence.Store for pipeline tests.
// It records the eager relations each Get call received, so tests can
// assert on step 1's eagerResolves computation.
type fakeStore struct {
	rows       map[uuid.UUID]entity.Instance
	lastEager  []persistence.Eager
}

func newFakeStore(rows ...entity.Instance) *fakeStore {
	s := &fakeStore{rows: map[uuid.UUID]entity.Instance{}}
	for _, r := range rows {
		s.rows[r.ID()] = r
	}
	return s
}

func (s *fakeStore) Get(ctx context.Context, typeName string, id uuid.UUID, sel *entsql.Selector, eager []persistence.Eager) (entity.Instance, bool, error) {
	s.lastEager = eager
	row, ok := s.rows[id]
	return row, ok, nil
}

func (s *fakeStore) List(ctx context.Context, typeName string, sel *entsql.Selector, eager []persistence.Eager) (persistence.Page, error) {
	return persistence.Page{}, nil
}

func (s *fakeStore) Save(ctx context.Context, typeName string, inst entity.Instance) (entity.Instance, error) {
	s.rows[inst.ID()] = inst
	return inst, nil
}

// fakeBPM is an in-memory bpm.Client: one task per entity, recording
// completions.
type fakeBPM struct {
	tasks           map[string][]bpm.Task
	completed       map[string]map[string]any
	completeTaskErr error
}

func newFakeBPM() *fakeBPM {
	return &fakeBPM{tasks: map[string][]bpm.Task{}, completed: map[string]map[string]any{}}
}

func (b *fakeBPM) StartProcess(ctx context.Context, processKey, businessKey string, startInstructions []bpm.StartInstruction, variables map[string]any) error {
	return nil
}

func (b *fakeBPM) ListTasks(ctx context.Context, businessKey string) ([]bpm.Task, error) {
	return b.tasks[businessKey], nil
}

func (b *fakeBPM) DeleteProcessInstance(ctx context.Context, businessKey string) error { return nil }

func (b *fakeBPM) CompleteTask(ctx context.Context, taskID string, variables map[string]any) error {
	if b.completeTaskErr != nil {
		return b.completeTaskErr
	}
	b.completed[taskID] = variables
	return nil
}

func manuscriptDefinition() entity.Definition {
	return entity.Definition{
		Name:  "Manuscript",
		Input: true,
		Elements: []entity.Element{
			{Field: "phase", Kind: entity.KindState},
			{Field: "manuscriptId", Kind: entity.KindIDSequence, IDSequence: "manuscript_seq"},
			{Field: "authorId", Kind: entity.KindOwner, JoinField: "authorId"},
			{Field: "reviewer", Kind: entity.KindRelation, Type: "Reviewer", JoinField: "reviewerId"},
		},
		Enums: map[string]entity.EnumDefinition{
			"Phase": {Values: map[string]any{"Published": "published"}},
		},
		Forms: []entity.Form{
			{
				Form: "curate",
				Outcomes: []entity.Outcome{
					{
						Type:                       "accept",
						Result:                     "Complete",
						RequiresValidatedSubmitter: true,
					},
					{
						Type:   "publish",
						Result: "Complete",
						State: map[string]entity.StateAssignment{
							"phase": {Type: "enum", Value: "Phase.Published"},
						},
						SequenceAssignment: []string{"manuscriptId"},
					},
				},
			},
		},
	}
}

func newEngine(def entity.Definition, store persistence.Store, evaluator acl.Evaluator, bpmClient bpm.Client, validations validation.Registry) *Engine {
	return &Engine{
		TypeName:     "Manuscript",
		Table:        "manuscripts",
		Definition:   def,
		Introspector: model.New(def),
		Store:        store,
		ACL:          evaluator,
		BPM:          bpmClient,
		Validations:  validations,
		Sequences:    sequence.NewMemoryAllocator(),
		PubSub:       pubsub.NewMemoryPubSub(),
	}
}

func permissiveEvaluator() acl.Evaluator {
	return acl.NewRuleEvaluator([]acl.Rule{
		{Name: "any-access", Targets: []acl.Target{acl.TargetAnonymous}, Actions: []acl.Action{acl.ActionAccess}, Allow: true, AllowedRestrictions: []string{acl.RestrictionAll}},
		{Name: "any-task", Targets: []acl.Target{acl.TargetAnonymous}, Actions: []acl.Action{acl.ActionTask}, Allow: true},
	})
}

func TestComplete_MissingArguments(t *testing.T) {
	e := newEngine(manuscriptDefinition(), newFakeStore(), permissiveEvaluator(), newFakeBPM(), validation.NewMapRegistry())
	_, _, err := e.Complete(context.Background(), Input{}, identity.Subject{}, false, false)
	require.Error(t, err)
	assert.IsType(t, &resolvererr.UserInputError{}, err)
}

// scenario 4: outcome requires a validated submitter and the subject's
// email is unverified -> ValidatedEmailRequired, entity unchanged, task
// not completed.
func TestComplete_RequiresValidatedSubmitter(t *testing.T) {
	id := uuid.New()
	inst := entity.Instance{"id": id, "phase": "submitted", "authorId": "author-1"}
	store := newFakeStore(inst)

	bpmClient := newFakeBPM()
	bpmClient.tasks[id.String()] = []bpm.Task{{ID: "task-1", TaskDefinitionKey: "curate-task"}}

	e := newEngine(manuscriptDefinition(), store, permissiveEvaluator(), bpmClient, validation.NewMapRegistry())

	subject := identity.Subject{ID: "author-1", EmailVerified: false}
	result, out, err := e.Complete(context.Background(), Input{ID: id, TaskID: "task-1", Form: "curate", Outcome: "accept"}, subject, true, false)

	require.NoError(t, err)
	assert.Equal(t, ResultValidatedEmailRequired, result)
	assert.Equal(t, "submitted", out["phase"])
	assert.Empty(t, bpmClient.completed)
}

// scenario 5: forced enum state overlay plus id-sequence assignment on an
// empty field; entity saved once, BPM completed, event published.
func TestComplete_ForcedStateAndSequenceAssignment(t *testing.T) {
	id := uuid.New()
	inst := entity.Instance{"id": id, "phase": "review", "authorId": "author-1"}
	store := newFakeStore(inst)

	bpmClient := newFakeBPM()
	bpmClient.tasks[id.String()] = []bpm.Task{{ID: "task-1", TaskDefinitionKey: "publish-task"}}

	e := newEngine(manuscriptDefinition(), store, permissiveEvaluator(), bpmClient, validation.NewMapRegistry())

	subject := identity.Subject{ID: "author-1", EmailVerified: true}
	result, out, err := e.Complete(context.Background(), Input{ID: id, TaskID: "task-1", Form: "curate", Outcome: "publish"}, subject, true, false)

	require.NoError(t, err)
	assert.Equal(t, ResultSuccess, result)
	assert.Equal(t, "published", out["phase"])
	assert.Regexp(t, regexp.MustCompile(`^S\d{6}$`), out["manuscriptId"])
	assert.Contains(t, bpmClient.completed, "task-1")

	saved, _ := store.rows[id], true
	assert.Equal(t, "published", saved["phase"])
}

func TestComplete_OutcomeNotCompleteIsLogicError(t *testing.T) {
	def := manuscriptDefinition()
	def.Forms[0].Outcomes = append(def.Forms[0].Outcomes, entity.Outcome{Type: "reject", Result: "Incomplete"})

	id := uuid.New()
	store := newFakeStore(entity.Instance{"id": id, "authorId": "author-1"})
	bpmClient := newFakeBPM()
	bpmClient.tasks[id.String()] = []bpm.Task{{ID: "task-1"}}

	e := newEngine(def, store, permissiveEvaluator(), bpmClient, validation.NewMapRegistry())
	_, _, err := e.Complete(context.Background(), Input{ID: id, TaskID: "task-1", Form: "curate", Outcome: "reject"}, identity.Subject{ID: "author-1"}, true, false)

	require.Error(t, err)
	assert.IsType(t, &resolvererr.LogicError{}, err)
}

func TestComplete_ValidationFailureReturnsSentinelWithoutMutating(t *testing.T) {
	def := manuscriptDefinition()
	def.Forms[0].Outcomes[1].RequiresValidatedSubmitter = false

	registry := validation.NewMapRegistry()
	registry.Register("curate", "publish", validation.Set{Schema: map[string]any{
		"type":     "object",
		"required": []any{"reviewedBy"},
	}})

	id := uuid.New()
	store := newFakeStore(entity.Instance{"id": id, "phase": "review", "authorId": "author-1"})
	bpmClient := newFakeBPM()
	bpmClient.tasks[id.String()] = []bpm.Task{{ID: "task-1"}}

	e := newEngine(def, store, permissiveEvaluator(), bpmClient, registry)

	result, out, err := e.Complete(context.Background(), Input{ID: id, TaskID: "task-1", Form: "curate", Outcome: "publish"}, identity.Subject{ID: "author-1", EmailVerified: true}, true, false)
	require.NoError(t, err)
	assert.Equal(t, ResultValidationFailed, result)
	assert.Equal(t, "review", out["phase"])
	assert.Empty(t, bpmClient.completed)
}

// step 1: eagerResolves only keeps relation fields the validation set
// actually references, and resolves them to the prefetch's eager spec.
func TestComplete_EagerResolvesIntersectsRelationsWithValidationBindings(t *testing.T) {
	def := manuscriptDefinition()
	def.Forms[0].Outcomes[1].RequiresValidatedSubmitter = false

	registry := validation.NewMapRegistry()
	registry.Register("curate", "publish", validation.Set{Schema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"reviewer": map[string]any{"type": "object"},
		},
	}})

	id := uuid.New()
	store := newFakeStore(entity.Instance{"id": id, "phase": "review", "authorId": "author-1", "reviewerId": "reviewer-1"})
	bpmClient := newFakeBPM()
	bpmClient.tasks[id.String()] = []bpm.Task{{ID: "task-1"}}

	e := newEngine(def, store, permissiveEvaluator(), bpmClient, registry)
	_, _, err := e.Complete(context.Background(), Input{ID: id, TaskID: "task-1", Form: "curate", Outcome: "publish"}, identity.Subject{ID: "author-1", EmailVerified: true}, true, false)
	require.NoError(t, err)

	require.Len(t, store.lastEager, 1)
	assert.Equal(t, persistence.Eager{Field: "reviewer", Table: "reviewer", JoinField: "reviewerId"}, store.lastEager[0])
}

func TestComplete_NotFoundEntity(t *testing.T) {
	e := newEngine(manuscriptDefinition(), newFakeStore(), permissiveEvaluator(), newFakeBPM(), validation.NewMapRegistry())
	_, _, err := e.Complete(context.Background(), Input{ID: uuid.New(), TaskID: "task-1", Form: "curate", Outcome: "accept"}, identity.Subject{}, true, false)
	require.Error(t, err)
	assert.IsType(t, &resolvererr.NotFoundError{}, err)
}
