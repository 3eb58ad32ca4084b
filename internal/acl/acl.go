// Package acl implements the ACL Evaluator contract (spec.md §4.2): given a
// subject's ACL targets and an action, select the best-matching rule and
// report what it allows.
//
// The evaluator here is a concrete "best-match rule" implementation; the
// rest of the resolver only depends on the Evaluator interface, so a model
// may plug in any policy engine that satisfies it (spec.md "ACL Evaluator
// (contract only)").
package acl

import "context"

// Target is a role-like tag attached to a subject for policy evaluation.
type Target string

const (
	TargetAnonymous     Target = "anonymous"
	TargetUser          Target = "user"
	TargetAdministrator Target = "administrator"
	TargetOwner         Target = "owner"
)

// targetPriority ranks targets from least to most specific, used to break
// ties when several rules match the same action (owner is the most
// specific grant a subject can hold on a single entity).
var targetPriority = map[Target]int{
	TargetAnonymous:     0,
	TargetUser:          1,
	TargetAdministrator: 2,
	TargetOwner:         3,
}

// Action is one of the operations an ACL rule can gate.
type Action string

const (
	ActionAccess  Action = "access"
	ActionRead    Action = "read"
	ActionWrite   Action = "write"
	ActionCreate  Action = "create"
	ActionDestroy Action = "destroy"
	ActionTask    Action = "task"
)

// RestrictionAll and RestrictionOwner are the two restriction scopes
// spec.md §4.2 defines: "all" grants cross-entity visibility, otherwise
// only entities the subject owns are visible/mutable.
const (
	RestrictionAll   = "all"
	RestrictionOwner = "owner"
)

// Match is the outcome of evaluating one action against a subject's
// targets, optionally scoped to one entity.
type Match struct {
	Allow               bool
	AllowedFields       []string // nil means "every allowed-read/-input field"
	AllowedRestrictions []string // "all" | "owner"
	AllowedTasks        []string // nil means every task definition key
	MatchingRules       []string // rule names considered, for tracing
}

// HasAllScope reports whether the match grants cross-entity ("all")
// visibility rather than being restricted to owned entities.
func (m Match) HasAllScope() bool {
	for _, r := range m.AllowedRestrictions {
		if r == RestrictionAll {
			return true
		}
	}
	return false
}

// FieldAllowed reports whether field is permitted by the match. An absent
// AllowedFields list means every field is permitted (spec.md §4.2).
func (m Match) FieldAllowed(field string) bool {
	if m.AllowedFields == nil {
		return true
	}
	for _, f := range m.AllowedFields {
		if f == field {
			return true
		}
	}
	return false
}

// TaskAllowed reports whether taskDefinitionKey is permitted. A nil
// AllowedTasks means every task is permitted.
func (m Match) TaskAllowed(taskDefinitionKey string) bool {
	if m.AllowedTasks == nil {
		return true
	}
	for _, t := range m.AllowedTasks {
		if t == taskDefinitionKey {
			return true
		}
	}
	return false
}

// permissiveMatch is returned for models with no attached ACL policy
// (spec.md §4.2: "may be absent → permissive").
var permissiveMatch = Match{
	Allow:               true,
	AllowedRestrictions: []string{RestrictionAll},
}

// Rule is one entry of a RuleEvaluator's policy. A rule applies to an
// action if Actions contains it, and to a subject if Targets intersects the
// subject's target set.
type Rule struct {
	Name                string
	Targets             []Target
	Actions             []Action
	Allow               bool
	AllowedFields       []string
	AllowedRestrictions []string
	AllowedTasks        []string
}

// Evaluator is the contract every ACL implementation satisfies (spec.md
// §4.2, "contract only").
type Evaluator interface {
	Evaluate(ctx context.Context, targets []Target, action Action) Match
}

// TraceSink receives one record per ACL evaluation when tracing is enabled
// (spec.md §7 "Debug hook" / §9 "expose as a pluggable sink, not as stdout
// writes").
type TraceSink interface {
	Trace(ctx context.Context, action Action, targets []Target, ownerFlag bool, matchingRules []string, result Match)
}

// NopTraceSink discards every trace record.
type NopTraceSink struct{}

func (NopTraceSink) Trace(context.Context, Action, []Target, bool, []string, Match) {}

// RuleEvaluator selects, for a given action, the rule whose Targets
// intersect the subject's targets at the highest priority; ties are broken
// by rule order (first declared wins), matching the per-field extension
// short-circuit convention used elsewhere in this codebase (queryplan).
type RuleEvaluator struct {
	Rules []Rule
	Trace TraceSink
}

// NewRuleEvaluator constructs an evaluator over rules, defaulting Trace to
// a no-op sink.
func NewRuleEvaluator(rules []Rule) *RuleEvaluator {
	return &RuleEvaluator{Rules: rules, Trace: NopTraceSink{}}
}

// Evaluate implements Evaluator.
func (e *RuleEvaluator) Evaluate(ctx context.Context, targets []Target, action Action) Match {
	if e == nil || len(e.Rules) == 0 {
		return permissiveMatch
	}

	targetSet := make(map[Target]bool, len(targets))
	for _, t := range targets {
		targetSet[t] = true
	}

	var (
		best        *Rule
		bestScore   = -1
		matching    []string
	)
	for i := range e.Rules {
		r := &e.Rules[i]
		if !containsAction(r.Actions, action) {
			continue
		}
		score := matchScore(r.Targets, targetSet)
		if score < 0 {
			continue
		}
		matching = append(matching, r.Name)
		if score > bestScore {
			best = r
			bestScore = score
		}
	}

	var result Match
	if best == nil {
		result = Match{Allow: false, MatchingRules: matching}
	} else {
		result = Match{
			Allow:               best.Allow,
			AllowedFields:       best.AllowedFields,
			AllowedRestrictions: best.AllowedRestrictions,
			AllowedTasks:        best.AllowedTasks,
			MatchingRules:       matching,
		}
	}

	e.Trace.Trace(ctx, action, targets, targetSet[TargetOwner], matching, result)
	return result
}

func containsAction(actions []Action, action Action) bool {
	for _, a := range actions {
		if a == action {
			return true
		}
	}
	return false
}

// matchScore returns the highest priority of any rule target present in
// the subject's target set, or -1 if none intersect.
func matchScore(ruleTargets []Target, subject map[Target]bool) int {
	score := -1
	for _, t := range ruleTargets {
		if !subject[t] {
			continue
		}
		if p := targetPriority[t]; p > score {
			score = p
		}
	}
	return score
}

// DeriveTargets builds the ACL target set for a subject against one entity,
// per spec.md §3: anonymous is always present; user/administrator are added
// when an identity is present; owner is added when any declared owner field
// on the entity equals the subject's id (logical OR across owner fields,
// spec.md §9).
//
// allowAnyAuthenticatedAdmin reproduces the teacher's observed (and
// disavowed, see DESIGN.md Open Question 3) "administrator for any
// authenticated user" behavior when explicitly opted into; production
// policy should leave it false and grant administrator from a verified
// role claim instead.
func DeriveTargets(authenticated, isAdministrator, isOwner, allowAnyAuthenticatedAdmin bool) []Target {
	targets := []Target{TargetAnonymous}
	if !authenticated {
		return targets
	}
	targets = append(targets, TargetUser)
	if isAdministrator || allowAnyAuthenticatedAdmin {
		targets = append(targets, TargetAdministrator)
	}
	if isOwner {
		targets = append(targets, TargetOwner)
	}
	return targets
}
