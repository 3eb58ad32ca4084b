package acl

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuleEvaluator_NoRulesIsPermissive(t *testing.T) {
	e := NewRuleEvaluator(nil)
	match := e.Evaluate(context.Background(), []Target{TargetAnonymous}, ActionRead)
	assert.True(t, match.Allow)
	assert.True(t, match.HasAllScope())
}

func TestRuleEvaluator_BestMatchByTargetPriority(t *testing.T) {
	rules := []Rule{
		{Name: "anon-read", Targets: []Target{TargetAnonymous}, Actions: []Action{ActionRead}, Allow: true, AllowedFields: []string{"title"}},
		{Name: "owner-read", Targets: []Target{TargetOwner}, Actions: []Action{ActionRead}, Allow: true, AllowedFields: []string{"title", "secretCost"}},
	}
	e := NewRuleEvaluator(rules)

	match := e.Evaluate(context.Background(), []Target{TargetAnonymous, TargetUser, TargetOwner}, ActionRead)
	require.True(t, match.Allow)
	assert.ElementsMatch(t, []string{"title", "secretCost"}, match.AllowedFields)
}

func TestRuleEvaluator_NoMatchingRuleDenies(t *testing.T) {
	rules := []Rule{
		{Name: "owner-access", Targets: []Target{TargetOwner}, Actions: []Action{ActionAccess}, Allow: true, AllowedRestrictions: []string{RestrictionOwner}},
	}
	e := NewRuleEvaluator(rules)

	match := e.Evaluate(context.Background(), []Target{TargetAnonymous}, ActionAccess)
	assert.False(t, match.Allow)
}

func TestMatch_FieldAllowed(t *testing.T) {
	m := Match{AllowedFields: []string{"title"}}
	assert.True(t, m.FieldAllowed("title"))
	assert.False(t, m.FieldAllowed("secretCost"))

	unrestricted := Match{}
	assert.True(t, unrestricted.FieldAllowed("anything"))
}

func TestMatch_TaskAllowed(t *testing.T) {
	m := Match{AllowedTasks: []string{"review"}}
	assert.True(t, m.TaskAllowed("review"))
	assert.False(t, m.TaskAllowed("publish"))

	unrestricted := Match{}
	assert.True(t, unrestricted.TaskAllowed("anything"))
}

func TestDeriveTargets(t *testing.T) {
	assert.Equal(t, []Target{TargetAnonymous}, DeriveTargets(false, false, false, false))
	assert.Equal(t, []Target{TargetAnonymous, TargetUser}, DeriveTargets(true, false, false, false))
	assert.Equal(t, []Target{TargetAnonymous, TargetUser, TargetAdministrator}, DeriveTargets(true, true, false, false))
	assert.Equal(t, []Target{TargetAnonymous, TargetUser, TargetOwner}, DeriveTargets(true, false, true, false))
	assert.Equal(t, []Target{TargetAnonymous, TargetUser, TargetAdministrator}, DeriveTargets(true, false, false, true))
}
