package queryplan

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"instanceresolver/internal/acl"
	"instanceresolver/internal/entity"
	"instanceresolver/internal/model"
)

func sampleIntrospector() *model.Introspector {
	return model.New(entity.Definition{
		Name: "Manuscript",
		Elements: []entity.Element{
			{Field: "title", Kind: entity.KindScalar, Listing: entity.ListingConfig{Filter: true, Sortable: true}},
			{Field: "status", Kind: entity.KindScalar, Listing: entity.ListingConfig{Filter: true, FilterMultiple: true}},
			{Field: "featured", Kind: entity.KindScalar, Listing: entity.ListingConfig{Filter: true}},
			{Field: "authorId", Kind: entity.KindOwner, JoinField: "authorId"},
		},
	})
}

func TestPlanList_FirstZero(t *testing.T) {
	p := New("manuscripts", sampleIntrospector(), Extensions{})
	plan, err := p.PlanList(context.Background(), RequestedFields{}, Input{First: intPtr(0)}, acl.Match{AllowedRestrictions: []string{acl.RestrictionAll}}, Subject{})
	require.NoError(t, err)

	query, _ := plan.Selector.Query()
	assert.Contains(t, query, "LIMIT 0")
}

func TestPlanList_FilterFalseMatchesFalseOrNull(t *testing.T) {
	p := New("manuscripts", sampleIntrospector(), Extensions{})
	plan, err := p.PlanList(context.Background(), RequestedFields{}, Input{Filter: map[string]any{"featured": false}}, acl.Match{AllowedRestrictions: []string{acl.RestrictionAll}}, Subject{})
	require.NoError(t, err)

	query, args := plan.Selector.Query()
	assert.Contains(t, query, "OR")
	assert.Contains(t, args, false)
}

func TestPlanList_FilterNullMatchesIsNull(t *testing.T) {
	p := New("manuscripts", sampleIntrospector(), Extensions{})
	plan, err := p.PlanList(context.Background(), RequestedFields{}, Input{Filter: map[string]any{"title": nil}}, acl.Match{AllowedRestrictions: []string{acl.RestrictionAll}}, Subject{})
	require.NoError(t, err)

	query, _ := plan.Selector.Query()
	assert.Contains(t, query, "IS NULL")
}

func TestPlanList_UnknownFilterKeyIgnored(t *testing.T) {
	p := New("manuscripts", sampleIntrospector(), Extensions{})
	plan, err := p.PlanList(context.Background(), RequestedFields{}, Input{Filter: map[string]any{"doesNotExist": "x"}}, acl.Match{AllowedRestrictions: []string{acl.RestrictionAll}}, Subject{})
	require.NoError(t, err)

	query, args := plan.Selector.Query()
	assert.NotContains(t, query, "doesNotExist")
	assert.NotContains(t, args, "x")
}

func TestPlanList_OwnerScopingRequiresSubject(t *testing.T) {
	p := New("manuscripts", sampleIntrospector(), Extensions{})
	_, err := p.PlanList(context.Background(), RequestedFields{}, Input{}, acl.Match{AllowedRestrictions: []string{acl.RestrictionOwner}}, Subject{Authenticated: false})
	require.Error(t, err)
}

func TestPlanList_OwnerScopingFiltersByOwnerField(t *testing.T) {
	p := New("manuscripts", sampleIntrospector(), Extensions{})
	plan, err := p.PlanList(context.Background(), RequestedFields{}, Input{}, acl.Match{AllowedRestrictions: []string{acl.RestrictionOwner}}, Subject{Authenticated: true, ID: "me"})
	require.NoError(t, err)

	query, args := plan.Selector.Query()
	assert.Contains(t, query, "authorId")
	assert.Contains(t, args, "me")
}

func TestPlanList_MultipleValueFilter(t *testing.T) {
	p := New("manuscripts", sampleIntrospector(), Extensions{})
	plan, err := p.PlanList(context.Background(), RequestedFields{}, Input{Filter: map[string]any{"status": []any{"draft", "review"}}}, acl.Match{AllowedRestrictions: []string{acl.RestrictionAll}}, Subject{})
	require.NoError(t, err)

	query, args := plan.Selector.Query()
	assert.Contains(t, query, "IN")
	assert.ElementsMatch(t, []any{"draft", "review"}, args)
}

func TestPlanGet_CollectsEagerPaths(t *testing.T) {
	ins := model.New(entity.Definition{
		Name: "Manuscript",
		Elements: []entity.Element{
			{Field: "reviewer", Kind: entity.KindRelation, Type: "Person", DefaultEager: "name"},
		},
	})
	p := New("manuscripts", ins, Extensions{})
	plan := p.PlanGet(RequestedFields{Top: []string{"reviewer"}, Relations: map[string][]string{"reviewer": {"name"}}})
	assert.Equal(t, []string{"reviewer.name"}, plan.Eager)
}

func TestBuildPageInfo_Defaults(t *testing.T) {
	info := BuildPageInfo(5, Input{})
	assert.Equal(t, 5, info.TotalCount)
	assert.Equal(t, 0, info.Offset)
	assert.Equal(t, defaultFirst, info.PageSize)
}

func intPtr(i int) *int { return &i }
