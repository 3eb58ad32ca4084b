package entity

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestInstance_IDRoundTrip(t *testing.T) {
	inst := Instance{}
	assert.Equal(t, uuid.Nil, inst.ID())

	id := uuid.New()
	inst.SetID(id)
	assert.Equal(t, id, inst.ID())
}

func TestInstance_TouchSetsCreatedAndUpdated(t *testing.T) {
	inst := Instance{}
	now := time.Now().UTC()
	inst.Touch(now)

	assert.Equal(t, now, inst.Created())
	assert.Equal(t, now, inst.Updated())
}

func TestInstance_StampPreservesCreated(t *testing.T) {
	inst := Instance{}
	created := time.Now().UTC()
	inst.Touch(created)

	later := created.Add(time.Hour)
	inst.Stamp(later)

	assert.Equal(t, created, inst.Created())
	assert.Equal(t, later, inst.Updated())
}

func TestInstance_CloneIsIndependent(t *testing.T) {
	original := Instance{"title": "Draft"}
	clone := original.Clone()
	clone["title"] = "Changed"

	assert.Equal(t, "Draft", original["title"])
	assert.Equal(t, "Changed", clone["title"])
}

func TestElement_Inputtable(t *testing.T) {
	assert.True(t, Element{}.Inputtable())

	allowed := true
	assert.True(t, Element{Input: &allowed}.Inputtable())

	disallowed := false
	assert.False(t, Element{Input: &disallowed}.Inputtable())
}

func TestElement_HasDefaultEnum(t *testing.T) {
	assert.False(t, Element{}.HasDefaultEnum())
	assert.False(t, Element{DefaultEnum: "Phase"}.HasDefaultEnum())
	assert.True(t, Element{DefaultEnum: "Phase", DefaultEnumKey: "Draft"}.HasDefaultEnum())
}
