package sequence

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	assert.Equal(t, "S000042", Format(42))
	assert.Equal(t, "S000000", Format(0))
	assert.Equal(t, "S123456", Format(123456))
}

func TestMemoryAllocator_IncrementsPerName(t *testing.T) {
	a := NewMemoryAllocator()

	v1, err := a.Next(context.Background(), "manuscript_seq")
	require.NoError(t, err)
	v2, err := a.Next(context.Background(), "manuscript_seq")
	require.NoError(t, err)
	v3, err := a.Next(context.Background(), "other_seq")
	require.NoError(t, err)

	assert.Equal(t, "S000001", v1)
	assert.Equal(t, "S000002", v2)
	assert.Equal(t, "S000001", v3)
}

type failingAllocator struct{}

func (failingAllocator) Next(ctx context.Context, sequenceName string) (string, error) {
	return "", errors.New("boom")
}

func TestAllocateAll_EmptyAssignments(t *testing.T) {
	result, err := AllocateAll(context.Background(), NewMemoryAllocator(), nil)
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestAllocateAll_AllSucceed(t *testing.T) {
	a := NewMemoryAllocator()
	result, err := AllocateAll(context.Background(), a, []Assignment{
		{Field: "manuscriptId", SequenceName: "manuscript_seq"},
		{Field: "reviewId", SequenceName: "review_seq"},
	})
	require.NoError(t, err)
	assert.Equal(t, "S000001", result["manuscriptId"])
	assert.Equal(t, "S000001", result["reviewId"])
}

func TestAllocateAll_OneFailureFailsTheWholeStep(t *testing.T) {
	result, err := AllocateAll(context.Background(), failingAllocator{}, []Assignment{
		{Field: "manuscriptId", SequenceName: "manuscript_seq"},
	})
	require.Error(t, err)
	assert.Nil(t, result)
}
