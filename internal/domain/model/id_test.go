package model

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSortableID_IssueOrder(t *testing.T) {
	prev := NewSortableID()
	for range 2000 {
		next := NewSortableID()
		require.Less(t, prev, next)
		prev = next
	}

	id, err := uuid.Parse(prev)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), id.Version())
}
