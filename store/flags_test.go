package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlags(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, found, err := s.GetFlag(ctx, RestartPendingFlag)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.SetFlag(ctx, RestartPendingFlag, "true"))

	value, found, err := s.GetFlag(ctx, RestartPendingFlag)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "true", value)

	// Upsert overwrites
	require.NoError(t, s.SetFlag(ctx, RestartPendingFlag, "false"))
	value, found, err = s.GetFlag(ctx, RestartPendingFlag)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "false", value)

	require.NoError(t, s.DeleteFlag(ctx, RestartPendingFlag))
	_, found, err = s.GetFlag(ctx, RestartPendingFlag)
	require.NoError(t, err)
	assert.False(t, found)

	// Deleting an absent flag is fine
	require.NoError(t, s.DeleteFlag(ctx, RestartPendingFlag))
}
