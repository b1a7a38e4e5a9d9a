package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreSubscribeDeliversCurrentThenChanges(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, ms.Set(ctx, PathCompanies, []Company{{ID: "c1", Name: "Acme"}}))

	var got []Snapshot
	unsub, err := ms.Subscribe(ctx, PathCompanies, func(s Snapshot) { got = append(got, s) })
	require.NoError(t, err)
	require.Len(t, got, 1)

	var companies []Company
	require.NoError(t, got[0].Decode(&companies))
	assert.Equal(t, "Acme", companies[0].Name)

	require.NoError(t, ms.Set(ctx, PathSOPSteps, []SOPStep{{ID: 1}}))
	assert.Len(t, got, 1, "other paths must not be delivered")

	require.NoError(t, ms.Set(ctx, PathCompanies, []Company{}))
	require.Len(t, got, 2)
	assert.False(t, got[1].Exists())

	unsub()
	unsub()
	require.NoError(t, ms.Set(ctx, PathCompanies, []Company{{ID: "c2"}}))
	assert.Len(t, got, 2)
}

func TestMemoryStoreEmptyPath(t *testing.T) {
	ms := NewMemoryStore()
	var snap Snapshot
	_, err := ms.Subscribe(context.Background(), PathSOPSteps, func(s Snapshot) { snap = s })
	require.NoError(t, err)
	assert.Equal(t, PathSOPSteps, snap.Path)
	assert.False(t, snap.Exists())
}

func TestMemoryStoreClosed(t *testing.T) {
	ms := NewMemoryStore()
	require.NoError(t, ms.Close())

	ctx := context.Background()
	assert.ErrorIs(t, ms.Set(ctx, PathCompanies, []Company{}), ErrClosed)
	_, err := ms.Subscribe(ctx, PathCompanies, func(Snapshot) {})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, ms.Ping(ctx), ErrClosed)
}
