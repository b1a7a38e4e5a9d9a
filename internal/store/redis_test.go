package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://"+s.Addr(), "test:", time.Second, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, s
}

func nextSnapshot(t *testing.T, ch <-chan Snapshot) Snapshot {
	t.Helper()
	select {
	case snap := <-ch:
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return Snapshot{}
	}
}

func TestNewRedisStoreBadURL(t *testing.T) {
	_, err := NewRedisStore("not a url", "", 0, nil)
	require.Error(t, err)
}

func TestRedisSetAndGet(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()

	snap, err := store.Get(ctx, PathCompanies)
	require.NoError(t, err)
	assert.False(t, snap.Exists())

	companies := []Company{{ID: "c1", Name: "Acme", Address: "1 Main St", Images: []string{}}}
	require.NoError(t, store.Set(ctx, PathCompanies, companies))

	raw, err := s.Get("test:doc:companies")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"c1","name":"Acme","address":"1 Main St","deliveryDetails":"","images":[],"contactPerson":"","phoneNumber":"","assignedTour":""}]`, raw)

	snap, err = store.Get(ctx, PathCompanies)
	require.NoError(t, err)
	var got []Company
	require.NoError(t, snap.Decode(&got))
	assert.Equal(t, companies, got)
}

func TestRedisSubscribeDeliversInitialThenChanges(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, PathSOPSteps, []SOPStep{{ID: 1, Title: "First", Points: []string{"a"}}}))

	ch := make(chan Snapshot, 4)
	unsub, err := store.Subscribe(ctx, PathSOPSteps, func(s Snapshot) { ch <- s })
	require.NoError(t, err)
	defer unsub()

	var steps []SOPStep
	require.NoError(t, nextSnapshot(t, ch).Decode(&steps))
	require.Len(t, steps, 1)
	assert.Equal(t, "First", steps[0].Title)

	require.NoError(t, store.Set(ctx, PathSOPSteps, []SOPStep{{ID: 1, Title: "Renamed", Points: []string{"a"}}}))
	steps = nil
	snap := nextSnapshot(t, ch)
	assert.Equal(t, PathSOPSteps, snap.Path)
	require.NoError(t, snap.Decode(&steps))
	assert.Equal(t, "Renamed", steps[0].Title)
}

func TestRedisSubscribeEmptyPath(t *testing.T) {
	store, _ := setupTestRedis(t)

	ch := make(chan Snapshot, 1)
	unsub, err := store.Subscribe(context.Background(), PathCompanies, func(s Snapshot) { ch <- s })
	require.NoError(t, err)
	defer unsub()

	assert.False(t, nextSnapshot(t, ch).Exists())
}

func TestRedisUnsubscribeStopsDelivery(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	ch := make(chan Snapshot, 4)
	unsub, err := store.Subscribe(ctx, PathCompanies, func(s Snapshot) { ch <- s })
	require.NoError(t, err)
	nextSnapshot(t, ch)

	unsub()
	unsub()

	require.NoError(t, store.Set(ctx, PathCompanies, []Company{{ID: "x", Name: "n", Address: "a"}}))
	select {
	case snap := <-ch:
		t.Fatalf("unexpected snapshot after unsubscribe: %s", snap.Value)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRedisSubscribeAfterClose(t *testing.T) {
	store, _ := setupTestRedis(t)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	_, err := store.Subscribe(context.Background(), PathCompanies, func(Snapshot) {})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSnapshotExists(t *testing.T) {
	cases := map[string]bool{
		"":           false,
		"null":       false,
		"[]":         false,
		" {} ":       false,
		`[{"id":1}]`: true,
	}
	for raw, want := range cases {
		assert.Equal(t, want, Snapshot{Value: json.RawMessage(raw)}.Exists(), "value %q", raw)
	}
}
