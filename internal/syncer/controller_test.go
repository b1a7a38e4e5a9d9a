package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"logistics/api/internal/store"
)

type fakeStore struct {
	mu           sync.Mutex
	listeners    map[string]store.Listener
	values       map[string]json.RawMessage
	sets         []string
	setFn        func(path string) error
	subscribeErr map[string]error
	unsubscribed map[string]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		listeners:    make(map[string]store.Listener),
		values:       make(map[string]json.RawMessage),
		subscribeErr: make(map[string]error),
		unsubscribed: make(map[string]int),
	}
}

func (f *fakeStore) Subscribe(_ context.Context, path string, fn store.Listener) (store.Unsubscribe, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.subscribeErr[path]; err != nil {
		return nil, err
	}
	f.listeners[path] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.unsubscribed[path]++
		delete(f.listeners, path)
	}, nil
}

func (f *fakeStore) Set(_ context.Context, path string, value any) error {
	f.mu.Lock()
	f.sets = append(f.sets, path)
	setFn := f.setFn
	f.mu.Unlock()

	if setFn != nil {
		if err := setFn(path); err != nil {
			return err
		}
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.values[path] = data
	f.mu.Unlock()
	return nil
}

func (f *fakeStore) Get(_ context.Context, path string) (store.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return store.Snapshot{Path: path, Value: f.values[path]}, nil
}

func (f *fakeStore) Ping(context.Context) error { return nil }

func (f *fakeStore) Close() error { return nil }

// push delivers a snapshot to the current listener of path.
func (f *fakeStore) push(t *testing.T, path string, value any) {
	t.Helper()
	data, err := json.Marshal(value)
	require.NoError(t, err)
	f.mu.Lock()
	fn := f.listeners[path]
	f.mu.Unlock()
	require.NotNil(t, fn, "no listener for %s", path)
	fn(store.Snapshot{Path: path, Value: data})
}

func (f *fakeStore) setCount(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.sets {
		if p == path {
			n++
		}
	}
	return n
}

var template = []store.SOPStep{
	{ID: 1, Title: "Prepare", Points: []string{"Check tour"}},
	{ID: 2, Title: "Pack", Points: []string{"Seal boxes", "Label"}},
}

func startController(t *testing.T, fs *fakeStore, policy FailurePolicy) *Controller {
	t.Helper()
	c := New(fs, template, policy, zap.NewNop())
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(c.Close)
	return c
}

func TestControllerLoadingUntilFirstCompanySnapshot(t *testing.T) {
	fs := newFakeStore()
	c := startController(t, fs, KeepOnFailure)

	assert.True(t, c.Loading())
	assert.Equal(t, PhaseLoading, c.Phase(store.PathCompanies))
	assert.Empty(t, c.Companies())

	fs.push(t, store.PathCompanies, []store.Company{{ID: "c1", Name: "Acme", Address: "1 Main"}})

	assert.False(t, c.Loading())
	assert.Equal(t, PhaseSynced, c.Phase(store.PathCompanies))
	companies := c.Companies()
	require.Len(t, companies, 1)
	assert.Equal(t, "Acme", companies[0].Name)
	assert.Equal(t, []string{}, companies[0].Images)
}

func TestControllerAbsentCompaniesAreEmpty(t *testing.T) {
	fs := newFakeStore()
	c := startController(t, fs, KeepOnFailure)

	fs.push(t, store.PathCompanies, nil)

	assert.False(t, c.Loading())
	assert.Equal(t, []store.Company{}, c.Companies())
}

func TestControllerSeedsEmptySOPOnce(t *testing.T) {
	fs := newFakeStore()
	c := startController(t, fs, KeepOnFailure)

	fs.push(t, store.PathSOPSteps, nil)
	assert.Equal(t, 1, fs.setCount(store.PathSOPSteps))
	assert.Equal(t, template, c.SOPSteps())

	fs.push(t, store.PathSOPSteps, []store.SOPStep{})
	assert.Equal(t, 1, fs.setCount(store.PathSOPSteps))
	assert.Equal(t, []store.SOPStep{}, c.SOPSteps())
}

func TestControllerDoesNotSeedPopulatedSOP(t *testing.T) {
	fs := newFakeStore()
	c := startController(t, fs, KeepOnFailure)

	remote := []store.SOPStep{{ID: 7, Title: "Custom", Points: []string{"Only step"}}}
	fs.push(t, store.PathSOPSteps, remote)

	assert.Zero(t, fs.setCount(store.PathSOPSteps))
	assert.Equal(t, remote, c.SOPSteps())
}

func TestControllerCommitIsOptimistic(t *testing.T) {
	fs := newFakeStore()
	c := startController(t, fs, KeepOnFailure)
	fs.push(t, store.PathCompanies, []store.Company{})

	next := []store.Company{{ID: "c1", Name: "Acme", Address: "1 Main", Images: []string{}}}
	fs.setFn = func(string) error {
		assert.True(t, c.Syncing())
		assert.Equal(t, PhaseWriting, c.Phase(store.PathCompanies))
		assert.Equal(t, next, c.Companies())
		return nil
	}

	require.NoError(t, c.CommitCompanies(context.Background(), next))
	assert.False(t, c.Syncing())
	assert.Equal(t, PhaseSynced, c.Phase(store.PathCompanies))
	assert.Equal(t, next, c.Companies())
}

func TestControllerCommitFailureKeepsMirror(t *testing.T) {
	fs := newFakeStore()
	c := startController(t, fs, KeepOnFailure)
	fs.push(t, store.PathCompanies, []store.Company{})

	cause := errors.New("connection refused")
	fs.setFn = func(string) error { return cause }

	next := []store.Company{{ID: "c1", Name: "Acme", Address: "1 Main", Images: []string{}}}
	err := c.CommitCompanies(context.Background(), next)

	var syncErr *SyncError
	require.ErrorAs(t, err, &syncErr)
	assert.Equal(t, store.PathCompanies, syncErr.Path)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "Failed to save to cloud. Check your connection.", err.Error())
	assert.False(t, c.Syncing())
	assert.Equal(t, next, c.Companies())
}

func TestControllerCommitFailureRollsBack(t *testing.T) {
	fs := newFakeStore()
	c := startController(t, fs, RollbackOnFailure)
	before := []store.Company{{ID: "c0", Name: "Old", Address: "2 Side", Images: []string{}}}
	fs.push(t, store.PathCompanies, before)

	fs.setFn = func(string) error { return errors.New("timeout") }
	err := c.CommitCompanies(context.Background(), nil)

	require.Error(t, err)
	assert.Equal(t, before, c.Companies())
}

func TestControllerRollbackSkippedAfterNewerSnapshot(t *testing.T) {
	fs := newFakeStore()
	c := startController(t, fs, RollbackOnFailure)
	fs.push(t, store.PathCompanies, []store.Company{})

	newer := []store.Company{{ID: "c9", Name: "Remote", Address: "9 Far", Images: []string{}}}
	fs.setFn = func(string) error {
		fs.push(t, store.PathCompanies, newer)
		return errors.New("timeout")
	}

	err := c.CommitCompanies(context.Background(), []store.Company{{ID: "c1", Name: "Mine", Address: "1 Main"}})
	require.Error(t, err)
	assert.Equal(t, newer, c.Companies())
}

func TestControllerWatchReceivesEvents(t *testing.T) {
	fs := newFakeStore()
	c := startController(t, fs, KeepOnFailure)

	var mu sync.Mutex
	var events []Event
	cancel := c.Watch(func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	fs.push(t, store.PathCompanies, []store.Company{{ID: "c1", Name: "Acme", Address: "1 Main"}})
	require.NoError(t, c.CommitSOPSteps(context.Background(), template))

	mu.Lock()
	require.Len(t, events, 3)
	assert.Equal(t, store.PathCompanies, events[0].Path)
	assert.Len(t, events[0].Companies, 1)
	assert.Equal(t, store.PathSOPSteps, events[1].Path)
	assert.True(t, events[1].Status.Syncing)
	assert.False(t, events[2].Status.Syncing)
	mu.Unlock()

	cancel()
	fs.push(t, store.PathCompanies, []store.Company{})
	mu.Lock()
	assert.Len(t, events, 3)
	mu.Unlock()
}

func TestControllerEventSequencePerPath(t *testing.T) {
	fs := newFakeStore()
	c := startController(t, fs, KeepOnFailure)

	var mu sync.Mutex
	seqs := map[string][]uint64{}
	c.Watch(func(ev Event) {
		mu.Lock()
		seqs[ev.Path] = append(seqs[ev.Path], ev.Seq)
		mu.Unlock()
	})

	fs.push(t, store.PathCompanies, []store.Company{})
	require.NoError(t, c.CommitCompanies(context.Background(), []store.Company{{ID: "c1", Name: "A", Address: "B"}}))
	require.NoError(t, c.CommitCompanies(context.Background(), []store.Company{}))

	mu.Lock()
	got := seqs[store.PathCompanies]
	mu.Unlock()
	require.Len(t, got, 5)
	for i := 1; i < len(got); i++ {
		assert.Greater(t, got[i], got[i-1])
	}
	assert.Empty(t, seqs[store.PathSOPSteps])

	events := c.Events()
	require.Len(t, events, 2)
	assert.Equal(t, got[len(got)-1], events[0].Seq)
	assert.Equal(t, got[len(got)-1], c.Events()[0].Seq, "reading does not advance the sequence")
}

func TestControllerStartUnwindsOnSubscribeError(t *testing.T) {
	fs := newFakeStore()
	fs.subscribeErr[store.PathSOPSteps] = errors.New("denied")

	c := New(fs, template, KeepOnFailure, nil)
	err := c.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, fs.unsubscribed[store.PathCompanies])
}

func TestControllerStartTwice(t *testing.T) {
	fs := newFakeStore()
	c := startController(t, fs, KeepOnFailure)
	assert.ErrorIs(t, c.Start(context.Background()), ErrAlreadyStarted)
}

func TestControllerCloseIsIdempotent(t *testing.T) {
	fs := newFakeStore()
	c := New(fs, template, KeepOnFailure, nil)
	require.NoError(t, c.Start(context.Background()))

	c.Close()
	c.Close()
	assert.Equal(t, 1, fs.unsubscribed[store.PathCompanies])
	assert.Equal(t, 1, fs.unsubscribed[store.PathSOPSteps])
}

func TestParseFailurePolicy(t *testing.T) {
	policy, err := ParseFailurePolicy("")
	require.NoError(t, err)
	assert.Equal(t, KeepOnFailure, policy)

	policy, err = ParseFailurePolicy(" Rollback ")
	require.NoError(t, err)
	assert.Equal(t, RollbackOnFailure, policy)

	_, err = ParseFailurePolicy("retry")
	assert.Error(t, err)
}

func TestControllerSeedRoundTripThroughRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rs, err := store.NewRedisStore("redis://"+mr.Addr(), "test:", 2*time.Second, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rs.Close() })

	c := New(rs, template, KeepOnFailure, zap.NewNop())
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(c.Close)

	require.Eventually(t, func() bool {
		return !c.Loading() && !c.Syncing() && len(c.SOPSteps()) == len(template)
	}, 2*time.Second, 10*time.Millisecond)

	snap, err := rs.Get(context.Background(), store.PathSOPSteps)
	require.NoError(t, err)
	var stored []store.SOPStep
	require.NoError(t, snap.Decode(&stored))
	assert.Equal(t, template, stored)
	assert.Equal(t, template, c.SOPSteps())

	companies := []store.Company{{ID: "c1", Name: "Acme", Address: "1 Main", Images: []string{}}}
	require.NoError(t, c.CommitCompanies(context.Background(), companies))
	require.Eventually(t, func() bool {
		return c.Phase(store.PathCompanies) == PhaseSynced && len(c.Companies()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}
