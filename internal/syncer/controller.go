// Package syncer mirrors the remote company and SOP collections in memory and
// funnels every write through a single full-collection commit.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"logistics/api/internal/store"
)

// Phase is the sync state of one collection.
type Phase string

const (
	PhaseLoading Phase = "loading"
	PhaseSynced  Phase = "synced"
	PhaseWriting Phase = "writing"
)

var ErrAlreadyStarted = errors.New("controller already started")

// Status is the read-only summary shown by the shell indicators.
type Status struct {
	Loading bool             `json:"loading"`
	Syncing bool             `json:"syncing"`
	Phases  map[string]Phase `json:"phases"`
}

// Event describes a mirror change. Only the collection named by Path is set.
// Seq grows with every event of a path; watchers run outside the controller
// lock, so a consumer keeps the event with the highest Seq.
type Event struct {
	Path      string          `json:"path"`
	Seq       uint64          `json:"seq"`
	Companies []store.Company `json:"companies"`
	SOPSteps  []store.SOPStep `json:"sopSteps"`
	Status    Status          `json:"status"`
}

type collection struct {
	received bool
	inflight int
	// version changes on every mirror replacement; rollback only applies when
	// nothing replaced the mirror after the failed commit started.
	version uint64
	seq     uint64
}

func (c *collection) phase() Phase {
	switch {
	case c.inflight > 0:
		return PhaseWriting
	case !c.received:
		return PhaseLoading
	default:
		return PhaseSynced
	}
}

type Controller struct {
	store    store.DocumentStore
	template []store.SOPStep
	policy   FailurePolicy
	log      *zap.Logger

	mu          sync.Mutex
	companies   []store.Company
	steps       []store.SOPStep
	state       map[string]*collection
	seeded      bool
	started     bool
	unsubs      []store.Unsubscribe
	watchers    map[int]func(Event)
	nextWatcher int
}

// New creates a controller. template seeds the SOP collection when the store
// has none.
func New(ds store.DocumentStore, template []store.SOPStep, policy FailurePolicy, log *zap.Logger) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{
		store:     ds,
		template:  store.CloneSOPSteps(template),
		policy:    policy,
		log:       log,
		companies: []store.Company{},
		steps:     []store.SOPStep{},
		state: map[string]*collection{
			store.PathCompanies: {},
			store.PathSOPSteps:  {},
		},
		watchers: make(map[int]func(Event)),
	}
}

// Start subscribes both collections. Snapshots arrive asynchronously.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.mu.Unlock()

	unsubCompanies, err := c.store.Subscribe(ctx, store.PathCompanies, c.onCompanies)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", store.PathCompanies, err)
	}
	unsubSteps, err := c.store.Subscribe(ctx, store.PathSOPSteps, c.onSOPSteps)
	if err != nil {
		unsubCompanies()
		return fmt.Errorf("subscribe %s: %w", store.PathSOPSteps, err)
	}

	c.mu.Lock()
	c.unsubs = append(c.unsubs, unsubCompanies, unsubSteps)
	c.mu.Unlock()
	c.log.Info("sync controller started")
	return nil
}

// Close cancels both subscriptions. It is safe to call more than once.
func (c *Controller) Close() {
	c.mu.Lock()
	unsubs := c.unsubs
	c.unsubs = nil
	c.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
}

func (c *Controller) onCompanies(snap store.Snapshot) {
	var companies []store.Company
	if err := snap.Decode(&companies); err != nil {
		c.log.Error("decode companies snapshot", zap.Error(err))
		return
	}

	c.mu.Lock()
	c.companies = store.CloneCompanies(companies)
	st := c.state[store.PathCompanies]
	st.received = true
	st.version++
	ev, watchers := c.eventLocked(store.PathCompanies), c.watcherList()
	c.mu.Unlock()

	c.notify(watchers, ev)
}

func (c *Controller) onSOPSteps(snap store.Snapshot) {
	var steps []store.SOPStep
	if err := snap.Decode(&steps); err != nil {
		c.log.Error("decode sop snapshot", zap.Error(err))
		return
	}

	c.mu.Lock()
	st := c.state[store.PathSOPSteps]
	st.received = true
	seed := len(steps) == 0 && !c.seeded
	if len(steps) == 0 {
		c.seeded = true
	}
	if !seed {
		c.steps = store.CloneSOPSteps(steps)
		st.version++
	}
	ev, watchers := c.eventLocked(store.PathSOPSteps), c.watcherList()
	c.mu.Unlock()

	if seed {
		c.log.Info("sop collection empty, seeding template", zap.Int("steps", len(c.template)))
		if err := c.CommitSOPSteps(context.Background(), c.template); err != nil {
			c.log.Error("seed sop template", zap.Error(err))
		}
		return
	}
	c.notify(watchers, ev)
}

// CommitCompanies replaces the whole company collection.
func (c *Controller) CommitCompanies(ctx context.Context, companies []store.Company) error {
	value := store.CloneCompanies(companies)
	return c.commit(ctx, store.PathCompanies, value, func() func() {
		prev := c.companies
		c.companies = value
		return func() { c.companies = prev }
	})
}

// CommitSOPSteps replaces the whole SOP collection.
func (c *Controller) CommitSOPSteps(ctx context.Context, steps []store.SOPStep) error {
	value := store.CloneSOPSteps(steps)
	return c.commit(ctx, store.PathSOPSteps, value, func() func() {
		prev := c.steps
		c.steps = value
		return func() { c.steps = prev }
	})
}

// commit applies value to the mirror, then writes it. apply runs under the
// lock and returns the matching restore.
func (c *Controller) commit(ctx context.Context, path string, value any, apply func() (restore func())) error {
	c.mu.Lock()
	st := c.state[path]
	restore := apply()
	st.version++
	version := st.version
	st.inflight++
	ev, watchers := c.eventLocked(path), c.watcherList()
	c.mu.Unlock()
	c.notify(watchers, ev)

	err := c.store.Set(ctx, path, value)

	c.mu.Lock()
	st.inflight--
	rolledBack := false
	if err != nil && c.policy == RollbackOnFailure && st.version == version {
		restore()
		st.version++
		rolledBack = true
	}
	ev, watchers = c.eventLocked(path), c.watcherList()
	c.mu.Unlock()
	c.notify(watchers, ev)

	if err != nil {
		c.log.Error("commit failed",
			zap.String("path", path),
			zap.Bool("rolled_back", rolledBack),
			zap.Error(err),
		)
		return &SyncError{Path: path, Err: err}
	}
	c.log.Debug("commit stored", zap.String("path", path))
	return nil
}

// Companies returns a copy of the mirrored company collection.
func (c *Controller) Companies() []store.Company {
	c.mu.Lock()
	defer c.mu.Unlock()
	return store.CloneCompanies(c.companies)
}

// SOPSteps returns a copy of the mirrored SOP collection.
func (c *Controller) SOPSteps() []store.SOPStep {
	c.mu.Lock()
	defer c.mu.Unlock()
	return store.CloneSOPSteps(c.steps)
}

// Loading is true until the first company snapshot arrives.
func (c *Controller) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.state[store.PathCompanies].received
}

// Syncing is true while any commit is in flight.
func (c *Controller) Syncing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.syncingLocked()
}

func (c *Controller) Phase(path string) Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.state[path]
	if !ok {
		return ""
	}
	return st.phase()
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

// Watch registers fn for every mirror change. fn runs on the goroutine that
// caused the change and must not block.
func (c *Controller) Watch(fn func(Event)) (cancel func()) {
	c.mu.Lock()
	id := c.nextWatcher
	c.nextWatcher++
	c.watchers[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.watchers, id)
			c.mu.Unlock()
		})
	}
}

func (c *Controller) syncingLocked() bool {
	for _, st := range c.state {
		if st.inflight > 0 {
			return true
		}
	}
	return false
}

func (c *Controller) statusLocked() Status {
	phases := make(map[string]Phase, len(c.state))
	for path, st := range c.state {
		phases[path] = st.phase()
	}
	return Status{
		Loading: !c.state[store.PathCompanies].received,
		Syncing: c.syncingLocked(),
		Phases:  phases,
	}
}

// Events returns the current state of both collections without advancing
// their sequence numbers.
func (c *Controller) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return []Event{
		c.snapshotLocked(store.PathCompanies),
		c.snapshotLocked(store.PathSOPSteps),
	}
}

// eventLocked describes a new change of path.
func (c *Controller) eventLocked(path string) Event {
	c.state[path].seq++
	return c.snapshotLocked(path)
}

func (c *Controller) snapshotLocked(path string) Event {
	ev := Event{Path: path, Seq: c.state[path].seq, Status: c.statusLocked()}
	switch path {
	case store.PathCompanies:
		ev.Companies = store.CloneCompanies(c.companies)
	case store.PathSOPSteps:
		ev.SOPSteps = store.CloneSOPSteps(c.steps)
	}
	return ev
}

func (c *Controller) watcherList() []func(Event) {
	if len(c.watchers) == 0 {
		return nil
	}
	out := make([]func(Event), 0, len(c.watchers))
	for _, fn := range c.watchers {
		out = append(out, fn)
	}
	return out
}

func (c *Controller) notify(watchers []func(Event), ev Event) {
	for _, fn := range watchers {
		fn(ev)
	}
}
