package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryStore is a process-local document store. Listeners run on the
// goroutine that wrote the change, after the store lock is released.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]json.RawMessage
	subs   map[int]memorySub
	nextID int
	closed bool
}

type memorySub struct {
	path string
	fn   Listener
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string]json.RawMessage),
		subs:   make(map[int]memorySub),
	}
}

func (s *MemoryStore) Set(_ context.Context, path string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.values[path] = data
	listeners := s.listenersLocked(path)
	s.mu.Unlock()

	snap := Snapshot{Path: path, Value: data}
	for _, fn := range listeners {
		fn(snap)
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, path string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Snapshot{}, ErrClosed
	}
	return Snapshot{Path: path, Value: s.values[path]}, nil
}

// Subscribe delivers the current value before returning.
func (s *MemoryStore) Subscribe(_ context.Context, path string, fn Listener) (Unsubscribe, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	id := s.nextID
	s.nextID++
	s.subs[id] = memorySub{path: path, fn: fn}
	current := s.values[path]
	s.mu.Unlock()

	fn(Snapshot{Path: path, Value: current})

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}, nil
}

func (s *MemoryStore) listenersLocked(path string) []Listener {
	var out []Listener
	for _, sub := range s.subs {
		if sub.path == path {
			out = append(out, sub.fn)
		}
	}
	return out
}

func (s *MemoryStore) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.subs = make(map[int]memorySub)
	return nil
}
