// Package store holds the domain records and the document store adapters
// that persist them.
//
// A document store keeps one JSON value per path, replaces it wholesale on
// every write, and pushes the full value to subscribers whenever it changes.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
)

var ErrClosed = errors.New("document store closed")

// Snapshot is the full value of a path at one point in time. A nil Value means
// the path holds nothing.
type Snapshot struct {
	Path  string
	Value json.RawMessage
}

// Exists reports whether the snapshot carries a non-empty value. Empty arrays
// and objects count as absent, matching stores that drop empty nodes.
func (s Snapshot) Exists() bool {
	trimmed := bytes.TrimSpace(s.Value)
	switch string(trimmed) {
	case "", "null", "[]", "{}":
		return false
	}
	return true
}

// Decode unmarshals the snapshot into target. Absent snapshots leave target
// untouched.
func (s Snapshot) Decode(target any) error {
	if !s.Exists() {
		return nil
	}
	return json.Unmarshal(s.Value, target)
}

// Listener receives every snapshot of a subscribed path, starting with the
// value current at subscription time.
type Listener func(Snapshot)

// Unsubscribe stops a subscription. It is safe to call more than once.
type Unsubscribe func()

type DocumentStore interface {
	Subscribe(ctx context.Context, path string, fn Listener) (Unsubscribe, error)
	Set(ctx context.Context, path string, value any) error
	Get(ctx context.Context, path string) (Snapshot, error)
	Ping(ctx context.Context) error
	Close() error
}
