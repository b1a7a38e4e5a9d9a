package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

// NotifyChannel is the Postgres notification channel announcing document
// changes. The payload is the changed path.
const NotifyChannel = "document_changes"

var errListenUnsupported = errors.New("connection does not support LISTEN")

// PostgresStore keeps every path as a JSONB row in the documents table.
type PostgresStore struct {
	db      *sql.DB
	timeout time.Duration
	log     *zap.Logger

	mu     sync.Mutex
	subs   map[int]Unsubscribe
	nextID int
	closed bool
}

func NewPostgresStore(db *sql.DB, timeout time.Duration, log *zap.Logger) *PostgresStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &PostgresStore{
		db:      db,
		timeout: timeout,
		log:     log,
		subs:    make(map[int]Unsubscribe),
	}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Set upserts the value at path and queues a notification that fires when the
// transaction commits.
func (s *PostgresStore) Set(ctx context.Context, path string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin set %s: %w", path, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO documents (path, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (path) DO UPDATE SET value=EXCLUDED.value, updated_at=NOW()
	`, path, string(data)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, path); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("notify %s: %w", path, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit set %s: %w", path, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, path string) (Snapshot, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM documents WHERE path=$1`, path).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{Path: path}, nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("get %s: %w", path, err)
	}
	return Snapshot{Path: path, Value: json.RawMessage(raw)}, nil
}

// Subscribe holds a dedicated connection in LISTEN mode and re-reads path
// whenever a notification names it.
func (s *PostgresStore) Subscribe(ctx context.Context, path string, fn Listener) (Unsubscribe, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.mu.Unlock()

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen conn: %w", err)
	}
	if err := conn.Raw(func(driverConn any) error {
		pc, ok := driverConn.(*stdlib.Conn)
		if !ok {
			return errListenUnsupported
		}
		_, err := pc.Conn().Exec(ctx, "LISTEN "+NotifyChannel)
		return err
	}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("listen %s: %w", path, err)
	}

	initial, err := s.Get(ctx, path)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	subCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn(initial)
		for {
			var payload string
			err := conn.Raw(func(driverConn any) error {
				n, err := driverConn.(*stdlib.Conn).Conn().WaitForNotification(subCtx)
				if err != nil {
					return err
				}
				payload = n.Payload
				return nil
			})
			if subCtx.Err() != nil {
				return
			}
			if err != nil {
				s.log.Error("postgres listen failed", zap.String("path", path), zap.Error(err))
				return
			}
			if payload != path {
				continue
			}
			snap, err := s.Get(subCtx, path)
			if err != nil {
				s.log.Warn("postgres reread failed", zap.String("path", path), zap.Error(err))
				continue
			}
			fn(snap)
		}
	}()

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			cancel()
			<-done
			// A cancelled wait leaves the connection unusable, so it is
			// dropped from the pool rather than returned.
			_ = conn.Raw(func(driverConn any) error { return driver.ErrBadConn })
			_ = conn.Close()
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
	s.subs[id] = unsubscribe
	s.mu.Unlock()

	return unsubscribe, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close cancels open subscriptions and closes the pool.
func (s *PostgresStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	subs := make([]Unsubscribe, 0, len(s.subs))
	for _, unsub := range s.subs {
		subs = append(subs, unsub)
	}
	s.mu.Unlock()

	for _, unsub := range subs {
		unsub()
	}
	return s.db.Close()
}
