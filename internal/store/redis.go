package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStore keeps each path as a JSON string key and announces every write by
// publishing the full value on a per-path channel.
type RedisStore struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
	log     *zap.Logger

	mu     sync.Mutex
	subs   map[int]Unsubscribe
	nextID int
	closed bool
}

// NewRedisStore connects to redisURL and verifies the connection.
func NewRedisStore(redisURL, prefix string, timeout time.Duration, log *zap.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, prefix, timeout, log), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client, prefix string, timeout time.Duration, log *zap.Logger) *RedisStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisStore{
		client:  client,
		prefix:  prefix,
		timeout: timeout,
		log:     log,
		subs:    make(map[int]Unsubscribe),
	}
}

func (s *RedisStore) key(path string) string {
	return s.prefix + "doc:" + path
}

func (s *RedisStore) channel(path string) string {
	return s.prefix + "changes:" + path
}

func (s *RedisStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Set replaces the value at path and notifies subscribers in one transaction.
func (s *RedisStore) Set(ctx context.Context, path string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(path), data, 0)
		pipe.Publish(ctx, s.channel(path), data)
		return nil
	})
	if err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, path string) (Snapshot, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	raw, err := s.client.Get(ctx, s.key(path)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{Path: path}, nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("get %s: %w", path, err)
	}
	return Snapshot{Path: path, Value: json.RawMessage(raw)}, nil
}

// Subscribe delivers the current value of path and then every published
// change, in order, on a dedicated goroutine.
func (s *RedisStore) Subscribe(ctx context.Context, path string, fn Listener) (Unsubscribe, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.mu.Unlock()

	pubsub := s.client.Subscribe(ctx, s.channel(path))
	// Wait for the subscription to be confirmed so no write between here and
	// the initial read is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", path, err)
	}

	initial, err := s.Get(ctx, path)
	if err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	subCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn(initial)
		messages := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				fn(Snapshot{Path: path, Value: json.RawMessage(msg.Payload)})
			}
		}
	}()

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			cancel()
			if err := pubsub.Close(); err != nil {
				s.log.Warn("redis unsubscribe failed", zap.String("path", path), zap.Error(err))
			}
			<-done
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
	s.subs[id] = unsubscribe
	s.mu.Unlock()

	return unsubscribe, nil
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close cancels open subscriptions and closes the Redis connection.
func (s *RedisStore) Close() error {
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
	return s.client.Close()
}
