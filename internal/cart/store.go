package cart

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Store persists cart lines per session
type Store interface {
	Load(ctx context.Context, session string) ([]Item, error)
	Save(ctx context.Context, session string, items []Item) error
	Delete(ctx context.Context, session string) error
}

// RedisStore keeps each cart as one JSON value under "cart:<session>".
// Every save refreshes the TTL, so idle carts expire.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore connects to redisURL and checks the connection
func NewRedisStore(ctx context.Context, redisURL string, ttl time.Duration) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{rdb: rdb, ttl: ttl}, nil
}

func cartKey(session string) string {
	return "cart:" + session
}

func (s *RedisStore) Load(ctx context.Context, session string) ([]Item, error) {
	val, err := s.rdb.Get(ctx, cartKey(session)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	var items []Item
	if err := json.Unmarshal(val, &items); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cart: %w", err)
	}
	return items, nil
}

func (s *RedisStore) Save(ctx context.Context, session string, items []Item) error {
	if len(items) == 0 {
		return s.Delete(ctx, session)
	}
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to marshal cart: %w", err)
	}
	return s.rdb.Set(ctx, cartKey(session), data, s.ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, session string) error {
	return s.rdb.Del(ctx, cartKey(session)).Err()
}

// Ping reports whether Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

// MemoryStore is a process-local Store. Values are stored as JSON so callers
// never share slices with it.
type MemoryStore struct {
	mu    sync.Mutex
	carts map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{carts: make(map[string][]byte)}
}

func (s *MemoryStore) Load(_ context.Context, session string) ([]Item, error) {
	s.mu.Lock()
	data, ok := s.carts[session]
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}
	var items []Item
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *MemoryStore) Save(_ context.Context, session string, items []Item) error {
	data, err := json.Marshal(items)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.carts[session] = data
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, session string) error {
	s.mu.Lock()
	delete(s.carts, session)
	s.mu.Unlock()
	return nil
}
