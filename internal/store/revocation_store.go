package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RevocationStore records "all tokens issued before T are revoked" per
// identity. The account service writes these entries; the gateway reads them.
type RevocationStore interface {
	RevokedBefore(ctx context.Context, userID string) (time.Time, bool, error)
	Revoke(ctx context.Context, userID string, before time.Time, ttl time.Duration) error
}

type memoryRevocationStore struct {
	mu      sync.RWMutex
	entries map[string]revocation
}

type revocation struct {
	before  time.Time
	expires time.Time
}

// NewMemoryRevocationStore creates an in-process revocation store.
func NewMemoryRevocationStore() RevocationStore {
	return &memoryRevocationStore{entries: make(map[string]revocation)}
}

func (s *memoryRevocationStore) RevokedBefore(_ context.Context, userID string) (time.Time, bool, error) {
	s.mu.RLock()
	e, ok := s.entries[userID]
	s.mu.RUnlock()
	if !ok {
		return time.Time{}, false, nil
	}
	if !e.expires.IsZero() && time.Now().After(e.expires) {
		s.mu.Lock()
		delete(s.entries, userID)
		s.mu.Unlock()
		return time.Time{}, false, nil
	}
	return e.before, true, nil
}

func (s *memoryRevocationStore) Revoke(_ context.Context, userID string, before time.Time, ttl time.Duration) error {
	e := revocation{before: before}
	if ttl > 0 {
		e.expires = time.Now().Add(ttl)
	}
	s.mu.Lock()
	s.entries[userID] = e
	s.mu.Unlock()
	return nil
}

// RedisRevocationStore reads {prefix}:{user_id} = unix seconds.
type RedisRevocationStore struct {
	client *redis.Client
	prefix string
}

// NewRedisRevocationStore wraps a shared client.
func NewRedisRevocationStore(client *redis.Client, prefix string) *RedisRevocationStore {
	if prefix == "" {
		prefix = "auth:revoked"
	}
	return &RedisRevocationStore{client: client, prefix: prefix}
}

func (s *RedisRevocationStore) key(userID string) string {
	return s.prefix + ":" + userID
}

func (s *RedisRevocationStore) RevokedBefore(ctx context.Context, userID string) (time.Time, bool, error) {
	val, err := s.client.Get(ctx, s.key(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("redis get revocation: %w", err)
	}
	sec, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse revocation: %w", err)
	}
	return time.Unix(sec, 0), true, nil
}

func (s *RedisRevocationStore) Revoke(ctx context.Context, userID string, before time.Time, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(userID), before.Unix(), ttl).Err(); err != nil {
		return fmt.Errorf("redis set revocation: %w", err)
	}
	return nil
}

var (
	_ RevocationStore = (*memoryRevocationStore)(nil)
	_ RevocationStore = (*RedisRevocationStore)(nil)
)
