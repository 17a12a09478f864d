package store

import (
	"context"
	"sync"
)

// PresenceStore holds the live session count per identity.
// Counts never go below zero.
type PresenceStore interface {
	// Incr adds a session and returns the identity's total afterwards.
	Incr(ctx context.Context, userID string) (int64, error)
	// Decr removes a session and returns the total afterwards. clamped is
	// true when there was no session to remove.
	Decr(ctx context.Context, userID string) (total int64, clamped bool, err error)
	Count(ctx context.Context, userID string) (int64, error)
	// Online returns the subset of userIDs with a positive count.
	Online(ctx context.Context, userIDs []string) ([]string, error)
	Close() error
}

// memoryPresenceStore is a single-instance PresenceStore.
type memoryPresenceStore struct {
	mu     sync.Mutex
	counts map[string]int64
}

// NewMemoryPresenceStore creates an in-process presence store.
func NewMemoryPresenceStore() PresenceStore {
	return &memoryPresenceStore{counts: make(map[string]int64)}
}

func (s *memoryPresenceStore) Incr(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[userID]++
	return s.counts[userID], nil
}

func (s *memoryPresenceStore) Decr(_ context.Context, userID string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.counts[userID]
	if !ok || n <= 0 {
		delete(s.counts, userID)
		return 0, true, nil
	}
	n--
	if n == 0 {
		delete(s.counts, userID)
	} else {
		s.counts[userID] = n
	}
	return n, false, nil
}

func (s *memoryPresenceStore) Count(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[userID], nil
}

func (s *memoryPresenceStore) Online(_ context.Context, userIDs []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		if s.counts[id] > 0 {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *memoryPresenceStore) Close() error { return nil }
