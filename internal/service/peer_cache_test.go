package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/weiawesome/alumni-chat/internal/cache"
	"github.com/weiawesome/alumni-chat/internal/config"
	"github.com/weiawesome/alumni-chat/internal/domain"
	"github.com/weiawesome/alumni-chat/internal/repository"
)

// memoryPeerCache mirrors the generation rules of RedisPeerCache.
type memoryPeerCache struct {
	mu    sync.Mutex
	peers map[string][]domain.Peer
	gens  map[string]int64
}

func newMemoryPeerCache() *memoryPeerCache {
	return &memoryPeerCache{peers: map[string][]domain.Peer{}, gens: map[string]int64{}}
}

func (c *memoryPeerCache) GetPeers(_ context.Context, userID string) ([]domain.Peer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	peers, ok := c.peers[userID]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return peers, nil
}

func (c *memoryPeerCache) Generation(_ context.Context, userID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[userID], nil
}

func (c *memoryPeerCache) SetPeers(_ context.Context, userID string, peers []domain.Peer, gen int64, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[userID] != gen {
		return nil
	}
	c.peers[userID] = peers
	return nil
}

func (c *memoryPeerCache) Invalidate(_ context.Context, userIDs ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range userIDs {
		c.gens[id]++
		delete(c.peers, id)
	}
	return nil
}

func (c *memoryPeerCache) Close() error { return nil }

// slowListRepo runs afterList once, between the store read of ListPeers and
// its return, to place a graph change inside a cache fill.
type slowListRepo struct {
	repository.ConnectionRepository
	afterList func()
}

func (r *slowListRepo) ListPeers(ctx context.Context, userID string) ([]domain.Peer, error) {
	peers, err := r.ConnectionRepository.ListPeers(ctx, userID)
	if r.afterList != nil {
		hook := r.afterList
		r.afterList = nil
		hook()
	}
	return peers, err
}

func TestUnlinkDuringPeerCacheFill(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	conn := f.connect(t, "alice", "bob")

	peerCache := newMemoryPeerCache()
	repo := &slowListRepo{ConnectionRepository: f.connRepo}
	conns := NewConnectionService(repo, peerCache, f.notifier, time.Minute)
	chat := NewChatService(f.msgs, conns, f.presence, f.typing, f.sender, nil, config.ChatConfig{
		MaxContentLength: 20,
		DefaultPageSize:  2,
		MaxPageSize:      3,
	})

	repo.afterList = func() {
		if err := conns.Unlink(ctx, conn.ID, "bob"); err != nil {
			t.Errorf("Unlink: %v", err)
		}
	}
	if _, err := conns.ListPeers(ctx, "alice"); err != nil {
		t.Fatalf("ListPeers: %v", err)
	}

	if cached, err := peerCache.GetPeers(ctx, "alice"); !errors.Is(err, cache.ErrCacheMiss) {
		t.Fatalf("peer list read before unlink was cached: %+v", cached)
	}
	peers, err := conns.ListPeers(ctx, "alice")
	if err != nil || len(peers) != 0 {
		t.Fatalf("peers after unlink = %+v, %v", peers, err)
	}

	if _, err := chat.SendMessage(ctx, "alice", "bob", "still there?", ""); !errors.Is(err, domain.ErrAuthorization) {
		t.Fatalf("send after unlink: %v", err)
	}
}

func TestSendIgnoresStalePeerCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	conn := f.connect(t, "alice", "bob")

	peerCache := newMemoryPeerCache()
	conns := NewConnectionService(f.connRepo, peerCache, f.notifier, time.Minute)
	chat := NewChatService(f.msgs, conns, f.presence, f.typing, f.sender, nil, config.ChatConfig{
		MaxContentLength: 20,
		DefaultPageSize:  2,
		MaxPageSize:      3,
	})

	if err := conns.Unlink(ctx, conn.ID, "alice"); err != nil {
		t.Fatalf("Unlink: %v", err)
	}
	// A leftover entry, as another instance could write it.
	peerCache.peers["alice"] = []domain.Peer{{UserID: "bob", ConnectionID: conn.ID}}

	if ok, err := conns.IsConnected(ctx, "alice", "bob"); err != nil || ok {
		t.Fatalf("IsConnected = %v, %v", ok, err)
	}
	if _, err := chat.SendMessage(ctx, "alice", "bob", "hello?", ""); !errors.Is(err, domain.ErrAuthorization) {
		t.Fatalf("send with stale cache: %v", err)
	}
	f.presence["bob"] = true
	chat.EmitTyping(ctx, "alice", "bob")
	for _, ev := range f.typing.events {
		if ev == "typing:alice>bob" {
			t.Fatalf("typing forwarded with stale cache: %v", f.typing.events)
		}
	}
}
