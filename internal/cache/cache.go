package cache

import (
	"context"
	"errors"
	"time"

	"github.com/weiawesome/alumni-chat/internal/domain"
)

var ErrCacheMiss = errors.New("cache miss")

// PeerCache caches each identity's accepted peers. Entries are dropped on
// every graph transition that touches the identity.
//
// Each identity carries a generation that Invalidate bumps. A reader takes
// Generation before loading from the store and passes it to SetPeers, which
// writes only while the generation is unchanged, so a list read before an
// invalidation is never stored after it.
type PeerCache interface {
	GetPeers(ctx context.Context, userID string) ([]domain.Peer, error)
	Generation(ctx context.Context, userID string) (int64, error)
	SetPeers(ctx context.Context, userID string, peers []domain.Peer, gen int64, ttl time.Duration) error
	Invalidate(ctx context.Context, userIDs ...string) error
	Close() error
}

// NoopPeerCache always misses.
type NoopPeerCache struct{}

func (NoopPeerCache) GetPeers(context.Context, string) ([]domain.Peer, error) {
	return nil, ErrCacheMiss
}

func (NoopPeerCache) Generation(context.Context, string) (int64, error) { return 0, nil }

func (NoopPeerCache) SetPeers(context.Context, string, []domain.Peer, int64, time.Duration) error {
	return nil
}

func (NoopPeerCache) Invalidate(context.Context, ...string) error { return nil }

func (NoopPeerCache) Close() error { return nil }

var _ PeerCache = NoopPeerCache{}
