package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/weiawesome/alumni-chat/internal/domain"
)

// setIfGeneration stores the peer list only while the generation counter
// still holds the value the caller read before loading from the store.
//
// KEYS[1] = peers key
// KEYS[2] = generation key
// ARGV[1] = expected generation
// ARGV[2] = payload
// ARGV[3] = ttl in milliseconds, 0 for none
var setIfGeneration = redis.NewScript(`
local gen = redis.call('GET', KEYS[2]) or '0'
if gen ~= ARGV[1] then
	return 0
end
if tonumber(ARGV[3]) > 0 then
	redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
else
	redis.call('SET', KEYS[1], ARGV[2])
end
return 1
`)

// RedisPeerCache stores peer lists as JSON strings under {prefix}:{userID}
// and the invalidation generation under {prefix}:gen:{userID}. Both keys of
// one identity share a hash tag so the script stays on one cluster slot.
type RedisPeerCache struct {
	client *redis.Client
	prefix string
}

// NewRedisPeerCache wraps a shared client; Close does not close it.
func NewRedisPeerCache(client *redis.Client, prefix string) *RedisPeerCache {
	if prefix == "" {
		prefix = "chat:peers"
	}
	return &RedisPeerCache{client: client, prefix: prefix}
}

func (c *RedisPeerCache) key(userID string) string {
	return fmt.Sprintf("%s:{%s}", c.prefix, userID)
}

func (c *RedisPeerCache) genKey(userID string) string {
	return fmt.Sprintf("%s:gen:{%s}", c.prefix, userID)
}

func (c *RedisPeerCache) Generation(ctx context.Context, userID string) (int64, error) {
	gen, err := c.client.Get(ctx, c.genKey(userID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get generation from redis: %w", err)
	}
	return gen, nil
}

func (c *RedisPeerCache) GetPeers(ctx context.Context, userID string) ([]domain.Peer, error) {
	data, err := c.client.Get(ctx, c.key(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	var peers []domain.Peer
	if err := json.Unmarshal(data, &peers); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache data: %w", err)
	}
	return peers, nil
}

func (c *RedisPeerCache) SetPeers(ctx context.Context, userID string, peers []domain.Peer, gen int64, ttl time.Duration) error {
	if peers == nil {
		peers = []domain.Peer{}
	}
	data, err := json.Marshal(peers)
	if err != nil {
		return fmt.Errorf("failed to marshal cache data: %w", err)
	}
	keys := []string{c.key(userID), c.genKey(userID)}
	if err := setIfGeneration.Run(ctx, c.client, keys, gen, data, ttl.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("failed to set in redis: %w", err)
	}
	return nil
}

func (c *RedisPeerCache) Invalidate(ctx context.Context, userIDs ...string) error {
	if len(userIDs) == 0 {
		return nil
	}
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range userIDs {
			pipe.Incr(ctx, c.genKey(id))
			pipe.Del(ctx, c.key(id))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to invalidate peers: %w", err)
	}
	return nil
}

func (c *RedisPeerCache) Close() error { return nil }

var _ PeerCache = (*RedisPeerCache)(nil)
