package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	pkglog "github.com/weiawesome/alumni-chat/pkg/log"
)

// Redis key patterns:
// {prefix}:user:{user_id}          HASH<instance_id, count>  - sessions per instance
// {prefix}:instance:{instance_id}  STRING                    - liveness, refreshed by heartbeat
//
// Only instances with a live key contribute to a user's total, so the
// sessions of a crashed instance stop counting once its key expires.
//
// The scripts read instance keys they cannot list in KEYS. The prefix is
// written as a hash tag so every presence key lands in one cluster slot.

// liveTotal sums the counts of live instances and drops dead ones.
const liveTotalLua = `
local function live_total(key, instance_prefix)
  local fields = redis.call("HGETALL", key)
  local total = 0
  for i = 1, #fields, 2 do
    local iid = fields[i]
    local n = tonumber(fields[i + 1]) or 0
    if redis.call("EXISTS", instance_prefix .. iid) == 1 then
      if n > 0 then total = total + n end
    else
      redis.call("HDEL", key, iid)
    end
  end
  return total
end
`

var incrScript = redis.NewScript(liveTotalLua + `
redis.call("HINCRBY", KEYS[1], ARGV[1], 1)
return live_total(KEYS[1], ARGV[2])
`)

// decrScript never takes a count below zero. Returns {total, clamped}.
var decrScript = redis.NewScript(liveTotalLua + `
local cur = tonumber(redis.call("HGET", KEYS[1], ARGV[1]) or "0")
local clamped = 0
if cur > 1 then
  redis.call("HINCRBY", KEYS[1], ARGV[1], -1)
elseif cur == 1 then
  redis.call("HDEL", KEYS[1], ARGV[1])
else
  clamped = 1
end
return {live_total(KEYS[1], ARGV[2]), clamped}
`)

var countScript = redis.NewScript(liveTotalLua + `
return live_total(KEYS[1], ARGV[1])
`)

// RedisPresenceConfig configures the shared presence store.
type RedisPresenceConfig struct {
	KeyPrefix         string
	InstanceID        string
	HeartbeatInterval time.Duration
	InstanceTTL       time.Duration
}

// RedisPresenceStore shares presence counts across gateway instances.
type RedisPresenceStore struct {
	client   *redis.Client
	cfg      RedisPresenceConfig
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// NewRedisPresenceStore wraps a shared client. Call StartHeartbeat before
// accepting sessions.
func NewRedisPresenceStore(client *redis.Client, cfg RedisPresenceConfig) (*RedisPresenceStore, error) {
	if cfg.InstanceID == "" {
		return nil, errors.New("presence: instance id is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "presence"
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 10 * time.Second
	}
	if cfg.InstanceTTL <= cfg.HeartbeatInterval {
		cfg.InstanceTTL = 3 * cfg.HeartbeatInterval
	}
	return &RedisPresenceStore{client: client, cfg: cfg}, nil
}

func (s *RedisPresenceStore) tag() string {
	return "{" + s.cfg.KeyPrefix + "}"
}

func (s *RedisPresenceStore) userKey(userID string) string {
	return fmt.Sprintf("%s:user:%s", s.tag(), userID)
}

func (s *RedisPresenceStore) instancePrefix() string {
	return s.tag() + ":instance:"
}

func (s *RedisPresenceStore) instanceKey() string {
	return s.instancePrefix() + s.cfg.InstanceID
}

// StartHeartbeat marks this instance live and keeps it live until Close.
func (s *RedisPresenceStore) StartHeartbeat(ctx context.Context) error {
	if err := s.beat(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.heartbeatLoop(ctx)

	l := pkglog.L()
	l.Info().
		Str(pkglog.FieldInstanceID, s.cfg.InstanceID).
		Dur("interval", s.cfg.HeartbeatInterval).
		Dur("ttl", s.cfg.InstanceTTL).
		Msg("presence heartbeat started")
	return nil
}

func (s *RedisPresenceStore) heartbeatLoop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.beat(ctx); err != nil && ctx.Err() == nil {
				l := pkglog.L()
				l.Error().Err(err).Str(pkglog.FieldInstanceID, s.cfg.InstanceID).Msg("failed to refresh presence heartbeat")
			}
		}
	}
}

func (s *RedisPresenceStore) beat(ctx context.Context) error {
	if err := s.client.Set(ctx, s.instanceKey(), time.Now().Unix(), s.cfg.InstanceTTL).Err(); err != nil {
		return fmt.Errorf("redis set presence heartbeat: %w", err)
	}
	return nil
}

func (s *RedisPresenceStore) Incr(ctx context.Context, userID string) (int64, error) {
	total, err := incrScript.Run(ctx, s.client,
		[]string{s.userKey(userID)}, s.cfg.InstanceID, s.instancePrefix()).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis presence incr: %w", err)
	}
	return total, nil
}

func (s *RedisPresenceStore) Decr(ctx context.Context, userID string) (int64, bool, error) {
	vals, err := decrScript.Run(ctx, s.client,
		[]string{s.userKey(userID)}, s.cfg.InstanceID, s.instancePrefix()).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("redis presence decr: %w", err)
	}
	if len(vals) != 2 {
		return 0, false, fmt.Errorf("redis presence decr: unexpected reply %v", vals)
	}
	return vals[0], vals[1] == 1, nil
}

func (s *RedisPresenceStore) Count(ctx context.Context, userID string) (int64, error) {
	total, err := countScript.Run(ctx, s.client,
		[]string{s.userKey(userID)}, s.instancePrefix()).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis presence count: %w", err)
	}
	return total, nil
}

func (s *RedisPresenceStore) Online(ctx context.Context, userIDs []string) ([]string, error) {
	if len(userIDs) == 0 {
		return []string{}, nil
	}

	pipe := s.client.Pipeline()
	// EVAL rather than EVALSHA: a pipeline cannot fall back on NOSCRIPT.
	cmds := make([]*redis.Cmd, len(userIDs))
	for i, id := range userIDs {
		cmds[i] = countScript.Eval(ctx, pipe, []string{s.userKey(id)}, s.instancePrefix())
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis presence online: %w", err)
	}

	out := make([]string, 0, len(userIDs))
	for i, cmd := range cmds {
		if n, err := cmd.Int64(); err == nil && n > 0 {
			out = append(out, userIDs[i])
		}
	}
	return out, nil
}

// Close stops the heartbeat and withdraws this instance's liveness key.
// The shared client is left open.
func (s *RedisPresenceStore) Close() error {
	var err error
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
			<-s.done
		}
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		err = s.client.Del(ctx, s.instanceKey()).Err()
	})
	return err
}

var _ PresenceStore = (*RedisPresenceStore)(nil)
