// Package inflight marks a (creator, week) run as in progress so that a
// second run for the same week can abort early.
package inflight

import (
	"context"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultTTL = 10 * time.Minute

// Guard claims the idempotency key of a run. Acquire reports false when
// another holder owns the key. Release only removes a key held by token.
type Guard interface {
	Acquire(ctx context.Context, creatorID string, weekStart time.Time, token string) (bool, error)
	Release(ctx context.Context, creatorID string, weekStart time.Time, token string) error
}

// Key is the idempotency key of a creator week.
func Key(prefix, creatorID string, weekStart time.Time) string {
	return fmt.Sprintf("%s:%s:%s", prefix, creatorID, weekStart.Format(time.DateOnly))
}

// RedisGuard shares the key across processes with SET NX PX.
type RedisGuard struct {
	client goredis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisGuard(client goredis.UniversalClient, prefix string, ttl time.Duration, logger *zap.Logger) *RedisGuard {
	if prefix == "" {
		prefix = "sendplan:inflight"
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisGuard{client: client, prefix: prefix, ttl: ttl, logger: logger}
}

func (g *RedisGuard) Acquire(ctx context.Context, creatorID string, weekStart time.Time, token string) (bool, error) {
	key := Key(g.prefix, creatorID, weekStart)
	ok, err := g.client.SetNX(ctx, key, token, g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire %s: %w", key, err)
	}
	if !ok {
		holder, _ := g.client.Get(ctx, key).Result()
		g.logger.Info("Run already in flight",
			zap.String("key", key),
			zap.String("holder", holder))
	}
	return ok, nil
}

var releaseScript = goredis.NewScript(`
if redis.call('get', KEYS[1]) == ARGV[1] then
  return redis.call('del', KEYS[1])
else
  return 0
end
`)

func (g *RedisGuard) Release(ctx context.Context, creatorID string, weekStart time.Time, token string) error {
	key := Key(g.prefix, creatorID, weekStart)
	if err := releaseScript.Run(ctx, g.client, []string{key}, token).Err(); err != nil {
		return fmt.Errorf("failed to release %s: %w", key, err)
	}
	return nil
}

// MemoryGuard is the single-process guard.
type MemoryGuard struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	held map[string]lease
}

type lease struct {
	token   string
	expires time.Time
}

func NewMemoryGuard(ttl time.Duration) *MemoryGuard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryGuard{ttl: ttl, now: time.Now, held: map[string]lease{}}
}

func (g *MemoryGuard) Acquire(_ context.Context, creatorID string, weekStart time.Time, token string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := Key("", creatorID, weekStart)
	now := g.now()
	if l, ok := g.held[key]; ok && now.Before(l.expires) {
		return false, nil
	}
	g.held[key] = lease{token: token, expires: now.Add(g.ttl)}
	return true, nil
}

func (g *MemoryGuard) Release(_ context.Context, creatorID string, weekStart time.Time, token string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := Key("", creatorID, weekStart)
	if l, ok := g.held[key]; ok && l.token == token {
		delete(g.held, key)
	}
	return nil
}
