package dialer

import (
	"context"
	"time"

	"dialer-platform/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// RedisLineGuard enforces the per-session parallel line cap across API
// instances with an atomic Redis counter. The local LinePool already bounds
// one process; the guard makes the bound hold when a session's webhooks and
// dispatches land on different replicas.
type RedisLineGuard struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisLineGuard wraps rdb. ttl bounds how long a crashed process can
// hold slots; it should comfortably exceed the longest expected call.
func NewRedisLineGuard(rdb *redis.Client, ttl time.Duration) *RedisLineGuard {
	if ttl <= 0 {
		ttl = 4 * time.Hour
	}
	return &RedisLineGuard{rdb: rdb, ttl: ttl}
}

func (g *RedisLineGuard) key(sessionID string) string {
	return "dialer:lines:" + sessionID
}

func (g *RedisLineGuard) Acquire(ctx context.Context, sessionID string, limit int) (bool, error) {
	return utils.AcquireLineSlot(ctx, g.rdb, g.key(sessionID), limit, g.ttl)
}

func (g *RedisLineGuard) Release(ctx context.Context, sessionID string) error {
	return utils.ReleaseLineSlot(ctx, g.rdb, g.key(sessionID))
}
