package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	internalsettings "github.com/campusloop/loyalty/internal/settings"
)

// counterTTLSeconds keeps an expired window's counter around briefly so
// a slightly skewed clock never resurrects it as a fresh window.
const counterTTLSeconds = 2

// incrWindowScript atomically increments a window counter and stamps
// its expiry on first use.
var incrWindowScript = redis.NewScript(`
local hits = redis.call("INCR", KEYS[1])
if hits == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return hits
`)

// RedisLimiter is a fixed-window limiter whose counters live in Redis,
// shared across server instances.
type RedisLimiter struct {
	client *redis.Client
	prefix string
}

// NewRedisLimiter constructs a RedisLimiter.
func NewRedisLimiter(client *redis.Client, prefix string) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: prefix}
}

// Allow counts the request against the key's current window. A limit of
// zero or below means unlimited.
func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, now time.Time) (Result, error) {
	if limit <= 0 || key == "" || l == nil || l.client == nil {
		return Result{Allowed: true}, nil
	}
	windowStart := now.Unix()
	reset := time.Unix(windowStart+1, 0).UTC()

	raw, errRun := incrWindowScript.Run(ctx, l.client,
		[]string{l.windowKey(key, windowStart)}, counterTTLSeconds).Result()
	if errRun != nil {
		return Result{}, fmt.Errorf("ratelimit: incr window: %w", errRun)
	}
	hits, okHits := raw.(int64)
	if !okHits {
		return Result{}, fmt.Errorf("ratelimit: unexpected script reply %T", raw)
	}

	if hits > int64(limit) {
		return Result{Allowed: false, Reset: reset}, nil
	}
	remaining := limit - int(hits)
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: true, Remaining: remaining, Reset: reset}, nil
}

func (l *RedisLimiter) windowKey(key string, windowStart int64) string {
	prefix := l.prefix
	if prefix == "" {
		prefix = internalsettings.DefaultRateLimitRedisPrefix
	}
	return prefix + ":" + key + ":" + strconv.FormatInt(windowStart, 10)
}
