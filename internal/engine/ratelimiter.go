package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/webhookd/webhookd/internal/domain"
)

// RateLimiter bounds webhook ingest per source using a Redis sliding window.
// Each source keys a sorted set whose members are request IDs scored by
// timestamp. A Lua script atomically trims the window, checks the count, and
// admits or denies the request.
type RateLimiter struct {
	redisClient *redis.Client
	logger      *slog.Logger
	script      *redis.Script
	limits      map[domain.Source]int
	window      time.Duration
}

// Lua script for atomic sliding window rate limiting.
// 1. Remove entries older than the window
// 2. Count remaining entries
// 3. If under the limit, add a new entry and return 1 (allowed)
// 4. If at/over the limit, return 0 (denied)
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

-- Remove entries outside the sliding window
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

-- Count current entries in the window
local count = redis.call('ZCARD', key)

if count < limit then
    -- Under the limit: add this request and allow
    redis.call('ZADD', key, now, member)
    -- Set TTL so the key auto-expires after the window
    redis.call('EXPIRE', key, window / 1000 + 1)
    return 1
else
    -- At the limit: deny
    return 0
end
`)

// NewRateLimiter creates a per-source ingest limiter. limits maps each source
// to its admitted receipts per second; sources absent from the map (or with a
// non-positive limit) are unlimited.
func NewRateLimiter(redisClient *redis.Client, limits map[domain.Source]int, logger *slog.Logger) *RateLimiter {
	return &RateLimiter{
		redisClient: redisClient,
		logger:      logger,
		script:      slidingWindowScript,
		limits:      limits,
		window:      time.Second,
	}
}

func ingestKey(source domain.Source) string {
	return fmt.Sprintf("ingest:%s", source)
}

// Allow checks whether one more receipt from this source fits the window.
// Returns true if admitted, false if the source is over its limit.
func (rl *RateLimiter) Allow(ctx context.Context, source domain.Source) bool {
	limit := rl.limits[source]
	if limit <= 0 {
		return true // No rate limit configured for this source
	}

	key := ingestKey(source)
	now := time.Now().UnixMilli()
	window := rl.window.Milliseconds()
	member := fmt.Sprintf("%d:%d", now, time.Now().UnixNano()%10000) // unique member

	result, err := rl.script.Run(ctx, rl.redisClient, []string{key},
		now, window, limit, member,
	).Int64()
	if err != nil {
		rl.logger.Error("rate limiter script failed", "error", err, "source", source)
		return true // Fail open — admit the webhook if Redis fails
	}

	if result == 0 {
		rl.logger.Debug("ingest rate limited",
			"source", source,
			"limit", limit,
		)
		return false
	}

	return true
}
