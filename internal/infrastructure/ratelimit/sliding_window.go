// Package ratelimit provides distributed rate limiting backed by Redis.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/turtacn/credcore/pkg/constants"
	"github.com/turtacn/credcore/pkg/errors"
	"github.com/turtacn/credcore/pkg/logger"
)

// Result is the outcome of a rate limit check.
type Result struct {
	// Allowed indicates whether the request fits in the window
	Allowed bool
	// Count is the number of requests in the window, including this one
	// when allowed
	Count int64
	// Limit is the configured window capacity
	Limit int64
	// Remaining is the number of requests left in the window
	Remaining int64
	// ResetAt is when the oldest request leaves the window
	ResetAt time.Time
}

// Lua script for the sliding window check. Pruning, counting, and the
// conditional insert run as one atomic unit on the server, so two concurrent
// callers can never both pass on the last slot.
const slidingWindowScript = `
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, 0, now_ms - window_ms)

local count = redis.call('ZCARD', key)
local allowed = 0
if count < limit then
    redis.call('ZADD', key, now_ms, member)
    count = count + 1
    allowed = 1
end

redis.call('PEXPIRE', key, window_ms)

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local reset_ms = now_ms + window_ms
if oldest[2] then
    reset_ms = tonumber(oldest[2]) + window_ms
end

return {allowed, count, reset_ms}
`

// SlidingWindowLimiter enforces at most limit requests per identifier per
// window, measured over a true sliding window of individual request
// timestamps rather than fixed buckets.
type SlidingWindowLimiter struct {
	client *redis.Client
	script *redis.Script
	log    logger.Logger

	limit  int64
	window time.Duration

	// now is injectable so window expiry can be tested without sleeping.
	now func() time.Time
}

// NewSlidingWindowLimiter builds a limiter with the given capacity.
func NewSlidingWindowLimiter(client *redis.Client, limit int, window time.Duration, log logger.Logger) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		client: client,
		script: redis.NewScript(slidingWindowScript),
		log:    log.WithComponent("rate_limiter"),
		limit:  int64(limit),
		window: window,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Allow records a request attempt for the identifier within the category and
// reports whether it fits in the window. Denied attempts are not recorded.
func (l *SlidingWindowLimiter) Allow(ctx context.Context, category, identifier string) (*Result, error) {
	key := fmt.Sprintf("%s:%s:%s:%s", constants.CacheKeyPrefix, constants.CategoryRateLimit, category, identifier)
	now := l.now()

	// A unique member per attempt: two requests in the same millisecond must
	// still count twice.
	member := fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString())

	res, err := l.script.Run(ctx, l.client,
		[]string{key},
		now.UnixMilli(),
		l.window.Milliseconds(),
		l.limit,
		member,
	).Int64Slice()
	if err != nil {
		return nil, errors.ErrCache(err)
	}
	if len(res) != 3 {
		return nil, errors.Newf(errors.KindInternal, "unexpected rate limit script result length %d", len(res))
	}

	result := &Result{
		Allowed: res[0] == 1,
		Count:   res[1],
		Limit:   l.limit,
		ResetAt: time.UnixMilli(res[2]).UTC(),
	}
	if result.Remaining = l.limit - result.Count; result.Remaining < 0 {
		result.Remaining = 0
	}

	if !result.Allowed {
		l.log.Warn(ctx, "rate limit exceeded",
			logger.String("category", category),
			logger.String("identifier", identifier),
			logger.Int64("count", result.Count),
			logger.Int64("limit", result.Limit),
		)
	}
	return result, nil
}

// Reset clears the window for an identifier, typically from admin tooling.
func (l *SlidingWindowLimiter) Reset(ctx context.Context, category, identifier string) error {
	key := fmt.Sprintf("%s:%s:%s:%s", constants.CacheKeyPrefix, constants.CategoryRateLimit, category, identifier)
	if err := l.client.Del(ctx, key).Err(); err != nil {
		return errors.ErrCache(err)
	}
	return nil
}
