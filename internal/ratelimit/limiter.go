package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// LimitResult is the outcome of a rate limit check.
type LimitResult struct {
	Allowed    bool
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Limiter is a sliding-window request limiter over Redis sorted sets.
// A nil client admits everything.
type Limiter struct {
	rdb *redis.Client
}

func NewLimiter(rdb *redis.Client) *Limiter {
	return &Limiter{rdb: rdb}
}

// KEYS[1] sorted set; ARGV window_start, now, limit, ttl (micros, seconds).
// Returns {count, allowed, oldest_score}.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local window_start = tonumber(ARGV[1])
local now = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)
local count = redis.call('ZCARD', key)
local allowed = 0

if count < limit then
    redis.call('ZADD', key, now, now .. ':' .. math.random(1000000))
    count = count + 1
    allowed = 1
end
redis.call('EXPIRE', key, ttl)

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local oldest_score = now
if oldest[2] then
    oldest_score = tonumber(oldest[2])
end
return {count, allowed, oldest_score}
`)

func redisLimitKey(key string) string { return "clinai:rl:" + key }

// Check admits one request for key if fewer than limit were admitted during
// the trailing window. Redis failures admit the request.
func (l *Limiter) Check(ctx context.Context, key string, limit int64, window time.Duration) (LimitResult, error) {
	now := time.Now()
	if l.rdb == nil {
		return LimitResult{Allowed: true, Remaining: limit - 1, ResetAt: now.Add(window)}, nil
	}

	result, err := slidingWindowScript.Run(ctx, l.rdb, []string{redisLimitKey(key)},
		now.Add(-window).UnixMicro(), now.UnixMicro(), limit, int64(window.Seconds())+1,
	).Int64Slice()
	if err != nil || len(result) != 3 {
		slog.WarnContext(ctx, "rate limit check failed, admitting request", "key", key, "error", err)
		return LimitResult{Allowed: true, Remaining: limit, ResetAt: now.Add(window)}, nil
	}

	return windowResult(now, limit, window, result[0], result[1] == 1, time.UnixMicro(result[2])), nil
}

// windowResult derives the client-facing outcome from the script reply. The
// window frees a slot once its oldest entry ages out.
func windowResult(now time.Time, limit int64, window time.Duration, count int64, allowed bool, oldest time.Time) LimitResult {
	res := LimitResult{
		Allowed:   allowed,
		Remaining: max(limit-count, 0),
		ResetAt:   oldest.Add(window),
	}
	if !allowed {
		res.RetryAfter = max(res.ResetAt.Sub(now), time.Second)
	}
	return res
}
