// Package ratelimit provides a Redis sliding-window limiter.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript trims entries older than the window, then admits the
// request if the window has room. A rejected call returns the negative
// number of milliseconds until the oldest entry expires.
var slidingWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window_start = tonumber(ARGV[2])
	local max_requests = tonumber(ARGV[3])
	local window_ms = tonumber(ARGV[4])
	local member = ARGV[5]

	redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)

	local count = redis.call('ZCARD', key)
	if count < max_requests then
		redis.call('ZADD', key, now, member)
		redis.call('PEXPIRE', key, window_ms * 2)
		return 1
	end

	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	if #oldest > 0 then
		return -(oldest[2] + window_ms - now)
	end
	return 0
`)

// SlidingWindowLimiter admits at most limit requests per key within window.
type SlidingWindowLimiter struct {
	redis  redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
	now    func() time.Time
}

func NewSlidingWindowLimiter(client redis.UniversalClient, prefix string, limit int, window time.Duration) *SlidingWindowLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &SlidingWindowLimiter{
		redis:  client,
		prefix: prefix,
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// Allow records the request and reports whether it fits in the window. When
// it does not, the returned duration is how long until a slot frees up.
// Redis failures admit the request.
func (l *SlidingWindowLimiter) Allow(ctx context.Context, key string) (bool, time.Duration) {
	if l.redis == nil || l.limit <= 0 {
		return true, 0
	}

	now := l.now()
	member := fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString())

	result, err := slidingWindowScript.Run(ctx, l.redis, []string{l.Key(key)},
		now.UnixMilli(),
		now.Add(-l.window).UnixMilli(),
		l.limit,
		l.window.Milliseconds(),
		member,
	).Int64()
	if err != nil {
		return true, 0
	}
	return interpret(result, l.window)
}

func (l *SlidingWindowLimiter) Key(key string) string {
	if l.prefix == "" {
		return "ratelimit:" + key
	}
	return l.prefix + ":ratelimit:" + key
}

func (l *SlidingWindowLimiter) Limit() int { return l.limit }

func interpret(result int64, window time.Duration) (bool, time.Duration) {
	switch {
	case result == 1:
		return true, 0
	case result < 0:
		return false, time.Duration(-result) * time.Millisecond
	default:
		return false, window
	}
}
