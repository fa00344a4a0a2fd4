package server

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Token bucket kept in a Redis hash so every gateway replica shares it.
var tokenBucket = redis.NewScript(`
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local interval_ms = tonumber(ARGV[3])
local ttl_seconds = tonumber(ARGV[4])

local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])
if tokens == nil or last_refill == nil then
	tokens = capacity
	last_refill = now_ms
end

if interval_ms > 0 then
	local intervals = math.floor(math.max(0, now_ms - last_refill) / interval_ms)
	if intervals > 0 then
		tokens = math.min(capacity, tokens + intervals)
		last_refill = last_refill + intervals * interval_ms
	end
end

local allowed = 0
local retry_after_ms = 0
if tokens > 0 then
	allowed = 1
	tokens = tokens - 1
else
	retry_after_ms = math.max(0, interval_ms - (now_ms - last_refill))
end

redis.call('HSET', key, 'tokens', tokens, 'last_refill_ms', last_refill)
redis.call('EXPIRE', key, ttl_seconds)
return { allowed, tokens, retry_after_ms }
`)

// RateLimiter throttles submissions per caller. A nil client or zero rate
// admits everything.
type RateLimiter struct {
	rdb      redis.Scripter
	capacity int
	interval time.Duration
	now      func() time.Time
}

func NewRateLimiter(rdb redis.Scripter, perSec float64, burst int) *RateLimiter {
	rl := &RateLimiter{rdb: rdb, capacity: burst, now: time.Now}
	if perSec > 0 {
		rl.interval = time.Duration(float64(time.Second) / perSec)
		if rl.interval < time.Millisecond {
			rl.interval = time.Millisecond
		}
	}
	return rl
}

// Allow takes one token for key. On Redis failure the request is admitted
// and the error returned for logging.
func (rl *RateLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	if rl == nil || rl.rdb == nil || rl.interval == 0 || rl.capacity <= 0 {
		return true, 0, nil
	}
	ttl := int64(rl.interval*time.Duration(rl.capacity)/time.Second) + 1
	vals, err := tokenBucket.Run(ctx, rl.rdb, []string{"tm:ratelimit:" + key},
		rl.now().UnixMilli(), rl.capacity, rl.interval.Milliseconds(), ttl).Int64Slice()
	if err != nil {
		return true, 0, err
	}
	if len(vals) != 3 {
		return true, 0, fmt.Errorf("unexpected limiter result %v", vals)
	}
	return vals[0] == 1, time.Duration(vals[2]) * time.Millisecond, nil
}
