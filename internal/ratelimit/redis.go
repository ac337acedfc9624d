package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript atomically refills and consumes from a Redis hash
// storing {tokens, last_refill_ns} for one provider's bucket. Unlike the
// teacher's sliding-window script (a sorted-set member per request), this
// keeps O(1) state per provider regardless of request volume.
//
// KEYS[1] = bucket key
// ARGV[1] = capacity (burst)
// ARGV[2] = refill rate, tokens per second
// ARGV[3] = now, unix nanoseconds
// Returns: 1 if a token was consumed, 0 if exhausted.
var tokenBucketScript = redis.NewScript(`
		local key      = KEYS[1]
		local capacity = tonumber(ARGV[1])
		local rate     = tonumber(ARGV[2])
		local now      = tonumber(ARGV[3])

		local tokens = tonumber(redis.call('HGET', key, 'tokens'))
		local last   = tonumber(redis.call('HGET', key, 'last_refill_ns'))
		if tokens == nil then
			tokens = capacity
			last = now
		end

		local elapsed = (now - last) / 1e9
		if elapsed > 0 then
			tokens = math.min(capacity, tokens + elapsed * rate)
			last = now
		end

		local allowed = 0
		if tokens >= 1 then
			tokens = tokens - 1
			allowed = 1
		end

		redis.call('HSET', key, 'tokens', tokens, 'last_refill_ns', last)
		redis.call('EXPIRE', key, 3600)
		return allowed
`)

// peekTokenBucketScript reports whether a token is available without
// consuming one.
var peekTokenBucketScript = redis.NewScript(`
		local key      = KEYS[1]
		local capacity = tonumber(ARGV[1])
		local rate     = tonumber(ARGV[2])
		local now      = tonumber(ARGV[3])

		local tokens = tonumber(redis.call('HGET', key, 'tokens'))
		local last   = tonumber(redis.call('HGET', key, 'last_refill_ns'))
		if tokens == nil then
			return 1
		end

		local elapsed = (now - last) / 1e9
		if elapsed > 0 then
			tokens = math.min(capacity, tokens + elapsed * rate)
		end

		if tokens >= 1 then
			return 1
		end
		return 0
`)

type providerQuota struct {
	capacity float64
	rate     float64
}

// RedisBucket is a Redis-backed token bucket, for admission state shared
// across gateway replicas. Falls back to Allowed on Redis errors — the
// teacher's RPMLimiter does the same graceful-degradation on script failure.
type RedisBucket struct {
	rdb    *redis.Client
	quotas map[string]providerQuota
}

// NewRedisBucket wraps an existing Redis client.
func NewRedisBucket(rdb *redis.Client) *RedisBucket {
	return &RedisBucket{rdb: rdb, quotas: make(map[string]providerQuota)}
}

func bucketKey(name string) string {
	return fmt.Sprintf("ratelimit:bucket:%s", name)
}

func (r *RedisBucket) ConfigureProvider(_ context.Context, name string, rpm, burst int) error {
	r.quotas[name] = providerQuota{capacity: float64(burst), rate: float64(rpm) / 60.0}
	return nil
}

func (r *RedisBucket) CheckLimit(ctx context.Context, name string) (Result, error) {
	q, ok := r.quotas[name]
	if !ok {
		return NotConfigured, nil
	}

	res, err := tokenBucketScript.Run(ctx, r.rdb, []string{bucketKey(name)}, q.capacity, q.rate, time.Now().UnixNano()).Int()
	if err != nil {
		return Allowed, nil
	}
	if res == 1 {
		return Allowed, nil
	}
	return Exceeded, nil
}

func (r *RedisBucket) CheckWouldAllow(ctx context.Context, name string) (bool, error) {
	q, ok := r.quotas[name]
	if !ok {
		return false, nil
	}

	res, err := peekTokenBucketScript.Run(ctx, r.rdb, []string{bucketKey(name)}, q.capacity, q.rate, time.Now().UnixNano()).Int()
	if err != nil {
		return true, nil
	}
	return res == 1, nil
}
