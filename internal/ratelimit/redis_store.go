package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript trims, counts and conditionally records in one round trip.
// Scores are epoch milliseconds.
var slidingWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local now_ms = tonumber(ARGV[1])
	local window_ms = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])
	local member = ARGV[4]

	redis.call('ZREMRANGEBYSCORE', key, '-inf', now_ms - window_ms)

	local count = redis.call('ZCARD', key)
	local allowed = 0
	if count < limit then
		redis.call('ZADD', key, now_ms, member)
		count = count + 1
		allowed = 1
	end
	redis.call('PEXPIRE', key, window_ms)

	local reset_ms = now_ms + window_ms
	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	if #oldest == 2 then
		reset_ms = tonumber(oldest[2]) + window_ms
	end

	return { allowed, limit - count, reset_ms }
`)

// RedisStore keeps one sorted set of request timestamps per client key.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore constructs a store using the provided Redis client and key prefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) Hit(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Result, error) {
	if limit <= 0 || window <= 0 {
		return Result{}, fmt.Errorf("ratelimit: invalid window %d/%s", limit, window)
	}

	nowMs := now.UnixMilli()
	member := strconv.FormatInt(nowMs, 10) + "-" + uuid.NewString()

	vals, err := slidingWindowScript.Run(ctx, r.client, []string{r.key(key)},
		nowMs, window.Milliseconds(), limit, member).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("ratelimit: redis script: %w", err)
	}
	if len(vals) != 3 {
		return Result{}, fmt.Errorf("ratelimit: unexpected script result %v", vals)
	}

	remaining := int(vals[1])
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   vals[0] == 1,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   time.UnixMilli(vals[2]),
	}, nil
}

func (r *RedisStore) key(identifier string) string {
	if r.prefix == "" {
		return identifier
	}
	return fmt.Sprintf("%s:%s", r.prefix, identifier)
}

var _ Store = (*RedisStore)(nil)
