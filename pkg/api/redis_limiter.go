package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisTokenBucketScript runs the token bucket atomically in Redis, so the
// ingest throttle holds across multiple nodes.
// KEYS[1] = bucket key, ARGV = rate, capacity, cost, now.
var redisTokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = tokens + elapsed * rate
    if tokens > capacity then
        tokens = capacity
    end
    last_refill = now
end

local allowed = 0
if tokens >= cost then
    tokens = tokens - cost
    allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, 60)

return allowed
`)

// RedisIngestLimiter throttles location ingest per actor across nodes.
type RedisIngestLimiter struct {
	client *redis.Client
	rps    float64
	burst  int
}

func NewRedisIngestLimiter(addr, password string, db, rpm, burst int) *RedisIngestLimiter {
	return &RedisIngestLimiter{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}),
		rps:    float64(rpm) / 60.0,
		burst:  burst,
	}
}

// Allow consumes one token for actorKey.
func (l *RedisIngestLimiter) Allow(ctx context.Context, actorKey string) (bool, error) {
	key := fmt.Sprintf("geolink:ingest:%s", actorKey)
	now := float64(time.Now().UnixMicro()) / 1e6

	res, err := redisTokenBucketScript.Run(ctx, l.client, []string{key}, l.rps, l.burst, 1, now).Result()
	if err != nil {
		return false, fmt.Errorf("redis limiter: %w", err)
	}
	allowed, ok := res.(int64)
	if !ok {
		return false, fmt.Errorf("redis limiter: unexpected script result %T", res)
	}
	return allowed == 1, nil
}

// Middleware applies the distributed throttle keyed by client IP; handlers
// behind auth re-key by actor where needed.
func (l *RedisIngestLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, err := l.Allow(r.Context(), r.RemoteAddr)
		if err != nil {
			// Redis being down must not take ingest down with it.
			next.ServeHTTP(w, r)
			return
		}
		if !ok {
			WriteTooManyRequests(w, 5)
			return
		}
		next.ServeHTTP(w, r)
	})
}
