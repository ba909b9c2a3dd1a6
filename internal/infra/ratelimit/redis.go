package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"certnode/internal/domain"
)

const redisKeyPrefix = "certnode:ratelimit:"

// incrWindow increments the counter and starts its window on first use.
var incrWindow = redis.NewScript(`
local used = redis.call("INCR", KEYS[1])
if used == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {used, redis.call("PTTL", KEYS[1])}
`)

// Redis is a fixed-window limiter shared between server replicas.
type Redis struct {
	client redis.Scripter
	now    func() time.Time
}

var _ domain.RateLimiter = (*Redis)(nil)

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Now      func() time.Time
}

func NewRedis(opts RedisOptions) (*Redis, error) {
	if opts.Addr == "" {
		return nil, errors.New("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{Addr: opts.Addr, Password: opts.Password, DB: opts.DB})
	return NewRedisWithClient(client, opts.Now), nil
}

func NewRedisWithClient(client redis.Scripter, now func() time.Time) *Redis {
	if now == nil {
		now = time.Now
	}
	return &Redis{client: client, now: now}
}

func (r *Redis) Allow(ctx context.Context, key string, limit int, period time.Duration) (domain.RateLimitDecision, error) {
	if limit <= 0 {
		return domain.RateLimitDecision{Allowed: true, Limit: limit, Remaining: limit}, nil
	}
	ms := period.Milliseconds()
	if ms <= 0 {
		ms = 1000
	}
	raw, err := incrWindow.Run(ctx, r.client, []string{redisKeyPrefix + key}, ms).Result()
	if err != nil {
		return domain.RateLimitDecision{}, fmt.Errorf("redis rate limit: %w", err)
	}
	used, ttl, err := parseWindowReply(raw)
	if err != nil {
		return domain.RateLimitDecision{}, err
	}
	resetAt := r.now()
	if ttl > 0 {
		resetAt = resetAt.Add(time.Duration(ttl) * time.Millisecond)
	}
	remaining := limit - int(used)
	if remaining < 0 {
		remaining = 0
	}
	return domain.RateLimitDecision{
		Allowed:   used <= int64(limit),
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}

func parseWindowReply(raw any) (used, ttl int64, err error) {
	values, ok := raw.([]any)
	if !ok || len(values) != 2 {
		return 0, 0, errors.New("unexpected redis rate limit reply")
	}
	used, ok = values[0].(int64)
	if !ok {
		return 0, 0, errors.New("redis rate limit counter is not an integer")
	}
	ttl, _ = values[1].(int64)
	return used, ttl, nil
}
