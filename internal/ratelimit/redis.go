package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// slidingWindow runs the whole decision inside Redis so concurrent instances see one log.
// Scores are microseconds since the epoch. Returns {allowed, count, oldest}.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
  local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  return {0, count, tonumber(oldest[2])}
end
redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, ARGV[5])
return {1, count + 1, 0}
`)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisStore keeps each caller's log in a sorted set keyed by arrival time.
type RedisStore struct {
	policy Policy
	client *redis.Client
}

func NewRedisStore(p Policy, cfg RedisConfig) (*RedisStore, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisStore{policy: p, client: client}, nil
}

func (s *RedisStore) Allow(ctx context.Context, key string, now time.Time) (Decision, error) {
	nowUs := now.UnixMicro()
	windowUs := s.policy.Window.Microseconds()
	res, err := slidingWindow.Run(ctx, s.client, []string{keyPrefix + key},
		nowUs, windowUs, s.policy.Limit, uuid.NewString(), s.policy.Window.Milliseconds()+1000,
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("redis sliding window: %w", err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("redis sliding window: unexpected reply %v", res)
	}
	d := Decision{Allowed: res[0] == 1, Count: int(res[1]), Limit: s.policy.Limit}
	if !d.Allowed {
		retry := time.Duration(res[2]+windowUs-nowUs) * time.Microsecond
		if retry > 0 {
			d.RetryAfter = retry
		}
	}
	return d, nil
}

// Ping checks if Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
