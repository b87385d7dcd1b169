package flowstore

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// RedisCmdable abstracts the minimal go-redis surface the flow store needs,
// so this package does not force a hard dependency on a particular client
// version at the type level (mirrors etalazz-vsa's RedisEvaler narrowing).
type RedisCmdable interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *EvalResult
	Get(ctx context.Context, key string) (string, error, bool)
	Del(ctx context.Context, keys ...string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// EvalResult is the narrow result shape this package needs from a redis
// EVAL call: an integer reply.
type EvalResult struct {
	Val int64
	Err error
}

// Redis is the Redis-backed flow store: INCRBY + EXPIRE per key, with the
// configured key prefix applied to every operation (§4.3).
type Redis struct {
	client RedisCmdable
	prefix string
	ttl    time.Duration
}

// NewRedis builds a Redis-backed flow store. keyPrefix namespaces every key;
// defaultTTL is used by Set when it is given no ttl, and by every
// Increment: both Lua scripts re-issue EXPIRE on each write, so the
// deadline runs from the latest write.
func NewRedis(client RedisCmdable, keyPrefix string, defaultTTL time.Duration) *Redis {
	return &Redis{client: client, prefix: keyPrefix, ttl: defaultTTL}
}

func (r *Redis) key(k string) string { return r.prefix + k }

func (r *Redis) Get(ctx context.Context, key string) (int64, bool, error) {
	s, err, found := r.client.Get(ctx, r.key(key))
	if err != nil {
		return 0, false, fmt.Errorf("flowstore: redis get %s: %w", key, err)
	}
	if !found {
		return 0, false, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("flowstore: redis value %s not an integer: %w", key, err)
	}
	return v, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value int64, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = r.ttl
	}
	res := r.client.Eval(ctx, setScript, []string{r.key(key)}, value, int(ttl.Seconds()))
	if res.Err != nil {
		return fmt.Errorf("flowstore: redis set %s: %w", key, res.Err)
	}
	return nil
}

// setScript sets the counter and, if ttlSeconds>0, its expiry in one
// round trip.
const setScript = `
redis.call('SET', KEYS[1], ARGV[1])
if tonumber(ARGV[2]) > 0 then
  redis.call('EXPIRE', KEYS[1], ARGV[2])
end
return 1
`

// incrScript performs INCRBY then conditionally EXPIRE, matching §4.3's
// "Redis uses INCRBY + EXPIRE" exactly, as one atomic round trip.
const incrScript = `
local newVal = redis.call('INCRBY', KEYS[1], ARGV[1])
if tonumber(ARGV[2]) > 0 then
  redis.call('EXPIRE', KEYS[1], ARGV[2])
end
return newVal
`

func (r *Redis) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	res := r.client.Eval(ctx, incrScript, []string{r.key(key)}, delta, int(r.ttl.Seconds()))
	if res.Err != nil {
		return 0, fmt.Errorf("flowstore: redis increment %s: %w", key, res.Err)
	}
	return res.Val, nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)); err != nil {
		return fmt.Errorf("flowstore: redis delete %s: %w", key, err)
	}
	return nil
}

func (r *Redis) SetTTL(ctx context.Context, key string, ttl time.Duration) error {
	if err := r.client.Expire(ctx, r.key(key), ttl); err != nil {
		return fmt.Errorf("flowstore: redis expire %s: %w", key, err)
	}
	return nil
}
