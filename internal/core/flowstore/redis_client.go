package flowstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// GoRedisAdapter adapts a *redis.Client to RedisCmdable, keeping the
// go-redis/v9 import confined to this one file so the rest of the package
// is testable against a fake RedisCmdable.
type GoRedisAdapter struct {
	Client *redis.Client
}

func (a *GoRedisAdapter) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *EvalResult {
	v, err := a.Client.Eval(ctx, script, keys, args...).Int64()
	return &EvalResult{Val: v, Err: err}
}

func (a *GoRedisAdapter) Get(ctx context.Context, key string) (string, error, bool) {
	v, err := a.Client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil, false
	}
	if err != nil {
		return "", err, false
	}
	return v, nil, true
}

func (a *GoRedisAdapter) Del(ctx context.Context, keys ...string) error {
	return a.Client.Del(ctx, keys...).Err()
}

func (a *GoRedisAdapter) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return a.Client.Expire(ctx, key, ttl).Err()
}
