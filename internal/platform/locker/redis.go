package locker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const unlockScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// Redis implements Locker with SET NX PX and a compare-and-delete release.
type Redis struct {
	client *redis.Client
	prefix string
	wait   time.Duration
	ttl    time.Duration
	poll   time.Duration
}

func NewRedis(client *redis.Client, cfg Config) *Redis {
	return &Redis{
		client: client,
		prefix: cfg.KeyPrefix,
		wait:   cfg.Wait,
		ttl:    cfg.TTL,
		poll:   25 * time.Millisecond,
	}
}

// NewRedisClient parses REDIS_URL into a client.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

func (l *Redis) Lock(ctx context.Context, key string) (UnlockFunc, error) {
	lockKey := l.prefix + "lock:" + key
	token := uuid.NewString()

	waitCtx := ctx
	if l.wait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.wait)
		defer cancel()
	}

	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(waitCtx, lockKey, token, l.ttl).Result()
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("redis error acquiring lock: %w", err)
		}
		if ok {
			return func(ctx context.Context) error {
				return l.client.Eval(ctx, unlockScript, []string{lockKey}, token).Err()
			}, nil
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, ErrLockTimeout
		case <-ticker.C:
		}
	}
}

func (l *Redis) Check(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
