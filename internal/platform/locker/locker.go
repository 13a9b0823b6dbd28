// Package locker serializes work on one key across goroutines or, with
// Redis, across processes. Waits are bounded; a caller that cannot get the
// lock in time gets ErrLockTimeout rather than queueing forever.
package locker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/pipeboard/pipeboard/internal/platform/env"
)

var ErrLockTimeout = errors.New("lock wait timed out")

type UnlockFunc func(ctx context.Context) error

type Locker interface {
	Lock(ctx context.Context, key string) (UnlockFunc, error)
}

type Config struct {
	RedisURL  string
	KeyPrefix string
	Wait      time.Duration
	TTL       time.Duration
}

func ConfigFromEnv() (Config, error) {
	wait, err := env.Duration("PIPEBOARD_LOCK_WAIT", 2*time.Second)
	if err != nil {
		return Config{}, err
	}
	ttl, err := env.Duration("PIPEBOARD_LOCK_TTL", 30*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		RedisURL:  strings.TrimSpace(env.String("REDIS_URL", "")),
		KeyPrefix: env.String("PIPEBOARD_LOCK_PREFIX", "pipeboard:"),
		Wait:      wait,
		TTL:       ttl,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Wait <= 0 {
		return errors.New("PIPEBOARD_LOCK_WAIT must be positive")
	}
	if c.TTL <= 0 {
		return errors.New("PIPEBOARD_LOCK_TTL must be positive")
	}
	if c.TTL < c.Wait {
		return errors.New("PIPEBOARD_LOCK_TTL must be >= PIPEBOARD_LOCK_WAIT")
	}
	return nil
}

// Local is an in-process keyed mutex.
type Local struct {
	wait time.Duration

	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewLocal(wait time.Duration) *Local {
	return &Local{wait: wait, slots: map[string]*slot{}}
}

func (l *Local) acquireSlot(key string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *Local) releaseSlot(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

func (l *Local) Lock(ctx context.Context, key string) (UnlockFunc, error) {
	s := l.acquireSlot(key)

	var timeout <-chan time.Time
	if l.wait > 0 {
		timer := time.NewTimer(l.wait)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.releaseSlot(key, s)
		return nil, ctx.Err()
	case <-timeout:
		l.releaseSlot(key, s)
		return nil, ErrLockTimeout
	}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			<-s.ch
			l.releaseSlot(key, s)
		})
		return nil
	}, nil
}
