// Package lock serializes work on a single assessment session across
// goroutines and, with Redis, across server instances.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/geco-mentor/Msia-Hackathon-2025-11-Team-D-Training-Tracker-sub001/internal/model"
)

// ErrBusy is returned when a key stays held for longer than the wait limit.
// It wraps model.ErrConflict.
var ErrBusy = fmt.Errorf("%w: resource is busy", model.ErrConflict)

// Locker grants exclusive access to a key. The returned release func must be
// called exactly once.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

const (
	defaultTTL  = 2 * time.Minute
	defaultWait = 45 * time.Second
	pollEvery   = 50 * time.Millisecond
)

// Option configures a locker.
type Option func(*options)

type options struct {
	ttl    time.Duration
	wait   time.Duration
	prefix string
}

// WithTTL bounds how long a Redis lock survives a crashed holder.
func WithTTL(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.ttl = d
		}
	}
}

// WithWait bounds how long Acquire waits for a held key.
func WithWait(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.wait = d
		}
	}
}

// WithPrefix namespaces Redis keys.
func WithPrefix(p string) Option {
	return func(o *options) {
		o.prefix = p
	}
}

func buildOptions(opts []Option) options {
	o := options{ttl: defaultTTL, wait: defaultWait, prefix: "tracker:lock:"}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX and a token-checked release.
type RedisLocker struct {
	rdb  redis.UniversalClient
	opts options
}

// NewRedis creates a Redis-backed locker.
func NewRedis(rdb redis.UniversalClient, opts ...Option) *RedisLocker {
	return &RedisLocker{rdb: rdb, opts: buildOptions(opts)}
}

// Acquire polls until the key is free, the wait limit passes or ctx ends.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	k := l.opts.prefix + key
	token := uuid.NewString()
	deadline := time.Now().Add(l.opts.wait)

	for {
		ok, err := l.rdb.SetNX(ctx, k, token, l.opts.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			return func() {
				// Use a fresh context so a cancelled request still unlocks.
				rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = releaseScript.Run(rctx, l.rdb, []string{k}, token).Err()
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrBusy
		}
		if err := sleep(ctx, pollEvery); err != nil {
			return nil, err
		}
	}
}

// MemoryLocker implements Locker for a single process.
type MemoryLocker struct {
	mu    sync.Mutex
	slots map[string]*slot
	opts  options
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewMemory creates an in-process locker. Only the wait option applies.
func NewMemory(opts ...Option) *MemoryLocker {
	return &MemoryLocker{slots: make(map[string]*slot), opts: buildOptions(opts)}
}

// Acquire blocks until the key is free, the wait limit passes or ctx ends.
func (l *MemoryLocker) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	timer := time.NewTimer(l.opts.wait)
	defer timer.Stop()

	select {
	case s.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-s.ch
				l.unref(key, s)
			})
		}, nil
	case <-timer.C:
		l.unref(key, s)
		return nil, ErrBusy
	case <-ctx.Done():
		l.unref(key, s)
		return nil, ctx.Err()
	}
}

func (l *MemoryLocker) unref(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsBusy reports whether err means the lock could not be obtained in time.
func IsBusy(err error) bool {
	return errors.Is(err, ErrBusy)
}
