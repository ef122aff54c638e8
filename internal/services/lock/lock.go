// Package lock provides a Redis-backed mutual exclusion lock so that several
// microsim processes sharing one store never advance the simulation at once.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultKey        = "microsim:act-lock"
	DefaultTTL        = 3 * time.Minute
	DefaultRetryDelay = 100 * time.Millisecond

	// TTLMargin covers the store write and release after an Act's deadline.
	TTLMargin = 30 * time.Second
)

// TTLFor returns a lock TTL that outlives a holder whose work is bounded by
// timeout. It is never shorter than DefaultTTL.
func TTLFor(timeout time.Duration) time.Duration {
	ttl := timeout + TTLMargin
	if ttl < DefaultTTL {
		return DefaultTTL
	}
	return ttl
}

// ErrNotAcquired is returned by TryAcquire when another holder has the lock.
var ErrNotAcquired = errors.New("lock held by another owner")

// Only delete if we own the lock
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// RedisLock is a SETNX lock with an owner token. The TTL bounds how long a
// crashed holder can block others.
type RedisLock struct {
	client     *redis.Client
	key        string
	ttl        time.Duration
	retryDelay time.Duration
	log        *slog.Logger
}

// Option configures a RedisLock.
type Option func(*RedisLock)

func WithKey(key string) Option {
	return func(l *RedisLock) { l.key = key }
}

func WithTTL(ttl time.Duration) Option {
	return func(l *RedisLock) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

func WithRetryDelay(d time.Duration) Option {
	return func(l *RedisLock) {
		if d > 0 {
			l.retryDelay = d
		}
	}
}

// New creates a lock on the given client.
func New(client *redis.Client, log *slog.Logger, opts ...Option) *RedisLock {
	l := &RedisLock{
		client:     client,
		key:        DefaultKey,
		ttl:        DefaultTTL,
		retryDelay: DefaultRetryDelay,
		log:        log,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// TryAcquire takes the lock if it is free. It returns ErrNotAcquired when
// another owner holds it.
func (l *RedisLock) TryAcquire(ctx context.Context) (release func(), err error) {
	owner := uuid.New().String()
	ok, err := l.client.SetNX(ctx, l.key, owner, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}
	l.log.Debug("Lock acquired", "key", l.key, "owner", owner)
	return func() { l.release(owner) }, nil
}

// Acquire blocks until the lock is taken or ctx is done.
func (l *RedisLock) Acquire(ctx context.Context) (release func(), err error) {
	for {
		release, err := l.TryAcquire(ctx)
		if err == nil {
			return release, nil
		}
		if !errors.Is(err, ErrNotAcquired) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for lock %s: %w", l.key, ctx.Err())
		case <-time.After(l.retryDelay):
		}
	}
}

func (l *RedisLock) release(owner string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := releaseScript.Run(ctx, l.client, []string{l.key}, owner).Err(); err != nil {
		l.log.Error("Failed to release lock", "error", err, "key", l.key)
		return
	}
	l.log.Debug("Lock released", "key", l.key, "owner", owner)
}
