package lock

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/aaronwang/bidlord/shared/apperr"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if it is still held by the caller's token.
// Runs atomically on the Redis server.
var releaseScript = redis.NewScript(`
	-- KEYS[1]: lock key
	-- ARGV[1]: owner token
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// RedisLocker is a lease-based lock shared by every process connected to the same Redis
type RedisLocker struct {
	client redis.UniversalClient
	opts   Options
	logger *slog.Logger
}

// NewRedisLocker creates a RedisLocker
func NewRedisLocker(client redis.UniversalClient, opts Options, logger *slog.Logger) *RedisLocker {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLocker{client: client, opts: opts.withDefaults(), logger: logger}
}

// Lease is a held lock
type Lease struct {
	client    redis.UniversalClient
	key       string
	token     string
	ExpiresAt time.Time
}

// Acquire takes key, polling until WaitTimeout elapses
func (l *RedisLocker) Acquire(ctx context.Context, key string) (*Lease, error) {
	token := uuid.NewString()

	waitCtx, cancel := context.WithTimeout(ctx, l.opts.WaitTimeout)
	defer cancel()

	for {
		now := time.Now()
		ok, err := l.client.SetNX(waitCtx, key, token, l.opts.HoldTimeout).Result()
		if err == nil && ok {
			return &Lease{client: l.client, key: key, token: token, ExpiresAt: now.Add(l.opts.HoldTimeout)}, nil
		}
		if err != nil && waitCtx.Err() == nil {
			return nil, apperr.Infrastructure("acquire lock", err)
		}

		// Jittered delay so contending workers don't poll in lockstep
		delay := l.opts.RetryInterval + rand.N(l.opts.RetryInterval)
		timer := time.NewTimer(delay)
		select {
		case <-waitCtx.Done():
			timer.Stop()
			if ctx.Err() != nil {
				return nil, apperr.Infrastructure("acquire lock", ctx.Err())
			}
			return nil, fmt.Errorf("lock %s: %w", key, apperr.ErrLockTimeout)
		case <-timer.C:
		}
	}
}

// Release frees the lease. It returns apperr.ErrLockLost when the lease had already
// expired and possibly been taken by someone else.
func (ls *Lease) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, ls.client, []string{ls.key}, ls.token).Int()
	if err != nil {
		return apperr.Infrastructure("release lock", err)
	}
	if n == 0 {
		return apperr.ErrLockLost
	}
	return nil
}

// WithLock implements Locker
func (l *RedisLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	lease, err := l.Acquire(ctx, key)
	if err != nil {
		return err
	}

	holdCtx, cancel := context.WithDeadline(ctx, lease.ExpiresAt)
	defer cancel()

	defer func() {
		// Release on a fresh context: the caller's may already be done
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := lease.Release(releaseCtx); err != nil {
			l.logger.Warn("Failed to release lock",
				slog.String("key", key),
				slog.Any("error", err))
		}
	}()

	return fn(holdCtx)
}
