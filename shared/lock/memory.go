package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aaronwang/bidlord/shared/apperr"
)

// MemoryLocker is an in-process Locker with the same timeout semantics as RedisLocker.
// It only serialises goroutines of one process.
type MemoryLocker struct {
	opts Options

	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewMemoryLocker creates a MemoryLocker
func NewMemoryLocker(opts Options) *MemoryLocker {
	return &MemoryLocker{opts: opts.withDefaults(), slots: make(map[string]chan struct{})}
}

func (l *MemoryLocker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}

// WithLock implements Locker
func (l *MemoryLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	ch := l.slot(key)

	timer := time.NewTimer(l.opts.WaitTimeout)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
	case <-timer.C:
		return fmt.Errorf("lock %s: %w", key, apperr.ErrLockTimeout)
	case <-ctx.Done():
		return apperr.Infrastructure("acquire lock", ctx.Err())
	}
	defer func() { <-ch }()

	holdCtx, cancel := context.WithTimeout(ctx, l.opts.HoldTimeout)
	defer cancel()
	return fn(holdCtx)
}
