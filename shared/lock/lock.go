// Package lock provides the per-auction mutual exclusion used to serialise bid acceptance
// and auction closure.
package lock

import (
	"context"
	"time"
)

// Locker serialises work on a key
type Locker interface {
	// WithLock acquires key, waiting at most the configured wait timeout, runs fn and
	// releases the lock on every exit path. fn's context expires with the lease.
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// Options tunes lock acquisition
type Options struct {
	// WaitTimeout bounds how long Acquire blocks before failing with apperr.ErrLockTimeout
	WaitTimeout time.Duration
	// HoldTimeout is the lease TTL; a crashed holder's lock frees itself after this
	HoldTimeout time.Duration
	// RetryInterval is the base delay between acquisition attempts
	RetryInterval time.Duration
}

// DefaultOptions mirrors the 10s lease used by the bid processor
var DefaultOptions = Options{
	WaitTimeout:   5 * time.Second,
	HoldTimeout:   10 * time.Second,
	RetryInterval: 25 * time.Millisecond,
}

func (o Options) withDefaults() Options {
	if o.WaitTimeout <= 0 {
		o.WaitTimeout = DefaultOptions.WaitTimeout
	}
	if o.HoldTimeout <= 0 {
		o.HoldTimeout = DefaultOptions.HoldTimeout
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = DefaultOptions.RetryInterval
	}
	return o
}

// AuctionKey returns the lock key for an auction
func AuctionKey(auctionID string) string {
	return "auction_lock:" + auctionID
}
