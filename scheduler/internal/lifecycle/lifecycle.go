// Package lifecycle opens scheduled auctions and closes finished ones.
//
// Both passes are safe to run repeatedly and concurrently with bid processing: promotion
// creates at most one auction per item, and closure takes the same per-auction lock as the
// bid workers so a closing auction never accepts a late bid.
package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"github.com/aaronwang/bidlord/shared/broadcast"
	"github.com/aaronwang/bidlord/shared/ledger"
	"github.com/aaronwang/bidlord/shared/lock"
	"github.com/aaronwang/bidlord/shared/metrics"
	"github.com/aaronwang/bidlord/shared/models"
)

// DefaultLookahead is how far ahead of its start an item is promoted
const DefaultLookahead = 5 * time.Minute

// Index is the schedule of pending starts
type Index interface {
	Due(ctx context.Context, until time.Time) ([]string, error)
	Remove(ctx context.Context, itemID string) error
	Rebuild(ctx context.Context, items []*models.AuctionItem) error
	Len(ctx context.Context) (int64, error)
}

// Options configures a Manager
type Options struct {
	Lookahead time.Duration
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	Now       func() time.Time
}

// Manager runs the promotion and closure passes
type Manager struct {
	store     ledger.Store
	index     Index
	locker    lock.Locker
	publisher broadcast.Publisher

	lookahead time.Duration
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewManager creates a Manager
func NewManager(store ledger.Store, index Index, locker lock.Locker, publisher broadcast.Publisher, opts Options) *Manager {
	if opts.Lookahead <= 0 {
		opts.Lookahead = DefaultLookahead
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		store:     store,
		index:     index,
		locker:    locker,
		publisher: publisher,
		lookahead: opts.Lookahead,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		now:       opts.Now,
	}
}

// RebuildIndex reloads the schedule from the ledger. Run at startup so items registered
// while the index was unavailable are not lost.
func (m *Manager) RebuildIndex(ctx context.Context) (int, error) {
	items, err := m.store.SchedulableItems(ctx, m.now())
	if err != nil {
		return 0, err
	}
	if err := m.index.Rebuild(ctx, items); err != nil {
		return 0, err
	}
	m.logger.Info("Schedule index rebuilt", slog.Int("items", len(items)))
	return len(items), nil
}
