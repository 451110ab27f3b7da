// Package processor applies queued bids to the ledger.
//
// Bids on one auction are applied in lock acquisition order. A bid is committed only if it is
// strictly higher than the auction's current price, and the price update and the bid record
// are written in the same transaction.
package processor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aaronwang/bidlord/shared/apperr"
	"github.com/aaronwang/bidlord/shared/broadcast"
	"github.com/aaronwang/bidlord/shared/ledger"
	"github.com/aaronwang/bidlord/shared/lock"
	"github.com/aaronwang/bidlord/shared/models"
	"github.com/google/uuid"
)

const publishTimeout = 2 * time.Second

// Processor handles process_bid jobs
type Processor struct {
	store     ledger.Store
	locker    lock.Locker
	publisher broadcast.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Processor
type Option func(*Processor)

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) { p.logger = l }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// New creates a Processor
func New(store ledger.Store, locker lock.Locker, publisher broadcast.Publisher, opts ...Option) *Processor {
	p := &Processor{
		store:     store,
		locker:    locker,
		publisher: publisher,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process applies job. Validation and not-found errors are final; anything else may succeed
// on a later attempt (see apperr.Retryable). A redelivered job whose bid was already committed
// returns apperr.ErrDuplicateBid without touching the ledger.
func (p *Processor) Process(ctx context.Context, job *models.BidJob) (*models.BidAccepted, error) {
	if job.BidID == uuid.Nil || job.AuctionID == uuid.Nil || job.UserID == "" {
		return nil, apperr.Validation("malformed bid job %s", job.BidID)
	}
	amount := job.Price()
	if !amount.IsPositive() {
		return nil, apperr.ErrInvalidAmount
	}

	var accepted *models.BidAccepted
	err := p.locker.WithLock(ctx, lock.AuctionKey(job.AuctionID.String()), func(ctx context.Context) error {
		err := p.store.InTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
			d, err := tx.LoadAuction(ctx, job.AuctionID)
			if err != nil {
				return err
			}
			if !d.AcceptingBids(p.now()) {
				return fmt.Errorf("auction %s: %w", job.AuctionID, apperr.ErrAuctionNotActive)
			}

			dup, err := tx.BidExists(ctx, job.BidID)
			if err != nil {
				return err
			}
			if dup {
				return apperr.ErrDuplicateBid
			}

			if amount.LessThanOrEqual(d.CurrentPrice) {
				return fmt.Errorf("bid %s not above current price %s: %w",
					amount.StringFixed(2), d.CurrentPrice.StringFixed(2), apperr.ErrBidTooLow)
			}

			if err := tx.UpdatePrice(ctx, d.ID, d.ItemID, amount); err != nil {
				return err
			}
			bid := &models.Bid{
				ID:        job.BidID,
				AuctionID: d.ID,
				CreatorID: job.UserID,
				Amount:    amount,
			}
			if err := tx.AppendBid(ctx, bid); err != nil {
				return err
			}

			accepted = &models.BidAccepted{Bid: bid, PreviousPrice: d.CurrentPrice, Currency: d.Item.Currency}
			return nil
		})
		if err != nil {
			return err
		}

		// Announce while still holding the lock so viewers see updates in commit order
		p.announce(ctx, accepted)
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.logger.Info("Bid accepted",
		slog.String("auction_id", job.AuctionID.String()),
		slog.String("bid_id", job.BidID.String()),
		slog.String("amount", amount.StringFixed(2)),
		slog.String("previous", accepted.PreviousPrice.StringFixed(2)))
	return accepted, nil
}

// announce publishes the price change. The bid is already committed: failures are logged only.
func (p *Processor) announce(ctx context.Context, accepted *models.BidAccepted) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	bid := accepted.Bid
	bidder, err := p.store.Username(ctx, bid.CreatorID)
	if err != nil || bidder == "" {
		bidder = bid.CreatorID
	}
	ts := bid.CreatedAt
	if ts.IsZero() {
		ts = p.now()
	}

	update := models.AuctionUpdate{
		NewPrice:  bid.Amount.StringFixed(2),
		Currency:  accepted.Currency,
		Bidder:    bidder,
		Timestamp: ts.UTC(),
	}
	if err := p.publisher.Publish(ctx, bid.AuctionID.String(), models.EventAuctionUpdate, update); err != nil {
		p.logger.Warn("Failed to publish auction update",
			slog.String("auction_id", bid.AuctionID.String()),
			slog.String("bid_id", bid.ID.String()),
			slog.Any("error", err))
	}
}
