package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"github.com/aaronwang/bidlord/shared/ledger"
	"github.com/aaronwang/bidlord/shared/lock"
	"github.com/aaronwang/bidlord/shared/logger"
	"github.com/aaronwang/bidlord/shared/metrics"
	"github.com/aaronwang/bidlord/shared/models"
	"github.com/google/uuid"
)

// CloseFinished closes every ongoing auction whose end date has passed and records the
// highest bidder as winner. It returns the number of auctions closed.
func (m *Manager) CloseFinished(ctx context.Context) (int, error) {
	started := time.Now()
	now := m.now()

	ids, err := m.store.DueForClosure(ctx, now)
	if err != nil {
		return 0, err
	}

	closed, failed := 0, 0
	for _, id := range ids {
		result, err := m.close(ctx, id, now)
		if err != nil {
			failed++
			m.logger.Error("Failed to close auction",
				slog.String("auction_id", id.String()),
				slog.Any("error", err))
			continue
		}
		if result == nil {
			continue
		}
		closed++
		m.announceClosed(ctx, result)
	}

	m.metrics.AuctionsClosed(closed)
	m.metrics.SchedulerErrors(metrics.PassClose, failed)
	logger.LogPass(m.logger, metrics.PassClose, closed, failed, time.Since(started))
	return closed, nil
}

type closeResult struct {
	detail *models.AuctionDetail
	winner *string
}

// close returns nil when the auction was already closed or is not due
func (m *Manager) close(ctx context.Context, id uuid.UUID, now time.Time) (*closeResult, error) {
	var result *closeResult
	err := m.locker.WithLock(ctx, lock.AuctionKey(id.String()), func(ctx context.Context) error {
		return m.store.InTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
			d, err := tx.LoadAuction(ctx, id)
			if err != nil {
				return err
			}
			if !d.Ongoing || !d.Item.Ended(now) {
				return nil
			}

			best, err := tx.HighestBid(ctx, id)
			if err != nil {
				return err
			}
			var winner *string
			if best != nil {
				w := best.CreatorID
				winner = &w
			}
			if err := tx.CloseAuction(ctx, id, winner); err != nil {
				return err
			}
			result = &closeResult{detail: d, winner: winner}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if result != nil {
		attrs := []any{slog.String("auction_id", id.String()), slog.String("final_price", result.detail.CurrentPrice.StringFixed(2))}
		if result.winner != nil {
			attrs = append(attrs, slog.String("winner", *result.winner))
		}
		m.logger.Info("Auction closed", attrs...)
	}
	return result, nil
}

func (m *Manager) announceClosed(ctx context.Context, r *closeResult) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	event := models.AuctionClosed{
		FinalPrice: r.detail.CurrentPrice.StringFixed(2),
		Currency:   r.detail.Item.Currency,
		Timestamp:  m.now().UTC(),
	}
	if r.winner != nil {
		event.Winner = *r.winner
		if name, err := m.store.Username(ctx, *r.winner); err == nil && name != "" {
			event.Winner = name
		}
	}
	if err := m.publisher.Publish(ctx, r.detail.ID.String(), models.EventAuctionClosed, event); err != nil {
		m.logger.Warn("Failed to publish auction closed",
			slog.String("auction_id", r.detail.ID.String()),
			slog.Any("error", err))
	}
}
