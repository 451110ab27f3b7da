package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"github.com/aaronwang/bidlord/shared/apperr"
	"github.com/aaronwang/bidlord/shared/ledger"
	"github.com/aaronwang/bidlord/shared/logger"
	"github.com/aaronwang/bidlord/shared/metrics"
	"github.com/aaronwang/bidlord/shared/models"
	"github.com/google/uuid"
)

// PromotePending creates an auction for every indexed item starting within the lookahead,
// including items whose start was missed. Entries are dropped once handled; an entry whose
// item failed stays for the next pass. It returns the number of auctions created.
func (m *Manager) PromotePending(ctx context.Context) (int, error) {
	started := time.Now()
	now := m.now()

	ids, err := m.index.Due(ctx, now.Add(m.lookahead))
	if err != nil {
		return 0, err
	}

	created, failed := 0, 0
	for _, raw := range ids {
		itemID, err := uuid.Parse(raw)
		if err != nil {
			m.logger.Warn("Dropping invalid schedule entry", slog.String("entry", raw))
			m.drop(ctx, raw)
			continue
		}

		ok, err := m.promote(ctx, itemID, now)
		if err != nil {
			failed++
			m.logger.Error("Failed to promote item",
				slog.String("item_id", raw),
				slog.Any("error", err))
			continue
		}
		if ok {
			created++
		}
		m.drop(ctx, raw)
	}

	m.metrics.AuctionsPromoted(created)
	m.metrics.SchedulerErrors(metrics.PassPromote, failed)
	if n, err := m.index.Len(ctx); err == nil {
		m.metrics.SchedulePending(n)
	}
	logger.LogPass(m.logger, metrics.PassPromote, created, failed, time.Since(started))
	return created, nil
}

// promote reports whether an auction was created. A nil error with false means the item
// no longer needs one.
func (m *Manager) promote(ctx context.Context, itemID uuid.UUID, now time.Time) (bool, error) {
	var created bool
	err := m.store.InTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		item, err := tx.LoadItem(ctx, itemID)
		if apperr.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		if !item.Available() || item.Ended(now) {
			return nil
		}

		exists, err := tx.AuctionExistsForItem(ctx, itemID)
		if err != nil || exists {
			return err
		}

		created, err = tx.CreateAuction(ctx, &models.Auction{
			ID:           uuid.New(),
			ItemID:       item.ID,
			CurrentPrice: item.InitialPrice,
			Ongoing:      true,
		})
		return err
	})
	if err != nil {
		return false, err
	}
	if created {
		m.logger.Info("Auction created", slog.String("item_id", itemID.String()))
	}
	return created, nil
}

func (m *Manager) drop(ctx context.Context, entry string) {
	if err := m.index.Remove(ctx, entry); err != nil {
		m.logger.Warn("Failed to remove schedule entry", slog.String("entry", entry), slog.Any("error", err))
	}
}
