package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aaronwang/bidlord/shared/apperr"
	"github.com/aaronwang/bidlord/shared/models"
	"github.com/google/uuid"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"
)

func newItem(start, end time.Time, price string) *models.AuctionItem {
	p := decimal.RequireFromString(price)
	return &models.AuctionItem{
		ID:           uuid.New(),
		CreatorID:    "seller",
		Name:         "Lamp",
		StartAt:      start,
		EndAt:        end,
		InitialPrice: p,
		ActivePrice:  p,
		Currency:     models.CurrencyDollars,
	}
}

func seedAuction(t *testing.T, s *MemoryStore, item *models.AuctionItem) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	assert.NoError(t, s.CreateItem(ctx, item))
	id := uuid.New()
	err := s.InTx(ctx, func(ctx context.Context, tx Tx) error {
		created, err := tx.CreateAuction(ctx, &models.Auction{ID: id, ItemID: item.ID, CurrentPrice: item.InitialPrice, Ongoing: true})
		if err != nil {
			return err
		}
		if !created {
			return errors.New("auction not created")
		}
		return nil
	})
	assert.NoError(t, err)
	return id
}

func TestMemoryStoreRollsBackFailedTransaction(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()
	item := newItem(now.Add(-time.Minute), now.Add(time.Hour), "100.00")
	auctionID := seedAuction(t, s, item)

	boom := errors.New("boom")
	err := s.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.UpdatePrice(ctx, auctionID, item.ID, decimal.RequireFromString("150.00")); err != nil {
			return err
		}
		if err := tx.AppendBid(ctx, &models.Bid{ID: uuid.New(), AuctionID: auctionID, CreatorID: "u1", Amount: decimal.RequireFromString("150.00")}); err != nil {
			return err
		}
		return boom
	})
	check.True(t, errors.Is(err, boom))

	d, err := s.GetAuction(ctx, auctionID)
	assert.NoError(t, err)
	check.Equal(t, "100.00", d.CurrentPrice.StringFixed(2))
	check.Equal(t, "100.00", d.Item.ActivePrice.StringFixed(2))

	bids, err := s.ListBids(ctx, auctionID)
	assert.NoError(t, err)
	check.Equal(t, 0, len(bids))
}

func TestMemoryStoreCommitFault(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()
	item := newItem(now.Add(-time.Minute), now.Add(time.Hour), "100.00")
	auctionID := seedAuction(t, s, item)

	s.FailNextCommit(errors.New("connection reset"))
	err := s.InTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.UpdatePrice(ctx, auctionID, item.ID, decimal.RequireFromString("120.00"))
	})
	check.Error(t, err)
	check.True(t, apperr.Retryable(err))

	d, err := s.GetAuction(ctx, auctionID)
	assert.NoError(t, err)
	check.Equal(t, "100.00", d.CurrentPrice.StringFixed(2))
}

func TestMemoryStoreOneAuctionPerItem(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()
	item := newItem(now, now.Add(time.Hour), "10.00")
	seedAuction(t, s, item)

	err := s.InTx(ctx, func(ctx context.Context, tx Tx) error {
		created, err := tx.CreateAuction(ctx, &models.Auction{ID: uuid.New(), ItemID: item.ID, CurrentPrice: item.InitialPrice, Ongoing: true})
		check.False(t, created)
		return err
	})
	assert.NoError(t, err)
}

func TestMemoryStoreHighestBidIgnoresDeleted(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()
	item := newItem(now.Add(-time.Minute), now.Add(time.Hour), "10.00")
	auctionID := seedAuction(t, s, item)

	err := s.InTx(ctx, func(ctx context.Context, tx Tx) error {
		for _, b := range []models.Bid{
			{ID: uuid.New(), AuctionID: auctionID, CreatorID: "alice", Amount: decimal.RequireFromString("11.00")},
			{ID: uuid.New(), AuctionID: auctionID, CreatorID: "bob", Amount: decimal.RequireFromString("15.00")},
			{ID: uuid.New(), AuctionID: auctionID, CreatorID: "mallory", Amount: decimal.RequireFromString("99.00"), Deleted: true},
		} {
			b := b
			if err := tx.AppendBid(ctx, &b); err != nil {
				return err
			}
		}
		return nil
	})
	assert.NoError(t, err)

	err = s.InTx(ctx, func(ctx context.Context, tx Tx) error {
		best, err := tx.HighestBid(ctx, auctionID)
		if err != nil {
			return err
		}
		check.NotNil(t, best)
		check.Equal(t, "bob", best.CreatorID)
		return nil
	})
	assert.NoError(t, err)
}

func TestMemoryStoreDuplicateBid(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()
	item := newItem(now.Add(-time.Minute), now.Add(time.Hour), "10.00")
	auctionID := seedAuction(t, s, item)
	bid := models.Bid{ID: uuid.New(), AuctionID: auctionID, CreatorID: "alice", Amount: decimal.RequireFromString("11.00")}

	err := s.InTx(ctx, func(ctx context.Context, tx Tx) error {
		b := bid
		return tx.AppendBid(ctx, &b)
	})
	assert.NoError(t, err)

	err = s.InTx(ctx, func(ctx context.Context, tx Tx) error {
		exists, err := tx.BidExists(ctx, bid.ID)
		check.True(t, exists)
		if err != nil {
			return err
		}
		b := bid
		return tx.AppendBid(ctx, &b)
	})
	check.True(t, errors.Is(err, apperr.ErrDuplicateBid))
}

func TestMemoryStoreDueForClosureAndSchedulable(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()

	finished := newItem(now.Add(-2*time.Hour), now.Add(-time.Minute), "10.00")
	finishedID := seedAuction(t, s, finished)
	running := newItem(now.Add(-time.Minute), now.Add(time.Hour), "10.00")
	seedAuction(t, s, running)

	pending := newItem(now.Add(time.Minute), now.Add(time.Hour), "10.00")
	assert.NoError(t, s.CreateItem(ctx, pending))
	deleted := newItem(now.Add(time.Minute), now.Add(time.Hour), "10.00")
	assert.NoError(t, s.CreateItem(ctx, deleted))
	assert.NoError(t, s.InTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.SoftDeleteItem(ctx, deleted.ID)
	}))
	expired := newItem(now.Add(-time.Hour), now.Add(-time.Second), "10.00")
	assert.NoError(t, s.CreateItem(ctx, expired))

	due, err := s.DueForClosure(ctx, now)
	assert.NoError(t, err)
	check.Equal(t, []uuid.UUID{finishedID}, due)

	items, err := s.SchedulableItems(ctx, now)
	assert.NoError(t, err)
	check.Equal(t, 1, len(items))
	check.Equal(t, pending.ID, items[0].ID)
}

func TestMemoryStoreCloseOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()
	item := newItem(now.Add(-2*time.Hour), now.Add(-time.Minute), "10.00")
	auctionID := seedAuction(t, s, item)

	winner := "alice"
	assert.NoError(t, s.InTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.CloseAuction(ctx, auctionID, &winner)
	}))
	err := s.InTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.CloseAuction(ctx, auctionID, nil)
	})
	check.True(t, errors.Is(err, apperr.ErrAuctionNotActive))

	d, err := s.GetAuction(ctx, auctionID)
	assert.NoError(t, err)
	check.False(t, d.Ongoing)
	check.NotNil(t, d.WinnerID)
	check.Equal(t, "alice", *d.WinnerID)
}

func TestMemoryStoreUsernameFallback(t *testing.T) {
	s := NewMemoryStore()
	s.AddUser("u1", "ada")

	name, err := s.Username(context.Background(), "u1")
	assert.NoError(t, err)
	check.Equal(t, "ada", name)

	name, err = s.Username(context.Background(), "u2")
	assert.NoError(t, err)
	check.Equal(t, "u2", name)
}

func TestMemoryStoreUpdateItem(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()
	item := newItem(now.Add(time.Hour), now.Add(2*time.Hour), "10.00")
	assert.NoError(t, s.CreateItem(ctx, item))

	edit := *item
	edit.Name = "Desk lamp"
	edit.EndAt = now.Add(3 * time.Hour)
	edit.CreatorID = "someone-else"
	assert.NoError(t, s.InTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.UpdateItem(ctx, &edit)
	}))

	got, err := s.GetItem(ctx, item.ID)
	assert.NoError(t, err)
	check.Equal(t, "Desk lamp", got.Name)
	check.True(t, got.EndAt.Equal(edit.EndAt))
	check.Equal(t, "seller", got.CreatorID)

	missing := newItem(now, now.Add(time.Hour), "10.00")
	err = s.InTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.UpdateItem(ctx, missing)
	})
	check.True(t, errors.Is(err, apperr.ErrItemNotFound))
}
