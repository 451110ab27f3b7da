package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/aaronwang/bidlord/shared/apperr"
	"github.com/aaronwang/bidlord/shared/ledger"
	"github.com/aaronwang/bidlord/shared/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Schedule is the index the scheduler promotes items from
type Schedule interface {
	Add(ctx context.Context, itemID uuid.UUID, startAt time.Time) error
	Remove(ctx context.Context, itemID string) error
}

// ItemService registers and withdraws items for auction
type ItemService struct {
	store    ledger.Store
	schedule Schedule
	logger   *slog.Logger
	now      func() time.Time
}

// NewItemService creates an ItemService
func NewItemService(store ledger.Store, schedule Schedule, logger *slog.Logger) *ItemService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ItemService{store: store, schedule: schedule, logger: logger, now: time.Now}
}

// CreateItem validates and stores a new item, then schedules its auction
func (s *ItemService) CreateItem(ctx context.Context, creatorID string, req *models.ItemRequest) (*models.AuctionItem, error) {
	if creatorID == "" {
		return nil, apperr.Validation("user id is required")
	}
	item := &models.AuctionItem{ID: uuid.New(), CreatorID: creatorID}
	if err := s.applyRequest(item, req); err != nil {
		return nil, err
	}
	if err := s.store.CreateItem(ctx, item); err != nil {
		return nil, err
	}

	// The item is durable at this point; a missed index write is repaired by RebuildIndex
	s.reschedule(ctx, item)

	s.logger.Info("Item registered",
		slog.String("item_id", item.ID.String()),
		slog.Time("start", item.StartAt),
		slog.Time("end", item.EndAt))
	return item, nil
}

// UpdateItem replaces the editable fields of an item that has not been promoted yet.
// The request is validated exactly like a new registration.
func (s *ItemService) UpdateItem(ctx context.Context, userID string, id uuid.UUID, req *models.ItemRequest) (*models.AuctionItem, error) {
	var item *models.AuctionItem
	err := s.store.InTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		cur, err := s.loadOwned(ctx, tx, userID, id)
		if err != nil {
			return err
		}
		if cur.Started(s.now()) {
			return apperr.ErrItemStarted
		}
		exists, err := tx.AuctionExistsForItem(ctx, id)
		if err != nil {
			return err
		}
		if exists {
			return apperr.ErrAuctionExists
		}
		if err := s.applyRequest(cur, req); err != nil {
			return err
		}
		if err := tx.UpdateItem(ctx, cur); err != nil {
			return err
		}
		item = cur
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.reschedule(ctx, item)
	s.logger.Info("Item updated",
		slog.String("item_id", item.ID.String()),
		slog.Time("start", item.StartAt),
		slog.Time("end", item.EndAt))
	return item, nil
}

// GetItem returns an item. Deleted and archived items are not found.
func (s *ItemService) GetItem(ctx context.Context, id uuid.UUID) (*models.AuctionItem, error) {
	item, err := s.store.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if !item.Available() {
		return nil, apperr.ErrItemNotFound
	}
	return item, nil
}

// DeleteItem withdraws an item. Only its creator may do so, and not once its auction
// has been created, unless that auction is already over.
func (s *ItemService) DeleteItem(ctx context.Context, userID string, id uuid.UUID) error {
	err := s.store.InTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		item, err := s.loadOwned(ctx, tx, userID, id)
		if err != nil {
			return err
		}
		now := s.now()
		if item.InWindow(now) {
			return apperr.ErrAuctionLive
		}
		if !item.Ended(now) {
			// Promoted ahead of its start
			exists, err := tx.AuctionExistsForItem(ctx, id)
			if err != nil {
				return err
			}
			if exists {
				return apperr.ErrAuctionExists
			}
		}
		return tx.SoftDeleteItem(ctx, id)
	})
	if err != nil {
		return err
	}

	if err := s.schedule.Remove(ctx, id.String()); err != nil {
		// The promotion pass skips deleted items anyway
		s.logger.Warn("Failed to unschedule item", slog.String("item_id", id.String()), slog.Any("error", err))
	}
	s.logger.Info("Item deleted", slog.String("item_id", id.String()))
	return nil
}

// loadOwned locks an item for userID, who must have created it
func (s *ItemService) loadOwned(ctx context.Context, tx ledger.Tx, userID string, id uuid.UUID) (*models.AuctionItem, error) {
	item, err := tx.LoadItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Deleted {
		return nil, apperr.ErrItemNotFound
	}
	if item.CreatorID != userID {
		return nil, apperr.ErrNotItemOwner
	}
	return item, nil
}

// applyRequest validates req and copies it onto item
func (s *ItemService) applyRequest(item *models.AuctionItem, req *models.ItemRequest) error {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return apperr.Validation("item_name is required")
	}
	if req.InitialPrice <= 0 {
		return apperr.Validation("initial_price must be greater than zero")
	}
	if req.StartAt.IsZero() || req.EndAt.IsZero() {
		return apperr.Validation("auction_start_date and auction_end_date are required")
	}
	if req.EndAt.Before(req.StartAt.Add(models.MinAuctionDuration)) {
		return apperr.Validation("auction must run for at least %s", models.MinAuctionDuration)
	}
	if !req.EndAt.After(s.now()) {
		return apperr.Validation("auction_end_date must be in the future")
	}
	currency := req.Currency
	if currency == "" {
		currency = models.CurrencyDollars
	}
	if !currency.Valid() {
		return apperr.Validation("unsupported currency %q", currency)
	}

	price := decimal.NewFromFloat(req.InitialPrice).Round(2)
	if !price.IsPositive() {
		return apperr.Validation("initial_price must be greater than zero")
	}

	item.Name = name
	item.Description = req.Description
	item.StartAt = req.StartAt.UTC()
	item.EndAt = req.EndAt.UTC()
	item.InitialPrice = price
	item.ActivePrice = price
	item.Currency = currency
	return nil
}

// reschedule writes the item's start into the index. Add overwrites an existing entry.
func (s *ItemService) reschedule(ctx context.Context, item *models.AuctionItem) {
	if err := s.schedule.Add(ctx, item.ID, item.StartAt); err != nil {
		s.logger.Warn("Failed to schedule item",
			slog.String("item_id", item.ID.String()),
			slog.Any("error", err))
	}
}
