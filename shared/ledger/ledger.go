// Package ledger is the durable record of auction items, auctions and accepted bids.
//
// Every write that must be all-or-nothing goes through Store.InTx. Inside a transaction
// LoadAuction locks the auction row, so a bid commit and an auction close on the same
// auction can never interleave even if the distributed lock lease were to expire.
package ledger

import (
	"context"
	"time"

	"github.com/aaronwang/bidlord/shared/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Store is the source of truth for the auction engine
type Store interface {
	// InTx runs fn in a single transaction. The transaction commits only if fn returns nil.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetAuction(ctx context.Context, id uuid.UUID) (*models.AuctionDetail, error)
	ListAuctions(ctx context.Context, live bool, limit int) ([]*models.AuctionDetail, error)
	ListBids(ctx context.Context, auctionID uuid.UUID) ([]*models.Bid, error)

	// DueForClosure returns ongoing auctions whose item end date is <= now
	DueForClosure(ctx context.Context, now time.Time) ([]uuid.UUID, error)

	// Username resolves a bidder's display name
	Username(ctx context.Context, userID string) (string, error)

	CreateItem(ctx context.Context, item *models.AuctionItem) error
	GetItem(ctx context.Context, id uuid.UUID) (*models.AuctionItem, error)

	// SchedulableItems returns available items without an auction whose window has not closed at now
	SchedulableItems(ctx context.Context, now time.Time) ([]*models.AuctionItem, error)

	Close() error
}

// Tx is the set of operations available inside a ledger transaction
type Tx interface {
	// LoadAuction returns the auction and its item, locking both for the rest of the transaction
	LoadAuction(ctx context.Context, id uuid.UUID) (*models.AuctionDetail, error)
	LoadItem(ctx context.Context, id uuid.UUID) (*models.AuctionItem, error)
	AuctionExistsForItem(ctx context.Context, itemID uuid.UUID) (bool, error)

	// UpdateItem rewrites the item's editable fields from item
	UpdateItem(ctx context.Context, item *models.AuctionItem) error
	SoftDeleteItem(ctx context.Context, id uuid.UUID) error

	// CreateAuction inserts a; it reports false when the item already has an auction
	CreateAuction(ctx context.Context, a *models.Auction) (bool, error)

	// UpdatePrice sets the auction's current price and mirrors it to the item's active price
	UpdatePrice(ctx context.Context, auctionID, itemID uuid.UUID, price decimal.Decimal) error
	AppendBid(ctx context.Context, b *models.Bid) error
	BidExists(ctx context.Context, bidID uuid.UUID) (bool, error)

	// HighestBid returns the highest non-deleted bid, or nil when the auction has none
	HighestBid(ctx context.Context, auctionID uuid.UUID) (*models.Bid, error)
	CloseAuction(ctx context.Context, auctionID uuid.UUID, winnerID *string) error
}
