package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Auction is the live bidding process attached to exactly one AuctionItem.
// Auctions are created by the scheduler, never directly by a user.
type Auction struct {
	ID           uuid.UUID       `json:"id"`
	ItemID       uuid.UUID       `json:"item_id"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	Ongoing      bool            `json:"ongoing"`
	WinnerID     *string         `json:"winner,omitempty"` // set only at close, and only if a bid exists
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// AuctionDetail is an auction joined with its item, as stored
type AuctionDetail struct {
	Auction
	Item AuctionItem `json:"item_for_sale"`
}

// AcceptingBids reports whether bids may be committed at t. A withdrawn item's auction takes none.
func (d *AuctionDetail) AcceptingBids(t time.Time) bool {
	return d.Ongoing && d.Item.Available() && d.Item.InWindow(t)
}

// AuctionView is the read model returned by the API
type AuctionView struct {
	AuctionDetail
	Bids     []*Bid `json:"bids,omitempty"`
	BidCount int    `json:"bid_count"`
}
