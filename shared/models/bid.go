package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Bid represents a single accepted bid on an auction. Bids are never updated once written.
type Bid struct {
	ID        uuid.UUID       `json:"id"`
	AuctionID uuid.UUID       `json:"auction_id"`
	CreatorID string          `json:"creator_id"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
	Deleted   bool            `json:"is_deleted"`
}

// BidRequest represents the incoming bid request from API
type BidRequest struct {
	Amount *float64 `json:"amount"`
}

// BidJob is the work queue payload for the process_bid job.
// BidID is assigned at submission time and doubles as the idempotency key.
type BidJob struct {
	BidID       uuid.UUID `json:"bid_id"`
	UserID      string    `json:"user_id"`
	AuctionID   uuid.UUID `json:"auction_id"`
	Amount      float64   `json:"amount"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Price returns the job amount as a two-decimal monetary value
func (j BidJob) Price() decimal.Decimal {
	return decimal.NewFromFloat(j.Amount).Round(2)
}

// BidQueuedResponse is returned by the bid submission endpoint
type BidQueuedResponse struct {
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	BidID     uuid.UUID `json:"bid_id"`
	AuctionID uuid.UUID `json:"auction_id"`
}

// BidAccepted is the outcome of a committed bid
type BidAccepted struct {
	Bid           *Bid
	PreviousPrice decimal.Decimal
	Currency      Currency
}
