package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MinAuctionDuration is the shortest allowed window between an item's start and end
const MinAuctionDuration = 30 * time.Minute

// Currency is the currency an item is priced in
type Currency string

// Currency constants
const (
	CurrencyDollars Currency = "Dollars"
	CurrencyPounds  Currency = "Pounds"
	CurrencyNaira   Currency = "Naira"
	CurrencyEuro    Currency = "Euro"
)

// Valid reports whether c is one of the supported currencies
func (c Currency) Valid() bool {
	switch c {
	case CurrencyDollars, CurrencyPounds, CurrencyNaira, CurrencyEuro:
		return true
	}
	return false
}

// AuctionItem represents an item listed for auction
type AuctionItem struct {
	ID           uuid.UUID       `json:"id"`
	CreatorID    string          `json:"creator_id"`
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	StartAt      time.Time       `json:"auction_start_date"`
	EndAt        time.Time       `json:"auction_end_date"`
	InitialPrice decimal.Decimal `json:"initial_price"`
	ActivePrice  decimal.Decimal `json:"active_price"` // mirrors the auction's current price once live
	Currency     Currency        `json:"price_currency"`
	Deleted      bool            `json:"is_deleted"`
	Archived     bool            `json:"is_archived"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Available reports whether the item is neither deleted nor archived
func (i *AuctionItem) Available() bool {
	return !i.Deleted && !i.Archived
}

// InWindow reports whether t falls inside [StartAt, EndAt)
func (i *AuctionItem) InWindow(t time.Time) bool {
	return !t.Before(i.StartAt) && t.Before(i.EndAt)
}

// Started reports whether the item's auction window has opened at t
func (i *AuctionItem) Started(t time.Time) bool {
	return !t.Before(i.StartAt)
}

// Ended reports whether the item's auction window has closed at t
func (i *AuctionItem) Ended(t time.Time) bool {
	return !t.Before(i.EndAt)
}

// ItemRequest represents the incoming item listing request from API
type ItemRequest struct {
	Name         string    `json:"item_name"`
	Description  string    `json:"details"`
	StartAt      time.Time `json:"auction_start_date"`
	EndAt        time.Time `json:"auction_end_date"`
	InitialPrice float64   `json:"initial_price"`
	Currency     Currency  `json:"price_currency"`
}
