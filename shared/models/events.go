package models

import "time"

// Event types sent to live viewers
const (
	EventAuctionUpdate = "auction_update"
	EventAuctionClosed = "auction_closed"
)

// AuctionUpdate is published when a bid is accepted
type AuctionUpdate struct {
	NewPrice  string    `json:"new_price"` // decimal string, two places
	Currency  Currency  `json:"currency"`
	Bidder    string    `json:"bidder"`
	Timestamp time.Time `json:"timestamp"`
}

// AuctionClosed is published when the scheduler closes an auction
type AuctionClosed struct {
	FinalPrice string    `json:"final_price"`
	Currency   Currency  `json:"currency"`
	Winner     string    `json:"winner,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Envelope is the wire frame delivered on an auction channel.
// Data carries AuctionUpdate or AuctionClosed depending on Type.
type Envelope struct {
	Type      string `json:"type"`
	AuctionID string `json:"auction_id"`
	Data      any    `json:"data"`
}
