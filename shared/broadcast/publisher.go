// Package broadcast fans auction events out to live viewers over Redis Pub/Sub
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aaronwang/bidlord/shared/apperr"
	"github.com/aaronwang/bidlord/shared/models"
	"github.com/redis/go-redis/v9"
)

const channelPrefix = "auction_events:"

// Pattern matches every auction channel
const Pattern = channelPrefix + "*"

// Channel returns the Pub/Sub channel for an auction
func Channel(auctionID string) string {
	return channelPrefix + auctionID
}

// AuctionIDFromChannel extracts the auction id from a channel name.
// Example: "auction_events:abc" -> "abc"
func AuctionIDFromChannel(channel string) string {
	id, ok := strings.CutPrefix(channel, channelPrefix)
	if !ok {
		return ""
	}
	return id
}

// Publisher is anything that can push an event to an auction's viewers
type Publisher interface {
	Publish(ctx context.Context, auctionID, eventType string, data any) error
}

// RedisPublisher publishes envelopes with PUBLISH. Delivery is at-most-once: viewers that
// are not subscribed at publish time never see the event.
type RedisPublisher struct {
	client redis.UniversalClient
}

// NewRedisPublisher creates a RedisPublisher
func NewRedisPublisher(client redis.UniversalClient) *RedisPublisher {
	return &RedisPublisher{client: client}
}

// Encode builds the JSON frame for an event
func Encode(auctionID, eventType string, data any) ([]byte, error) {
	payload, err := json.Marshal(models.Envelope{Type: eventType, AuctionID: auctionID, Data: data})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return payload, nil
}

// Publish implements Publisher
func (p *RedisPublisher) Publish(ctx context.Context, auctionID, eventType string, data any) error {
	payload, err := Encode(auctionID, eventType, data)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, Channel(auctionID), payload).Err(); err != nil {
		return apperr.Infrastructure("publish event", err)
	}
	return nil
}
