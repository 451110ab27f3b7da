package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aaronwang/bidlord/shared/broadcast"
	"github.com/redis/go-redis/v9"
)

// ErrSubscriptionClosed is returned by Listen when the Pub/Sub channel closes under it
var ErrSubscriptionClosed = errors.New("redis subscription closed")

// Sink receives auction events, keyed by auction id
type Sink interface {
	Broadcast(auctionID string, payload []byte)
}

// Subscriber wraps Redis Pub/Sub functionality
type Subscriber struct {
	client redis.UniversalClient
	pubsub *redis.PubSub
	logger *slog.Logger
}

// NewSubscriber creates a new Redis Pub/Sub subscriber on an existing client
func NewSubscriber(client redis.UniversalClient, logger *slog.Logger) *Subscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriber{client: client, logger: logger}
}

// SubscribeToPattern subscribes with pattern matching and waits for the server to confirm.
// broadcast.Pattern covers every auction.
func (s *Subscriber) SubscribeToPattern(ctx context.Context, pattern string) error {
	ps := s.client.PSubscribe(ctx, pattern)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return fmt.Errorf("psubscribe %s: %w", pattern, err)
	}
	s.pubsub = ps
	return nil
}

// Listen forwards every valid event to sink until ctx is done.
// This is a blocking operation - run in a goroutine
func (s *Subscriber) Listen(ctx context.Context, sink Sink) error {
	if s.pubsub == nil {
		return fmt.Errorf("not subscribed to any channel")
	}

	ch := s.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return ErrSubscriptionClosed
			}
			s.forward(msg, sink)
		}
	}
}

func (s *Subscriber) forward(msg *redis.Message, sink Sink) {
	auctionID := broadcast.AuctionIDFromChannel(msg.Channel)
	if auctionID == "" {
		s.logger.Warn("Ignoring message on unexpected channel", slog.String("channel", msg.Channel))
		return
	}
	if !json.Valid([]byte(msg.Payload)) {
		s.logger.Warn("Ignoring malformed event", slog.String("channel", msg.Channel))
		return
	}
	sink.Broadcast(auctionID, []byte(msg.Payload))
}

// Close closes the subscription. The client is owned by the caller.
func (s *Subscriber) Close() error {
	if s.pubsub != nil {
		return s.pubsub.Close()
	}
	return nil
}
