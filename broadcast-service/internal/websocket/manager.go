package websocket

import (
	"context"
	"log/slog"
	"sync"

	"github.com/aaronwang/bidlord/shared/metrics"
	"github.com/google/uuid"
)

// DefaultSendBuffer is the per-subscriber queue length before a slow viewer is dropped
const DefaultSendBuffer = 256

// Subscriber is one viewer of an auction. Send is closed when the hub drops the subscriber.
type Subscriber struct {
	ID        string
	AuctionID string
	Send      chan []byte
}

// Hub fans auction events out to subscribers. Delivery is at-most-once: a viewer sees only
// events broadcast while it is subscribed, and a subscriber whose buffer is full is
// disconnected rather than blocking the others.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[*Subscriber]struct{}
	closed      bool

	sendBuffer int

	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewHub creates a Hub. sendBuffer <= 0 uses DefaultSendBuffer.
func NewHub(sendBuffer int, m *metrics.Metrics, logger *slog.Logger) *Hub {
	if sendBuffer <= 0 {
		sendBuffer = DefaultSendBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subscribers: make(map[string]map[*Subscriber]struct{}),
		sendBuffer:  sendBuffer,
		metrics:     m,
		logger:      logger,
	}
}

// Run blocks until ctx is cancelled, then drops every subscriber. Later subscribers are
// handed an already-closed Send.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for _, set := range h.subscribers {
		for sub := range set {
			h.remove(sub)
		}
	}
}

// Subscribe registers a new viewer of auctionID
func (h *Hub) Subscribe(auctionID string) *Subscriber {
	sub := &Subscriber{
		ID:        uuid.NewString(),
		AuctionID: auctionID,
		Send:      make(chan []byte, h.sendBuffer),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(sub.Send)
		return sub
	}
	set, ok := h.subscribers[auctionID]
	if !ok {
		set = make(map[*Subscriber]struct{})
		h.subscribers[auctionID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	h.metrics.SubscriberAdded()
	h.logger.Debug("Viewer subscribed", slog.String("auction_id", auctionID), slog.String("subscriber", sub.ID))
	return sub
}

// Unsubscribe removes sub. Calling it for a subscriber already dropped is a no-op.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	removed := h.remove(sub)
	h.mu.Unlock()
	if removed {
		h.logger.Debug("Viewer unsubscribed", slog.String("auction_id", sub.AuctionID), slog.String("subscriber", sub.ID))
	}
}

// SubscriberCount returns the number of viewers of auctionID
func (h *Hub) SubscriberCount(auctionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[auctionID])
}

// Broadcast hands payload to every viewer subscribed to auctionID at the time of the call.
// It never blocks on a viewer.
func (h *Hub) Broadcast(auctionID string, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.subscribers[auctionID]
	sent, dropped := 0, 0
	for sub := range set {
		select {
		case sub.Send <- payload:
			sent++
		default:
			// Full buffer: drop the viewer instead of stalling everyone else
			h.remove(sub)
			dropped++
		}
	}
	if dropped > 0 {
		h.logger.Warn("Dropped slow viewers", slog.String("auction_id", auctionID), slog.Int("dropped", dropped))
	}
	h.logger.Debug("Broadcast delivered", slog.String("auction_id", auctionID), slog.Int("viewers", sent))
}

// remove must be called with mu held
func (h *Hub) remove(sub *Subscriber) bool {
	set, ok := h.subscribers[sub.AuctionID]
	if !ok {
		return false
	}
	if _, ok := set[sub]; !ok {
		return false
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subscribers, sub.AuctionID)
	}
	close(sub.Send)
	h.metrics.SubscriberRemoved()
	return true
}
