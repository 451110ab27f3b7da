package service

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/aaronwang/bidlord/shared/apperr"
	"github.com/aaronwang/bidlord/shared/ledger"
	"github.com/aaronwang/bidlord/shared/models"
	"github.com/google/uuid"
)

// BidQueue accepts bid jobs for asynchronous processing
type BidQueue interface {
	EnqueueBid(ctx context.Context, job *models.BidJob) error
}

// BiddingService handles the gateway side of bidding: validating submissions, queueing them
// and serving auction reads. It never applies a bid itself.
type BiddingService struct {
	queue  BidQueue
	store  ledger.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewBiddingService creates a new bidding service
func NewBiddingService(queue BidQueue, store ledger.Store, logger *slog.Logger) *BiddingService {
	if logger == nil {
		logger = slog.Default()
	}
	return &BiddingService{queue: queue, store: store, logger: logger, now: time.Now}
}

// SubmitBid validates a bid and enqueues it. The returned bid id identifies the job; the
// outcome is announced on the auction's live channel.
func (s *BiddingService) SubmitBid(ctx context.Context, auctionID uuid.UUID, userID string, req *models.BidRequest) (*models.BidQueuedResponse, error) {
	if userID == "" {
		return nil, apperr.Validation("user id is required")
	}
	if req.Amount == nil || math.IsNaN(*req.Amount) || math.IsInf(*req.Amount, 0) || *req.Amount <= 0 {
		return nil, apperr.ErrInvalidAmount
	}

	job := &models.BidJob{
		BidID:       uuid.New(),
		UserID:      userID,
		AuctionID:   auctionID,
		Amount:      *req.Amount,
		SubmittedAt: s.now().UTC(),
	}
	if !job.Price().IsPositive() {
		return nil, apperr.ErrInvalidAmount
	}

	if err := s.queue.EnqueueBid(ctx, job); err != nil {
		return nil, err
	}

	s.logger.Info("Bid queued",
		slog.String("auction_id", auctionID.String()),
		slog.String("bid_id", job.BidID.String()),
		slog.String("user_id", userID))

	return &models.BidQueuedResponse{
		Status:    "queued",
		Message:   "Your bid has been received and is being processed",
		BidID:     job.BidID,
		AuctionID: auctionID,
	}, nil
}

// GetAuction returns an auction with its item and bid history
func (s *BiddingService) GetAuction(ctx context.Context, id uuid.UUID) (*models.AuctionView, error) {
	d, err := s.store.GetAuction(ctx, id)
	if err != nil {
		return nil, err
	}
	bids, err := s.store.ListBids(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.AuctionView{AuctionDetail: *d, Bids: bids, BidCount: len(bids)}, nil
}

// ListAuctions returns live or finished auctions, newest first
func (s *BiddingService) ListAuctions(ctx context.Context, live bool, limit int) ([]*models.AuctionDetail, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	return s.store.ListAuctions(ctx, live, limit)
}
