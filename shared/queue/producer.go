package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aaronwang/bidlord/shared/apperr"
	"github.com/aaronwang/bidlord/shared/models"
	"github.com/nats-io/nats.go/jetstream"
)

// FailedJob is the dead-letter record for a bid job that could not be applied
type FailedJob struct {
	Job      models.BidJob `json:"job"`
	Attempts uint64        `json:"attempts"`
	Error    string        `json:"error"`
	FailedAt time.Time     `json:"failed_at"`
}

// Producer publishes bid jobs and dead letters
type Producer struct {
	js jetstream.JetStream
}

// NewProducer creates a Producer on an existing JetStream context
func NewProducer(js jetstream.JetStream) *Producer {
	return &Producer{js: js}
}

// EnqueueBid persists job on the job stream. The bid id doubles as Nats-Msg-Id so a
// resubmitted publish inside the dedupe window is stored once.
func (p *Producer) EnqueueBid(ctx context.Context, job *models.BidJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal bid job: %w", err)
	}

	// JetStream Publish waits for acknowledgment from server
	_, err = p.js.Publish(ctx, BidSubject(job.AuctionID.String()), data, jetstream.WithMsgID(job.BidID.String()))
	if err != nil {
		return apperr.Infrastructure("enqueue bid", err)
	}
	return nil
}

// PublishFailed records a job on the failed-job stream
func (p *Producer) PublishFailed(ctx context.Context, failed *FailedJob) error {
	data, err := json.Marshal(failed)
	if err != nil {
		return fmt.Errorf("failed to marshal failed job: %w", err)
	}
	if _, err := p.js.Publish(ctx, FailedBidSubject, data, jetstream.WithMsgID("failed-"+failed.Job.BidID.String())); err != nil {
		return apperr.Infrastructure("publish failed job", err)
	}
	return nil
}
