// Package queue carries bid jobs between the gateway and the bid workers over NATS JetStream
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

const (
	// JobStream holds pending bid jobs, one message per submission
	JobStream = "AUCTION_JOBS"
	// FailedStream holds jobs that exhausted their retries
	FailedStream = "AUCTION_JOBS_FAILED"
	// ConsumerName is the durable consumer shared by every bid worker
	ConsumerName = "bid-processor"

	bidSubjectPrefix = "jobs.process_bid."
	// FailedBidSubject receives dead-lettered bid jobs
	FailedBidSubject = "jobs.failed.process_bid"
)

// BidSubject returns the subject a job for auctionID is published on
func BidSubject(auctionID string) string {
	return bidSubjectPrefix + auctionID
}

// EnsureStreams creates or updates the job and failed-job streams
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        JobStream,
		Description: "Bid jobs waiting to be processed",
		Subjects:    []string{bidSubjectPrefix + "*"},
		Storage:     jetstream.FileStorage,     // Persistent storage
		Retention:   jetstream.WorkQueuePolicy, // Each job consumed once
		MaxAge:      24 * time.Hour,
		Duplicates:  2 * time.Minute, // Nats-Msg-Id dedupe window
		Replicas:    1,
	})
	if err != nil {
		return fmt.Errorf("failed to create/update stream %s: %w", JobStream, err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        FailedStream,
		Description: "Bid jobs that exhausted their retries",
		Subjects:    []string{"jobs.failed.>"},
		Storage:     jetstream.FileStorage,
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour,
		Replicas:    1,
	})
	if err != nil {
		return fmt.Errorf("failed to create/update stream %s: %w", FailedStream, err)
	}
	return nil
}

// ConsumerConfig is the durable pull consumer for bid jobs. Every message is delivered at
// most 1+maxRetries times.
func ConsumerConfig(maxRetries int, ackWait time.Duration) jetstream.ConsumerConfig {
	return jetstream.ConsumerConfig{
		Durable:       ConsumerName,
		Description:   "Applies bid jobs to the ledger",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       ackWait,
		MaxDeliver:    maxRetries + 1,
		FilterSubject: bidSubjectPrefix + "*",
	}
}
