package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aaronwang/bidlord/shared/apperr"
	"github.com/aaronwang/bidlord/shared/metrics"
	"github.com/aaronwang/bidlord/shared/models"
	"github.com/aaronwang/bidlord/shared/queue"
	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/sync/errgroup"
)

// Handler applies one bid job
type Handler interface {
	Process(ctx context.Context, job *models.BidJob) (*models.BidAccepted, error)
}

// DeadLetterer records jobs that exhausted their retries
type DeadLetterer interface {
	PublishFailed(ctx context.Context, failed *queue.FailedJob) error
}

// Message is the part of jetstream.Msg the consumer needs
type Message interface {
	Data() []byte
	Metadata() (*jetstream.MsgMetadata, error)
	Ack() error
	NakWithDelay(delay time.Duration) error
	Term() error
}

// Options tunes the worker pool
type Options struct {
	Workers        int
	Policy         queue.RetryPolicy
	ProcessTimeout time.Duration
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
}

// JetStreamConsumer pulls bid jobs from the durable consumer and hands them to a pool of workers
type JetStreamConsumer struct {
	cons    jetstream.Consumer
	handler Handler
	dlq     DeadLetterer
	opts    Options
	logger  *slog.Logger
}

// NewJetStreamConsumer creates a JetStreamConsumer
func NewJetStreamConsumer(cons jetstream.Consumer, handler Handler, dlq DeadLetterer, opts Options) *JetStreamConsumer {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.ProcessTimeout <= 0 {
		opts.ProcessTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &JetStreamConsumer{cons: cons, handler: handler, dlq: dlq, opts: opts, logger: opts.Logger}
}

// Run blocks until ctx is cancelled or a worker fails to start
func (c *JetStreamConsumer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := range c.opts.Workers {
		g.Go(func() error {
			return c.work(ctx, i)
		})
	}
	c.logger.Info("Consuming bid jobs", slog.Int("workers", c.opts.Workers))
	return g.Wait()
}

func (c *JetStreamConsumer) work(ctx context.Context, worker int) error {
	it, err := c.cons.Messages()
	if err != nil {
		return fmt.Errorf("failed to open message iterator: %w", err)
	}
	defer it.Stop()
	stop := context.AfterFunc(ctx, it.Stop)
	defer stop()

	for {
		msg, err := it.Next()
		if err != nil {
			if errors.Is(err, jetstream.ErrMsgIteratorClosed) || ctx.Err() != nil {
				return nil
			}
			c.logger.Warn("Failed to fetch bid job", slog.Int("worker", worker), slog.Any("error", err))
			continue
		}
		c.Handle(ctx, msg)
	}
}

// Handle processes one delivery and settles it
func (c *JetStreamConsumer) Handle(ctx context.Context, msg Message) {
	var job models.BidJob
	if err := json.Unmarshal(msg.Data(), &job); err != nil {
		c.logger.Error("Dropping malformed bid job", slog.Any("error", err))
		c.opts.Metrics.BidOutcome(metrics.OutcomeMalformed)
		c.settle(msg.Term, "term", job)
		return
	}

	attempt := uint64(1)
	if meta, err := msg.Metadata(); err == nil && meta.NumDelivered > 0 {
		attempt = meta.NumDelivered
	}

	// An in-flight job finishes even during shutdown
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.ProcessTimeout)
	defer cancel()
	_, err := c.handler.Process(pctx, &job)

	log := c.logger.With(
		slog.String("auction_id", job.AuctionID.String()),
		slog.String("bid_id", job.BidID.String()),
		slog.Uint64("attempt", attempt))

	switch c.opts.Policy.Decide(err, attempt) {
	case queue.Ack:
		c.opts.Metrics.BidOutcome(outcome(err))
		if err != nil {
			log.Info("Bid rejected", slog.String("reason", err.Error()))
		}
		c.settle(msg.Ack, "ack", job)

	case queue.Retry:
		c.opts.Metrics.BidOutcome(metrics.OutcomeRetried)
		log.Warn("Bid job failed, retrying", slog.Duration("delay", c.opts.Policy.Delay), slog.Any("error", err))
		c.settle(func() error { return msg.NakWithDelay(c.opts.Policy.Delay) }, "nak", job)

	case queue.DeadLetter:
		c.opts.Metrics.BidOutcome(metrics.OutcomeFailed)
		log.Error("Bid job exhausted retries", slog.Any("error", err))
		failed := &queue.FailedJob{Job: job, Attempts: attempt, Error: err.Error(), FailedAt: time.Now().UTC()}
		if derr := c.dlq.PublishFailed(pctx, failed); derr != nil {
			log.Error("Failed to record failed bid job", slog.Any("error", derr))
		}
		c.settle(msg.Term, "term", job)
	}
}

func (c *JetStreamConsumer) settle(fn func() error, action string, job models.BidJob) {
	if err := fn(); err != nil {
		c.logger.Warn("Failed to settle message",
			slog.String("action", action),
			slog.String("bid_id", job.BidID.String()),
			slog.Any("error", err))
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeAccepted
	case errors.Is(err, apperr.ErrDuplicateBid):
		return metrics.OutcomeDuplicate
	default:
		return metrics.OutcomeRejected
	}
}
