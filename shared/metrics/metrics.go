// Package metrics holds the Prometheus collectors of the auction engine.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bidlord"

// Bid outcome labels
const (
	OutcomeAccepted  = "accepted"
	OutcomeRejected  = "rejected"
	OutcomeDuplicate = "duplicate"
	OutcomeRetried   = "retried"
	OutcomeFailed    = "failed"
	OutcomeMalformed = "malformed"
)

// Scheduler pass labels
const (
	PassPromote = "promote"
	PassClose   = "close"
)

// Metrics is the collector set
type Metrics struct {
	Registry *prometheus.Registry

	bids            *prometheus.CounterVec
	bidRetries      prometheus.Counter
	promoted        prometheus.Counter
	closed          prometheus.Counter
	schedulerErrors *prometheus.CounterVec
	schedulePending prometheus.Gauge
	subscribers     prometheus.Gauge
}

// New creates and registers every collector on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		bids: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bids_total",
			Help:      "Bid jobs handled, by outcome.",
		}, []string{"outcome"}),
		bidRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bid_retries_total",
			Help:      "Bid jobs handed back to the queue for redelivery.",
		}),
		promoted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auctions_promoted_total",
			Help:      "Auctions created from scheduled items.",
		}),
		closed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auctions_closed_total",
			Help:      "Auctions closed after their end date.",
		}),
		schedulerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_errors_total",
			Help:      "Per-entry failures of scheduler passes.",
		}, []string{"pass"}),
		schedulePending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "schedule_pending",
			Help:      "Items waiting in the promotion schedule.",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "broadcast_subscribers",
			Help:      "Live viewer connections.",
		}),
	}
	reg.MustRegister(
		m.bids, m.bidRetries, m.promoted, m.closed, m.schedulerErrors, m.schedulePending, m.subscribers,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// BidOutcome counts one handled bid job
func (m *Metrics) BidOutcome(outcome string) {
	if m == nil {
		return
	}
	m.bids.WithLabelValues(outcome).Inc()
	if outcome == OutcomeRetried {
		m.bidRetries.Inc()
	}
}

// AuctionsPromoted adds n created auctions
func (m *Metrics) AuctionsPromoted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.promoted.Add(float64(n))
}

// AuctionsClosed adds n closed auctions
func (m *Metrics) AuctionsClosed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.closed.Add(float64(n))
}

// SchedulerErrors adds n failed entries of pass
func (m *Metrics) SchedulerErrors(pass string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.schedulerErrors.WithLabelValues(pass).Add(float64(n))
}

// SchedulePending records the size of the promotion schedule
func (m *Metrics) SchedulePending(n int64) {
	if m == nil {
		return
	}
	m.schedulePending.Set(float64(n))
}

// SubscriberAdded and SubscriberRemoved track live viewers
func (m *Metrics) SubscriberAdded() {
	if m == nil {
		return
	}
	m.subscribers.Inc()
}

func (m *Metrics) SubscriberRemoved() {
	if m == nil {
		return
	}
	m.subscribers.Dec()
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Serve starts a /metrics listener on addr. It returns nil when addr is empty.
func (m *Metrics) Serve(addr string, logger *slog.Logger) (*http.Server, error) {
	if addr == "" {
		return nil, nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server error", slog.Any("error", err))
		}
	}()
	logger.Info("Metrics listening", slog.String("addr", ln.Addr().String()))
	return srv, nil
}
