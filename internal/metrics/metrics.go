package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "keeper"

// Metrics groups the keeper's prometheus collectors.
type Metrics struct {
	Events          *prometheus.CounterVec
	Actions         *prometheus.CounterVec
	Outcomes        *prometheus.CounterVec
	Skipped         *prometheus.CounterVec
	TrackedUsers    prometheus.Gauge
	OpenAuctions    prometheus.Gauge
	LastBlock       prometheus.Gauge
	BlockProcessing prometheus.Histogram
}

// New builds the collectors and registers them with reg. A nil reg leaves them
// unregistered, which tests rely on.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Events processed by the loop, by kind.",
		}, []string{"kind"}),
		Actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_emitted_total",
			Help:      "Actions handed to the submitter, by type.",
		}, []string{"type"}),
		Outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "action_outcomes_total",
			Help:      "Submission outcomes, by action type and status.",
		}, []string{"type", "status"}),
		Skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "opportunities_skipped_total",
			Help:      "Opportunities not acted on, by reason.",
		}, []string{"reason"}),
		TrackedUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracked_positions",
			Help:      "Positions currently tracked.",
		}),
		OpenAuctions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_auctions",
			Help:      "Auctions currently open.",
		}),
		LastBlock: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_block",
			Help:      "Last block processed by the loop.",
		}),
		BlockProcessing: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "block_processing_seconds",
			Help:      "Time spent handling a new block.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.Events,
			m.Actions,
			m.Outcomes,
			m.Skipped,
			m.TrackedUsers,
			m.OpenAuctions,
			m.LastBlock,
			m.BlockProcessing,
		)
	}
	return m
}
