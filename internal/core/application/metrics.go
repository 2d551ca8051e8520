package application

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "qortd"

var (
	// TrimmedStates counts the AT states whose payload has been dropped.
	TrimmedStates = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "retention",
		Name:      "trimmed_states_total",
		Help:      "Number of AT states trimmed.",
	})
	// PrunedStates counts the deleted AT states.
	PrunedStates = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "retention",
		Name:      "pruned_states_total",
		Help:      "Number of AT states pruned.",
	})
	// Watermarks exposes the trim and prune heights.
	Watermarks = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "retention",
		Name:      "watermark_height",
		Help:      "First height not yet trimmed or pruned.",
	}, []string{"kind"})
	// RetentionFailures ...
	RetentionFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "retention",
		Name:      "failures_total",
		Help:      "Number of failed trim or prune batches.",
	}, []string{"kind"})

	// TradeBotTicks ...
	TradeBotTicks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "tradebot",
		Name:      "ticks_total",
		Help:      "Number of trade bot ticks.",
	})
	// TradeBotTickDuration ...
	TradeBotTickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "tradebot",
		Name:      "tick_duration_seconds",
		Help:      "Duration of trade bot ticks.",
		Buckets:   prometheus.DefBuckets,
	})
	// TradeBotTransitions counts the state changes, labelled by target state.
	TradeBotTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "tradebot",
		Name:      "transitions_total",
		Help:      "Number of trade state transitions.",
	}, []string{"state"})
	// TradeBotFailures counts the failed trade steps, labelled by state.
	TradeBotFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "tradebot",
		Name:      "failures_total",
		Help:      "Number of failed trade steps.",
	}, []string{"state"})

	// AppliedBlocks ...
	AppliedBlocks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "atstate",
		Name:      "applied_blocks_total",
		Help:      "Number of blocks applied to the AT state store.",
	})
	// OrphanedBlocks ...
	OrphanedBlocks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "atstate",
		Name:      "orphaned_blocks_total",
		Help:      "Number of blocks rolled back from the AT state store.",
	})
)

// RegisterMetrics registers every collector of the daemon to reg.
func RegisterMetrics(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		TrimmedStates, PrunedStates, Watermarks, RetentionFailures,
		TradeBotTicks, TradeBotTickDuration, TradeBotTransitions,
		TradeBotFailures, AppliedBlocks, OrphanedBlocks,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
