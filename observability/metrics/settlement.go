package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type SettlementMetrics struct {
	transitions          *prometheus.CounterVec
	settlements          prometheus.Counter
	disputesOpened       prometheus.Counter
	cancellations        *prometheus.CounterVec
	resolutionRejections *prometheus.CounterVec
	feeFallbacks         *prometheus.CounterVec
	reputationSkips      prometheus.Counter
	escrowLocked         prometheus.Gauge
}

var (
	settlementOnce     sync.Once
	settlementRegistry *SettlementMetrics
)

// Settlement returns the process-wide settlement metric set, registering it
// on first use.
func Settlement() *SettlementMetrics {
	settlementOnce.Do(func() {
		settlementRegistry = &SettlementMetrics{
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "clearline_tx_transitions_total",
				Help: "Count of transaction state transitions by target state.",
			}, []string{"to"}),
			settlements: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "clearline_settlements_total",
				Help: "Count of transactions reaching settled.",
			}),
			disputesOpened: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "clearline_disputes_total",
				Help: "Count of transactions escalated to dispute.",
			}),
			cancellations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "clearline_cancellations_total",
				Help: "Count of cancellations by the state they were cancelled from.",
			}, []string{"from"}),
			resolutionRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "clearline_resolution_rejections_total",
				Help: "Count of rejected dispute resolutions by reason.",
			}, []string{"reason"}),
			feeFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "clearline_fee_fallbacks_total",
				Help: "Count of degraded fee routings by tier.",
			}, []string{"tier"}),
			reputationSkips: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "clearline_reputation_skips_total",
				Help: "Count of swallowed reputation notification failures.",
			}),
			escrowLocked: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "clearline_escrow_locked_units",
				Help: "Base units currently held across all escrow records.",
			}),
		}
		prometheus.MustRegister(
			settlementRegistry.transitions,
			settlementRegistry.settlements,
			settlementRegistry.disputesOpened,
			settlementRegistry.cancellations,
			settlementRegistry.resolutionRejections,
			settlementRegistry.feeFallbacks,
			settlementRegistry.reputationSkips,
			settlementRegistry.escrowLocked,
		)
	})
	return settlementRegistry
}

func (m *SettlementMetrics) ObserveTransition(to string) {
	if m == nil {
		return
	}
	if to == "" {
		to = "unknown"
	}
	m.transitions.WithLabelValues(to).Inc()
	switch to {
	case "settled":
		m.settlements.Inc()
	case "disputed":
		m.disputesOpened.Inc()
	}
}

func (m *SettlementMetrics) ObserveCancellation(from string) {
	if m == nil {
		return
	}
	if from == "" {
		from = "unknown"
	}
	m.cancellations.WithLabelValues(from).Inc()
}

func (m *SettlementMetrics) ObserveResolutionRejected(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.resolutionRejections.WithLabelValues(reason).Inc()
}

func (m *SettlementMetrics) ObserveFeeFallback(tier string) {
	if m == nil {
		return
	}
	m.feeFallbacks.WithLabelValues(tier).Inc()
}

func (m *SettlementMetrics) ObserveReputationSkip() {
	if m == nil {
		return
	}
	m.reputationSkips.Inc()
}

func (m *SettlementMetrics) AddEscrowLocked(delta float64) {
	if m == nil {
		return
	}
	m.escrowLocked.Add(delta)
}
