package metrics

import (
	"strconv"

	"clearline/core/events"
	"clearline/core/types"
)

// attributed is satisfied by every native engine event; it exposes the
// underlying attribute payload.
type attributed interface {
	Event() *types.Event
}

// Observer is an emitter decorator that folds engine events into the
// settlement metric set before forwarding them.
type Observer struct {
	next    events.Emitter
	metrics *SettlementMetrics
}

// NewObserver wraps next with metric collection. A nil next discards events
// after counting them.
func NewObserver(next events.Emitter) *Observer {
	if next == nil {
		next = events.NoopEmitter{}
	}
	return &Observer{next: next, metrics: Settlement()}
}

// Emit implements the events.Emitter interface.
func (o *Observer) Emit(evt events.Event) {
	if o == nil || evt == nil {
		return
	}
	o.observe(evt)
	o.next.Emit(evt)
}

func (o *Observer) observe(evt events.Event) {
	payload, ok := evt.(attributed)
	if !ok || payload.Event() == nil {
		return
	}
	attrs := payload.Event().Attributes
	switch evt.EventType() {
	case "coord.tx.transitioned":
		to := attrs["to"]
		o.metrics.ObserveTransition(to)
		if to == "cancelled" {
			o.metrics.ObserveCancellation(attrs["from"])
		}
	case "coord.archive.failed":
		o.metrics.ObserveFeeFallback("redirect")
	case "coord.payout.mismatch":
		o.metrics.ObserveResolutionRejected("payout_mismatch")
	case "coord.reputation.skipped":
		o.metrics.ObserveReputationSkip()
	case "escrow.locked":
		if units, err := strconv.ParseFloat(attrs["total"], 64); err == nil {
			o.metrics.AddEscrowLocked(units)
		}
	case "escrow.disbursed":
		if units, err := strconv.ParseFloat(attrs["amount"], 64); err == nil {
			o.metrics.AddEscrowLocked(-units)
		}
	}
}
