package escrow

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"clearline/core/types"
)

const (
	EventTypeEscrowLocked    = "escrow.locked"
	EventTypeEscrowDisbursed = "escrow.disbursed"
	EventTypeEscrowClosed    = "escrow.closed"
)

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// NewLockedEvent returns the canonical payload emitted when funds are pulled
// into vault custody.
func NewLockedEvent(vault [20]byte, esc *Escrow) escrowEvent {
	attrs := baseAttrs(vault, esc)
	return escrowEvent{evt: &types.Event{Type: EventTypeEscrowLocked, Attributes: attrs}}
}

// NewDisbursedEvent returns the canonical payload for a partial or full
// release to a recipient.
func NewDisbursedEvent(vault [20]byte, esc *Escrow, recipient [20]byte, amount *big.Int) escrowEvent {
	attrs := baseAttrs(vault, esc)
	attrs["recipient"] = hex.EncodeToString(recipient[:])
	if amount != nil {
		attrs["amount"] = amount.String()
	}
	return escrowEvent{evt: &types.Event{Type: EventTypeEscrowDisbursed, Attributes: attrs}}
}

// NewClosedEvent returns the payload emitted when a fully released record is
// removed from storage.
func NewClosedEvent(vault [20]byte, esc *Escrow) escrowEvent {
	attrs := baseAttrs(vault, esc)
	return escrowEvent{evt: &types.Event{Type: EventTypeEscrowClosed, Attributes: attrs}}
}

func baseAttrs(vault [20]byte, esc *Escrow) map[string]string {
	attrs := make(map[string]string)
	attrs["vault"] = hex.EncodeToString(vault[:])
	if esc == nil {
		return attrs
	}
	attrs["id"] = hex.EncodeToString(esc.ID[:])
	attrs["payer"] = hex.EncodeToString(esc.Payer[:])
	attrs["payee"] = hex.EncodeToString(esc.Payee[:])
	if esc.Total != nil {
		attrs["total"] = esc.Total.String()
	}
	if esc.Released != nil {
		attrs["released"] = esc.Released.String()
	}
	attrs["active"] = strconv.FormatBool(esc.Active)
	return attrs
}
