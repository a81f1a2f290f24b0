package coordinator

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"clearline/core/types"
)

const (
	EventTypeTransactionCreated = "coord.tx.created"
	EventTypeTransitioned       = "coord.tx.transitioned"
	EventTypeEscrowLinked       = "coord.escrow.linked"
	EventTypeAttestation        = "coord.attestation.anchored"
	EventTypeFeeAccrued         = "coord.fee.accrued"
	EventTypeMediatorPaid       = "coord.mediator.paid"
	EventTypePayoutMismatch     = "coord.payout.mismatch"
	EventTypeArchiveFailed      = "coord.archive.failed"
	EventTypeReputationSkipped  = "coord.reputation.skipped"
)

type coordEvent struct {
	evt *types.Event
}

func (e coordEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e coordEvent) Event() *types.Event { return e.evt }

func txAttrs(tx *Transaction) map[string]string {
	attrs := make(map[string]string)
	if tx == nil {
		return attrs
	}
	attrs["txId"] = hex.EncodeToString(tx.ID[:])
	attrs["requester"] = hex.EncodeToString(tx.Requester[:])
	attrs["provider"] = hex.EncodeToString(tx.Provider[:])
	if tx.Amount != nil {
		attrs["amount"] = tx.Amount.String()
	}
	return attrs
}

func newCreatedEvent(tx *Transaction) coordEvent {
	attrs := txAttrs(tx)
	attrs["feeBps"] = strconv.FormatUint(uint64(tx.FeeBps), 10)
	attrs["deadline"] = strconv.FormatInt(tx.Deadline, 10)
	attrs["disputeWindow"] = strconv.FormatInt(tx.DisputeWindow, 10)
	attrs["serviceHash"] = hex.EncodeToString(tx.ServiceHash[:])
	return coordEvent{evt: &types.Event{Type: EventTypeTransactionCreated, Attributes: attrs}}
}

func newTransitionedEvent(tx *Transaction, from, to Status, actor [20]byte) coordEvent {
	attrs := txAttrs(tx)
	attrs["from"] = from.String()
	attrs["to"] = to.String()
	attrs["actor"] = hex.EncodeToString(actor[:])
	attrs["at"] = strconv.FormatInt(tx.UpdatedAt, 10)
	return coordEvent{evt: &types.Event{Type: EventTypeTransitioned, Attributes: attrs}}
}

func newEscrowLinkedEvent(tx *Transaction) coordEvent {
	attrs := txAttrs(tx)
	attrs["vault"] = hex.EncodeToString(tx.Vault[:])
	attrs["escrowId"] = hex.EncodeToString(tx.EscrowID[:])
	return coordEvent{evt: &types.Event{Type: EventTypeEscrowLinked, Attributes: attrs}}
}

func newAttestationEvent(tx *Transaction, actor [20]byte) coordEvent {
	attrs := txAttrs(tx)
	attrs["attestationId"] = hex.EncodeToString(tx.AttestationID[:])
	attrs["actor"] = hex.EncodeToString(actor[:])
	return coordEvent{evt: &types.Event{Type: EventTypeAttestation, Attributes: attrs}}
}

func newFeeAccruedEvent(tx *Transaction, fee *big.Int) coordEvent {
	attrs := txAttrs(tx)
	if fee != nil {
		attrs["fee"] = fee.String()
	}
	attrs["feeBps"] = strconv.FormatUint(uint64(tx.FeeBps), 10)
	return coordEvent{evt: &types.Event{Type: EventTypeFeeAccrued, Attributes: attrs}}
}

func newMediatorPaidEvent(tx *Transaction, mediator [20]byte, amount *big.Int) coordEvent {
	attrs := txAttrs(tx)
	attrs["mediator"] = hex.EncodeToString(mediator[:])
	if amount != nil {
		attrs["amount"] = amount.String()
	}
	return coordEvent{evt: &types.Event{Type: EventTypeMediatorPaid, Attributes: attrs}}
}

func newPayoutMismatchEvent(tx *Transaction, recipient [20]byte, expected, actual *big.Int) coordEvent {
	attrs := txAttrs(tx)
	attrs["recipient"] = hex.EncodeToString(recipient[:])
	if expected != nil {
		attrs["expected"] = expected.String()
	}
	if actual != nil {
		attrs["actual"] = actual.String()
	}
	return coordEvent{evt: &types.Event{Type: EventTypePayoutMismatch, Attributes: attrs}}
}

func newArchiveFailedEvent(tx *Transaction, amount *big.Int, reason string) coordEvent {
	attrs := txAttrs(tx)
	if amount != nil {
		attrs["amount"] = amount.String()
	}
	attrs["reason"] = reason
	return coordEvent{evt: &types.Event{Type: EventTypeArchiveFailed, Attributes: attrs}}
}

func newReputationSkippedEvent(tx *Transaction, reason string) coordEvent {
	attrs := txAttrs(tx)
	attrs["reason"] = reason
	return coordEvent{evt: &types.Event{Type: EventTypeReputationSkipped, Attributes: attrs}}
}
