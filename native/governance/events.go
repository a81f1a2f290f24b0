package governance

import (
	"encoding/hex"
	"strconv"

	"clearline/core/types"
)

const (
	EventTypeAdminProposed     = "gov.admin.proposed"
	EventTypeAdminAccepted     = "gov.admin.accepted"
	EventTypePaused            = "gov.paused"
	EventTypeParamsScheduled   = "gov.params.scheduled"
	EventTypeParamsExecuted    = "gov.params.executed"
	EventTypeParamsCancelled   = "gov.params.cancelled"
	EventTypeRegistryScheduled = "gov.registry.scheduled"
	EventTypeRegistryExecuted  = "gov.registry.executed"
	EventTypeRegistryCancelled = "gov.registry.cancelled"
	EventTypeMediatorApproved  = "gov.mediator.approved"
	EventTypeMediatorRevoked   = "gov.mediator.revoked"
	EventTypeVaultApproval     = "gov.vault.approval"
)

type govEvent struct {
	evt *types.Event
}

func (e govEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e govEvent) Event() *types.Event { return e.evt }

func newGovEvent(eventType string, attrs map[string]string) govEvent {
	return govEvent{evt: &types.Event{Type: eventType, Attributes: attrs}}
}

func newAdminProposedEvent(current, proposed [20]byte) govEvent {
	return newGovEvent(EventTypeAdminProposed, map[string]string{
		"admin":    hex.EncodeToString(current[:]),
		"proposed": hex.EncodeToString(proposed[:]),
	})
}

func newAdminAcceptedEvent(previous, admin [20]byte) govEvent {
	return newGovEvent(EventTypeAdminAccepted, map[string]string{
		"previous": hex.EncodeToString(previous[:]),
		"admin":    hex.EncodeToString(admin[:]),
	})
}

func newPausedEvent(caller [20]byte, paused bool) govEvent {
	return newGovEvent(EventTypePaused, map[string]string{
		"caller": hex.EncodeToString(caller[:]),
		"paused": strconv.FormatBool(paused),
	})
}

func newParamsScheduledEvent(change *ParamChange) govEvent {
	return newGovEvent(EventTypeParamsScheduled, paramAttrs(change))
}

func newParamsExecutedEvent(change *ParamChange) govEvent {
	return newGovEvent(EventTypeParamsExecuted, paramAttrs(change))
}

func newParamsCancelledEvent(change *ParamChange) govEvent {
	return newGovEvent(EventTypeParamsCancelled, paramAttrs(change))
}

func paramAttrs(change *ParamChange) map[string]string {
	attrs := make(map[string]string)
	if change == nil {
		return attrs
	}
	attrs["feeBps"] = strconv.FormatUint(uint64(change.FeeBps), 10)
	attrs["penaltyBps"] = strconv.FormatUint(uint64(change.PenaltyBps), 10)
	attrs["executeAfter"] = strconv.FormatInt(change.ExecuteAfter, 10)
	return attrs
}

func newRegistryScheduledEvent(swap *RegistrySwap) govEvent {
	attrs := make(map[string]string)
	if swap != nil {
		attrs["registry"] = hex.EncodeToString(swap.Registry[:])
		attrs["executeAfter"] = strconv.FormatInt(swap.ExecuteAfter, 10)
	}
	return newGovEvent(EventTypeRegistryScheduled, attrs)
}

func newRegistryExecutedEvent(registry [20]byte) govEvent {
	return newGovEvent(EventTypeRegistryExecuted, map[string]string{
		"registry": hex.EncodeToString(registry[:]),
	})
}

func newRegistryCancelledEvent(registry [20]byte) govEvent {
	return newGovEvent(EventTypeRegistryCancelled, map[string]string{
		"registry": hex.EncodeToString(registry[:]),
	})
}

func newMediatorApprovedEvent(record *Mediator) govEvent {
	attrs := make(map[string]string)
	if record != nil {
		attrs["mediator"] = hex.EncodeToString(record.Addr[:])
		attrs["activatesAt"] = strconv.FormatInt(record.ActivatesAt, 10)
	}
	return newGovEvent(EventTypeMediatorApproved, attrs)
}

func newMediatorRevokedEvent(record *Mediator) govEvent {
	attrs := make(map[string]string)
	if record != nil {
		attrs["mediator"] = hex.EncodeToString(record.Addr[:])
		attrs["revokedAt"] = strconv.FormatInt(record.RevokedAt, 10)
	}
	return newGovEvent(EventTypeMediatorRevoked, attrs)
}

func newVaultApprovalEvent(vault [20]byte, approved bool) govEvent {
	return newGovEvent(EventTypeVaultApproval, map[string]string{
		"vault":    hex.EncodeToString(vault[:]),
		"approved": strconv.FormatBool(approved),
	})
}
