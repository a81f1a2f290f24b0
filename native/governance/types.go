package governance

import "fmt"

// ParamChange is a pending economic-parameter update queued behind the
// governance delay. Only one may exist at a time.
type ParamChange struct {
	FeeBps       uint32 `json:"feeBps"`
	PenaltyBps   uint32 `json:"penaltyBps"`
	ExecuteAfter int64  `json:"executeAfter"`
}

// RegistrySwap is a pending reputation-registry replacement queued behind the
// governance delay.
type RegistrySwap struct {
	Registry     [20]byte `json:"registry"`
	ExecuteAfter int64    `json:"executeAfter"`
}

// Mediator tracks the approval lifecycle for a dispute mediator. ActivatesAt
// gates payouts; RevokedAt drives the re-approval cooldown. Revocation clears
// the activation timestamp so a stale, already-elapsed timelock can never
// silently reactivate the mediator.
type Mediator struct {
	Addr        [20]byte `json:"addr"`
	Approved    bool     `json:"approved"`
	ActivatesAt int64    `json:"activatesAt"`
	RevokedAt   int64    `json:"revokedAt"`
}

// Active reports whether the mediator may receive dispute payouts at now.
func (m *Mediator) Active(now int64) bool {
	if m == nil || !m.Approved {
		return false
	}
	return m.ActivatesAt != 0 && now >= m.ActivatesAt
}

// State is the governance record persisted as a whole. The admin mutates it
// only through the engine's two-phase operations.
type State struct {
	Admin            [20]byte      `json:"admin"`
	PendingAdmin     [20]byte      `json:"pendingAdmin"`
	Pauser           [20]byte      `json:"pauser"`
	Paused           bool          `json:"paused"`
	FeeBps           uint32        `json:"feeBps"`
	CancelPenaltyBps uint32        `json:"cancelPenaltyBps"`
	FeeRecipient     [20]byte      `json:"feeRecipient"`
	Registry         [20]byte      `json:"registry"`
	PendingParams    *ParamChange  `json:"pendingParams,omitempty"`
	PendingRegistry  *RegistrySwap `json:"pendingRegistry,omitempty"`
}

// Clone returns a deep copy of the governance state.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	clone := *s
	if s.PendingParams != nil {
		pc := *s.PendingParams
		clone.PendingParams = &pc
	}
	if s.PendingRegistry != nil {
		rs := *s.PendingRegistry
		clone.PendingRegistry = &rs
	}
	return &clone
}

// Policy captures the runtime knobs controlling governance delays and caps.
type Policy struct {
	ParamDelaySeconds       int64
	MediatorActivationDelay int64
	MediatorRevokeCooldown  int64
	MaxFeeBps               uint32
	MaxCancelPenaltyBps     uint32
}

// Validate rejects policies that would disable the delay protections.
func (p Policy) Validate() error {
	if p.ParamDelaySeconds <= 0 {
		return fmt.Errorf("governance: param delay must be positive")
	}
	if p.MediatorActivationDelay <= 0 {
		return fmt.Errorf("governance: mediator activation delay must be positive")
	}
	if p.MediatorRevokeCooldown <= 0 {
		return fmt.Errorf("governance: mediator revoke cooldown must be positive")
	}
	if p.MaxFeeBps == 0 || p.MaxFeeBps > 10_000 {
		return fmt.Errorf("governance: max fee bps out of range")
	}
	if p.MaxCancelPenaltyBps == 0 || p.MaxCancelPenaltyBps > 10_000 {
		return fmt.Errorf("governance: max cancel penalty bps out of range")
	}
	return nil
}
