// Package governance owns the mutable platform parameters of the settlement
// coordinator: admin and pauser roles, the vault allowlist, mediator
// approvals, and the timelocked economic parameters. Every sensitive change
// follows the same two-phase schedule/execute pattern with an explicit cancel
// escape hatch before execution.
package governance

import (
	"errors"
	"fmt"
	"time"

	"clearline/core/events"
)

var (
	errNilState            = errors.New("governance: state not configured")
	ErrNotAdmin            = errors.New("governance: caller is not the admin")
	ErrNotPauser           = errors.New("governance: caller is not the pauser")
	ErrNotPendingAdmin     = errors.New("governance: caller is not the pending admin")
	ErrZeroAddress         = errors.New("governance: zero address")
	ErrPendingExists       = errors.New("governance: a pending change already exists")
	ErrNothingPending      = errors.New("governance: no pending change")
	ErrTimelockPending     = errors.New("governance: timelock not yet elapsed")
	ErrBpsOutOfRange       = errors.New("governance: bps exceeds configured maximum")
	ErrMediatorUnknown     = errors.New("governance: mediator not approved")
	ErrMediatorCooldown    = errors.New("governance: mediator revoked too recently")
	ErrNotBootstrapped     = errors.New("governance: state not bootstrapped")
	ErrAlreadyBootstrapped = errors.New("governance: already bootstrapped")
)

type governanceState interface {
	GovernanceGet() (*State, bool, error)
	GovernancePut(*State) error
	MediatorGet(addr [20]byte) (*Mediator, bool, error)
	MediatorPut(*Mediator) error
	VaultApproved(addr [20]byte) (bool, error)
	VaultSetApproved(addr [20]byte, approved bool) error
}

// Engine orchestrates governance state transitions.
type Engine struct {
	state   governanceState
	emitter events.Emitter
	nowFn   func() int64
	policy  Policy
}

// NewEngine constructs a governance engine with a no-op emitter and the
// supplied policy.
func NewEngine(policy Policy) (*Engine, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
		policy:  policy,
	}, nil
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state governanceState) { e.state = state }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source. Primarily intended for tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) load() (*State, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	st, ok, err := e.state.GovernanceGet()
	if err != nil {
		return nil, err
	}
	if !ok || st == nil {
		return nil, ErrNotBootstrapped
	}
	return st, nil
}

func (e *Engine) store(st *State) error {
	return e.state.GovernancePut(st)
}

// Bootstrap writes the initial governance record. It refuses to run twice so
// a restarted node cannot clobber live parameters.
func (e *Engine) Bootstrap(admin, pauser, feeRecipient [20]byte, feeBps, penaltyBps uint32) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if admin == ([20]byte{}) || feeRecipient == ([20]byte{}) {
		return ErrZeroAddress
	}
	if feeBps > e.policy.MaxFeeBps || penaltyBps > e.policy.MaxCancelPenaltyBps {
		return ErrBpsOutOfRange
	}
	if _, ok, err := e.state.GovernanceGet(); err != nil {
		return err
	} else if ok {
		return ErrAlreadyBootstrapped
	}
	if pauser == ([20]byte{}) {
		pauser = admin
	}
	st := &State{
		Admin:            admin,
		Pauser:           pauser,
		FeeBps:           feeBps,
		CancelPenaltyBps: penaltyBps,
		FeeRecipient:     feeRecipient,
	}
	return e.store(st)
}

func (e *Engine) requireAdmin(st *State, caller [20]byte) error {
	if caller != st.Admin {
		return ErrNotAdmin
	}
	return nil
}

// --- Role management ---

// TransferAdmin records a proposed new admin. The handoff only completes when
// the proposed party calls AcceptAdmin, so control can never be sent to an
// address that cannot act.
func (e *Engine) TransferAdmin(caller, newAdmin [20]byte) error {
	st, err := e.load()
	if err != nil {
		return err
	}
	if err := e.requireAdmin(st, caller); err != nil {
		return err
	}
	if newAdmin == ([20]byte{}) {
		return ErrZeroAddress
	}
	st.PendingAdmin = newAdmin
	if err := e.store(st); err != nil {
		return err
	}
	e.emit(newAdminProposedEvent(st.Admin, newAdmin))
	return nil
}

// AcceptAdmin completes a two-step admin transfer.
func (e *Engine) AcceptAdmin(caller [20]byte) error {
	st, err := e.load()
	if err != nil {
		return err
	}
	if st.PendingAdmin == ([20]byte{}) || caller != st.PendingAdmin {
		return ErrNotPendingAdmin
	}
	previous := st.Admin
	st.Admin = caller
	st.PendingAdmin = [20]byte{}
	if err := e.store(st); err != nil {
		return err
	}
	e.emit(newAdminAcceptedEvent(previous, caller))
	return nil
}

// SetPauser assigns the pause role. The admin always satisfies the pauser
// role as well.
func (e *Engine) SetPauser(caller, pauser [20]byte) error {
	st, err := e.load()
	if err != nil {
		return err
	}
	if err := e.requireAdmin(st, caller); err != nil {
		return err
	}
	if pauser == ([20]byte{}) {
		return ErrZeroAddress
	}
	st.Pauser = pauser
	return e.store(st)
}

// Pause halts all new coordinator state transitions. It never blocks funds
// already eligible for release and grants the pauser no fund movement.
func (e *Engine) Pause(caller [20]byte) error {
	st, err := e.load()
	if err != nil {
		return err
	}
	if caller != st.Pauser && caller != st.Admin {
		return ErrNotPauser
	}
	if st.Paused {
		return nil
	}
	st.Paused = true
	if err := e.store(st); err != nil {
		return err
	}
	e.emit(newPausedEvent(caller, true))
	return nil
}

// Unpause resumes coordinator state transitions.
func (e *Engine) Unpause(caller [20]byte) error {
	st, err := e.load()
	if err != nil {
		return err
	}
	if caller != st.Pauser && caller != st.Admin {
		return ErrNotPauser
	}
	if !st.Paused {
		return nil
	}
	st.Paused = false
	if err := e.store(st); err != nil {
		return err
	}
	e.emit(newPausedEvent(caller, false))
	return nil
}

// --- Timelocked economic parameters ---

// ScheduleParamChange queues a fee/penalty update behind the governance
// delay. Only one change may be pending at a time.
func (e *Engine) ScheduleParamChange(caller [20]byte, feeBps, penaltyBps uint32) (*ParamChange, error) {
	st, err := e.load()
	if err != nil {
		return nil, err
	}
	if err := e.requireAdmin(st, caller); err != nil {
		return nil, err
	}
	if feeBps > e.policy.MaxFeeBps || penaltyBps > e.policy.MaxCancelPenaltyBps {
		return nil, ErrBpsOutOfRange
	}
	if st.PendingParams != nil {
		return nil, ErrPendingExists
	}
	change := &ParamChange{
		FeeBps:       feeBps,
		PenaltyBps:   penaltyBps,
		ExecuteAfter: e.nowFn() + e.policy.ParamDelaySeconds,
	}
	st.PendingParams = change
	if err := e.store(st); err != nil {
		return nil, err
	}
	e.emit(newParamsScheduledEvent(change))
	pc := *change
	return &pc, nil
}

// ExecuteParamChange applies a scheduled change once its delay has elapsed.
// In-flight transactions keep the fee rate locked at their creation; the new
// rate only affects transactions created afterwards.
func (e *Engine) ExecuteParamChange(caller [20]byte) error {
	st, err := e.load()
	if err != nil {
		return err
	}
	if err := e.requireAdmin(st, caller); err != nil {
		return err
	}
	if st.PendingParams == nil {
		return ErrNothingPending
	}
	if e.nowFn() < st.PendingParams.ExecuteAfter {
		return ErrTimelockPending
	}
	applied := *st.PendingParams
	st.FeeBps = applied.FeeBps
	st.CancelPenaltyBps = applied.PenaltyBps
	st.PendingParams = nil
	if err := e.store(st); err != nil {
		return err
	}
	e.emit(newParamsExecutedEvent(&applied))
	return nil
}

// CancelParamChange discards a scheduled change before execution.
func (e *Engine) CancelParamChange(caller [20]byte) error {
	st, err := e.load()
	if err != nil {
		return err
	}
	if err := e.requireAdmin(st, caller); err != nil {
		return err
	}
	if st.PendingParams == nil {
		return ErrNothingPending
	}
	cancelled := *st.PendingParams
	st.PendingParams = nil
	if err := e.store(st); err != nil {
		return err
	}
	e.emit(newParamsCancelledEvent(&cancelled))
	return nil
}

// --- Registry hot-swap ---

// ScheduleRegistrySwap queues a reputation-registry replacement. The old
// registry's processed-transaction bookkeeping remains valid after the swap;
// idempotency is keyed by registry instance, not erased here.
func (e *Engine) ScheduleRegistrySwap(caller, registry [20]byte) (*RegistrySwap, error) {
	st, err := e.load()
	if err != nil {
		return nil, err
	}
	if err := e.requireAdmin(st, caller); err != nil {
		return nil, err
	}
	if registry == ([20]byte{}) {
		return nil, ErrZeroAddress
	}
	if st.PendingRegistry != nil {
		return nil, ErrPendingExists
	}
	swap := &RegistrySwap{
		Registry:     registry,
		ExecuteAfter: e.nowFn() + e.policy.ParamDelaySeconds,
	}
	st.PendingRegistry = swap
	if err := e.store(st); err != nil {
		return nil, err
	}
	e.emit(newRegistryScheduledEvent(swap))
	rs := *swap
	return &rs, nil
}

// ExecuteRegistrySwap applies a scheduled registry swap after its delay and
// returns the new registry address for the host to rebind.
func (e *Engine) ExecuteRegistrySwap(caller [20]byte) ([20]byte, error) {
	st, err := e.load()
	if err != nil {
		return [20]byte{}, err
	}
	if err := e.requireAdmin(st, caller); err != nil {
		return [20]byte{}, err
	}
	if st.PendingRegistry == nil {
		return [20]byte{}, ErrNothingPending
	}
	if e.nowFn() < st.PendingRegistry.ExecuteAfter {
		return [20]byte{}, ErrTimelockPending
	}
	registry := st.PendingRegistry.Registry
	st.Registry = registry
	st.PendingRegistry = nil
	if err := e.store(st); err != nil {
		return [20]byte{}, err
	}
	e.emit(newRegistryExecutedEvent(registry))
	return registry, nil
}

// CancelRegistrySwap discards a scheduled registry swap before execution.
func (e *Engine) CancelRegistrySwap(caller [20]byte) error {
	st, err := e.load()
	if err != nil {
		return err
	}
	if err := e.requireAdmin(st, caller); err != nil {
		return err
	}
	if st.PendingRegistry == nil {
		return ErrNothingPending
	}
	cancelled := st.PendingRegistry.Registry
	st.PendingRegistry = nil
	if err := e.store(st); err != nil {
		return err
	}
	e.emit(newRegistryCancelledEvent(cancelled))
	return nil
}

// --- Mediators ---

// ApproveMediator admits a mediator behind a fresh activation delay.
// Re-affirming a currently approved mediator keeps its existing activation
// time. Re-approving a revoked mediator requires the full cooldown since the
// revocation and always issues a new activation timestamp.
func (e *Engine) ApproveMediator(caller, mediator [20]byte) (*Mediator, error) {
	st, err := e.load()
	if err != nil {
		return nil, err
	}
	if err := e.requireAdmin(st, caller); err != nil {
		return nil, err
	}
	if mediator == ([20]byte{}) {
		return nil, ErrZeroAddress
	}
	now := e.nowFn()
	record, ok, err := e.state.MediatorGet(mediator)
	if err != nil {
		return nil, err
	}
	switch {
	case ok && record.Approved:
		// Idempotent re-affirmation: the running timelock is not reset.
		out := *record
		return &out, nil
	case ok && record.RevokedAt != 0:
		if now < record.RevokedAt+e.policy.MediatorRevokeCooldown {
			return nil, ErrMediatorCooldown
		}
	}
	record = &Mediator{
		Addr:        mediator,
		Approved:    true,
		ActivatesAt: now + e.policy.MediatorActivationDelay,
	}
	if err := e.state.MediatorPut(record); err != nil {
		return nil, err
	}
	e.emit(newMediatorApprovedEvent(record))
	out := *record
	return &out, nil
}

// RevokeMediator withdraws approval and starts the re-approval cooldown.
func (e *Engine) RevokeMediator(caller, mediator [20]byte) error {
	st, err := e.load()
	if err != nil {
		return err
	}
	if err := e.requireAdmin(st, caller); err != nil {
		return err
	}
	record, ok, err := e.state.MediatorGet(mediator)
	if err != nil {
		return err
	}
	if !ok || !record.Approved {
		return ErrMediatorUnknown
	}
	record.Approved = false
	record.ActivatesAt = 0
	record.RevokedAt = e.nowFn()
	if err := e.state.MediatorPut(record); err != nil {
		return err
	}
	e.emit(newMediatorRevokedEvent(record))
	return nil
}

// --- Vault allowlist ---

// ApproveVault adds a vault implementation to the allowlist consulted by the
// coordinator's escrow linking.
func (e *Engine) ApproveVault(caller, vault [20]byte) error {
	st, err := e.load()
	if err != nil {
		return err
	}
	if err := e.requireAdmin(st, caller); err != nil {
		return err
	}
	if vault == ([20]byte{}) {
		return ErrZeroAddress
	}
	if err := e.state.VaultSetApproved(vault, true); err != nil {
		return err
	}
	e.emit(newVaultApprovalEvent(vault, true))
	return nil
}

// RevokeVault removes a vault implementation from the allowlist. Existing
// escrow linkages are unaffected; only new links are blocked.
func (e *Engine) RevokeVault(caller, vault [20]byte) error {
	st, err := e.load()
	if err != nil {
		return err
	}
	if err := e.requireAdmin(st, caller); err != nil {
		return err
	}
	if err := e.state.VaultSetApproved(vault, false); err != nil {
		return err
	}
	e.emit(newVaultApprovalEvent(vault, false))
	return nil
}

// --- Queries (the coordinator's policy surface) ---

// Snapshot returns a copy of the current governance record.
func (e *Engine) Snapshot() (*State, error) {
	st, err := e.load()
	if err != nil {
		return nil, err
	}
	return st.Clone(), nil
}

// FeeBps returns the live global fee rate. The coordinator reads it exactly
// once per transaction, at creation, and locks it in.
func (e *Engine) FeeBps() (uint32, error) {
	st, err := e.load()
	if err != nil {
		return 0, err
	}
	return st.FeeBps, nil
}

// CancelPenaltyBps returns the live cancellation penalty rate.
func (e *Engine) CancelPenaltyBps() (uint32, error) {
	st, err := e.load()
	if err != nil {
		return 0, err
	}
	return st.CancelPenaltyBps, nil
}

// FeeRecipient returns the fee payout address.
func (e *Engine) FeeRecipient() ([20]byte, error) {
	st, err := e.load()
	if err != nil {
		return [20]byte{}, err
	}
	return st.FeeRecipient, nil
}

// Paused reports whether new state transitions are halted.
func (e *Engine) Paused() (bool, error) {
	st, err := e.load()
	if err != nil {
		return false, err
	}
	return st.Paused, nil
}

// IsAuthority reports whether the caller may resolve disputes (admin or
// pauser role).
func (e *Engine) IsAuthority(caller [20]byte) (bool, error) {
	st, err := e.load()
	if err != nil {
		return false, err
	}
	return caller == st.Admin || caller == st.Pauser, nil
}

// MediatorActive reports whether the mediator is approved and past its
// activation timelock at now.
func (e *Engine) MediatorActive(mediator [20]byte, now int64) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	record, ok, err := e.state.MediatorGet(mediator)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return record.Active(now), nil
}

// VaultApproved reports whether a vault address is on the allowlist.
func (e *Engine) VaultApproved(vault [20]byte) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	return e.state.VaultApproved(vault)
}

// Describe renders the policy for logging at startup.
func (e *Engine) Describe() string {
	return fmt.Sprintf("paramDelay=%ds mediatorActivation=%ds revokeCooldown=%ds maxFeeBps=%d maxPenaltyBps=%d",
		e.policy.ParamDelaySeconds, e.policy.MediatorActivationDelay, e.policy.MediatorRevokeCooldown,
		e.policy.MaxFeeBps, e.policy.MaxCancelPenaltyBps)
}
