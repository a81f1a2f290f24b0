// Package coordinator implements the transaction state machine and
// settlement engine at the heart of the platform. It owns per-transaction
// lifecycle, authorization and timing rules, locked fee economics, dispute
// resolution, and orchestrates calls into the escrow vault, the reputation
// registry, and the archive treasury.
package coordinator

import (
	"errors"
	"math/big"
	"sync"
	"time"

	"clearline/core/events"
	"clearline/core/types"
	"clearline/native/escrow"
)

var (
	errNilState = errors.New("coordinator: state not configured")

	ErrPaused             = errors.New("coordinator: platform paused")
	ErrNotFound           = errors.New("coordinator: transaction not found")
	ErrUnauthorized       = errors.New("coordinator: caller not permitted")
	ErrInvalidTransition  = errors.New("coordinator: transition not permitted from current state")
	ErrInvalidAmount      = errors.New("coordinator: amount out of bounds")
	ErrInvalidDeadline    = errors.New("coordinator: deadline invalid")
	ErrInvalidWindow      = errors.New("coordinator: dispute window out of bounds")
	ErrZeroAddress        = errors.New("coordinator: zero address")
	ErrSelfDealing        = errors.New("coordinator: requester and provider must differ")
	ErrDeadlinePassed     = errors.New("coordinator: deadline has passed")
	ErrDeadlineNotReached = errors.New("coordinator: deadline not yet reached")
	ErrWindowClosed       = errors.New("coordinator: dispute window has closed")
	ErrWindowOpen         = errors.New("coordinator: dispute window still open")
	ErrVaultNotApproved   = errors.New("coordinator: vault not on allowlist")
	ErrVaultUnregistered  = errors.New("coordinator: no implementation registered for vault")
	ErrEscrowUnverified   = errors.New("coordinator: escrow verification failed after creation")
	ErrMalformedProof     = errors.New("coordinator: malformed proof")
	ErrProofSum           = errors.New("coordinator: resolution legs must sum to the escrow remainder")
	ErrMediatorInactive   = errors.New("coordinator: mediator not approved or not yet active")
	ErrMediatorCap        = errors.New("coordinator: mediator payout exceeds cap")
	ErrPayoutMismatch     = errors.New("coordinator: vault released a different amount than requested")
	ErrNothingToSettle    = errors.New("coordinator: escrow remainder is zero")
)

type coordinatorState interface {
	TransactionPut(tx *Transaction) error
	TransactionGet(id [32]byte) (*Transaction, bool, error)
	RequesterNonce(addr [20]byte) (uint64, error)
	SetRequesterNonce(addr [20]byte, nonce uint64) error
	ReputationProcessed(registry [20]byte, txID [32]byte) (bool, error)
	MarkReputationProcessed(registry [20]byte, txID [32]byte) error
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, acc *types.Account) error
}

// Policy is the governance surface the coordinator consults. Fee and penalty
// rates are read through it exactly once per decision point.
type Policy interface {
	FeeBps() (uint32, error)
	CancelPenaltyBps() (uint32, error)
	FeeRecipient() ([20]byte, error)
	Paused() (bool, error)
	IsAuthority(caller [20]byte) (bool, error)
	MediatorActive(mediator [20]byte, now int64) (bool, error)
	VaultApproved(vault [20]byte) (bool, error)
}

// ReputationUpdater receives best-effort settlement notifications. Address
// identifies the registry instance for idempotency bookkeeping.
type ReputationUpdater interface {
	Address() [20]byte
	UpdateOnSettlement(provider [20]byte, txID [32]byte, amount *big.Int, disputed bool) error
}

// Treasury receives the archive slice of accrued fees. It may refuse; the
// coordinator tolerates that per the fee fallback ladder.
type Treasury interface {
	Address() [20]byte
	ReceiveFunds(caller [20]byte, amount *big.Int) error
}

// Engine drives the transaction state machine.
type Engine struct {
	address [20]byte
	state   coordinatorState
	policy  Policy
	emitter events.Emitter
	nowFn   func() int64

	vaultsMu sync.RWMutex
	vaults   map[[20]byte]escrow.Validator

	repMu      sync.RWMutex
	reputation ReputationUpdater
	treasury   Treasury

	// txLocks serialises state-mutating work per transaction id so a nested
	// call from a collaborator can never interleave with the original call
	// on the same transaction.
	txLocks sync.Map
}

// NewEngine constructs a coordinator operating from the supplied module
// address with a no-op emitter.
func NewEngine(address [20]byte, policy Policy) *Engine {
	return &Engine{
		address: address,
		policy:  policy,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
		vaults:  make(map[[20]byte]escrow.Validator),
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state coordinatorState) { e.state = state }

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

// SetReputation binds the optional reputation registry. Pass nil to detach.
// Safe to call while the engine is serving; governance registry swaps rebind
// through it.
func (e *Engine) SetReputation(updater ReputationUpdater) {
	e.repMu.Lock()
	e.reputation = updater
	e.repMu.Unlock()
}

func (e *Engine) reputationUpdater() ReputationUpdater {
	e.repMu.RLock()
	defer e.repMu.RUnlock()
	return e.reputation
}

// SetTreasury binds the optional archive treasury. Pass nil to detach.
func (e *Engine) SetTreasury(treasury Treasury) { e.treasury = treasury }

// RegisterVault binds a concrete validator implementation to a vault
// address. Governance approval is checked separately at link time.
func (e *Engine) RegisterVault(addr [20]byte, validator escrow.Validator) {
	e.vaultsMu.Lock()
	defer e.vaultsMu.Unlock()
	e.vaults[addr] = validator
}

// Address returns the coordinator's module address.
func (e *Engine) Address() [20]byte { return e.address }

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) lockTx(id [32]byte) func() {
	muIface, _ := e.txLocks.LoadOrStore(id, &sync.Mutex{})
	mu := muIface.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (e *Engine) validator(vault [20]byte) (escrow.Validator, error) {
	e.vaultsMu.RLock()
	defer e.vaultsMu.RUnlock()
	v, ok := e.vaults[vault]
	if !ok {
		return nil, ErrVaultUnregistered
	}
	return v, nil
}

func (e *Engine) requireRunning() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	paused, err := e.policy.Paused()
	if err != nil {
		return err
	}
	if paused {
		return ErrPaused
	}
	return nil
}

func (e *Engine) loadTx(id [32]byte) (*Transaction, error) {
	tx, ok, err := e.state.TransactionGet(id)
	if err != nil {
		return nil, err
	}
	if !ok || tx == nil || tx.CreatedAt == 0 {
		return nil, ErrNotFound
	}
	return tx, nil
}

func (e *Engine) transition(tx *Transaction, to Status, actor [20]byte) error {
	from := tx.Status
	tx.Status = to
	tx.UpdatedAt = e.nowFn()
	if err := e.state.TransactionPut(tx); err != nil {
		return err
	}
	e.emit(newTransitionedEvent(tx, from, to, actor))
	return nil
}

// CreateTransaction registers a new agreement between requester and
// provider. No funds move; the current global fee rate is locked into the
// record permanently, so later rate changes never touch it.
func (e *Engine) CreateTransaction(caller, requester, provider [20]byte, amount *big.Int, deadline, disputeWindowHint int64, serviceHash [32]byte) (*Transaction, error) {
	if err := e.requireRunning(); err != nil {
		return nil, err
	}
	if caller != requester {
		return nil, ErrUnauthorized
	}
	if requester == ([20]byte{}) || provider == ([20]byte{}) {
		return nil, ErrZeroAddress
	}
	if requester == provider {
		return nil, ErrSelfDealing
	}
	if amount == nil || amount.Cmp(big.NewInt(MinTransactionAmount)) < 0 || amount.Cmp(maxTransactionAmount) > 0 {
		return nil, ErrInvalidAmount
	}
	now := e.nowFn()
	if deadline <= now || deadline > now+MaxDeadlineHorizonSeconds {
		return nil, ErrInvalidDeadline
	}
	window := int64(DefaultDisputeWindowSeconds)
	if disputeWindowHint != 0 {
		if disputeWindowHint < MinDisputeWindowSeconds || disputeWindowHint > MaxDisputeWindowSeconds {
			return nil, ErrInvalidWindow
		}
		window = disputeWindowHint
	}
	feeBps, err := e.policy.FeeBps()
	if err != nil {
		return nil, err
	}
	nonce, err := e.state.RequesterNonce(requester)
	if err != nil {
		return nil, err
	}
	id := DeriveTransactionID(requester, provider, amount, serviceHash, nonce)
	if err := e.state.SetRequesterNonce(requester, nonce+1); err != nil {
		return nil, err
	}
	tx := &Transaction{
		ID:            id,
		Requester:     requester,
		Provider:      provider,
		Amount:        new(big.Int).Set(amount),
		FeeBps:        feeBps,
		ServiceHash:   serviceHash,
		Deadline:      deadline,
		DisputeWindow: window,
		Status:        StatusInitiated,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.state.TransactionPut(tx); err != nil {
		return nil, err
	}
	e.emit(newCreatedEvent(tx))
	return tx.Clone(), nil
}

// SubmitQuote moves an INITIATED transaction to QUOTED. A non-empty proof
// must decode to exactly one non-zero 32-byte word, recorded as an advisory
// quote commitment.
func (e *Engine) SubmitQuote(caller [20]byte, txID [32]byte, proof []byte) error {
	if err := e.requireRunning(); err != nil {
		return err
	}
	unlock := e.lockTx(txID)
	defer unlock()

	tx, err := e.loadTx(txID)
	if err != nil {
		return err
	}
	if caller != tx.Provider {
		return ErrUnauthorized
	}
	if tx.Status != StatusInitiated {
		return ErrInvalidTransition
	}
	if e.nowFn() >= tx.Deadline {
		return ErrDeadlinePassed
	}
	if len(proof) > 0 {
		commitment, err := decodeQuoteProof(proof)
		if err != nil {
			return err
		}
		tx.QuoteHash = commitment
	}
	return e.transition(tx, StatusQuoted, caller)
}

// LinkEscrow funds a transaction through an approved vault and is the only
// path into COMMITTED. The escrow id is consumed permanently for that vault
// the moment creation succeeds, regardless of the transaction's eventual
// outcome.
func (e *Engine) LinkEscrow(caller [20]byte, txID [32]byte, vault [20]byte, escrowID [32]byte) error {
	if err := e.requireRunning(); err != nil {
		return err
	}
	unlock := e.lockTx(txID)
	defer unlock()

	tx, err := e.loadTx(txID)
	if err != nil {
		return err
	}
	if caller != tx.Requester {
		return ErrUnauthorized
	}
	if tx.Status != StatusInitiated && tx.Status != StatusQuoted {
		return ErrInvalidTransition
	}
	if e.nowFn() >= tx.Deadline {
		return ErrDeadlinePassed
	}
	approved, err := e.policy.VaultApproved(vault)
	if err != nil {
		return err
	}
	if !approved {
		return ErrVaultNotApproved
	}
	validator, err := e.validator(vault)
	if err != nil {
		return err
	}
	if err := validator.CreateEscrow(escrowID, tx.Requester, tx.Provider, tx.Amount); err != nil {
		return err
	}
	// Re-verify immediately: a vault that lies about custody, or an asset
	// with unusual transfer semantics, must fail the whole call here.
	active, locked := validator.VerifyEscrow(escrowID, tx.Requester, tx.Provider, tx.Amount)
	if !active || locked == nil || locked.Cmp(tx.Amount) < 0 {
		return ErrEscrowUnverified
	}
	tx.Vault = vault
	tx.EscrowID = escrowID
	if err := e.transition(tx, StatusCommitted, caller); err != nil {
		return err
	}
	e.emit(newEscrowLinkedEvent(tx))
	return nil
}

// Start moves a funded transaction to IN_PROGRESS.
func (e *Engine) Start(caller [20]byte, txID [32]byte) error {
	if err := e.requireRunning(); err != nil {
		return err
	}
	unlock := e.lockTx(txID)
	defer unlock()

	tx, err := e.loadTx(txID)
	if err != nil {
		return err
	}
	if caller != tx.Provider {
		return ErrUnauthorized
	}
	if tx.Status != StatusCommitted {
		return ErrInvalidTransition
	}
	if e.nowFn() >= tx.Deadline {
		return ErrDeadlinePassed
	}
	return e.transition(tx, StatusInProgress, caller)
}

// MarkDelivered records completion of the work and opens the dispute
// window. An empty proof uses the window agreed at creation; a 32-byte proof
// overrides it with explicit seconds, bounds-checked and overflow-checked.
func (e *Engine) MarkDelivered(caller [20]byte, txID [32]byte, proof []byte) error {
	if err := e.requireRunning(); err != nil {
		return err
	}
	unlock := e.lockTx(txID)
	defer unlock()

	tx, err := e.loadTx(txID)
	if err != nil {
		return err
	}
	if caller != tx.Provider {
		return ErrUnauthorized
	}
	if tx.Status != StatusInProgress {
		return ErrInvalidTransition
	}
	now := e.nowFn()
	if now >= tx.Deadline {
		return ErrDeadlinePassed
	}
	window := tx.DisputeWindow
	if len(proof) > 0 {
		override, err := decodeWindowProof(proof)
		if err != nil {
			return err
		}
		window = override
	}
	deadline, err := addWindow(now, window)
	if err != nil {
		return err
	}
	tx.DisputeWindow = window
	tx.DisputeDeadline = deadline
	return e.transition(tx, StatusDelivered, caller)
}

// Dispute escalates a delivered transaction. Either party may dispute, but
// only while the window is open. The disputed flag is sticky and feeds the
// reputation update at final settlement.
func (e *Engine) Dispute(caller [20]byte, txID [32]byte) error {
	if err := e.requireRunning(); err != nil {
		return err
	}
	unlock := e.lockTx(txID)
	defer unlock()

	tx, err := e.loadTx(txID)
	if err != nil {
		return err
	}
	if caller != tx.Requester && caller != tx.Provider {
		return ErrUnauthorized
	}
	if tx.Status != StatusDelivered {
		return ErrInvalidTransition
	}
	if e.nowFn() >= tx.DisputeDeadline {
		return ErrWindowClosed
	}
	tx.Disputed = true
	return e.transition(tx, StatusDisputed, caller)
}

// AnchorAttestation records an externally anchored attestation id on the
// transaction. Advisory metadata; it never affects fund movement.
func (e *Engine) AnchorAttestation(caller [20]byte, txID [32]byte, attestation [32]byte) error {
	if err := e.requireRunning(); err != nil {
		return err
	}
	unlock := e.lockTx(txID)
	defer unlock()

	tx, err := e.loadTx(txID)
	if err != nil {
		return err
	}
	if caller != tx.Requester && caller != tx.Provider {
		return ErrUnauthorized
	}
	if tx.Status.Terminal() {
		return ErrInvalidTransition
	}
	if attestation == ([32]byte{}) {
		return ErrMalformedProof
	}
	tx.AttestationID = attestation
	tx.UpdatedAt = e.nowFn()
	if err := e.state.TransactionPut(tx); err != nil {
		return err
	}
	e.emit(newAttestationEvent(tx, caller))
	return nil
}

// Get returns a copy of the stored transaction.
func (e *Engine) Get(txID [32]byte) (*Transaction, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	tx, err := e.loadTx(txID)
	if err != nil {
		return nil, err
	}
	return tx.Clone(), nil
}

// Cancel terminates a transaction outside the dispute path. Before funding
// only the requester may cancel. After funding the provider may cancel at any
// time with a full refund, while the requester may cancel only once the
// deadline has lapsed, forfeiting a penalty slice of the remainder to the
// provider.
func (e *Engine) Cancel(caller [20]byte, txID [32]byte) error {
	if err := e.requireRunning(); err != nil {
		return err
	}
	unlock := e.lockTx(txID)
	defer unlock()

	tx, err := e.loadTx(txID)
	if err != nil {
		return err
	}
	switch tx.Status {
	case StatusInitiated, StatusQuoted:
		if caller != tx.Requester {
			return ErrUnauthorized
		}
		return e.transition(tx, StatusCancelled, caller)
	case StatusCommitted, StatusInProgress:
		switch caller {
		case tx.Provider:
			return e.cancelFunded(tx, caller, false)
		case tx.Requester:
			if e.nowFn() < tx.Deadline {
				return ErrDeadlineNotReached
			}
			return e.cancelFunded(tx, caller, true)
		default:
			return ErrUnauthorized
		}
	default:
		return ErrInvalidTransition
	}
}
