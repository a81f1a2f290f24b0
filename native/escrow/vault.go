// Package escrow implements the custody vault for the settlement coordinator.
// A vault holds one fungible balance per escrow id on behalf of exactly one
// authorized orchestrator and releases it incrementally through a single
// disbursement primitive.
package escrow

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"clearline/core/events"
	"clearline/core/types"
)

var (
	errNilState         = errors.New("escrow: state not configured")
	ErrNotOrchestrator  = errors.New("escrow: caller is not the orchestrator")
	ErrEscrowNotFound   = errors.New("escrow: escrow not found")
	ErrEscrowInactive   = errors.New("escrow: escrow inactive")
	ErrIDRetired        = errors.New("escrow: identifier already used")
	ErrInvalidAmount    = errors.New("escrow: amount must be positive")
	ErrZeroParty        = errors.New("escrow: payer and payee required")
	ErrInsufficientLock = errors.New("escrow: amount exceeds remaining balance")
)

type vaultState interface {
	VaultEscrowPut(vault [20]byte, esc *Escrow) error
	VaultEscrowGet(vault [20]byte, id [32]byte) (*Escrow, bool, error)
	VaultEscrowDelete(vault [20]byte, id [32]byte) error
	EscrowIDConsumed(vault [20]byte, id [32]byte) (bool, error)
	ConsumeEscrowID(vault [20]byte, id [32]byte) error
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, acc *types.Account) error
}

// Vault custodies escrowed balances under its module address. Every mutating
// entry point is serialised by a single mutex; together with the
// accounting-before-transfer ordering inside disburse this rules out a nested
// call re-spending the same lock.
type Vault struct {
	mu           sync.Mutex
	address      [20]byte
	orchestrator [20]byte
	state        vaultState
	emitter      events.Emitter
	nowFn        func() int64
}

// NewVault creates a vault custodying funds at the supplied module address.
func NewVault(address [20]byte) *Vault {
	return &Vault{
		address: address,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the vault.
func (v *Vault) SetState(state vaultState) { v.state = state }

// SetOrchestrator registers the single address allowed to move funds.
func (v *Vault) SetOrchestrator(addr [20]byte) { v.orchestrator = addr }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (v *Vault) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		v.emitter = events.NoopEmitter{}
		return
	}
	v.emitter = emitter
}

// SetNowFunc overrides the time source. Primarily intended for tests.
func (v *Vault) SetNowFunc(now func() int64) {
	if now == nil {
		v.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	v.nowFn = now
}

// Address returns the vault's custody address.
func (v *Vault) Address() [20]byte { return v.address }

func (v *Vault) emit(evt events.Event) {
	if v == nil || v.emitter == nil || evt == nil {
		return
	}
	v.emitter.Emit(evt)
}

func (v *Vault) requireOrchestrator(caller [20]byte) error {
	if v.orchestrator == ([20]byte{}) || caller != v.orchestrator {
		return ErrNotOrchestrator
	}
	return nil
}

func (v *Vault) transfer(from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	fromAcc, err := v.state.GetAccount(from)
	if err != nil {
		return err
	}
	toAcc, err := v.state.GetAccount(to)
	if err != nil {
		return err
	}
	fromAcc = types.EnsureAccount(fromAcc)
	toAcc = types.EnsureAccount(toAcc)
	if fromAcc.Balance.Cmp(amount) < 0 {
		return fmt.Errorf("escrow: insufficient balance")
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amount)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amount)
	if err := v.state.PutAccount(from, fromAcc); err != nil {
		return err
	}
	return v.state.PutAccount(to, toAcc)
}

// CreateEscrow locks amount from the payer under the supplied id. Identifiers
// are single-use per vault: once consumed here they can never be presented
// again, regardless of how the escrow later terminates.
func (v *Vault) CreateEscrow(caller [20]byte, id [32]byte, payer, payee [20]byte, amount *big.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state == nil {
		return errNilState
	}
	if err := v.requireOrchestrator(caller); err != nil {
		return err
	}
	if payer == ([20]byte{}) || payee == ([20]byte{}) {
		return ErrZeroParty
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	used, err := v.state.EscrowIDConsumed(v.address, id)
	if err != nil {
		return err
	}
	if used {
		return ErrIDRetired
	}
	if _, ok, err := v.state.VaultEscrowGet(v.address, id); err != nil {
		return err
	} else if ok {
		return ErrIDRetired
	}
	if err := v.transfer(payer, v.address, amount); err != nil {
		return err
	}
	esc := &Escrow{
		ID:        id,
		Payer:     payer,
		Payee:     payee,
		Total:     new(big.Int).Set(amount),
		Released:  big.NewInt(0),
		Active:    true,
		CreatedAt: v.nowFn(),
	}
	if err := v.state.VaultEscrowPut(v.address, esc); err != nil {
		return err
	}
	if err := v.state.ConsumeEscrowID(v.address, id); err != nil {
		return err
	}
	v.emit(NewLockedEvent(v.address, esc))
	return nil
}

// VerifyEscrow reports whether an active record exists for the exact
// payer/payee pair holding at least amount. Read-only; never errors.
func (v *Vault) VerifyEscrow(id [32]byte, payer, payee [20]byte, amount *big.Int) (bool, *big.Int) {
	if v == nil || v.state == nil {
		return false, big.NewInt(0)
	}
	esc, ok, err := v.state.VaultEscrowGet(v.address, id)
	if err != nil || !ok || esc == nil || !esc.Active {
		return false, big.NewInt(0)
	}
	if esc.Payer != payer || esc.Payee != payee {
		return false, big.NewInt(0)
	}
	remaining := esc.Remaining()
	if amount != nil && remaining.Cmp(amount) < 0 {
		return false, remaining
	}
	return true, remaining
}

// PayoutToProvider disburses amount to the record's payee.
func (v *Vault) PayoutToProvider(caller [20]byte, id [32]byte, amount *big.Int) (*big.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	esc, err := v.loadForDisburse(caller, id)
	if err != nil {
		return nil, err
	}
	return v.disburse(esc, esc.Payee, amount)
}

// RefundToRequester disburses amount back to the record's payer.
func (v *Vault) RefundToRequester(caller [20]byte, id [32]byte, amount *big.Int) (*big.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	esc, err := v.loadForDisburse(caller, id)
	if err != nil {
		return nil, err
	}
	return v.disburse(esc, esc.Payer, amount)
}

// Payout disburses amount to an arbitrary recipient (fee routing, mediator).
func (v *Vault) Payout(caller [20]byte, id [32]byte, recipient [20]byte, amount *big.Int) (*big.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if recipient == ([20]byte{}) {
		return nil, ErrZeroParty
	}
	esc, err := v.loadForDisburse(caller, id)
	if err != nil {
		return nil, err
	}
	return v.disburse(esc, recipient, amount)
}

// Remaining reports Total - Released, or zero for unknown ids.
func (v *Vault) Remaining(id [32]byte) *big.Int {
	if v == nil || v.state == nil {
		return big.NewInt(0)
	}
	esc, ok, err := v.state.VaultEscrowGet(v.address, id)
	if err != nil || !ok {
		return big.NewInt(0)
	}
	return esc.Remaining()
}

// Get returns the stored escrow record, if any.
func (v *Vault) Get(id [32]byte) (*Escrow, bool) {
	if v == nil || v.state == nil {
		return nil, false
	}
	esc, ok, err := v.state.VaultEscrowGet(v.address, id)
	if err != nil || !ok {
		return nil, false
	}
	return esc.Clone(), true
}

func (v *Vault) loadForDisburse(caller [20]byte, id [32]byte) (*Escrow, error) {
	if v.state == nil {
		return nil, errNilState
	}
	if err := v.requireOrchestrator(caller); err != nil {
		return nil, err
	}
	esc, ok, err := v.state.VaultEscrowGet(v.address, id)
	if err != nil {
		return nil, err
	}
	if !ok || esc == nil {
		return nil, ErrEscrowNotFound
	}
	return esc, nil
}

// disburse is the single primitive behind every outbound fund movement.
// Accounting is advanced and persisted before the asset transfer and rolled
// back if the transfer fails; the record is deleted only after a fully
// releasing transfer succeeded. A failed terminating transfer therefore
// leaves the record in place as forensic state instead of vanishing funds.
func (v *Vault) disburse(esc *Escrow, recipient [20]byte, amount *big.Int) (*big.Int, error) {
	if !esc.Active {
		return nil, ErrEscrowInactive
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if amount.Cmp(esc.Remaining()) > 0 {
		return nil, ErrInsufficientLock
	}
	prior := esc.Clone()
	esc.Released = new(big.Int).Add(esc.Released, amount)
	fullyReleased := esc.Released.Cmp(esc.Total) == 0
	if fullyReleased {
		esc.Active = false
	}
	if err := v.state.VaultEscrowPut(v.address, esc); err != nil {
		return nil, err
	}
	if err := v.transfer(v.address, recipient, amount); err != nil {
		_ = v.state.VaultEscrowPut(v.address, prior)
		return nil, err
	}
	if fullyReleased {
		if err := v.state.VaultEscrowDelete(v.address, esc.ID); err != nil {
			return nil, err
		}
		v.emit(NewClosedEvent(v.address, esc))
	}
	v.emit(NewDisbursedEvent(v.address, esc, recipient, amount))
	return new(big.Int).Set(amount), nil
}
