// Package treasury implements the archive treasury that receives a fixed
// slice of every accrued platform fee. It is a deliberately small
// collaborator: one restricted deposit entry point plus accounting queries.
// The coordinator tolerates any failure here through its fee fallback ladder.
package treasury

import (
	"errors"
	"math/big"
	"sync"

	"clearline/core/types"
)

var (
	ErrNilState       = errors.New("treasury: state not configured")
	ErrNotCoordinator = errors.New("treasury: caller is not the coordinator")
	ErrInvalidAmount  = errors.New("treasury: amount must be positive")
	ErrClosed         = errors.New("treasury: deposits closed")
)

type treasuryState interface {
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, acc *types.Account) error
}

// Treasury custodies archived fees under its module address.
type Treasury struct {
	mu          sync.Mutex
	address     [20]byte
	coordinator [20]byte
	state       treasuryState
	closed      bool
	received    *big.Int
}

// New constructs a treasury custodying funds at the supplied module address.
func New(address [20]byte) *Treasury {
	return &Treasury{address: address, received: big.NewInt(0)}
}

// SetState configures the state backend.
func (t *Treasury) SetState(state treasuryState) { t.state = state }

// SetCoordinator registers the single address allowed to deposit.
func (t *Treasury) SetCoordinator(addr [20]byte) { t.coordinator = addr }

// SetClosed toggles deposit acceptance. While closed, ReceiveFunds refuses
// and the coordinator redirects the archive slice per its fallback ladder.
func (t *Treasury) SetClosed(closed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = closed
}

// Address returns the treasury's custody address.
func (t *Treasury) Address() [20]byte { return t.address }

// ReceiveFunds pulls amount from the coordinator's custody into the
// treasury account.
func (t *Treasury) ReceiveFunds(caller [20]byte, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == nil {
		return ErrNilState
	}
	if t.coordinator == ([20]byte{}) || caller != t.coordinator {
		return ErrNotCoordinator
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if t.closed {
		return ErrClosed
	}
	from, err := t.state.GetAccount(caller)
	if err != nil {
		return err
	}
	from = types.EnsureAccount(from)
	if from.Balance.Cmp(amount) < 0 {
		return ErrInvalidAmount
	}
	dest, err := t.state.GetAccount(t.address)
	if err != nil {
		return err
	}
	dest = types.EnsureAccount(dest)
	from.Balance = new(big.Int).Sub(from.Balance, amount)
	dest.Balance = new(big.Int).Add(dest.Balance, amount)
	if err := t.state.PutAccount(caller, from); err != nil {
		return err
	}
	if err := t.state.PutAccount(t.address, dest); err != nil {
		return err
	}
	t.received = new(big.Int).Add(t.received, amount)
	return nil
}

// TotalReceived reports the cumulative deposits accepted since startup.
func (t *Treasury) TotalReceived() *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(big.Int).Set(t.received)
}
