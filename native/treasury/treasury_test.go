package treasury

import (
	"errors"
	"math/big"
	"testing"

	"clearline/core/types"
)

type memState struct {
	accounts map[[20]byte]*types.Account
}

func (m *memState) GetAccount(addr [20]byte) (*types.Account, error) {
	if acc, ok := m.accounts[addr]; ok {
		return acc.Clone(), nil
	}
	return &types.Account{Balance: big.NewInt(0)}, nil
}

func (m *memState) PutAccount(addr [20]byte, acc *types.Account) error {
	m.accounts[addr] = acc.Clone()
	return nil
}

var (
	treasuryAddr = [20]byte{0x7A}
	coordinator  = [20]byte{0xC0}
)

func newTestTreasury() (*Treasury, *memState) {
	state := &memState{accounts: map[[20]byte]*types.Account{
		coordinator: {Balance: big.NewInt(1000)},
	}}
	tr := New(treasuryAddr)
	tr.SetState(state)
	tr.SetCoordinator(coordinator)
	return tr, state
}

func TestReceiveFunds(t *testing.T) {
	tr, state := newTestTreasury()
	if err := tr.ReceiveFunds(coordinator, big.NewInt(400)); err != nil {
		t.Fatalf("receive: %v", err)
	}
	if got := state.accounts[treasuryAddr].Balance; got.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("treasury balance = %s, want 400", got)
	}
	if got := state.accounts[coordinator].Balance; got.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("coordinator balance = %s, want 600", got)
	}
	if tr.TotalReceived().Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("total received = %s", tr.TotalReceived())
	}
}

func TestReceiveFundsGuards(t *testing.T) {
	tr, _ := newTestTreasury()
	if err := tr.ReceiveFunds([20]byte{0x99}, big.NewInt(1)); !errors.Is(err, ErrNotCoordinator) {
		t.Fatalf("stranger deposit: %v", err)
	}
	if err := tr.ReceiveFunds(coordinator, big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero deposit: %v", err)
	}
	if err := tr.ReceiveFunds(coordinator, nil); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("nil deposit: %v", err)
	}
	if err := tr.ReceiveFunds(coordinator, big.NewInt(5000)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("overdrawn deposit: %v", err)
	}
}

func TestClosedTreasuryRefuses(t *testing.T) {
	tr, state := newTestTreasury()
	tr.SetClosed(true)
	if err := tr.ReceiveFunds(coordinator, big.NewInt(10)); !errors.Is(err, ErrClosed) {
		t.Fatalf("closed deposit: %v", err)
	}
	if got := state.accounts[coordinator].Balance; got.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("refused deposit moved funds")
	}
	tr.SetClosed(false)
	if err := tr.ReceiveFunds(coordinator, big.NewInt(10)); err != nil {
		t.Fatalf("reopened deposit: %v", err)
	}
}
