// Package state persists every engine's records over a generic key-value
// database. One Manager instance backs the coordinator, the escrow vaults,
// governance, the treasury and the reputation registry simultaneously; each
// concern gets its own key prefix.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"clearline/core/types"
	"clearline/native/coordinator"
	"clearline/native/escrow"
	"clearline/native/governance"
	"clearline/native/reputation"
	"clearline/storage"
)

var (
	prefixAccount    = []byte("acct/")
	prefixTx         = []byte("tx/")
	prefixNonce      = []byte("nonce/")
	prefixEscrow     = []byte("escrow/")
	prefixConsumed   = []byte("escrow-used/")
	prefixRepMark    = []byte("rep-mark/")
	prefixRepScore   = []byte("rep-score/")
	prefixGovernance = []byte("gov/record")
	prefixMediator   = []byte("gov-mediator/")
	prefixVaultList  = []byte("gov-vault/")
	keyGenesis       = []byte("genesis/applied")
)

// Manager implements the state interfaces consumed by every native engine.
// A single mutex serialises writes; read-modify-write cycles stay consistent
// because each engine already serialises its own entry points.
type Manager struct {
	mu sync.Mutex
	db storage.Database
}

// NewManager wraps a key-value database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func key(prefix []byte, parts ...[]byte) []byte {
	out := append([]byte{}, prefix...)
	for _, part := range parts {
		out = append(out, part...)
	}
	return out
}

func (m *Manager) putJSON(k []byte, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("state: encode %q: %w", k, err)
	}
	return m.db.Put(k, raw)
}

func (m *Manager) getJSON(k []byte, out any) (bool, error) {
	raw, err := m.db.Get(k)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("state: decode %q: %w", k, err)
	}
	return true, nil
}

// --- accounts ---

// GetAccount returns the stored account, or a fresh zero-balance account for
// unknown addresses.
func (m *Manager) GetAccount(addr [20]byte) (*types.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getAccountLocked(addr)
}

func (m *Manager) getAccountLocked(addr [20]byte) (*types.Account, error) {
	acc := &types.Account{}
	ok, err := m.getJSON(key(prefixAccount, addr[:]), acc)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &types.Account{Balance: big.NewInt(0)}, nil
	}
	return types.EnsureAccount(acc), nil
}

// PutAccount persists the account record.
func (m *Manager) PutAccount(addr [20]byte, acc *types.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putJSON(key(prefixAccount, addr[:]), types.EnsureAccount(acc))
}

// Credit adds amount to an account balance. Used at genesis and by faucet
// style tooling, never by settlement paths.
func (m *Manager) Credit(addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("state: credit amount must be positive")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, err := m.getAccountLocked(addr)
	if err != nil {
		return err
	}
	acc.Balance = new(big.Int).Add(acc.Balance, amount)
	return m.putJSON(key(prefixAccount, addr[:]), acc)
}

// GenesisApplied reports whether initial allocations were already credited.
func (m *Manager) GenesisApplied() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	applied := false
	if _, err := m.getJSON(keyGenesis, &applied); err != nil {
		return false, err
	}
	return applied, nil
}

// MarkGenesisApplied records that initial allocations were credited so a
// restart never credits them again.
func (m *Manager) MarkGenesisApplied() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putJSON(keyGenesis, true)
}

// --- coordinator ---

func (m *Manager) TransactionPut(tx *coordinator.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putJSON(key(prefixTx, tx.ID[:]), tx)
}

func (m *Manager) TransactionGet(id [32]byte) (*coordinator.Transaction, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &coordinator.Transaction{}
	ok, err := m.getJSON(key(prefixTx, id[:]), tx)
	if err != nil || !ok {
		return nil, false, err
	}
	return tx, true, nil
}

func (m *Manager) RequesterNonce(addr [20]byte) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var nonce uint64
	if _, err := m.getJSON(key(prefixNonce, addr[:]), &nonce); err != nil {
		return 0, err
	}
	return nonce, nil
}

func (m *Manager) SetRequesterNonce(addr [20]byte, nonce uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putJSON(key(prefixNonce, addr[:]), nonce)
}

func (m *Manager) ReputationProcessed(registry [20]byte, txID [32]byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var marked bool
	ok, err := m.getJSON(key(prefixRepMark, registry[:], txID[:]), &marked)
	if err != nil {
		return false, err
	}
	return ok && marked, nil
}

func (m *Manager) MarkReputationProcessed(registry [20]byte, txID [32]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putJSON(key(prefixRepMark, registry[:], txID[:]), true)
}

// --- escrow vaults ---

func (m *Manager) VaultEscrowPut(vault [20]byte, esc *escrow.Escrow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putJSON(key(prefixEscrow, vault[:], esc.ID[:]), esc)
}

func (m *Manager) VaultEscrowGet(vault [20]byte, id [32]byte) (*escrow.Escrow, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	esc := &escrow.Escrow{}
	ok, err := m.getJSON(key(prefixEscrow, vault[:], id[:]), esc)
	if err != nil || !ok {
		return nil, false, err
	}
	return esc.Clone(), true, nil
}

func (m *Manager) VaultEscrowDelete(vault [20]byte, id [32]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db.Delete(key(prefixEscrow, vault[:], id[:]))
}

func (m *Manager) EscrowIDConsumed(vault [20]byte, id [32]byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var used bool
	ok, err := m.getJSON(key(prefixConsumed, vault[:], id[:]), &used)
	if err != nil {
		return false, err
	}
	return ok && used, nil
}

func (m *Manager) ConsumeEscrowID(vault [20]byte, id [32]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putJSON(key(prefixConsumed, vault[:], id[:]), true)
}

// --- governance ---

func (m *Manager) GovernanceGet() (*governance.State, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record := &governance.State{}
	ok, err := m.getJSON(prefixGovernance, record)
	if err != nil || !ok {
		return nil, false, err
	}
	return record, true, nil
}

func (m *Manager) GovernancePut(record *governance.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putJSON(prefixGovernance, record)
}

func (m *Manager) MediatorGet(addr [20]byte) (*governance.Mediator, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record := &governance.Mediator{}
	ok, err := m.getJSON(key(prefixMediator, addr[:]), record)
	if err != nil || !ok {
		return nil, false, err
	}
	return record, true, nil
}

func (m *Manager) MediatorPut(record *governance.Mediator) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putJSON(key(prefixMediator, record.Addr[:]), record)
}

func (m *Manager) VaultApproved(addr [20]byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var approved bool
	ok, err := m.getJSON(key(prefixVaultList, addr[:]), &approved)
	if err != nil {
		return false, err
	}
	return ok && approved, nil
}

func (m *Manager) VaultSetApproved(addr [20]byte, approved bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putJSON(key(prefixVaultList, addr[:]), approved)
}

// --- reputation registry ---

func (m *Manager) ScoreGet(provider [20]byte) (*reputation.Score, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	score := &reputation.Score{}
	ok, err := m.getJSON(key(prefixRepScore, provider[:]), score)
	if err != nil || !ok {
		return nil, false, err
	}
	return score, true, nil
}

func (m *Manager) ScorePut(score *reputation.Score) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putJSON(key(prefixRepScore, score.Provider[:]), score)
}
