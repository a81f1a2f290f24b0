// Package reputation provides the reference registry notified by the
// settlement engine. It accumulates per-provider outcome statistics and is
// deliberately tolerant: the coordinator treats it as optional and
// best-effort, so nothing in here is allowed to become load-bearing for fund
// movement.
package reputation

import (
	"errors"
	"math/big"
)

var ErrNilStore = errors.New("reputation: store not configured")

// Score is the accumulated outcome record for one provider.
type Score struct {
	Provider    [20]byte `json:"provider"`
	Settlements uint64   `json:"settlements"`
	Disputes    uint64   `json:"disputes"`
	Volume      *big.Int `json:"volume"`
}

// Clone returns a deep copy of the score.
func (s *Score) Clone() *Score {
	if s == nil {
		return nil
	}
	clone := *s
	if s.Volume != nil {
		clone.Volume = new(big.Int).Set(s.Volume)
	}
	return &clone
}

type store interface {
	ScoreGet(provider [20]byte) (*Score, bool, error)
	ScorePut(score *Score) error
}

// Registry is the reference reputation collaborator. Its address identifies
// the instance in the coordinator's idempotency bookkeeping; replacing the
// registry means deploying one with a new address.
type Registry struct {
	address [20]byte
	store   store
}

// NewRegistry constructs a registry identified by the supplied address.
func NewRegistry(address [20]byte) *Registry {
	return &Registry{address: address}
}

// SetStore configures the persistence backend.
func (r *Registry) SetStore(s store) { r.store = s }

// At returns a registry bound to addr over the same score store. A governance
// registry swap produces a fresh instance identity while the accumulated
// scores carry over.
func (r *Registry) At(addr [20]byte) *Registry {
	return &Registry{address: addr, store: r.store}
}

// Address identifies this registry instance.
func (r *Registry) Address() [20]byte { return r.address }

// UpdateOnSettlement folds one settled transaction into the provider's
// score. The coordinator guarantees at-most-once delivery per instance, so
// no dedup happens here.
func (r *Registry) UpdateOnSettlement(provider [20]byte, txID [32]byte, amount *big.Int, disputed bool) error {
	if r == nil || r.store == nil {
		return ErrNilStore
	}
	score, ok, err := r.store.ScoreGet(provider)
	if err != nil {
		return err
	}
	if !ok || score == nil {
		score = &Score{Provider: provider, Volume: big.NewInt(0)}
	}
	if score.Volume == nil {
		score.Volume = big.NewInt(0)
	}
	score.Settlements++
	if disputed {
		score.Disputes++
	}
	if amount != nil && amount.Sign() > 0 {
		score.Volume = new(big.Int).Add(score.Volume, amount)
	}
	return r.store.ScorePut(score)
}

// Score returns a copy of the provider's accumulated record.
func (r *Registry) Score(provider [20]byte) (*Score, bool, error) {
	if r == nil || r.store == nil {
		return nil, false, ErrNilStore
	}
	score, ok, err := r.store.ScoreGet(provider)
	if err != nil || !ok {
		return nil, ok, err
	}
	return score.Clone(), true, nil
}
