// Package genesis seeds initial account balances when a node starts over an
// empty state. Allocations are credited exactly once; a restart against a
// populated data directory is a no-op.
package genesis

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"

	"clearline/crypto"
)

// Spec is the on-disk genesis document. Alloc maps hex account addresses to
// base-unit balances encoded as base-10 strings.
type Spec struct {
	Alloc map[string]string `json:"alloc"`
}

// State is the slice of the state manager the genesis loader needs.
type State interface {
	GenesisApplied() (bool, error)
	MarkGenesisApplied() error
	Credit(addr [20]byte, amount *big.Int) error
}

// LoadSpec reads and decodes a genesis document from path.
func LoadSpec(path string) (*Spec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("genesis: read %s: %w", path, err)
	}
	spec := &Spec{}
	if err := json.Unmarshal(raw, spec); err != nil {
		return nil, fmt.Errorf("genesis: decode %s: %w", path, err)
	}
	return spec, nil
}

// Allocations parses and validates every entry of the alloc table. Two
// spellings of the same address are rejected rather than silently merged.
func (s *Spec) Allocations() (map[[20]byte]*big.Int, error) {
	out := make(map[[20]byte]*big.Int, len(s.Alloc))
	for addrHex, amountStr := range s.Alloc {
		addr, err := crypto.ParseAddress(addrHex)
		if err != nil {
			return nil, fmt.Errorf("genesis: alloc address %q: %w", addrHex, err)
		}
		amount, ok := new(big.Int).SetString(amountStr, 10)
		if !ok {
			return nil, fmt.Errorf("genesis: alloc amount %q for %s is not a base-10 integer", amountStr, addrHex)
		}
		if amount.Sign() <= 0 {
			return nil, fmt.Errorf("genesis: alloc amount for %s must be positive", addrHex)
		}
		if _, exists := out[addr]; exists {
			return nil, fmt.Errorf("genesis: duplicate alloc entry for %s", addrHex)
		}
		out[addr] = amount
	}
	return out, nil
}

// Apply credits every allocation through st unless a previous run already
// did. Returns true when the allocations were credited by this call.
func Apply(spec *Spec, st State) (bool, error) {
	if spec == nil {
		return false, fmt.Errorf("genesis: nil spec")
	}
	allocs, err := spec.Allocations()
	if err != nil {
		return false, err
	}
	applied, err := st.GenesisApplied()
	if err != nil {
		return false, err
	}
	if applied {
		return false, nil
	}
	for addr, amount := range allocs {
		if err := st.Credit(addr, amount); err != nil {
			return false, fmt.Errorf("genesis: credit %x: %w", addr, err)
		}
	}
	if err := st.MarkGenesisApplied(); err != nil {
		return false, err
	}
	return true, nil
}
