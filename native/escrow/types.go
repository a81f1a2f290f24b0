package escrow

import (
	"fmt"
	"math/big"
)

// Escrow captures the custody record for a single funded lock keyed by an
// opaque 32-byte identifier. Total never changes after creation; Released
// grows monotonically until it reaches Total, at which point the record is
// removed. The identifier itself stays retired forever, even after removal.
type Escrow struct {
	ID        [32]byte
	Payer     [20]byte
	Payee     [20]byte
	Total     *big.Int
	Released  *big.Int
	Active    bool
	CreatedAt int64
}

// Clone returns a deep copy of the escrow record so callers can safely mutate
// the copy without affecting the stored instance.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	if e.Total != nil {
		clone.Total = new(big.Int).Set(e.Total)
	} else {
		clone.Total = big.NewInt(0)
	}
	if e.Released != nil {
		clone.Released = new(big.Int).Set(e.Released)
	} else {
		clone.Released = big.NewInt(0)
	}
	return &clone
}

// Remaining reports the undisbursed balance, Total - Released.
func (e *Escrow) Remaining() *big.Int {
	if e == nil || e.Total == nil {
		return big.NewInt(0)
	}
	released := e.Released
	if released == nil {
		released = big.NewInt(0)
	}
	remaining := new(big.Int).Sub(e.Total, released)
	if remaining.Sign() < 0 {
		return big.NewInt(0)
	}
	return remaining
}

// Sanitize validates and normalises the supplied escrow record, returning a
// cloned instance with non-nil amounts. The function does not mutate the
// original value.
func Sanitize(e *Escrow) (*Escrow, error) {
	if e == nil {
		return nil, fmt.Errorf("escrow: nil record")
	}
	clone := e.Clone()
	if clone.Total.Sign() <= 0 {
		return nil, fmt.Errorf("escrow: total must be positive")
	}
	if clone.Released.Sign() < 0 {
		return nil, fmt.Errorf("escrow: released must be non-negative")
	}
	if clone.Released.Cmp(clone.Total) > 0 {
		return nil, fmt.Errorf("escrow: released exceeds total")
	}
	return clone, nil
}
