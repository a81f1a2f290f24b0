// Package fees implements the pure fee arithmetic used by the settlement
// engine. All computation happens against the fee rate locked into a
// transaction at creation time; callers never consult a live global rate here.
package fees

import "math/big"

// MaxBps is the denominator for all basis-point arithmetic.
const MaxBps = 10_000

// ApplyResult summarises the computed fee and the resulting net amount.
type ApplyResult struct {
	Fee *big.Int
	Net *big.Int
}

// Apply evaluates the supplied basis-point rate against a gross amount and
// returns the fee and net legs. A zero rate yields a zero fee: transactions
// created while the global rate was zero stay fee-exempt for life. The fee is
// clamped so it can never exceed the gross amount.
func Apply(gross *big.Int, rateBps uint32) ApplyResult {
	result := ApplyResult{Fee: big.NewInt(0)}
	if gross != nil {
		result.Net = new(big.Int).Set(gross)
	} else {
		result.Net = big.NewInt(0)
	}
	if result.Net.Sign() <= 0 || rateBps == 0 {
		return result
	}
	fee := new(big.Int).Mul(result.Net, big.NewInt(int64(rateBps)))
	fee = fee.Div(fee, big.NewInt(MaxBps))
	if fee.Sign() <= 0 {
		return result
	}
	if fee.Cmp(result.Net) >= 0 {
		result.Fee = new(big.Int).Set(result.Net)
		result.Net = big.NewInt(0)
		return result
	}
	result.Fee = fee
	result.Net = new(big.Int).Sub(result.Net, fee)
	return result
}

// Split divides a fee between the archive treasury and the fee recipient. The
// treasury leg is splitBps of the fee, rounded down; the recipient receives
// the remainder.
func Split(fee *big.Int, splitBps uint32) (treasury, recipient *big.Int) {
	treasury = big.NewInt(0)
	recipient = big.NewInt(0)
	if fee == nil || fee.Sign() <= 0 {
		return treasury, recipient
	}
	if splitBps >= MaxBps {
		return new(big.Int).Set(fee), recipient
	}
	treasury = new(big.Int).Mul(fee, big.NewInt(int64(splitBps)))
	treasury = treasury.Div(treasury, big.NewInt(MaxBps))
	recipient = new(big.Int).Sub(fee, treasury)
	return treasury, recipient
}

// Cap returns amount*capBps/10000, the ceiling applied to mediator payouts
// against the original transaction amount.
func Cap(amount *big.Int, capBps uint32) *big.Int {
	if amount == nil || amount.Sign() <= 0 {
		return big.NewInt(0)
	}
	capped := new(big.Int).Mul(amount, big.NewInt(int64(capBps)))
	return capped.Div(capped, big.NewInt(MaxBps))
}
