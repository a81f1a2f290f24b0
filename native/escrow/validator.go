package escrow

import "math/big"

// Validator is the capability surface the coordinator holds against any vault
// implementation. Multiple vaults may be approved simultaneously by
// governance; the coordinator only ever talks through this interface.
type Validator interface {
	// CreateEscrow locks amount from payer custody under the supplied id.
	CreateEscrow(id [32]byte, payer, payee [20]byte, amount *big.Int) error
	// VerifyEscrow reports whether an active record exists for the exact
	// payer/payee pair holding at least amount. It never returns an error.
	VerifyEscrow(id [32]byte, payer, payee [20]byte, amount *big.Int) (bool, *big.Int)
	// PayoutToProvider disburses amount to the record's payee.
	PayoutToProvider(id [32]byte, amount *big.Int) (*big.Int, error)
	// RefundToRequester disburses amount back to the record's payer.
	RefundToRequester(id [32]byte, amount *big.Int) (*big.Int, error)
	// Payout disburses amount to an arbitrary recipient (fee, mediator).
	Payout(id [32]byte, recipient [20]byte, amount *big.Int) (*big.Int, error)
	// Remaining reports the undisbursed balance, or zero for unknown ids.
	Remaining(id [32]byte) *big.Int
}

// Bound adapts a Vault to the Validator interface by stamping every mutating
// call with a fixed caller address. The coordinator receives a Bound vault
// carrying its own module address so the vault's only-orchestrator guard
// stays enforced on every hop.
type Bound struct {
	vault  *Vault
	caller [20]byte
}

// Bind returns a Validator that invokes the vault as the supplied caller.
func (v *Vault) Bind(caller [20]byte) *Bound {
	return &Bound{vault: v, caller: caller}
}

func (b *Bound) CreateEscrow(id [32]byte, payer, payee [20]byte, amount *big.Int) error {
	return b.vault.CreateEscrow(b.caller, id, payer, payee, amount)
}

func (b *Bound) VerifyEscrow(id [32]byte, payer, payee [20]byte, amount *big.Int) (bool, *big.Int) {
	return b.vault.VerifyEscrow(id, payer, payee, amount)
}

func (b *Bound) PayoutToProvider(id [32]byte, amount *big.Int) (*big.Int, error) {
	return b.vault.PayoutToProvider(b.caller, id, amount)
}

func (b *Bound) RefundToRequester(id [32]byte, amount *big.Int) (*big.Int, error) {
	return b.vault.RefundToRequester(b.caller, id, amount)
}

func (b *Bound) Payout(id [32]byte, recipient [20]byte, amount *big.Int) (*big.Int, error) {
	return b.vault.Payout(b.caller, id, recipient, amount)
}

func (b *Bound) Remaining(id [32]byte) *big.Int {
	return b.vault.Remaining(id)
}
