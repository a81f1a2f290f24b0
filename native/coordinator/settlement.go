package coordinator

import (
	"fmt"
	"math"
	"math/big"

	"clearline/core/types"
	"clearline/native/escrow"
	"clearline/native/fees"
)

// resolution is the decoded payout plan supplied by an authority when
// closing a dispute.
type resolution struct {
	RequesterAmount *big.Int
	ProviderAmount  *big.Int
	Mediator        [20]byte
	MediatorAmount  *big.Int
}

func (r *resolution) total() *big.Int {
	sum := new(big.Int).Add(r.RequesterAmount, r.ProviderAmount)
	return sum.Add(sum, r.MediatorAmount)
}

func (r *resolution) empty() bool {
	return r.RequesterAmount.Sign() == 0 && r.ProviderAmount.Sign() == 0 && r.MediatorAmount.Sign() == 0
}

// Settle completes a delivered transaction without a dispute. The requester
// may settle at any point after delivery; the provider must wait out the
// dispute window first.
func (e *Engine) Settle(caller [20]byte, txID [32]byte) error {
	if err := e.requireRunning(); err != nil {
		return err
	}
	unlock := e.lockTx(txID)
	defer unlock()

	tx, err := e.loadTx(txID)
	if err != nil {
		return err
	}
	if tx.Status != StatusDelivered {
		return ErrInvalidTransition
	}
	switch caller {
	case tx.Requester:
	case tx.Provider:
		if e.nowFn() < tx.DisputeDeadline {
			return ErrWindowOpen
		}
	default:
		return ErrUnauthorized
	}
	validator, err := e.validator(tx.Vault)
	if err != nil {
		return err
	}
	remaining := validator.Remaining(tx.EscrowID)
	if remaining == nil || remaining.Sign() <= 0 {
		return ErrNothingToSettle
	}
	if err := e.payProviderLeg(tx, validator, remaining); err != nil {
		return err
	}
	if err := e.transition(tx, StatusSettled, caller); err != nil {
		return err
	}
	e.notifyReputation(tx)
	return nil
}

// Resolve closes a disputed transaction as SETTLED under an authority's
// payout plan. An empty proof is not an error: it confirms delivery and pays
// the full remainder to the provider through the normal fee path.
func (e *Engine) Resolve(caller [20]byte, txID [32]byte, proof []byte) error {
	return e.resolveDispute(caller, txID, proof, StatusSettled)
}

// ResolveCancel closes a disputed transaction as CANCELLED. An empty proof
// refunds the full remainder to the requester.
func (e *Engine) ResolveCancel(caller [20]byte, txID [32]byte, proof []byte) error {
	return e.resolveDispute(caller, txID, proof, StatusCancelled)
}

func (e *Engine) resolveDispute(caller [20]byte, txID [32]byte, proof []byte, outcome Status) error {
	if err := e.requireRunning(); err != nil {
		return err
	}
	unlock := e.lockTx(txID)
	defer unlock()

	tx, err := e.loadTx(txID)
	if err != nil {
		return err
	}
	authority, err := e.policy.IsAuthority(caller)
	if err != nil {
		return err
	}
	if !authority {
		return ErrUnauthorized
	}
	if tx.Status != StatusDisputed {
		return ErrInvalidTransition
	}
	validator, err := e.validator(tx.Vault)
	if err != nil {
		return err
	}
	remaining := validator.Remaining(tx.EscrowID)
	if remaining == nil || remaining.Sign() <= 0 {
		return ErrNothingToSettle
	}

	var plan *resolution
	if len(proof) == 0 {
		plan = &resolution{
			RequesterAmount: big.NewInt(0),
			ProviderAmount:  big.NewInt(0),
			MediatorAmount:  big.NewInt(0),
		}
		if outcome == StatusCancelled {
			plan.RequesterAmount = new(big.Int).Set(remaining)
		} else {
			plan.ProviderAmount = new(big.Int).Set(remaining)
		}
	} else {
		plan, err = decodeResolutionProof(proof)
		if err != nil {
			return err
		}
		if plan.empty() {
			return ErrMalformedProof
		}
		// The plan must disburse the remainder exactly. Under- and
		// over-distribution are both rejected so no leftover can silently
		// favor either side.
		if plan.total().Cmp(remaining) != 0 {
			return ErrProofSum
		}
		if plan.MediatorAmount.Sign() > 0 {
			if plan.Mediator == ([20]byte{}) {
				return ErrMalformedProof
			}
			active, err := e.policy.MediatorActive(plan.Mediator, e.nowFn())
			if err != nil {
				return err
			}
			if !active {
				return ErrMediatorInactive
			}
			if plan.MediatorAmount.Cmp(fees.Cap(tx.Amount, MediatorCapBps)) > 0 {
				return ErrMediatorCap
			}
		}
	}

	if plan.RequesterAmount.Sign() > 0 {
		released, err := validator.RefundToRequester(tx.EscrowID, plan.RequesterAmount)
		if err != nil {
			return err
		}
		if released == nil || released.Cmp(plan.RequesterAmount) != 0 {
			e.emit(newPayoutMismatchEvent(tx, tx.Requester, plan.RequesterAmount, released))
			return ErrPayoutMismatch
		}
	}
	if plan.MediatorAmount.Sign() > 0 {
		released, err := validator.Payout(tx.EscrowID, plan.Mediator, plan.MediatorAmount)
		if err != nil {
			return err
		}
		if released == nil || released.Cmp(plan.MediatorAmount) != 0 {
			e.emit(newPayoutMismatchEvent(tx, plan.Mediator, plan.MediatorAmount, released))
			return ErrPayoutMismatch
		}
		e.emit(newMediatorPaidEvent(tx, plan.Mediator, plan.MediatorAmount))
	}
	if plan.ProviderAmount.Sign() > 0 {
		if err := e.payProviderLeg(tx, validator, plan.ProviderAmount); err != nil {
			return err
		}
	}
	if err := e.transition(tx, outcome, caller); err != nil {
		return err
	}
	e.notifyReputation(tx)
	return nil
}

func (e *Engine) cancelFunded(tx *Transaction, caller [20]byte, penalise bool) error {
	validator, err := e.validator(tx.Vault)
	if err != nil {
		return err
	}
	remaining := validator.Remaining(tx.EscrowID)
	if remaining != nil && remaining.Sign() > 0 {
		refund := new(big.Int).Set(remaining)
		if penalise {
			penaltyBps, err := e.policy.CancelPenaltyBps()
			if err != nil {
				return err
			}
			penalty := fees.Apply(remaining, penaltyBps).Fee
			if penalty.Sign() > 0 {
				if err := e.payProviderLeg(tx, validator, penalty); err != nil {
					return err
				}
				refund = refund.Sub(refund, penalty)
			}
		}
		if refund.Sign() > 0 {
			released, err := validator.RefundToRequester(tx.EscrowID, refund)
			if err != nil {
				return err
			}
			if released == nil || released.Cmp(refund) != 0 {
				e.emit(newPayoutMismatchEvent(tx, tx.Requester, refund, released))
				return ErrPayoutMismatch
			}
		}
	}
	return e.transition(tx, StatusCancelled, caller)
}

// payProviderLeg disburses a gross amount through the fee-deducting path:
// the provider receives the net, the fee lands in coordinator custody and is
// forwarded by distributeFee. Failure to extract the fee after the provider
// is already paid degrades to a forensic event rather than unwinding the
// settlement.
func (e *Engine) payProviderLeg(tx *Transaction, validator escrow.Validator, gross *big.Int) error {
	applied := fees.Apply(gross, tx.FeeBps)
	if applied.Net.Sign() > 0 {
		released, err := validator.PayoutToProvider(tx.EscrowID, applied.Net)
		if err != nil {
			return err
		}
		if released == nil || released.Cmp(applied.Net) != 0 {
			e.emit(newPayoutMismatchEvent(tx, tx.Provider, applied.Net, released))
			return ErrPayoutMismatch
		}
	}
	if applied.Fee.Sign() > 0 {
		released, err := validator.Payout(tx.EscrowID, e.address, applied.Fee)
		if err != nil {
			e.emit(newArchiveFailedEvent(tx, applied.Fee, fmt.Sprintf("fee extraction: %v", err)))
			return nil
		}
		if released == nil || released.Cmp(applied.Fee) != 0 {
			e.emit(newPayoutMismatchEvent(tx, e.address, applied.Fee, released))
			return nil
		}
		e.emit(newFeeAccruedEvent(tx, applied.Fee))
		e.distributeFee(tx, applied.Fee)
	}
	return nil
}

// distributeFee forwards an accrued fee out of coordinator custody: a fixed
// slice to the archive treasury, the rest to the fee recipient. The treasury
// leg runs a three tier ladder so a refusing or broken treasury can never
// brick the settlement that produced the fee.
func (e *Engine) distributeFee(tx *Transaction, fee *big.Int) {
	recipient, err := e.policy.FeeRecipient()
	if err != nil || recipient == ([20]byte{}) {
		e.emit(newArchiveFailedEvent(tx, fee, "fee recipient unavailable"))
		return
	}
	treasuryShare, recipientShare := fees.Split(fee, ArchiveSplitBps)
	if e.treasury == nil || treasuryShare.Sign() == 0 {
		recipientShare = new(big.Int).Add(recipientShare, treasuryShare)
		treasuryShare = big.NewInt(0)
	}
	if treasuryShare.Sign() > 0 {
		if err := e.sendToTreasury(treasuryShare); err != nil {
			// Tier two: redirect the same funds straight to the recipient.
			e.emit(newArchiveFailedEvent(tx, treasuryShare, fmt.Sprintf("treasury refused: %v", err)))
			recipientShare = new(big.Int).Add(recipientShare, treasuryShare)
		}
	}
	if recipientShare.Sign() > 0 {
		if err := e.transferFromCustody(recipient, recipientShare); err != nil {
			// Tier three: the funds stay in coordinator custody with a
			// forensic trail instead of failing the settlement.
			e.emit(newArchiveFailedEvent(tx, recipientShare, fmt.Sprintf("recipient transfer: %v", err)))
		}
	}
}

// sendToTreasury hands the archive slice to the treasury collaborator,
// isolating the coordinator from panics in its implementation.
func (e *Engine) sendToTreasury(amount *big.Int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("treasury panic: %v", r)
		}
	}()
	return e.treasury.ReceiveFunds(e.address, amount)
}

// transferFromCustody moves funds out of the coordinator's module account.
func (e *Engine) transferFromCustody(to [20]byte, amount *big.Int) error {
	from, err := e.state.GetAccount(e.address)
	if err != nil {
		return err
	}
	dest, err := e.state.GetAccount(to)
	if err != nil {
		return err
	}
	from = types.EnsureAccount(from)
	dest = types.EnsureAccount(dest)
	if from.Balance.Cmp(amount) < 0 {
		return fmt.Errorf("coordinator: custody balance below %s", amount)
	}
	from.Balance = new(big.Int).Sub(from.Balance, amount)
	dest.Balance = new(big.Int).Add(dest.Balance, amount)
	if err := e.state.PutAccount(e.address, from); err != nil {
		return err
	}
	return e.state.PutAccount(to, dest)
}

// notifyReputation fires the best-effort settlement notification. The mark
// is written before the external call so not even a reentrant registry can
// double-count a transaction, and any panic or error in the registry is
// swallowed after leaving a forensic event.
func (e *Engine) notifyReputation(tx *Transaction) {
	updater := e.reputationUpdater()
	if updater == nil {
		return
	}
	registry := updater.Address()
	processed, err := e.state.ReputationProcessed(registry, tx.ID)
	if err != nil || processed {
		return
	}
	if err := e.state.MarkReputationProcessed(registry, tx.ID); err != nil {
		return
	}
	func() {
		defer func() {
			if r := recover(); r != nil {
				e.emit(newReputationSkippedEvent(tx, fmt.Sprintf("registry panic: %v", r)))
			}
		}()
		if err := updater.UpdateOnSettlement(tx.Provider, tx.ID, tx.Amount, tx.Disputed); err != nil {
			e.emit(newReputationSkippedEvent(tx, err.Error()))
		}
	}()
}

// --- proof decoding ---

// decodeQuoteProof expects exactly one non-zero 32 byte word.
func decodeQuoteProof(proof []byte) ([32]byte, error) {
	var commitment [32]byte
	if len(proof) != 32 {
		return commitment, ErrMalformedProof
	}
	copy(commitment[:], proof)
	if commitment == ([32]byte{}) {
		return commitment, ErrMalformedProof
	}
	return commitment, nil
}

// decodeWindowProof expects a single 32 byte big-endian word of seconds,
// bounds-checked against the permitted window range.
func decodeWindowProof(proof []byte) (int64, error) {
	if len(proof) != 32 {
		return 0, ErrMalformedProof
	}
	value := new(big.Int).SetBytes(proof)
	if !value.IsInt64() {
		return 0, ErrInvalidWindow
	}
	seconds := value.Int64()
	if seconds < MinDisputeWindowSeconds || seconds > MaxDisputeWindowSeconds {
		return 0, ErrInvalidWindow
	}
	return seconds, nil
}

// addWindow computes now+window, rejecting timestamp overflow.
func addWindow(now, window int64) (int64, error) {
	if window < 0 || now > math.MaxInt64-window {
		return 0, ErrInvalidWindow
	}
	return now + window, nil
}

// decodeResolutionProof accepts two shapes: 64 bytes (requesterAmount,
// providerAmount) or 128 bytes adding (mediatorAddress, mediatorAmount).
// Amounts are 32 byte big-endian words; the mediator address occupies the
// trailing 20 bytes of its word and the leading 12 must be zero.
func decodeResolutionProof(proof []byte) (*resolution, error) {
	plan := &resolution{
		RequesterAmount: big.NewInt(0),
		ProviderAmount:  big.NewInt(0),
		MediatorAmount:  big.NewInt(0),
	}
	switch len(proof) {
	case 64:
		plan.RequesterAmount = new(big.Int).SetBytes(proof[0:32])
		plan.ProviderAmount = new(big.Int).SetBytes(proof[32:64])
		return plan, nil
	case 128:
		plan.RequesterAmount = new(big.Int).SetBytes(proof[0:32])
		plan.ProviderAmount = new(big.Int).SetBytes(proof[32:64])
		for _, b := range proof[64:76] {
			if b != 0 {
				return nil, ErrMalformedProof
			}
		}
		copy(plan.Mediator[:], proof[76:96])
		plan.MediatorAmount = new(big.Int).SetBytes(proof[96:128])
		return plan, nil
	default:
		return nil, ErrMalformedProof
	}
}
