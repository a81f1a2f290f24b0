package coordinator

import (
	"encoding/binary"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Status enumerates the transaction lifecycle. Transitions only ever move
// forward; a status once left is never revisited.
type Status uint8

const (
	StatusUnspecified Status = iota
	StatusInitiated
	StatusQuoted
	StatusCommitted
	StatusInProgress
	StatusDelivered
	StatusSettled
	StatusDisputed
	StatusCancelled
)

// String renders the status for logs and events.
func (s Status) String() string {
	switch s {
	case StatusInitiated:
		return "initiated"
	case StatusQuoted:
		return "quoted"
	case StatusCommitted:
		return "committed"
	case StatusInProgress:
		return "in_progress"
	case StatusDelivered:
		return "delivered"
	case StatusSettled:
		return "settled"
	case StatusDisputed:
		return "disputed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unspecified"
	}
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusSettled || s == StatusCancelled
}

const (
	// MinTransactionAmount is the smallest acceptable amount in base units.
	MinTransactionAmount = 1
	// MaxDeadlineHorizonSeconds bounds how far in the future a deadline may sit.
	MaxDeadlineHorizonSeconds = 365 * 24 * 3600
	// MinDisputeWindowSeconds is the shortest permissible dispute window.
	MinDisputeWindowSeconds = 3600
	// MaxDisputeWindowSeconds is the longest permissible dispute window.
	MaxDisputeWindowSeconds = 30 * 24 * 3600
	// DefaultDisputeWindowSeconds applies when delivery carries no override.
	DefaultDisputeWindowSeconds = 7 * 24 * 3600
	// MediatorCapBps caps a mediator payout as a fraction of the original
	// transaction amount, never of the disputed remainder.
	MediatorCapBps = 1000
	// ArchiveSplitBps is the slice of every accrued fee routed to the
	// archive treasury.
	ArchiveSplitBps = 500
)

// maxTransactionAmount guards against amounts that could not survive the
// bps arithmetic without overflow. 2^128 base units is far beyond any real
// asset supply.
var maxTransactionAmount = new(big.Int).Lsh(big.NewInt(1), 128)

// Transaction is the full per-agreement record. Identity, parties, amount
// and the locked fee rate are immutable after creation.
type Transaction struct {
	ID          [32]byte `json:"id"`
	Requester   [20]byte `json:"requester"`
	Provider    [20]byte `json:"provider"`
	Amount      *big.Int `json:"amount"`
	FeeBps      uint32   `json:"feeBps"`
	ServiceHash [32]byte `json:"serviceHash"`

	Deadline        int64 `json:"deadline"`
	DisputeWindow   int64 `json:"disputeWindow"`
	DisputeDeadline int64 `json:"disputeDeadline"`

	Status   Status `json:"status"`
	Disputed bool   `json:"disputed"`

	Vault    [20]byte `json:"vault"`
	EscrowID [32]byte `json:"escrowId"`

	QuoteHash     [32]byte `json:"quoteHash"`
	AttestationID [32]byte `json:"attestationId"`

	CreatedAt int64 `json:"createdAt"`
	UpdatedAt int64 `json:"updatedAt"`
}

// Clone returns a deep copy safe to hand to callers.
func (t *Transaction) Clone() *Transaction {
	if t == nil {
		return nil
	}
	clone := *t
	if t.Amount != nil {
		clone.Amount = new(big.Int).Set(t.Amount)
	}
	return &clone
}

// Linked reports whether an escrow has been recorded for the transaction.
func (t *Transaction) Linked() bool {
	return t.Vault != ([20]byte{})
}

// DeriveTransactionID computes the content-derived identifier for a new
// transaction. The per-requester nonce makes even byte-identical repeated
// calls yield distinct ids.
func DeriveTransactionID(requester, provider [20]byte, amount *big.Int, serviceHash [32]byte, nonce uint64) [32]byte {
	var amountWord [32]byte
	if amount != nil {
		amount.FillBytes(amountWord[:])
	}
	var nonceBytes [8]byte
	binary.BigEndian.PutUint64(nonceBytes[:], nonce)
	digest := ethcrypto.Keccak256(requester[:], provider[:], amountWord[:], serviceHash[:], nonceBytes[:])
	var id [32]byte
	copy(id[:], digest)
	return id
}
