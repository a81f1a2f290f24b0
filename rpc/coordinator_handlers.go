package rpc

import (
	"encoding/hex"
	"encoding/json"
	"math/big"
	"strings"

	"clearline/crypto"
	"clearline/native/coordinator"
)

type txCreateParams struct {
	Caller            string `json:"caller"`
	Requester         string `json:"requester"`
	Provider          string `json:"provider"`
	Amount            string `json:"amount"`
	Deadline          int64  `json:"deadline"`
	DisputeWindowHint int64  `json:"disputeWindowHint,omitempty"`
	ServiceHash       string `json:"serviceHash"`
}

type txActorParams struct {
	Caller string `json:"caller"`
	TxID   string `json:"txId"`
	Proof  string `json:"proof,omitempty"`
}

type txLinkParams struct {
	Caller   string `json:"caller"`
	TxID     string `json:"txId"`
	Vault    string `json:"vault"`
	EscrowID string `json:"escrowId"`
}

type txAttestationParams struct {
	Caller        string `json:"caller"`
	TxID          string `json:"txId"`
	AttestationID string `json:"attestationId"`
}

type txIDParams struct {
	TxID string `json:"txId"`
}

// txResult is the JSON rendering of a transaction record.
type txResult struct {
	ID              string `json:"id"`
	Requester       string `json:"requester"`
	Provider        string `json:"provider"`
	Amount          string `json:"amount"`
	FeeBps          uint32 `json:"feeBps"`
	ServiceHash     string `json:"serviceHash"`
	Deadline        int64  `json:"deadline"`
	DisputeWindow   int64  `json:"disputeWindow"`
	DisputeDeadline int64  `json:"disputeDeadline,omitempty"`
	Status          string `json:"status"`
	Disputed        bool   `json:"disputed"`
	Vault           string `json:"vault,omitempty"`
	EscrowID        string `json:"escrowId,omitempty"`
	QuoteHash       string `json:"quoteHash,omitempty"`
	AttestationID   string `json:"attestationId,omitempty"`
	CreatedAt       int64  `json:"createdAt"`
	UpdatedAt       int64  `json:"updatedAt"`
}

func renderTx(tx *coordinator.Transaction) *txResult {
	out := &txResult{
		ID:              crypto.FormatHash(tx.ID),
		Requester:       crypto.FormatAddress(tx.Requester),
		Provider:        crypto.FormatAddress(tx.Provider),
		FeeBps:          tx.FeeBps,
		ServiceHash:     crypto.FormatHash(tx.ServiceHash),
		Deadline:        tx.Deadline,
		DisputeWindow:   tx.DisputeWindow,
		DisputeDeadline: tx.DisputeDeadline,
		Status:          tx.Status.String(),
		Disputed:        tx.Disputed,
		CreatedAt:       tx.CreatedAt,
		UpdatedAt:       tx.UpdatedAt,
	}
	if tx.Amount != nil {
		out.Amount = tx.Amount.String()
	}
	if tx.Vault != ([20]byte{}) {
		out.Vault = crypto.FormatAddress(tx.Vault)
		out.EscrowID = crypto.FormatHash(tx.EscrowID)
	}
	if tx.QuoteHash != ([32]byte{}) {
		out.QuoteHash = crypto.FormatHash(tx.QuoteHash)
	}
	if tx.AttestationID != ([32]byte{}) {
		out.AttestationID = crypto.FormatHash(tx.AttestationID)
	}
	return out
}

func decodeParams(req *RPCRequest, out interface{}) *RPCError {
	if len(req.Params) != 1 {
		return &RPCError{Code: codeInvalidParams, Message: "expected a single params object"}
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		return &RPCError{Code: codeInvalidParams, Message: "malformed params", Data: err.Error()}
	}
	return nil
}

func parseAddressParam(value, field string) ([20]byte, *RPCError) {
	addr, err := crypto.ParseAddress(value)
	if err != nil {
		return addr, &RPCError{Code: codeInvalidParams, Message: field + " must be a 20-byte hex address"}
	}
	return addr, nil
}

func parseHashParam(value, field string) ([32]byte, *RPCError) {
	id, err := crypto.ParseHash(value)
	if err != nil {
		return id, &RPCError{Code: codeInvalidParams, Message: field + " must be a 32-byte hex identifier"}
	}
	return id, nil
}

func parseProofParam(value string) ([]byte, *RPCError) {
	trimmed := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(value), "0x"))
	if trimmed == "" {
		return nil, nil
	}
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: "proof must be hex encoded"}
	}
	return raw, nil
}

func parseAmountParam(value string) (*big.Int, *RPCError) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok {
		return nil, &RPCError{Code: codeInvalidParams, Message: "amount must be a base-10 integer"}
	}
	return amount, nil
}

func (s *Server) handleTxCreate(req *RPCRequest) (interface{}, *RPCError) {
	var params txCreateParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := parseAddressParam(params.Caller, "caller")
	if rpcErr != nil {
		return nil, rpcErr
	}
	requester, rpcErr := parseAddressParam(params.Requester, "requester")
	if rpcErr != nil {
		return nil, rpcErr
	}
	provider, rpcErr := parseAddressParam(params.Provider, "provider")
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := parseAmountParam(params.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	serviceHash, rpcErr := parseHashParam(params.ServiceHash, "serviceHash")
	if rpcErr != nil {
		return nil, rpcErr
	}
	tx, err := s.coordinator.CreateTransaction(caller, requester, provider, amount, params.Deadline, params.DisputeWindowHint, serviceHash)
	if err != nil {
		return nil, mapError(err)
	}
	return renderTx(tx), nil
}

func (s *Server) actorCall(req *RPCRequest, call func(caller [20]byte, txID [32]byte, proof []byte) error) (interface{}, *RPCError) {
	var params txActorParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := parseAddressParam(params.Caller, "caller")
	if rpcErr != nil {
		return nil, rpcErr
	}
	txID, rpcErr := parseHashParam(params.TxID, "txId")
	if rpcErr != nil {
		return nil, rpcErr
	}
	proof, rpcErr := parseProofParam(params.Proof)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := call(caller, txID, proof); err != nil {
		return nil, mapError(err)
	}
	tx, err := s.coordinator.Get(txID)
	if err != nil {
		return nil, mapError(err)
	}
	return renderTx(tx), nil
}

func (s *Server) handleTxQuote(req *RPCRequest) (interface{}, *RPCError) {
	return s.actorCall(req, s.coordinator.SubmitQuote)
}

func (s *Server) handleTxStart(req *RPCRequest) (interface{}, *RPCError) {
	return s.actorCall(req, func(caller [20]byte, txID [32]byte, _ []byte) error {
		return s.coordinator.Start(caller, txID)
	})
}

func (s *Server) handleTxDeliver(req *RPCRequest) (interface{}, *RPCError) {
	return s.actorCall(req, s.coordinator.MarkDelivered)
}

func (s *Server) handleTxSettle(req *RPCRequest) (interface{}, *RPCError) {
	return s.actorCall(req, func(caller [20]byte, txID [32]byte, _ []byte) error {
		return s.coordinator.Settle(caller, txID)
	})
}

func (s *Server) handleTxDispute(req *RPCRequest) (interface{}, *RPCError) {
	return s.actorCall(req, func(caller [20]byte, txID [32]byte, _ []byte) error {
		return s.coordinator.Dispute(caller, txID)
	})
}

func (s *Server) handleTxResolve(req *RPCRequest) (interface{}, *RPCError) {
	return s.actorCall(req, s.coordinator.Resolve)
}

func (s *Server) handleTxResolveCancel(req *RPCRequest) (interface{}, *RPCError) {
	return s.actorCall(req, s.coordinator.ResolveCancel)
}

func (s *Server) handleTxCancel(req *RPCRequest) (interface{}, *RPCError) {
	return s.actorCall(req, func(caller [20]byte, txID [32]byte, _ []byte) error {
		return s.coordinator.Cancel(caller, txID)
	})
}

func (s *Server) handleTxLinkEscrow(req *RPCRequest) (interface{}, *RPCError) {
	var params txLinkParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := parseAddressParam(params.Caller, "caller")
	if rpcErr != nil {
		return nil, rpcErr
	}
	txID, rpcErr := parseHashParam(params.TxID, "txId")
	if rpcErr != nil {
		return nil, rpcErr
	}
	vault, rpcErr := parseAddressParam(params.Vault, "vault")
	if rpcErr != nil {
		return nil, rpcErr
	}
	escrowID, rpcErr := parseHashParam(params.EscrowID, "escrowId")
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.coordinator.LinkEscrow(caller, txID, vault, escrowID); err != nil {
		return nil, mapError(err)
	}
	tx, err := s.coordinator.Get(txID)
	if err != nil {
		return nil, mapError(err)
	}
	return renderTx(tx), nil
}

func (s *Server) handleTxAnchorAttestation(req *RPCRequest) (interface{}, *RPCError) {
	var params txAttestationParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := parseAddressParam(params.Caller, "caller")
	if rpcErr != nil {
		return nil, rpcErr
	}
	txID, rpcErr := parseHashParam(params.TxID, "txId")
	if rpcErr != nil {
		return nil, rpcErr
	}
	attestation, rpcErr := parseHashParam(params.AttestationID, "attestationId")
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.coordinator.AnchorAttestation(caller, txID, attestation); err != nil {
		return nil, mapError(err)
	}
	tx, err := s.coordinator.Get(txID)
	if err != nil {
		return nil, mapError(err)
	}
	return renderTx(tx), nil
}

func (s *Server) handleTxGet(req *RPCRequest) (interface{}, *RPCError) {
	var params txIDParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	txID, rpcErr := parseHashParam(params.TxID, "txId")
	if rpcErr != nil {
		return nil, rpcErr
	}
	tx, err := s.coordinator.Get(txID)
	if err != nil {
		return nil, mapError(err)
	}
	return renderTx(tx), nil
}
