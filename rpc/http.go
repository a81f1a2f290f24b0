// Package rpc exposes the coordinator, governance, vault and reputation
// surfaces over JSON-RPC 2.0. Mutating methods require a bearer token when
// the server is configured with one.
package rpc

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"clearline/native/coordinator"
	"clearline/native/escrow"
	"clearline/native/governance"
	"clearline/native/reputation"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeUnauthorized   = -32001
	codeValidation     = -32021
	codeNotFound       = -32022
	codeForbidden      = -32023
	codeStateConflict  = -32024
	codeTiming         = -32026
	codeEconomic       = -32027
	codePaused         = -32028
)

type Server struct {
	coordinator *coordinator.Engine
	governance  *governance.Engine
	vault       *escrow.Vault
	authToken   string
	logger      *slog.Logger

	// registryMu guards registry, which a governance swap replaces while
	// the server is live.
	registryMu sync.RWMutex
	registry   *reputation.Registry
}

func (s *Server) reputationRegistry() *reputation.Registry {
	s.registryMu.RLock()
	defer s.registryMu.RUnlock()
	return s.registry
}

// rebindRegistry points the server and the coordinator at a fresh registry
// instance at addr, keeping the score store. Returns the new instance, or nil
// when no registry was ever configured.
func (s *Server) rebindRegistry(addr [20]byte) *reputation.Registry {
	s.registryMu.Lock()
	defer s.registryMu.Unlock()
	if s.registry == nil {
		return nil
	}
	s.registry = s.registry.At(addr)
	s.coordinator.SetReputation(s.registry)
	return s.registry
}

// NewServer wires the RPC surface over the supplied engines. An empty token
// disables authentication; intended only for local development.
func NewServer(coord *coordinator.Engine, gov *governance.Engine, vault *escrow.Vault, registry *reputation.Registry, authToken string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		coordinator: coord,
		governance:  gov,
		vault:       vault,
		registry:    registry,
		authToken:   strings.TrimSpace(authToken),
		logger:      logger,
	}
}

// Start serves the RPC endpoint on addr until the listener fails.
func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	s.logger.Info("starting JSON-RPC server", "addr", addr)
	return http.ListenAndServe(addr, mux)
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) authorized(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	supplied := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	return subtle.ConstantTimeCompare([]byte(supplied), []byte(s.authToken)) == 1
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() { _ = reader.Close() }()

	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, nil, codeInvalidRequest, "POST required", nil)
		return
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}

	if s.mutating(req.Method) && !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, "missing or invalid bearer token", nil)
		return
	}

	result, rpcErr := s.dispatch(req)
	if rpcErr != nil {
		writeError(w, http.StatusOK, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) mutating(method string) bool {
	switch method {
	case "tx_get", "escrow_get", "escrow_remaining", "reputation_score", "gov_snapshot":
		return false
	default:
		return true
	}
}

func (s *Server) dispatch(req *RPCRequest) (interface{}, *RPCError) {
	switch req.Method {
	case "tx_create":
		return s.handleTxCreate(req)
	case "tx_quote":
		return s.handleTxQuote(req)
	case "tx_linkEscrow":
		return s.handleTxLinkEscrow(req)
	case "tx_start":
		return s.handleTxStart(req)
	case "tx_deliver":
		return s.handleTxDeliver(req)
	case "tx_settle":
		return s.handleTxSettle(req)
	case "tx_dispute":
		return s.handleTxDispute(req)
	case "tx_resolve":
		return s.handleTxResolve(req)
	case "tx_resolveCancel":
		return s.handleTxResolveCancel(req)
	case "tx_cancel":
		return s.handleTxCancel(req)
	case "tx_anchorAttestation":
		return s.handleTxAnchorAttestation(req)
	case "tx_get":
		return s.handleTxGet(req)
	case "escrow_get":
		return s.handleEscrowGet(req)
	case "escrow_remaining":
		return s.handleEscrowRemaining(req)
	case "reputation_score":
		return s.handleReputationScore(req)
	case "gov_snapshot":
		return s.handleGovSnapshot(req)
	case "gov_pause":
		return s.handleGovPause(req)
	case "gov_unpause":
		return s.handleGovUnpause(req)
	case "gov_transferAdmin":
		return s.handleGovTransferAdmin(req)
	case "gov_acceptAdmin":
		return s.handleGovAcceptAdmin(req)
	case "gov_scheduleParams":
		return s.handleGovScheduleParams(req)
	case "gov_executeParams":
		return s.handleGovExecuteParams(req)
	case "gov_cancelParams":
		return s.handleGovCancelParams(req)
	case "gov_scheduleRegistry":
		return s.handleGovScheduleRegistry(req)
	case "gov_executeRegistry":
		return s.handleGovExecuteRegistry(req)
	case "gov_cancelRegistry":
		return s.handleGovCancelRegistry(req)
	case "gov_approveMediator":
		return s.handleGovApproveMediator(req)
	case "gov_revokeMediator":
		return s.handleGovRevokeMediator(req)
	case "gov_approveVault":
		return s.handleGovApproveVault(req)
	case "gov_revokeVault":
		return s.handleGovRevokeVault(req)
	default:
		return nil, &RPCError{Code: codeMethodNotFound, Message: fmt.Sprintf("unknown method %q", req.Method)}
	}
}

// mapError converts engine sentinels into the stable RPC error code bands.
func mapError(err error) *RPCError {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, coordinator.ErrPaused):
		return &RPCError{Code: codePaused, Message: err.Error()}
	case errors.Is(err, coordinator.ErrNotFound):
		return &RPCError{Code: codeNotFound, Message: err.Error()}
	case errors.Is(err, coordinator.ErrUnauthorized),
		errors.Is(err, escrow.ErrNotOrchestrator),
		errors.Is(err, governance.ErrNotAdmin),
		errors.Is(err, governance.ErrNotPauser),
		errors.Is(err, governance.ErrNotPendingAdmin):
		return &RPCError{Code: codeForbidden, Message: err.Error()}
	case errors.Is(err, coordinator.ErrInvalidAmount),
		errors.Is(err, coordinator.ErrInvalidDeadline),
		errors.Is(err, coordinator.ErrInvalidWindow),
		errors.Is(err, coordinator.ErrZeroAddress),
		errors.Is(err, coordinator.ErrSelfDealing),
		errors.Is(err, coordinator.ErrMalformedProof),
		errors.Is(err, escrow.ErrInvalidAmount),
		errors.Is(err, escrow.ErrZeroParty),
		errors.Is(err, governance.ErrZeroAddress),
		errors.Is(err, governance.ErrBpsOutOfRange):
		return &RPCError{Code: codeValidation, Message: err.Error()}
	case errors.Is(err, coordinator.ErrInvalidTransition),
		errors.Is(err, coordinator.ErrVaultNotApproved),
		errors.Is(err, coordinator.ErrVaultUnregistered),
		errors.Is(err, escrow.ErrIDRetired),
		errors.Is(err, escrow.ErrEscrowNotFound),
		errors.Is(err, escrow.ErrEscrowInactive),
		errors.Is(err, governance.ErrPendingExists),
		errors.Is(err, governance.ErrNothingPending),
		errors.Is(err, governance.ErrMediatorUnknown):
		return &RPCError{Code: codeStateConflict, Message: err.Error()}
	case errors.Is(err, coordinator.ErrDeadlinePassed),
		errors.Is(err, coordinator.ErrDeadlineNotReached),
		errors.Is(err, coordinator.ErrWindowClosed),
		errors.Is(err, coordinator.ErrWindowOpen),
		errors.Is(err, coordinator.ErrMediatorInactive),
		errors.Is(err, governance.ErrTimelockPending),
		errors.Is(err, governance.ErrMediatorCooldown):
		return &RPCError{Code: codeTiming, Message: err.Error()}
	case errors.Is(err, coordinator.ErrProofSum),
		errors.Is(err, coordinator.ErrMediatorCap),
		errors.Is(err, coordinator.ErrPayoutMismatch),
		errors.Is(err, coordinator.ErrNothingToSettle),
		errors.Is(err, escrow.ErrInsufficientLock):
		return &RPCError{Code: codeEconomic, Message: err.Error()}
	default:
		return &RPCError{Code: codeServerError, Message: err.Error()}
	}
}
