package rpc

import (
	"clearline/crypto"
	"clearline/native/governance"
)

type govCallerParams struct {
	Caller string `json:"caller"`
}

type govTargetParams struct {
	Caller string `json:"caller"`
	Target string `json:"target"`
}

type govParamsParams struct {
	Caller     string `json:"caller"`
	FeeBps     uint32 `json:"feeBps"`
	PenaltyBps uint32 `json:"penaltyBps"`
}

type govSnapshotResult struct {
	Admin            string `json:"admin"`
	PendingAdmin     string `json:"pendingAdmin,omitempty"`
	Pauser           string `json:"pauser"`
	Paused           bool   `json:"paused"`
	FeeBps           uint32 `json:"feeBps"`
	CancelPenaltyBps uint32 `json:"cancelPenaltyBps"`
	FeeRecipient     string `json:"feeRecipient"`
	Registry         string `json:"registry,omitempty"`

	PendingFeeBps        uint32 `json:"pendingFeeBps,omitempty"`
	PendingPenaltyBps    uint32 `json:"pendingPenaltyBps,omitempty"`
	ParamsExecuteAfter   int64  `json:"paramsExecuteAfter,omitempty"`
	PendingRegistry      string `json:"pendingRegistry,omitempty"`
	RegistryExecuteAfter int64  `json:"registryExecuteAfter,omitempty"`
}

func renderGovernance(st *governance.State) *govSnapshotResult {
	out := &govSnapshotResult{
		Admin:            crypto.FormatAddress(st.Admin),
		Pauser:           crypto.FormatAddress(st.Pauser),
		Paused:           st.Paused,
		FeeBps:           st.FeeBps,
		CancelPenaltyBps: st.CancelPenaltyBps,
		FeeRecipient:     crypto.FormatAddress(st.FeeRecipient),
	}
	if st.PendingAdmin != ([20]byte{}) {
		out.PendingAdmin = crypto.FormatAddress(st.PendingAdmin)
	}
	if st.Registry != ([20]byte{}) {
		out.Registry = crypto.FormatAddress(st.Registry)
	}
	if st.PendingParams != nil {
		out.PendingFeeBps = st.PendingParams.FeeBps
		out.PendingPenaltyBps = st.PendingParams.PenaltyBps
		out.ParamsExecuteAfter = st.PendingParams.ExecuteAfter
	}
	if st.PendingRegistry != nil {
		out.PendingRegistry = crypto.FormatAddress(st.PendingRegistry.Registry)
		out.RegistryExecuteAfter = st.PendingRegistry.ExecuteAfter
	}
	return out
}

func (s *Server) handleGovSnapshot(req *RPCRequest) (interface{}, *RPCError) {
	st, err := s.governance.Snapshot()
	if err != nil {
		return nil, mapError(err)
	}
	return renderGovernance(st), nil
}

func (s *Server) callerOnly(req *RPCRequest, call func(caller [20]byte) error) (interface{}, *RPCError) {
	var params govCallerParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := parseAddressParam(params.Caller, "caller")
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := call(caller); err != nil {
		return nil, mapError(err)
	}
	return map[string]bool{"ok": true}, nil
}

func (s *Server) callerTarget(req *RPCRequest, call func(caller, target [20]byte) error) (interface{}, *RPCError) {
	var params govTargetParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := parseAddressParam(params.Caller, "caller")
	if rpcErr != nil {
		return nil, rpcErr
	}
	target, rpcErr := parseAddressParam(params.Target, "target")
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := call(caller, target); err != nil {
		return nil, mapError(err)
	}
	return map[string]bool{"ok": true}, nil
}

func (s *Server) handleGovPause(req *RPCRequest) (interface{}, *RPCError) {
	return s.callerOnly(req, s.governance.Pause)
}

func (s *Server) handleGovUnpause(req *RPCRequest) (interface{}, *RPCError) {
	return s.callerOnly(req, s.governance.Unpause)
}

func (s *Server) handleGovTransferAdmin(req *RPCRequest) (interface{}, *RPCError) {
	return s.callerTarget(req, s.governance.TransferAdmin)
}

func (s *Server) handleGovAcceptAdmin(req *RPCRequest) (interface{}, *RPCError) {
	return s.callerOnly(req, s.governance.AcceptAdmin)
}

func (s *Server) handleGovScheduleParams(req *RPCRequest) (interface{}, *RPCError) {
	var params govParamsParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := parseAddressParam(params.Caller, "caller")
	if rpcErr != nil {
		return nil, rpcErr
	}
	change, err := s.governance.ScheduleParamChange(caller, params.FeeBps, params.PenaltyBps)
	if err != nil {
		return nil, mapError(err)
	}
	return map[string]interface{}{
		"feeBps":       change.FeeBps,
		"penaltyBps":   change.PenaltyBps,
		"executeAfter": change.ExecuteAfter,
	}, nil
}

func (s *Server) handleGovExecuteParams(req *RPCRequest) (interface{}, *RPCError) {
	return s.callerOnly(req, s.governance.ExecuteParamChange)
}

func (s *Server) handleGovCancelParams(req *RPCRequest) (interface{}, *RPCError) {
	return s.callerOnly(req, s.governance.CancelParamChange)
}

func (s *Server) handleGovScheduleRegistry(req *RPCRequest) (interface{}, *RPCError) {
	var params govTargetParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := parseAddressParam(params.Caller, "caller")
	if rpcErr != nil {
		return nil, rpcErr
	}
	target, rpcErr := parseAddressParam(params.Target, "target")
	if rpcErr != nil {
		return nil, rpcErr
	}
	swap, err := s.governance.ScheduleRegistrySwap(caller, target)
	if err != nil {
		return nil, mapError(err)
	}
	return map[string]interface{}{
		"registry":     crypto.FormatAddress(swap.Registry),
		"executeAfter": swap.ExecuteAfter,
	}, nil
}

func (s *Server) handleGovExecuteRegistry(req *RPCRequest) (interface{}, *RPCError) {
	var params govCallerParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := parseAddressParam(params.Caller, "caller")
	if rpcErr != nil {
		return nil, rpcErr
	}
	registry, err := s.governance.ExecuteRegistrySwap(caller)
	if err != nil {
		return nil, mapError(err)
	}
	s.rebindRegistry(registry)
	return map[string]string{"registry": crypto.FormatAddress(registry)}, nil
}

func (s *Server) handleGovCancelRegistry(req *RPCRequest) (interface{}, *RPCError) {
	return s.callerOnly(req, s.governance.CancelRegistrySwap)
}

func (s *Server) handleGovApproveMediator(req *RPCRequest) (interface{}, *RPCError) {
	var params govTargetParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := parseAddressParam(params.Caller, "caller")
	if rpcErr != nil {
		return nil, rpcErr
	}
	target, rpcErr := parseAddressParam(params.Target, "target")
	if rpcErr != nil {
		return nil, rpcErr
	}
	record, err := s.governance.ApproveMediator(caller, target)
	if err != nil {
		return nil, mapError(err)
	}
	return map[string]interface{}{
		"mediator":    crypto.FormatAddress(record.Addr),
		"activatesAt": record.ActivatesAt,
	}, nil
}

func (s *Server) handleGovRevokeMediator(req *RPCRequest) (interface{}, *RPCError) {
	return s.callerTarget(req, s.governance.RevokeMediator)
}

func (s *Server) handleGovApproveVault(req *RPCRequest) (interface{}, *RPCError) {
	return s.callerTarget(req, s.governance.ApproveVault)
}

func (s *Server) handleGovRevokeVault(req *RPCRequest) (interface{}, *RPCError) {
	return s.callerTarget(req, s.governance.RevokeVault)
}
