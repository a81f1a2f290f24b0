package rpc

import (
	"clearline/crypto"
)

type escrowIDParams struct {
	ID string `json:"id"`
}

type escrowResult struct {
	ID        string `json:"id"`
	Payer     string `json:"payer"`
	Payee     string `json:"payee"`
	Total     string `json:"total"`
	Released  string `json:"released"`
	Remaining string `json:"remaining"`
	Active    bool   `json:"active"`
	CreatedAt int64  `json:"createdAt"`
}

func (s *Server) handleEscrowGet(req *RPCRequest) (interface{}, *RPCError) {
	var params escrowIDParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	id, rpcErr := parseHashParam(params.ID, "id")
	if rpcErr != nil {
		return nil, rpcErr
	}
	esc, ok := s.vault.Get(id)
	if !ok {
		return nil, &RPCError{Code: codeNotFound, Message: "escrow not found"}
	}
	return &escrowResult{
		ID:        crypto.FormatHash(esc.ID),
		Payer:     crypto.FormatAddress(esc.Payer),
		Payee:     crypto.FormatAddress(esc.Payee),
		Total:     esc.Total.String(),
		Released:  esc.Released.String(),
		Remaining: esc.Remaining().String(),
		Active:    esc.Active,
		CreatedAt: esc.CreatedAt,
	}, nil
}

func (s *Server) handleEscrowRemaining(req *RPCRequest) (interface{}, *RPCError) {
	var params escrowIDParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	id, rpcErr := parseHashParam(params.ID, "id")
	if rpcErr != nil {
		return nil, rpcErr
	}
	return map[string]string{"remaining": s.vault.Remaining(id).String()}, nil
}

type reputationScoreParams struct {
	Provider string `json:"provider"`
}

func (s *Server) handleReputationScore(req *RPCRequest) (interface{}, *RPCError) {
	var params reputationScoreParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	provider, rpcErr := parseAddressParam(params.Provider, "provider")
	if rpcErr != nil {
		return nil, rpcErr
	}
	registry := s.reputationRegistry()
	if registry == nil {
		return nil, &RPCError{Code: codeNotFound, Message: "no reputation registry configured"}
	}
	score, ok, err := registry.Score(provider)
	if err != nil {
		return nil, mapError(err)
	}
	if !ok {
		return nil, &RPCError{Code: codeNotFound, Message: "no score recorded for provider"}
	}
	return map[string]interface{}{
		"provider":    crypto.FormatAddress(score.Provider),
		"settlements": score.Settlements,
		"disputes":    score.Disputes,
		"volume":      score.Volume.String(),
	}, nil
}
