package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"clearline/crypto"
	"clearline/native/coordinator"
	"clearline/native/escrow"
	"clearline/native/governance"
	"clearline/native/reputation"
	"clearline/state"
	"clearline/storage"
)

const testToken = "sekrit"

var (
	testAdmin     = "0x" + repeatHex("ad")
	testRequester = "0x" + repeatHex("a1")
	testProvider  = "0x" + repeatHex("b1")
	testRecipient = "0x" + repeatHex("fe")
)

func repeatHex(pair string) string {
	out := ""
	for i := 0; i < 20; i++ {
		out += pair
	}
	return out
}

type harness struct {
	server       *httptest.Server
	vault        [20]byte
	manager      *state.Manager
	gov          *governance.Engine
	registryAddr [20]byte
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	manager := state.NewManager(storage.NewMemDB())

	gov, err := governance.NewEngine(governance.Policy{
		ParamDelaySeconds:       3600,
		MediatorActivationDelay: 3600,
		MediatorRevokeCooldown:  3600,
		MaxFeeBps:               1000,
		MaxCancelPenaltyBps:     5000,
	})
	require.NoError(t, err)
	gov.SetState(manager)

	admin, err := crypto.ParseAddress(testAdmin)
	require.NoError(t, err)
	recipient, err := crypto.ParseAddress(testRecipient)
	require.NoError(t, err)
	require.NoError(t, gov.Bootstrap(admin, admin, recipient, 100, 1000))

	coordAddr := crypto.ModuleAddress("coordinator")
	vaultAddr := crypto.ModuleAddress("vault/default")

	vault := escrow.NewVault(vaultAddr)
	vault.SetState(manager)
	vault.SetOrchestrator(coordAddr)

	coord := coordinator.NewEngine(coordAddr, gov)
	coord.SetState(manager)
	coord.RegisterVault(vaultAddr, vault.Bind(coordAddr))
	require.NoError(t, gov.ApproveVault(admin, vaultAddr))

	registryAddr := crypto.ModuleAddress("reputation/registry")
	registry := reputation.NewRegistry(registryAddr)
	registry.SetStore(manager)
	coord.SetReputation(registry)

	requester, err := crypto.ParseAddress(testRequester)
	require.NoError(t, err)
	require.NoError(t, manager.Credit(requester, big.NewInt(100_000)))

	srv := NewServer(coord, gov, vault, registry, testToken, nil)
	mux := http.NewServeMux()
	mux.HandleFunc("/", srv.handle)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return &harness{server: ts, vault: vaultAddr, manager: manager, gov: gov, registryAddr: registryAddr}
}

// settleTransaction drives a transaction through the full happy path and
// returns its id.
func (h *harness) settleTransaction(t *testing.T, amount string) [32]byte {
	t.Helper()
	created := h.call(t, "tx_create", map[string]interface{}{
		"caller":      testRequester,
		"requester":   testRequester,
		"provider":    testProvider,
		"amount":      amount,
		"deadline":    time.Now().Unix() + 3600,
		"serviceHash": "0x" + fmt.Sprintf("%064x", 0x51),
	}, testToken)
	txID := resultField(t, created, "id")
	require.NotEmpty(t, txID)
	for _, step := range []struct {
		method string
		caller string
	}{
		{"tx_quote", testProvider},
		{"tx_linkEscrow", testRequester},
		{"tx_start", testProvider},
		{"tx_deliver", testProvider},
		{"tx_settle", testRequester},
	} {
		params := map[string]interface{}{"caller": step.caller, "txId": txID}
		if step.method == "tx_linkEscrow" {
			params["vault"] = crypto.FormatAddress(h.vault)
			params["escrowId"] = txID
		}
		resp := h.call(t, step.method, params, testToken)
		require.Nil(t, resp.Error, "%s failed: %+v", step.method, resp.Error)
	}
	id, err := crypto.ParseHash(txID)
	require.NoError(t, err)
	return id
}

func (h *harness) call(t *testing.T, method string, params interface{}, token string) *RPCResponse {
	t.Helper()
	body, err := json.Marshal(&struct {
		JSONRPC string        `json:"jsonrpc"`
		Method  string        `json:"method"`
		Params  []interface{} `json:"params"`
		ID      int           `json:"id"`
	}{jsonRPCVersion, method, []interface{}{params}, 1})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, h.server.URL, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := &RPCResponse{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return out
}

func resultField(t *testing.T, resp *RPCResponse, field string) string {
	t.Helper()
	require.Nil(t, resp.Error, "unexpected rpc error: %+v", resp.Error)
	obj, ok := resp.Result.(map[string]interface{})
	require.True(t, ok, "result is not an object: %v", resp.Result)
	value, _ := obj[field].(string)
	return value
}

func TestFullLifecycleOverRPC(t *testing.T) {
	h := newHarness(t)
	deadline := time.Now().Unix() + 3600

	created := h.call(t, "tx_create", map[string]interface{}{
		"caller":      testRequester,
		"requester":   testRequester,
		"provider":    testProvider,
		"amount":      "1000",
		"deadline":    deadline,
		"serviceHash": "0x" + fmt.Sprintf("%064x", 0x51),
	}, testToken)
	txID := resultField(t, created, "id")
	require.NotEmpty(t, txID)
	require.Equal(t, "initiated", resultField(t, created, "status"))

	quoted := h.call(t, "tx_quote", map[string]interface{}{
		"caller": testProvider,
		"txId":   txID,
	}, testToken)
	require.Equal(t, "quoted", resultField(t, quoted, "status"))

	linked := h.call(t, "tx_linkEscrow", map[string]interface{}{
		"caller":   testRequester,
		"txId":     txID,
		"vault":    crypto.FormatAddress(h.vault),
		"escrowId": txID,
	}, testToken)
	require.Equal(t, "committed", resultField(t, linked, "status"))

	started := h.call(t, "tx_start", map[string]interface{}{
		"caller": testProvider,
		"txId":   txID,
	}, testToken)
	require.Equal(t, "in_progress", resultField(t, started, "status"))

	delivered := h.call(t, "tx_deliver", map[string]interface{}{
		"caller": testProvider,
		"txId":   txID,
	}, testToken)
	require.Equal(t, "delivered", resultField(t, delivered, "status"))

	settled := h.call(t, "tx_settle", map[string]interface{}{
		"caller": testRequester,
		"txId":   txID,
	}, testToken)
	require.Equal(t, "settled", resultField(t, settled, "status"))

	provider, err := crypto.ParseAddress(testProvider)
	require.NoError(t, err)
	acc, err := h.manager.GetAccount(provider)
	require.NoError(t, err)
	require.Zero(t, acc.Balance.Cmp(big.NewInt(990)), "provider received %s", acc.Balance)

	score := h.call(t, "reputation_score", map[string]interface{}{
		"provider": testProvider,
	}, "")
	require.Nil(t, score.Error)
}

func TestMutatingMethodsRequireToken(t *testing.T) {
	h := newHarness(t)

	resp := h.call(t, "tx_create", map[string]interface{}{
		"caller":      testRequester,
		"requester":   testRequester,
		"provider":    testProvider,
		"amount":      "1000",
		"deadline":    time.Now().Unix() + 3600,
		"serviceHash": "0x" + fmt.Sprintf("%064x", 0x51),
	}, "")
	require.NotNil(t, resp.Error)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	wrong := h.call(t, "gov_pause", map[string]interface{}{"caller": testAdmin}, "wrong")
	require.NotNil(t, wrong.Error)
	require.Equal(t, codeUnauthorized, wrong.Error.Code)

	// Read methods stay open.
	snapshot := h.call(t, "gov_snapshot", map[string]interface{}{}, "")
	require.Nil(t, snapshot.Error)
}

func TestErrorCodeBands(t *testing.T) {
	h := newHarness(t)

	missing := h.call(t, "tx_get", map[string]interface{}{
		"txId": "0x" + fmt.Sprintf("%064x", 0xEE),
	}, "")
	require.NotNil(t, missing.Error)
	require.Equal(t, codeNotFound, missing.Error.Code)

	badParams := h.call(t, "tx_create", map[string]interface{}{
		"caller": "nope",
	}, testToken)
	require.NotNil(t, badParams.Error)
	require.Equal(t, codeInvalidParams, badParams.Error.Code)

	selfDeal := h.call(t, "tx_create", map[string]interface{}{
		"caller":      testRequester,
		"requester":   testRequester,
		"provider":    testRequester,
		"amount":      "1000",
		"deadline":    time.Now().Unix() + 3600,
		"serviceHash": "0x" + fmt.Sprintf("%064x", 0x51),
	}, testToken)
	require.NotNil(t, selfDeal.Error)
	require.Equal(t, codeValidation, selfDeal.Error.Code)

	unknown := h.call(t, "no_such_method", map[string]interface{}{}, testToken)
	require.NotNil(t, unknown.Error)
	require.Equal(t, codeMethodNotFound, unknown.Error.Code)
}

func TestRegistrySwapRebindsSettlementReporting(t *testing.T) {
	h := newHarness(t)
	oldAddr := h.registryAddr
	first := h.settleTransaction(t, "1000")

	newAddr := crypto.ModuleAddress("reputation/registry/v2")
	scheduled := h.call(t, "gov_scheduleRegistry", map[string]interface{}{
		"caller": testAdmin,
		"target": crypto.FormatAddress(newAddr),
	}, testToken)
	require.Nil(t, scheduled.Error, "schedule failed: %+v", scheduled.Error)

	h.gov.SetNowFunc(func() int64 { return time.Now().Unix() + 7200 })
	executed := h.call(t, "gov_executeRegistry", map[string]interface{}{
		"caller": testAdmin,
	}, testToken)
	require.Equal(t, crypto.FormatAddress(newAddr), resultField(t, executed, "registry"))

	second := h.settleTransaction(t, "2000")

	processed, err := h.manager.ReputationProcessed(newAddr, second)
	require.NoError(t, err)
	require.True(t, processed, "settlement after the swap must be recorded by the new instance")

	processed, err = h.manager.ReputationProcessed(oldAddr, second)
	require.NoError(t, err)
	require.False(t, processed, "retired instance must not record settlements after the swap")

	processed, err = h.manager.ReputationProcessed(oldAddr, first)
	require.NoError(t, err)
	require.True(t, processed, "bookkeeping recorded before the swap survives")

	score := h.call(t, "reputation_score", map[string]interface{}{"provider": testProvider}, "")
	require.Nil(t, score.Error)
}

func TestGovernancePauseBlocksCoordinator(t *testing.T) {
	h := newHarness(t)

	paused := h.call(t, "gov_pause", map[string]interface{}{"caller": testAdmin}, testToken)
	require.Nil(t, paused.Error)

	resp := h.call(t, "tx_create", map[string]interface{}{
		"caller":      testRequester,
		"requester":   testRequester,
		"provider":    testProvider,
		"amount":      "1000",
		"deadline":    time.Now().Unix() + 3600,
		"serviceHash": "0x" + fmt.Sprintf("%064x", 0x51),
	}, testToken)
	require.NotNil(t, resp.Error)
	require.Equal(t, codePaused, resp.Error.Code)

	unpaused := h.call(t, "gov_unpause", map[string]interface{}{"caller": testAdmin}, testToken)
	require.Nil(t, unpaused.Error)
}
