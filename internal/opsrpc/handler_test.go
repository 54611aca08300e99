package opsrpc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tolchain/relay/betmachine"
	"github.com/tolchain/relay/core"
	"github.com/tolchain/relay/internal/testutil"
	"github.com/tolchain/relay/relayer"
	"github.com/tolchain/relay/vault"
)

func newTestHandler(t *testing.T) (*Handler, *betmachine.Machine, *vault.Vault) {
	t.Helper()
	store := testutil.NewMirrorStore()
	machine := betmachine.New(store)
	v := vault.New(store, machine)
	r := relayer.New(nil, nil, nil, "cosmos1relayer", "contract1", "test-chain")
	return NewHandler(machine, v, store, r), machine, v
}

func mustParams(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func TestDispatchGetBetStatusReturnsBet(t *testing.T) {
	h, machine, _ := newTestHandler(t)
	_, err := machine.CreateBet("alice", "tx-1", core.NewAmount(100), "commit1", core.SideHeads, "secret1")
	require.NoError(t, err)
	bet, err := machine.FindByTxHashCreate("tx-1")
	require.NoError(t, err)

	resp := h.Dispatch(Request{JSONRPC: "2.0", ID: 1, Method: "getBetStatus", Params: mustParams(t, map[string]any{"bet_id": bet.BetID})})
	require.Nil(t, resp.Error)
	require.NotNil(t, resp.Result)
}

func TestDispatchGetVaultBalanceRequiresAddress(t *testing.T) {
	h, _, _ := newTestHandler(t)
	resp := h.Dispatch(Request{JSONRPC: "2.0", ID: 2, Method: "getVaultBalance", Params: mustParams(t, map[string]any{"address": ""})})
	require.NotNil(t, resp.Error)
	require.Equal(t, CodeInvalidParams, resp.Error.Code)
}

func TestDispatchGetVaultBalanceReturnsBalances(t *testing.T) {
	h, _, v := newTestHandler(t)
	require.NoError(t, v.CreditAvailable("alice", core.NewAmount(100)))

	resp := h.Dispatch(Request{JSONRPC: "2.0", ID: 3, Method: "getVaultBalance", Params: mustParams(t, map[string]any{"address": "alice"})})
	require.Nil(t, resp.Error)
	m := resp.Result.(map[string]any)
	require.Equal(t, "100", m["available"])
}

func TestDispatchGetJackpotPoolRequiresTierID(t *testing.T) {
	h, _, _ := newTestHandler(t)
	resp := h.Dispatch(Request{JSONRPC: "2.0", ID: 4, Method: "getJackpotPool", Params: mustParams(t, map[string]any{"tier_id": ""})})
	require.NotNil(t, resp.Error)
	require.Equal(t, CodeInvalidParams, resp.Error.Code)
}

func TestDispatchGetJackpotPoolMissingTierIsInternalError(t *testing.T) {
	h, _, _ := newTestHandler(t)
	resp := h.Dispatch(Request{JSONRPC: "2.0", ID: 5, Method: "getJackpotPool", Params: mustParams(t, map[string]any{"tier_id": "bronze"})})
	require.NotNil(t, resp.Error)
	require.Equal(t, CodeInternalError, resp.Error.Code)
}

func TestDispatchGetRelayerSequenceReportsUnknownBeforeFirstFetch(t *testing.T) {
	h, _, _ := newTestHandler(t)
	resp := h.Dispatch(Request{JSONRPC: "2.0", ID: 6, Method: "getRelayerSequence"})
	require.Nil(t, resp.Error)
	m := resp.Result.(map[string]any)
	require.Equal(t, false, m["known"])
	require.Equal(t, "cosmos1relayer", m["address"])
}

func TestDispatchUnknownMethodReturnsMethodNotFound(t *testing.T) {
	h, _, _ := newTestHandler(t)
	resp := h.Dispatch(Request{JSONRPC: "2.0", ID: 7, Method: "doSomethingElse"})
	require.NotNil(t, resp.Error)
	require.Equal(t, CodeMethodNotFound, resp.Error.Code)
}
