package testutil

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// FakeTx is one canned transaction result for FakeChainServer.
type FakeTx struct {
	TxHash string
	Code   uint32
	Height uint64
	RawLog string
	Events []map[string]any // each: {"type": "...", "attributes": [{"key":..,"value":..}, ...]}
}

// FakeChainServer is a minimal in-process stand-in for the chain's REST
// surface, serving exactly the routes chainclient.Client calls. Point
// chainclient.New(srv.URL(), contractAddr) at it to get a real client
// talking to canned, deterministic responses instead of a live chain node.
type FakeChainServer struct {
	mu sync.Mutex

	srv *httptest.Server

	Height   uint64
	AccNum   uint64
	Sequence uint64

	// TxsByHash backs QueryTx; TxsByHeight backs BlockTxs.
	TxsByHash   map[string]FakeTx
	TxsByHeight map[uint64][]FakeTx

	// ContractQuery answers QueryContract calls given the decoded query
	// object; tests set this to whatever the scenario under test needs.
	ContractQuery func(query map[string]any) (json.RawMessage, error)

	// BroadcastTxHash and BroadcastCode are returned from every
	// BroadcastSync call, simulating check-tx admission.
	BroadcastTxHash string
	BroadcastCode   uint32
	BroadcastRawLog string
}

// NewFakeChainServer starts the server; call Close when done.
func NewFakeChainServer() *FakeChainServer {
	f := &FakeChainServer{
		TxsByHash:   make(map[string]FakeTx),
		TxsByHeight: make(map[uint64][]FakeTx),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/cosmos/tx/v1beta1/txs", f.handleTxs)
	mux.HandleFunc("/cosmos/tx/v1beta1/txs/", f.handleTxByHash)
	mux.HandleFunc("/cosmwasm/wasm/v1/contract/", f.handleContractQuery)
	mux.HandleFunc("/cosmos/auth/v1beta1/accounts/", f.handleAccount)
	mux.HandleFunc("/cosmos/base/tendermint/v1beta1/blocks/latest", f.handleLatestBlock)
	f.srv = httptest.NewServer(mux)
	return f
}

// URL is the base address to pass to chainclient.New.
func (f *FakeChainServer) URL() string { return f.srv.URL }

// Close shuts the underlying httptest.Server down.
func (f *FakeChainServer) Close() { f.srv.Close() }

func (f *FakeChainServer) handleTxs(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		f.mu.Lock()
		resp := map[string]any{
			"tx_response": map[string]any{
				"txhash":  f.BroadcastTxHash,
				"code":    f.BroadcastCode,
				"raw_log": f.BroadcastRawLog,
			},
		}
		f.mu.Unlock()
		writeJSON(w, resp)
		return
	}

	// GET ?events=tx.height=N -> BlockTxs
	q := r.URL.Query().Get("events")
	var height uint64
	fmt.Sscanf(q, "tx.height=%d", &height)
	f.mu.Lock()
	txs := f.TxsByHeight[height]
	f.mu.Unlock()

	responses := make([]map[string]any, 0, len(txs))
	for _, tx := range txs {
		responses = append(responses, fakeTxResponse(tx))
	}
	writeJSON(w, map[string]any{"tx_responses": responses})
}

func (f *FakeChainServer) handleTxByHash(w http.ResponseWriter, r *http.Request) {
	hash := strings.TrimPrefix(r.URL.Path, "/cosmos/tx/v1beta1/txs/")
	f.mu.Lock()
	tx, ok := f.TxsByHash[hash]
	f.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]any{"tx_response": fakeTxResponse(tx)})
}

func (f *FakeChainServer) handleContractQuery(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/cosmwasm/wasm/v1/contract/"), "/smart/")
	if len(parts) != 2 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	raw, err := base64.URLEncoding.DecodeString(parts[1])
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var query map[string]any
	if err := json.Unmarshal(raw, &query); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	responder := f.ContractQuery
	f.mu.Unlock()
	if responder == nil {
		writeJSON(w, map[string]any{"data": json.RawMessage("{}")})
		return
	}
	data, err := responder(query)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]any{"data": data})
}

func (f *FakeChainServer) handleAccount(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	writeJSON(w, map[string]any{"account": map[string]any{
		"account_number": fmt.Sprintf("%d", f.AccNum),
		"sequence":       fmt.Sprintf("%d", f.Sequence),
	}})
}

func (f *FakeChainServer) handleLatestBlock(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	h := f.Height
	f.mu.Unlock()
	writeJSON(w, map[string]any{"block": map[string]any{"header": map[string]any{
		"height": fmt.Sprintf("%d", h),
	}}})
}

func fakeTxResponse(tx FakeTx) map[string]any {
	events := make([]map[string]any, 0, len(tx.Events))
	for _, e := range tx.Events {
		events = append(events, e)
	}
	return map[string]any{
		"txhash":  tx.TxHash,
		"code":    tx.Code,
		"height":  fmt.Sprintf("%d", tx.Height),
		"raw_log": tx.RawLog,
		"events":  events,
		"logs":    []any{},
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
