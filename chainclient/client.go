package chainclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// callTimeout is the per-call chain REST timeout named in §5.
const callTimeout = 5 * time.Second

// Client is a bare net/http adapter over the three REST surfaces named in
// §6. No third-party HTTP client wraps this — net/http is the teacher's own
// transport idiom and nothing else in the depended-on stack needs more than
// that (see DESIGN.md).
type Client struct {
	restBaseURL string
	contractAddr string
	http        *http.Client
}

// New creates a Client pointed at a chain node's REST endpoint.
func New(restBaseURL, contractAddr string) *Client {
	return &Client{
		restBaseURL:  restBaseURL,
		contractAddr: contractAddr,
		http:         &http.Client{Timeout: callTimeout},
	}
}

// BroadcastSync posts txBytes in BROADCAST_MODE_SYNC and returns once
// check-tx has run. Only transport-level errors (connection refused,
// timeout, DNS) are retried once with a short backoff; an HTTP-level error
// body is returned as-is for the relayer to parse for sequence mismatches.
func (c *Client) BroadcastSync(ctx context.Context, txBytes []byte) (*BroadcastResult, error) {
	body, err := json.Marshal(map[string]any{
		"tx_bytes": base64.StdEncoding.EncodeToString(txBytes),
		"mode":     "BROADCAST_MODE_SYNC",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal broadcast request: %w", err)
	}

	var resp struct {
		TxResponse BroadcastResult `json:"tx_response"`
	}
	if err := c.postJSONRetrying(ctx, "/cosmos/tx/v1beta1/txs", body, &resp); err != nil {
		return nil, err
	}
	return &resp.TxResponse, nil
}

// QueryTx fetches a transaction by hash. A 404 is reported as "not yet
// indexed" via Found=false rather than as an error.
func (c *Client) QueryTx(ctx context.Context, hash string) (*TxResult, error) {
	var raw struct {
		TxResponse struct {
			Code   uint32           `json:"code"`
			Height string           `json:"height"`
			RawLog string           `json:"raw_log"`
			Events []Event          `json:"events"`
			Logs   []LegacyLogEntry `json:"logs"`
		} `json:"tx_response"`
	}

	status, err := c.getJSONRetrying(ctx, "/cosmos/tx/v1beta1/txs/"+url.PathEscape(hash), &raw)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return &TxResult{Found: false}, nil
	}

	var height uint64
	fmt.Sscanf(raw.TxResponse.Height, "%d", &height)
	return &TxResult{
		Found:      true,
		TxHash:     hash,
		Code:       raw.TxResponse.Code,
		Height:     height,
		RawLog:     raw.TxResponse.RawLog,
		Events:     raw.TxResponse.Events,
		LegacyLogs: raw.TxResponse.Logs,
	}, nil
}

// QueryContract runs a smart-contract query, base64-encoding the JSON query
// payload as the REST route requires.
func (c *Client) QueryContract(ctx context.Context, addr string, query any) (json.RawMessage, error) {
	if addr == "" {
		addr = c.contractAddr
	}
	queryBytes, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("marshal contract query: %w", err)
	}
	b64 := base64.URLEncoding.EncodeToString(queryBytes)

	var raw struct {
		Data json.RawMessage `json:"data"`
	}
	path := fmt.Sprintf("/cosmwasm/wasm/v1/contract/%s/smart/%s", url.PathEscape(addr), b64)
	if _, err := c.getJSONRetrying(ctx, path, &raw); err != nil {
		return nil, err
	}
	return raw.Data, nil
}

// AccountInfo is the (account_number, sequence) pair the relayer needs to
// sign its next transaction.
type AccountInfo struct {
	AccountNumber uint64
	Sequence      uint64
}

// QueryAccount fetches the relayer signer's own account info from the
// auth module. Not part of the abridged §4.6 surface but needed by the
// relayer's sequence manager; kept on this client since it is the same
// REST transport and timeout policy.
func (c *Client) QueryAccount(ctx context.Context, address string) (*AccountInfo, error) {
	var raw struct {
		Account struct {
			AccountNumber string `json:"account_number"`
			Sequence      string `json:"sequence"`
		} `json:"account"`
	}
	path := "/cosmos/auth/v1beta1/accounts/" + url.PathEscape(address)
	if _, err := c.getJSONRetrying(ctx, path, &raw); err != nil {
		return nil, err
	}
	var info AccountInfo
	fmt.Sscanf(raw.Account.AccountNumber, "%d", &info.AccountNumber)
	fmt.Sscanf(raw.Account.Sequence, "%d", &info.Sequence)
	return &info, nil
}

// BlockTxs returns every transaction included at height, in the same
// normalized TxResult shape QueryTx returns, for the indexer's block-polling
// loop (§4.4). A height with no transactions returns an empty slice.
func (c *Client) BlockTxs(ctx context.Context, height uint64) ([]*TxResult, error) {
	var raw struct {
		TxResponses []struct {
			TxHash string           `json:"txhash"`
			Code   uint32           `json:"code"`
			RawLog string           `json:"raw_log"`
			Events []Event          `json:"events"`
			Logs   []LegacyLogEntry `json:"logs"`
		} `json:"tx_responses"`
	}
	path := fmt.Sprintf("/cosmos/tx/v1beta1/txs?events=tx.height%%3D%d&order_by=ORDER_BY_ASC", height)
	if _, err := c.getJSONRetrying(ctx, path, &raw); err != nil {
		return nil, err
	}
	out := make([]*TxResult, 0, len(raw.TxResponses))
	for _, t := range raw.TxResponses {
		out = append(out, &TxResult{
			Found:      true,
			Code:       t.Code,
			Height:     height,
			RawLog:     t.RawLog,
			Events:     t.Events,
			LegacyLogs: t.Logs,
			TxHash:     t.TxHash,
		})
	}
	return out, nil
}

// CurrentHeight returns the chain's latest block height.
func (c *Client) CurrentHeight(ctx context.Context) (uint64, error) {
	var raw struct {
		Block struct {
			Header struct {
				Height string `json:"height"`
			} `json:"header"`
		} `json:"block"`
	}
	if _, err := c.getJSONRetrying(ctx, "/cosmos/base/tendermint/v1beta1/blocks/latest", &raw); err != nil {
		return 0, err
	}
	var height uint64
	fmt.Sscanf(raw.Block.Header.Height, "%d", &height)
	return height, nil
}

func (c *Client) getJSONRetrying(ctx context.Context, path string, out any) (int, error) {
	req := func() (*http.Response, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodGet, c.restBaseURL+path, nil)
		if err != nil {
			return nil, err
		}
		return c.http.Do(r)
	}
	resp, err := req()
	if isTransportErr(err) {
		time.Sleep(200 * time.Millisecond)
		resp, err = req()
	}
	if err != nil {
		return 0, fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return resp.StatusCode, nil
	}
	if resp.StatusCode >= 400 {
		var body bytes.Buffer
		body.ReadFrom(resp.Body)
		return resp.StatusCode, fmt.Errorf("GET %s: chain returned %d: %s", path, resp.StatusCode, body.String())
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode response from %s: %w", path, err)
	}
	return resp.StatusCode, nil
}

func (c *Client) postJSONRetrying(ctx context.Context, path string, body []byte, out any) error {
	req := func() (*http.Response, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, c.restBaseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Content-Type", "application/json")
		return c.http.Do(r)
	}
	resp, err := req()
	if isTransportErr(err) {
		time.Sleep(200 * time.Millisecond)
		resp, err = req()
	}
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errBody bytes.Buffer
		errBody.ReadFrom(resp.Body)
		return fmt.Errorf("POST %s: chain returned %d: %s", path, resp.StatusCode, errBody.String())
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response from %s: %w", path, err)
	}
	return nil
}

func isTransportErr(err error) bool {
	return err != nil
}
