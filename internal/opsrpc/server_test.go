package opsrpc

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tolchain/relay/betmachine"
	"github.com/tolchain/relay/internal/testutil"
	"github.com/tolchain/relay/relayer"
	"github.com/tolchain/relay/vault"
)

func newTestServer(t *testing.T, authToken string) *Server {
	t.Helper()
	store := testutil.NewMirrorStore()
	machine := betmachine.New(store)
	v := vault.New(store, machine)
	r := relayer.New(nil, nil, nil, "cosmos1relayer", "contract1", "test-chain")
	h := NewHandler(machine, v, store, r)
	s := NewServer("127.0.0.1:0", h, authToken)
	require.NoError(t, s.Start())
	t.Cleanup(func() { s.Stop() })
	return s
}

func TestServeHTTPRejectsNonPost(t *testing.T) {
	s := newTestServer(t, "")
	resp, err := http.Get("http://" + s.Addr().String() + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServeHTTPRequiresBearerTokenWhenConfigured(t *testing.T) {
	s := newTestServer(t, "secret-token")

	body := `{"jsonrpc":"2.0","id":1,"method":"getRelayerSequence"}`
	req, err := http.NewRequest(http.MethodPost, "http://"+s.Addr().String()+"/", strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req2, err := http.NewRequest(http.MethodPost, "http://"+s.Addr().String()+"/", strings.NewReader(body))
	require.NoError(t, err)
	req2.Header.Set("Authorization", "Bearer secret-token")
	resp2, err := http.DefaultClient.Do(req2)
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)

	var rpcResp Response
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&rpcResp))
	require.Nil(t, rpcResp.Error)
}

func TestServeHTTPRejectsWrongJSONRPCVersion(t *testing.T) {
	s := newTestServer(t, "")
	body := `{"jsonrpc":"1.0","id":1,"method":"getRelayerSequence"}`
	resp, err := http.Post("http://"+s.Addr().String()+"/", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var rpcResp Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rpcResp))
	require.NotNil(t, rpcResp.Error)
	require.Equal(t, CodeInvalidRequest, rpcResp.Error.Code)
}

func TestServeHTTPRejectsMalformedJSON(t *testing.T) {
	s := newTestServer(t, "")
	resp, err := http.Post("http://"+s.Addr().String()+"/", "application/json", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	defer resp.Body.Close()

	var rpcResp Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rpcResp))
	require.NotNil(t, rpcResp.Error)
	require.Equal(t, CodeParseError, rpcResp.Error.Code)
}

func TestServeHTTPRejectsOversizedBody(t *testing.T) {
	s := newTestServer(t, "")
	huge := bytes.Repeat([]byte("a"), 2*1024*1024)
	body := `{"jsonrpc":"2.0","id":1,"method":"getRelayerSequence","params":"` + string(huge) + `"}`
	resp, err := http.Post("http://"+s.Addr().String()+"/", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var rpcResp Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rpcResp))
	require.NotNil(t, rpcResp.Error, "a body over the 1MB cap must fail decoding rather than be accepted")
}
