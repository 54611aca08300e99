package chainclient_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tolchain/relay/chainclient"
	"github.com/tolchain/relay/internal/testutil"
)

func TestBroadcastSyncReturnsCheckTxOutcome(t *testing.T) {
	fake := testutil.NewFakeChainServer()
	defer fake.Close()
	fake.BroadcastTxHash = "ABCD1234"
	fake.BroadcastCode = 0
	fake.BroadcastRawLog = "[]"

	c := chainclient.New(fake.URL(), "contract1")
	res, err := c.BroadcastSync(context.Background(), []byte("tx-bytes"))
	require.NoError(t, err)
	require.Equal(t, "ABCD1234", res.TxHash)
	require.Zero(t, res.Code)
}

func TestQueryTxFoundDecodesEventsAndHeight(t *testing.T) {
	fake := testutil.NewFakeChainServer()
	defer fake.Close()
	fake.TxsByHash["tx-1"] = testutil.FakeTx{
		Code:   0,
		Height: 42,
		RawLog: "ok",
		Events: []map[string]any{
			{"type": "wasm", "attributes": []map[string]any{
				{"key": "action", "value": "create_bet"},
			}},
		},
	}

	c := chainclient.New(fake.URL(), "contract1")
	res, err := c.QueryTx(context.Background(), "tx-1")
	require.NoError(t, err)
	require.True(t, res.Found)
	require.Equal(t, uint64(42), res.Height)
	require.Len(t, res.Events, 1)
	require.Equal(t, "wasm", res.Events[0].Type)
	require.Equal(t, "action", res.Events[0].Attributes[0].Key)
}

func TestQueryTxNotFoundReportsFoundFalse(t *testing.T) {
	fake := testutil.NewFakeChainServer()
	defer fake.Close()

	c := chainclient.New(fake.URL(), "contract1")
	res, err := c.QueryTx(context.Background(), "missing-tx")
	require.NoError(t, err)
	require.False(t, res.Found)
}

func TestQueryContractRoundTripsQueryAndResponse(t *testing.T) {
	fake := testutil.NewFakeChainServer()
	defer fake.Close()
	var gotQuery map[string]any
	fake.ContractQuery = func(query map[string]any) (json.RawMessage, error) {
		gotQuery = query
		return []byte(`{"balance":"100"}`), nil
	}

	c := chainclient.New(fake.URL(), "contract1")
	data, err := c.QueryContract(context.Background(), "", map[string]any{"get_vault_balance": map[string]any{"address": "alice"}})
	require.NoError(t, err)
	require.JSONEq(t, `{"balance":"100"}`, string(data))
	require.NotNil(t, gotQuery["get_vault_balance"])
}

func TestQueryAccountParsesNumberAndSequence(t *testing.T) {
	fake := testutil.NewFakeChainServer()
	defer fake.Close()
	fake.AccNum = 7
	fake.Sequence = 3

	c := chainclient.New(fake.URL(), "contract1")
	info, err := c.QueryAccount(context.Background(), "cosmos1alice")
	require.NoError(t, err)
	require.Equal(t, uint64(7), info.AccountNumber)
	require.Equal(t, uint64(3), info.Sequence)
}

func TestBlockTxsReturnsEmptySliceForEmptyHeight(t *testing.T) {
	fake := testutil.NewFakeChainServer()
	defer fake.Close()

	c := chainclient.New(fake.URL(), "contract1")
	txs, err := c.BlockTxs(context.Background(), 99)
	require.NoError(t, err)
	require.Empty(t, txs)
}

func TestBlockTxsReturnsEveryTxAtHeight(t *testing.T) {
	fake := testutil.NewFakeChainServer()
	defer fake.Close()
	fake.TxsByHeight[10] = []testutil.FakeTx{
		{Code: 0, Height: 10, Events: []map[string]any{{"type": "wasm", "attributes": []map[string]any{}}}},
	}

	c := chainclient.New(fake.URL(), "contract1")
	txs, err := c.BlockTxs(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	require.Equal(t, uint64(10), txs[0].Height)
}

func TestCurrentHeightReadsLatestBlock(t *testing.T) {
	fake := testutil.NewFakeChainServer()
	defer fake.Close()
	fake.Height = 555

	c := chainclient.New(fake.URL(), "contract1")
	h, err := c.CurrentHeight(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(555), h)
}
