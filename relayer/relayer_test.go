package relayer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cosmos/cosmos-sdk/client"
	"github.com/cosmos/cosmos-sdk/codec"
	codectypes "github.com/cosmos/cosmos-sdk/codec/types"
	cryptocodec "github.com/cosmos/cosmos-sdk/crypto/codec"
	"github.com/cosmos/cosmos-sdk/crypto/keys/secp256k1"
	sdk "github.com/cosmos/cosmos-sdk/types"
	authtx "github.com/cosmos/cosmos-sdk/x/auth/tx"
	authtypes "github.com/cosmos/cosmos-sdk/x/auth/types"
	authztypes "github.com/cosmos/cosmos-sdk/x/authz"
	banktypes "github.com/cosmos/cosmos-sdk/x/bank/types"

	wasmtypes "github.com/CosmWasm/wasmd/x/wasm/types"

	"github.com/tolchain/relay/chainclient"
	"github.com/tolchain/relay/internal/testutil"
)

func TestParseExpectedSequenceExtractsHint(t *testing.T) {
	seq, ok := parseExpectedSequence("account sequence mismatch, expected 12, got 9")
	require.True(t, ok)
	require.Equal(t, uint64(12), seq)
}

func TestParseExpectedSequenceIgnoresUnrelatedErrors(t *testing.T) {
	_, ok := parseExpectedSequence("out of gas")
	require.False(t, ok)
}

func testTxConfig() client.TxConfig {
	reg := codectypes.NewInterfaceRegistry()
	cryptocodec.RegisterInterfaces(reg)
	authtypes.RegisterInterfaces(reg)
	banktypes.RegisterInterfaces(reg)
	authztypes.RegisterInterfaces(reg)
	wasmtypes.RegisterInterfaces(reg)
	marshaler := codec.NewProtoCodec(reg)
	return authtx.NewTxConfig(marshaler, authtx.DefaultSignModes)
}

func TestRelayBroadcastsAndAdvancesSequenceOnSuccess(t *testing.T) {
	fake := testutil.NewFakeChainServer()
	defer fake.Close()
	fake.AccNum = 1
	fake.Sequence = 0
	fake.BroadcastTxHash = "OK1"
	fake.BroadcastCode = 0

	priv := secp256k1.GenPrivKey()
	addr := sdk.AccAddress(priv.PubKey().Address()).String()

	chain := chainclient.New(fake.URL(), "contract1")
	r := New(chain, testTxConfig(), priv, addr, "contract1", "test-chain")

	res := r.Relay(context.Background(), ActionCreateBet, addr, map[string]any{"amount": "100"}, AsyncBroadcast, "")
	require.NoError(t, res.Err)
	require.True(t, res.Success)
	require.Equal(t, "OK1", res.TxHash)

	state, ok := r.CachedSequence()
	require.True(t, ok)
	require.Equal(t, uint64(1), state.Sequence, "a successful broadcast must advance the cached sequence by one")
}

func TestRelayRetriesOnSequenceMismatchThenSucceeds(t *testing.T) {
	fake := testutil.NewFakeChainServer()
	defer fake.Close()
	fake.AccNum = 1
	fake.Sequence = 0
	fake.BroadcastCode = 32
	fake.BroadcastRawLog = "account sequence mismatch, expected 5, got 0"

	priv := secp256k1.GenPrivKey()
	addr := sdk.AccAddress(priv.PubKey().Address()).String()

	chain := chainclient.New(fake.URL(), "contract1")
	r := New(chain, testTxConfig(), priv, addr, "contract1", "test-chain")

	// The fake chain always reports the same mismatch, since it cannot
	// express "accept on the Nth attempt" without extra plumbing, so this
	// exhausts the retry budget.
	res := r.Relay(context.Background(), ActionCreateBet, addr, map[string]any{"amount": "100"}, AsyncBroadcast, "")
	require.ErrorIs(t, res.Err, ErrSequenceMismatch)

	state, ok := r.CachedSequence()
	require.True(t, ok)
	require.Equal(t, uint64(5), state.Sequence, "the cache must pick up the chain's expected sequence even on final failure")
}

func TestRelayReportsCheckTxRejectedOnOtherErrors(t *testing.T) {
	fake := testutil.NewFakeChainServer()
	defer fake.Close()
	fake.AccNum = 1
	fake.Sequence = 0
	fake.BroadcastCode = 5
	fake.BroadcastRawLog = "insufficient funds"

	priv := secp256k1.GenPrivKey()
	addr := sdk.AccAddress(priv.PubKey().Address()).String()

	chain := chainclient.New(fake.URL(), "contract1")
	r := New(chain, testTxConfig(), priv, addr, "contract1", "test-chain")

	res := r.Relay(context.Background(), ActionWithdraw, addr, map[string]any{}, AsyncBroadcast, "")
	require.ErrorIs(t, res.Err, ErrCheckTxRejected)
	require.Equal(t, "insufficient funds", res.RawLog)
}

func TestRelayWithoutReadyPrivKeyFailsFast(t *testing.T) {
	fake := testutil.NewFakeChainServer()
	defer fake.Close()

	chain := chainclient.New(fake.URL(), "contract1")
	r := New(chain, testTxConfig(), nil, "", "contract1", "test-chain")

	res := r.Relay(context.Background(), ActionCreateBet, "cosmos1someone", nil, AsyncBroadcast, "")
	require.ErrorIs(t, res.Err, ErrRelayerNotReady)
}
