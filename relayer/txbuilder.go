package relayer

import (
	"context"
	"encoding/json"
	"fmt"

	wasmtypes "github.com/CosmWasm/wasmd/x/wasm/types"
	"github.com/cosmos/cosmos-sdk/client"
	authsigning "github.com/cosmos/cosmos-sdk/x/auth/signing"
	authtx "github.com/cosmos/cosmos-sdk/x/auth/tx"
	"github.com/cosmos/cosmos-sdk/x/authz"
	cryptotypes "github.com/cosmos/cosmos-sdk/crypto/types"
	"github.com/cosmos/cosmos-sdk/crypto/keys/secp256k1"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/cosmos/cosmos-sdk/types/tx/signing"
)

// Action is one of the high-level intents the relayer can translate into a
// signed transaction (§4.1).
type Action string

const (
	ActionCreateBet    Action = "create_bet"
	ActionAcceptBet    Action = "accept_bet"
	ActionReveal       Action = "reveal"
	ActionCancelBet    Action = "cancel_bet"
	ActionClaimTimeout Action = "claim_timeout"
	ActionWithdraw     Action = "withdraw"
)

// buildContractExecuteMsg wraps the action/payload as the inner
// MsgExecuteContract, addressed to the coin-flip contract. The wasm message
// body is the action name as the single JSON key, matching the contract's
// own ExecuteMsg enum convention.
func buildContractExecuteMsg(onBehalfOf, contract string, action Action, payload map[string]any) (sdk.Msg, error) {
	body := map[string]any{string(action): payload}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal execute payload: %w", err)
	}
	return &wasmtypes.MsgExecuteContract{
		Sender:   onBehalfOf,
		Contract: contract,
		Msg:      wasmtypes.RawContractMessage(raw),
		Funds:    sdk.NewCoins(),
	}, nil
}

// wrapAuthzExec wraps inner as a single-message x/authz MsgExec with the
// relayer as grantee, the standard way one signer executes a contract
// action "on behalf of" another address that has granted it authorization.
func wrapAuthzExec(grantee string, inner sdk.Msg) (sdk.Msg, error) {
	granteeAddr, err := sdk.AccAddressFromBech32(grantee)
	if err != nil {
		return nil, fmt.Errorf("relayer grantee address: %w", err)
	}
	msg := authz.NewMsgExec(granteeAddr, []sdk.Msg{inner})
	return &msg, nil
}

// buildAndSign constructs the full transaction for action on behalf of
// onBehalfOf, signs it with priv, and returns the bytes ready to broadcast.
// When onBehalfOf equals the relayer's own address (e.g. a relayer-initiated
// maintenance action) the inner message is sent directly, unwrapped.
func buildAndSign(
	txConfig client.TxConfig,
	priv *secp256k1.PrivKey,
	relayerAddr string,
	onBehalfOf string,
	contract string,
	action Action,
	payload map[string]any,
	gasGranter string,
	chainID string,
	accNum, seq uint64,
) ([]byte, error) {
	inner, err := buildContractExecuteMsg(onBehalfOf, contract, action, payload)
	if err != nil {
		return nil, err
	}

	var msg sdk.Msg = inner
	if onBehalfOf != relayerAddr {
		msg, err = wrapAuthzExec(relayerAddr, inner)
		if err != nil {
			return nil, err
		}
	}

	builder := txConfig.NewTxBuilder()
	if err := builder.SetMsgs(msg); err != nil {
		return nil, fmt.Errorf("set msgs: %w", err)
	}
	builder.SetGasLimit(defaultGasLimit)
	builder.SetFeeAmount(sdk.NewCoins(defaultFee))
	if gasGranter != "" {
		builder.SetFeeGranter(mustAccAddress(gasGranter))
	}

	signerData := authsigning.SignerData{
		ChainID:       chainID,
		AccountNumber: accNum,
		Sequence:      seq,
	}

	// SignWithPrivKey computes sign bytes from the builder's AuthInfo as it
	// stands at call time; a placeholder signature with the real pubkey and
	// sequence must be set first so SignerInfos matches what gets broadcast.
	placeholder := signing.SignatureV2{
		PubKey: priv.PubKey(),
		Data: &signing.SingleSignatureData{
			SignMode:  signing.SignMode_SIGN_MODE_DIRECT,
			Signature: nil,
		},
		Sequence: seq,
	}
	if err := builder.SetSignatures(placeholder); err != nil {
		return nil, fmt.Errorf("set placeholder signature: %w", err)
	}

	sig, err := authtx.SignWithPrivKey(
		context.Background(),
		signing.SignMode_SIGN_MODE_DIRECT,
		signerData,
		builder,
		priv,
		txConfig,
		seq,
	)
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}
	if err := builder.SetSignatures(sig); err != nil {
		return nil, fmt.Errorf("set signature: %w", err)
	}

	bz, err := txConfig.TxEncoder()(builder.GetTx())
	if err != nil {
		return nil, fmt.Errorf("encode tx: %w", err)
	}
	return bz, nil
}

func mustAccAddress(bech32 string) sdk.AccAddress {
	addr, err := sdk.AccAddressFromBech32(bech32)
	if err != nil {
		return nil
	}
	return addr
}

// pubKeyOf is a small helper kept alongside the builder since every signed
// tx needs the signer's pubkey resolvable for SetSignerInfos in some SDK
// code paths; it is unexported and currently has no caller.
func pubKeyOf(priv *secp256k1.PrivKey) cryptotypes.PubKey {
	return priv.PubKey()
}
