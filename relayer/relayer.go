// Package relayer holds the single signing identity and funnels every
// on-behalf-of submission through it without sequence collisions (§4.1).
package relayer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"

	"github.com/cosmos/cosmos-sdk/client"
	"github.com/cosmos/cosmos-sdk/crypto/keys/secp256k1"
	sdk "github.com/cosmos/cosmos-sdk/types"

	"github.com/tolchain/relay/chainclient"
)

const (
	defaultGasLimit = uint64(300_000)
	// maxSeqRetries bounds the sequence-mismatch recovery loop (§4.1 step 6).
	maxSeqRetries = 3
)

var defaultFee = sdk.NewInt64Coin("utol", 5_000)

// Mode selects how long relay() blocks. Only async_broadcast is implemented:
// the call returns once check-tx has run; confirmation is the background
// task's job.
type Mode string

const AsyncBroadcast Mode = "async_broadcast"

// RelayResult is relay()'s public contract.
type RelayResult struct {
	Success bool
	TxHash  string
	RawLog  string
	Events  []chainclient.Event
	Height  uint64
	Timeout bool
	Err     error
}

// Failure kinds named in §4.1.
var (
	ErrRelayerNotReady  = errors.New("relayer_not_ready")
	ErrCheckTxRejected  = errors.New("check_tx_rejected")
	ErrBroadcastTimeout = errors.New("broadcast_timeout")
	ErrSequenceMismatch = errors.New("sequence_mismatch")
	ErrActionInProgress = errors.New("action_in_progress")
)

// Relayer holds exactly one signing identity and serializes every broadcast
// behind a process-wide mutex, per §4.1's "why a single mutex" rationale.
type Relayer struct {
	chain    *chainclient.Client
	txConfig client.TxConfig
	priv     *secp256k1.PrivKey
	address  string
	contract string
	chainID  string

	accounts *AccountCache
	guard    *InFlightGuard

	// broadcastMu is the process-wide mutex around sign+broadcast: the
	// chain requires strictly increasing sequence numbers per signer, and
	// any concurrency here causes wasted txs and user-visible failures.
	broadcastMu sync.Mutex

	ready bool
}

// New creates a Relayer. txConfig comes from the cosmos-sdk client codec
// setup performed once at process start (see cmd/relayd).
func New(chain *chainclient.Client, txConfig client.TxConfig, priv *secp256k1.PrivKey, address, contract, chainID string) *Relayer {
	return &Relayer{
		chain:    chain,
		txConfig: txConfig,
		priv:     priv,
		address:  address,
		contract: contract,
		chainID:  chainID,
		accounts: NewAccountCache(chain, address),
		guard:    NewInFlightGuard(),
		ready:    priv != nil,
	}
}

// Guard exposes the in-flight guard so request handlers can acquire/release
// it around the steps that precede the relay call (§4.2's optimistic flow).
func (r *Relayer) Guard() *InFlightGuard { return r.guard }

// Address returns the relayer's own bech32 signing address.
func (r *Relayer) Address() string { return r.address }

// CachedSequence reports the relayer's last-known (account_number, sequence)
// without touching the chain, for the ops RPC's getRelayerSequence query.
func (r *Relayer) CachedSequence() (AccountState, bool) {
	return r.accounts.Peek()
}

// Relay implements the public contract from §4.1: translate action for
// onBehalfOf into a signed, sequence-numbered tx and broadcast it in sync
// mode, returning promptly with the mempool-admission result.
func (r *Relayer) Relay(ctx context.Context, action Action, onBehalfOf string, payload map[string]any, mode Mode, gasGranter string) RelayResult {
	if !r.ready {
		return RelayResult{Err: ErrRelayerNotReady}
	}

	r.broadcastMu.Lock()
	defer r.broadcastMu.Unlock()

	acct, err := r.accounts.Get(ctx)
	if err != nil {
		return RelayResult{Err: fmt.Errorf("%w: %v", ErrRelayerNotReady, err)}
	}

	for attempt := 0; attempt <= maxSeqRetries; attempt++ {
		txBytes, err := buildAndSign(
			r.txConfig, r.priv, r.address, onBehalfOf, r.contract,
			action, payload, gasGranter, r.chainID,
			acct.AccountNumber, acct.Sequence,
		)
		if err != nil {
			return RelayResult{Err: fmt.Errorf("build tx: %w", err)}
		}

		res, err := r.chain.BroadcastSync(ctx, txBytes)
		if err != nil {
			return RelayResult{Err: fmt.Errorf("%w: %v", ErrBroadcastTimeout, err)}
		}

		if res.Code == 0 {
			r.accounts.AdvanceSequence()
			return RelayResult{Success: true, TxHash: res.TxHash, RawLog: res.RawLog}
		}

		if expected, ok := parseExpectedSequence(res.RawLog); ok {
			log.Printf("[relayer] sequence mismatch for %s, expected=%d attempt=%d", r.address, expected, attempt)
			r.accounts.SetSequence(expected)
			acct.Sequence = expected
			if attempt == maxSeqRetries {
				return RelayResult{Err: ErrSequenceMismatch, RawLog: res.RawLog}
			}
			continue
		}

		return RelayResult{Err: ErrCheckTxRejected, RawLog: res.RawLog, TxHash: res.TxHash}
	}
	return RelayResult{Err: ErrSequenceMismatch}
}

// parseExpectedSequence extracts the chain's "expected N" hint from a
// check-tx raw_log for an account-sequence mismatch error.
func parseExpectedSequence(rawLog string) (uint64, bool) {
	const marker = "expected "
	idx := strings.Index(rawLog, marker)
	if idx < 0 || !strings.Contains(rawLog, "sequence") {
		return 0, false
	}
	rest := rawLog[idx+len(marker):]
	end := strings.IndexAny(rest, ", ")
	if end < 0 {
		end = len(rest)
	}
	n, err := strconv.ParseUint(rest[:end], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
