// Package betmachine owns the bets table and exposes the conditional
// transitions named in §4.2: every mutation is an atomic compare-and-set on
// the row's current status, arbitrated by storage.MirrorStore.TransitionBet.
package betmachine

import (
	"errors"
	"fmt"
	"time"

	"github.com/tolchain/relay/core"
	"github.com/tolchain/relay/storage"
)

// Machine is the Bet State Machine.
type Machine struct {
	store *storage.MirrorStore
}

// New creates a Machine backed by store.
func New(store *storage.MirrorStore) *Machine {
	return &Machine{store: store}
}

// CreateBet inserts a new row with status open. bet_id starts as a
// timestamp-shaped placeholder until the background task or indexer learns
// the chain-assigned id (§4.2 "Create is special").
func (m *Machine) CreateBet(maker, txHashCreate string, amount core.Amount, commitment string, side core.Side, secret string) (*core.Bet, error) {
	now := time.Now()
	b := &core.Bet{
		BetID:        core.PlaceholderID(now),
		MakerUserID:  maker,
		Amount:       amount,
		Commitment:   commitment,
		MakerSide:    side,
		MakerSecret:  secret,
		Status:       core.StatusOpen,
		CreatedTime:  now,
		TxHashCreate: txHashCreate,
	}
	if err := m.store.CreateBet(b); err != nil {
		return nil, fmt.Errorf("create_bet: %w", err)
	}
	return b, nil
}

// FindByTxHashCreate resolves a pending bet by its creation tx hash, for the
// bet_created projection to locate the placeholder row. A not-found is not
// an error here: it means this tx did not originate one of our pending bets.
func (m *Machine) FindByTxHashCreate(txHash string) (*core.Bet, error) {
	b, err := m.store.GetBetByTxHashCreate(txHash)
	if errors.Is(err, core.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find_by_tx_hash_create: %w", err)
	}
	return b, nil
}

// Rewrite moves a bet from its placeholder id to the chain-assigned one.
func (m *Machine) Rewrite(oldID, newID uint64) (*core.Bet, error) {
	b, err := m.store.RewriteBetID(oldID, newID)
	if err != nil {
		return nil, fmt.Errorf("rewrite: %w", err)
	}
	return b, nil
}

// ApplyAccepted records the chain's acceptance of a bet: acceptor, guess, and
// status=accepted, conditional on the row still being open or accepting
// (accepting is the normal path once the handler already raced mark_accepting;
// open covers the indexer-first reconciliation path where the chain event
// arrives before any handler call did).
func (m *Machine) ApplyAccepted(betID uint64, acceptor string, guess core.Side) (*core.Bet, error) {
	b, err := m.store.TransitionBet(betID, []core.Status{core.StatusOpen, core.StatusAccepting}, false, func(b *core.Bet) error {
		b.AcceptorUserID = acceptor
		b.AcceptorGuess = guess
		b.Status = core.StatusAccepted
		return nil
	})
	return wrap(b, err, "apply_accepted")
}

// MarkAccepting is the race-winner arbiter among concurrent acceptors
// (§4.2): exactly one caller's conditional update succeeds.
func (m *Machine) MarkAccepting(betID uint64, acceptor string, guess core.Side) (*core.Bet, error) {
	b, err := m.store.TransitionBet(betID, []core.Status{core.StatusOpen}, false, func(b *core.Bet) error {
		b.AcceptorUserID = acceptor
		b.AcceptorGuess = guess
		b.Status = core.StatusAccepting
		return nil
	})
	return wrap(b, err, "mark_accepting")
}

// RevertAccepting clears acceptor fields and returns the row to open.
func (m *Machine) RevertAccepting(betID uint64) (*core.Bet, error) {
	b, err := m.store.TransitionBet(betID, []core.Status{core.StatusAccepting}, false, func(b *core.Bet) error {
		b.AcceptorUserID = ""
		b.AcceptorGuess = ""
		b.Status = core.StatusOpen
		return nil
	})
	return wrap(b, err, "revert_accepting")
}

// MarkCanceling begins an open bet's cancellation.
func (m *Machine) MarkCanceling(betID uint64) (*core.Bet, error) {
	b, err := m.store.TransitionBet(betID, []core.Status{core.StatusOpen}, false, func(b *core.Bet) error {
		b.Status = core.StatusCanceling
		return nil
	})
	return wrap(b, err, "mark_canceling")
}

// Cancel finalizes cancellation from either open or canceling. A chain
// report of "already canceled" is the caller's cue to convert a failure
// into success per §6; Cancel itself only performs the conditional update.
func (m *Machine) Cancel(betID uint64, txHash string) (*core.Bet, error) {
	b, err := m.store.TransitionBet(betID, []core.Status{core.StatusOpen, core.StatusCanceling}, false, func(b *core.Bet) error {
		b.Status = core.StatusCanceled
		if txHash != "" {
			b.TxHashResolve = txHash
		}
		now := time.Now()
		b.ResolvedTime = &now
		return nil
	})
	return wrap(b, err, "cancel")
}

// ResolveParams carries the settlement fields written by Resolve.
type ResolveParams struct {
	Winner     string
	Payout     core.Amount
	Commission core.Amount
	TxHash     string
	Status     core.Status // revealed or timeout_claimed
}

// Resolve moves an accepted (or still-accepting, for the crash-recovery
// path described in S4) bet to its settled terminal status.
func (m *Machine) Resolve(betID uint64, p ResolveParams) (*core.Bet, error) {
	if p.Status != core.StatusRevealed && p.Status != core.StatusTimeoutClaimed {
		return nil, fmt.Errorf("resolve: invalid target status %q", p.Status)
	}
	b, err := m.store.TransitionBet(betID, []core.Status{core.StatusAccepted, core.StatusAccepting}, false, func(b *core.Bet) error {
		b.WinnerUserID = p.Winner
		b.PayoutAmount = &p.Payout
		b.CommissionAmount = &p.Commission
		b.Status = p.Status
		if p.TxHash != "" {
			b.TxHashResolve = p.TxHash
		}
		now := time.Now()
		b.ResolvedTime = &now
		return nil
	})
	return wrap(b, err, "resolve")
}

// UpdateStatus validates against the transition table unless force is set.
// force=true is reserved for the indexer's startup reconciliation sweep
// (§4.4) and is the only caller permitted to bypass validation.
func (m *Machine) UpdateStatus(betID uint64, status core.Status, force bool) (*core.Bet, error) {
	current, err := m.store.GetBet(betID)
	if err != nil {
		return nil, fmt.Errorf("update_status: %w", err)
	}
	if !core.CanTransition(current.Status, status, force) {
		return nil, fmt.Errorf("update_status %d %s->%s: %w", betID, current.Status, status, core.ErrInvalidTransition)
	}
	b, err := m.store.TransitionBet(betID, []core.Status{current.Status}, force, func(b *core.Bet) error {
		b.Status = status
		return nil
	})
	return wrap(b, err, "update_status")
}

// GetBet is a read-through convenience for handlers and background tasks.
func (m *Machine) GetBet(betID uint64) (*core.Bet, error) {
	return m.store.GetBet(betID)
}

// OpenBetsCount implements vault.PendingBetCounter: how many bets address
// currently has in a non-terminal status, as either maker or acceptor. The
// vault's sync-from-chain guard uses this to refuse overwriting the mirror
// with a stale chain balance while a bet of address's is still in flight.
func (m *Machine) OpenBetsCount(address string) (int, error) {
	bets, err := m.store.NonTerminalBets()
	if err != nil {
		return 0, fmt.Errorf("open_bets_count: %w", err)
	}
	n := 0
	for _, b := range bets {
		if b.MakerUserID == address || b.AcceptorUserID == address {
			n++
		}
	}
	return n, nil
}

// wrap turns core.ErrRaceLost into the documented "null means transition not
// applied" contract: callers get (nil, nil) rather than treating a race loss
// as a hard error, while real errors still propagate.
func wrap(b *core.Bet, err error, op string) (*core.Bet, error) {
	if err == core.ErrRaceLost {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return b, nil
}
