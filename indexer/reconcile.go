package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/tolchain/relay/betmachine"
	"github.com/tolchain/relay/chainclient"
	"github.com/tolchain/relay/core"
	"github.com/tolchain/relay/events"
	"github.com/tolchain/relay/notify"
	"github.com/tolchain/relay/vault"
)

// OrphanPolicy controls the startup reconciliation sweep's behavior when a
// placeholder-id bet cannot be matched to any open chain bet by commitment
// (spec §9's open question, resolved as a configuration choice rather than a
// hardcoded guess).
type OrphanPolicy string

const (
	// OrphanPolicyCancel is the original behavior: mark the row canceled
	// and release funds immediately.
	OrphanPolicyCancel OrphanPolicy = "cancel"
	// OrphanPolicyEscalate leaves the row's status unchanged and publishes
	// events.EventOrphanNeedsOperator rather than guessing, avoiding a
	// race against a reveal that lands after the orphan sweep gave up.
	OrphanPolicyEscalate OrphanPolicy = "escalate"
)

// chainBetView is the contract's bet {bet_id} query response, decoded on a
// best-effort basis: fields the contract omits simply stay zero-valued.
type chainBetView struct {
	Status           string `json:"status"`
	Maker            string `json:"maker"`
	Acceptor         string `json:"acceptor"`
	Commitment       string `json:"commitment"`
	Winner           string `json:"winner"`
	PayoutAmount     string `json:"payout_amount"`
	CommissionAmount string `json:"commission_amount"`
}

// chainOpenBet is one entry of the contract's open_bets listing, used only
// to resolve orphans by commitment.
type chainOpenBet struct {
	BetID      string `json:"bet_id"`
	Commitment string `json:"commitment"`
}

// Reconciler performs the startup sweep described in §4.4: bring every
// non-terminal local bet back in line with what the chain currently reports.
type Reconciler struct {
	chain        *chainclient.Client
	machine      *betmachine.Machine
	vault        *vault.Vault
	bus          notify.Bus
	contractAddr string
	orphanPolicy OrphanPolicy
}

// NewReconciler builds a Reconciler.
func NewReconciler(chain *chainclient.Client, machine *betmachine.Machine, v *vault.Vault, bus notify.Bus, contractAddr string, policy OrphanPolicy) *Reconciler {
	if policy == "" {
		policy = OrphanPolicyEscalate
	}
	return &Reconciler{chain: chain, machine: machine, vault: v, bus: bus, contractAddr: contractAddr, orphanPolicy: policy}
}

// Run sweeps every non-terminal bet. It returns only on a storage-level
// failure (inability to even enumerate); individual per-bet reconciliation
// errors are logged and do not abort the sweep, since one bad row must not
// block recovery of the rest.
func (r *Reconciler) Run(ctx context.Context, nonTerminal NonTerminalSource) error {
	bets, err := nonTerminal.NonTerminalBets()
	if err != nil {
		return fmt.Errorf("enumerate non-terminal bets: %w", err)
	}
	for _, b := range bets {
		if err := r.ReconcileBet(ctx, b); err != nil {
			log.Printf("[indexer] reconcile bet %d: %v", b.BetID, err)
		}
	}
	return nil
}

// ReconcileBet reconciles a single bet against chain state. It is exported
// so the periodic recovery sweep (background.Sweeper) can target just the
// bets stuck in a transitional status without re-scanning everything.
func (r *Reconciler) ReconcileBet(ctx context.Context, b *core.Bet) error {
	return r.reconcileOne(ctx, b)
}

// NonTerminalSource is the subset of storage.MirrorStore the reconciler
// scans from, kept narrow so tests can fake it.
type NonTerminalSource interface {
	NonTerminalBets() ([]*core.Bet, error)
}

func (r *Reconciler) reconcileOne(ctx context.Context, b *core.Bet) error {
	if core.IsPlaceholderID(b.BetID) {
		return r.reconcileOrphan(ctx, b)
	}

	view, found, err := r.queryBet(ctx, b.BetID)
	if err != nil {
		return err
	}
	if !found {
		// A non-placeholder id the contract doesn't recognize is not the
		// orphan case (the id was already resolved); leave it for the next
		// sweep rather than guessing.
		return nil
	}

	chainStatus := mapChainStatus(view.Status)
	if chainStatus == b.Status {
		return r.fillMissingFields(b, view)
	}
	return r.applyChainStatus(b, chainStatus, view)
}

func (r *Reconciler) reconcileOrphan(ctx context.Context, b *core.Bet) error {
	raw, err := r.chain.QueryContract(ctx, r.contractAddr, map[string]any{"open_bets": map[string]any{}})
	if err != nil {
		return fmt.Errorf("query open_bets: %w", err)
	}
	var listing struct {
		Bets []chainOpenBet `json:"bets"`
	}
	if err := json.Unmarshal(raw, &listing); err != nil {
		return fmt.Errorf("decode open_bets: %w", err)
	}

	for _, ob := range listing.Bets {
		if ob.Commitment != b.Commitment {
			continue
		}
		chainID, err := parseBetID(ob.BetID)
		if err != nil {
			continue
		}
		if _, err := r.machine.Rewrite(b.BetID, chainID); err != nil {
			return fmt.Errorf("rewrite orphan %d->%d: %w", b.BetID, chainID, err)
		}
		log.Printf("[indexer] orphan bet %d resolved to chain id %d by commitment match", b.BetID, chainID)
		return nil
	}

	switch r.orphanPolicy {
	case OrphanPolicyEscalate:
		r.bus.Publish(events.Event{Type: events.EventOrphanNeedsOperator, BetID: b.BetID, Data: map[string]any{
			"commitment": b.Commitment,
		}})
		return nil
	default:
		if _, err := r.machine.UpdateStatus(b.BetID, core.StatusCanceled, true); err != nil {
			return fmt.Errorf("orphan cancel: %w", err)
		}
		if err := r.vault.Unlock(b.MakerUserID, b.Amount); err != nil {
			log.Printf("[indexer] orphan cancel unlock maker %s: %v", b.MakerUserID, err)
		}
		if b.AcceptorUserID != "" {
			if err := r.vault.Unlock(b.AcceptorUserID, b.Amount); err != nil {
				log.Printf("[indexer] orphan cancel unlock acceptor %s: %v", b.AcceptorUserID, err)
			}
		}
		log.Printf("[indexer] orphan bet %d not found on chain, canceled and released", b.BetID)
		return nil
	}
}

func (r *Reconciler) queryBet(ctx context.Context, betID uint64) (*chainBetView, bool, error) {
	raw, err := r.chain.QueryContract(ctx, r.contractAddr, map[string]any{"bet": map[string]any{"bet_id": betID}})
	if err != nil {
		return nil, false, fmt.Errorf("query bet %d: %w", betID, err)
	}
	if len(raw) == 0 {
		return nil, false, nil
	}
	var view chainBetView
	if err := json.Unmarshal(raw, &view); err != nil {
		return nil, false, fmt.Errorf("decode bet %d: %w", betID, err)
	}
	if view.Status == "" {
		return nil, false, nil
	}
	return &view, true, nil
}

func (r *Reconciler) fillMissingFields(b *core.Bet, view *chainBetView) error {
	if b.AcceptorUserID == "" && view.Acceptor != "" {
		if _, err := r.machine.ApplyAccepted(b.BetID, view.Acceptor, b.AcceptorGuess); err != nil {
			return err
		}
	}
	return nil
}

// applyChainStatus forces the local row to match the chain and unlocks
// funds accordingly. This is the only code path that passes force=true to
// the state machine (§4.4).
func (r *Reconciler) applyChainStatus(b *core.Bet, chainStatus core.Status, view *chainBetView) error {
	switch chainStatus {
	case core.StatusAccepted:
		if b.Status == core.StatusOpen || b.Status == core.StatusAccepting {
			acceptor := b.AcceptorUserID
			if view.Acceptor != "" {
				acceptor = view.Acceptor
			}
			if _, err := r.machine.ApplyAccepted(b.BetID, acceptor, b.AcceptorGuess); err != nil {
				return err
			}
			return nil
		}
		if _, err := r.machine.UpdateStatus(b.BetID, core.StatusAccepted, true); err != nil {
			return err
		}
	case core.StatusRevealed, core.StatusTimeoutClaimed:
		if b.Status != core.StatusAccepted && b.Status != core.StatusAccepting {
			// Resolve only moves accepted/accepting rows, so force any other
			// row there first.
			if _, err := r.machine.UpdateStatus(b.BetID, core.StatusAccepted, true); err != nil {
				return err
			}
		}
		payout, _ := parseAmount(view.PayoutAmount)
		commission, _ := parseAmount(view.CommissionAmount)
		if _, err := r.machine.Resolve(b.BetID, betmachine.ResolveParams{
			Winner: view.Winner, Payout: payout, Commission: commission, Status: chainStatus,
		}); err != nil {
			return err
		}
		if err := r.vault.Unlock(b.MakerUserID, b.Amount); err != nil {
			log.Printf("[indexer] reconcile unlock maker %s: %v", b.MakerUserID, err)
		}
		if b.AcceptorUserID != "" {
			if err := r.vault.Unlock(b.AcceptorUserID, b.Amount); err != nil {
				log.Printf("[indexer] reconcile unlock acceptor %s: %v", b.AcceptorUserID, err)
			}
		}
		if view.Winner != "" && !payout.IsZero() {
			if err := r.vault.CreditWinner(view.Winner, payout); err != nil {
				log.Printf("[indexer] reconcile credit winner %s: %v", view.Winner, err)
			}
		}
	case core.StatusCanceled:
		if _, err := r.machine.UpdateStatus(b.BetID, core.StatusCanceled, true); err != nil {
			return err
		}
		if err := r.vault.Unlock(b.MakerUserID, b.Amount); err != nil {
			log.Printf("[indexer] reconcile cancel unlock maker %s: %v", b.MakerUserID, err)
		}
		if b.AcceptorUserID != "" {
			if err := r.vault.Unlock(b.AcceptorUserID, b.Amount); err != nil {
				log.Printf("[indexer] reconcile cancel unlock acceptor %s: %v", b.AcceptorUserID, err)
			}
		}
	default:
		if _, err := r.machine.UpdateStatus(b.BetID, chainStatus, true); err != nil {
			return err
		}
	}
	return nil
}

func mapChainStatus(s string) core.Status {
	switch s {
	case "open":
		return core.StatusOpen
	case "accepted":
		return core.StatusAccepted
	case "revealed":
		return core.StatusRevealed
	case "canceled", "cancelled":
		return core.StatusCanceled
	case "timeout_claimed":
		return core.StatusTimeoutClaimed
	default:
		return core.Status(s)
	}
}
