package indexer

import (
	"fmt"
	"log"
	"strconv"

	"github.com/tolchain/relay/betmachine"
	"github.com/tolchain/relay/core"
	"github.com/tolchain/relay/events"
	"github.com/tolchain/relay/notify"
	"github.com/tolchain/relay/vault"
)

// Projector applies one extracted contract event to the mirror (§4.4's
// projection table). All projections use conditional updates so duplicate
// delivery (after the tx_events dedup guard already let one through, or on
// replay) is harmless.
type Projector struct {
	machine *betmachine.Machine
	vault   *vault.Vault
	bus     notify.Bus
	stats   settledCounter
}

// settledCounter records per-user settled-bet counts for the jackpot
// engine's min_games eligibility check.
type settledCounter interface {
	IncrementSettledCount(address string) (int, error)
}

// NewProjector creates a Projector.
func NewProjector(machine *betmachine.Machine, v *vault.Vault, bus notify.Bus, stats settledCounter) *Projector {
	return &Projector{machine: machine, vault: v, bus: bus, stats: stats}
}

// Apply projects a single normalized contract event onto the bet state
// machine and vault, per the table in §4.4.
func (p *Projector) Apply(typ string, ev contractEvent, txHash string) error {
	switch typ {
	case "bet_created":
		return p.applyCreated(ev, txHash)
	case "bet_accepted":
		return p.applyAccepted(ev)
	case "bet_revealed":
		return p.applyResolved(ev, core.StatusRevealed, txHash)
	case "bet_canceled":
		return p.applyCanceled(ev, txHash)
	case "bet_timeout_claimed":
		return p.applyResolved(ev, core.StatusTimeoutClaimed, txHash)
	case "commission_paid":
		// Treasury ledger append is an external collaborator (§1); the
		// caller already deduplicated this event via tx_events before
		// reaching Apply, so there is nothing further to do here.
		log.Printf("[indexer] commission_paid bet_id=%s commission=%s", ev.BetID, ev.CommissionAmount)
		return nil
	default:
		return fmt.Errorf("project: unknown event type %q", typ)
	}
}

// applyCreated resolves the tx hash back to the pending row the handler
// created with a placeholder id and rewrites it to the chain-assigned id.
// Because the handler's own tx never carries the id it was assigned, this is
// the only way the bet becomes addressable by bet_id.
func (p *Projector) applyCreated(ev contractEvent, txHash string) error {
	chainID, err := parseBetID(ev.BetID)
	if err != nil {
		return err
	}
	b, err := p.machine.FindByTxHashCreate(txHash)
	if err != nil {
		return err
	}
	if b == nil {
		return nil // not one of ours, or already processed and gone
	}
	if b.BetID == chainID {
		return nil // already rewritten (idempotent replay)
	}
	if _, err := p.machine.Rewrite(b.BetID, chainID); err != nil {
		return fmt.Errorf("project bet_created: %w", err)
	}
	p.bus.Publish(events.Event{Type: events.EventBetCreated, BetID: chainID, TxHash: txHash})
	return nil
}

func (p *Projector) applyAccepted(ev contractEvent) error {
	betID, err := parseBetID(ev.BetID)
	if err != nil {
		return err
	}
	b, err := p.machine.ApplyAccepted(betID, ev.Acceptor, core.Side(ev.Guess))
	if err != nil {
		return fmt.Errorf("project bet_accepted: %w", err)
	}
	if b == nil {
		return nil
	}
	p.bus.Publish(events.Event{Type: events.EventBetAccepted, BetID: betID})
	return nil
}

func (p *Projector) applyResolved(ev contractEvent, status core.Status, txHash string) error {
	betID, err := parseBetID(ev.BetID)
	if err != nil {
		return err
	}
	payout, err := parseAmount(ev.PayoutAmount)
	if err != nil {
		return err
	}
	commission, err := parseAmount(ev.CommissionAmount)
	if err != nil {
		return err
	}

	b, err := p.machine.Resolve(betID, betmachine.ResolveParams{
		Winner:     ev.Winner,
		Payout:     payout,
		Commission: commission,
		TxHash:     txHash,
		Status:     status,
	})
	if err != nil {
		return fmt.Errorf("project resolve: %w", err)
	}
	if b == nil {
		return nil
	}

	if err := p.vault.Unlock(b.MakerUserID, b.Amount); err != nil {
		log.Printf("[indexer] unlock maker %s bet=%d: %v", b.MakerUserID, betID, err)
	}
	if b.AcceptorUserID != "" {
		if err := p.vault.Unlock(b.AcceptorUserID, b.Amount); err != nil {
			log.Printf("[indexer] unlock acceptor %s bet=%d: %v", b.AcceptorUserID, betID, err)
		}
	}
	if b.WinnerUserID != "" && !payout.IsZero() {
		if err := p.vault.CreditWinner(b.WinnerUserID, payout); err != nil {
			log.Printf("[indexer] credit winner %s bet=%d: %v", b.WinnerUserID, betID, err)
		}
	}
	if _, err := p.stats.IncrementSettledCount(b.MakerUserID); err != nil {
		log.Printf("[indexer] increment settled count %s: %v", b.MakerUserID, err)
	}
	if b.AcceptorUserID != "" {
		if _, err := p.stats.IncrementSettledCount(b.AcceptorUserID); err != nil {
			log.Printf("[indexer] increment settled count %s: %v", b.AcceptorUserID, err)
		}
	}

	typ := events.EventBetRevealed
	if status == core.StatusTimeoutClaimed {
		typ = events.EventBetTimeoutClaimed
	}
	p.bus.Publish(events.Event{Type: typ, BetID: betID, TxHash: txHash, Data: map[string]any{
		"winner":            b.WinnerUserID,
		"payout_amount":     payout.String(),
		"commission_amount": commission.String(),
		"amount":            b.Amount.String(),
	}})
	return nil
}

func (p *Projector) applyCanceled(ev contractEvent, txHash string) error {
	betID, err := parseBetID(ev.BetID)
	if err != nil {
		return err
	}
	b, err := p.machine.Cancel(betID, txHash)
	if err != nil {
		return fmt.Errorf("project bet_canceled: %w", err)
	}
	if b == nil {
		return nil
	}
	if err := p.vault.Unlock(b.MakerUserID, b.Amount); err != nil {
		log.Printf("[indexer] unlock maker %s bet=%d: %v", b.MakerUserID, betID, err)
	}
	if b.AcceptorUserID != "" {
		if err := p.vault.Unlock(b.AcceptorUserID, b.Amount); err != nil {
			log.Printf("[indexer] unlock acceptor %s bet=%d: %v", b.AcceptorUserID, betID, err)
		}
	}
	p.bus.Publish(events.Event{Type: events.EventBetCanceled, BetID: betID, TxHash: txHash})
	return nil
}

func parseBetID(s string) (uint64, error) {
	if s == "" {
		return 0, fmt.Errorf("missing bet_id attribute")
	}
	return strconv.ParseUint(s, 10, 64)
}

func parseAmount(s string) (core.Amount, error) {
	if s == "" {
		return core.ZeroAmount(), nil
	}
	return core.ParseAmount(s)
}
