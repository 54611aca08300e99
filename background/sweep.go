package background

import (
	"context"
	"log"
	"time"

	"github.com/tolchain/relay/core"
)

// stuckThreshold and sweepInterval are the "more than 2 minutes in
// accepting|canceling" recovery sweep named in §4.2/§5.
const (
	stuckThreshold = 2 * time.Minute
	sweepInterval  = 30 * time.Second
)

// NonTerminalSource enumerates bets for the sweep to inspect.
type NonTerminalSource interface {
	NonTerminalBets() ([]*core.Bet, error)
}

// SingleReconciler reconciles one bet against chain state. indexer.Reconciler
// satisfies this so the sweep reuses the same logic the startup sweep does,
// rather than duplicating chain-query and force-transition handling here.
type SingleReconciler interface {
	ReconcileBet(ctx context.Context, b *core.Bet) error
}

// Sweeper periodically finds bets stuck in accepting or canceling past
// stuckThreshold and hands each to the reconciler.
type Sweeper struct {
	bets       NonTerminalSource
	reconciler SingleReconciler
}

// NewSweeper builds a Sweeper.
func NewSweeper(bets NonTerminalSource, reconciler SingleReconciler) *Sweeper {
	return &Sweeper{bets: bets, reconciler: reconciler}
}

// Run blocks, sweeping on sweepInterval until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	bets, err := s.bets.NonTerminalBets()
	if err != nil {
		log.Printf("[background] sweep: enumerate non-terminal bets: %v", err)
		return
	}

	now := time.Now()
	for _, b := range bets {
		if b.Status != core.StatusAccepting && b.Status != core.StatusCanceling {
			continue
		}
		if now.Sub(b.StatusChangedTime) < stuckThreshold {
			continue
		}
		if err := s.reconciler.ReconcileBet(ctx, b); err != nil {
			log.Printf("[background] sweep reconcile bet %d: %v", b.BetID, err)
		}
	}
}
