package background

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tolchain/relay/core"
)

type fakeNonTerminalSource struct {
	bets []*core.Bet
}

func (f *fakeNonTerminalSource) NonTerminalBets() ([]*core.Bet, error) {
	return f.bets, nil
}

type fakeSingleReconciler struct {
	reconciled []uint64
}

func (f *fakeSingleReconciler) ReconcileBet(ctx context.Context, b *core.Bet) error {
	f.reconciled = append(f.reconciled, b.BetID)
	return nil
}

func TestTickReconcilesOnlyStuckAcceptingOrCanceling(t *testing.T) {
	now := time.Now()
	source := &fakeNonTerminalSource{bets: []*core.Bet{
		{BetID: 1, Status: core.StatusAccepting, StatusChangedTime: now.Add(-5 * time.Minute)},
		{BetID: 2, Status: core.StatusAccepting, StatusChangedTime: now},
		{BetID: 3, Status: core.StatusCanceling, StatusChangedTime: now.Add(-5 * time.Minute)},
		{BetID: 4, Status: core.StatusOpen, StatusChangedTime: now.Add(-5 * time.Minute)},
	}}
	reconciler := &fakeSingleReconciler{}
	s := NewSweeper(source, reconciler)

	s.tick(context.Background())

	require.ElementsMatch(t, []uint64{1, 3}, reconciler.reconciled)
}

func TestTickSkipsEverythingWhenNoneStuck(t *testing.T) {
	source := &fakeNonTerminalSource{bets: []*core.Bet{
		{BetID: 1, Status: core.StatusAccepting, StatusChangedTime: time.Now()},
	}}
	reconciler := &fakeSingleReconciler{}
	s := NewSweeper(source, reconciler)

	s.tick(context.Background())

	require.Empty(t, reconciler.reconciled)
}
