package jackpot

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tolchain/relay/core"
	"github.com/tolchain/relay/events"
	"github.com/tolchain/relay/notify"
)

func TestShuffleAndPickWinnerIsDeterministic(t *testing.T) {
	seed := []byte("01234567890123456789012345678901")
	eligible := []string{"alice", "bob", "carol", "dave"}

	w1 := shuffleAndPickWinner(seed, eligible)
	w2 := shuffleAndPickWinner(seed, eligible)
	require.Equal(t, w1, w2, "same seed and eligible set must reproduce the same winner")
	require.Contains(t, eligible, w1)
}

func TestShuffleAndPickWinnerDiffersAcrossSeeds(t *testing.T) {
	eligible := []string{"alice", "bob", "carol", "dave", "erin", "frank"}
	w1 := shuffleAndPickWinner([]byte("seed-one-seed-one-seed-one-seed"), eligible)
	w2 := shuffleAndPickWinner([]byte("seed-two-seed-two-seed-two-seed"), eligible)
	// Not a strict guarantee for every possible pair, but true for this
	// fixed pair of seeds/eligible set; exercises that the seed actually
	// drives the outcome rather than being ignored.
	require.NotEqual(t, w1, w2)
}

func TestShuffleAndPickWinnerSingleCandidate(t *testing.T) {
	seed := []byte("01234567890123456789012345678901")
	w := shuffleAndPickWinner(seed, []string{"alice"})
	require.Equal(t, "alice", w)
}

type fakePoolStore struct {
	pools         map[string]*core.JackpotPool
	settledUsers  []string
	contributions map[string]bool
}

func newFakePoolStore() *fakePoolStore {
	return &fakePoolStore{
		pools:         make(map[string]*core.JackpotPool),
		contributions: make(map[string]bool),
	}
}

func (f *fakePoolStore) GetPool(tierID string) (*core.JackpotPool, error) {
	p, ok := f.pools[tierID]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakePoolStore) PutPool(p *core.JackpotPool) error {
	cp := *p
	f.pools[p.TierID] = &cp
	return nil
}

func (f *fakePoolStore) MutatePool(tierID string, mutate func(*core.JackpotPool) error) (*core.JackpotPool, error) {
	p, err := f.GetPool(tierID)
	if err != nil {
		return nil, err
	}
	if err := mutate(p); err != nil {
		return nil, err
	}
	if err := f.PutPool(p); err != nil {
		return nil, err
	}
	return p, nil
}

func (f *fakePoolStore) ArchiveAndOpenNextCycle(completed *core.JackpotPool, tier *core.JackpotTier) (*core.JackpotPool, error) {
	next := &core.JackpotPool{TierID: tier.ID, Cycle: completed.Cycle + 1, CurrentAmount: core.ZeroAmount(), Status: core.PoolFilling}
	return next, f.PutPool(next)
}

func (f *fakePoolStore) InsertContributionIfAbsent(c *core.JackpotContribution) (bool, error) {
	key := fmt.Sprintf("%s|%d|%d", c.TierID, c.Cycle, c.BetID)
	if f.contributions[key] {
		return false, nil
	}
	f.contributions[key] = true
	return true, nil
}

func (f *fakePoolStore) HasContribution(tierID string, cycle int64, betID uint64) (bool, error) {
	key := fmt.Sprintf("%s|%d|%d", tierID, cycle, betID)
	return f.contributions[key], nil
}

func (f *fakePoolStore) ListUsersWithMinSettled(minGames int) ([]string, error) {
	return f.settledUsers, nil
}

func (f *fakePoolStore) SettledBets() ([]*core.Bet, error) {
	return nil, nil
}

func TestRunDrawCompletesPoolWhenEligibleUsersExist(t *testing.T) {
	store := newFakePoolStore()
	tier := core.JackpotTier{ID: "bronze", TargetAmount: core.NewAmount(100), MinGames: 1, Active: true}
	require.NoError(t, store.PutPool(&core.JackpotPool{TierID: "bronze", Cycle: 1, CurrentAmount: core.NewAmount(100), Status: core.PoolDrawing}))
	store.settledUsers = []string{"alice", "bob"}

	emitter := events.NewEmitter()
	bus := notify.NewEventBus(emitter)
	e := &Engine{store: store, bus: bus, tiers: []core.JackpotTier{tier}}

	pool, _ := store.GetPool("bronze")
	e.runDraw(&tier, pool)

	completed, err := store.GetPool("bronze")
	require.NoError(t, err)
	require.Equal(t, core.PoolFilling, completed.Status, "ArchiveAndOpenNextCycle must have opened a fresh cycle 2 pool")
	require.Equal(t, int64(2), completed.Cycle)
}

func TestRunDrawLeavesPoolDrawingWhenNoEligibleUsers(t *testing.T) {
	store := newFakePoolStore()
	tier := core.JackpotTier{ID: "bronze", TargetAmount: core.NewAmount(100), MinGames: 1, Active: true}
	require.NoError(t, store.PutPool(&core.JackpotPool{TierID: "bronze", Cycle: 1, CurrentAmount: core.NewAmount(100), Status: core.PoolDrawing}))

	emitter := events.NewEmitter()
	bus := notify.NewEventBus(emitter)
	e := &Engine{store: store, bus: bus, tiers: []core.JackpotTier{tier}}

	pool, _ := store.GetPool("bronze")
	e.runDraw(&tier, pool)

	stillDrawing, err := store.GetPool("bronze")
	require.NoError(t, err)
	require.Equal(t, core.PoolDrawing, stillDrawing.Status, "an empty eligible set must be retried later, not guessed")
}
