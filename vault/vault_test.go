package vault

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tolchain/relay/core"
	"github.com/tolchain/relay/internal/testutil"
)

type fakeBetCounter struct {
	counts map[string]int
}

func (f *fakeBetCounter) OpenBetsCount(address string) (int, error) {
	return f.counts[address], nil
}

func newTestVault(t *testing.T, counts map[string]int) *Vault {
	t.Helper()
	return New(testutil.NewMirrorStore(), &fakeBetCounter{counts: counts})
}

func TestLockMovesAvailableToLocked(t *testing.T) {
	v := newTestVault(t, nil)
	require.NoError(t, v.CreditAvailable("alice", core.NewAmount(100)))
	require.NoError(t, v.Lock("alice", core.NewAmount(40)))

	b, err := v.RawBalance("alice")
	require.NoError(t, err)
	require.True(t, b.Available.Equal(core.NewAmount(60)))
	require.True(t, b.Locked.Equal(core.NewAmount(40)))
}

func TestLockRejectsInsufficientFunds(t *testing.T) {
	v := newTestVault(t, nil)
	require.NoError(t, v.CreditAvailable("alice", core.NewAmount(10)))
	err := v.Lock("alice", core.NewAmount(50))
	require.Error(t, err)

	b, err := v.RawBalance("alice")
	require.NoError(t, err)
	require.True(t, b.Available.Equal(core.NewAmount(10)), "a rejected lock must not partially apply")
}

func TestUnlockNeverGoesNegative(t *testing.T) {
	v := newTestVault(t, nil)
	require.NoError(t, v.Unlock("alice", core.NewAmount(5)))

	b, err := v.RawBalance("alice")
	require.NoError(t, err)
	require.True(t, b.Locked.IsZero())
	require.True(t, b.Available.Equal(core.NewAmount(5)))
}

func TestCreditWinnerGoesToBonus(t *testing.T) {
	v := newTestVault(t, nil)
	require.NoError(t, v.CreditWinner("alice", core.NewAmount(30)))

	b, err := v.RawBalance("alice")
	require.NoError(t, err)
	require.True(t, b.Bonus.Equal(core.NewAmount(30)))
}

func TestEffectiveBalanceSubtractsPendingLocks(t *testing.T) {
	v := newTestVault(t, nil)
	require.NoError(t, v.CreditAvailable("alice", core.NewAmount(100)))
	v.Pending().Add("alice", core.NewAmount(20))

	available, _, _, err := v.EffectiveBalance("alice")
	require.NoError(t, err)
	require.True(t, available.Equal(core.NewAmount(80)))
}

func TestSyncFromChainSkippedWithPendingLock(t *testing.T) {
	v := newTestVault(t, nil)
	require.NoError(t, v.CreditAvailable("alice", core.NewAmount(100)))
	v.Pending().Add("alice", core.NewAmount(20))

	require.NoError(t, v.SyncFromChain("alice", core.NewAmount(5)))

	b, err := v.RawBalance("alice")
	require.NoError(t, err)
	require.True(t, b.Available.Equal(core.NewAmount(100)), "sync must be a no-op while a pending lock exists")
}

func TestSyncFromChainSkippedWithOpenBets(t *testing.T) {
	v := newTestVault(t, map[string]int{"alice": 1})
	require.NoError(t, v.CreditAvailable("alice", core.NewAmount(100)))

	require.NoError(t, v.SyncFromChain("alice", core.NewAmount(5)))

	b, err := v.RawBalance("alice")
	require.NoError(t, err)
	require.True(t, b.Available.Equal(core.NewAmount(100)))
}

func TestSyncFromChainAppliesWhenClear(t *testing.T) {
	v := newTestVault(t, map[string]int{"alice": 0})
	require.NoError(t, v.CreditAvailable("alice", core.NewAmount(100)))

	require.NoError(t, v.SyncFromChain("alice", core.NewAmount(5)))

	b, err := v.RawBalance("alice")
	require.NoError(t, err)
	require.True(t, b.Available.Equal(core.NewAmount(5)))
}
