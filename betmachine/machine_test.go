package betmachine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tolchain/relay/core"
	"github.com/tolchain/relay/internal/testutil"
)

func newTestMachine(t *testing.T) *Machine {
	t.Helper()
	return New(testutil.NewMirrorStore())
}

func TestCreateBetAssignsPlaceholderID(t *testing.T) {
	m := newTestMachine(t)
	b, err := m.CreateBet("alice", "txhash1", core.NewAmount(100), "deadbeef", core.SideHeads, "secret")
	require.NoError(t, err)
	require.True(t, core.IsPlaceholderID(b.BetID))
	require.Equal(t, core.StatusOpen, b.Status)
	require.False(t, b.StatusChangedTime.IsZero())
}

func TestFindByTxHashCreateMissingIsNilNil(t *testing.T) {
	m := newTestMachine(t)
	b, err := m.FindByTxHashCreate("no-such-tx")
	require.NoError(t, err)
	require.Nil(t, b)
}

func TestRewriteMovesPlaceholderToChainID(t *testing.T) {
	m := newTestMachine(t)
	b, err := m.CreateBet("alice", "txhash1", core.NewAmount(100), "deadbeef", core.SideHeads, "secret")
	require.NoError(t, err)

	rewritten, err := m.Rewrite(b.BetID, 42)
	require.NoError(t, err)
	require.Equal(t, uint64(42), rewritten.BetID)

	got, err := m.GetBet(42)
	require.NoError(t, err)
	require.Equal(t, "alice", got.MakerUserID)
}

func TestMarkAcceptingOnlyOneRacerWins(t *testing.T) {
	m := newTestMachine(t)
	b, err := m.CreateBet("alice", "txhash1", core.NewAmount(100), "deadbeef", core.SideHeads, "secret")
	require.NoError(t, err)
	b, err = m.Rewrite(b.BetID, 1)
	require.NoError(t, err)

	first, err := m.MarkAccepting(b.BetID, "bob", core.SideTails)
	require.NoError(t, err)
	require.NotNil(t, first)
	require.Equal(t, core.StatusAccepting, first.Status)

	second, err := m.MarkAccepting(b.BetID, "carol", core.SideHeads)
	require.NoError(t, err)
	require.Nil(t, second, "a second racer against an already-accepting bet must lose silently")
}

func TestApplyAcceptedFromOpenOrAccepting(t *testing.T) {
	m := newTestMachine(t)
	b, err := m.CreateBet("alice", "txhash1", core.NewAmount(100), "deadbeef", core.SideHeads, "secret")
	require.NoError(t, err)
	b, err = m.Rewrite(b.BetID, 2)
	require.NoError(t, err)

	accepted, err := m.ApplyAccepted(b.BetID, "bob", core.SideTails)
	require.NoError(t, err)
	require.NotNil(t, accepted)
	require.Equal(t, core.StatusAccepted, accepted.Status)
	require.Equal(t, "bob", accepted.AcceptorUserID)
}

func TestResolveRejectsNonTerminalTargetStatus(t *testing.T) {
	m := newTestMachine(t)
	_, err := m.Resolve(1, ResolveParams{Status: core.StatusOpen})
	require.Error(t, err)
}

func TestOpenBetsCountCountsMakerAndAcceptor(t *testing.T) {
	m := newTestMachine(t)
	b1, err := m.CreateBet("alice", "tx1", core.NewAmount(50), "c1", core.SideHeads, "s1")
	require.NoError(t, err)
	_, err = m.Rewrite(b1.BetID, 10)
	require.NoError(t, err)

	b2, err := m.CreateBet("carol", "tx2", core.NewAmount(50), "c2", core.SideHeads, "s2")
	require.NoError(t, err)
	_, err = m.Rewrite(b2.BetID, 11)
	require.NoError(t, err)
	_, err = m.MarkAccepting(11, "alice", core.SideTails)
	require.NoError(t, err)

	n, err := m.OpenBetsCount("alice")
	require.NoError(t, err)
	require.Equal(t, 2, n)
}
