// Package jackpot runs the five (or however many are configured) concurrent
// accumulator pools described in §4.5: idempotent per-bet contribution,
// draw trigger, and the reproducible Fisher-Yates winner draw.
package jackpot

import (
	"context"
	"errors"
	"log"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/tolchain/relay/core"
	"github.com/tolchain/relay/events"
	"github.com/tolchain/relay/notify"
)

// retrySweepInterval is the cadence for the periodic stuck-draw retry sweep.
const retrySweepInterval = 30 * time.Second

// PoolStore is the subset of storage.MirrorStore the engine needs.
type PoolStore interface {
	GetPool(tierID string) (*core.JackpotPool, error)
	PutPool(p *core.JackpotPool) error
	MutatePool(tierID string, mutate func(*core.JackpotPool) error) (*core.JackpotPool, error)
	ArchiveAndOpenNextCycle(completed *core.JackpotPool, tier *core.JackpotTier) (*core.JackpotPool, error)
	InsertContributionIfAbsent(c *core.JackpotContribution) (bool, error)
	HasContribution(tierID string, cycle int64, betID uint64) (bool, error)
	ListUsersWithMinSettled(minGames int) ([]string, error)
	SettledBets() ([]*core.Bet, error)
}

// Subscriber is satisfied by *events.Emitter; narrowed so the engine only
// declares the one method it needs.
type Subscriber interface {
	Subscribe(typ events.EventType, h events.Handler)
}

// VIPProvider resolves a user's VIP tier for VIP-exclusive pools. VIP
// subscriptions are an external collaborator out of this core's scope; a nil
// provider treats every user as eligible regardless of a tier's
// RequiresVIPTier, since there is no in-core notion of VIP standing to check
// against.
type VIPProvider interface {
	HasTier(address string, tier int) (bool, error)
}

// Engine owns the contribution fan-out and draw lifecycle for every
// configured tier.
type Engine struct {
	store   PoolStore
	bus     notify.Bus
	tiers   []core.JackpotTier
	vip     VIPProvider
}

// New builds an Engine for the given tiers and subscribes it to settled-bet
// events on sub.
func New(store PoolStore, bus notify.Bus, sub Subscriber, vip VIPProvider, tiers []core.JackpotTier) *Engine {
	e := &Engine{store: store, bus: bus, tiers: tiers, vip: vip}
	sub.Subscribe(events.EventBetRevealed, e.onSettled)
	sub.Subscribe(events.EventBetTimeoutClaimed, e.onSettled)
	return e
}

func (e *Engine) onSettled(ev events.Event) {
	amountStr, _ := ev.Data["amount"].(string)
	amount, ok := sdkmath.NewIntFromString(amountStr)
	if !ok {
		log.Printf("[jackpot] settled bet %d missing/invalid amount in event data", ev.BetID)
		return
	}
	totalPot := amount.MulRaw(2)
	e.Contribute(ev.BetID, totalPot)
}

// Contribute runs the §4.5 contribution step for every active tier against
// one settled bet's total pot. Safe to call more than once for the same
// bet_id; the (tier, cycle, bet_id) insert guard makes replay a no-op.
func (e *Engine) Contribute(betID uint64, totalPot core.Amount) {
	for i := range e.tiers {
		tier := e.tiers[i]
		if !tier.Active {
			continue
		}
		if err := e.contributeToTier(&tier, betID, totalPot); err != nil {
			log.Printf("[jackpot] contribute tier=%s bet=%d: %v", tier.ID, betID, err)
		}
	}
}

func (e *Engine) contributeToTier(tier *core.JackpotTier, betID uint64, totalPot core.Amount) error {
	pool, err := e.store.GetPool(tier.ID)
	if err != nil {
		return err
	}
	contribution := totalPot.MulRaw(tier.ContributionBPS).QuoRaw(10000)

	inserted, err := e.store.InsertContributionIfAbsent(&core.JackpotContribution{
		TierID: tier.ID,
		Cycle:  pool.Cycle,
		BetID:  betID,
		Amount: contribution,
	})
	if err != nil {
		return err
	}
	if !inserted {
		return nil // already contributed, nothing further to do
	}

	updated, err := e.store.MutatePool(tier.ID, func(p *core.JackpotPool) error {
		if p.Status != core.PoolFilling {
			return nil // contribution row is already recorded; pool just isn't accepting increments
		}
		p.CurrentAmount = p.CurrentAmount.Add(contribution)
		if p.CurrentAmount.GTE(tier.TargetAmount) {
			p.Status = core.PoolDrawing
		}
		return nil
	})
	if err != nil {
		return err
	}

	if updated.Status == core.PoolDrawing {
		go e.runDraw(tier, updated)
	}
	return nil
}

// BackfillTier ensures a settled bet that predates this engine instance (or
// was missed by a crash between settlement and contribution) still
// contributes to every active tier that lacks its row, per §4.5's backfill
// sweep.
func (e *Engine) BackfillTier(tier *core.JackpotTier, betID uint64, totalPot core.Amount) error {
	pool, err := e.store.GetPool(tier.ID)
	if err != nil {
		return err
	}
	has, err := e.store.HasContribution(tier.ID, pool.Cycle, betID)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	return e.contributeToTier(tier, betID, totalPot)
}

// EnsurePoolsExist guarantees every active tier has a non-completed pool,
// opening cycle 1 for any tier the store has never seen (§4.5 backfill and
// lifecycle, boot-time half).
func (e *Engine) EnsurePoolsExist() error {
	for i := range e.tiers {
		tier := e.tiers[i]
		if !tier.Active {
			continue
		}
		if _, err := e.store.GetPool(tier.ID); err == nil {
			continue
		} else if !errors.Is(err, core.ErrNotFound) {
			return err
		}
		if err := e.store.PutPool(&core.JackpotPool{
			TierID: tier.ID, Cycle: 1, CurrentAmount: core.ZeroAmount(), Status: core.PoolFilling,
		}); err != nil {
			return err
		}
	}
	return nil
}

// BackfillAll scans every settled bet and runs the contribution path for any
// tier it is missing a row for (§4.5 backfill and lifecycle, crash-recovery
// half: a bet settled but the process died before Contribute ran).
func (e *Engine) BackfillAll() error {
	bets, err := e.store.SettledBets()
	if err != nil {
		return err
	}
	for _, b := range bets {
		pot := b.TotalPot()
		for i := range e.tiers {
			tier := e.tiers[i]
			if !tier.Active {
				continue
			}
			if err := e.BackfillTier(&tier, b.BetID, pot); err != nil {
				log.Printf("[jackpot] backfill tier=%s bet=%d: %v", tier.ID, b.BetID, err)
			}
		}
	}
	return nil
}

// RetryStuckDraws is the periodic lifecycle sweep step: any pool left in
// drawing (because the eligible set was empty last time) gets another draw
// attempt.
func (e *Engine) RetryStuckDraws() {
	for i := range e.tiers {
		tier := e.tiers[i]
		if !tier.Active {
			continue
		}
		pool, err := e.store.GetPool(tier.ID)
		if err != nil {
			log.Printf("[jackpot] retry sweep get pool %s: %v", tier.ID, err)
			continue
		}
		if pool.Status == core.PoolDrawing {
			e.runDraw(&tier, pool)
		}
	}
}

// Run blocks, retrying stuck draws on retrySweepInterval until ctx is
// canceled.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(retrySweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.RetryStuckDraws()
		}
	}
}
