package jackpot

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"log"
	"time"

	"github.com/tolchain/relay/core"
	"github.com/tolchain/relay/events"
)

// runDraw performs the §4.5 draw algorithm for a pool already transitioned
// to drawing. If the eligible set is empty it leaves the pool in drawing for
// RetryStuckDraws to pick up later rather than guessing a winner. The winner
// is recorded on the pool and announced via EventJackpotWon; the pot is not
// credited to the winner's vault balance here.
func (e *Engine) runDraw(tier *core.JackpotTier, pool *core.JackpotPool) {
	eligible, err := e.eligibleUsers(tier)
	if err != nil {
		log.Printf("[jackpot] draw tier=%s: eligible set: %v", tier.ID, err)
		return
	}
	if len(eligible) == 0 {
		log.Printf("[jackpot] draw tier=%s cycle=%d: no eligible users yet, will retry", tier.ID, pool.Cycle)
		return
	}

	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		log.Printf("[jackpot] draw tier=%s: generate seed: %v", tier.ID, err)
		return
	}

	winner := shuffleAndPickWinner(seed, eligible)

	e.bus.Publish(events.Event{Type: events.EventJackpotDrawing, Data: map[string]any{
		"tier_id": tier.ID, "cycle": pool.Cycle, "eligible_count": len(eligible),
	}})

	completed, err := e.store.MutatePool(tier.ID, func(p *core.JackpotPool) error {
		if p.Status != core.PoolDrawing {
			return nil
		}
		p.WinnerUserID = winner
		p.DrawSeed = hex.EncodeToString(seed)
		p.EligibleCount = len(eligible)
		p.Status = core.PoolCompleted
		now := time.Now()
		p.CompletedAt = &now
		return nil
	})
	if err != nil {
		log.Printf("[jackpot] draw tier=%s: persist winner: %v", tier.ID, err)
		return
	}
	if completed.Status != core.PoolCompleted {
		return // another goroutine already completed this draw
	}

	e.bus.Publish(events.Event{Type: events.EventJackpotWon, Data: map[string]any{
		"tier_id": tier.ID, "cycle": completed.Cycle, "winner": winner,
		"amount": completed.CurrentAmount.String(), "seed": completed.DrawSeed,
		"eligible_count": completed.EligibleCount,
	}})

	if _, err := e.store.ArchiveAndOpenNextCycle(completed, tier); err != nil {
		log.Printf("[jackpot] draw tier=%s: open next cycle: %v", tier.ID, err)
	}
}

func (e *Engine) eligibleUsers(tier *core.JackpotTier) ([]string, error) {
	candidates, err := e.store.ListUsersWithMinSettled(tier.MinGames)
	if err != nil {
		return nil, err
	}
	if tier.RequiresVIPTier == 0 || e.vip == nil {
		return candidates, nil
	}
	var out []string
	for _, addr := range candidates {
		ok, err := e.vip.HasTier(addr, tier.RequiresVIPTier)
		if err != nil {
			log.Printf("[jackpot] vip check %s: %v", addr, err)
			continue
		}
		if ok {
			out = append(out, addr)
		}
	}
	return out, nil
}

// shuffleAndPickWinner runs the Fisher-Yates shuffle specified in §4.5 step
// 4: each step i's randomness is sha256(seed || be_u32(i)), and its low 32
// bits mod (i+1) give the swap partner. This makes the outcome reproducible
// from the published seed and the eligible set recorded at draw time, the
// basis for the draw audit log's drawWinner(seed, eligibleSet) replay.
func shuffleAndPickWinner(seed []byte, eligible []string) string {
	indices := make([]string, len(eligible))
	copy(indices, eligible)

	for i := len(indices) - 1; i > 0; i-- {
		var buf [4]byte
		binary.BigEndian.PutUint32(buf[:], uint32(i))
		h := sha256.Sum256(append(append([]byte{}, seed...), buf[:]...))
		r := binary.BigEndian.Uint32(h[len(h)-4:])
		j := int(r % uint32(i+1))
		indices[i], indices[j] = indices[j], indices[i]
	}
	return indices[0]
}
