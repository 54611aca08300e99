package vault

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tolchain/relay/core"
)

// pendingLockTTL is the safety-net expiry for a pending lock (§5): normal
// removal is triggered by the background task (RemoveDelayed, ~5s), this is
// the backstop if that never fires.
const pendingLockTTL = 90 * time.Second

type pendingLock struct {
	id      string
	address string
	amount  core.Amount
	ts      time.Time
}

// PendingLocks is the process-wide, in-memory reservation table described in
// §3/§9: a single entity that must outlive individual handlers, masking the
// window between a local lock landing in the mirror and the chain REST
// reflecting it. Multiple entries accumulate per address; Total sums and
// lazily drops anything past its TTL. Shape (mutex + map + insertion-ordered
// slice) is adapted from the teacher's Mempool, repurposed from pending
// transactions to pending balance reservations.
type PendingLocks struct {
	mu   sync.Mutex
	locks map[string]*pendingLock // lock_id -> entry
	byAddr map[string][]string    // address -> ordered lock_ids
}

// NewPendingLocks creates an empty table.
func NewPendingLocks() *PendingLocks {
	return &PendingLocks{
		locks:  make(map[string]*pendingLock),
		byAddr: make(map[string][]string),
	}
}

// Add registers a new reservation and returns its id.
func (p *PendingLocks) Add(address string, amount core.Amount) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := uuid.NewString()
	p.locks[id] = &pendingLock{id: id, address: address, amount: amount, ts: time.Now()}
	p.byAddr[address] = append(p.byAddr[address], id)
	return id
}

// Remove deletes a reservation immediately, regardless of TTL.
func (p *PendingLocks) Remove(lockID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeLocked(lockID)
}

func (p *PendingLocks) removeLocked(lockID string) {
	entry, ok := p.locks[lockID]
	if !ok {
		return
	}
	delete(p.locks, lockID)
	ids := p.byAddr[entry.address]
	filtered := ids[:0]
	for _, id := range ids {
		if id != lockID {
			filtered = append(filtered, id)
		}
	}
	if len(filtered) == 0 {
		delete(p.byAddr, entry.address)
	} else {
		p.byAddr[entry.address] = filtered
	}
}

// RemoveDelayed schedules removal after d, used to let the chain REST catch
// up to a just-confirmed lock before the reservation stops masking it.
func (p *PendingLocks) RemoveDelayed(lockID string, d time.Duration) {
	time.AfterFunc(d, func() {
		p.Remove(lockID)
	})
}

// Total sums non-expired reservations for address.
func (p *PendingLocks) Total(address string) core.Amount {
	p.mu.Lock()
	defer p.mu.Unlock()

	total := core.ZeroAmount()
	now := time.Now()
	ids := p.byAddr[address]
	live := ids[:0]
	for _, id := range ids {
		entry, ok := p.locks[id]
		if !ok {
			continue
		}
		if now.Sub(entry.ts) > pendingLockTTL {
			delete(p.locks, id)
			continue
		}
		total = total.Add(entry.amount)
		live = append(live, id)
	}
	if len(live) == 0 {
		delete(p.byAddr, address)
	} else {
		p.byAddr[address] = live
	}
	return total
}

// HasPending reports whether address currently has any live reservation,
// used by the chain-sync guard (§4.3): a mirror overwrite from a fresh chain
// query is skipped whenever pending work exists for that address.
func (p *PendingLocks) HasPending(address string) bool {
	return p.Total(address).IsPositive()
}
