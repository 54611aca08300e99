// Package vault mediates every mutation of off-chain mirror balances and
// owns the ephemeral pending-lock table that masks chain-confirmation
// latency (§4.3).
package vault

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/tolchain/relay/core"
	"github.com/tolchain/relay/storage"
)

// balanceCacheTTL matches the ≈30s balance cache named in the concurrency
// model.
const balanceCacheTTL = 30 * time.Second

// PendingBetCounter reports how many bets a user currently has in flight
// (open/accepting/etc). The sync-from-chain guard in §4.3 refuses to
// overwrite the mirror with a fresh chain balance while this is nonzero, to
// avoid restoring a stale higher value over a local atomic decrement.
type PendingBetCounter interface {
	OpenBetsCount(address string) (int, error)
}

// Vault is the single place that mutates vault_balances rows and the
// pending-lock table.
type Vault struct {
	store   *storage.MirrorStore
	pending *PendingLocks
	bets    PendingBetCounter
	cache   *lru.LRU[string, core.VaultBalance]
}

// New creates a Vault backed by store, with bets used only for the
// sync-from-chain skip guard.
func New(store *storage.MirrorStore, bets PendingBetCounter) *Vault {
	return &Vault{
		store:   store,
		pending: NewPendingLocks(),
		bets:    bets,
		cache:   lru.NewLRU[string, core.VaultBalance](4096, nil, balanceCacheTTL),
	}
}

// Pending exposes the pending-lock table to callers (handlers registering a
// reservation, background tasks removing one).
func (v *Vault) Pending() *PendingLocks { return v.pending }

// Lock atomically moves amount from available to locked iff available >=
// amount. Returns core.ErrInsufficientFunds otherwise; never applies a
// partial lock.
func (v *Vault) Lock(address string, amount core.Amount) error {
	_, err := v.store.MutateVaultBalance(address, func(b *core.VaultBalance) error {
		if b.Available.LT(amount) {
			return core.ErrInsufficientFunds
		}
		b.Available = b.Available.Sub(amount)
		b.Locked = b.Locked.Add(amount)
		return nil
	})
	v.invalidate(address)
	if err != nil {
		return fmt.Errorf("vault lock %s: %w", address, err)
	}
	return nil
}

// Unlock is Lock's inverse: moves amount from locked back to available.
func (v *Vault) Unlock(address string, amount core.Amount) error {
	_, err := v.store.MutateVaultBalance(address, func(b *core.VaultBalance) error {
		b.Locked = b.Locked.Sub(amount)
		if b.Locked.IsNegative() {
			b.Locked = core.ZeroAmount()
		}
		b.Available = b.Available.Add(amount)
		return nil
	})
	v.invalidate(address)
	if err != nil {
		return fmt.Errorf("vault unlock %s: %w", address, err)
	}
	return nil
}

// Deduct records an off-chain spend (announcements, VIP, pins) against
// offchain_spent; it never touches available/locked directly, so the chain
// remains the source of truth for those two columns.
func (v *Vault) Deduct(address string, amount core.Amount) error {
	_, err := v.store.MutateVaultBalance(address, func(b *core.VaultBalance) error {
		candidate := &core.VaultBalance{
			Address:       b.Address,
			Available:     b.Available,
			Locked:        b.Locked,
			Bonus:         b.Bonus,
			OffchainSpent: b.OffchainSpent.Add(amount),
		}
		if candidate.EffectiveSpendable().IsZero() && amount.IsPositive() && b.EffectiveSpendable().LT(amount) {
			return core.ErrInsufficientFunds
		}
		b.OffchainSpent = candidate.OffchainSpent
		return nil
	})
	v.invalidate(address)
	if err != nil {
		return fmt.Errorf("vault deduct %s: %w", address, err)
	}
	return nil
}

// CreditAvailable adds directly to available, e.g. a chain-confirmed deposit
// being mirrored ahead of the next sync.
func (v *Vault) CreditAvailable(address string, amount core.Amount) error {
	_, err := v.store.MutateVaultBalance(address, func(b *core.VaultBalance) error {
		b.Available = b.Available.Add(amount)
		return nil
	})
	v.invalidate(address)
	if err != nil {
		return fmt.Errorf("vault credit_available %s: %w", address, err)
	}
	return nil
}

// CreditWinner credits prize distribution to bonus, per §4.3 ("winner
// credits go to bonus"), e.g. a settled bet's payout.
func (v *Vault) CreditWinner(address string, amount core.Amount) error {
	_, err := v.store.MutateVaultBalance(address, func(b *core.VaultBalance) error {
		b.Bonus = b.Bonus.Add(amount)
		return nil
	})
	v.invalidate(address)
	if err != nil {
		return fmt.Errorf("vault credit_winner %s: %w", address, err)
	}
	return nil
}

// RawBalance is get_balance(user) -> {available, locked, total}: the mirror
// row plus off-chain columns, with no pending-lock adjustment.
func (v *Vault) RawBalance(address string) (*core.VaultBalance, error) {
	if cached, ok := v.cache.Get(address); ok {
		c := cached
		return &c, nil
	}
	b, err := v.store.GetVaultBalance(address)
	if err != nil {
		return nil, err
	}
	v.cache.Add(address, *b)
	return b, nil
}

// EffectiveBalance is the user-facing endpoint's single source of truth for
// "what can this user spend right now": chain_available - pending_locks -
// offchain_spent, clamped at zero, with bonus absorbing offchain_spent
// overflow. This is adopt_single `effective_balance` referenced in the
// design notes — handler code must call this, never recompute it inline.
func (v *Vault) EffectiveBalance(address string) (available, locked, total core.Amount, err error) {
	b, err := v.RawBalance(address)
	if err != nil {
		return core.Amount{}, core.Amount{}, core.Amount{}, err
	}
	pending := v.pending.Total(address)
	adjusted := &core.VaultBalance{
		Address:       b.Address,
		Available:     b.Available.Sub(pending),
		Locked:        b.Locked,
		Bonus:         b.Bonus,
		OffchainSpent: b.OffchainSpent,
	}
	if adjusted.Available.IsNegative() {
		adjusted.Available = core.ZeroAmount()
	}
	spendable := adjusted.EffectiveSpendable()
	return spendable, b.Locked, spendable.Add(b.Locked), nil
}

// SyncFromChain overwrites the mirror's available column with an
// authoritative chain-reported value, but only when the address has no
// pending locks and no pending bets — the double-spend guard at the mirror
// level described in §4.3.
func (v *Vault) SyncFromChain(address string, chainAvailable core.Amount) error {
	if v.pending.HasPending(address) {
		return nil
	}
	if v.bets != nil {
		n, err := v.bets.OpenBetsCount(address)
		if err != nil {
			return fmt.Errorf("sync_from_chain open bets count: %w", err)
		}
		if n > 0 {
			return nil
		}
	}
	_, err := v.store.MutateVaultBalance(address, func(b *core.VaultBalance) error {
		b.Available = chainAvailable
		return nil
	})
	v.invalidate(address)
	return err
}

func (v *Vault) invalidate(address string) {
	v.cache.Remove(address)
}
