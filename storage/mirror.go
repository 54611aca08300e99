package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/tolchain/relay/core"
)

// registerPrefix records a key prefix into tablePrefixes purely so the set
// of tables the Mirror Store owns is declared in one place, the way the
// teacher's StateDB registers its state prefixes.
func registerPrefix(p string) string {
	tablePrefixes = append(tablePrefixes, p)
	return p
}

var tablePrefixes []string

var (
	prefixBetByID     = registerPrefix("bets:id:")
	prefixBetByTxHash = registerPrefix("bets:tx:")
	prefixVaultBal    = registerPrefix("vault_balances:")
	prefixTxEvent     = registerPrefix("tx_events:")
	prefixJackpotPool = registerPrefix("jackpot_pools:")
	prefixJackpotHist = registerPrefix("jackpot_pools:hist:")
	prefixJackpotContrib = registerPrefix("jackpot_contributions:")
	prefixUserSettled    = registerPrefix("user_stats:settled_count:")
)

// MirrorStore is the durable ordered key/value store described in the
// component design: tables bets, vault_balances, tx_events, jackpot_pools,
// jackpot_contributions, each implemented as a key prefix over a single DB,
// mirroring the teacher's StateDB prefix-registration pattern. Unlike
// StateDB, the Mirror Store does not batch writes into block-wide snapshots;
// each table operation commits directly, and conditional (compare-and-set)
// updates are serialized per bet via keyMu so two concurrent writers can
// never both observe the same prior status and both win.
type MirrorStore struct {
	db DB

	// keyMu guards the read-modify-write sequence of a conditional bet
	// transition. The mirror database is the single source of durable
	// state and the only place race arbitration between handlers lives
	// (see concurrency model); a single mutex is sufficient because no
	// individual transition does chain I/O while holding it.
	keyMu sync.Mutex
}

// NewMirrorStore wraps db as a MirrorStore.
func NewMirrorStore(db DB) *MirrorStore {
	return &MirrorStore{db: db}
}

func betIDKey(id uint64) string {
	return prefixBetByID + strconv.FormatUint(id, 10)
}

// ---- bets ----

// CreateBet inserts a new bet row with status open. It also records the
// tx_hash -> bet_id pointer so a pending submission tracked only by hash can
// later be found once the background task learns the real id (or to detect
// a duplicate create).
func (s *MirrorStore) CreateBet(bet *core.Bet) error {
	s.keyMu.Lock()
	defer s.keyMu.Unlock()

	if _, err := s.db.Get([]byte(prefixBetByTxHash + bet.TxHashCreate)); err == nil {
		return fmt.Errorf("create bet: %w", core.ErrAlreadyExists)
	} else if !errors.Is(err, core.ErrNotFound) {
		return err
	}

	bet.StatusChangedTime = time.Now()
	data, err := json.Marshal(bet)
	if err != nil {
		return err
	}
	batch := s.db.NewBatch()
	batch.Set([]byte(betIDKey(bet.BetID)), data)
	batch.Set([]byte(prefixBetByTxHash+bet.TxHashCreate), []byte(strconv.FormatUint(bet.BetID, 10)))
	return batch.Write()
}

// GetBet fetches a bet by its current id.
func (s *MirrorStore) GetBet(id uint64) (*core.Bet, error) {
	data, err := s.db.Get([]byte(betIDKey(id)))
	if err != nil {
		return nil, err
	}
	var b core.Bet
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("unmarshal bet %d: %w", id, err)
	}
	return &b, nil
}

// GetBetByTxHashCreate resolves a pending (possibly placeholder-id) bet by
// its creation tx hash.
func (s *MirrorStore) GetBetByTxHashCreate(txHash string) (*core.Bet, error) {
	data, err := s.db.Get([]byte(prefixBetByTxHash + txHash))
	if err != nil {
		return nil, err
	}
	id, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt tx->bet pointer: %w", err)
	}
	return s.GetBet(id)
}

// RewriteBetID moves a bet row from its placeholder id to the chain-assigned
// one (used by bet_created projection and by orphan reconciliation). It is
// a no-op error if newID already exists.
func (s *MirrorStore) RewriteBetID(oldID, newID uint64) (*core.Bet, error) {
	s.keyMu.Lock()
	defer s.keyMu.Unlock()

	if _, err := s.db.Get([]byte(betIDKey(newID))); err == nil {
		return nil, fmt.Errorf("rewrite bet id %d->%d: %w", oldID, newID, core.ErrAlreadyExists)
	} else if !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}

	data, err := s.db.Get([]byte(betIDKey(oldID)))
	if err != nil {
		return nil, err
	}
	var b core.Bet
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, err
	}
	b.BetID = newID
	newData, err := json.Marshal(&b)
	if err != nil {
		return nil, err
	}

	batch := s.db.NewBatch()
	batch.Set([]byte(betIDKey(newID)), newData)
	batch.Delete([]byte(betIDKey(oldID)))
	batch.Set([]byte(prefixBetByTxHash+b.TxHashCreate), []byte(strconv.FormatUint(newID, 10)))
	if err := batch.Write(); err != nil {
		return nil, err
	}
	return &b, nil
}

// TransitionBet applies mutate to the bet identified by id iff its current
// status is one of expected (or unconditionally if force is set), then
// persists the result. It returns core.ErrRaceLost if the precondition
// failed because another writer already moved the row, matching the
// "at most one call ever returns a non-null row" invariant for mark_accepting
// and friends.
func (s *MirrorStore) TransitionBet(id uint64, expected []core.Status, force bool, mutate func(*core.Bet) error) (*core.Bet, error) {
	s.keyMu.Lock()
	defer s.keyMu.Unlock()

	data, err := s.db.Get([]byte(betIDKey(id)))
	if err != nil {
		return nil, err
	}
	var b core.Bet
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, err
	}

	if !force {
		ok := false
		for _, st := range expected {
			if b.Status == st {
				ok = true
				break
			}
		}
		if !ok {
			return nil, core.ErrRaceLost
		}
	}

	prevStatus := b.Status
	if err := mutate(&b); err != nil {
		return nil, err
	}
	if b.Status != prevStatus {
		b.StatusChangedTime = time.Now()
	}

	newData, err := json.Marshal(&b)
	if err != nil {
		return nil, err
	}
	if err := s.db.Set([]byte(betIDKey(id)), newData); err != nil {
		return nil, err
	}
	return &b, nil
}

// NonTerminalBets enumerates all bets not in a terminal status, for startup
// reconciliation.
func (s *MirrorStore) NonTerminalBets() ([]*core.Bet, error) {
	it := s.db.NewIterator([]byte(prefixBetByID))
	defer it.Release()

	var out []*core.Bet
	for it.Next() {
		var b core.Bet
		if err := json.Unmarshal(it.Value(), &b); err != nil {
			return nil, fmt.Errorf("unmarshal bet during scan: %w", err)
		}
		if !b.Status.Terminal() {
			out = append(out, &b)
		}
	}
	return out, it.Error()
}

// SettledBets enumerates every bet in a payout-bearing terminal status, for
// the jackpot engine's boot-time contribution backfill.
func (s *MirrorStore) SettledBets() ([]*core.Bet, error) {
	it := s.db.NewIterator([]byte(prefixBetByID))
	defer it.Release()

	var out []*core.Bet
	for it.Next() {
		var b core.Bet
		if err := json.Unmarshal(it.Value(), &b); err != nil {
			return nil, fmt.Errorf("unmarshal bet during scan: %w", err)
		}
		if b.Settled() {
			out = append(out, &b)
		}
	}
	return out, it.Error()
}

// ---- vault_balances ----

func (s *MirrorStore) GetVaultBalance(address string) (*core.VaultBalance, error) {
	data, err := s.db.Get([]byte(prefixVaultBal + address))
	if errors.Is(err, core.ErrNotFound) {
		return &core.VaultBalance{
			Address:       address,
			Available:     core.ZeroAmount(),
			Locked:        core.ZeroAmount(),
			Bonus:         core.ZeroAmount(),
			OffchainSpent: core.ZeroAmount(),
		}, nil
	}
	if err != nil {
		return nil, err
	}
	var v core.VaultBalance
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *MirrorStore) PutVaultBalance(v *core.VaultBalance) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Set([]byte(prefixVaultBal+v.Address), data)
}

// MutateVaultBalance performs a locked read-modify-write against a single
// user's balance row, the same arbitration pattern TransitionBet uses for
// bets. The Vault builds lock/unlock/deduct/credit on top of this.
func (s *MirrorStore) MutateVaultBalance(address string, mutate func(*core.VaultBalance) error) (*core.VaultBalance, error) {
	s.keyMu.Lock()
	defer s.keyMu.Unlock()

	v, err := s.GetVaultBalance(address)
	if err != nil {
		return nil, err
	}
	if err := mutate(v); err != nil {
		return nil, err
	}
	if err := s.PutVaultBalance(v); err != nil {
		return nil, err
	}
	return v, nil
}

// ---- indexer cursor ----

const lastIndexedHeightKey = "indexer:last_height"

// LastIndexedHeight returns the last block height the poller fully applied,
// or 0 if indexing has never run.
func (s *MirrorStore) LastIndexedHeight() (uint64, error) {
	data, err := s.db.Get([]byte(lastIndexedHeightKey))
	if errors.Is(err, core.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	h, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt indexer cursor: %w", err)
	}
	return h, nil
}

// SetLastIndexedHeight advances the poller's durable cursor.
func (s *MirrorStore) SetLastIndexedHeight(h uint64) error {
	return s.db.Set([]byte(lastIndexedHeightKey), []byte(strconv.FormatUint(h, 10)))
}

// ---- tx_events ----

// InsertTxEventIfAbsent is the indexer's deduplication guard: it attempts to
// insert (tx_hash, event_type) and reports whether this call actually
// inserted it (false means "already applied, skip projection").
func (s *MirrorStore) InsertTxEventIfAbsent(ev *core.TxEvent) (bool, error) {
	s.keyMu.Lock()
	defer s.keyMu.Unlock()

	key := prefixTxEvent + ev.Key()
	if _, err := s.db.Get([]byte(key)); err == nil {
		return false, nil
	} else if !errors.Is(err, core.ErrNotFound) {
		return false, err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return false, err
	}
	if err := s.db.Set([]byte(key), data); err != nil {
		return false, err
	}
	return true, nil
}

// ---- jackpot_pools ----

func (s *MirrorStore) GetPool(tierID string) (*core.JackpotPool, error) {
	data, err := s.db.Get([]byte(prefixJackpotPool + tierID))
	if err != nil {
		return nil, err
	}
	var p core.JackpotPool
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *MirrorStore) PutPool(p *core.JackpotPool) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.db.Set([]byte(prefixJackpotPool+p.TierID), data)
}

// MutatePool applies mutate to the current (non-archived) pool for tierID
// under the same serialized-per-key arbitration as TransitionBet.
func (s *MirrorStore) MutatePool(tierID string, mutate func(*core.JackpotPool) error) (*core.JackpotPool, error) {
	s.keyMu.Lock()
	defer s.keyMu.Unlock()

	p, err := s.GetPool(tierID)
	if err != nil {
		return nil, err
	}
	if err := mutate(p); err != nil {
		return nil, err
	}
	if err := s.PutPool(p); err != nil {
		return nil, err
	}
	return p, nil
}

// ArchiveAndOpenNextCycle moves a completed pool into history and opens a
// fresh `filling` pool for cycle+1.
func (s *MirrorStore) ArchiveAndOpenNextCycle(completed *core.JackpotPool, tier *core.JackpotTier) (*core.JackpotPool, error) {
	s.keyMu.Lock()
	defer s.keyMu.Unlock()

	histData, err := json.Marshal(completed)
	if err != nil {
		return nil, err
	}
	next := &core.JackpotPool{
		TierID:        tier.ID,
		Cycle:         completed.Cycle + 1,
		CurrentAmount: core.ZeroAmount(),
		Status:        core.PoolFilling,
	}
	nextData, err := json.Marshal(next)
	if err != nil {
		return nil, err
	}

	batch := s.db.NewBatch()
	batch.Set([]byte(fmt.Sprintf("%s%s:%d", prefixJackpotHist, tier.ID, completed.Cycle)), histData)
	batch.Set([]byte(prefixJackpotPool+tier.ID), nextData)
	if err := batch.Write(); err != nil {
		return nil, err
	}
	return next, nil
}

// ---- jackpot_contributions ----

func contribKey(tierID string, cycle int64, betID uint64) string {
	return fmt.Sprintf("%s%s:%d:%d", prefixJackpotContrib, tierID, cycle, betID)
}

// InsertContributionIfAbsent is the (pool_id, bet_id) idempotency guard from
// §4.5: only when this returns true should the caller increment the pool's
// current_amount.
func (s *MirrorStore) InsertContributionIfAbsent(c *core.JackpotContribution) (bool, error) {
	s.keyMu.Lock()
	defer s.keyMu.Unlock()

	key := contribKey(c.TierID, c.Cycle, c.BetID)
	if _, err := s.db.Get([]byte(key)); err == nil {
		return false, nil
	} else if !errors.Is(err, core.ErrNotFound) {
		return false, err
	}
	data, err := json.Marshal(c)
	if err != nil {
		return false, err
	}
	if err := s.db.Set([]byte(key), data); err != nil {
		return false, err
	}
	return true, nil
}

// ---- user_stats ----

// IncrementSettledCount bumps address's settled-bet counter and returns the
// new total, used by the jackpot engine's min_games eligibility check.
func (s *MirrorStore) IncrementSettledCount(address string) (int, error) {
	s.keyMu.Lock()
	defer s.keyMu.Unlock()

	key := prefixUserSettled + address
	n := 0
	if data, err := s.db.Get([]byte(key)); err == nil {
		n, _ = strconv.Atoi(string(data))
	} else if !errors.Is(err, core.ErrNotFound) {
		return 0, err
	}
	n++
	if err := s.db.Set([]byte(key), []byte(strconv.Itoa(n))); err != nil {
		return 0, err
	}
	return n, nil
}

// ListUsersWithMinSettled scans user_stats for every address whose settled
// count is at least minGames, for the jackpot draw's eligible-set step.
func (s *MirrorStore) ListUsersWithMinSettled(minGames int) ([]string, error) {
	it := s.db.NewIterator([]byte(prefixUserSettled))
	defer it.Release()

	var out []string
	for it.Next() {
		n, err := strconv.Atoi(string(it.Value()))
		if err != nil {
			continue
		}
		if n >= minGames {
			addr := string(it.Key())[len(prefixUserSettled):]
			out = append(out, addr)
		}
	}
	return out, it.Error()
}

// HasContribution reports whether bet contributed to (tierID, cycle) without
// mutating anything; used by the backfill sweep to find missing rows.
func (s *MirrorStore) HasContribution(tierID string, cycle int64, betID uint64) (bool, error) {
	_, err := s.db.Get([]byte(contribKey(tierID, cycle, betID)))
	if errors.Is(err, core.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
