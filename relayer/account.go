package relayer

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/tolchain/relay/chainclient"
)

// AccountState is the relayer signer's (account_number, sequence) pair. The
// chain requires strictly increasing sequence numbers per signer, so exactly
// one of these is cached process-wide.
type AccountState struct {
	AccountNumber uint64
	Sequence      uint64
}

// AccountCache fetches and caches the relayer's own account state, using
// singleflight so that if several goroutines race to broadcast before the
// cache is warm, only one actually queries the chain.
type AccountCache struct {
	chain   *chainclient.Client
	address string

	mu    sync.Mutex
	state *AccountState
	group singleflight.Group
}

// NewAccountCache creates a cache for the relayer's own signing address.
func NewAccountCache(chain *chainclient.Client, address string) *AccountCache {
	return &AccountCache{chain: chain, address: address}
}

// Get returns the cached (account_number, sequence), fetching from the chain
// on first use.
func (c *AccountCache) Get(ctx context.Context) (*AccountState, error) {
	c.mu.Lock()
	if c.state != nil {
		s := *c.state
		c.mu.Unlock()
		return &s, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do("account", func() (any, error) {
		return c.fetch(ctx)
	})
	if err != nil {
		return nil, err
	}
	state := v.(*AccountState)

	c.mu.Lock()
	c.state = state
	c.mu.Unlock()

	s := *state
	return &s, nil
}

func (c *AccountCache) fetch(ctx context.Context) (*AccountState, error) {
	info, err := c.chain.QueryAccount(ctx, c.address)
	if err != nil {
		return nil, fmt.Errorf("fetch account %s: %w", c.address, err)
	}
	return &AccountState{AccountNumber: info.AccountNumber, Sequence: info.Sequence}, nil
}

// Peek returns the cached account state without fetching, for non-blocking
// introspection (ops RPC's getRelayerSequence). ok is false before the first
// successful Get.
func (c *AccountCache) Peek() (state AccountState, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == nil {
		return AccountState{}, false
	}
	return *c.state, true
}

// AdvanceSequence optimistically bumps the cached sequence by one after a
// successful broadcast.
func (c *AccountCache) AdvanceSequence() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != nil {
		c.state.Sequence++
	}
}

// SetSequence overwrites the cached sequence, used when the chain rejects a
// broadcast with a sequence_mismatch and reports the expected value.
func (c *AccountCache) SetSequence(seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != nil {
		c.state.Sequence = seq
	}
}
