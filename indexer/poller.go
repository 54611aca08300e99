package indexer

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/tolchain/relay/chainclient"
	"github.com/tolchain/relay/core"
)

// pollInterval and maxBatchHeights are the polling cadence and per-tick
// height batch named in §4.4: catch up at most this many blocks per tick so
// a long outage does not stall the loop fetching years of history at once.
const (
	pollInterval    = 3 * time.Second
	maxBatchHeights = 10
)

// HeightStore is the durable cursor the poller resumes from across restarts.
type HeightStore interface {
	LastIndexedHeight() (uint64, error)
	SetLastIndexedHeight(uint64) error
}

// Poller drives the block-polling loop: fetch new heights, extract contract
// events, dedup each against tx_events, and hand surviving events to the
// Projector.
type Poller struct {
	chain        *chainclient.Client
	heights      HeightStore
	store        txEventStore
	projector    *Projector
	contractAddr string
}

// txEventStore is the subset of storage.MirrorStore the poller needs for
// deduplication, kept narrow so tests can fake it.
type txEventStore interface {
	InsertTxEventIfAbsent(ev *core.TxEvent) (bool, error)
}

// NewPoller builds a Poller. contractAddr scopes extraction to this
// contract's wasm events (§4.4, §9).
func NewPoller(chain *chainclient.Client, heights HeightStore, store txEventStore, projector *Projector, contractAddr string) *Poller {
	return &Poller{chain: chain, heights: heights, store: store, projector: projector, contractAddr: contractAddr}
}

// Run blocks, polling until ctx is canceled. Any single tick's error is
// logged and retried on the next tick rather than stopping the loop — a
// transient REST hiccup must not halt indexing.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.tick(ctx); err != nil {
				log.Printf("[indexer] poll tick: %v", err)
			}
		}
	}
}

func (p *Poller) tick(ctx context.Context) error {
	last, err := p.heights.LastIndexedHeight()
	if err != nil {
		return fmt.Errorf("last indexed height: %w", err)
	}
	current, err := p.chain.CurrentHeight(ctx)
	if err != nil {
		return fmt.Errorf("current height: %w", err)
	}
	if current <= last {
		return nil
	}

	end := current
	if end-last > maxBatchHeights {
		end = last + maxBatchHeights
	}

	for h := last + 1; h <= end; h++ {
		if err := p.indexHeight(ctx, h); err != nil {
			return fmt.Errorf("index height %d: %w", h, err)
		}
		if err := p.heights.SetLastIndexedHeight(h); err != nil {
			return fmt.Errorf("advance cursor to %d: %w", h, err)
		}
	}
	return nil
}

// indexHeight fetches every tx at h, dedups and projects each contract event
// it carries. Events are recorded and projected one at a time, so a height
// can be left partly applied; the tx_events guard is checked before each
// projection, so re-running this height after a crash (before the cursor was
// advanced) never projects the same tx and event type twice.
func (p *Poller) indexHeight(ctx context.Context, h uint64) error {
	txs, err := p.chain.BlockTxs(ctx, h)
	if err != nil {
		return err
	}
	for _, tx := range txs {
		if tx.Code != 0 {
			continue // failed txs never carry contract events worth projecting
		}
		for _, item := range extractContractEvents(tx, p.contractAddr) {
			fresh, err := p.store.InsertTxEventIfAbsent(&core.TxEvent{
				TxHash:    tx.TxHash,
				EventType: item.Type,
				Height:    h,
			})
			if err != nil {
				return fmt.Errorf("dedup guard for %s/%s: %w", tx.TxHash, item.Type, err)
			}
			if !fresh {
				continue
			}
			if err := p.projector.Apply(item.Type, item.Event, tx.TxHash); err != nil {
				log.Printf("[indexer] project %s tx=%s: %v", item.Type, tx.TxHash, err)
			}
		}
	}
	return nil
}
