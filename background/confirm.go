// Package background implements the fire-and-forget tasks spawned after a
// relayer check-tx success: poll for confirmation, then either defer to the
// indexer or revert the optimistic local state (§4.2).
package background

import (
	"context"
	"log"
	"time"

	"github.com/tolchain/relay/chainclient"
	"github.com/tolchain/relay/events"
)

// pollInterval and confirmWindow are the fixed interval and bounded window
// named in §4.2/§5 for game-action confirmation polling.
const (
	pollInterval  = 2 * time.Second
	confirmWindow = 60 * time.Second
)

// ConfirmSpec describes one in-flight chain submission to watch.
type ConfirmSpec struct {
	TxHash string
	Kind   events.EventType // e.g. events.EventBetAccepting for logging context

	// OnConfirmed runs once the tx lands with code 0. The indexer owns the
	// actual mirror projection; this hook only does what the task itself
	// is responsible for (typically scheduling delayed pending-lock
	// removal so the chain REST has time to reflect the new balance).
	OnConfirmed func(tx *chainclient.TxResult)

	// OnFailed runs when the tx lands with a non-zero code: it must revert
	// whatever optimistic local state the handler created (unlock funds,
	// revert_accepting/equivalent) and remove the pending lock.
	OnFailed func(code uint32, rawLog string)

	// OnTimedOut runs if the poll window is exhausted with no confirmation
	// either way. Per §4.2 the transitional state is left intact; a
	// separate recovery sweep (see sweep.go) reconciles it later.
	OnTimedOut func()
}

// Poller spawns and runs confirmation-polling tasks.
type Poller struct {
	chain *chainclient.Client
}

// NewPoller creates a Poller backed by chain.
func NewPoller(chain *chainclient.Client) *Poller {
	return &Poller{chain: chain}
}

// Spawn starts a background goroutine polling spec.TxHash until confirmed,
// failed, or the window expires. It returns immediately; the caller does not
// wait on it (background tasks are not cancelled, they run to a timed
// outcome per §5).
func (p *Poller) Spawn(spec ConfirmSpec) {
	go p.run(spec)
}

func (p *Poller) run(spec ConfirmSpec) {
	deadline := time.Now().Add(confirmWindow)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if time.Now().After(deadline) {
			log.Printf("[background] confirm poll window exhausted for tx=%s kind=%s", spec.TxHash, spec.Kind)
			if spec.OnTimedOut != nil {
				spec.OnTimedOut()
			}
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		tx, err := p.chain.QueryTx(ctx, spec.TxHash)
		cancel()
		if err != nil {
			log.Printf("[background] query_tx %s: %v", spec.TxHash, err)
			<-ticker.C
			continue
		}
		if !tx.Found {
			<-ticker.C
			continue
		}

		if tx.Code == 0 {
			if spec.OnConfirmed != nil {
				spec.OnConfirmed(tx)
			}
			return
		}

		log.Printf("[background] tx %s failed (code=%d): %s", spec.TxHash, tx.Code, tx.RawLog)
		if spec.OnFailed != nil {
			spec.OnFailed(tx.Code, tx.RawLog)
		}
		return
	}
}
