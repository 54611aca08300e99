// Package notify is the minimal publish interface used by every component
// to broadcast state changes to connected clients. WebSocket fan-out is out
// of scope (§1); this package only defines and implements the publish side.
package notify

import (
	"log"

	"github.com/tolchain/relay/events"
)

// Bus is the contract every component publishes through. A failure here is
// always non-fatal (§7): callers never propagate a Publish error upward.
type Bus interface {
	Publish(ev events.Event)
}

// EventBus adapts the in-process events.Emitter as a Bus, so the same
// subscription mechanism that wires the indexer to the vault and jackpot
// engine also serves as the outward notification path; an external
// WebSocket fan-out (out of scope) would subscribe to this Emitter the same
// way the jackpot engine does.
type EventBus struct {
	emitter *events.Emitter
}

// NewEventBus wraps emitter as a Bus.
func NewEventBus(emitter *events.Emitter) *EventBus {
	return &EventBus{emitter: emitter}
}

// Publish delivers ev to all subscribers. Subscriber panics are already
// recovered inside Emitter.Emit; Publish itself never returns an error
// because a notification-bus failure must never roll back core state.
func (b *EventBus) Publish(ev events.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[notify] publish panicked: %v", r)
		}
	}()
	b.emitter.Emit(ev)
}
