// Package eventbus delivers events published to pkg/store's append-only
// event log to live subscribers, via one of two interchangeable backends:
// a PostgreSQL LISTEN/NOTIFY backend (low latency, grounded on the
// teacher's pkg/events/listener.go) or a polling backend (simpler, no
// dedicated LISTEN connection, grounded on spec.md §4.1's explicit
// REDESIGN note that NOTIFY must have a polling fallback for operators who
// can't dedicate a connection to LISTEN). Both satisfy the same Bus
// interface so pkg/eventbus/sse.go and the rest of the system don't care
// which is active.
package eventbus

import (
	"context"

	"github.com/tarsy-chain/tarsy/pkg/models"
)

// Bus publishes events and notifies live subscribers of new arrivals.
// Publish always durably persists via pkg/store before any subscriber is
// woken — subscribers never observe an event that a concurrent
// GetEventsAfter catchup query could miss.
type Bus interface {
	// Publish persists payload to channel and wakes any live subscribers.
	Publish(ctx context.Context, channel string, payload map[string]any) (*models.Event, error)

	// Subscribe registers interest in new events on channel. The returned
	// channel receives a notification (just a wakeup signal, not the event
	// itself — the caller re-reads via GetEventsAfter to stay gap-free) each
	// time Publish succeeds on this channel from any pod. The returned
	// cancel function must be called exactly once to release the
	// subscription.
	Subscribe(channel string) (wake <-chan struct{}, cancel func())

	// GetEventsAfter returns every event on channel with id > afterID, in
	// order. Used for catchup-then-live replay and as the poll backend's
	// entire read path.
	GetEventsAfter(ctx context.Context, channel string, afterID int64, limit int) ([]*models.Event, error)

	// MaxID returns the highest event id currently on channel, for clients
	// connecting without a Last-Event-ID (they start live from "now").
	MaxID(ctx context.Context, channel string) (int64, error)

	// Close releases backend resources (LISTEN connection, poll ticker).
	Close()
}

// EventSource is the minimal persistence contract both bus backends need.
// *store.EventStore satisfies it. Grounded on the teacher's CatchupQuerier
// interface (pkg/events/manager.go) — narrowing the dependency to an
// interface keeps NotifyBus/PollBus testable with an in-memory fake instead
// of a real database, the same way the teacher tests ConnectionManager
// against mockCatchupQuerier.
type EventSource interface {
	PersistAndNotify(ctx context.Context, req models.CreateEventRequest) (*models.Event, error)
	GetEventsAfter(ctx context.Context, channel string, afterID int64, limit int) ([]*models.Event, error)
	MaxID(ctx context.Context, channel string) (int64, error)
}
