package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/tarsy-chain/tarsy/pkg/models"
)

// catchupLimit mirrors the teacher's ConnectionManager.catchupLimit: query
// one more than this to detect overflow, and if the client is too far
// behind tell it to reload via REST rather than replay an unbounded backlog.
const catchupLimit = 200

// keepaliveInterval is how often a comment line is sent to keep
// intermediaries (load balancers, proxies) from closing an idle SSE
// connection.
const keepaliveInterval = 15 * time.Second

// Streamer serves GET /events/stream. It REDESIGNS the teacher's
// ConnectionManager (pkg/events/manager.go), which multiplexed many
// channel subscriptions over one long-lived WebSocket with a client-driven
// catchup control message, into plain per-request Server-Sent Events: one
// HTTP response per channel subscription, catchup driven by the standard
// Last-Event-ID header instead of a ClientMessage, and no client->server
// control channel at all (SSE is server push only).
//
// The ordering guarantee that made the teacher's handleCatchup race-free —
// subscribe (LISTEN) before running the catchup query, so no event
// published between "query ran" and "subscription registered" is lost — is
// preserved here: Stream always calls Bus.Subscribe before it queries
// GetEventsAfter for the replay batch.
type Streamer struct {
	bus Bus
}

func NewStreamer(bus Bus) *Streamer {
	return &Streamer{bus: bus}
}

// Stream writes channel's events to w as an SSE response. lastEventID is the
// client's Last-Event-ID header value (empty on a fresh connection, in which
// case streaming starts from Bus.MaxID — "now", not the full history).
func (s *Streamer) Stream(w http.ResponseWriter, r *http.Request, channel string, lastEventID string) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("response writer does not support flushing")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()

	afterID, err := s.resolveStartID(ctx, channel, lastEventID)
	if err != nil {
		return err
	}

	// Subscribe before the catchup query: any event published after this
	// point is guaranteed a wakeup, so the catchup query below can only
	// miss events that arrive concurrently with it — and those arrive as a
	// wakeup that re-triggers GetEventsAfter with the advanced cursor.
	wake, cancel := s.bus.Subscribe(channel)
	defer cancel()

	overflowed, err := s.catchup(w, flusher, ctx, channel, &afterID)
	if err != nil {
		return err
	}
	if overflowed {
		writeSSE(w, "catchup.overflow", map[string]any{"channel": channel})
		flusher.Flush()
	}

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return err
			}
			flusher.Flush()
		case <-wake:
			if _, err := s.catchup(w, flusher, ctx, channel, &afterID); err != nil {
				return err
			}
		}
	}
}

// resolveStartID turns a Last-Event-ID header (possibly empty) into a
// starting cursor: the header value if present and valid, else the
// channel's current max ID so a fresh client starts live from "now" rather
// than replaying the channel's entire history.
func (s *Streamer) resolveStartID(ctx context.Context, channel, lastEventID string) (int64, error) {
	if lastEventID != "" {
		id, err := strconv.ParseInt(lastEventID, 10, 64)
		if err == nil {
			return id, nil
		}
	}
	return s.bus.MaxID(ctx, channel)
}

// catchup fetches and writes every event after *afterID, advancing it as it
// goes. It returns true if more events existed beyond catchupLimit — the
// caller should tell the client to fall back to a full REST reload rather
// than let replay run unbounded.
func (s *Streamer) catchup(w http.ResponseWriter, flusher http.Flusher, ctx context.Context, channel string, afterID *int64) (bool, error) {
	events, err := s.bus.GetEventsAfter(ctx, channel, *afterID, catchupLimit+1)
	if err != nil {
		return false, err
	}

	overflow := len(events) > catchupLimit
	if overflow {
		events = events[:catchupLimit]
	}

	for _, ev := range events {
		if err := writeEvent(w, ev); err != nil {
			return false, err
		}
		*afterID = ev.ID
	}
	if len(events) > 0 {
		flusher.Flush()
	}
	return overflow, nil
}

func writeEvent(w http.ResponseWriter, ev *models.Event) error {
	body, err := json.Marshal(ev.Payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.ID, ev.Channel, body)
	return err
}

func writeSSE(w http.ResponseWriter, event string, payload map[string]any) {
	body, err := json.Marshal(payload)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, body)
}
