package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tarsy-chain/tarsy/pkg/models"
)

// EventStore is the repository for the append-only models.Event log.
// PersistAndNotify grounds on the teacher's EventPublisher.persistAndNotify
// (pkg/events/publisher.go): the INSERT and pg_notify happen in the same
// transaction, so NOTIFY only fires once the row is durably committed —
// any listener that wakes on NOTIFY is guaranteed to find the row via a
// plain SELECT, with no visibility race.
type EventStore struct {
	pool *pgxpool.Pool
}

// maxNotifyPayloadBytes mirrors PostgreSQL's 8000-byte NOTIFY payload limit
// (with headroom), per the teacher's truncateIfNeeded.
const maxNotifyPayloadBytes = 7900

// PersistAndNotify inserts an event row and issues pg_notify on its channel
// within one transaction, returning the assigned monotonic ID. If the full
// payload would exceed PostgreSQL's NOTIFY size limit, the NOTIFY carries a
// truncated envelope (id + channel only) and callers fetch the full payload
// via GetEventsAfter — the row itself is never truncated.
func (s *EventStore) PersistAndNotify(ctx context.Context, req models.CreateEventRequest) (*models.Event, error) {
	payloadJSON, err := json.Marshal(req.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling event payload: %w", err)
	}

	var ev models.Event
	err = WithRetry(ctx, func(ctx context.Context) error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		now := NowMicros()
		row := tx.QueryRow(ctx, `
			INSERT INTO events (channel, payload, inserted_at_us) VALUES ($1,$2,$3)
			RETURNING id`, req.Channel, payloadJSON, now)
		if err := row.Scan(&ev.ID); err != nil {
			return err
		}
		ev.Channel = req.Channel
		ev.Payload = req.Payload
		ev.InsertedAtUs = now

		notifyPayload := buildNotifyPayload(ev.ID, req.Channel, payloadJSON)
		if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, req.Channel, notifyPayload); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("persisting event: %w", err)
	}
	return &ev, nil
}

// buildNotifyPayload returns the raw payload JSON if it fits within
// PostgreSQL's NOTIFY limit, otherwise a minimal routing-only envelope —
// the receiver always re-fetches the full row via GetEventsAfter when it
// needs more than routing information.
func buildNotifyPayload(id int64, channel string, payloadJSON []byte) string {
	if len(payloadJSON) <= maxNotifyPayloadBytes {
		return string(payloadJSON)
	}
	truncated, _ := json.Marshal(map[string]any{
		"db_event_id": id,
		"channel":     channel,
		"truncated":   true,
	})
	return string(truncated)
}

// GetEventsAfter returns every event on channel with id > afterID, in order —
// used both for catchup replay on SSE (re)connect and as the poll backend's
// sole read path (see pkg/eventbus).
func (s *EventStore) GetEventsAfter(ctx context.Context, channel string, afterID int64, limit int) ([]*models.Event, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, channel, payload, inserted_at_us
		FROM events WHERE channel = $1 AND id > $2 ORDER BY id ASC LIMIT $3`,
		channel, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Event
	for rows.Next() {
		var ev models.Event
		var payloadJSON []byte
		if err := rows.Scan(&ev.ID, &ev.Channel, &payloadJSON, &ev.InsertedAtUs); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(payloadJSON, &ev.Payload)
		out = append(out, &ev)
	}
	return out, rows.Err()
}

// MaxID returns the highest event ID currently stored on channel, or 0 if
// none exist — used by SSE catchup to determine the starting point of a
// fresh (no Last-Event-ID) subscription.
func (s *EventStore) MaxID(ctx context.Context, channel string) (int64, error) {
	var id *int64
	err := s.pool.QueryRow(ctx, `SELECT max(id) FROM events WHERE channel = $1`, channel).Scan(&id)
	if err != nil {
		return 0, err
	}
	if id == nil {
		return 0, nil
	}
	return *id, nil
}
