package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tarsy-chain/tarsy/pkg/models"
)

// ErrNotFound is returned when a lookup by ID finds no row.
var ErrNotFound = errors.New("store: not found")

// ErrNoSessionsAvailable is returned by ClaimNext when no pending session is
// available to claim.
var ErrNoSessionsAvailable = errors.New("store: no sessions available")

// SessionStore is the repository for models.Session.
type SessionStore struct {
	pool *pgxpool.Pool
}

// Create inserts a new pending session.
func (s *SessionStore) Create(ctx context.Context, req models.CreateSessionRequest) (*models.Session, error) {
	now := NowMicros()
	sess := &models.Session{
		SessionID:           uuid.NewString(),
		AlertType:           req.AlertType,
		AlertPayload:        req.AlertPayload,
		Status:              models.SessionPending,
		ChainID:             req.ChainID,
		SessionMetadata:     req.SessionMetadata,
		StartedAtUs:         now,
		LastInteractionAtUs: now,
	}
	if req.Author != "" {
		sess.Author = &req.Author
	}
	if req.RunbookURL != "" {
		sess.RunbookURL = &req.RunbookURL
	}
	if req.MCPSelection != nil {
		sess.MCPSelection = req.MCPSelection
	}

	metaJSON, err := json.Marshal(sess.SessionMetadata)
	if err != nil {
		return nil, fmt.Errorf("marshaling session_metadata: %w", err)
	}
	mcpJSON, err := json.Marshal(sess.MCPSelection)
	if err != nil {
		return nil, fmt.Errorf("marshaling mcp_selection: %w", err)
	}

	err = WithRetry(ctx, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO sessions (
				session_id, alert_type, alert_payload, status, chain_id,
				author, runbook_url, mcp_selection, session_metadata,
				started_at_us, last_interaction_at_us
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			sess.SessionID, sess.AlertType, sess.AlertPayload, sess.Status, sess.ChainID,
			sess.Author, sess.RunbookURL, mcpJSON, metaJSON,
			sess.StartedAtUs, sess.LastInteractionAtUs,
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("inserting session: %w", err)
	}
	return sess, nil
}

// Get fetches a session by ID.
func (s *SessionStore) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	row := s.pool.QueryRow(ctx, sessionColumnsQuery+` WHERE session_id = $1`, sessionID)
	return scanSession(row)
}

// List returns sessions matching the given filters, newest first.
func (s *SessionStore) List(ctx context.Context, filters models.SessionFilters) ([]*models.Session, error) {
	query := sessionColumnsQuery + ` WHERE ($1 = '' OR status = $1)
		AND ($2 = '' OR alert_type = $2)
		AND ($3 = '' OR chain_id = $3)
		AND ($4 = '' OR author = $4)
		AND (deleted_at_us IS NULL OR $5)
		ORDER BY started_at_us DESC
		LIMIT $6 OFFSET $7`

	limit := filters.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, query,
		string(filters.Status), filters.AlertType, filters.ChainID, filters.Author,
		filters.IncludeDeleted, limit, filters.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var out []*models.Session
	for rows.Next() {
		sess, err := scanSessionRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// ClaimNext atomically claims the oldest pending session for podID using
// SELECT ... FOR UPDATE SKIP LOCKED, mirroring the teacher's
// Worker.claimNextSession (pkg/queue/worker.go) translated from ent to raw
// SQL. Returns ErrNoSessionsAvailable if nothing is claimable right now.
func (s *SessionStore) ClaimNext(ctx context.Context, podID string) (*models.Session, error) {
	var claimed *models.Session

	err := WithRetry(ctx, func(ctx context.Context) error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		row := tx.QueryRow(ctx, `
			SELECT session_id FROM sessions
			WHERE status = $1 AND deleted_at_us IS NULL
			ORDER BY started_at_us ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED`, models.SessionPending)

		var sessionID string
		if err := row.Scan(&sessionID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNoSessionsAvailable
			}
			return err
		}

		now := NowMicros()
		_, err = tx.Exec(ctx, `
			UPDATE sessions
			SET status = $1, pod_id = $2, started_at_us = $3, last_interaction_at_us = $3
			WHERE session_id = $4`,
			models.SessionInProgress, podID, now, sessionID,
		)
		if err != nil {
			return err
		}

		row = tx.QueryRow(ctx, sessionColumnsQuery+` WHERE session_id = $1`, sessionID)
		claimed, err = scanSession(row)
		if err != nil {
			return err
		}

		return tx.Commit(ctx)
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// Heartbeat bumps last_interaction_at_us for orphan detection.
func (s *SessionStore) Heartbeat(ctx context.Context, sessionID string) error {
	return WithRetry(ctx, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx,
			`UPDATE sessions SET last_interaction_at_us = $1 WHERE session_id = $2`,
			NowMicros(), sessionID)
		return err
	})
}

// CountActive returns the number of in_progress sessions, used for the
// global concurrency cap (see pkg/sessionqueue).
func (s *SessionStore) CountActive(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM sessions WHERE status = $1`, models.SessionInProgress,
	).Scan(&n)
	return n, err
}

// FindOrphans returns in_progress sessions whose heartbeat is older than the
// given cutoff (microseconds), regardless of owning pod — used by the
// periodic sweep (any stale row, any pod).
func (s *SessionStore) FindOrphans(ctx context.Context, cutoffUs int64) ([]*models.Session, error) {
	rows, err := s.pool.Query(ctx, sessionColumnsQuery+`
		WHERE status = $1 AND last_interaction_at_us < $2 AND deleted_at_us IS NULL`,
		models.SessionInProgress, cutoffUs,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Session
	for rows.Next() {
		sess, err := scanSessionRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// FindOwnedBy returns in_progress sessions owned by podID — used by the
// startup sweep to recover this pod's own crash-interrupted sessions.
func (s *SessionStore) FindOwnedBy(ctx context.Context, podID string) ([]*models.Session, error) {
	rows, err := s.pool.Query(ctx, sessionColumnsQuery+`
		WHERE status = $1 AND pod_id = $2 AND deleted_at_us IS NULL`,
		models.SessionInProgress, podID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Session
	for rows.Next() {
		sess, err := scanSessionRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// UpdateCurrentStage records which stage index pkg/chain is about to run, for
// progress reporting on the session detail response.
func (s *SessionStore) UpdateCurrentStage(ctx context.Context, sessionID string, stageIndex int) error {
	return WithRetry(ctx, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx,
			`UPDATE sessions SET current_stage_index = $1 WHERE session_id = $2`,
			stageIndex, sessionID)
		return err
	})
}

// SetTerminal writes a session's terminal status (completed/failed/cancelled)
// along with optional final analysis/executive summary/error.
func (s *SessionStore) SetTerminal(ctx context.Context, sessionID string, status models.SessionStatus, finalAnalysis, execSummary, errMsg *string) error {
	now := NowMicros()
	return WithRetry(ctx, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, `
			UPDATE sessions
			SET status = $1, completed_at_us = $2, final_analysis = COALESCE($3, final_analysis),
			    executive_summary = COALESCE($4, executive_summary), error = COALESCE($5, error)
			WHERE session_id = $6`,
			status, now, finalAnalysis, execSummary, errMsg, sessionID,
		)
		return err
	})
}

const sessionColumnsQuery = `
	SELECT session_id, alert_type, alert_payload, status, chain_id,
	       author, runbook_url, mcp_selection, session_metadata,
	       current_stage_index, final_analysis, executive_summary,
	       started_at_us, completed_at_us, pod_id, last_interaction_at_us,
	       error, deleted_at_us
	FROM sessions`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var sess models.Session
	var mcpJSON, metaJSON []byte
	err := row.Scan(
		&sess.SessionID, &sess.AlertType, &sess.AlertPayload, &sess.Status, &sess.ChainID,
		&sess.Author, &sess.RunbookURL, &mcpJSON, &metaJSON,
		&sess.CurrentStageIndex, &sess.FinalAnalysis, &sess.ExecutiveSummary,
		&sess.StartedAtUs, &sess.CompletedAtUs, &sess.PodID, &sess.LastInteractionAtUs,
		&sess.Error, &sess.DeletedAtUs,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(mcpJSON) > 0 {
		_ = json.Unmarshal(mcpJSON, &sess.MCPSelection)
	}
	if len(metaJSON) > 0 {
		_ = json.Unmarshal(metaJSON, &sess.SessionMetadata)
	}
	return &sess, nil
}

func scanSessionRows(rows pgx.Rows) (*models.Session, error) {
	return scanSession(rows)
}
