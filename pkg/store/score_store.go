package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tarsy-chain/tarsy/pkg/models"
)

// ErrScoreAlreadyInFlight is returned by Create when a score for the
// session is already pending or in_progress — the partial-unique invariant
// from spec.md §3, enforced by a partial unique index on
// (session_id) WHERE status IN ('pending','in_progress') rather than
// application-level locking.
var ErrScoreAlreadyInFlight = errors.New("store: a score is already pending or in progress for this session")

// SessionScoreStore is the repository for models.SessionScore.
type SessionScoreStore struct {
	pool *pgxpool.Pool
}

const scoreColumnsQuery = `
	SELECT score_id, session_id, prompt_hash, total_score, score_analysis,
	       missing_tools_analysis, score_triggered_by, status,
	       started_at_us, completed_at_us, error
	FROM session_scores`

// Create inserts a new pending score row. The unique-partial-index violation
// is translated to ErrScoreAlreadyInFlight so callers don't need to know the
// Postgres error code.
func (s *SessionScoreStore) Create(ctx context.Context, req models.CreateSessionScoreRequest) (*models.SessionScore, error) {
	score := &models.SessionScore{
		ScoreID:          uuid.NewString(),
		SessionID:        req.SessionID,
		ScoreTriggeredBy: req.ScoreTriggeredBy,
		Status:           models.SessionScorePending,
		StartedAtUs:      NowMicros(),
	}

	err := WithRetry(ctx, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO session_scores (score_id, session_id, score_triggered_by, status, started_at_us)
			VALUES ($1,$2,$3,$4,$5)`,
			score.ScoreID, score.SessionID, score.ScoreTriggeredBy, score.Status, score.StartedAtUs,
		)
		return err
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrScoreAlreadyInFlight
		}
		return nil, fmt.Errorf("inserting session score: %w", err)
	}
	return score, nil
}

// Get fetches a score by ID.
func (s *SessionScoreStore) Get(ctx context.Context, scoreID string) (*models.SessionScore, error) {
	row := s.pool.QueryRow(ctx, scoreColumnsQuery+` WHERE score_id = $1`, scoreID)
	return scanScore(row)
}

// GetLatestBySession returns the most recent score for a session, if any.
func (s *SessionScoreStore) GetLatestBySession(ctx context.Context, sessionID string) (*models.SessionScore, error) {
	row := s.pool.QueryRow(ctx, scoreColumnsQuery+`
		WHERE session_id = $1 ORDER BY started_at_us DESC LIMIT 1`, sessionID)
	return scanScore(row)
}

// Finish transitions a score to a terminal state with its judged results.
func (s *SessionScoreStore) Finish(ctx context.Context, scoreID string, status models.SessionScoreStatus, promptHash *string, totalScore *int, analysis, missingTools, errMsg *string) error {
	return WithRetry(ctx, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, `
			UPDATE session_scores
			SET status = $1, completed_at_us = $2, prompt_hash = $3, total_score = $4,
			    score_analysis = $5, missing_tools_analysis = $6, error = $7
			WHERE score_id = $8`,
			status, NowMicros(), promptHash, totalScore, analysis, missingTools, errMsg, scoreID,
		)
		return err
	})
}

func scanScore(row rowScanner) (*models.SessionScore, error) {
	var sc models.SessionScore
	err := row.Scan(
		&sc.ScoreID, &sc.SessionID, &sc.PromptHash, &sc.TotalScore, &sc.ScoreAnalysis,
		&sc.MissingToolsAnalysis, &sc.ScoreTriggeredBy, &sc.Status,
		&sc.StartedAtUs, &sc.CompletedAtUs, &sc.Error,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sc, nil
}
