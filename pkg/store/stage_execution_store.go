package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tarsy-chain/tarsy/pkg/models"
)

// StageExecutionStore is the repository for models.StageExecution.
type StageExecutionStore struct {
	pool *pgxpool.Pool
}

const stageExecutionColumnsQuery = `
	SELECT execution_id, session_id, stage_index, stage_name, agent, iteration_strategy,
	       status, started_at_us, completed_at_us, duration_ms,
	       parent_stage_execution_id, parallel_index, parallel_type, success_policy,
	       stage_output, error, chat_id, chat_user_message_id
	FROM stage_executions`

// Create inserts a new stage execution row in pending status.
func (s *StageExecutionStore) Create(ctx context.Context, req models.CreateStageExecutionRequest) (*models.StageExecution, error) {
	se := &models.StageExecution{
		ExecutionID:            uuid.NewString(),
		SessionID:              req.SessionID,
		StageIndex:             req.StageIndex,
		StageName:              req.StageName,
		Agent:                  req.Agent,
		IterationStrategy:      req.IterationStrategy,
		Status:                 models.StageExecutionPending,
		ParentStageExecutionID: req.ParentStageExecutionID,
		ParallelIndex:          req.ParallelIndex,
		ParallelType:           req.ParallelType,
		SuccessPolicy:          req.SuccessPolicy,
		ChatID:                 req.ChatID,
		ChatUserMessageID:      req.ChatUserMessageID,
	}

	err := WithRetry(ctx, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO stage_executions (
				execution_id, session_id, stage_index, stage_name, agent, iteration_strategy,
				status, parent_stage_execution_id, parallel_index, parallel_type, success_policy,
				chat_id, chat_user_message_id
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
			se.ExecutionID, se.SessionID, se.StageIndex, se.StageName, se.Agent, se.IterationStrategy,
			se.Status, se.ParentStageExecutionID, se.ParallelIndex, se.ParallelType, se.SuccessPolicy,
			se.ChatID, se.ChatUserMessageID,
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("inserting stage execution: %w", err)
	}
	return se, nil
}

// Get fetches a stage execution by ID.
func (s *StageExecutionStore) Get(ctx context.Context, executionID string) (*models.StageExecution, error) {
	row := s.pool.QueryRow(ctx, stageExecutionColumnsQuery+` WHERE execution_id = $1`, executionID)
	return scanStageExecution(row)
}

// ListBySession returns every stage execution belonging to a session, in
// stage_index / parallel_index order.
func (s *StageExecutionStore) ListBySession(ctx context.Context, sessionID string) ([]*models.StageExecution, error) {
	rows, err := s.pool.Query(ctx, stageExecutionColumnsQuery+`
		WHERE session_id = $1 ORDER BY stage_index ASC, parallel_index ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.StageExecution
	for rows.Next() {
		se, err := scanStageExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, se)
	}
	return out, rows.Err()
}

// ListChildren returns every child of a parent stage execution, ordered by
// parallel_index — used by the join logic in pkg/chain to derive a parent's
// status once all (or, for "any", one) children resolve.
func (s *StageExecutionStore) ListChildren(ctx context.Context, parentExecutionID string) ([]*models.StageExecution, error) {
	rows, err := s.pool.Query(ctx, stageExecutionColumnsQuery+`
		WHERE parent_stage_execution_id = $1 ORDER BY parallel_index ASC`, parentExecutionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.StageExecution
	for rows.Next() {
		se, err := scanStageExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, se)
	}
	return out, rows.Err()
}

// Start marks a stage execution active and stamps started_at_us.
func (s *StageExecutionStore) Start(ctx context.Context, executionID string) error {
	return WithRetry(ctx, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, `
			UPDATE stage_executions SET status = $1, started_at_us = $2 WHERE execution_id = $3`,
			models.StageExecutionActive, NowMicros(), executionID)
		return err
	})
}

// Finish transitions a stage execution to a terminal status, stamping
// completed_at_us/duration_ms and recording output/error.
func (s *StageExecutionStore) Finish(ctx context.Context, executionID string, req models.UpdateStageExecutionStatusRequest) error {
	return WithRetry(ctx, func(ctx context.Context) error {
		now := NowMicros()
		row := s.pool.QueryRow(ctx, `SELECT started_at_us FROM stage_executions WHERE execution_id = $1`, executionID)
		var startedAt *int64
		if err := row.Scan(&startedAt); err != nil {
			return err
		}
		var durationMs *int64
		if startedAt != nil {
			d := (now - *startedAt) / 1000
			durationMs = &d
		}
		_, err := s.pool.Exec(ctx, `
			UPDATE stage_executions
			SET status = $1, completed_at_us = $2, duration_ms = $3,
			    stage_output = COALESCE($4, stage_output), error = COALESCE($5, error)
			WHERE execution_id = $6`,
			req.Status, now, durationMs, req.StageOutput, req.Error, executionID)
		return err
	})
}

// FailNonTerminalBySession marks every non-terminal (pending/active) stage
// execution belonging to a session as failed with errMsg, stamping
// completed_at_us/duration_ms. Used by the orphan sweep and graceful
// shutdown path in pkg/sessionqueue to close out a session's in-flight rows
// when the owning pod can no longer run them, mirroring the teacher's
// markSessionTimedOut's companion TimelineEvent bulk update.
func (s *StageExecutionStore) FailNonTerminalBySession(ctx context.Context, sessionID, errMsg string) error {
	return WithRetry(ctx, func(ctx context.Context) error {
		now := NowMicros()
		_, err := s.pool.Exec(ctx, `
			UPDATE stage_executions
			SET status = $1, completed_at_us = $2,
			    duration_ms = CASE WHEN started_at_us IS NOT NULL THEN ($2 - started_at_us) / 1000 ELSE NULL END,
			    error = $3
			WHERE session_id = $4 AND status IN ($5, $6)`,
			models.StageExecutionFailed, now, errMsg, sessionID,
			models.StageExecutionPending, models.StageExecutionActive)
		return err
	})
}

// HasActiveChatExecution reports whether a chat has a pending or active
// stage execution, enforcing the one-response-at-a-time constraint on a
// chat's message queue.
func (s *StageExecutionStore) HasActiveChatExecution(ctx context.Context, chatID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM stage_executions
			WHERE chat_id = $1 AND status IN ($2, $3)
		)`, chatID, models.StageExecutionPending, models.StageExecutionActive).Scan(&exists)
	return exists, err
}

// MaxStageIndexBySession returns the highest stage_index used by a
// session's stage executions, or -1 if it has none. Used to append a chat
// turn's stage execution after the investigation's own stages.
func (s *StageExecutionStore) MaxStageIndexBySession(ctx context.Context, sessionID string) (int, error) {
	var maxIndex *int
	err := s.pool.QueryRow(ctx,
		`SELECT MAX(stage_index) FROM stage_executions WHERE session_id = $1`, sessionID).Scan(&maxIndex)
	if err != nil {
		return 0, err
	}
	if maxIndex == nil {
		return -1, nil
	}
	return *maxIndex, nil
}

func scanStageExecution(row rowScanner) (*models.StageExecution, error) {
	var se models.StageExecution
	err := row.Scan(
		&se.ExecutionID, &se.SessionID, &se.StageIndex, &se.StageName, &se.Agent, &se.IterationStrategy,
		&se.Status, &se.StartedAtUs, &se.CompletedAtUs, &se.DurationMs,
		&se.ParentStageExecutionID, &se.ParallelIndex, &se.ParallelType, &se.SuccessPolicy,
		&se.StageOutput, &se.Error, &se.ChatID, &se.ChatUserMessageID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &se, nil
}
