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

// InteractionStore is the repository for models.LLMInteraction and
// models.MCPInteraction. Both are immutable once inserted (spec.md §3) so
// this store offers Create + lookup only, no updates.
type InteractionStore struct {
	pool *pgxpool.Pool
}

// CreateLLM inserts an immutable LLM interaction record.
func (s *InteractionStore) CreateLLM(ctx context.Context, req models.CreateLLMInteractionRequest) (*models.LLMInteraction, error) {
	li := &models.LLMInteraction{
		InteractionID:     uuid.NewString(),
		SessionID:         req.SessionID,
		StageExecutionID:  req.StageExecutionID,
		MCPEventID:        req.MCPEventID,
		ModelName:         req.ModelName,
		RequestJSON:       req.RequestJSON,
		ResponseJSON:      req.ResponseJSON,
		TokenUsage:        req.TokenUsage,
		ToolCalls:         req.ToolCalls,
		ToolResults:       req.ToolResults,
		DurationMs:        req.DurationMs,
		Success:           req.Success,
		Error:             req.Error,
		TimestampUs:       NowMicros(),
	}

	reqJSON, _ := json.Marshal(li.RequestJSON)
	respJSON, _ := json.Marshal(li.ResponseJSON)
	tokensJSON, _ := json.Marshal(li.TokenUsage)
	callsJSON, _ := json.Marshal(li.ToolCalls)
	resultsJSON, _ := json.Marshal(li.ToolResults)

	err := WithRetry(ctx, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO llm_interactions (
				interaction_id, session_id, stage_execution_id, mcp_event_id, model_name,
				request_json, response_json, token_usage, tool_calls, tool_results,
				duration_ms, success, error, timestamp_us
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
			li.InteractionID, li.SessionID, li.StageExecutionID, li.MCPEventID, li.ModelName,
			reqJSON, respJSON, tokensJSON, callsJSON, resultsJSON,
			li.DurationMs, li.Success, li.Error, li.TimestampUs,
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("inserting llm interaction: %w", err)
	}
	return li, nil
}

// CreateMCP inserts an immutable MCP interaction record.
func (s *InteractionStore) CreateMCP(ctx context.Context, req models.CreateMCPInteractionRequest) (*models.MCPInteraction, error) {
	mi := &models.MCPInteraction{
		InteractionID:     uuid.NewString(),
		SessionID:         req.SessionID,
		StageExecutionID:  req.StageExecutionID,
		ServerName:        req.ServerName,
		CommunicationType: req.CommunicationType,
		ToolName:          req.ToolName,
		ToolArguments:     req.ToolArguments,
		ToolResult:        req.ToolResult,
		AvailableTools:    req.AvailableTools,
		DurationMs:        req.DurationMs,
		Success:           req.Success,
		Error:             req.Error,
		TimestampUs:       NowMicros(),
	}

	argsJSON, _ := json.Marshal(mi.ToolArguments)
	resultJSON, _ := json.Marshal(mi.ToolResult)
	toolsJSON, _ := json.Marshal(mi.AvailableTools)

	err := WithRetry(ctx, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO mcp_interactions (
				interaction_id, session_id, stage_execution_id, server_name, communication_type,
				tool_name, tool_arguments, tool_result, available_tools,
				duration_ms, success, error, timestamp_us
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
			mi.InteractionID, mi.SessionID, mi.StageExecutionID, mi.ServerName, mi.CommunicationType,
			mi.ToolName, argsJSON, resultJSON, toolsJSON,
			mi.DurationMs, mi.Success, mi.Error, mi.TimestampUs,
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("inserting mcp interaction: %w", err)
	}
	return mi, nil
}

// ListLLMBySession returns every LLM interaction for a session, oldest first.
func (s *InteractionStore) ListLLMBySession(ctx context.Context, sessionID string) ([]*models.LLMInteraction, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT interaction_id, session_id, stage_execution_id, mcp_event_id, model_name,
		       request_json, response_json, token_usage, tool_calls, tool_results,
		       duration_ms, success, error, timestamp_us
		FROM llm_interactions WHERE session_id = $1 ORDER BY timestamp_us ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.LLMInteraction
	for rows.Next() {
		li, err := scanLLMInteraction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, li)
	}
	return out, rows.Err()
}

// ListMCPBySession returns every MCP interaction for a session, oldest first.
func (s *InteractionStore) ListMCPBySession(ctx context.Context, sessionID string) ([]*models.MCPInteraction, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT interaction_id, session_id, stage_execution_id, server_name, communication_type,
		       tool_name, tool_arguments, tool_result, available_tools,
		       duration_ms, success, error, timestamp_us
		FROM mcp_interactions WHERE session_id = $1 ORDER BY timestamp_us ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.MCPInteraction
	for rows.Next() {
		mi, err := scanMCPInteraction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, mi)
	}
	return out, rows.Err()
}

func scanLLMInteraction(row rowScanner) (*models.LLMInteraction, error) {
	var li models.LLMInteraction
	var reqJSON, respJSON, tokensJSON, callsJSON, resultsJSON []byte
	err := row.Scan(
		&li.InteractionID, &li.SessionID, &li.StageExecutionID, &li.MCPEventID, &li.ModelName,
		&reqJSON, &respJSON, &tokensJSON, &callsJSON, &resultsJSON,
		&li.DurationMs, &li.Success, &li.Error, &li.TimestampUs,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	_ = json.Unmarshal(reqJSON, &li.RequestJSON)
	_ = json.Unmarshal(respJSON, &li.ResponseJSON)
	_ = json.Unmarshal(tokensJSON, &li.TokenUsage)
	_ = json.Unmarshal(callsJSON, &li.ToolCalls)
	_ = json.Unmarshal(resultsJSON, &li.ToolResults)
	return &li, nil
}

func scanMCPInteraction(row rowScanner) (*models.MCPInteraction, error) {
	var mi models.MCPInteraction
	var argsJSON, resultJSON, toolsJSON []byte
	err := row.Scan(
		&mi.InteractionID, &mi.SessionID, &mi.StageExecutionID, &mi.ServerName, &mi.CommunicationType,
		&mi.ToolName, &argsJSON, &resultJSON, &toolsJSON,
		&mi.DurationMs, &mi.Success, &mi.Error, &mi.TimestampUs,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	_ = json.Unmarshal(argsJSON, &mi.ToolArguments)
	_ = json.Unmarshal(resultJSON, &mi.ToolResult)
	_ = json.Unmarshal(toolsJSON, &mi.AvailableTools)
	return &mi, nil
}
