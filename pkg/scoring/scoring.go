// Package scoring implements the session-scoring flow (spec.md §3/§9): an
// LLM judge rates a completed session's investigation quality on a
// -10..10 scale and separately reports what tools or data sources it
// didn't use but should have. Unlike an investigation, synthesis, or chat
// turn, a scoring pass is not a stage_execution row — it's a fixed
// two-turn conversation recorded straight into its own SessionScore row,
// so this package calls pkg/llmclient directly instead of going through
// pkg/stageexec.
//
// Grounded on the teacher's agent/controller/scoring.go (ScoringController)
// for the two-turn conversation shape and score-extraction retry loop, and
// agent/prompt/judges.go/judges_test.go for the prompt-hash mechanism.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tarsy-chain/tarsy/pkg/agentconfig"
	"github.com/tarsy-chain/tarsy/pkg/config"
	"github.com/tarsy-chain/tarsy/pkg/interactionlog"
	"github.com/tarsy-chain/tarsy/pkg/llmclient"
	"github.com/tarsy-chain/tarsy/pkg/models"
)

// ErrNotAvailable classifies a scoring request rejected because the
// session or chain doesn't currently allow it (still processing, or
// scoring disabled for this chain).
var ErrNotAvailable = errors.New("scoring: not available")

// maxExtractionRetries bounds how many times the judge is asked to
// reformat its score line before scoring gives up as failed. Fixed at 5:
// whether the judge can produce a parseable score line depends on the
// contents of its own context window, not on how much wall-clock time has
// elapsed, so a retry count rather than a deadline is the right backstop
// here — same reasoning as the teacher's identical constant.
const maxExtractionRetries = 5

var scoreLineRegex = regexp.MustCompile(`([+-]?\d+)\s*$`)

// scoreStore narrows *store.SessionScoreStore to what this package calls.
type scoreStore interface {
	Create(ctx context.Context, req models.CreateSessionScoreRequest) (*models.SessionScore, error)
	Finish(ctx context.Context, scoreID string, status models.SessionScoreStatus, promptHash *string, totalScore *int, analysis, missingTools, errMsg *string) error
	GetLatestBySession(ctx context.Context, sessionID string) (*models.SessionScore, error)
}

// stageLister narrows *store.StageExecutionStore to what this package
// calls, to build the investigation transcript a score is judged against.
type stageLister interface {
	ListBySession(ctx context.Context, sessionID string) ([]*models.StageExecution, error)
}


// Service resolves the scoring agent and runs scoring passes.
type Service struct {
	cfg          *config.Config
	scores       scoreStore
	stages       stageLister
	llm          llmclient.Client
	interactions *interactionlog.Log
	log          *slog.Logger
}

func New(cfg *config.Config, scores scoreStore, stages stageLister, llm llmclient.Client, interactions *interactionlog.Log, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{cfg: cfg, scores: scores, stages: stages, llm: llm, interactions: interactions, log: log}
}

// Trigger validates that session/chain allow scoring, creates a pending
// SessionScore row, and runs the two-turn judge conversation in the
// background. It returns as soon as the row exists — the caller
// (pkg/httpapi) responds 202 without waiting for the LLM calls to finish.
func (s *Service) Trigger(ctx context.Context, session *models.Session, triggeredBy string) (*models.SessionScore, error) {
	chainCfg, err := s.cfg.GetChain(session.ChainID)
	if err != nil {
		return nil, fmt.Errorf("scoring: resolve chain %q: %w", session.ChainID, err)
	}
	if reason := isScoringAvailable(session.Status, chainCfg.Scoring); reason != "" {
		return nil, fmt.Errorf("%w: %s", ErrNotAvailable, reason)
	}

	row, err := s.scores.Create(ctx, models.CreateSessionScoreRequest{SessionID: session.SessionID, ScoreTriggeredBy: triggeredBy})
	if err != nil {
		return nil, err
	}

	go s.run(row, session, chainCfg)

	return row, nil
}

// Latest returns the most recent SessionScore for a session, or
// store.ErrNotFound if none exists yet. Exposed so pkg/httpapi can serve
// GET /sessions/{id}/scores without importing pkg/store directly.
func (s *Service) Latest(ctx context.Context, sessionID string) (*models.SessionScore, error) {
	return s.scores.GetLatestBySession(ctx, sessionID)
}

// PromptHash returns the fingerprint of the judge prompts currently in
// force, for a caller deciding whether an existing score used the current
// prompt version (models.SessionScore.CurrentPromptUsed).
func (s *Service) PromptHash() string {
	return currentPromptHash()
}

// isScoringAvailable mirrors chatservice's isChatAvailable: a session must
// have reached a terminal status, and the chain must not have explicitly
// disabled scoring.
func isScoringAvailable(status models.SessionStatus, scoring *config.ScoringConfig) string {
	switch {
	case !status.IsTerminal():
		return "scoring is not available while the session is still processing"
	case scoring != nil && !scoring.Enabled:
		return "scoring is not enabled for this chain"
	default:
		return ""
	}
}

func effectiveScoringConfig(scoring *config.ScoringConfig) *config.ScoringConfig {
	if scoring != nil {
		return scoring
	}
	return &config.ScoringConfig{Enabled: true}
}

// run executes the two-turn judge conversation for one score row and
// persists its terminal state. Runs detached in the background; any
// failure is recorded on the row itself rather than returned anywhere.
func (s *Service) run(row *models.SessionScore, session *models.Session, chainCfg *config.ChainConfig) {
	ctx := context.Background()

	resolved, err := agentconfig.ResolveScoring(s.cfg, chainCfg, effectiveScoringConfig(chainCfg.Scoring))
	if err != nil {
		s.fail(ctx, row.ScoreID, fmt.Errorf("resolve scoring agent: %w", err))
		return
	}

	rows, err := s.stages.ListBySession(ctx, session.SessionID)
	if err != nil {
		s.fail(ctx, row.ScoreID, fmt.Errorf("list stage executions: %w", err))
		return
	}
	sessionContext := buildSessionContext(session, rows)

	score, analysis, usage1, err := s.runScoreTurn(ctx, session.SessionID, resolved, sessionContext)
	if err != nil {
		s.fail(ctx, row.ScoreID, err)
		return
	}

	missingTools, usage2, err := s.runMissingToolsTurn(ctx, session.SessionID, resolved, sessionContext, analysis)
	if err != nil {
		s.fail(ctx, row.ScoreID, err)
		return
	}
	_ = usage1
	_ = usage2

	hash := currentPromptHash()
	if err := s.scores.Finish(ctx, row.ScoreID, models.SessionScoreCompleted, &hash, &score, &analysis, &missingTools, nil); err != nil {
		s.log.Error("persisting completed score failed", "score_id", row.ScoreID, "error", err)
	}
}

// runScoreTurn runs the first judge turn, retrying up to
// maxExtractionRetries times when the response doesn't end in a
// parseable score line.
func (s *Service) runScoreTurn(ctx context.Context, sessionID string, resolved *agentconfig.Resolved, sessionContext string) (int, string, llmclient.TokenUsage, error) {
	messages := []llmclient.Message{
		{Role: llmclient.RoleSystem, Content: judgeSystemPrompt},
		{Role: llmclient.RoleUser, Content: fmt.Sprintf(judgePromptScore, sessionContext, scoringOutputSchema)},
	}

	var total llmclient.TokenUsage
	for attempt := 0; attempt < maxExtractionRetries; attempt++ {
		resp, err := s.generate(ctx, sessionID, resolved, messages)
		if err != nil {
			return 0, "", total, fmt.Errorf("scoring: score turn llm call failed: %w", err)
		}
		total = addUsage(total, resp.Usage)

		score, analysis, extractErr := extractScore(resp.Content)
		if extractErr == nil {
			return score, analysis, total, nil
		}

		messages = append(messages,
			llmclient.Message{Role: llmclient.RoleAssistant, Content: resp.Content},
			llmclient.Message{Role: llmclient.RoleUser, Content: fmt.Sprintf(judgePromptScoreReminder, scoringOutputSchema)},
		)
	}
	return 0, "", total, fmt.Errorf("scoring: could not extract a score after %d attempts", maxExtractionRetries)
}

// runMissingToolsTurn runs the second judge turn, asking what the
// investigation should have used but didn't.
func (s *Service) runMissingToolsTurn(ctx context.Context, sessionID string, resolved *agentconfig.Resolved, sessionContext, scoreAnalysis string) (string, llmclient.TokenUsage, error) {
	messages := []llmclient.Message{
		{Role: llmclient.RoleSystem, Content: judgeSystemPrompt},
		{Role: llmclient.RoleUser, Content: fmt.Sprintf(judgePromptScore, sessionContext, scoringOutputSchema)},
		{Role: llmclient.RoleAssistant, Content: scoreAnalysis},
		{Role: llmclient.RoleUser, Content: judgePromptFollowupMissingTools},
	}

	resp, err := s.generate(ctx, sessionID, resolved, messages)
	if err != nil {
		return "", llmclient.TokenUsage{}, fmt.Errorf("scoring: missing-tools turn llm call failed: %w", err)
	}
	return resp.Content, resp.Usage, nil
}

// generate calls the LLM and best-effort records the interaction, with no
// StageExecutionID: scoring isn't a stage_execution row in this schema.
func (s *Service) generate(ctx context.Context, sessionID string, resolved *agentconfig.Resolved, messages []llmclient.Message) (*llmclient.Response, error) {
	start := time.Now()
	resp, err := s.llm.Generate(ctx, messages, llmclient.GenerateOptions{
		Provider:  resolved.LLMProviderName,
		SessionID: sessionID,
	})
	duration := time.Since(start)

	if s.interactions != nil {
		var responseJSON map[string]any
		if resp != nil {
			responseJSON = map[string]any{"content": resp.Content}
		}
		var errMsg *string
		if err != nil {
			msg := err.Error()
			errMsg = &msg
		}
		_, logErr := s.interactions.LogLLM(ctx, interactionlog.LLMCall{
			SessionID:    sessionID,
			ModelName:    resolved.LLMProviderName,
			RequestJSON:  map[string]any{"messages": len(messages)},
			ResponseJSON: responseJSON,
			Duration:     duration,
			Success:      err == nil,
			Error:        errMsg,
		})
		if logErr != nil {
			s.log.Warn("logging scoring llm interaction failed", "session_id", sessionID, "error", logErr)
		}
	}

	return resp, err
}

func (s *Service) fail(ctx context.Context, scoreID string, cause error) {
	s.log.Error("scoring run failed", "score_id", scoreID, "error", cause)
	msg := cause.Error()
	if err := s.scores.Finish(ctx, scoreID, models.SessionScoreFailed, nil, nil, nil, nil, &msg); err != nil {
		s.log.Error("persisting failed score failed", "score_id", scoreID, "error", err)
	}
}

// extractScore mirrors the teacher's extractScore: the response must end
// with a line containing only (optionally signed) digits; everything
// before that last line is the analysis.
func extractScore(text string) (int, string, error) {
	trimmed := strings.TrimRight(text, "\n\r\t ")
	if trimmed == "" {
		return 0, "", fmt.Errorf("scoring: empty response")
	}

	idx := strings.LastIndex(trimmed, "\n")
	lastLine := trimmed
	analysis := ""
	if idx >= 0 {
		lastLine = trimmed[idx+1:]
		analysis = trimmed[:idx]
	}

	match := scoreLineRegex.FindStringSubmatch(strings.TrimSpace(lastLine))
	if match == nil {
		return 0, "", fmt.Errorf("scoring: no score found in final line %q", lastLine)
	}
	score, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, "", fmt.Errorf("scoring: parsing score %q: %w", match[1], err)
	}
	return score, strings.TrimSpace(analysis), nil
}

// buildSessionContext renders the alert payload and every completed
// non-chat stage's output as the transcript the judge scores, mirroring
// the teacher's session-context builder for ScoringController.
func buildSessionContext(session *models.Session, rows []*models.StageExecution) string {
	var sb strings.Builder
	sb.WriteString("## Alert\n\n")
	sb.WriteString(session.AlertPayload)

	for _, r := range rows {
		if r.ChatID != nil || r.Status != models.StageExecutionCompleted || r.StageOutput == nil {
			continue
		}
		sb.WriteString(fmt.Sprintf("\n\n## %s\n\n%s", r.StageName, strings.TrimSpace(*r.StageOutput)))
	}

	if session.FinalAnalysis != nil && *session.FinalAnalysis != "" {
		sb.WriteString(fmt.Sprintf("\n\n## Final Analysis\n\n%s", strings.TrimSpace(*session.FinalAnalysis)))
	}

	return sb.String()
}

func addUsage(a, b llmclient.TokenUsage) llmclient.TokenUsage {
	return llmclient.TokenUsage{
		InputTokens:  a.InputTokens + b.InputTokens,
		OutputTokens: a.OutputTokens + b.OutputTokens,
		TotalTokens:  a.TotalTokens + b.TotalTokens,
	}
}
