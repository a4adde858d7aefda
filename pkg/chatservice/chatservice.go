// Package chatservice implements the follow-up chat flow (spec.md §3/§9):
// a session gets at most one chat, and each user message is answered by
// running one more stage_execution row — tagged with ChatID/
// ChatUserMessageID — through the same pkg/stageexec.Executor that drives
// investigation stages, so a chat turn can call the investigation's MCP
// tools whenever the resolved chat agent's iteration strategy allows it.
//
// Grounded on the teacher's pkg/api/handler_chat.go's sendChatMessageHandler
// and pkg/queue/chat_executor.go: validate the session/chain allow chat,
// get-or-create the chat row, enforce one in-flight response per chat,
// append the message, then submit the answering stage execution.
package chatservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tarsy-chain/tarsy/pkg/agentconfig"
	"github.com/tarsy-chain/tarsy/pkg/config"
	"github.com/tarsy-chain/tarsy/pkg/eventbus"
	"github.com/tarsy-chain/tarsy/pkg/models"
	"github.com/tarsy-chain/tarsy/pkg/stageexec"
	"github.com/tarsy-chain/tarsy/pkg/store"
)

// ErrNotAvailable classifies a chat request rejected because the session or
// chain doesn't currently allow chat (still processing, cancelled, or chat
// disabled for this chain) — the reason is wrapped in the error message.
var ErrNotAvailable = errors.New("chatservice: chat not available")

// ErrResponseInFlight is returned by Submit when the chat already has a
// pending or active stage execution answering a previous message — spec.md
// §9's "one response at a time" constraint on a chat's message queue.
var ErrResponseInFlight = errors.New("chatservice: a response is already being generated for this chat")

// chatStore narrows *store.ChatStore to what this package calls.
type chatStore interface {
	CreateChat(ctx context.Context, req models.CreateChatRequest, chainID string) (*models.Chat, error)
	GetChatBySession(ctx context.Context, sessionID string) (*models.Chat, error)
	AddMessage(ctx context.Context, req models.AddChatMessageRequest) (*models.ChatUserMessage, error)
	SetMessageResponse(ctx context.Context, messageID, executionID string) error
	Heartbeat(ctx context.Context, chatID string) error
}

// stageStore narrows *store.StageExecutionStore to what this package calls.
type stageStore interface {
	Create(ctx context.Context, req models.CreateStageExecutionRequest) (*models.StageExecution, error)
	ListBySession(ctx context.Context, sessionID string) ([]*models.StageExecution, error)
	HasActiveChatExecution(ctx context.Context, chatID string) (bool, error)
	MaxStageIndexBySession(ctx context.Context, sessionID string) (int, error)
}

// executor runs one stage execution row to completion. Satisfied by
// *stageexec.Executor.
type executor interface {
	Execute(ctx context.Context, req stageexec.Request) (*stageexec.Outcome, error)
}

// Service resolves and runs chat turns.
type Service struct {
	cfg    *config.Config
	chats  chatStore
	stages stageStore
	exec   executor
	bus    eventbus.Bus
	log    *slog.Logger
}

func New(cfg *config.Config, chats chatStore, stages stageStore, exec executor, bus eventbus.Bus, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{cfg: cfg, chats: chats, stages: stages, exec: exec, bus: bus, log: log}
}

// SubmitResult is what Submit returns once a chat turn's stage execution
// has been created and handed off to run asynchronously.
type SubmitResult struct {
	ChatID      string
	MessageID   string
	ExecutionID string
}

// Submit validates that chat is available for session, gets or creates its
// chat, appends content as a new message, and kicks off the answering
// stage execution in the background. It returns as soon as the stage
// execution row exists — the caller (pkg/httpapi) responds 202 without
// waiting for the LLM call to finish, mirroring the teacher's
// ChatMessageExecutor.Submit.
func (s *Service) Submit(ctx context.Context, session *models.Session, content, author string) (*SubmitResult, error) {
	chainCfg, err := s.cfg.GetChain(session.ChainID)
	if err != nil {
		return nil, fmt.Errorf("chatservice: resolve chain %q: %w", session.ChainID, err)
	}
	chatCfg := effectiveChatConfig(chainCfg.Chat)
	if reason := isChatAvailable(session.Status, chainCfg.Chat); reason != "" {
		return nil, fmt.Errorf("%w: %s", ErrNotAvailable, reason)
	}

	chat, err := s.getOrCreateChat(ctx, session, author)
	if err != nil {
		return nil, fmt.Errorf("chatservice: get or create chat: %w", err)
	}

	active, err := s.stages.HasActiveChatExecution(ctx, chat.ChatID)
	if err != nil {
		return nil, fmt.Errorf("chatservice: check active execution: %w", err)
	}
	if active {
		return nil, ErrResponseInFlight
	}

	msg, err := s.chats.AddMessage(ctx, models.AddChatMessageRequest{ChatID: chat.ChatID, Content: content, Author: author})
	if err != nil {
		return nil, fmt.Errorf("chatservice: add message: %w", err)
	}

	row, req, err := s.createStageExecution(ctx, session, chainCfg, chatCfg, chat, msg)
	if err != nil {
		// The message was already persisted; leave it unanswered rather
		// than delete it, so a caller can retry by posting a new message
		// without losing the first one from the transcript. The teacher
		// instead deletes the orphaned message on this path — this module
		// prefers keeping the append-only log intact (see DESIGN.md).
		return nil, fmt.Errorf("chatservice: start stage execution: %w", err)
	}

	go s.run(row, req, msg)

	return &SubmitResult{ChatID: chat.ChatID, MessageID: msg.MessageID, ExecutionID: row.ExecutionID}, nil
}

// getOrCreateChat mirrors the teacher's GetOrCreateChat: try to open a new
// chat, and fall back to reading the existing one on the unique-constraint
// race (two concurrent first messages for the same session).
func (s *Service) getOrCreateChat(ctx context.Context, session *models.Session, author string) (*models.Chat, error) {
	existing, err := s.chats.GetChatBySession(ctx, session.SessionID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	created, err := s.chats.CreateChat(ctx, models.CreateChatRequest{SessionID: session.SessionID, CreatedBy: author}, session.ChainID)
	if err == nil {
		return created, nil
	}
	if errors.Is(err, store.ErrChatAlreadyExists) {
		return s.chats.GetChatBySession(ctx, session.SessionID)
	}
	return nil, err
}

// isChatAvailable reports why a session's chat cannot accept a new message
// right now, or "" if it can. Grounded on the teacher's
// handler_chat.go:isChatAvailable.
func isChatAvailable(status models.SessionStatus, chat *config.ChatConfig) string {
	switch {
	case status == models.SessionCancelled:
		return "chat is not available for cancelled sessions"
	case !status.IsTerminal():
		return "chat is not available while the session is still processing"
	case chat != nil && !chat.Enabled:
		return "chat is not enabled for this chain"
	default:
		return ""
	}
}

// effectiveChatConfig returns chain's chat configuration, defaulting to an
// enabled chat with no overrides when the chain declares none — chat is
// available by default, per isChatAvailable's comment above.
func effectiveChatConfig(chat *config.ChatConfig) *config.ChatConfig {
	if chat != nil {
		return chat
	}
	return &config.ChatConfig{Enabled: true}
}

// createStageExecution resolves the chat agent, builds its system prompt
// and MCP selection, creates the stage_execution row the turn runs as
// (appended after every investigation/chat stage_index so far, per the
// teacher's GetMaxStageIndex+1 convention), and assembles the
// stageexec.Request that will run it.
func (s *Service) createStageExecution(ctx context.Context, session *models.Session, chainCfg *config.ChainConfig, chatCfg *config.ChatConfig, chat *models.Chat, msg *models.ChatUserMessage) (*models.StageExecution, stageexec.Request, error) {
	resolved, err := agentconfig.ResolveChat(s.cfg, chainCfg, chatCfg)
	if err != nil {
		return nil, stageexec.Request{}, fmt.Errorf("resolve chat agent: %w", err)
	}

	serverIDs, toolFilter, err := resolveMCPSelection(session, resolved, s.cfg.MCPServerRegistry)
	if err != nil {
		return nil, stageexec.Request{}, fmt.Errorf("resolve mcp selection: %w", err)
	}

	rows, err := s.stages.ListBySession(ctx, session.SessionID)
	if err != nil {
		return nil, stageexec.Request{}, fmt.Errorf("list prior stage executions: %w", err)
	}
	previousOutputs := buildChatContext(rows)

	systemPrompt := agentconfig.BuildChatSystemPrompt(s.cfg, serverIDs, nil)

	maxIndex, err := s.stages.MaxStageIndexBySession(ctx, session.SessionID)
	if err != nil {
		return nil, stageexec.Request{}, fmt.Errorf("resolve next stage index: %w", err)
	}

	row, err := s.stages.Create(ctx, models.CreateStageExecutionRequest{
		SessionID:         session.SessionID,
		StageIndex:        maxIndex + 1,
		StageName:         "chat",
		Agent:             resolved.AgentName,
		IterationStrategy: string(resolved.IterationStrategy),
		ParallelType:      models.ParallelSingle,
		ChatID:            &chat.ChatID,
		ChatUserMessageID: &msg.MessageID,
	})
	if err != nil {
		return nil, stageexec.Request{}, fmt.Errorf("create stage execution: %w", err)
	}

	req := stageexec.Request{
		ExecutionID:          row.ExecutionID,
		SessionID:            session.SessionID,
		StageName:            row.StageName,
		AlertPayload:         session.AlertPayload,
		PreviousStageOutputs: previousOutputs,
		SystemPrompt:         systemPrompt,
		Resolved:             resolved,
		MCPServers:           serverIDs,
		ToolFilter:           toolFilter,
		SessionStartedAtUs:   time.Now().UnixMicro(),
		SessionTimeout:       stageTimeout(resolved),
	}
	return row, req, nil
}

// run executes a chat turn's stage execution to completion and records the
// response link, logging (never failing the caller, since this runs
// detached in the background) on any error.
func (s *Service) run(row *models.StageExecution, req stageexec.Request, msg *models.ChatUserMessage) {
	ctx := context.Background()

	outcome, err := s.exec.Execute(ctx, req)
	if err != nil {
		s.log.Error("chat turn execution failed", "execution_id", row.ExecutionID, "chat_id", *row.ChatID, "error", err)
		return
	}

	if err := s.chats.SetMessageResponse(ctx, msg.MessageID, row.ExecutionID); err != nil {
		s.log.Error("recording chat message response failed", "message_id", msg.MessageID, "execution_id", row.ExecutionID, "error", err)
	}
	if err := s.chats.Heartbeat(ctx, *row.ChatID); err != nil {
		s.log.Warn("chat heartbeat failed", "chat_id", *row.ChatID, "error", err)
	}

	if s.bus != nil {
		payload := map[string]any{"type": "chat_response", "execution_id": row.ExecutionID, "message_id": msg.MessageID, "status": string(outcome.Status)}
		_, _ = s.bus.Publish(ctx, models.SessionChannel(row.SessionID), payload)
	}
}

// buildChatContext renders a session's investigation + prior chat history
// as the "previous stage outputs" text a chat turn's prompt is grounded
// on, mirroring the teacher's buildChatContext: every completed
// non-chat stage's output, followed by each earlier chat turn's answer in
// order.
func buildChatContext(rows []*models.StageExecution) string {
	var investigation, history []string
	for _, r := range rows {
		if r.Status != models.StageExecutionCompleted || r.StageOutput == nil {
			continue
		}
		if r.ChatID != nil {
			history = append(history, strings.TrimSpace(*r.StageOutput))
			continue
		}
		investigation = append(investigation, fmt.Sprintf("### %s\n%s", r.StageName, strings.TrimSpace(*r.StageOutput)))
	}

	var sb strings.Builder
	sb.WriteString("## Investigation\n\n")
	sb.WriteString(strings.Join(investigation, "\n\n"))
	if len(history) > 0 {
		sb.WriteString("\n\n## Prior Chat Responses\n\n")
		sb.WriteString(strings.Join(history, "\n\n"))
	}
	return sb.String()
}

// stageTimeout bounds how long one chat turn's LLM/tool loop may run. A
// chat turn has no outer session timeout to share (the investigation's own
// session already reached a terminal status before chat opens), so the
// stage cap applies on its own.
func stageTimeout(r *agentconfig.Resolved) time.Duration {
	return time.Duration(r.MaxIterations) * r.IterationTimeout
}
