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

// ErrChatAlreadyExists is returned by CreateChat when the session already
// has a chat — spec.md §3's "a session may have at most one chat" invariant,
// enforced by a unique index on chats(session_id).
var ErrChatAlreadyExists = errors.New("store: session already has a chat")

// ChatStore is the repository for models.Chat and models.ChatUserMessage.
type ChatStore struct {
	pool *pgxpool.Pool
}

// CreateChat opens a session's chat. Fails with ErrChatAlreadyExists if one
// already exists for this session.
func (s *ChatStore) CreateChat(ctx context.Context, req models.CreateChatRequest, chainID string) (*models.Chat, error) {
	now := NowMicros()
	chat := &models.Chat{
		ChatID:              uuid.NewString(),
		SessionID:           req.SessionID,
		CreatedAtUs:         now,
		ChainID:             chainID,
		LastInteractionAtUs: now,
	}
	if req.CreatedBy != "" {
		chat.CreatedBy = &req.CreatedBy
	}

	err := WithRetry(ctx, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO chats (chat_id, session_id, created_at_us, created_by, chain_id, last_interaction_at_us)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			chat.ChatID, chat.SessionID, chat.CreatedAtUs, chat.CreatedBy, chat.ChainID, chat.LastInteractionAtUs,
		)
		return err
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrChatAlreadyExists
		}
		return nil, fmt.Errorf("inserting chat: %w", err)
	}
	return chat, nil
}

// GetChatBySession returns the chat for a session, if any.
func (s *ChatStore) GetChatBySession(ctx context.Context, sessionID string) (*models.Chat, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT chat_id, session_id, created_at_us, created_by, chain_id, last_interaction_at_us
		FROM chats WHERE session_id = $1`, sessionID)
	return scanChat(row)
}

// GetChat fetches a chat by ID.
func (s *ChatStore) GetChat(ctx context.Context, chatID string) (*models.Chat, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT chat_id, session_id, created_at_us, created_by, chain_id, last_interaction_at_us
		FROM chats WHERE chat_id = $1`, chatID)
	return scanChat(row)
}

// Heartbeat bumps a chat's last_interaction_at_us, for the same orphan
// detection treatment sessions get.
func (s *ChatStore) Heartbeat(ctx context.Context, chatID string) error {
	return WithRetry(ctx, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx,
			`UPDATE chats SET last_interaction_at_us = $1 WHERE chat_id = $2`, NowMicros(), chatID)
		return err
	})
}

// AddMessage appends a user message to a chat's append-only message list.
func (s *ChatStore) AddMessage(ctx context.Context, req models.AddChatMessageRequest) (*models.ChatUserMessage, error) {
	msg := &models.ChatUserMessage{
		MessageID:   uuid.NewString(),
		ChatID:      req.ChatID,
		Content:     req.Content,
		Author:      req.Author,
		CreatedAtUs: NowMicros(),
	}

	err := WithRetry(ctx, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO chat_user_messages (message_id, chat_id, content, author, created_at_us)
			VALUES ($1,$2,$3,$4,$5)`,
			msg.MessageID, msg.ChatID, msg.Content, msg.Author, msg.CreatedAtUs,
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("inserting chat user message: %w", err)
	}
	return msg, nil
}

// SetMessageResponse records which stage execution answered a chat message.
func (s *ChatStore) SetMessageResponse(ctx context.Context, messageID, executionID string) error {
	return WithRetry(ctx, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx,
			`UPDATE chat_user_messages SET response_execution_id = $1 WHERE message_id = $2`,
			executionID, messageID)
		return err
	})
}

// ListMessages returns a chat's messages in insertion order.
func (s *ChatStore) ListMessages(ctx context.Context, chatID string) ([]*models.ChatUserMessage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT message_id, chat_id, content, author, created_at_us, response_execution_id
		FROM chat_user_messages WHERE chat_id = $1 ORDER BY created_at_us ASC`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.ChatUserMessage
	for rows.Next() {
		var m models.ChatUserMessage
		if err := rows.Scan(&m.MessageID, &m.ChatID, &m.Content, &m.Author, &m.CreatedAtUs, &m.ResponseExecutionID); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func scanChat(row rowScanner) (*models.Chat, error) {
	var c models.Chat
	err := row.Scan(&c.ChatID, &c.SessionID, &c.CreatedAtUs, &c.CreatedBy, &c.ChainID, &c.LastInteractionAtUs)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}
