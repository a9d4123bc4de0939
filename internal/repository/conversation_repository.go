package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"converta/internal/entities"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ConversationRepository struct {
	db *pgxpool.Pool
}

func NewConversationRepository(db *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// EncodeTranscript renders messages as the stored JSON array
func EncodeTranscript(messages []entities.ChatMessage) ([]byte, error) {
	if messages == nil {
		messages = []entities.ChatMessage{}
	}
	return json.Marshal(messages)
}

// DecodeTranscript parses the stored JSON array; an empty column is an empty transcript
func DecodeTranscript(data []byte) ([]entities.ChatMessage, error) {
	messages := []entities.ChatMessage{}
	if len(data) == 0 {
		return messages, nil
	}
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, fmt.Errorf("decode transcript: %w", err)
	}
	return messages, nil
}

func scanConversation(row rowScanner) (*entities.Conversation, error) {
	var c entities.Conversation
	var raw []byte
	if err := row.Scan(&c.ID, &c.AgentID, &c.SessionID, &raw, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, translate(err)
	}
	messages, err := DecodeTranscript(raw)
	if err != nil {
		return nil, err
	}
	c.Messages = messages
	return &c, nil
}

// Get looks a conversation up by its compound key
func (r *ConversationRepository) Get(ctx context.Context, agentID, sessionID string) (*entities.Conversation, error) {
	return scanConversation(r.db.QueryRow(ctx, `
		SELECT id, agent_id, session_id, messages, created_at, updated_at
		FROM conversations WHERE agent_id = $1 AND session_id = $2
	`, agentID, sessionID))
}

// Upsert writes the full message array in a single statement, creating the
// row when absent.
func (r *ConversationRepository) Upsert(ctx context.Context, agentID, sessionID string, messages []entities.ChatMessage) (*entities.Conversation, error) {
	raw, err := EncodeTranscript(messages)
	if err != nil {
		return nil, err
	}
	return scanConversation(r.db.QueryRow(ctx, `
		INSERT INTO conversations (id, agent_id, session_id, messages)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (agent_id, session_id)
		DO UPDATE SET messages = EXCLUDED.messages, updated_at = NOW()
		RETURNING id, agent_id, session_id, messages, created_at, updated_at
	`, uuid.NewString(), agentID, sessionID, raw))
}

// GetByID returns a conversation whose agent belongs to userID
func (r *ConversationRepository) GetByID(ctx context.Context, userID int, id string) (*entities.Conversation, error) {
	return scanConversation(r.db.QueryRow(ctx, `
		SELECT c.id, c.agent_id, c.session_id, c.messages, c.created_at, c.updated_at
		FROM conversations c JOIN agents a ON a.id = c.agent_id
		WHERE c.id = $1 AND a.user_id = $2
	`, id, userID))
}

// ListByUser returns the most recently updated conversations, optionally for one agent
func (r *ConversationRepository) ListByUser(ctx context.Context, userID int, agentID string, limit int) ([]entities.Conversation, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.db.Query(ctx, `
		SELECT c.id, c.agent_id, c.session_id, c.messages, c.created_at, c.updated_at
		FROM conversations c JOIN agents a ON a.id = c.agent_id
		WHERE a.user_id = $1 AND ($2 = '' OR c.agent_id::text = $2)
		ORDER BY c.updated_at DESC
		LIMIT $3
	`, userID, agentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	conversations := []entities.Conversation{}
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, *c)
	}
	return conversations, rows.Err()
}

func (r *ConversationRepository) CountByUser(ctx context.Context, userID int) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM conversations c JOIN agents a ON a.id = c.agent_id WHERE a.user_id = $1
	`, userID).Scan(&n)
	return n, err
}
