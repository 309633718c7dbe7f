// Package conversation keeps per-chat message history and produces the
// agent's conversational replies.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Role string

const (
	RoleClient    Role = "client"
	RoleAssistant Role = "assistant"
	RoleOperator  Role = "operator"
)

// Message is one history entry. SourceID identifies the webhook message it
// was recorded from; appending the same source twice keeps the first entry.
type Message struct {
	IntegrationID uuid.UUID
	ChatID        string
	LeadID        int64
	Role          Role
	Body          string
	CreatedAt     time.Time
	SourceID      string
}

// History is the message log of every chat.
type History interface {
	Append(ctx context.Context, msg Message) error
	// Recent returns up to n most recent messages of the chat, oldest first.
	Recent(ctx context.Context, integrationID uuid.UUID, chatID string, n int) ([]Message, error)
}

// Repository stores history in Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Append(ctx context.Context, msg Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO conversation_messages (integration_id, chat_id, lead_id, role, body, created_at, source_id)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))
		ON CONFLICT DO NOTHING`,
		msg.IntegrationID, msg.ChatID, msg.LeadID, string(msg.Role), msg.Body, msg.CreatedAt, msg.SourceID)
	if err != nil {
		return fmt.Errorf("append conversation message: %w", err)
	}
	return nil
}

func (r *Repository) Recent(ctx context.Context, integrationID uuid.UUID, chatID string, n int) ([]Message, error) {
	if n <= 0 || chatID == "" {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT integration_id, chat_id, lead_id, role, body, created_at, COALESCE(source_id, '')
		FROM conversation_messages
		WHERE integration_id = $1 AND chat_id = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3`, integrationID, chatID, n)
	if err != nil {
		return nil, fmt.Errorf("query conversation: %w", err)
	}
	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Message, error) {
		var m Message
		var role string
		err := row.Scan(&m.IntegrationID, &m.ChatID, &m.LeadID, &role, &m.Body, &m.CreatedAt, &m.SourceID)
		m.Role = Role(role)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	slices.Reverse(msgs)
	return msgs, nil
}

// Recorder appends outbound assistant messages to a History.
type Recorder struct {
	History History
}

func (r Recorder) RecordAssistant(ctx context.Context, integrationID uuid.UUID, chatID string, leadID int64, body string) error {
	if chatID == "" {
		return nil
	}
	return r.History.Append(ctx, Message{
		IntegrationID: integrationID,
		ChatID:        chatID,
		LeadID:        leadID,
		Role:          RoleAssistant,
		Body:          body,
		CreatedAt:     time.Now().UTC(),
	})
}

// ChatForLead returns the most recently used chat of the lead, or "" when
// the lead never wrote.
func (r *Repository) ChatForLead(ctx context.Context, integrationID uuid.UUID, leadID int64) (string, error) {
	var chatID string
	err := r.pool.QueryRow(ctx, `
		SELECT chat_id FROM conversation_messages
		WHERE integration_id = $1 AND lead_id = $2
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, integrationID, leadID).Scan(&chatID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("find chat for lead: %w", err)
	}
	return chatID, nil
}
