// Package triggers evaluates free-text trigger conditions against incoming
// CRM events with one batched LLM call and runs the actions of the triggers
// that match.
package triggers

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/worldwideservice/ai-agent-platform-sub002/internal/automation"
)

// Trigger is a single condition→actions rule owned by an agent.
type Trigger struct {
	ID            uuid.UUID
	AgentID       uuid.UUID
	Name          string
	Condition     string
	IsActive      bool
	CancelMessage string
	RunLimit      int
	Actions       []automation.Action
}

// Counter tracks how many times a trigger fired in a chat.
type Counter interface {
	Count(ctx context.Context, triggerID uuid.UUID, chatID string) (int, error)
	Increment(ctx context.Context, triggerID uuid.UUID, chatID string) (int, error)
}

// MemoryCounter keeps counts in process memory. Counts are neither shared
// between processes nor kept across restarts.
type MemoryCounter struct {
	mu     sync.Mutex
	counts map[counterKey]int
}

type counterKey struct {
	triggerID uuid.UUID
	chatID    string
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{counts: make(map[counterKey]int)}
}

func (m *MemoryCounter) Count(_ context.Context, triggerID uuid.UUID, chatID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[counterKey{triggerID, chatID}], nil
}

func (m *MemoryCounter) Increment(_ context.Context, triggerID uuid.UUID, chatID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := counterKey{triggerID, chatID}
	m.counts[k]++
	return m.counts[k], nil
}

// PostgresCounter persists counts with an atomic upsert.
type PostgresCounter struct {
	pool *pgxpool.Pool
}

func NewPostgresCounter(pool *pgxpool.Pool) *PostgresCounter {
	return &PostgresCounter{pool: pool}
}

func (p *PostgresCounter) Count(ctx context.Context, triggerID uuid.UUID, chatID string) (int, error) {
	var count int
	err := p.pool.QueryRow(ctx, `
		SELECT COALESCE((
			SELECT count FROM trigger_execution_counters
			WHERE trigger_id = $1 AND chat_id = $2
		), 0)`, triggerID, chatID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("read trigger counter: %w", err)
	}
	return count, nil
}

func (p *PostgresCounter) Increment(ctx context.Context, triggerID uuid.UUID, chatID string) (int, error) {
	var count int
	err := p.pool.QueryRow(ctx, `
		INSERT INTO trigger_execution_counters (trigger_id, chat_id, count, updated_at)
		VALUES ($1, $2, 1, now())
		ON CONFLICT (trigger_id, chat_id) DO UPDATE
		SET count = trigger_execution_counters.count + 1, updated_at = now()
		RETURNING count`, triggerID, chatID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("increment trigger counter: %w", err)
	}
	return count, nil
}

// NewCounter selects the counter store by name ("memory" or "postgres").
func NewCounter(kind string, pool *pgxpool.Pool) Counter {
	if kind == "memory" {
		return NewMemoryCounter()
	}
	return NewPostgresCounter(pool)
}
