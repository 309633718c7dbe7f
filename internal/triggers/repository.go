package triggers

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/worldwideservice/ai-agent-platform-sub002/internal/automation"
)

// Repository reads trigger definitions from Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListActive returns the agent's active triggers with their ordered actions.
func (r *Repository) ListActive(ctx context.Context, agentID uuid.UUID) ([]Trigger, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT t.id, t.agent_id, t.name, t.condition, t.is_active, t.cancel_message, t.run_limit,
			a.action_type, a.params
		FROM triggers t
		LEFT JOIN trigger_actions a ON a.trigger_id = t.id
		WHERE t.agent_id = $1 AND t.is_active
		ORDER BY t.created_at ASC, t.id, a.position ASC`, agentID)
	if err != nil {
		return nil, fmt.Errorf("list triggers: %w", err)
	}
	defer rows.Close()

	var out []Trigger
	index := make(map[uuid.UUID]int)
	for rows.Next() {
		var (
			t          Trigger
			actionType *string
			params     []byte
		)
		if err := rows.Scan(&t.ID, &t.AgentID, &t.Name, &t.Condition, &t.IsActive, &t.CancelMessage, &t.RunLimit, &actionType, &params); err != nil {
			return nil, fmt.Errorf("scan trigger: %w", err)
		}

		i, seen := index[t.ID]
		if !seen {
			out = append(out, t)
			i = len(out) - 1
			index[t.ID] = i
		}
		if actionType == nil {
			continue
		}
		parsed, err := automation.ParseParams(params)
		if err != nil {
			return nil, fmt.Errorf("trigger %s action params: %w", t.ID, err)
		}
		out[i].Actions = append(out[i].Actions, automation.Action{Type: automation.ActionType(*actionType), Params: parsed})
	}
	return out, rows.Err()
}
