// Package agents resolves which AI agent handles a lead and exposes its
// handoff settings.
package agents

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/worldwideservice/ai-agent-platform-sub002/internal/automation"
)

// ErrNoAgent is returned when no active agent serves the pipeline.
var ErrNoAgent = errors.New("no active agent for integration")

type Agent struct {
	ID                   uuid.UUID
	IntegrationID        uuid.UUID
	Name                 string
	IsActive             bool
	SystemPrompt         string
	PipelineIDs          []int64
	PauseOnOperatorReply bool
	AutoResumeEnabled    bool
	AutoResumeValue      int
	AutoResumeUnit       automation.Unit
}

// AutoResumeAfter returns how long a pause lasts before it lapses.
// ok is false when pauses never expire on their own.
func (a Agent) AutoResumeAfter() (time.Duration, bool) {
	if !a.AutoResumeEnabled || a.AutoResumeValue <= 0 {
		return 0, false
	}
	d, err := automation.Duration(a.AutoResumeValue, a.AutoResumeUnit)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}

// Serves reports whether the agent handles leads of pipelineID. An agent
// without configured pipelines serves all of them.
func (a Agent) Serves(pipelineID int64) bool {
	if len(a.PipelineIDs) == 0 || pipelineID == 0 {
		return true
	}
	return slices.Contains(a.PipelineIDs, pipelineID)
}

// Repository reads agents from Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const agentColumns = `id, integration_id, name, is_active, system_prompt, pipeline_ids,
	pause_on_operator_reply, auto_resume_enabled, auto_resume_value, auto_resume_unit`

func scanAgent(row pgx.Row) (Agent, error) {
	var a Agent
	var unit string
	err := row.Scan(&a.ID, &a.IntegrationID, &a.Name, &a.IsActive, &a.SystemPrompt, &a.PipelineIDs,
		&a.PauseOnOperatorReply, &a.AutoResumeEnabled, &a.AutoResumeValue, &unit)
	a.AutoResumeUnit = automation.Unit(unit)
	return a, err
}

// GetAgent loads one agent by id.
func (r *Repository) GetAgent(ctx context.Context, id uuid.UUID) (Agent, error) {
	a, err := scanAgent(r.pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Agent{}, ErrNoAgent
	}
	if err != nil {
		return Agent{}, fmt.Errorf("get agent: %w", err)
	}
	return a, nil
}

// ResolveAgent picks the active agent of the integration serving pipelineID.
// Agents bound to the pipeline win over catch-all agents; ties go to the
// oldest agent.
func (r *Repository) ResolveAgent(ctx context.Context, integrationID uuid.UUID, pipelineID int64) (Agent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+agentColumns+`
		FROM agents
		WHERE integration_id = $1 AND is_active
		ORDER BY created_at ASC`, integrationID)
	if err != nil {
		return Agent{}, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var candidates []Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return Agent{}, fmt.Errorf("scan agent: %w", err)
		}
		candidates = append(candidates, a)
	}
	if err := rows.Err(); err != nil {
		return Agent{}, fmt.Errorf("list agents: %w", err)
	}

	return pick(candidates, pipelineID)
}

func pick(candidates []Agent, pipelineID int64) (Agent, error) {
	var fallback *Agent
	for i := range candidates {
		a := candidates[i]
		if !a.IsActive || !a.Serves(pipelineID) {
			continue
		}
		if len(a.PipelineIDs) > 0 {
			return a, nil
		}
		if fallback == nil {
			fallback = &candidates[i]
		}
	}
	if fallback != nil {
		return *fallback, nil
	}
	return Agent{}, ErrNoAgent
}
