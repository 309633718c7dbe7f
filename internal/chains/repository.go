package chains

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/worldwideservice/ai-agent-platform-sub002/internal/automation"
)

// Repository is the Postgres Store.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) ListActiveChains(ctx context.Context, agentID uuid.UUID) ([]Chain, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, agent_id, name, is_active, condition_type, run_limit
		FROM chains
		WHERE agent_id = $1 AND is_active
		ORDER BY created_at ASC`, agentID)
	if err != nil {
		return nil, fmt.Errorf("list chains: %w", err)
	}
	chains, err := pgx.CollectRows(rows, scanChain)
	if err != nil {
		return nil, fmt.Errorf("list chains: %w", err)
	}
	if err := r.loadChildren(ctx, chains); err != nil {
		return nil, err
	}
	return chains, nil
}

func (r *Repository) GetChain(ctx context.Context, chainID uuid.UUID) (Chain, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, agent_id, name, is_active, condition_type, run_limit
		FROM chains
		WHERE id = $1`, chainID)
	if err != nil {
		return Chain{}, fmt.Errorf("get chain: %w", err)
	}
	chains, err := pgx.CollectRows(rows, scanChain)
	if err != nil {
		return Chain{}, fmt.Errorf("get chain: %w", err)
	}
	if len(chains) == 0 {
		return Chain{}, ErrChainNotFound
	}
	if err := r.loadChildren(ctx, chains); err != nil {
		return Chain{}, err
	}
	return chains[0], nil
}

func scanChain(row pgx.CollectableRow) (Chain, error) {
	var c Chain
	var condition string
	err := row.Scan(&c.ID, &c.AgentID, &c.Name, &c.IsActive, &condition, &c.RunLimit)
	c.ConditionType = ConditionType(condition)
	return c, err
}

// loadChildren fills stages, schedules and ordered steps with their actions.
func (r *Repository) loadChildren(ctx context.Context, chains []Chain) error {
	if len(chains) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(chains))
	byID := make(map[uuid.UUID]*Chain, len(chains))
	for i := range chains {
		ids[i] = chains[i].ID
		byID[chains[i].ID] = &chains[i]
	}

	rows, err := r.pool.Query(ctx, `
		SELECT chain_id, pipeline_id, stage_id FROM chain_stages WHERE chain_id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("load chain stages: %w", err)
	}
	for rows.Next() {
		var chainID uuid.UUID
		var ref StageRef
		if err := rows.Scan(&chainID, &ref.PipelineID, &ref.StageID); err != nil {
			rows.Close()
			return fmt.Errorf("scan chain stage: %w", err)
		}
		byID[chainID].Stages = append(byID[chainID].Stages, ref)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load chain stages: %w", err)
	}

	rows, err = r.pool.Query(ctx, `
		SELECT chain_id, day_of_week, enabled, start_time, end_time
		FROM chain_schedules WHERE chain_id = ANY($1)
		ORDER BY day_of_week`, ids)
	if err != nil {
		return fmt.Errorf("load chain schedules: %w", err)
	}
	for rows.Next() {
		var chainID uuid.UUID
		var day int16
		var ds DaySchedule
		if err := rows.Scan(&chainID, &day, &ds.Enabled, &ds.Start, &ds.End); err != nil {
			rows.Close()
			return fmt.Errorf("scan chain schedule: %w", err)
		}
		ds.Day = time.Weekday(day)
		byID[chainID].Schedule = append(byID[chainID].Schedule, ds)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load chain schedules: %w", err)
	}

	rows, err = r.pool.Query(ctx, `
		SELECT s.chain_id, s.id, s.step_order, s.delay_value, s.delay_unit, a.action_type, a.params
		FROM chain_steps s
		LEFT JOIN chain_step_actions a ON a.step_id = s.id
		WHERE s.chain_id = ANY($1)
		ORDER BY s.chain_id, s.step_order, a.position`, ids)
	if err != nil {
		return fmt.Errorf("load chain steps: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			chainID    uuid.UUID
			step       Step
			unit       string
			actionType *string
			params     []byte
		)
		if err := rows.Scan(&chainID, &step.ID, &step.Order, &step.DelayValue, &unit, &actionType, &params); err != nil {
			return fmt.Errorf("scan chain step: %w", err)
		}
		step.DelayUnit = automation.Unit(unit)

		c := byID[chainID]
		if n := len(c.Steps); n == 0 || c.Steps[n-1].ID != step.ID {
			c.Steps = append(c.Steps, step)
		}
		if actionType == nil {
			continue
		}
		parsed, err := automation.ParseParams(params)
		if err != nil {
			return fmt.Errorf("step %s action params: %w", step.ID, err)
		}
		last := &c.Steps[len(c.Steps)-1]
		last.Actions = append(last.Actions, automation.Action{Type: automation.ActionType(*actionType), Params: parsed})
	}
	return rows.Err()
}

func (r *Repository) CountRuns(ctx context.Context, chainID uuid.UUID, leadID int64) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM chain_runs WHERE chain_id = $1 AND lead_id = $2`,
		chainID, leadID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count runs: %w", err)
	}
	return count, nil
}

func (r *Repository) ClaimRun(ctx context.Context, run Run) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO chain_runs (id, chain_id, lead_id, contact_id, chat_id, integration_id, agent_id, status, current_step, started_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'running', 0, $8, $8)
		ON CONFLICT (chain_id, lead_id) WHERE status = 'running' DO NOTHING`,
		run.ID, run.ChainID, run.LeadID, run.ContactID, run.ChatID, run.IntegrationID, run.AgentID, run.StartedAt,
	)
	if err != nil {
		return false, fmt.Errorf("claim run: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

const runColumns = `id, chain_id, lead_id, contact_id, chat_id, integration_id, agent_id,
	status, current_step, COALESCE(cancel_reason, ''), started_at, finished_at`

func scanRun(row pgx.CollectableRow) (Run, error) {
	var run Run
	var status string
	err := row.Scan(&run.ID, &run.ChainID, &run.LeadID, &run.ContactID, &run.ChatID, &run.IntegrationID, &run.AgentID,
		&status, &run.CurrentStep, &run.CancelReason, &run.StartedAt, &run.FinishedAt)
	run.Status = RunStatus(status)
	return run, err
}

func (r *Repository) GetRun(ctx context.Context, runID uuid.UUID) (Run, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+runColumns+` FROM chain_runs WHERE id = $1`, runID)
	if err != nil {
		return Run{}, fmt.Errorf("get run: %w", err)
	}
	run, err := pgx.CollectExactlyOneRow(rows, scanRun)
	if errors.Is(err, pgx.ErrNoRows) {
		return Run{}, ErrRunNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

func (r *Repository) ListRunningRuns(ctx context.Context, integrationID uuid.UUID, leadID int64) ([]Run, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+runColumns+`
		FROM chain_runs
		WHERE integration_id = $1 AND lead_id = $2 AND status = 'running'`,
		integrationID, leadID)
	if err != nil {
		return nil, fmt.Errorf("list running runs: %w", err)
	}
	runs, err := pgx.CollectRows(rows, scanRun)
	if err != nil {
		return nil, fmt.Errorf("list running runs: %w", err)
	}
	return runs, nil
}

func (r *Repository) AdvanceRun(ctx context.Context, runID uuid.UUID, currentStep int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE chain_runs SET current_step = $2, updated_at = now()
		WHERE id = $1 AND status = 'running'`, runID, currentStep)
	if err != nil {
		return fmt.Errorf("advance run: %w", err)
	}
	return nil
}

func (r *Repository) CompleteRun(ctx context.Context, runID uuid.UUID, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE chain_runs SET status = 'completed', finished_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'running'
		AND NOT EXISTS (
			SELECT 1 FROM scheduled_chain_steps
			WHERE chain_run_id = $1 AND status = 'pending'
		)`, runID, at)
	if err != nil {
		return false, fmt.Errorf("complete run: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) CancelRun(ctx context.Context, runID uuid.UUID, reason string, at time.Time) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin cancel: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE chain_runs SET status = 'cancelled', cancel_reason = $2, finished_at = $3, updated_at = $3
		WHERE id = $1 AND status = 'running'`, runID, reason, at)
	if err != nil {
		return 0, fmt.Errorf("cancel run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM chain_runs WHERE id = $1)`, runID).Scan(&exists); err != nil {
			return 0, fmt.Errorf("cancel run: %w", err)
		}
		if !exists {
			return 0, ErrRunNotFound
		}
		return 0, fmt.Errorf("%w: run is not running", ErrInvalidTransition)
	}

	tag, err = tx.Exec(ctx, `
		UPDATE scheduled_chain_steps SET status = 'cancelled', locked_until = NULL, updated_at = $2
		WHERE chain_run_id = $1 AND status = 'pending'`, runID, at)
	if err != nil {
		return 0, fmt.Errorf("cancel pending steps: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit cancel: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *Repository) ScheduleStep(ctx context.Context, step ScheduledStep) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO scheduled_chain_steps (id, chain_run_id, step_id, execute_at, status)
		VALUES ($1, $2, $3, $4, 'pending')`,
		step.ID, step.RunID, step.StepID, step.ExecuteAt)
	if err != nil {
		return fmt.Errorf("schedule step: %w", err)
	}
	return nil
}

// ClaimDueSteps leases due steps with FOR UPDATE SKIP LOCKED, so concurrent
// sweepers never pick the same step while its lease holds.
func (r *Repository) ClaimDueSteps(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]ScheduledStep, error) {
	rows, err := r.pool.Query(ctx, `
		WITH due AS (
			SELECT id FROM scheduled_chain_steps
			WHERE status = 'pending'
			  AND execute_at <= $1
			  AND (locked_until IS NULL OR locked_until < $1)
			ORDER BY execute_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE scheduled_chain_steps s
		SET locked_until = $3, updated_at = $1
		FROM due
		WHERE s.id = due.id
		RETURNING s.id, s.chain_run_id, s.step_id, s.execute_at, s.status`,
		now, limit, now.Add(lease))
	if err != nil {
		return nil, fmt.Errorf("claim due steps: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (ScheduledStep, error) {
		var s ScheduledStep
		var status string
		err := row.Scan(&s.ID, &s.RunID, &s.StepID, &s.ExecuteAt, &status)
		s.Status = StepStatus(status)
		return s, err
	})
}

func (r *Repository) FinishStep(ctx context.Context, stepID uuid.UUID, status StepStatus, errMsg string, at time.Time) error {
	var executedAt *time.Time
	if status == StepExecuted {
		executedAt = &at
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE scheduled_chain_steps
		SET status = $2, last_error = NULLIF($3, ''), executed_at = $4, locked_until = NULL, updated_at = $5
		WHERE id = $1 AND status = 'pending'`,
		stepID, string(status), errMsg, executedAt, at)
	if err != nil {
		return fmt.Errorf("finish step: %w", err)
	}
	return nil
}

func (r *Repository) RescheduleStep(ctx context.Context, stepID uuid.UUID, executeAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE scheduled_chain_steps
		SET execute_at = $2, locked_until = NULL, updated_at = now()
		WHERE id = $1 AND status = 'pending'`, stepID, executeAt)
	if err != nil {
		return fmt.Errorf("reschedule step: %w", err)
	}
	return nil
}

func (r *Repository) ListScheduledSteps(ctx context.Context, runID uuid.UUID) ([]ScheduledStep, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, chain_run_id, step_id, execute_at, status, executed_at, COALESCE(last_error, '')
		FROM scheduled_chain_steps
		WHERE chain_run_id = $1
		ORDER BY execute_at ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("list scheduled steps: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (ScheduledStep, error) {
		var s ScheduledStep
		var status string
		err := row.Scan(&s.ID, &s.RunID, &s.StepID, &s.ExecuteAt, &status, &s.ExecutedAt, &s.LastError)
		s.Status = StepStatus(status)
		return s, err
	})
}

var _ Store = (*Repository)(nil)
