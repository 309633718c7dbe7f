package handoff

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Upsert(ctx context.Context, rec Record) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO agent_pause_records (integration_id, lead_id, agent_id, paused_by_user_id, paused_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (integration_id, lead_id) DO UPDATE
		SET agent_id = EXCLUDED.agent_id,
			paused_by_user_id = EXCLUDED.paused_by_user_id,
			paused_at = EXCLUDED.paused_at`,
		rec.IntegrationID, rec.LeadID, rec.AgentID, rec.PausedByUserID, rec.PausedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert pause record: %w", err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, integrationID uuid.UUID, leadID int64) (Record, bool, error) {
	var rec Record
	err := r.pool.QueryRow(ctx, `
		SELECT integration_id, lead_id, agent_id, paused_by_user_id, paused_at
		FROM agent_pause_records
		WHERE integration_id = $1 AND lead_id = $2`,
		integrationID, leadID,
	).Scan(&rec.IntegrationID, &rec.LeadID, &rec.AgentID, &rec.PausedByUserID, &rec.PausedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("get pause record: %w", err)
	}
	return rec, true, nil
}

func (r *Repository) Delete(ctx context.Context, integrationID uuid.UUID, leadID int64) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM agent_pause_records
		WHERE integration_id = $1 AND lead_id = $2`,
		integrationID, leadID,
	)
	if err != nil {
		return false, fmt.Errorf("delete pause record: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
