package chains

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the authoritative state of chains, runs and scheduled steps.
type Store interface {
	ListActiveChains(ctx context.Context, agentID uuid.UUID) ([]Chain, error)
	GetChain(ctx context.Context, chainID uuid.UUID) (Chain, error)

	// CountRuns counts every run of the chain for the lead, finished or not.
	CountRuns(ctx context.Context, chainID uuid.UUID, leadID int64) (int, error)
	// ClaimRun inserts run as running. It returns false, without error, when
	// another running run of the same chain already exists for the lead.
	ClaimRun(ctx context.Context, run Run) (bool, error)
	GetRun(ctx context.Context, runID uuid.UUID) (Run, error)
	ListRunningRuns(ctx context.Context, integrationID uuid.UUID, leadID int64) ([]Run, error)
	AdvanceRun(ctx context.Context, runID uuid.UUID, currentStep int) error
	// CompleteRun moves a running run without pending steps to completed.
	CompleteRun(ctx context.Context, runID uuid.UUID, at time.Time) (bool, error)
	// CancelRun cancels a running run and all of its pending steps atomically.
	// It returns the number of steps cancelled.
	CancelRun(ctx context.Context, runID uuid.UUID, reason string, at time.Time) (int, error)

	ScheduleStep(ctx context.Context, step ScheduledStep) error
	// ClaimDueSteps leases up to limit pending steps with executeAt <= now.
	ClaimDueSteps(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]ScheduledStep, error)
	FinishStep(ctx context.Context, stepID uuid.UUID, status StepStatus, errMsg string, at time.Time) error
	RescheduleStep(ctx context.Context, stepID uuid.UUID, executeAt time.Time) error
	ListScheduledSteps(ctx context.Context, runID uuid.UUID) ([]ScheduledStep, error)
}
