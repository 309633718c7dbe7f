package chains

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrRunNotFound       = errors.New("chain run not found")
	ErrChainNotFound     = errors.New("chain not found")
	ErrInvalidTransition = errors.New("invalid chain run transition")
)

// RunStatus is the state of a ChainRun. StatusPending exists only in memory,
// between gating and the claim insert.
type RunStatus string

const (
	StatusPending   RunStatus = "pending-start"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusCancelled RunStatus = "cancelled"
)

var transitions = map[RunStatus][]RunStatus{
	StatusPending: {StatusRunning},
	StatusRunning: {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether the state machine allows s → to.
func (s RunStatus) CanTransition(to RunStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions exist.
func (s RunStatus) Terminal() bool {
	return len(transitions[s]) == 0
}

func checkTransition(from, to RunStatus) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepExecuted  StepStatus = "executed"
	StepCancelled StepStatus = "cancelled"
	StepFailed    StepStatus = "failed"
)

// Run is one execution of a chain for one lead.
type Run struct {
	ID            uuid.UUID  `json:"id"`
	ChainID       uuid.UUID  `json:"chainId"`
	LeadID        int64      `json:"leadId"`
	ContactID     int64      `json:"contactId,omitempty"`
	ChatID        string     `json:"chatId,omitempty"`
	IntegrationID uuid.UUID  `json:"integrationId"`
	AgentID       uuid.UUID  `json:"agentId"`
	Status        RunStatus  `json:"status"`
	CurrentStep   int        `json:"currentStep"`
	CancelReason  string     `json:"cancelReason,omitempty"`
	StartedAt     time.Time  `json:"startedAt"`
	FinishedAt    *time.Time `json:"finishedAt,omitempty"`
}

// ScheduledStep is a step persisted to run at an absolute time.
type ScheduledStep struct {
	ID         uuid.UUID  `json:"id"`
	RunID      uuid.UUID  `json:"runId"`
	StepID     uuid.UUID  `json:"stepId"`
	ExecuteAt  time.Time  `json:"executeAt"`
	Status     StepStatus `json:"status"`
	ExecutedAt *time.Time `json:"executedAt,omitempty"`
	LastError  string     `json:"lastError,omitempty"`
}
