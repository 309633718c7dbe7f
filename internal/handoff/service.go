// Package handoff tracks which leads a human operator has taken over. While a
// lead is paused the AI does not reply or message the client.
package handoff

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/worldwideservice/ai-agent-platform-sub002/internal/agents"
	"github.com/worldwideservice/ai-agent-platform-sub002/platform/logger"
)

// Record is one paused (integration, lead).
type Record struct {
	IntegrationID  uuid.UUID `json:"integrationId"`
	LeadID         int64     `json:"leadId"`
	AgentID        uuid.UUID `json:"agentId"`
	PausedByUserID int64     `json:"pausedByUserId"`
	PausedAt       time.Time `json:"pausedAt"`
}

// Store persists pause records.
type Store interface {
	Upsert(ctx context.Context, rec Record) error
	Get(ctx context.Context, integrationID uuid.UUID, leadID int64) (Record, bool, error)
	Delete(ctx context.Context, integrationID uuid.UUID, leadID int64) (bool, error)
}

// AgentReader loads agent handoff settings.
type AgentReader interface {
	GetAgent(ctx context.Context, id uuid.UUID) (agents.Agent, error)
}

// Status is the admin view of a lead's handoff state.
type Status struct {
	Paused    bool       `json:"paused"`
	Record    *Record    `json:"record,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

type Service struct {
	store  Store
	agents AgentReader
	now    func() time.Time
	log    *logger.Logger
}

func NewService(store Store, agents AgentReader, log *logger.Logger) *Service {
	return &Service{store: store, agents: agents, now: time.Now, log: log}
}

// Pause hands the lead to a human. Pausing an already paused lead refreshes
// pausedAt, so the auto-resume timeout counts from the latest operator action.
func (s *Service) Pause(ctx context.Context, integrationID uuid.UUID, leadID int64, agentID uuid.UUID, actorID int64) error {
	rec := Record{
		IntegrationID:  integrationID,
		LeadID:         leadID,
		AgentID:        agentID,
		PausedByUserID: actorID,
		PausedAt:       s.now().UTC(),
	}
	if err := s.store.Upsert(ctx, rec); err != nil {
		return err
	}
	s.log.Info("agent paused", "integrationId", integrationID, "leadId", leadID, "agentId", agentID, "pausedBy", actorID)
	return nil
}

// Resume returns the lead to the AI. Resuming a lead that is not paused is a no-op.
func (s *Service) Resume(ctx context.Context, integrationID uuid.UUID, leadID int64) error {
	removed, err := s.store.Delete(ctx, integrationID, leadID)
	if err != nil {
		return err
	}
	if removed {
		s.log.Info("agent resumed", "integrationId", integrationID, "leadId", leadID)
	}
	return nil
}

// IsPaused reports whether the AI must stay silent for the lead. A record whose
// agent auto-resume timeout has elapsed is deleted here; nothing else expires
// pauses.
func (s *Service) IsPaused(ctx context.Context, integrationID uuid.UUID, leadID int64) (bool, error) {
	st, err := s.Status(ctx, integrationID, leadID)
	if err != nil {
		return false, err
	}
	return st.Paused, nil
}

// Status is IsPaused with the record and its expiry attached.
func (s *Service) Status(ctx context.Context, integrationID uuid.UUID, leadID int64) (Status, error) {
	rec, ok, err := s.store.Get(ctx, integrationID, leadID)
	if err != nil {
		return Status{}, err
	}
	if !ok {
		return Status{}, nil
	}

	expiresAt, err := s.expiry(ctx, rec)
	if err != nil {
		return Status{}, err
	}
	if expiresAt != nil && !s.now().Before(*expiresAt) {
		if _, err := s.store.Delete(ctx, integrationID, leadID); err != nil {
			return Status{}, err
		}
		s.log.Info("agent auto-resumed", "integrationId", integrationID, "leadId", leadID, "pausedAt", rec.PausedAt)
		return Status{}, nil
	}

	return Status{Paused: true, Record: &rec, ExpiresAt: expiresAt}, nil
}

func (s *Service) expiry(ctx context.Context, rec Record) (*time.Time, error) {
	agent, err := s.agents.GetAgent(ctx, rec.AgentID)
	if errors.Is(err, agents.ErrNoAgent) {
		// A deleted agent leaves the lead paused until an explicit resume.
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	after, ok := agent.AutoResumeAfter()
	if !ok {
		return nil, nil
	}
	at := rec.PausedAt.Add(after)
	return &at, nil
}
