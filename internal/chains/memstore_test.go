package chains

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memStore is an in-memory Store with the same claim semantics as the
// unique partial index on running runs.
type memStore struct {
	mu     sync.Mutex
	chains map[uuid.UUID]Chain
	runs   map[uuid.UUID]Run
	steps  map[uuid.UUID]ScheduledStep
	leases map[uuid.UUID]time.Time
}

func newMemStore(chains ...Chain) *memStore {
	s := &memStore{
		chains: make(map[uuid.UUID]Chain),
		runs:   make(map[uuid.UUID]Run),
		steps:  make(map[uuid.UUID]ScheduledStep),
		leases: make(map[uuid.UUID]time.Time),
	}
	for _, c := range chains {
		s.chains[c.ID] = c
	}
	return s
}

func (s *memStore) ListActiveChains(_ context.Context, agentID uuid.UUID) ([]Chain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Chain
	for _, c := range s.chains {
		if c.AgentID == agentID && c.IsActive {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *memStore) GetChain(_ context.Context, chainID uuid.UUID) (Chain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chains[chainID]
	if !ok {
		return Chain{}, ErrChainNotFound
	}
	return c, nil
}

func (s *memStore) CountRuns(_ context.Context, chainID uuid.UUID, leadID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.runs {
		if r.ChainID == chainID && r.LeadID == leadID {
			n++
		}
	}
	return n, nil
}

func (s *memStore) ClaimRun(_ context.Context, run Run) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.runs {
		if r.ChainID == run.ChainID && r.LeadID == run.LeadID && r.Status == StatusRunning {
			return false, nil
		}
	}
	run.Status = StatusRunning
	s.runs[run.ID] = run
	return true, nil
}

func (s *memStore) GetRun(_ context.Context, runID uuid.UUID) (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return Run{}, ErrRunNotFound
	}
	return r, nil
}

func (s *memStore) ListRunningRuns(_ context.Context, integrationID uuid.UUID, leadID int64) ([]Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Run
	for _, r := range s.runs {
		if r.IntegrationID == integrationID && r.LeadID == leadID && r.Status == StatusRunning {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memStore) AdvanceRun(_ context.Context, runID uuid.UUID, currentStep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.runs[runID]; ok && r.Status == StatusRunning {
		r.CurrentStep = currentStep
		s.runs[runID] = r
	}
	return nil
}

func (s *memStore) CompleteRun(_ context.Context, runID uuid.UUID, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok || r.Status != StatusRunning {
		return false, nil
	}
	for _, st := range s.steps {
		if st.RunID == runID && st.Status == StepPending {
			return false, nil
		}
	}
	r.Status = StatusCompleted
	r.FinishedAt = &at
	s.runs[runID] = r
	return true, nil
}

func (s *memStore) CancelRun(_ context.Context, runID uuid.UUID, reason string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return 0, ErrRunNotFound
	}
	if r.Status != StatusRunning {
		return 0, ErrInvalidTransition
	}
	r.Status = StatusCancelled
	r.CancelReason = reason
	r.FinishedAt = &at
	s.runs[runID] = r

	n := 0
	for id, st := range s.steps {
		if st.RunID == runID && st.Status == StepPending {
			st.Status = StepCancelled
			s.steps[id] = st
			n++
		}
	}
	return n, nil
}

func (s *memStore) ScheduleStep(_ context.Context, step ScheduledStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps[step.ID] = step
	return nil
}

func (s *memStore) ClaimDueSteps(_ context.Context, now time.Time, limit int, lease time.Duration) ([]ScheduledStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ScheduledStep
	for id, st := range s.steps {
		if st.Status != StepPending || st.ExecuteAt.After(now) {
			continue
		}
		if until, ok := s.leases[id]; ok && !until.Before(now) {
			continue
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExecuteAt.Before(out[j].ExecuteAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	for _, st := range out {
		s.leases[st.ID] = now.Add(lease)
	}
	return out, nil
}

func (s *memStore) FinishStep(_ context.Context, stepID uuid.UUID, status StepStatus, errMsg string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.steps[stepID]
	if !ok || st.Status != StepPending {
		return nil
	}
	st.Status = status
	st.LastError = errMsg
	if status == StepExecuted {
		st.ExecutedAt = &at
	}
	s.steps[stepID] = st
	delete(s.leases, stepID)
	return nil
}

func (s *memStore) RescheduleStep(_ context.Context, stepID uuid.UUID, executeAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.steps[stepID]; ok && st.Status == StepPending {
		st.ExecuteAt = executeAt
		s.steps[stepID] = st
		delete(s.leases, stepID)
	}
	return nil
}

func (s *memStore) ListScheduledSteps(_ context.Context, runID uuid.UUID) ([]ScheduledStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ScheduledStep
	for _, st := range s.steps {
		if st.RunID == runID {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExecuteAt.Before(out[j].ExecuteAt) })
	return out, nil
}

var _ Store = (*memStore)(nil)
