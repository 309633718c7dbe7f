package handoff

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/worldwideservice/ai-agent-platform-sub002/internal/agents"
	"github.com/worldwideservice/ai-agent-platform-sub002/platform/logger"
)

type memoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: make(map[string]Record)}
}

func key(integrationID uuid.UUID, leadID int64) string {
	return integrationID.String() + ":" + strconv.FormatInt(leadID, 10)
}

func (m *memoryStore) Upsert(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[key(rec.IntegrationID, rec.LeadID)] = rec
	return nil
}

func (m *memoryStore) Get(_ context.Context, integrationID uuid.UUID, leadID int64) (Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key(integrationID, leadID)]
	return rec, ok, nil
}

func (m *memoryStore) Delete(_ context.Context, integrationID uuid.UUID, leadID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(integrationID, leadID)
	_, ok := m.records[k]
	delete(m.records, k)
	return ok, nil
}

type fakeAgents map[uuid.UUID]agents.Agent

func (f fakeAgents) GetAgent(_ context.Context, id uuid.UUID) (agents.Agent, error) {
	a, ok := f[id]
	if !ok {
		return agents.Agent{}, agents.ErrNoAgent
	}
	return a, nil
}

func newTestService(agent agents.Agent) (*Service, *memoryStore, *time.Time) {
	store := newMemoryStore()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	svc := NewService(store, fakeAgents{agent.ID: agent}, logger.Nop())
	svc.now = func() time.Time { return now }
	return svc, store, &now
}

func TestPauseResume(t *testing.T) {
	agent := agents.Agent{ID: uuid.New()}
	svc, _, _ := newTestService(agent)
	ctx := context.Background()
	integrationID := uuid.New()

	paused, err := svc.IsPaused(ctx, integrationID, 10)
	if err != nil || paused {
		t.Fatalf("expected not paused initially, got %v %v", paused, err)
	}

	if err := svc.Pause(ctx, integrationID, 10, agent.ID, 77); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if paused, _ := svc.IsPaused(ctx, integrationID, 10); !paused {
		t.Fatalf("expected paused immediately after pause")
	}
	if paused, _ := svc.IsPaused(ctx, integrationID, 11); paused {
		t.Fatalf("expected other lead to be unaffected")
	}

	if err := svc.Resume(ctx, integrationID, 10); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if paused, _ := svc.IsPaused(ctx, integrationID, 10); paused {
		t.Fatalf("expected not paused immediately after resume")
	}
	if err := svc.Resume(ctx, integrationID, 10); err != nil {
		t.Fatalf("second resume should be a no-op, got %v", err)
	}
}

func TestIsPausedLazyAutoResume(t *testing.T) {
	agent := agents.Agent{ID: uuid.New(), AutoResumeEnabled: true, AutoResumeValue: 30, AutoResumeUnit: "minutes"}
	svc, store, now := newTestService(agent)
	ctx := context.Background()
	integrationID := uuid.New()

	if err := svc.Pause(ctx, integrationID, 10, agent.ID, 77); err != nil {
		t.Fatalf("pause: %v", err)
	}

	*now = now.Add(29 * time.Minute)
	if paused, _ := svc.IsPaused(ctx, integrationID, 10); !paused {
		t.Fatalf("expected still paused before timeout")
	}

	*now = now.Add(2 * time.Minute)
	if _, ok, _ := store.Get(ctx, integrationID, 10); !ok {
		t.Fatalf("expected record to survive until it is re-checked")
	}
	if paused, _ := svc.IsPaused(ctx, integrationID, 10); paused {
		t.Fatalf("expected auto-resume once timeout elapsed")
	}
	if _, ok, _ := store.Get(ctx, integrationID, 10); ok {
		t.Fatalf("expected expired record to be deleted")
	}
}

func TestPauseWithoutAutoResumeNeverExpires(t *testing.T) {
	agent := agents.Agent{ID: uuid.New()}
	svc, _, now := newTestService(agent)
	ctx := context.Background()
	integrationID := uuid.New()

	_ = svc.Pause(ctx, integrationID, 10, agent.ID, 1)
	*now = now.Add(365 * 24 * time.Hour)

	st, err := svc.Status(ctx, integrationID, 10)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !st.Paused || st.ExpiresAt != nil {
		t.Fatalf("expected indefinite pause, got %+v", st)
	}
}
