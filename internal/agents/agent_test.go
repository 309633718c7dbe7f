package agents

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestPickPrefersPipelineBoundAgent(t *testing.T) {
	catchAll := Agent{ID: uuid.New(), IsActive: true}
	bound := Agent{ID: uuid.New(), IsActive: true, PipelineIDs: []int64{7}}
	other := Agent{ID: uuid.New(), IsActive: true, PipelineIDs: []int64{9}}

	got, err := pick([]Agent{catchAll, other, bound}, 7)
	if err != nil {
		t.Fatalf("pick: %v", err)
	}
	if got.ID != bound.ID {
		t.Fatalf("expected pipeline-bound agent, got %s", got.ID)
	}

	got, err = pick([]Agent{other, catchAll}, 3)
	if err != nil || got.ID != catchAll.ID {
		t.Fatalf("expected catch-all agent for unbound pipeline, got %v %v", got.ID, err)
	}

	if _, err := pick([]Agent{other}, 3); !errors.Is(err, ErrNoAgent) {
		t.Fatalf("expected ErrNoAgent, got %v", err)
	}
}

func TestAutoResumeAfter(t *testing.T) {
	a := Agent{AutoResumeEnabled: true, AutoResumeValue: 2, AutoResumeUnit: "hours"}
	d, ok := a.AutoResumeAfter()
	if !ok || d != 2*time.Hour {
		t.Fatalf("expected 2h, got %v %v", d, ok)
	}

	a.AutoResumeEnabled = false
	if _, ok := a.AutoResumeAfter(); ok {
		t.Fatalf("expected disabled auto-resume")
	}

	a = Agent{AutoResumeEnabled: true, AutoResumeValue: 5, AutoResumeUnit: "fortnights"}
	if _, ok := a.AutoResumeAfter(); ok {
		t.Fatalf("expected unknown unit to disable auto-resume")
	}
}
