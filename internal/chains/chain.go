// Package chains runs ordered, delayed, multi-step automation sequences per
// lead. Short delays are awaited in-process; longer ones are persisted as
// scheduled steps and picked up by a periodic sweep.
package chains

import (
	"time"

	"github.com/google/uuid"

	"github.com/worldwideservice/ai-agent-platform-sub002/internal/automation"
)

type ConditionType string

const (
	ConditionAll      ConditionType = "all"
	ConditionSpecific ConditionType = "specific"
)

// StageRef identifies a stage within a pipeline.
type StageRef struct {
	PipelineID int64 `json:"pipelineId"`
	StageID    int64 `json:"stageId"`
}

type Step struct {
	ID         uuid.UUID
	Order      int
	DelayValue int
	DelayUnit  automation.Unit
	Actions    []automation.Action
}

// Delay is the wait before this step, relative to the previous one.
func (s Step) Delay() (time.Duration, error) {
	return automation.Duration(s.DelayValue, s.DelayUnit)
}

type Chain struct {
	ID            uuid.UUID
	AgentID       uuid.UUID
	Name          string
	IsActive      bool
	ConditionType ConditionType
	Stages        []StageRef
	Schedule      WeeklySchedule
	RunLimit      int
	Steps         []Step
}

// AllowsStage reports whether a lead at (pipelineID, stageID) qualifies.
func (c Chain) AllowsStage(pipelineID, stageID int64) bool {
	if c.ConditionType != ConditionSpecific {
		return true
	}
	for _, s := range c.Stages {
		if s.StageID != stageID {
			continue
		}
		if s.PipelineID == 0 || pipelineID == 0 || s.PipelineID == pipelineID {
			return true
		}
	}
	return false
}

func (c Chain) stepIndex(stepID uuid.UUID) int {
	for i, s := range c.Steps {
		if s.ID == stepID {
			return i
		}
	}
	return -1
}
