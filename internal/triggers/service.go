package triggers

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/worldwideservice/ai-agent-platform-sub002/internal/agents"
	"github.com/worldwideservice/ai-agent-platform-sub002/internal/automation"
	"github.com/worldwideservice/ai-agent-platform-sub002/internal/crm"
	"github.com/worldwideservice/ai-agent-platform-sub002/internal/events"
	"github.com/worldwideservice/ai-agent-platform-sub002/platform/logger"
	"github.com/worldwideservice/ai-agent-platform-sub002/platform/telemetry"
)

// Store loads trigger definitions.
type Store interface {
	ListActive(ctx context.Context, agentID uuid.UUID) ([]Trigger, error)
}

// ActionRunner executes action sequences.
type ActionRunner interface {
	Execute(ctx context.Context, t automation.Target, actions []automation.Action) automation.Report
}

// Request is one classified event to evaluate the agent's triggers against.
type Request struct {
	IntegrationID uuid.UUID
	Agent         agents.Agent
	Event         *events.Event
	History       []Turn
	Vars          map[string]string
}

type Service struct {
	store     Store
	evaluator *Evaluator
	counter   Counter
	runner    ActionRunner
	crm       crm.Source
	log       *logger.Logger
	fired     metric.Int64Counter
}

func NewService(store Store, evaluator *Evaluator, counter Counter, runner ActionRunner, crmSource crm.Source, log *logger.Logger) *Service {
	return &Service{
		store:     store,
		evaluator: evaluator,
		counter:   counter,
		runner:    runner,
		crm:       crmSource,
		log:       log,
		fired:     telemetry.Counter(telemetry.Meter("triggers"), "automation.triggers.fired", "Triggers whose actions ran"),
	}
}

// Handle evaluates and runs the agent's triggers for req.Event. It reports
// whether at least one trigger fired. Only failing to load the triggers is
// returned as an error; evaluation and action failures are logged.
func (s *Service) Handle(ctx context.Context, req Request) (bool, error) {
	ev := req.Event
	log := s.log.WithContext(ctx).With("agentId", req.Agent.ID, "event", ev.Type, "leadId", ev.LeadID)

	all, err := s.store.ListActive(ctx, req.Agent.ID)
	if err != nil {
		return false, fmt.Errorf("load triggers: %w", err)
	}

	chatKey := ev.ConversationKey()
	candidates := make([]Trigger, 0, len(all))
	for _, t := range all {
		if len(t.Actions) == 0 {
			continue
		}
		if t.RunLimit > 0 {
			count, err := s.counter.Count(ctx, t.ID, chatKey)
			if err != nil {
				log.Warn("trigger counter unavailable, skipping trigger", "triggerId", t.ID, "error", err)
				continue
			}
			if count >= t.RunLimit {
				log.Debug("trigger run limit reached", "triggerId", t.ID, "count", count, "limit", t.RunLimit)
				continue
			}
		}
		candidates = append(candidates, t)
	}
	if len(candidates) == 0 {
		return false, nil
	}

	input, ok := s.buildInput(ctx, req)
	if !ok {
		return false, nil
	}

	results := s.evaluator.Evaluate(ctx, candidates, input)
	byID := make(map[uuid.UUID]Trigger, len(candidates))
	for _, t := range candidates {
		byID[t.ID] = t
	}

	fired := false
	for _, r := range results {
		if !r.Matched {
			log.Debug("trigger not matched", "triggerId", r.TriggerID, "confidence", r.Confidence, "reason", r.Reason)
			continue
		}
		t := byID[r.TriggerID]
		log.Info("trigger matched", "triggerId", t.ID, "trigger", t.Name, "confidence", r.Confidence, "reason", r.Reason)

		report := s.runner.Execute(ctx, automation.Target{
			IntegrationID:  req.IntegrationID,
			AgentID:        req.Agent.ID,
			LeadID:         ev.LeadID,
			ContactID:      ev.ContactID,
			ChatID:         ev.ChatID,
			SystemPrompt:   req.Agent.SystemPrompt,
			Context:        input.context(),
			Vars:           req.Vars,
			DefaultMessage: t.CancelMessage,
		}, t.Actions)

		if report.Executed() == 0 {
			log.Warn("trigger matched but no action succeeded", "triggerId", t.ID, "failed", report.Failed())
			continue
		}
		count, err := s.counter.Increment(ctx, t.ID, chatKey)
		if err != nil {
			log.Error("failed to increment trigger counter", "triggerId", t.ID, "error", err)
		}
		fired = true
		s.fired.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger_id", t.ID.String())))
		log.Info("trigger executed", "triggerId", t.ID, "executed", report.Executed(), "failed", report.Failed(), "count", count)
	}
	return fired, nil
}

func (s *Service) buildInput(ctx context.Context, req Request) (Input, bool) {
	ev := req.Event
	if ev.Type == events.TypeIncomingMessage {
		if ev.MessageText == "" {
			return Input{}, false
		}
		return Input{Message: ev.MessageText, History: req.History}, true
	}

	api, err := s.crm.ForIntegration(ctx, req.IntegrationID)
	if err != nil {
		s.log.WithContext(ctx).Warn("crm unavailable for event description", "error", err)
		return Input{}, false
	}
	return Input{EventDescription: Describe(ctx, api, ev)}, true
}

func (in Input) context() string {
	if in.EventDescription != "" {
		return in.EventDescription
	}
	return "Client wrote: " + in.Message
}
