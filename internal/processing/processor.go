// Package processing turns one queued webhook into automation: it classifies
// the payload, resolves the agent, and fans the event out to handoff,
// chains, triggers and the conversational reply.
package processing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/worldwideservice/ai-agent-platform-sub002/internal/agents"
	"github.com/worldwideservice/ai-agent-platform-sub002/internal/chains"
	"github.com/worldwideservice/ai-agent-platform-sub002/internal/conversation"
	"github.com/worldwideservice/ai-agent-platform-sub002/internal/crm"
	"github.com/worldwideservice/ai-agent-platform-sub002/internal/events"
	"github.com/worldwideservice/ai-agent-platform-sub002/internal/triggers"
	"github.com/worldwideservice/ai-agent-platform-sub002/platform/logger"
	"github.com/worldwideservice/ai-agent-platform-sub002/platform/telemetry"
)

type AgentResolver interface {
	ResolveAgent(ctx context.Context, integrationID uuid.UUID, pipelineID int64) (agents.Agent, error)
}

type Pauser interface {
	Pause(ctx context.Context, integrationID uuid.UUID, leadID int64, agentID uuid.UUID, actorID int64) error
}

type ChainRunner interface {
	OnStageEvent(ctx context.Context, lead chains.LeadContext) error
}

type TriggerHandler interface {
	Handle(ctx context.Context, req triggers.Request) (bool, error)
}

type Replier interface {
	Reply(ctx context.Context, req conversation.ReplyRequest) (bool, error)
}

// ChatLocator finds the chat to write to for events that carry no chat.
type ChatLocator interface {
	ChatForLead(ctx context.Context, integrationID uuid.UUID, leadID int64) (string, error)
}

type Deps struct {
	Agents   AgentResolver
	Pauser   Pauser
	Chains   ChainRunner
	Triggers TriggerHandler
	Replier  Replier
	History  conversation.History
	Chats    ChatLocator
	CRM      crm.Source
}

type Processor struct {
	Deps
	log    *logger.Logger
	tracer trace.Tracer
}

func New(deps Deps, log *logger.Logger) *Processor {
	return &Processor{Deps: deps, log: log, tracer: telemetry.Tracer("processing")}
}

// ProcessWebhook handles one raw webhook payload. Unrecognized payloads and
// failed actions are logged, not returned; an error means an infrastructure
// dependency failed and the job may be retried.
func (p *Processor) ProcessWebhook(ctx context.Context, integrationID uuid.UUID, raw []byte) (err error) {
	ctx, span := p.tracer.Start(ctx, "processing.webhook", trace.WithAttributes(
		attribute.String("integration.id", integrationID.String()),
		attribute.Int("payload.bytes", len(raw)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	log := p.log.WithContext(ctx).With("integrationId", integrationID)

	ev := events.Classify(raw)
	if ev == nil {
		log.Info("webhook payload not recognized, ignoring", "bytes", len(raw))
		return nil
	}
	span.SetAttributes(attribute.String("event.type", string(ev.Type)), attribute.Int64("lead.id", ev.LeadID))
	log = log.With("event", ev.Type, "leadId", ev.LeadID)

	p.fillLead(ctx, integrationID, ev)

	agent, err := p.Agents.ResolveAgent(ctx, integrationID, ev.PipelineID)
	if errors.Is(err, agents.ErrNoAgent) {
		log.Info("no active agent for event, ignoring", "pipelineId", ev.PipelineID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolve agent: %w", err)
	}
	log = log.With("agentId", agent.ID)

	sourceID := messageSource(ev, raw)

	if ev.IsMessage() && !ev.FromClient() {
		return p.handleOutsiderMessage(ctx, integrationID, agent, ev, sourceID)
	}

	var history []conversation.Message
	if ev.IsMessage() && ev.ChatID != "" && p.History != nil {
		// One extra row covers a copy of this message left by an earlier attempt.
		recent, err := p.History.Recent(ctx, integrationID, ev.ChatID, conversation.ContextWindow+1)
		if err != nil {
			return fmt.Errorf("load history: %w", err)
		}
		history = priorTurns(recent, sourceID, conversation.ContextWindow)
		if err := p.History.Append(ctx, conversation.Message{
			IntegrationID: integrationID,
			ChatID:        ev.ChatID,
			LeadID:        ev.LeadID,
			Role:          conversation.RoleClient,
			Body:          ev.MessageText,
			CreatedAt:     ev.Timestamp,
			SourceID:      sourceID,
		}); err != nil {
			return fmt.Errorf("record client message: %w", err)
		}
	}

	chatID := ev.ChatID
	if chatID == "" && ev.LeadID != 0 && p.Chats != nil {
		found, lookupErr := p.Chats.ChatForLead(ctx, integrationID, ev.LeadID)
		if lookupErr != nil {
			log.Warn("could not find chat for lead", "error", lookupErr)
		}
		chatID = found
	}

	if ev.IsStageEvent() && ev.LeadID != 0 && p.Chains != nil {
		err := p.Chains.OnStageEvent(ctx, chains.LeadContext{
			IntegrationID: integrationID,
			Agent:         agent,
			LeadID:        ev.LeadID,
			ContactID:     ev.ContactID,
			ChatID:        chatID,
			PipelineID:    ev.PipelineID,
			StageID:       ev.StageID,
			Vars:          vars(ev),
		})
		if err != nil {
			return fmt.Errorf("chains: %w", err)
		}
	}

	fired := false
	if p.Triggers != nil {
		scoped := *ev
		scoped.ChatID = chatID
		fired, err = p.Triggers.Handle(ctx, triggers.Request{
			IntegrationID: integrationID,
			Agent:         agent,
			Event:         &scoped,
			History:       turns(history),
			Vars:          vars(ev),
		})
		if err != nil {
			return fmt.Errorf("triggers: %w", err)
		}
	}

	if ev.Type != events.TypeIncomingMessage || p.Replier == nil {
		return nil
	}
	if fired {
		log.Info("trigger fired, conversational reply suppressed")
		return nil
	}
	if _, err := p.Replier.Reply(ctx, conversation.ReplyRequest{
		IntegrationID: integrationID,
		Agent:         agent,
		LeadID:        ev.LeadID,
		ChatID:        ev.ChatID,
		Message:       ev.MessageText,
		History:       history,
	}); err != nil {
		return fmt.Errorf("reply: %w", err)
	}
	return nil
}

// handleOutsiderMessage covers messages written by an employee or by the
// system. An employee reply pauses the agent when the agent asks for it.
func (p *Processor) handleOutsiderMessage(ctx context.Context, integrationID uuid.UUID, agent agents.Agent, ev *events.Event, sourceID string) error {
	if ev.Actor != events.ActorEmployee {
		return nil
	}

	if agent.PauseOnOperatorReply && ev.LeadID != 0 && p.Pauser != nil {
		if err := p.Pauser.Pause(ctx, integrationID, ev.LeadID, agent.ID, ev.ActorID); err != nil {
			return fmt.Errorf("pause agent: %w", err)
		}
	}

	if ev.ChatID != "" && p.History != nil {
		if err := p.History.Append(ctx, conversation.Message{
			IntegrationID: integrationID,
			ChatID:        ev.ChatID,
			LeadID:        ev.LeadID,
			Role:          conversation.RoleOperator,
			Body:          ev.MessageText,
			CreatedAt:     ev.Timestamp,
			SourceID:      sourceID,
		}); err != nil {
			return fmt.Errorf("record operator message: %w", err)
		}
	}
	return nil
}

// fillLead completes pipeline and stage from the CRM for events that only
// name the lead. Lookup failures leave the event as it is.
func (p *Processor) fillLead(ctx context.Context, integrationID uuid.UUID, ev *events.Event) {
	if ev.LeadID == 0 || ev.PipelineID != 0 || p.CRM == nil {
		return
	}
	client, err := p.CRM.ForIntegration(ctx, integrationID)
	if err != nil {
		p.log.WithContext(ctx).Warn("crm unavailable for lead lookup", "error", err)
		return
	}
	lead, err := client.GetLead(ctx, ev.LeadID)
	if err != nil {
		p.log.WithContext(ctx).Warn("lead lookup failed", "leadId", ev.LeadID, "error", err)
		return
	}
	ev.PipelineID = lead.PipelineID
	if ev.StageID == 0 {
		ev.StageID = lead.StatusID
	}
	if ev.ContactID == 0 && len(lead.ContactIDs) > 0 {
		ev.ContactID = lead.ContactIDs[0]
	}
}

// messageSource keys history entries recorded from one webhook, so a retried
// job does not record its message twice. The CRM message id is used when
// present, otherwise a digest of the payload.
func messageSource(ev *events.Event, raw []byte) string {
	if ev.MessageID != "" {
		return "crm:" + ev.MessageID
	}
	sum := sha256.Sum256(raw)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// priorTurns drops entries recorded from the message being processed and
// keeps the last n of the rest.
func priorTurns(recent []conversation.Message, sourceID string, n int) []conversation.Message {
	out := make([]conversation.Message, 0, len(recent))
	for _, m := range recent {
		if m.SourceID != "" && m.SourceID == sourceID {
			continue
		}
		out = append(out, m)
	}
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

func turns(history []conversation.Message) []triggers.Turn {
	if len(history) == 0 {
		return nil
	}
	out := make([]triggers.Turn, 0, len(history))
	for _, m := range history {
		out = append(out, triggers.Turn{Role: string(m.Role), Text: m.Body})
	}
	return out
}

func vars(ev *events.Event) map[string]string {
	v := map[string]string{
		"lead_id": strconv.FormatInt(ev.LeadID, 10),
	}
	if ev.ContactID != 0 {
		v["contact_id"] = strconv.FormatInt(ev.ContactID, 10)
	}
	if ev.MessageText != "" {
		v["message"] = ev.MessageText
	}
	return v
}
