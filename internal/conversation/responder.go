package conversation

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/worldwideservice/ai-agent-platform-sub002/internal/agents"
	"github.com/worldwideservice/ai-agent-platform-sub002/internal/crm"
	"github.com/worldwideservice/ai-agent-platform-sub002/platform/logger"
)

// ContextWindow is how many earlier messages accompany a reply request.
const ContextWindow = 10

type PauseChecker interface {
	IsPaused(ctx context.Context, integrationID uuid.UUID, leadID int64) (bool, error)
}

// PlanChecker decides whether the integration may spend another reply.
type PlanChecker interface {
	AllowReply(ctx context.Context, integrationID uuid.UUID) (bool, error)
}

// KnowledgeBase returns reference snippets relevant to the question.
type KnowledgeBase interface {
	Lookup(ctx context.Context, agentID uuid.UUID, question string) ([]string, error)
}

type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

type Appender interface {
	RecordAssistant(ctx context.Context, integrationID uuid.UUID, chatID string, leadID int64, body string) error
}

// Unlimited allows every reply.
type Unlimited struct{}

func (Unlimited) AllowReply(context.Context, uuid.UUID) (bool, error) { return true, nil }

// NoKnowledge has nothing to add.
type NoKnowledge struct{}

func (NoKnowledge) Lookup(context.Context, uuid.UUID, string) ([]string, error) { return nil, nil }

type ReplyRequest struct {
	IntegrationID uuid.UUID
	Agent         agents.Agent
	LeadID        int64
	ChatID        string
	Message       string
	// History precedes Message and does not include it.
	History []Message
}

type Responder struct {
	pause    PauseChecker
	plan     PlanChecker
	kb       KnowledgeBase
	llm      Completer
	crm      crm.Source
	recorder Appender
	log      *logger.Logger
}

// NewResponder wires the reply path. plan and kb default to Unlimited and
// NoKnowledge when nil.
func NewResponder(pause PauseChecker, plan PlanChecker, kb KnowledgeBase, llm Completer, crmSource crm.Source, recorder Appender, log *logger.Logger) *Responder {
	if plan == nil {
		plan = Unlimited{}
	}
	if kb == nil {
		kb = NoKnowledge{}
	}
	return &Responder{pause: pause, plan: plan, kb: kb, llm: llm, crm: crmSource, recorder: recorder, log: log}
}

// Reply answers a client message in its chat. It returns whether a reply was
// sent. Skips (paused lead, plan exhausted, model failure) are not errors.
func (r *Responder) Reply(ctx context.Context, req ReplyRequest) (bool, error) {
	log := r.log.WithContext(ctx).With("integrationId", req.IntegrationID, "leadId", req.LeadID, "chatId", req.ChatID)

	if req.ChatID == "" || strings.TrimSpace(req.Message) == "" {
		return false, nil
	}

	if r.pause != nil && req.LeadID != 0 {
		paused, err := r.pause.IsPaused(ctx, req.IntegrationID, req.LeadID)
		if err != nil {
			return false, fmt.Errorf("check pause: %w", err)
		}
		if paused {
			log.Info("reply skipped: agent paused for lead")
			return false, nil
		}
	}

	allowed, err := r.plan.AllowReply(ctx, req.IntegrationID)
	if err != nil {
		return false, fmt.Errorf("check plan: %w", err)
	}
	if !allowed {
		log.Info("reply skipped: plan limit reached")
		return false, nil
	}

	snippets, err := r.kb.Lookup(ctx, req.Agent.ID, req.Message)
	if err != nil {
		log.Warn("knowledge lookup failed, replying without it", "error", err)
		snippets = nil
	}

	text, err := r.llm.Complete(ctx, systemPrompt(req.Agent, snippets), transcript(req.History, req.Message))
	if err != nil {
		log.Warn("reply generation failed", "error", err)
		return false, nil
	}
	text = strings.TrimSpace(text)
	if text == "" {
		log.Warn("reply generation returned no text")
		return false, nil
	}

	client, err := r.crm.ForIntegration(ctx, req.IntegrationID)
	if err != nil {
		return false, err
	}
	if err := client.SendMessage(ctx, crm.OutboundMessage{ChatID: req.ChatID, LeadID: req.LeadID, Text: text}); err != nil {
		return false, fmt.Errorf("send reply: %w", err)
	}

	if r.recorder != nil {
		if err := r.recorder.RecordAssistant(ctx, req.IntegrationID, req.ChatID, req.LeadID, text); err != nil {
			log.Warn("failed to record reply", "error", err)
		}
	}
	log.Info("reply sent", "chars", len(text))
	return true, nil
}

func systemPrompt(agent agents.Agent, snippets []string) string {
	var b strings.Builder
	if agent.SystemPrompt != "" {
		b.WriteString(agent.SystemPrompt)
	} else {
		b.WriteString("You are a helpful sales assistant answering clients in a CRM chat.")
	}
	if len(snippets) > 0 {
		b.WriteString("\n\nUse the following reference material when it is relevant:\n")
		for _, s := range snippets {
			b.WriteString("- " + strings.TrimSpace(s) + "\n")
		}
	}
	b.WriteString("\nReply in the client's language. Keep it short.")
	return b.String()
}

func transcript(history []Message, message string) string {
	var b strings.Builder
	if len(history) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, m := range history {
			fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Body)
		}
		b.WriteString("\n")
	}
	b.WriteString("Client: " + message + "\n\nWrite the reply.")
	return b.String()
}
