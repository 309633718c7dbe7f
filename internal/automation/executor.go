package automation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/worldwideservice/ai-agent-platform-sub002/internal/crm"
	"github.com/worldwideservice/ai-agent-platform-sub002/platform/logger"
)

var (
	ErrNotImplemented = errors.New("action type not implemented")
	ErrAgentPaused    = errors.New("agent paused for lead")
	ErrNoRecipient    = errors.New("no recipient for action")
)

// PauseChecker reports whether a human operator has taken over the lead.
type PauseChecker interface {
	IsPaused(ctx context.Context, integrationID uuid.UUID, leadID int64) (bool, error)
}

// Completer generates message text.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Mailer delivers email outside the CRM.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Recorder stores outbound assistant messages in the conversation history.
type Recorder interface {
	RecordAssistant(ctx context.Context, integrationID uuid.UUID, chatID string, leadID int64, body string) error
}

// Target is who and what an action sequence runs for.
type Target struct {
	IntegrationID uuid.UUID
	AgentID       uuid.UUID
	LeadID        int64
	ContactID     int64
	ChatID        string

	// SystemPrompt and Context feed generated messages.
	SystemPrompt string
	Context      string

	Vars map[string]string

	// DefaultMessage is sent by send_message actions without text.
	DefaultMessage string

	// Proceed is consulted before every action; an error stops the sequence.
	Proceed func(ctx context.Context) error
}

type OutcomeStatus string

const (
	OutcomeExecuted OutcomeStatus = "executed"
	OutcomeSkipped  OutcomeStatus = "skipped"
	OutcomeFailed   OutcomeStatus = "failed"
)

type Outcome struct {
	Type   ActionType
	Status OutcomeStatus
	Err    error
}

// Report lists the outcome of every action in order.
type Report struct {
	Outcomes []Outcome
	// Halted is set when Proceed stopped the sequence early.
	Halted bool
}

func (r Report) Executed() int { return r.count(OutcomeExecuted) }
func (r Report) Failed() int   { return r.count(OutcomeFailed) }

func (r Report) count(status OutcomeStatus) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

// Executor runs action sequences. A failing action is logged and the
// sequence continues with the next one.
type Executor struct {
	crm      crm.Source
	llm      Completer
	pause    PauseChecker
	mailer   Mailer
	recorder Recorder
	log      *logger.Logger
}

// NewExecutor creates an executor. mailer and recorder may be nil; email then
// goes through the CRM mailbox.
func NewExecutor(crmSource crm.Source, llm Completer, pause PauseChecker, mailer Mailer, recorder Recorder, log *logger.Logger) *Executor {
	return &Executor{
		crm:      crmSource,
		llm:      llm,
		pause:    pause,
		mailer:   mailer,
		recorder: recorder,
		log:      log,
	}
}

func (e *Executor) Execute(ctx context.Context, t Target, actions []Action) Report {
	var report Report
	log := e.log.WithContext(ctx).With("integrationId", t.IntegrationID, "leadId", t.LeadID)

	for i, action := range actions {
		if err := e.proceed(ctx, t); err != nil {
			log.Info("action sequence halted", "remaining", len(actions)-i, "reason", err)
			report.Halted = true
			return report
		}

		err := e.run(ctx, t, action)
		switch {
		case err == nil:
			report.Outcomes = append(report.Outcomes, Outcome{Type: action.Type, Status: OutcomeExecuted})
		case errors.Is(err, ErrNotImplemented), errors.Is(err, ErrAgentPaused):
			log.Info("action skipped", "type", action.Type, "position", i, "reason", err)
			report.Outcomes = append(report.Outcomes, Outcome{Type: action.Type, Status: OutcomeSkipped, Err: err})
		default:
			log.Error("action failed", "type", action.Type, "position", i, "error", err)
			report.Outcomes = append(report.Outcomes, Outcome{Type: action.Type, Status: OutcomeFailed, Err: err})
		}
	}
	return report
}

func (e *Executor) proceed(ctx context.Context, t Target) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.Proceed != nil {
		return t.Proceed(ctx)
	}
	return nil
}

func (e *Executor) run(ctx context.Context, t Target, action Action) error {
	switch action.Type {
	case ActionSendMessage:
		return e.sendMessage(ctx, t, action)
	case ActionSendEmail:
		return e.sendEmail(ctx, t, action)
	case ActionChangeStage, ActionCreateTask:
		return ErrNotImplemented
	default:
		return fmt.Errorf("unknown action type %q", action.Type)
	}
}

func (e *Executor) ensureNotPaused(ctx context.Context, t Target) error {
	if e.pause == nil || t.LeadID == 0 {
		return nil
	}
	paused, err := e.pause.IsPaused(ctx, t.IntegrationID, t.LeadID)
	if err != nil {
		return fmt.Errorf("check pause: %w", err)
	}
	if paused {
		return ErrAgentPaused
	}
	return nil
}

func (e *Executor) sendMessage(ctx context.Context, t Target, action Action) error {
	if err := e.ensureNotPaused(ctx, t); err != nil {
		return err
	}
	if t.ChatID == "" {
		return fmt.Errorf("send message: %w: lead has no chat", ErrNoRecipient)
	}

	text, err := e.messageText(ctx, t, action, "text", t.DefaultMessage)
	if err != nil {
		return err
	}
	if text == "" {
		return fmt.Errorf("send message: empty text")
	}

	client, err := e.crm.ForIntegration(ctx, t.IntegrationID)
	if err != nil {
		return err
	}
	if err := client.SendMessage(ctx, crm.OutboundMessage{ChatID: t.ChatID, LeadID: t.LeadID, Text: text}); err != nil {
		return fmt.Errorf("send message: %w", err)
	}

	if e.recorder != nil {
		if err := e.recorder.RecordAssistant(ctx, t.IntegrationID, t.ChatID, t.LeadID, text); err != nil {
			e.log.Warn("failed to record outbound message", "error", err)
		}
	}
	return nil
}

func (e *Executor) sendEmail(ctx context.Context, t Target, action Action) error {
	if err := e.ensureNotPaused(ctx, t); err != nil {
		return err
	}

	client, err := e.crm.ForIntegration(ctx, t.IntegrationID)
	if err != nil {
		return err
	}

	to := Render(action.String("to"), t.Vars)
	if to == "" {
		to, err = e.leadEmail(ctx, client, t)
		if err != nil {
			return err
		}
	}

	subject := Render(action.String("subject"), t.Vars)
	body, err := e.messageText(ctx, t, action, "body", "")
	if err != nil {
		return err
	}
	if body == "" {
		return fmt.Errorf("send email: empty body")
	}

	if e.mailer != nil {
		return e.mailer.Send(ctx, to, subject, body)
	}
	return client.SendEmail(ctx, crm.OutboundEmail{LeadID: t.LeadID, To: to, Subject: subject, Body: body})
}

// messageText renders the configured text, or asks the LLM when the action
// is marked as generated.
func (e *Executor) messageText(ctx context.Context, t Target, action Action, key, fallback string) (string, error) {
	if !action.Bool("generate") {
		text := action.String(key)
		if text == "" {
			text = fallback
		}
		return Render(text, t.Vars), nil
	}

	if e.llm == nil {
		return "", fmt.Errorf("generated message: no language model configured")
	}
	instruction := Render(action.String("prompt"), t.Vars)
	if instruction == "" {
		instruction = Render(action.String(key), t.Vars)
	}

	var user strings.Builder
	user.WriteString("Write the next message to the client.\n")
	if instruction != "" {
		user.WriteString("Instruction: " + instruction + "\n")
	}
	if t.Context != "" {
		user.WriteString("\nContext:\n" + t.Context + "\n")
	}

	text, err := e.llm.Complete(ctx, t.SystemPrompt, user.String())
	if err != nil {
		return "", fmt.Errorf("generate message: %w", err)
	}
	return strings.TrimSpace(text), nil
}

func (e *Executor) leadEmail(ctx context.Context, client crm.API, t Target) (string, error) {
	contactID := t.ContactID
	if contactID == 0 && t.LeadID != 0 {
		lead, err := client.GetLead(ctx, t.LeadID)
		if err != nil {
			return "", fmt.Errorf("load lead: %w", err)
		}
		if len(lead.ContactIDs) > 0 {
			contactID = lead.ContactIDs[0]
		}
	}
	if contactID == 0 {
		return "", fmt.Errorf("send email: %w: lead has no contact", ErrNoRecipient)
	}
	contact, err := client.GetContact(ctx, contactID)
	if err != nil {
		return "", fmt.Errorf("load contact: %w", err)
	}
	if contact.Email == "" {
		return "", fmt.Errorf("send email: %w: contact has no email", ErrNoRecipient)
	}
	return contact.Email, nil
}
