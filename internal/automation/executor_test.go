package automation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/worldwideservice/ai-agent-platform-sub002/internal/crm"
	"github.com/worldwideservice/ai-agent-platform-sub002/internal/crm/crmtest"
	"github.com/worldwideservice/ai-agent-platform-sub002/platform/logger"
)

type stubPause bool

func (s stubPause) IsPaused(context.Context, uuid.UUID, int64) (bool, error) {
	return bool(s), nil
}

type stubLLM struct {
	reply string
	user  string
}

func (s *stubLLM) Complete(_ context.Context, _, user string) (string, error) {
	s.user = user
	return s.reply, nil
}

type stubMailer struct {
	to, subject, body string
}

func (s *stubMailer) Send(_ context.Context, to, subject, body string) error {
	s.to, s.subject, s.body = to, subject, body
	return nil
}

func TestExecuteSendMessageUsesDefaultAndTemplate(t *testing.T) {
	fake := crmtest.New()
	exec := NewExecutor(fake, nil, stubPause(false), nil, nil, logger.Nop())

	report := exec.Execute(context.Background(), Target{
		LeadID:         1,
		ChatID:         "chat-1",
		DefaultMessage: "Thanks, escalating!",
	}, []Action{{Type: ActionSendMessage}, {Type: ActionSendMessage, Params: map[string]any{"text": "Hi {{ lead_name }}{{unknown}}"}}})

	if report.Executed() != 2 {
		t.Fatalf("expected 2 executed actions, got %+v", report.Outcomes)
	}
	msgs := fake.SentMessages()
	if len(msgs) != 2 || msgs[0].Text != "Thanks, escalating!" || msgs[1].Text != "Hi" {
		t.Fatalf("unexpected messages %+v", msgs)
	}
}

func TestExecuteContinuesAfterFailure(t *testing.T) {
	fake := crmtest.New()
	fake.Contacts[5] = crm.Contact{ID: 5, Email: "ann@example.com"}
	exec := NewExecutor(fake, nil, stubPause(false), nil, nil, logger.Nop())

	report := exec.Execute(context.Background(), Target{LeadID: 1, ContactID: 5}, []Action{
		{Type: ActionSendMessage, Params: map[string]any{"text": "no chat"}},
		{Type: ActionCreateTask},
		{Type: ActionSendEmail, Params: map[string]any{"subject": "Offer", "body": "Details"}},
	})

	want := []OutcomeStatus{OutcomeFailed, OutcomeSkipped, OutcomeExecuted}
	for i, o := range report.Outcomes {
		if o.Status != want[i] {
			t.Fatalf("action %d: expected %s, got %s (%v)", i, want[i], o.Status, o.Err)
		}
	}
	if !errors.Is(report.Outcomes[1].Err, ErrNotImplemented) {
		t.Fatalf("expected not implemented, got %v", report.Outcomes[1].Err)
	}
	emails := fake.SentEmails()
	if len(emails) != 1 || emails[0].To != "ann@example.com" {
		t.Fatalf("expected CRM email to contact, got %+v", emails)
	}
}

func TestExecuteSkipsMessagingWhenPaused(t *testing.T) {
	fake := crmtest.New()
	exec := NewExecutor(fake, nil, stubPause(true), nil, nil, logger.Nop())

	report := exec.Execute(context.Background(), Target{LeadID: 1, ChatID: "c"}, []Action{{Type: ActionSendMessage, Params: map[string]any{"text": "x"}}})
	if report.Outcomes[0].Status != OutcomeSkipped || len(fake.SentMessages()) != 0 {
		t.Fatalf("expected paused lead to receive nothing, got %+v", report.Outcomes)
	}
}

func TestExecuteGeneratedMessageAndMailer(t *testing.T) {
	fake := crmtest.New()
	llm := &stubLLM{reply: " Generated reply "}
	mailer := &stubMailer{}
	exec := NewExecutor(fake, llm, stubPause(false), mailer, nil, logger.Nop())

	report := exec.Execute(context.Background(), Target{LeadID: 1, ChatID: "c", Context: "client asked about price"}, []Action{
		{Type: ActionSendMessage, Params: map[string]any{"generate": true, "prompt": "offer a call"}},
		{Type: ActionSendEmail, Params: map[string]any{"to": "bob@example.com", "subject": "Hi", "body": "Body"}},
	})
	if report.Executed() != 2 {
		t.Fatalf("expected both actions executed, got %+v", report.Outcomes)
	}
	if msgs := fake.SentMessages(); msgs[0].Text != "Generated reply" {
		t.Fatalf("unexpected generated text %q", msgs[0].Text)
	}
	if mailer.to != "bob@example.com" || len(fake.SentEmails()) != 0 {
		t.Fatalf("expected SMTP mailer to be used")
	}
}

func TestExecuteHaltsWhenProceedFails(t *testing.T) {
	fake := crmtest.New()
	exec := NewExecutor(fake, nil, nil, nil, nil, logger.Nop())

	calls := 0
	report := exec.Execute(context.Background(), Target{
		ChatID: "c",
		Proceed: func(context.Context) error {
			calls++
			if calls > 1 {
				return errors.New("cancelled")
			}
			return nil
		},
	}, []Action{{Type: ActionSendMessage, Params: map[string]any{"text": "a"}}, {Type: ActionSendMessage, Params: map[string]any{"text": "b"}}})

	if !report.Halted || len(fake.SentMessages()) != 1 {
		t.Fatalf("expected halt after first action, got %+v", report)
	}
}

func TestDuration(t *testing.T) {
	tests := []struct {
		value int
		unit  Unit
		want  time.Duration
	}{
		{0, UnitSeconds, 0},
		{45, "second", 45 * time.Second},
		{2, UnitHours, 2 * time.Hour},
		{1, "Days", 24 * time.Hour},
	}
	for _, tt := range tests {
		got, err := Duration(tt.value, tt.unit)
		if err != nil || got != tt.want {
			t.Fatalf("Duration(%d, %s) = %v, %v; want %v", tt.value, tt.unit, got, err, tt.want)
		}
	}
	if _, err := Duration(1, "weeks"); err == nil {
		t.Fatalf("expected error for unknown unit")
	}
}
