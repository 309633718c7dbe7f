package processing

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/worldwideservice/ai-agent-platform-sub002/internal/agents"
	"github.com/worldwideservice/ai-agent-platform-sub002/internal/chains"
	"github.com/worldwideservice/ai-agent-platform-sub002/internal/conversation"
	"github.com/worldwideservice/ai-agent-platform-sub002/internal/crm"
	"github.com/worldwideservice/ai-agent-platform-sub002/internal/crm/crmtest"
	"github.com/worldwideservice/ai-agent-platform-sub002/internal/triggers"
	"github.com/worldwideservice/ai-agent-platform-sub002/platform/logger"
)

const (
	clientMessage   = `{"message":{"add":[{"chat_id":"chat-1","text":"can you give me a better price?","element_type":"2","element_id":"101","type":"incoming","author":{"id":"0"}}]}}`
	operatorMessage = `{"message":{"add":[{"chat_id":"chat-1","text":"I'll take it from here","element_type":"2","element_id":"101","type":"outgoing","author":{"id":"4242"}}]}}`
	stageChange     = `{"leads":{"status":[{"id":"101","status_id":"142","old_status_id":"141","pipeline_id":"7","modified_user_id":"0"}]}}`
)

type fakeAgents struct {
	agent agents.Agent
	err   error
}

func (f fakeAgents) ResolveAgent(context.Context, uuid.UUID, int64) (agents.Agent, error) {
	return f.agent, f.err
}

type recorder struct {
	mu       sync.Mutex
	pauses   []int64
	leads    []chains.LeadContext
	requests []triggers.Request
	replies  []conversation.ReplyRequest
	fire     bool
	chainErr error
	replyErr error
}

func (r *recorder) Pause(_ context.Context, _ uuid.UUID, leadID int64, _ uuid.UUID, _ int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pauses = append(r.pauses, leadID)
	return nil
}

func (r *recorder) OnStageEvent(_ context.Context, lead chains.LeadContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leads = append(r.leads, lead)
	return r.chainErr
}

func (r *recorder) Handle(_ context.Context, req triggers.Request) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	return r.fire, nil
}

func (r *recorder) Reply(_ context.Context, req conversation.ReplyRequest) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies = append(r.replies, req)
	if r.replyErr != nil {
		return false, r.replyErr
	}
	return true, nil
}

type memoryHistory struct {
	msgs []conversation.Message
}

func (h *memoryHistory) Append(_ context.Context, msg conversation.Message) error {
	for _, m := range h.msgs {
		if msg.SourceID != "" && m.ChatID == msg.ChatID && m.SourceID == msg.SourceID {
			return nil
		}
	}
	h.msgs = append(h.msgs, msg)
	return nil
}

func (h *memoryHistory) Recent(_ context.Context, _ uuid.UUID, chatID string, n int) ([]conversation.Message, error) {
	var out []conversation.Message
	for _, m := range h.msgs {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out, nil
}

func (h *memoryHistory) ChatForLead(_ context.Context, _ uuid.UUID, leadID int64) (string, error) {
	for i := len(h.msgs) - 1; i >= 0; i-- {
		if h.msgs[i].LeadID == leadID {
			return h.msgs[i].ChatID, nil
		}
	}
	return "", nil
}

func newProcessor(agent agents.Agent, rec *recorder, history *memoryHistory) *Processor {
	return New(Deps{
		Agents:   fakeAgents{agent: agent},
		Pauser:   rec,
		Chains:   rec,
		Triggers: rec,
		Replier:  rec,
		History:  history,
		Chats:    history,
		CRM:      crmtest.New(),
	}, logger.Nop())
}

func TestClientMessageWithoutTriggerGetsReply(t *testing.T) {
	rec := &recorder{}
	history := &memoryHistory{msgs: []conversation.Message{{ChatID: "chat-1", LeadID: 101, Role: conversation.RoleAssistant, Body: "Hi!"}}}
	p := newProcessor(agents.Agent{ID: uuid.New()}, rec, history)

	if err := p.ProcessWebhook(context.Background(), uuid.New(), []byte(clientMessage)); err != nil {
		t.Fatalf("process: %v", err)
	}

	if len(rec.requests) != 1 {
		t.Fatalf("expected triggers evaluated once, got %d", len(rec.requests))
	}
	if h := rec.requests[0].History; len(h) != 1 || h[0].Text != "Hi!" {
		t.Fatalf("expected history before the message, got %+v", h)
	}
	if len(rec.replies) != 1 || rec.replies[0].Message != "can you give me a better price?" {
		t.Fatalf("expected one reply request, got %+v", rec.replies)
	}
	if len(history.msgs) != 2 || history.msgs[1].Role != conversation.RoleClient {
		t.Fatalf("expected client message recorded, got %+v", history.msgs)
	}
	if len(rec.leads) != 0 {
		t.Fatalf("message must not start chains")
	}
}

func TestFiredTriggerSuppressesReply(t *testing.T) {
	rec := &recorder{fire: true}
	p := newProcessor(agents.Agent{ID: uuid.New()}, rec, &memoryHistory{})

	if err := p.ProcessWebhook(context.Background(), uuid.New(), []byte(clientMessage)); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(rec.replies) != 0 {
		t.Fatalf("expected reply suppressed, got %d", len(rec.replies))
	}
}

func TestOperatorMessagePausesAgent(t *testing.T) {
	tests := []struct {
		name       string
		pauseOnOp  bool
		wantPauses int
	}{
		{"pause enabled", true, 1},
		{"pause disabled", false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			history := &memoryHistory{}
			p := newProcessor(agents.Agent{ID: uuid.New(), PauseOnOperatorReply: tt.pauseOnOp}, rec, history)

			if err := p.ProcessWebhook(context.Background(), uuid.New(), []byte(operatorMessage)); err != nil {
				t.Fatalf("process: %v", err)
			}
			if len(rec.pauses) != tt.wantPauses {
				t.Fatalf("expected %d pauses, got %d", tt.wantPauses, len(rec.pauses))
			}
			if len(rec.requests) != 0 || len(rec.replies) != 0 {
				t.Fatalf("operator messages must not reach triggers or replies")
			}
			if len(history.msgs) != 1 || history.msgs[0].Role != conversation.RoleOperator {
				t.Fatalf("expected operator message recorded, got %+v", history.msgs)
			}
		})
	}
}

func TestStageChangeRunsChainsWithLeadChat(t *testing.T) {
	rec := &recorder{}
	history := &memoryHistory{msgs: []conversation.Message{{ChatID: "chat-9", LeadID: 101, Role: conversation.RoleClient, Body: "hi"}}}
	agent := agents.Agent{ID: uuid.New()}
	p := newProcessor(agent, rec, history)

	if err := p.ProcessWebhook(context.Background(), uuid.New(), []byte(stageChange)); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(rec.leads) != 1 {
		t.Fatalf("expected chains notified once, got %d", len(rec.leads))
	}
	lead := rec.leads[0]
	if lead.LeadID != 101 || lead.StageID != 142 || lead.PipelineID != 7 || lead.ChatID != "chat-9" || lead.Agent.ID != agent.ID {
		t.Fatalf("unexpected lead context %+v", lead)
	}
	if len(rec.requests) != 1 || rec.requests[0].Event.ChatID != "chat-9" {
		t.Fatalf("expected triggers evaluated for the stage event")
	}
	if len(rec.replies) != 0 {
		t.Fatalf("stage events never produce replies")
	}
}

func TestIgnoredEvents(t *testing.T) {
	rec := &recorder{}
	p := newProcessor(agents.Agent{}, rec, &memoryHistory{})
	p.Agents = fakeAgents{err: agents.ErrNoAgent}

	for _, raw := range []string{`{"nothing":"here"}`, stageChange} {
		if err := p.ProcessWebhook(context.Background(), uuid.New(), []byte(raw)); err != nil {
			t.Fatalf("expected ignored payload to succeed, got %v", err)
		}
	}
	if len(rec.requests)+len(rec.leads)+len(rec.replies) != 0 {
		t.Fatalf("expected no downstream calls")
	}
}

func TestInfrastructureErrorsAreReturned(t *testing.T) {
	rec := &recorder{chainErr: errors.New("db down")}
	p := newProcessor(agents.Agent{ID: uuid.New()}, rec, &memoryHistory{})

	if err := p.ProcessWebhook(context.Background(), uuid.New(), []byte(stageChange)); err == nil {
		t.Fatalf("expected chain failure to be returned")
	}

	p.Agents = fakeAgents{err: errors.New("connection refused")}
	if err := p.ProcessWebhook(context.Background(), uuid.New(), []byte(clientMessage)); err == nil {
		t.Fatalf("expected agent lookup failure to be returned")
	}
}

func TestMessageEventFillsPipelineFromCRM(t *testing.T) {
	fake := crmtest.New()
	fake.Leads[101] = crm.Lead{ID: 101, PipelineID: 7, StatusID: 142, ContactIDs: []int64{5}}
	rec := &recorder{}
	p := newProcessor(agents.Agent{ID: uuid.New()}, rec, &memoryHistory{})
	p.CRM = fake

	if err := p.ProcessWebhook(context.Background(), uuid.New(), []byte(clientMessage)); err != nil {
		t.Fatalf("process: %v", err)
	}
	ev := rec.requests[0].Event
	if ev.PipelineID != 7 || ev.StageID != 142 || ev.ContactID != 5 {
		t.Fatalf("expected lead details filled from CRM, got %+v", ev)
	}
}

func TestRetriedMessageIsRecordedOnce(t *testing.T) {
	rec := &recorder{replyErr: errors.New("crm returned 502")}
	history := &memoryHistory{msgs: []conversation.Message{{ChatID: "chat-1", LeadID: 101, Role: conversation.RoleAssistant, Body: "Hi!"}}}
	p := newProcessor(agents.Agent{ID: uuid.New()}, rec, history)
	integrationID := uuid.New()

	for attempt := 1; attempt <= 3; attempt++ {
		if err := p.ProcessWebhook(context.Background(), integrationID, []byte(clientMessage)); err == nil {
			t.Fatalf("attempt %d: expected reply failure to be returned", attempt)
		}
	}

	clientRows := 0
	for _, m := range history.msgs {
		if m.Role == conversation.RoleClient {
			clientRows++
		}
	}
	if clientRows != 1 {
		t.Fatalf("expected one client row after retries, got %d: %+v", clientRows, history.msgs)
	}
	for i, req := range rec.requests {
		if len(req.History) != 1 || req.History[0].Text != "Hi!" {
			t.Fatalf("attempt %d: expected only the prior turn in the window, got %+v", i+1, req.History)
		}
	}
	for i, req := range rec.replies {
		if len(req.History) != 1 {
			t.Fatalf("attempt %d: reply transcript repeats the message: %+v", i+1, req.History)
		}
	}
}

func TestCRMMessageIDKeysHistory(t *testing.T) {
	const withID = `{"message":{"add":[{"id":"msg-77","chat_id":"chat-1","text":"hello","element_type":"2","element_id":"101","type":"incoming","author":{"id":"0"}}]}}`
	history := &memoryHistory{}
	p := newProcessor(agents.Agent{ID: uuid.New()}, &recorder{}, history)

	if err := p.ProcessWebhook(context.Background(), uuid.New(), []byte(withID)); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(history.msgs) != 1 || history.msgs[0].SourceID != "crm:msg-77" {
		t.Fatalf("expected message keyed by its CRM id, got %+v", history.msgs)
	}
}
