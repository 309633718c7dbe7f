package events

import (
	"reflect"
	"testing"
	"time"
)

func TestClassifyLeadStatusNested(t *testing.T) {
	raw := []byte(`{
		"account": {"id": "31337", "subdomain": "acme"},
		"leads": {"status": [{"id": "101", "status_id": "142", "old_status_id": "141", "pipeline_id": "7", "modified_user_id": "0", "updated_at": "1700000000"}]}
	}`)

	ev := Classify(raw)
	if ev == nil {
		t.Fatalf("expected event, got nil")
	}
	if ev.Type != TypeLeadStatusChanged {
		t.Fatalf("expected %s, got %s", TypeLeadStatusChanged, ev.Type)
	}
	if ev.LeadID != 101 || ev.StageID != 142 || ev.OldStageID != 141 || ev.PipelineID != 7 {
		t.Fatalf("unexpected ids: %+v", ev)
	}
	if ev.AccountID != 31337 {
		t.Fatalf("expected account 31337, got %d", ev.AccountID)
	}
	if ev.Actor != ActorSystem {
		t.Fatalf("expected system actor, got %s", ev.Actor)
	}
	if !ev.Timestamp.Equal(time.Unix(1700000000, 0)) {
		t.Fatalf("unexpected timestamp %v", ev.Timestamp)
	}
}

func TestClassifyBracketEncodingMatchesNested(t *testing.T) {
	nested := []byte(`{"leads":{"status":[{"id":"101","status_id":"142","old_status_id":"141","pipeline_id":"7","modified_user_id":"55"}]},"account":{"id":"1"}}`)
	flat := []byte(`{
		"leads[status][0][id]": "101",
		"leads[status][0][status_id]": "142",
		"leads[status][0][old_status_id]": "141",
		"leads[status][0][pipeline_id]": "7",
		"leads[status][0][modified_user_id]": "55",
		"account[id]": "1"
	}`)

	a, b := Classify(nested), Classify(flat)
	if a == nil || b == nil {
		t.Fatalf("expected both encodings to classify, got %v / %v", a, b)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("encodings disagree:\nnested=%+v\nflat=%+v", a, b)
	}
	if a.Actor != ActorEmployee || a.ActorID != 55 {
		t.Fatalf("expected employee 55, got %s %d", a.Actor, a.ActorID)
	}
}

func TestClassifyContactBracketEncodingKeepsLinkedLead(t *testing.T) {
	nested := []byte(`{"contacts":{"update":[{"id":"55","linked_leads_id":{"9001":{"ID":"9001"}}}]}}`)
	flat := []byte(`{
		"contacts[update][0][id]": "55",
		"contacts[update][0][linked_leads_id][9001][ID]": "9001"
	}`)

	a, b := Classify(nested), Classify(flat)
	if a == nil || b == nil {
		t.Fatalf("expected both encodings to classify, got %v / %v", a, b)
	}
	if a.ContactID != 55 || b.ContactID != 55 {
		t.Fatalf("expected contact 55, got %d / %d", a.ContactID, b.ContactID)
	}
	if a.LeadID != 9001 || b.LeadID != 9001 {
		t.Fatalf("expected linked lead 9001, got nested=%d flat=%d", a.LeadID, b.LeadID)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("encodings disagree:\nnested=%+v\nflat=%+v", a, b)
	}
}

func TestClassifyPrecedence(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Type
	}{
		{
			name: "lead added beats status",
			raw:  `{"leads":{"add":[{"id":"1"}],"status":[{"id":"1","status_id":"2"}]}}`,
			want: TypeLeadAdded,
		},
		{
			name: "status beats update",
			raw:  `{"leads":{"update":[{"id":"1"}],"status":[{"id":"1","status_id":"2"}]}}`,
			want: TypeLeadStatusChanged,
		},
		{
			name: "lead update beats contact",
			raw:  `{"contacts":{"add":[{"id":"9"}]},"leads":{"update":[{"id":"1"}]}}`,
			want: TypeLeadUpdated,
		},
		{
			name: "contact added beats contact update",
			raw:  `{"contacts":{"add":[{"id":"9"}],"update":[{"id":"9"}]}}`,
			want: TypeContactAdded,
		},
		{
			name: "contact update beats task",
			raw:  `{"contacts":{"update":[{"id":"9"}]},"task":{"add":[{"id":"3","element_id":"1","element_type":"2"}]}}`,
			want: TypeContactUpdated,
		},
		{
			name: "task beats talk",
			raw:  `{"task":{"update":[{"id":"3"}]},"talk":{"add":[{"talk_id":"77"}]}}`,
			want: TypeTaskUpdated,
		},
		{
			name: "talk beats message",
			raw:  `{"talk":{"update":[{"talk_id":"77","chat_id":"c"}]},"message":{"add":[{"chat_id":"c","text":"hi"}]}}`,
			want: TypeTalkUpdated,
		},
		{
			name: "message beats email note",
			raw:  `{"message":{"add":[{"chat_id":"c","text":"hi"}]},"leads":{"note":[{"note":{"note_type":"amomail_message","element_id":"1"}}]}}`,
			want: TypeIncomingMessage,
		},
		{
			name: "email note",
			raw:  `{"leads":{"note":[{"note":{"note_type":"amomail_message","element_id":"1","text":"hello","params":{"subject":"Quote"}}}]}}`,
			want: TypeIncomingEmail,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := Classify([]byte(tt.raw))
			if ev == nil {
				t.Fatalf("expected %s, got nil", tt.want)
			}
			if ev.Type != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, ev.Type)
			}
		})
	}
}

func TestClassifyMessageActorHeuristic(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantActor ActorKind
		wantID    int64
	}{
		{
			name:      "incoming with zero author is client",
			raw:       `{"message":{"add":[{"chat_id":"c1","text":"can you give me a better price?","type":"incoming","author":{"id":"0"}}]}}`,
			wantActor: ActorClient,
		},
		{
			name:      "outgoing with zero author is system",
			raw:       `{"message":{"add":[{"chat_id":"c1","text":"auto","type":"outgoing","author":{"id":"0"}}]}}`,
			wantActor: ActorSystem,
		},
		{
			name:      "positive author is employee",
			raw:       `{"message":{"add":[{"chat_id":"c1","text":"I'll take it","type":"outgoing","author":{"id":"4242"}}]}}`,
			wantActor: ActorEmployee,
			wantID:    4242,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := Classify([]byte(tt.raw))
			if ev == nil {
				t.Fatalf("expected event, got nil")
			}
			if ev.Actor != tt.wantActor || ev.ActorID != tt.wantID {
				t.Fatalf("expected %s/%d, got %s/%d", tt.wantActor, tt.wantID, ev.Actor, ev.ActorID)
			}
		})
	}
}

func TestClassifyMessageFields(t *testing.T) {
	raw := []byte(`{"message":{"add":[{"id":"m1","chat_id":"chat-1","talk_id":"88","contact_id":"5","text":"hello","element_type":"2","element_id":"101","origin":"telegram","created_at":"1700000100","type":"incoming","author":{"id":"0","name":"Ann"}}]}}`)

	ev := Classify(raw)
	if ev == nil {
		t.Fatalf("expected event, got nil")
	}
	want := &Event{
		Type:        TypeIncomingMessage,
		LeadID:      101,
		ContactID:   5,
		MessageText: "hello",
		Channel:     "telegram",
		ChatID:      "chat-1",
		MessageID:   "m1",
		TalkID:      "88",
		Actor:       ActorClient,
		Timestamp:   time.Unix(1700000100, 0).UTC(),
	}
	if !reflect.DeepEqual(ev, want) {
		t.Fatalf("unexpected event:\n got %+v\nwant %+v", ev, want)
	}
	if PriorityOf(ev) != PriorityCritical {
		t.Fatalf("expected critical priority, got %s", PriorityOf(ev))
	}
}

func TestClassifyUnrecognized(t *testing.T) {
	inputs := []string{
		``,
		`not json`,
		`{}`,
		`{"unknown":{"thing":[{"id":"1"}]}}`,
		`{"leads":{"note":[{"note":{"note_type":"common","element_id":"1"}}]}}`,
		`{"leads":{"add":[{"name":"missing id"}]}}`,
	}
	for _, in := range inputs {
		if ev := Classify([]byte(in)); ev != nil {
			t.Fatalf("expected nil for %q, got %+v", in, ev)
		}
	}
}

func TestClassifyIsPure(t *testing.T) {
	raw := []byte(`{"leads[update][0][id]":"5","leads[update][0][pipeline_id]":"3","leads[update][1][id]":"6"}`)

	first := Classify(raw)
	for i := 0; i < 10; i++ {
		if got := Classify(raw); !reflect.DeepEqual(first, got) {
			t.Fatalf("classification changed between calls: %+v vs %+v", first, got)
		}
	}
	if first == nil || first.LeadID != 5 {
		t.Fatalf("expected first batch item (lead 5), got %+v", first)
	}
}

func TestPriorityOf(t *testing.T) {
	tests := []struct {
		ev   *Event
		want Priority
	}{
		{&Event{Type: TypeIncomingMessage, Actor: ActorClient}, PriorityCritical},
		{&Event{Type: TypeIncomingMessage, Actor: ActorEmployee}, PriorityHigh},
		{&Event{Type: TypeTalkCreated}, PriorityHigh},
		{&Event{Type: TypeLeadStatusChanged}, PriorityDefault},
		{&Event{Type: TypeContactUpdated}, PriorityLow},
		{nil, PriorityLow},
	}
	for _, tt := range tests {
		if got := PriorityOf(tt.ev); got != tt.want {
			t.Fatalf("PriorityOf(%+v) = %s, want %s", tt.ev, got, tt.want)
		}
	}
}
