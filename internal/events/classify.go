package events

import (
	"strings"
	"time"
)

// builder turns the first entity found by a probe into an event, or nil when
// the entity lacks the identifiers the event type needs.
type builder func(entity map[string]any, section string) *Event

type probe struct {
	sections []string
	action   string
	build    builder
}

// probes is evaluated top to bottom; the first probe whose section/action
// is present and builds an event wins.
var probes = []probe{
	{sections: []string{"leads"}, action: "add", build: leadEvent(TypeLeadAdded)},
	{sections: []string{"leads"}, action: "status", build: leadEvent(TypeLeadStatusChanged)},
	{sections: []string{"leads"}, action: "update", build: leadEvent(TypeLeadUpdated)},
	{sections: []string{"contacts"}, action: "add", build: contactEvent(TypeContactAdded)},
	{sections: []string{"contacts"}, action: "update", build: contactEvent(TypeContactUpdated)},
	{sections: []string{"task", "tasks"}, action: "add", build: taskEvent(TypeTaskAdded)},
	{sections: []string{"task", "tasks"}, action: "update", build: taskEvent(TypeTaskUpdated)},
	{sections: []string{"talk", "talks"}, action: "add", build: talkEvent(TypeTalkCreated)},
	{sections: []string{"talk", "talks"}, action: "update", build: talkEvent(TypeTalkUpdated)},
	{sections: []string{"message", "messages"}, action: "add", build: messageEvent},
	{sections: []string{"leads", "contacts"}, action: "note", build: emailNoteEvent},
}

// emailNoteTypes are the note subtypes the CRM uses for mail messages.
var emailNoteTypes = map[string]bool{
	"amomail_message": true,
	"mail_message":    true,
	"email":           true,
	"15":              true,
}

// Classify decodes raw and returns its canonical event, or nil when the
// payload is malformed or matches no known shape.
func Classify(raw []byte) *Event {
	payload, err := Decode(raw)
	if err != nil {
		return nil
	}
	return payload.Classify()
}

// Classify returns the canonical event for a decoded payload, or nil.
func (p Payload) Classify() *Event {
	for _, pr := range probes {
		for _, section := range pr.sections {
			entity := p.first(section, pr.action)
			if entity == nil {
				continue
			}
			if ev := pr.build(entity, section); ev != nil {
				ev.AccountID = p.accountID()
				return ev
			}
		}
	}
	return nil
}

func (p Payload) accountID() int64 {
	account, ok := p["account"].(map[string]any)
	if !ok {
		return 0
	}
	return asInt64(field(account, "id", "account_id"))
}

func leadEvent(t Type) builder {
	return func(e map[string]any, _ string) *Event {
		id := asInt64(field(e, "id"))
		if id == 0 {
			return nil
		}
		ev := &Event{
			Type:       t,
			LeadID:     id,
			PipelineID: asInt64(field(e, "pipeline_id")),
			StageID:    asInt64(field(e, "status_id")),
			OldStageID: asInt64(field(e, "old_status_id")),
			Timestamp:  timestamp(e, "updated_at", "last_modified", "created_at", "date_create"),
		}
		ev.Actor, ev.ActorID = entityActor(asInt64(field(e, "modified_user_id", "created_user_id")))
		return ev
	}
}

func contactEvent(t Type) builder {
	return func(e map[string]any, _ string) *Event {
		id := asInt64(field(e, "id"))
		if id == 0 {
			return nil
		}
		ev := &Event{
			Type:      t,
			ContactID: id,
			LeadID:    firstLinkedLead(e),
			Timestamp: timestamp(e, "updated_at", "last_modified", "created_at", "date_create"),
		}
		ev.Actor, ev.ActorID = entityActor(asInt64(field(e, "modified_user_id", "created_user_id")))
		return ev
	}
}

func taskEvent(t Type) builder {
	return func(e map[string]any, _ string) *Event {
		elementID := asInt64(field(e, "element_id", "entity_id"))
		if elementID == 0 && asInt64(field(e, "id")) == 0 {
			return nil
		}
		ev := &Event{
			Type:        t,
			MessageText: asString(field(e, "text")),
			Timestamp:   timestamp(e, "updated_at", "last_modified", "created_at", "date_create"),
		}
		switch entityKind(field(e, "element_type", "entity_type")) {
		case "lead":
			ev.LeadID = elementID
		case "contact":
			ev.ContactID = elementID
		}
		ev.Actor, ev.ActorID = entityActor(asInt64(field(e, "modified_user_id", "created_user_id")))
		return ev
	}
}

func talkEvent(t Type) builder {
	return func(e map[string]any, _ string) *Event {
		talkID := asString(field(e, "talk_id", "id"))
		if talkID == "" {
			return nil
		}
		ev := &Event{
			Type:      t,
			TalkID:    talkID,
			ChatID:    asString(field(e, "chat_id")),
			ContactID: asInt64(field(e, "contact_id")),
			Channel:   asString(field(e, "origin")),
			Actor:     ActorSystem,
			Timestamp: timestamp(e, "updated_at", "created_at"),
		}
		if entityKind(field(e, "entity_type", "element_type")) == "lead" {
			ev.LeadID = asInt64(field(e, "entity_id", "element_id"))
		}
		return ev
	}
}

// messageEvent classifies chat messages. The author id heuristic is an
// approximation: 0 (or a non-numeric id) means the client wrote an incoming
// message or the system wrote an outgoing one; any positive id is an employee.
func messageEvent(e map[string]any, _ string) *Event {
	chatID := asString(field(e, "chat_id"))
	if chatID == "" {
		return nil
	}
	ev := &Event{
		Type:        TypeIncomingMessage,
		ChatID:      chatID,
		MessageID:   asString(field(e, "id")),
		TalkID:      asString(field(e, "talk_id")),
		ContactID:   asInt64(field(e, "contact_id")),
		MessageText: asString(field(e, "text")),
		Channel:     asString(field(e, "origin")),
		Timestamp:   timestamp(e, "created_at"),
	}
	if entityKind(field(e, "element_type", "entity_type")) == "lead" {
		ev.LeadID = asInt64(field(e, "element_id", "entity_id"))
	}

	var authorID int64
	if author, ok := e["author"].(map[string]any); ok {
		authorID = asInt64(field(author, "id"))
	}
	switch {
	case authorID > 0:
		ev.Actor, ev.ActorID = ActorEmployee, authorID
	case strings.EqualFold(asString(field(e, "type")), "outgoing"):
		ev.Actor = ActorSystem
	default:
		ev.Actor = ActorClient
	}
	return ev
}

// emailNoteEvent classifies mail notes. Notes of any other subtype are not
// events this system acts on. Same id heuristic as messageEvent.
func emailNoteEvent(e map[string]any, section string) *Event {
	note := e
	if nested, ok := e["note"].(map[string]any); ok {
		note = nested
	}
	if !emailNoteTypes[strings.ToLower(asString(field(note, "note_type", "type")))] {
		return nil
	}

	elementID := asInt64(field(note, "element_id", "entity_id"))
	if elementID == 0 {
		elementID = asInt64(field(e, "element_id", "entity_id", "id"))
	}
	if elementID == 0 {
		return nil
	}

	ev := &Event{
		Type:        TypeIncomingEmail,
		MessageID:   asString(field(note, "id")),
		MessageText: asString(field(note, "text")),
		Channel:     "email",
		Timestamp:   timestamp(note, "created_at", "date_create"),
	}
	if params, ok := note["params"].(map[string]any); ok {
		ev.Subject = asString(field(params, "subject"))
		if ev.MessageText == "" {
			ev.MessageText = asString(field(params, "content_summary", "text"))
		}
	}
	if section == "contacts" {
		ev.ContactID = elementID
	} else {
		ev.LeadID = elementID
	}

	authorID := asInt64(field(note, "created_by", "created_user_id"))
	if authorID > 0 {
		ev.Actor, ev.ActorID = ActorEmployee, authorID
	} else {
		ev.Actor = ActorClient
	}
	return ev
}

// entityActor applies the id heuristic to entity changes: 0 is the system.
func entityActor(userID int64) (ActorKind, int64) {
	if userID > 0 {
		return ActorEmployee, userID
	}
	return ActorSystem, 0
}

func entityKind(v any) string {
	switch strings.ToLower(asString(v)) {
	case "2", "lead", "leads":
		return "lead"
	case "1", "contact", "contacts":
		return "contact"
	default:
		return ""
	}
}

func firstLinkedLead(e map[string]any) int64 {
	switch linked := e["linked_leads_id"].(type) {
	case map[string]any:
		for key := range linked {
			if id := asInt64(key); id > 0 {
				return id
			}
		}
	case []any:
		for _, v := range linked {
			if item, ok := v.(map[string]any); ok {
				v = field(item, "ID", "id")
			}
			if id := asInt64(v); id > 0 {
				return id
			}
		}
	}
	return 0
}

func timestamp(e map[string]any, keys ...string) time.Time {
	for _, key := range keys {
		if ts := asUnixTime(e[key]); !ts.IsZero() {
			return ts
		}
	}
	return time.Time{}
}
