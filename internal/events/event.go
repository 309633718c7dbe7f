// Package events normalizes heterogeneous CRM webhook payloads into one
// canonical event type. Classification is pure: the same payload always
// yields the same event.
package events

import "time"

// Type identifies the kind of canonical event.
type Type string

const (
	TypeLeadAdded         Type = "lead_added"
	TypeLeadStatusChanged Type = "lead_status_changed"
	TypeLeadUpdated       Type = "lead_updated"
	TypeContactAdded      Type = "contact_added"
	TypeContactUpdated    Type = "contact_updated"
	TypeTaskAdded         Type = "task_added"
	TypeTaskUpdated       Type = "task_updated"
	TypeTalkCreated       Type = "talk_created"
	TypeTalkUpdated       Type = "talk_updated"
	TypeIncomingMessage   Type = "incoming_message"
	TypeIncomingEmail     Type = "incoming_email"
)

// ActorKind tells who authored the change or message.
type ActorKind string

const (
	ActorClient   ActorKind = "client"
	ActorEmployee ActorKind = "employee"
	ActorSystem   ActorKind = "system"
)

// Event is the canonical form of one CRM webhook.
type Event struct {
	Type        Type      `json:"type"`
	AccountID   int64     `json:"accountId,omitempty"`
	LeadID      int64     `json:"leadId,omitempty"`
	ContactID   int64     `json:"contactId,omitempty"`
	PipelineID  int64     `json:"pipelineId,omitempty"`
	StageID     int64     `json:"stageId,omitempty"`
	OldStageID  int64     `json:"oldStageId,omitempty"`
	MessageText string    `json:"messageText,omitempty"`
	Subject     string    `json:"subject,omitempty"`
	Channel     string    `json:"channel,omitempty"`
	ChatID      string    `json:"chatId,omitempty"`
	MessageID   string    `json:"messageId,omitempty"`
	TalkID      string    `json:"talkId,omitempty"`
	Actor       ActorKind `json:"actor"`
	ActorID     int64     `json:"actorId,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// IsMessage reports whether the event carries conversational text.
func (e *Event) IsMessage() bool {
	return e.Type == TypeIncomingMessage || e.Type == TypeIncomingEmail
}

// FromClient reports whether the client (not an operator or the system) authored the event.
func (e *Event) FromClient() bool {
	return e.Actor == ActorClient
}

// IsStageEvent reports whether the event can start or cancel chains.
func (e *Event) IsStageEvent() bool {
	return e.Type == TypeLeadAdded || e.Type == TypeLeadStatusChanged
}

// ConversationKey is the key used for per-chat state. It falls back to the
// lead when the CRM did not report a chat.
func (e *Event) ConversationKey() string {
	if e.ChatID != "" {
		return e.ChatID
	}
	if e.LeadID != 0 {
		return "lead:" + itoa(e.LeadID)
	}
	return ""
}

// Priority orders webhook jobs in the dispatch queue.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityDefault
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityDefault:
		return "default"
	default:
		return "low"
	}
}

// PriorityOf maps an event to its dispatch priority: direct client message,
// then session/talk state, then lead updates, then everything else.
func PriorityOf(e *Event) Priority {
	if e == nil {
		return PriorityLow
	}
	switch e.Type {
	case TypeIncomingMessage:
		if e.FromClient() {
			return PriorityCritical
		}
		return PriorityHigh
	case TypeTalkCreated, TypeTalkUpdated:
		return PriorityHigh
	case TypeLeadAdded, TypeLeadStatusChanged, TypeLeadUpdated:
		return PriorityDefault
	default:
		return PriorityLow
	}
}
