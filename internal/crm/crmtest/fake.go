// Package crmtest provides an in-memory CRM for tests.
package crmtest

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/worldwideservice/ai-agent-platform-sub002/internal/crm"
)

// Fake records mutations and serves lookups from its maps.
type Fake struct {
	mu sync.Mutex

	Leads     map[int64]crm.Lead
	Contacts  map[int64]crm.Contact
	Pipelines map[int64]crm.Pipeline
	Users     map[int64]crm.User

	Messages []crm.OutboundMessage
	Emails   []crm.OutboundEmail
	Tasks    []crm.Task
	Notes    []string

	// SendErr, when set, fails every SendMessage call.
	SendErr error
}

func New() *Fake {
	return &Fake{
		Leads:     make(map[int64]crm.Lead),
		Contacts:  make(map[int64]crm.Contact),
		Pipelines: make(map[int64]crm.Pipeline),
		Users:     make(map[int64]crm.User),
	}
}

// ForIntegration returns the fake for every integration.
func (f *Fake) ForIntegration(context.Context, uuid.UUID) (crm.API, error) {
	return f, nil
}

func (f *Fake) GetLead(_ context.Context, id int64) (crm.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if l, ok := f.Leads[id]; ok {
		return l, nil
	}
	return crm.Lead{}, crm.ErrNotFound
}

func (f *Fake) GetContact(_ context.Context, id int64) (crm.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.Contacts[id]; ok {
		return c, nil
	}
	return crm.Contact{}, crm.ErrNotFound
}

func (f *Fake) GetPipeline(_ context.Context, id int64) (crm.Pipeline, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.Pipelines[id]; ok {
		return p, nil
	}
	return crm.Pipeline{}, crm.ErrNotFound
}

func (f *Fake) GetUser(_ context.Context, id int64) (crm.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.Users[id]; ok {
		return u, nil
	}
	return crm.User{}, crm.ErrNotFound
}

func (f *Fake) SendMessage(_ context.Context, msg crm.OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendErr != nil {
		return f.SendErr
	}
	if msg.ChatID == "" {
		return errors.New("chat id is required")
	}
	f.Messages = append(f.Messages, msg)
	return nil
}

func (f *Fake) SendEmail(_ context.Context, email crm.OutboundEmail) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Emails = append(f.Emails, email)
	return nil
}

func (f *Fake) CreateTask(_ context.Context, task crm.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Tasks = append(f.Tasks, task)
	return nil
}

func (f *Fake) AddTags(context.Context, int64, []string) error {
	return nil
}

func (f *Fake) AddNote(_ context.Context, _ int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Notes = append(f.Notes, text)
	return nil
}

// SentMessages returns a copy of the messages sent so far.
func (f *Fake) SentMessages() []crm.OutboundMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]crm.OutboundMessage(nil), f.Messages...)
}

// SentEmails returns a copy of the emails sent so far.
func (f *Fake) SentEmails() []crm.OutboundEmail {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]crm.OutboundEmail(nil), f.Emails...)
}

var _ crm.Source = (*Fake)(nil)
