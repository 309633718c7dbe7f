package crm

import (
	"context"

	"github.com/google/uuid"
)

// API is the CRM contract the automation engine depends on.
type API interface {
	GetLead(ctx context.Context, leadID int64) (Lead, error)
	GetContact(ctx context.Context, contactID int64) (Contact, error)
	GetPipeline(ctx context.Context, pipelineID int64) (Pipeline, error)
	GetUser(ctx context.Context, userID int64) (User, error)
	SendMessage(ctx context.Context, msg OutboundMessage) error
	SendEmail(ctx context.Context, email OutboundEmail) error
	CreateTask(ctx context.Context, task Task) error
	AddTags(ctx context.Context, leadID int64, tags []string) error
	AddNote(ctx context.Context, leadID int64, text string) error
}

// Source resolves the API of one integration.
type Source interface {
	ForIntegration(ctx context.Context, integrationID uuid.UUID) (API, error)
}

// ForIntegration implements Source.
func (p *Provider) ForIntegration(ctx context.Context, integrationID uuid.UUID) (API, error) {
	client, err := p.ClientFor(ctx, integrationID)
	if err != nil {
		return nil, err
	}
	return client, nil
}

var (
	_ API    = (*Client)(nil)
	_ Source = (*Provider)(nil)
)
