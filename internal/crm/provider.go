package crm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/worldwideservice/ai-agent-platform-sub002/platform/config"
	"github.com/worldwideservice/ai-agent-platform-sub002/platform/logger"
)

// ErrIntegrationInactive is returned for unknown or disabled integrations.
var ErrIntegrationInactive = errors.New("crm integration not found or inactive")

// Integration is a connected CRM account.
type Integration struct {
	ID          uuid.UUID
	Name        string
	BaseURL     string
	AccessToken string
	IsActive    bool
}

// IntegrationStore loads integration credentials.
type IntegrationStore interface {
	GetIntegration(ctx context.Context, id uuid.UUID) (Integration, error)
}

// IntegrationRepository reads integrations from Postgres.
type IntegrationRepository struct {
	pool *pgxpool.Pool
}

func NewIntegrationRepository(pool *pgxpool.Pool) *IntegrationRepository {
	return &IntegrationRepository{pool: pool}
}

func (r *IntegrationRepository) GetIntegration(ctx context.Context, id uuid.UUID) (Integration, error) {
	var in Integration
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, crm_base_url, access_token, is_active
		FROM integrations
		WHERE id = $1`, id,
	).Scan(&in.ID, &in.Name, &in.BaseURL, &in.AccessToken, &in.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return Integration{}, ErrIntegrationInactive
	}
	if err != nil {
		return Integration{}, fmt.Errorf("get integration: %w", err)
	}
	return in, nil
}

// Provider hands out one Client per integration. Clients for the same
// integration share a Limiter so the ceiling holds across all callers in
// the process.
type Provider struct {
	store    IntegrationStore
	perSec   int
	maxQueue int
	timeout  time.Duration
	log      *logger.Logger

	mu      sync.Mutex
	clients map[uuid.UUID]*cachedClient
}

type cachedClient struct {
	client *Client
	token  string
	base   string
}

func NewProvider(store IntegrationStore, cfg config.CRMConfig, log *logger.Logger) *Provider {
	return &Provider{
		store:    store,
		perSec:   cfg.GetCRMRequestsPerSecond(),
		maxQueue: cfg.GetCRMMaxQueue(),
		timeout:  cfg.GetCRMTimeout(),
		log:      log,
		clients:  make(map[uuid.UUID]*cachedClient),
	}
}

// ClientFor returns the client for integrationID. Credentials are re-read on
// every call so rotated tokens take effect; the limiter is kept.
func (p *Provider) ClientFor(ctx context.Context, integrationID uuid.UUID) (*Client, error) {
	in, err := p.store.GetIntegration(ctx, integrationID)
	if err != nil {
		return nil, err
	}
	if !in.IsActive {
		return nil, ErrIntegrationInactive
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	cached, ok := p.clients[integrationID]
	if ok && cached.token == in.AccessToken && cached.base == in.BaseURL {
		return cached.client, nil
	}

	var limiter *Limiter
	if ok {
		limiter = cached.client.limiter
	} else {
		limiter = NewLimiter(p.perSec, time.Second, p.maxQueue)
	}
	client := NewClient(in.BaseURL, in.AccessToken, limiter, p.timeout, p.log)
	p.clients[integrationID] = &cachedClient{client: client, token: in.AccessToken, base: in.BaseURL}
	return client, nil
}
