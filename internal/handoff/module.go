package handoff

import (
	"github.com/jackc/pgx/v5/pgxpool"

	apphttp "github.com/worldwideservice/ai-agent-platform-sub002/internal/http"
	"github.com/worldwideservice/ai-agent-platform-sub002/platform/validator"
)

// Module exposes the admin pause/resume endpoints.
type Module struct {
	handler *Handler
}

func NewModule(service *Service, val *validator.Validator) *Module {
	return &Module{handler: NewHandler(service, val)}
}

// NewStore returns the Postgres-backed pause store.
func NewStore(pool *pgxpool.Pool) Store {
	return NewRepository(pool)
}

func (m *Module) Name() string {
	return "handoff"
}

func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	group := ctx.Admin.Group("/handoff/:integrationId/leads/:leadId")
	group.GET("", m.handler.HandleStatus)
	group.POST("", m.handler.HandlePause)
	group.DELETE("", m.handler.HandleResume)
}

var _ apphttp.Module = (*Module)(nil)
