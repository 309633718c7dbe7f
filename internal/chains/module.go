package chains

import (
	apphttp "github.com/worldwideservice/ai-agent-platform-sub002/internal/http"
	"github.com/worldwideservice/ai-agent-platform-sub002/platform/validator"
)

// Module exposes chain run inspection and cancellation to admins.
type Module struct {
	handler *Handler
}

func NewModule(engine *Engine, val *validator.Validator) *Module {
	return &Module{handler: NewHandler(engine, val)}
}

func (m *Module) Name() string {
	return "chains"
}

func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	runs := ctx.Admin.Group("/chain-runs")
	runs.GET("/:runId", m.handler.HandleGetRun)
	runs.POST("/:runId/cancel", m.handler.HandleCancelRun)
}

var _ apphttp.Module = (*Module)(nil)
