// Package webhook is the public ingress for CRM webhooks.
package webhook

import (
	"time"

	"golang.org/x/time/rate"

	apphttp "github.com/worldwideservice/ai-agent-platform-sub002/internal/http"
	"github.com/worldwideservice/ai-agent-platform-sub002/platform/httpkit"
	"github.com/worldwideservice/ai-agent-platform-sub002/platform/logger"
)

// Module is the webhook bounded context module implementing http.Module.
type Module struct {
	handler *Handler
	limiter *httpkit.IPRateLimiter
}

// NewModule creates the module. ipRate <= 0 disables per-IP limiting.
func NewModule(dispatcher Dispatcher, ackTimeout time.Duration, ipRate float64, ipBurst int, log *logger.Logger) *Module {
	m := &Module{handler: NewHandler(dispatcher, ackTimeout, log)}
	if ipRate > 0 {
		if ipBurst < 1 {
			ipBurst = 1
		}
		m.limiter = httpkit.NewIPRateLimiter(rate.Limit(ipRate), ipBurst, log)
	}
	return m
}

func (m *Module) Name() string {
	return "webhook"
}

func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	group := ctx.V1.Group("/webhooks")
	if m.limiter != nil {
		group.Use(m.limiter.RateLimit())
	}
	group.POST("/crm/:integrationId", m.handler.HandleCRMWebhook)
}

var _ apphttp.Module = (*Module)(nil)
