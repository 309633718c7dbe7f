package router

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	apphttp "github.com/worldwideservice/ai-agent-platform-sub002/internal/http"
	"github.com/worldwideservice/ai-agent-platform-sub002/platform/httpkit"
)

const adminRole = "admin"

// New assembles the gin engine from the app's modules.
func New(app *apphttp.App) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(httpkit.RequestLogger(app.Logger))
	engine.Use(httpkit.SecurityHeaders())

	engine.GET("/api/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/api/ready", readiness(app))

	engine.NoRoute(func(c *gin.Context) {
		httpkit.Error(c, http.StatusNotFound, "route not found", nil)
	})

	auth := httpkit.AuthRequired(app.Config)
	v1 := engine.Group("/api/v1")
	admin := v1.Group("/admin", auth, httpkit.RequireRole(adminRole))

	rctx := &apphttp.RouterContext{
		Engine:         engine,
		V1:             v1,
		Admin:          admin,
		Config:         app.Config,
		AuthMiddleware: auth,
	}
	for _, m := range app.Modules {
		m.RegisterRoutes(rctx)
		app.Logger.Debug("module routes registered", "module", m.Name())
	}

	return engine
}

func readiness(app *apphttp.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		checks := gin.H{"database": "ok"}
		status := http.StatusOK
		if app.Health != nil {
			if err := app.Health.Ping(ctx); err != nil {
				checks["database"] = "unavailable"
				status = http.StatusServiceUnavailable
			}
		}
		if app.Queue != nil {
			checks["queue"] = "ok"
			if err := app.Queue.Ping(ctx); err != nil {
				// The in-process fallback keeps ingress working without the queue.
				checks["queue"] = "degraded"
			}
		}
		c.JSON(status, checks)
	}
}
