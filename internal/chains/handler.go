package chains

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/worldwideservice/ai-agent-platform-sub002/platform/apperr"
	"github.com/worldwideservice/ai-agent-platform-sub002/platform/httpkit"
	"github.com/worldwideservice/ai-agent-platform-sub002/platform/validator"
)

// CancelRunRequest is the optional body of an explicit cancel.
type CancelRunRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// RunResponse is a run with its scheduled steps.
type RunResponse struct {
	Run   Run             `json:"run"`
	Steps []ScheduledStep `json:"steps"`
}

type CancelRunResponse struct {
	RunID          uuid.UUID `json:"runId"`
	StepsCancelled int       `json:"stepsCancelled"`
}

type Handler struct {
	engine *Engine
	val    *validator.Validator
}

func NewHandler(engine *Engine, val *validator.Validator) *Handler {
	return &Handler{engine: engine, val: val}
}

// HandleGetRun returns a run and its scheduled steps.
// GET /api/v1/admin/chain-runs/:runId
func (h *Handler) HandleGetRun(c *gin.Context) {
	runID, ok := parseRunID(c)
	if !ok {
		return
	}
	run, steps, err := h.engine.RunDetails(c.Request.Context(), runID)
	if httpkit.HandleError(c, mapError(err)) {
		return
	}
	if steps == nil {
		steps = []ScheduledStep{}
	}
	httpkit.OK(c, RunResponse{Run: run, Steps: steps})
}

// HandleCancelRun cancels a running run.
// POST /api/v1/admin/chain-runs/:runId/cancel
func (h *Handler) HandleCancelRun(c *gin.Context) {
	runID, ok := parseRunID(c)
	if !ok {
		return
	}
	op, ok := httpkit.RequireOperator(c)
	if !ok {
		return
	}

	var req CancelRunRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			httpkit.HandleError(c, apperr.BadRequest("invalid request body"))
			return
		}
		if err := h.val.Struct(req); err != nil {
			httpkit.HandleError(c, apperr.Validation("validation error").WithDetails(err.Error()))
			return
		}
	}
	reason := req.Reason
	if reason == "" {
		reason = "cancelled by " + op.Label()
	}

	cancelled, err := h.engine.Cancel(c.Request.Context(), runID, reason)
	if httpkit.HandleError(c, mapError(err)) {
		return
	}
	httpkit.OK(c, CancelRunResponse{RunID: runID, StepsCancelled: cancelled})
}

func parseRunID(c *gin.Context) (uuid.UUID, bool) {
	runID, err := uuid.Parse(c.Param("runId"))
	if err != nil {
		httpkit.HandleError(c, apperr.BadRequest("invalid run ID"))
		return uuid.Nil, false
	}
	return runID, true
}

func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrRunNotFound):
		return apperr.NotFound("chain run not found")
	case errors.Is(err, ErrInvalidTransition):
		return apperr.Conflict("chain run is not running")
	default:
		return apperr.Wrap(apperr.KindInternal, "chain run operation failed", err)
	}
}
