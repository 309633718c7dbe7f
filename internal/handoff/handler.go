package handoff

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/worldwideservice/ai-agent-platform-sub002/platform/apperr"
	"github.com/worldwideservice/ai-agent-platform-sub002/platform/httpkit"
	"github.com/worldwideservice/ai-agent-platform-sub002/platform/validator"
)

// PauseRequest is the body of an explicit operator takeover.
type PauseRequest struct {
	AgentID uuid.UUID `json:"agentId" validate:"required"`
	UserID  int64     `json:"userId" validate:"gte=0"`
}

type Handler struct {
	service *Service
	val     *validator.Validator
}

func NewHandler(service *Service, val *validator.Validator) *Handler {
	return &Handler{service: service, val: val}
}

// HandlePause pauses the agent for a lead.
// POST /api/v1/admin/handoff/:integrationId/leads/:leadId
func (h *Handler) HandlePause(c *gin.Context) {
	integrationID, leadID, ok := parseLeadPath(c)
	if !ok {
		return
	}
	if _, ok := httpkit.RequireOperator(c); !ok {
		return
	}

	var req PauseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.HandleError(c, apperr.BadRequest("invalid request body"))
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.HandleError(c, apperr.Validation("validation error").WithDetails(err.Error()))
		return
	}

	if err := h.service.Pause(c.Request.Context(), integrationID, leadID, req.AgentID, req.UserID); err != nil {
		httpkit.HandleError(c, apperr.Wrap(apperr.KindInternal, "failed to pause agent", err))
		return
	}
	h.respondStatus(c, integrationID, leadID)
}

// HandleResume returns the lead to the agent.
// DELETE /api/v1/admin/handoff/:integrationId/leads/:leadId
func (h *Handler) HandleResume(c *gin.Context) {
	integrationID, leadID, ok := parseLeadPath(c)
	if !ok {
		return
	}
	if _, ok := httpkit.RequireOperator(c); !ok {
		return
	}
	if err := h.service.Resume(c.Request.Context(), integrationID, leadID); err != nil {
		httpkit.HandleError(c, apperr.Wrap(apperr.KindInternal, "failed to resume agent", err))
		return
	}
	h.respondStatus(c, integrationID, leadID)
}

// HandleStatus reports the lead's handoff state.
// GET /api/v1/admin/handoff/:integrationId/leads/:leadId
func (h *Handler) HandleStatus(c *gin.Context) {
	integrationID, leadID, ok := parseLeadPath(c)
	if !ok {
		return
	}
	h.respondStatus(c, integrationID, leadID)
}

func (h *Handler) respondStatus(c *gin.Context, integrationID uuid.UUID, leadID int64) {
	st, err := h.service.Status(c.Request.Context(), integrationID, leadID)
	if err != nil {
		httpkit.HandleError(c, apperr.Wrap(apperr.KindInternal, "failed to load handoff status", err))
		return
	}
	httpkit.OK(c, st)
}

func parseLeadPath(c *gin.Context) (uuid.UUID, int64, bool) {
	integrationID, err := uuid.Parse(c.Param("integrationId"))
	if err != nil {
		httpkit.HandleError(c, apperr.BadRequest("invalid integration ID"))
		return uuid.Nil, 0, false
	}
	leadID, err := strconv.ParseInt(c.Param("leadId"), 10, 64)
	if err != nil || leadID <= 0 {
		httpkit.HandleError(c, apperr.BadRequest("invalid lead ID"))
		return uuid.Nil, 0, false
	}
	return integrationID, leadID, true
}
