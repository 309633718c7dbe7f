package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/worldwideservice/ai-agent-platform-sub002/internal/events"
	"github.com/worldwideservice/ai-agent-platform-sub002/internal/scheduler"
	"github.com/worldwideservice/ai-agent-platform-sub002/platform/logger"
)

const maxPayloadBytes = 1 << 20

var errPayloadTooLarge = errors.New("webhook payload exceeds size limit")

// Dispatcher takes a job off the request path.
type Dispatcher interface {
	Dispatch(ctx context.Context, job scheduler.WebhookJob) error
}

type Handler struct {
	dispatcher Dispatcher
	ackTimeout time.Duration
	log        *logger.Logger
}

func NewHandler(dispatcher Dispatcher, ackTimeout time.Duration, log *logger.Logger) *Handler {
	if ackTimeout <= 0 {
		ackTimeout = 1500 * time.Millisecond
	}
	return &Handler{dispatcher: dispatcher, ackTimeout: ackTimeout, log: log}
}

// AckResponse is returned for every webhook, whatever happened to it.
type AckResponse struct {
	Status string `json:"status"`
	JobID  string `json:"jobId,omitempty"`
}

// HandleCRMWebhook accepts a CRM webhook and hands it to the dispatcher.
// POST /api/v1/webhooks/crm/:integrationId
// The CRM disables hooks that fail or respond slowly, so the answer is
// always 200 and comes within the ack timeout.
func (h *Handler) HandleCRMWebhook(c *gin.Context) {
	receivedAt := time.Now().UTC()
	log := h.log.WithContext(c.Request.Context())

	integrationID, err := uuid.Parse(c.Param("integrationId"))
	if err != nil {
		log.Warn("webhook for invalid integration id ignored", "integrationId", c.Param("integrationId"))
		c.JSON(http.StatusOK, AckResponse{Status: "ignored"})
		return
	}

	raw, err := readPayload(c)
	if errors.Is(err, errPayloadTooLarge) {
		log.Warn("webhook payload too large, ignored", "integrationId", integrationID, "limitBytes", maxPayloadBytes, "contentLength", c.Request.ContentLength)
		c.JSON(http.StatusOK, AckResponse{Status: "ignored"})
		return
	}
	if err != nil {
		log.Warn("webhook payload unreadable", "integrationId", integrationID, "error", err)
		c.JSON(http.StatusOK, AckResponse{Status: "ignored"})
		return
	}

	job := scheduler.WebhookJob{
		ID:            uuid.NewString(),
		IntegrationID: integrationID.String(),
		Payload:       raw,
		ReceivedAt:    receivedAt,
		Priority:      events.PriorityOf(events.Classify(raw)),
		Status:        scheduler.JobQueued,
	}
	log.WebhookReceived(job.IntegrationID, job.ID, job.Priority.String(), c.FullPath(), len(raw))

	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), h.ackTimeout)
	defer cancel()
	if err := h.dispatcher.Dispatch(ctx, job); err != nil {
		log.Error("webhook job could not be dispatched", "jobId", job.ID, "error", err)
		c.JSON(http.StatusOK, AckResponse{Status: "dropped", JobID: job.ID})
		return
	}

	c.JSON(http.StatusOK, AckResponse{Status: "accepted", JobID: job.ID})
}

// readPayload returns the body as JSON. Form-encoded bodies become a flat
// JSON object of their keys; bracketed keys are left for the classifier.
func readPayload(c *gin.Context) (json.RawMessage, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPayloadBytes+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxPayloadBytes {
		return nil, errPayloadTooLarge
	}

	mediaType, _, _ := mime.ParseMediaType(c.GetHeader("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" || !json.Valid(body) {
		return formToJSON(body)
	}
	return body, nil
}

func formToJSON(body []byte) (json.RawMessage, error) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, err
	}
	flat := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			flat[k] = v[0]
		}
	}
	return json.Marshal(flat)
}
