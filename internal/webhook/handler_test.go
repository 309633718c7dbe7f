package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/worldwideservice/ai-agent-platform-sub002/internal/events"
	apphttp "github.com/worldwideservice/ai-agent-platform-sub002/internal/http"
	"github.com/worldwideservice/ai-agent-platform-sub002/internal/scheduler"
	"github.com/worldwideservice/ai-agent-platform-sub002/platform/logger"
)

type dispatchFunc func(ctx context.Context, job scheduler.WebhookJob) error

func (f dispatchFunc) Dispatch(ctx context.Context, job scheduler.WebhookJob) error { return f(ctx, job) }

func newTestRouter(d Dispatcher, ackTimeout time.Duration) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	m := NewModule(d, ackTimeout, 0, 0, logger.Nop())
	m.RegisterRoutes(&apphttp.RouterContext{Engine: engine, V1: engine.Group("/api/v1")})
	return engine
}

func post(engine *gin.Engine, path, contentType, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func decodeAck(t *testing.T, rec *httptest.ResponseRecorder) AckResponse {
	t.Helper()
	var resp AckResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func TestWebhookAcceptedWithPriority(t *testing.T) {
	var mu sync.Mutex
	var got []scheduler.WebhookJob
	engine := newTestRouter(dispatchFunc(func(_ context.Context, job scheduler.WebhookJob) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, job)
		return nil
	}), time.Second)

	integrationID := uuid.New()
	body := `{"message":{"add":[{"chat_id":"c1","text":"hi","type":"incoming","author":{"id":"0"}}]}}`
	rec := post(engine, "/api/v1/webhooks/crm/"+integrationID.String(), "application/json", body)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if resp := decodeAck(t, rec); resp.Status != "accepted" || resp.JobID == "" {
		t.Fatalf("unexpected ack %+v", resp)
	}
	if len(got) != 1 {
		t.Fatalf("expected one dispatched job, got %d", len(got))
	}
	job := got[0]
	if job.IntegrationID != integrationID.String() || job.Priority != events.PriorityCritical || string(job.Payload) != body {
		t.Fatalf("unexpected job %+v", job)
	}
}

func TestWebhookFormEncodedBecomesJSON(t *testing.T) {
	var job scheduler.WebhookJob
	engine := newTestRouter(dispatchFunc(func(_ context.Context, j scheduler.WebhookJob) error {
		job = j
		return nil
	}), time.Second)

	form := "leads%5Bstatus%5D%5B0%5D%5Bid%5D=101&leads%5Bstatus%5D%5B0%5D%5Bstatus_id%5D=142&leads%5Bstatus%5D%5B0%5D%5Bpipeline_id%5D=7"
	rec := post(engine, "/api/v1/webhooks/crm/"+uuid.NewString(), "application/x-www-form-urlencoded", form)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var flat map[string]string
	if err := json.Unmarshal(job.Payload, &flat); err != nil {
		t.Fatalf("payload is not a JSON object: %v", err)
	}
	if flat["leads[status][0][id]"] != "101" {
		t.Fatalf("expected bracket keys preserved, got %v", flat)
	}
	if job.Priority != events.PriorityDefault {
		t.Fatalf("expected lead status change to get default priority, got %s", job.Priority)
	}
	ev := events.Classify(job.Payload)
	if ev == nil || ev.Type != events.TypeLeadStatusChanged || ev.StageID != 142 {
		t.Fatalf("expected the converted payload to classify, got %+v", ev)
	}
}

func TestWebhookAlwaysAcknowledges(t *testing.T) {
	tests := []struct {
		name       string
		dispatcher Dispatcher
		path       string
		wantStatus string
	}{
		{
			name:       "dispatch failure",
			dispatcher: dispatchFunc(func(context.Context, scheduler.WebhookJob) error { return errors.New("redis down and pool full") }),
			path:       "/api/v1/webhooks/crm/" + uuid.NewString(),
			wantStatus: "dropped",
		},
		{
			name:       "invalid integration id",
			dispatcher: dispatchFunc(func(context.Context, scheduler.WebhookJob) error { return nil }),
			path:       "/api/v1/webhooks/crm/not-a-uuid",
			wantStatus: "ignored",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(newTestRouter(tt.dispatcher, time.Second), tt.path, "application/json", `{}`)
			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rec.Code)
			}
			if resp := decodeAck(t, rec); resp.Status != tt.wantStatus {
				t.Fatalf("expected %q, got %+v", tt.wantStatus, resp)
			}
		})
	}
}

func TestWebhookAckIsBoundedBySlowDispatch(t *testing.T) {
	engine := newTestRouter(dispatchFunc(func(ctx context.Context, _ scheduler.WebhookJob) error {
		<-ctx.Done()
		return ctx.Err()
	}), 100*time.Millisecond)

	start := time.Now()
	rec := post(engine, "/api/v1/webhooks/crm/"+uuid.NewString(), "application/json", `{}`)
	elapsed := time.Since(start)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if elapsed > time.Second {
		t.Fatalf("expected ack within the timeout, took %v", elapsed)
	}
}

func TestWebhookOversizedPayloadIsLoggedAndIgnored(t *testing.T) {
	var logs bytes.Buffer
	dispatched := 0
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	NewModule(dispatchFunc(func(context.Context, scheduler.WebhookJob) error {
		dispatched++
		return nil
	}), time.Second, 0, 0, logger.NewWithWriter("production", &logs)).
		RegisterRoutes(&apphttp.RouterContext{Engine: engine, V1: engine.Group("/api/v1")})
	path := "/api/v1/webhooks/crm/" + uuid.NewString()

	atLimit := `{"pad":"` + strings.Repeat("x", maxPayloadBytes-len(`{"pad":""}`)) + `"}`
	if rec := post(engine, path, "application/json", atLimit); decodeAck(t, rec).Status != "accepted" {
		t.Fatalf("expected a payload at the limit to be accepted, got %s", rec.Body.String())
	}

	rec := post(engine, path, "application/json", atLimit+" ")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if resp := decodeAck(t, rec); resp.Status != "ignored" {
		t.Fatalf("expected oversized payload ignored, got %+v", resp)
	}
	if dispatched != 1 {
		t.Fatalf("expected only the payload at the limit dispatched, got %d", dispatched)
	}
	if !strings.Contains(logs.String(), "webhook payload too large") {
		t.Fatalf("expected the oversize to be logged, got %s", logs.String())
	}
}
