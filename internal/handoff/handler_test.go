package handoff

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/worldwideservice/ai-agent-platform-sub002/internal/agents"
	apphttp "github.com/worldwideservice/ai-agent-platform-sub002/internal/http"
	"github.com/worldwideservice/ai-agent-platform-sub002/platform/httpkit"
	"github.com/worldwideservice/ai-agent-platform-sub002/platform/validator"
)

func newTestRouter(svc *Service, operator *httpkit.Operator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	admin := engine.Group("/api/v1/admin")
	if operator != nil {
		admin.Use(func(c *gin.Context) {
			c.Set(httpkit.ContextUserIDKey, operator.ID)
			c.Set(httpkit.ContextRolesKey, operator.Roles)
			c.Next()
		}, httpkit.RequireRole("admin"))
	}
	NewModule(svc, validator.New()).RegisterRoutes(&apphttp.RouterContext{Engine: engine, Admin: admin})
	return engine
}

func call(engine *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func decodeStatus(t *testing.T, rec *httptest.ResponseRecorder) Status {
	t.Helper()
	var st Status
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	return st
}

func TestHandoffHandlerPauseStatusResume(t *testing.T) {
	agent := agents.Agent{ID: uuid.New()}
	svc, _, _ := newTestService(agent)
	engine := newTestRouter(svc, &httpkit.Operator{ID: uuid.New(), Roles: []string{"admin"}})
	path := "/api/v1/admin/handoff/" + uuid.New().String() + "/leads/101"

	rec := call(engine, http.MethodPost, path, `{"agentId":"`+agent.ID.String()+`","userId":4242}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("pause: expected 200, got %d %s", rec.Code, rec.Body.String())
	}
	st := decodeStatus(t, rec)
	if !st.Paused || st.Record == nil || st.Record.PausedByUserID != 4242 || st.Record.AgentID != agent.ID {
		t.Fatalf("unexpected status after pause %+v", st)
	}

	rec = call(engine, http.MethodGet, path, "")
	if rec.Code != http.StatusOK || !decodeStatus(t, rec).Paused {
		t.Fatalf("status: expected paused, got %d %s", rec.Code, rec.Body.String())
	}

	rec = call(engine, http.MethodDelete, path, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("resume: expected 200, got %d", rec.Code)
	}
	if st := decodeStatus(t, rec); st.Paused || st.Record != nil {
		t.Fatalf("expected resumed lead, got %+v", st)
	}
}

func TestHandoffHandlerRejectsBadRequests(t *testing.T) {
	agent := agents.Agent{ID: uuid.New()}
	svc, store, _ := newTestService(agent)
	engine := newTestRouter(svc, &httpkit.Operator{ID: uuid.New(), Roles: []string{"admin"}})
	integrationID := uuid.New().String()

	tests := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{"invalid integration", http.MethodGet, "/api/v1/admin/handoff/not-a-uuid/leads/101", ""},
		{"invalid lead", http.MethodGet, "/api/v1/admin/handoff/" + integrationID + "/leads/0", ""},
		{"malformed body", http.MethodPost, "/api/v1/admin/handoff/" + integrationID + "/leads/101", `{`},
		{"missing agent", http.MethodPost, "/api/v1/admin/handoff/" + integrationID + "/leads/101", `{"userId":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := call(engine, tt.method, tt.path, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d %s", rec.Code, rec.Body.String())
			}
		})
	}
	if len(store.records) != 0 {
		t.Fatalf("rejected requests must not pause, got %+v", store.records)
	}
}

func TestHandoffHandlerRequiresOperator(t *testing.T) {
	agent := agents.Agent{ID: uuid.New()}
	svc, store, _ := newTestService(agent)
	path := "/api/v1/admin/handoff/" + uuid.New().String() + "/leads/101"
	body := `{"agentId":"` + agent.ID.String() + `"}`

	rec := call(newTestRouter(svc, nil), http.MethodPost, path, body)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without operator, got %d", rec.Code)
	}

	rec = call(newTestRouter(svc, &httpkit.Operator{ID: uuid.New(), Roles: []string{"viewer"}}), http.MethodPost, path, body)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without admin role, got %d", rec.Code)
	}
	if len(store.records) != 0 {
		t.Fatalf("unauthorized requests must not pause")
	}
}
