package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestGateway(t *testing.T, handler http.HandlerFunc) *Gateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewGateway(NewChatModel(Config{APIKey: "test-key", BaseURL: srv.URL + "/v1/", Model: "test-model"}))
}

func TestCompleteSendsSystemAndUserMessages(t *testing.T) {
	var got chatRequest
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("unexpected authorization %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  hello there  "}}]}`))
	})

	text, err := gw.Complete(context.Background(), "be brief", "hi")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if text != "hello there" {
		t.Fatalf("expected trimmed reply, got %q", text)
	}
	if got.Model != "test-model" {
		t.Fatalf("expected model test-model, got %q", got.Model)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Role != "user" {
		t.Fatalf("unexpected messages %+v", got.Messages)
	}
	if got.Messages[0].Content != "be brief" || got.Messages[1].Content != "hi" {
		t.Fatalf("unexpected message contents %+v", got.Messages)
	}
}

func TestCompleteWithoutSystemPrompt(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if len(req.Messages) != 1 {
			t.Errorf("expected only the user message, got %+v", req.Messages)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	})

	if _, err := gw.Complete(context.Background(), "", "hi"); err != nil {
		t.Fatalf("Complete: %v", err)
	}
}

func TestCompleteErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
		empty   bool
	}{
		{name: "http error", status: http.StatusTooManyRequests, body: "slow down", wantErr: "429"},
		{name: "api error", status: http.StatusOK, body: `{"error":{"message":"bad"}}`, wantErr: "llm api error"},
		{name: "no choices", status: http.StatusOK, body: `{"choices":[]}`, wantErr: "empty choices"},
		{name: "blank text", status: http.StatusOK, body: `{"choices":[{"message":{"content":"   "}}]}`, empty: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := newTestGateway(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := gw.Complete(context.Background(), "", "hi")
			if err == nil {
				t.Fatalf("expected error")
			}
			if tt.empty {
				if !errors.Is(err, ErrEmptyCompletion) {
					t.Fatalf("expected ErrEmptyCompletion, got %v", err)
				}
				return
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestRoleMapping(t *testing.T) {
	if roleForContent("model") != "assistant" {
		t.Fatalf("model role should map to assistant")
	}
	if roleForContent("user") != "user" {
		t.Fatalf("user role should stay user")
	}
}
