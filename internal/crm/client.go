// Package crm is the REST client for the external CRM. Every request,
// lookups and mutations alike, passes through a per-account Limiter.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/worldwideservice/ai-agent-platform-sub002/platform/logger"
)

// ErrNotFound is returned when the CRM reports the entity does not exist.
var ErrNotFound = errors.New("crm entity not found")

// Client talks to one CRM account.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	limiter    *Limiter
	log        *logger.Logger
}

// NewClient creates a client for the account at baseURL.
func NewClient(baseURL, token string, limiter *Limiter, timeout time.Duration, log *logger.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		limiter:    limiter,
		log:        log,
	}
}

type apiLead struct {
	Lead
	Embedded struct {
		Contacts []struct {
			ID int64 `json:"id"`
		} `json:"contacts"`
	} `json:"_embedded"`
}

// GetLead fetches a lead with its linked contact ids.
func (c *Client) GetLead(ctx context.Context, leadID int64) (Lead, error) {
	var out apiLead
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v4/leads/%d?with=contacts", leadID), nil, &out); err != nil {
		return Lead{}, err
	}
	lead := out.Lead
	for _, contact := range out.Embedded.Contacts {
		lead.ContactIDs = append(lead.ContactIDs, contact.ID)
	}
	return lead, nil
}

type apiContact struct {
	ID                 int64  `json:"id"`
	Name               string `json:"name"`
	CustomFieldsValues []struct {
		FieldCode string `json:"field_code"`
		Values    []struct {
			Value string `json:"value"`
		} `json:"values"`
	} `json:"custom_fields_values"`
}

// GetContact fetches a contact and extracts its primary email and phone.
func (c *Client) GetContact(ctx context.Context, contactID int64) (Contact, error) {
	var out apiContact
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v4/contacts/%d", contactID), nil, &out); err != nil {
		return Contact{}, err
	}
	contact := Contact{ID: out.ID, Name: out.Name}
	for _, f := range out.CustomFieldsValues {
		if len(f.Values) == 0 {
			continue
		}
		switch f.FieldCode {
		case "EMAIL":
			contact.Email = f.Values[0].Value
		case "PHONE":
			contact.Phone = f.Values[0].Value
		}
	}
	return contact, nil
}

type apiPipeline struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Embedded struct {
		Statuses []Stage `json:"statuses"`
	} `json:"_embedded"`
}

// GetPipeline fetches a pipeline with its stages.
func (c *Client) GetPipeline(ctx context.Context, pipelineID int64) (Pipeline, error) {
	var out apiPipeline
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v4/leads/pipelines/%d", pipelineID), nil, &out); err != nil {
		return Pipeline{}, err
	}
	return Pipeline{ID: out.ID, Name: out.Name, Stages: out.Embedded.Statuses}, nil
}

func (c *Client) GetUser(ctx context.Context, userID int64) (User, error) {
	var out User
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v4/users/%d", userID), nil, &out); err != nil {
		return User{}, err
	}
	return out, nil
}

// SendMessage posts a chat message into the conversation.
func (c *Client) SendMessage(ctx context.Context, msg OutboundMessage) error {
	if strings.TrimSpace(msg.ChatID) == "" {
		return fmt.Errorf("send message: chat id is required")
	}
	body := map[string]any{"text": msg.Text}
	if msg.LeadID != 0 {
		body["entity_id"] = msg.LeadID
		body["entity_type"] = "leads"
	}
	return c.do(ctx, http.MethodPost, "/api/v4/chats/"+msg.ChatID+"/messages", body, nil)
}

// SendEmail sends an email from the account mailbox, linked to the lead.
func (c *Client) SendEmail(ctx context.Context, email OutboundEmail) error {
	body := map[string]any{
		"entity_id":   email.LeadID,
		"entity_type": "leads",
		"to":          email.To,
		"subject":     email.Subject,
		"body":        email.Body,
	}
	return c.do(ctx, http.MethodPost, "/api/v4/mail/messages", body, nil)
}

func (c *Client) CreateTask(ctx context.Context, task Task) error {
	item := map[string]any{
		"text":          task.Text,
		"complete_till": task.CompleteTill,
		"entity_id":     task.LeadID,
		"entity_type":   "leads",
	}
	if task.ResponsibleUserID != 0 {
		item["responsible_user_id"] = task.ResponsibleUserID
	}
	return c.do(ctx, http.MethodPost, "/api/v4/tasks", []any{item}, nil)
}

// AddTags attaches tags to a lead, keeping the ones it already has.
func (c *Client) AddTags(ctx context.Context, leadID int64, tags []string) error {
	if len(tags) == 0 {
		return nil
	}
	items := make([]map[string]string, 0, len(tags))
	for _, tag := range tags {
		items = append(items, map[string]string{"name": tag})
	}
	body := map[string]any{"_embedded": map[string]any{"tags": items}}
	return c.do(ctx, http.MethodPatch, fmt.Sprintf("/api/v4/leads/%d", leadID), body, nil)
}

func (c *Client) AddNote(ctx context.Context, leadID int64, text string) error {
	item := map[string]any{
		"note_type": "common",
		"params":    map[string]string{"text": text},
	}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v4/leads/%d/notes", leadID), []any{item}, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("crm %s %s: %w", method, path, err)
		}
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Error("crm request failed", "error", err, "method", method, "path", path)
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusNoContent && out != nil:
		// the CRM answers lookups of missing entities with 204
		return ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized:
		c.log.Error("crm unauthorized", "status", resp.StatusCode, "path", path)
		return fmt.Errorf("crm unauthorized: check integration token")
	case resp.StatusCode == http.StatusTooManyRequests:
		c.log.Warn("crm rate limited", "path", path, "queued", c.limiter.Queued())
		return fmt.Errorf("crm rate limited: status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.log.Error("crm upstream error", "status", resp.StatusCode, "path", path, "body", string(snippet))
		return fmt.Errorf("crm upstream error: status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
