// Package automation executes the actions attached to triggers and chain
// steps against the CRM.
package automation

import (
	"encoding/json"
	"strconv"
	"strings"
)

type ActionType string

const (
	ActionSendMessage ActionType = "send_message"
	ActionSendEmail   ActionType = "send_email"
	ActionChangeStage ActionType = "change_stage"
	ActionCreateTask  ActionType = "create_task"
)

// Action is one configured step of automation. Params depend on Type:
//
//	send_message: text, generate, prompt
//	send_email:   to, subject, body, generate, prompt
type Action struct {
	Type   ActionType     `json:"type"`
	Params map[string]any `json:"params"`
}

// ParseParams decodes the JSON params column.
func ParseParams(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	params := map[string]any{}
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, err
	}
	return params, nil
}

func (a Action) String(key string) string {
	switch v := a.Params[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func (a Action) Bool(key string) bool {
	switch v := a.Params[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	default:
		return false
	}
}
