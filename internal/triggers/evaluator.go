package triggers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/worldwideservice/ai-agent-platform-sub002/platform/logger"
)

// MatchThreshold is the minimum confidence for a reported match to count.
const MatchThreshold = 0.7

// HistoryWindow is how many earlier turns accompany a message.
const HistoryWindow = 5

const (
	reasonParseFailure = "evaluation failed: model output could not be parsed"
	reasonLLMFailure   = "evaluation failed: language model unavailable"
	reasonNotReturned  = "trigger missing from model output"
)

// Completer is the LLM gateway.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Turn is one earlier message of the conversation.
type Turn struct {
	Role string
	Text string
}

// Input is what the triggers are evaluated against: either a message with
// its recent history, or a description of a CRM event.
type Input struct {
	Message          string
	History          []Turn
	EventDescription string
}

type Result struct {
	TriggerID  uuid.UUID `json:"triggerId"`
	Matched    bool      `json:"matched"`
	Confidence float64   `json:"confidence"`
	Reason     string    `json:"reason"`
}

type Evaluator struct {
	llm Completer
	log *logger.Logger
}

func NewEvaluator(llm Completer, log *logger.Logger) *Evaluator {
	return &Evaluator{llm: llm, log: log}
}

// Evaluate returns one result per trigger, in the order given. It never
// fails: transport errors and unparseable output yield unmatched results.
func (e *Evaluator) Evaluate(ctx context.Context, triggers []Trigger, in Input) []Result {
	if len(triggers) == 0 {
		return nil
	}

	reply, err := e.llm.Complete(ctx, systemPrompt, buildUserPrompt(triggers, in))
	if err != nil {
		e.log.WithContext(ctx).Warn("trigger evaluation call failed", "error", err, "triggers", len(triggers))
		return unmatched(triggers, reasonLLMFailure)
	}

	parsed, ok := parseResults(reply)
	if !ok {
		e.log.WithContext(ctx).Warn("trigger evaluation output unparseable", "reply", truncate(reply, 300))
		return unmatched(triggers, reasonParseFailure)
	}

	byID := make(map[string]rawResult, len(parsed))
	for _, r := range parsed {
		byID[strings.ToLower(strings.TrimSpace(r.TriggerID))] = r
	}

	results := make([]Result, 0, len(triggers))
	for _, t := range triggers {
		r, found := byID[t.ID.String()]
		if !found {
			results = append(results, Result{TriggerID: t.ID, Reason: reasonNotReturned})
			continue
		}
		confidence := clamp(r.Confidence)
		results = append(results, Result{
			TriggerID:  t.ID,
			Matched:    r.Matched && confidence >= MatchThreshold,
			Confidence: confidence,
			Reason:     r.Reason,
		})
	}
	return results
}

const systemPrompt = `You decide which automation triggers apply to a CRM conversation or event.
Each trigger has an id and a condition written in natural language.
For every trigger, decide whether its condition is met by the CURRENT message or event.
Earlier messages are context only.
Answer with JSON only, in exactly this shape:
{"results":[{"triggerId":"<id>","matched":true,"confidence":0.0,"reason":"<short reason>"}]}
confidence is a number between 0 and 1. Include every trigger exactly once.`

func buildUserPrompt(triggers []Trigger, in Input) string {
	var b strings.Builder
	b.WriteString("Triggers:\n")
	for _, t := range triggers {
		fmt.Fprintf(&b, "- id: %s\n  condition: %s\n", t.ID, strings.TrimSpace(t.Condition))
	}

	if in.EventDescription != "" {
		b.WriteString("\nCRM event:\n")
		b.WriteString(in.EventDescription)
		b.WriteString("\n")
		return b.String()
	}

	history := in.History
	if len(history) > HistoryWindow {
		history = history[len(history)-HistoryWindow:]
	}
	if len(history) > 0 {
		b.WriteString("\nEarlier messages:\n")
		for _, turn := range history {
			fmt.Fprintf(&b, "%s: %s\n", turn.Role, strings.TrimSpace(turn.Text))
		}
	}
	b.WriteString("\nCurrent client message:\n")
	b.WriteString(strings.TrimSpace(in.Message))
	b.WriteString("\n")
	return b.String()
}

type rawResult struct {
	TriggerID  string  `json:"triggerId"`
	Matched    bool    `json:"matched"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

type rawResponse struct {
	Results []rawResult `json:"results"`
}

// parseResults extracts the first JSON object carrying a "results" array from
// reply, tolerating surrounding prose and code fences.
func parseResults(reply string) ([]rawResult, bool) {
	data := []byte(reply)
	for start := bytes.IndexByte(data, '{'); start >= 0; {
		var resp rawResponse
		var obj map[string]json.RawMessage
		dec := json.NewDecoder(bytes.NewReader(data[start:]))
		if err := dec.Decode(&obj); err == nil {
			if raw, ok := obj["results"]; ok && json.Unmarshal(raw, &resp.Results) == nil {
				return resp.Results, true
			}
		}
		next := bytes.IndexByte(data[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return nil, false
}

func unmatched(triggers []Trigger, reason string) []Result {
	results := make([]Result, 0, len(triggers))
	for _, t := range triggers {
		results = append(results, Result{TriggerID: t.ID, Reason: reason})
	}
	return results
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
