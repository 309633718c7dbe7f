package llm

import (
	"context"
	"errors"

	"github.com/worldwideservice/ai-agent-platform-sub002/platform/config"

	"google.golang.org/adk/model"
	"google.golang.org/genai"
)

// ErrEmptyCompletion is returned when the model produced no text.
var ErrEmptyCompletion = errors.New("llm returned no text")

// Gateway turns a system and user prompt into one completion.
type Gateway struct {
	model       model.LLM
	temperature float32
}

// NewGateway wraps any ADK model.
func NewGateway(m model.LLM) *Gateway {
	return &Gateway{model: m}
}

// NewGatewayFromConfig builds a gateway over the configured OpenAI-compatible endpoint.
func NewGatewayFromConfig(cfg config.LLMConfig) *Gateway {
	return NewGateway(NewChatModel(Config{
		APIKey:  cfg.GetLLMAPIKey(),
		BaseURL: cfg.GetLLMBaseURL(),
		Model:   cfg.GetLLMModel(),
		Timeout: cfg.GetLLMTimeout(),
	}))
}

// Complete returns the concatenated text of the model's reply.
func (g *Gateway) Complete(ctx context.Context, system, user string) (string, error) {
	temperature := g.temperature
	req := &model.LLMRequest{
		Model: g.model.Name(),
		Contents: []*genai.Content{{
			Role:  "user",
			Parts: []*genai.Part{{Text: user}},
		}},
		Config: &genai.GenerateContentConfig{
			Temperature: &temperature,
		},
	}
	if system != "" {
		req.Config.SystemInstruction = &genai.Content{
			Role:  "user",
			Parts: []*genai.Part{{Text: system}},
		}
	}

	var text string
	for resp, err := range g.model.GenerateContent(ctx, req, false) {
		if err != nil {
			return "", err
		}
		if resp == nil || resp.Content == nil {
			continue
		}
		text += contentText(resp.Content)
	}
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}
