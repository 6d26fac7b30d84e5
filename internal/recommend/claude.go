package recommend

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const claudeMaxTokens = 1024

// ClaudeGenerator answers prompts with the Anthropic Messages API.
type ClaudeGenerator struct {
	client *anthropic.Client
	model  string
	logger *slog.Logger
}

// NewClaudeGenerator creates a Claude-backed generator. baseURL may be empty.
// The SDK retry loop is disabled so the service timeout bounds each call.
func NewClaudeGenerator(apiKey, model, baseURL string, logger *slog.Logger) *ClaudeGenerator {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := anthropic.NewClient(opts...)
	return &ClaudeGenerator{
		client: &client,
		model:  model,
		logger: logger,
	}
}

// Generate sends the prompt and returns the first text block of the reply.
func (g *ClaudeGenerator) Generate(ctx context.Context, p Prompt) (string, error) {
	user, err := userText(p)
	if err != nil {
		return "", err
	}

	resp, err := g.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(g.model),
		MaxTokens: claudeMaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
		System: []anthropic.TextBlockParam{
			{Text: p.System},
		},
	})
	if err != nil {
		return "", fmt.Errorf("calling Claude API: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return "", ErrEmptyResponse
	}

	g.logger.Debug("claude recommendation response", "model", g.model, "bytes", len(text))
	return text, nil
}
