package recommend

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"
)

// GeminiGenerator answers prompts with the Gemini generateContent API.
type GeminiGenerator struct {
	client *genai.Client
	model  string
	logger *slog.Logger
}

// NewGeminiGenerator creates a Gemini-backed generator. baseURL may be empty.
func NewGeminiGenerator(ctx context.Context, apiKey, model, baseURL string, logger *slog.Logger) (*GeminiGenerator, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: baseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &GeminiGenerator{
		client: client,
		model:  model,
		logger: logger,
	}, nil
}

// Generate sends the prompt in JSON response mode and joins the text parts
// of the first candidate.
func (g *GeminiGenerator) Generate(ctx context.Context, p Prompt) (string, error) {
	user, err := userText(p)
	if err != nil {
		return "", err
	}
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	}
	if p.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(p.System, genai.RoleUser)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(user), cfg)
	if err != nil {
		return "", fmt.Errorf("calling Gemini API: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", ErrEmptyResponse
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			sb.WriteString(part.Text)
		}
	}
	text := sb.String()
	if text == "" {
		return "", ErrEmptyResponse
	}

	g.logger.Debug("gemini recommendation response", "model", g.model, "bytes", len(text))
	return text, nil
}
