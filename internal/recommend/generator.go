package recommend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrGeneratorDisabled is returned when no LLM backend is configured.
var ErrGeneratorDisabled = errors.New("recommendation generator not configured")

// ErrEmptyResponse is returned when a backend answers with no text.
var ErrEmptyResponse = errors.New("empty response from generator")

// Prompt is one structured-output request to a text generator.
type Prompt struct {
	System string
	User   string
	// Schema is the JSON Schema the answer must satisfy.
	Schema map[string]any
}

// Generator produces a raw JSON answer for a prompt.
type Generator interface {
	Generate(ctx context.Context, p Prompt) (string, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, p Prompt) (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, p Prompt) (string, error) {
	return f(ctx, p)
}

// userText renders the user turn with the response schema appended.
func userText(p Prompt) (string, error) {
	if p.Schema == nil {
		return p.User, nil
	}
	schema, err := json.Marshal(p.Schema)
	if err != nil {
		return "", fmt.Errorf("encoding response schema: %w", err)
	}
	return p.User + "\n\n<response_schema>" + string(schema) + "</response_schema>\n\nRespond with one JSON object matching the schema.", nil
}
