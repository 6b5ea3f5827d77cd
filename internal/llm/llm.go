// Package llm talks to the text-generation oracle and turns its untrusted
// output into typed values.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"
)

// ErrEmptyResponse is returned when the oracle answers with no choices.
var ErrEmptyResponse = errors.New("oracle returned no choices")

// Oracle is an opaque text-generation endpoint. modelID selects one of the
// independent model identities behind it; system may be empty.
type Oracle interface {
	Invoke(ctx context.Context, modelID, prompt, system string) (string, error)
}

// OpenAIOracle wraps an OpenAI-compatible API client.
type OpenAIOracle struct {
	api         *openai.Client
	temperature float32
}

// New creates an oracle for an OpenAI-compatible endpoint.
func New(baseURL, apiKey string) *OpenAIOracle {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &OpenAIOracle{
		api:         openai.NewClientWithConfig(config),
		temperature: 0.2,
	}
}

// Invoke sends one chat completion and returns the raw text of the first choice.
func (o *OpenAIOracle) Invoke(ctx context.Context, modelID, prompt, system string) (string, error) {
	var msgs []openai.ChatCompletionMessage
	if system != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})

	resp, err := o.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       modelID,
		Messages:    msgs,
		Temperature: o.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("oracle %s: %w", modelID, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("oracle %s: %w", modelID, ErrEmptyResponse)
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("oracle response", "model", modelID, "raw", raw)
	return raw, nil
}

// Ping lists models to check that the endpoint is reachable and the key is accepted.
func (o *OpenAIOracle) Ping(ctx context.Context) error {
	if _, err := o.api.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}
