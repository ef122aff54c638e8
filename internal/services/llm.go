package services

import (
	"context"
	"fmt"

	"github.com/jwebster45206/microsim/pkg/chat"
)

// msgNoResponse is returned as the completion text when the upstream reply
// carries no choices.
const msgNoResponse = "(no response)"

// LLMService defines the interface for interacting with the LLM API.
// Model and credential are supplied per call; implementations hold no
// defaults for either.
type LLMService interface {
	// Complete sends one chat completion request and returns the raw text
	// of the first choice.
	Complete(ctx context.Context, messages []chat.ChatMessage, modelID, apiKey string) (string, error)

	// ListModels returns the models the provider offers, sorted by name.
	ListModels(ctx context.Context, apiKey string) ([]Model, error)
}

// Model describes one model offered by the provider.
type Model struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	ContextLength int      `json:"context_length"`
	Description   string   `json:"description,omitempty"`
	Pricing       *Pricing `json:"pricing,omitempty"`
}

// Pricing is the per-token price as reported by the provider.
type Pricing struct {
	Prompt     string `json:"prompt"`
	Completion string `json:"completion"`
}

// UpstreamError is returned when the provider answers with a non-2xx status.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("API request failed with status %d: %s", e.StatusCode, e.Body)
}
