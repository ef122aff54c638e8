package chat

import (
	"fmt"
	"strings"
)

const (
	ChatRoleUser   = "user"      // Player or simulation input
	ChatRoleAgent  = "assistant" // Model reply, stored raw
	ChatRoleSystem = "system"    // Simulation instruction, never persisted
)

// ChatMessage represents a single turn in the conversation.
// The shape is the one accepted by OpenAI-compatible chat completion APIs.
type ChatMessage struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`
}

// ActionRequest is the body of an action submitted to the simulation.
type ActionRequest struct {
	Input string `json:"input"`
}

func (ar *ActionRequest) Validate() error {
	if strings.TrimSpace(ar.Input) == "" {
		return fmt.Errorf("input is required")
	}
	return nil
}

// ConfigRequest updates the in-memory provider settings.
// Nil fields are left unchanged.
type ConfigRequest struct {
	APIKey *string `json:"apiKey,omitempty"`
	Model  *string `json:"model,omitempty"`
}

// ConfigResponse reports the provider settings without revealing the key.
type ConfigResponse struct {
	OK        bool   `json:"ok"`
	Model     string `json:"model"`
	HasAPIKey bool   `json:"hasApiKey"`
}

// CloneHistory returns a copy of history that can be appended to
// without aliasing the caller's backing array.
func CloneHistory(history []ChatMessage) []ChatMessage {
	out := make([]ChatMessage, len(history))
	copy(out, history)
	return out
}
