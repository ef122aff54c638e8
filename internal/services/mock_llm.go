package services

import (
	"context"
	"sync"

	"github.com/jwebster45206/microsim/pkg/chat"
)

// MockLLMAPI is a mock implementation of LLMService for testing
type MockLLMAPI struct {
	CompleteFunc   func(ctx context.Context, messages []chat.ChatMessage, modelID, apiKey string) (string, error)
	ListModelsFunc func(ctx context.Context, apiKey string) ([]Model, error)

	// Track calls for testing
	CompleteCalls   []CompleteCall
	ListModelsCalls []string

	mu sync.Mutex // protects all fields above
}

// Ensure MockLLMAPI implements LLMService interface
var _ LLMService = (*MockLLMAPI)(nil)

type CompleteCall struct {
	Messages []chat.ChatMessage
	ModelID  string
	APIKey   string
}

// NewMockLLMAPI creates a new mock LLM service
func NewMockLLMAPI() *MockLLMAPI {
	return &MockLLMAPI{
		CompleteCalls:   make([]CompleteCall, 0),
		ListModelsCalls: make([]string, 0),
	}
}

// Complete mocks a chat completion. The hook runs outside the lock so tests
// can block inside it.
func (m *MockLLMAPI) Complete(ctx context.Context, messages []chat.ChatMessage, modelID, apiKey string) (string, error) {
	m.mu.Lock()
	m.CompleteCalls = append(m.CompleteCalls, CompleteCall{
		Messages: chat.CloneHistory(messages),
		ModelID:  modelID,
		APIKey:   apiKey,
	})
	fn := m.CompleteFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, messages, modelID, apiKey)
	}

	// Default behavior - plain text without section markers
	return "Mock response", nil
}

// ListModels mocks model listing
func (m *MockLLMAPI) ListModels(ctx context.Context, apiKey string) ([]Model, error) {
	m.mu.Lock()
	m.ListModelsCalls = append(m.ListModelsCalls, apiKey)
	fn := m.ListModelsFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, apiKey)
	}

	// Default behavior - return some mock models
	return []Model{{ID: "mock/model", Name: "Mock Model", ContextLength: 8192}}, nil
}

// CompleteCallCount returns the number of Complete calls so far.
func (m *MockLLMAPI) CompleteCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.CompleteCalls)
}

// ListModelsCallCount returns the number of ListModels calls so far.
func (m *MockLLMAPI) ListModelsCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ListModelsCalls)
}

// LastCompleteCall returns the most recent Complete call.
func (m *MockLLMAPI) LastCompleteCall() (CompleteCall, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.CompleteCalls) == 0 {
		return CompleteCall{}, false
	}
	return m.CompleteCalls[len(m.CompleteCalls)-1], true
}

// Reset clears all call tracking
func (m *MockLLMAPI) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CompleteCalls = make([]CompleteCall, 0)
	m.ListModelsCalls = make([]string, 0)
}
