package prompts

import (
	"fmt"

	"github.com/jwebster45206/microsim/pkg/chat"
	"github.com/jwebster45206/microsim/pkg/world"
)

// Builder constructs chat messages for LLM interaction using a fluent interface.
// The output is a pure function of its inputs.
type Builder struct {
	history  []chat.ChatMessage
	ws       *world.WorldState
	input    string
	messages []chat.ChatMessage
}

// New creates a new prompt builder.
func New() *Builder {
	return &Builder{
		messages: make([]chat.ChatMessage, 0),
	}
}

// WithHistory sets the persisted conversation history. An empty history
// makes Build insert the seed exchange.
func (b *Builder) WithHistory(history []chat.ChatMessage) *Builder {
	b.history = history
	return b
}

// WithWorldState sets the state the new turn advances from.
func (b *Builder) WithWorldState(ws world.WorldState) *Builder {
	b.ws = &ws
	return b
}

// WithUserInput sets the user's action text.
func (b *Builder) WithUserInput(input string) *Builder {
	b.input = input
	return b
}

// Build constructs and returns the final message array for LLM consumption.
func (b *Builder) Build() ([]chat.ChatMessage, error) {
	if b.ws == nil {
		return nil, fmt.Errorf("world state is required")
	}

	b.messages = make([]chat.ChatMessage, 0, len(b.history)+4)

	// 1. Instruction
	b.messages = append(b.messages, chat.ChatMessage{
		Role:    chat.ChatRoleSystem,
		Content: SystemInstruction,
	})

	// 2. Seed exchange, or history verbatim
	if len(b.history) == 0 {
		seed, err := SeedExchange()
		if err != nil {
			return nil, err
		}
		b.messages = append(b.messages, seed...)
	} else {
		b.messages = append(b.messages, b.history...)
	}

	// 3. New turn
	content, err := ComposeUserMessage(*b.ws, b.input)
	if err != nil {
		return nil, fmt.Errorf("error composing user message: %w", err)
	}
	b.messages = append(b.messages, chat.ChatMessage{
		Role:    chat.ChatRoleUser,
		Content: content,
	})

	return b.messages, nil
}

// Build is a convenience function for the common case.
func Build(history []chat.ChatMessage, ws world.WorldState, input string) ([]chat.ChatMessage, error) {
	return New().
		WithHistory(history).
		WithWorldState(ws).
		WithUserInput(input).
		Build()
}
