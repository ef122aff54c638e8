package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jwebster45206/microsim/pkg/chat"
	"github.com/jwebster45206/microsim/pkg/world"
)

// ErrClosed is returned by stores used after Close.
var ErrClosed = errors.New("store is closed")

// Record is the single persisted simulation record.
type Record struct {
	WorldState  world.WorldState   `json:"world_state"`
	ChatHistory []chat.ChatMessage `json:"chat_history"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// InitialRecord returns the record every store is seeded with and every reset
// restores: the initial world state and an empty history.
func InitialRecord(now time.Time) *Record {
	return &Record{
		WorldState:  world.InitialState(),
		ChatHistory: []chat.ChatMessage{},
		UpdatedAt:   now.UTC(),
	}
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	return &Record{
		WorldState:  r.WorldState.Clone(),
		ChatHistory: chat.CloneHistory(r.ChatHistory),
		UpdatedAt:   r.UpdatedAt,
	}
}

// Store persists the one simulation record. Implementations must replace
// world state and history together: a reader never sees one updated without
// the other.
type Store interface {
	// Health and lifecycle
	Ping(ctx context.Context) error
	Close() error

	// Read returns the current record. Before any write it returns the
	// seeded initial record.
	Read(ctx context.Context) (*Record, error)
	// Write replaces world state and history and bumps UpdatedAt.
	Write(ctx context.Context, ws world.WorldState, history []chat.ChatMessage) error
	// Reset restores the initial state with an empty history.
	Reset(ctx context.Context) error
}
