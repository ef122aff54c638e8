package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jwebster45206/microsim/pkg/world"
)

// Channel receives every simulation event.
const Channel = "microsim:events"

// EventType represents the type of event being broadcast
type EventType string

const (
	EventTypeSimulationReset    EventType = "simulation.reset"
	EventTypeSimulationAdvanced EventType = "simulation.advanced"
)

// Event represents a generic event structure
type Event struct {
	Type EventType      `json:"type"`
	Time time.Time      `json:"time"`
	Data map[string]any `json:"data,omitempty"`
}

// Broadcaster publishes simulation events to Redis Pub/Sub
type Broadcaster struct {
	redisClient *redis.Client
	logger      *slog.Logger
	now         func() time.Time
}

// NewBroadcaster creates a new event broadcaster
func NewBroadcaster(redisClient *redis.Client, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		redisClient: redisClient,
		logger:      logger,
		now:         time.Now,
	}
}

// PublishReset publishes a simulation.reset event
func (b *Broadcaster) PublishReset(ctx context.Context, ws world.WorldState) error {
	return b.publish(ctx, Event{
		Type: EventTypeSimulationReset,
		Data: map[string]any{
			"time": ws.Time,
		},
	})
}

// PublishAdvanced publishes a simulation.advanced event after a successful act
func (b *Broadcaster) PublishAdvanced(ctx context.Context, input, narrative string, ws world.WorldState) error {
	return b.publish(ctx, Event{
		Type: EventTypeSimulationAdvanced,
		Data: map[string]any{
			"input":     input,
			"narrative": narrative,
			"state":     ws,
		},
	})
}

func (b *Broadcaster) publish(ctx context.Context, event Event) error {
	event.Time = b.now().UTC()

	data, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("Failed to marshal event", "error", err, "event_type", event.Type)
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := b.redisClient.Publish(ctx, Channel, data).Err(); err != nil {
		b.logger.Error("Failed to publish event", "error", err, "channel", Channel)
		return fmt.Errorf("failed to publish event: %w", err)
	}

	b.logger.Debug("Event published", "channel", Channel, "event_type", event.Type)
	return nil
}
