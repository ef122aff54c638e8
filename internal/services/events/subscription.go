package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Subscription receives decoded events from Channel.
type Subscription struct {
	pubsub *redis.PubSub
	events chan Event
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// Subscribe listens on Channel. It returns once Redis has confirmed the
// subscription, so no event published afterwards is missed. Payloads that
// do not decode are logged and skipped.
func Subscribe(ctx context.Context, client *redis.Client, logger *slog.Logger) (*Subscription, error) {
	pubsub := client.Subscribe(ctx, Channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", Channel, err)
	}

	s := &Subscription{
		pubsub: pubsub,
		events: make(chan Event),
		done:   make(chan struct{}),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(s.events)
		for msg := range pubsub.Channel() {
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				logger.Warn("Failed to unmarshal event", "error", err, "payload", msg.Payload)
				continue
			}
			select {
			case s.events <- event:
			case <-s.done:
				return
			}
		}
	}()
	return s, nil
}

// Events is closed after Close.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Close unsubscribes and waits for the delivery goroutine to exit.
func (s *Subscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
		s.wg.Wait()
	})
	return err
}
