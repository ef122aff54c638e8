package sim

import (
	"context"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/jwebster45206/microsim/internal/services"
)

// DefaultModel is used until Configure selects another.
const DefaultModel = "google/gemini-2.5-flash"

// Settings reports the provider configuration without revealing the key.
type Settings struct {
	Model     string `json:"model"`
	HasAPIKey bool   `json:"hasApiKey"`
}

// settings holds the in-memory provider configuration. It is never
// persisted.
type settings struct {
	mu     sync.RWMutex
	apiKey string
	model  string
}

func (s *settings) get() (apiKey, model string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.apiKey, s.model
}

// update applies the non-nil fields. An empty model keeps the current one;
// an empty key clears the credential.
func (s *settings) update(apiKey, model *string) Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	if apiKey != nil {
		s.apiKey = strings.TrimSpace(*apiKey)
	}
	if model != nil && strings.TrimSpace(*model) != "" {
		s.model = strings.TrimSpace(*model)
	}
	return Settings{Model: s.model, HasAPIKey: s.apiKey != ""}
}

func (s *settings) snapshot() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Settings{Model: s.model, HasAPIKey: s.apiKey != ""}
}

// modelCache keeps the provider's model list until the settings change.
// Concurrent misses share one upstream request.
type modelCache struct {
	mu     sync.Mutex
	models []services.Model
	gen    uint64
	group  singleflight.Group
}

func (c *modelCache) get(ctx context.Context, fetch func(ctx context.Context) ([]services.Model, error)) ([]services.Model, error) {
	c.mu.Lock()
	if c.models != nil {
		models := slices.Clone(c.models)
		c.mu.Unlock()
		return models, nil
	}
	gen := c.gen
	c.mu.Unlock()

	v, err, _ := c.group.Do("models", func() (any, error) {
		return fetch(ctx)
	})
	if err != nil {
		return nil, err
	}
	models := v.([]services.Model)

	c.mu.Lock()
	// Drop results fetched under settings that have since changed.
	if c.gen == gen {
		c.models = models
	}
	c.mu.Unlock()
	return slices.Clone(models), nil
}

func (c *modelCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.models = nil
	c.gen++
	c.group.Forget("models")
}
