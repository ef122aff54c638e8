// Package sim runs the household simulation: it owns the persisted record,
// turns user actions into completion requests, and commits the parsed reply.
package sim

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jwebster45206/microsim/internal/services"
	"github.com/jwebster45206/microsim/pkg/chat"
	"github.com/jwebster45206/microsim/pkg/prompts"
	"github.com/jwebster45206/microsim/pkg/storage"
	"github.com/jwebster45206/microsim/pkg/world"
)

const DefaultActTimeout = 2 * time.Minute

// Locker excludes other processes from mutating the shared record.
type Locker interface {
	Acquire(ctx context.Context) (release func(), err error)
}

// Publisher is notified after every committed mutation.
type Publisher interface {
	PublishReset(ctx context.Context, ws world.WorldState) error
	PublishAdvanced(ctx context.Context, input, narrative string, ws world.WorldState) error
}

// Result is returned by Bootstrap, Reset and Act.
type Result struct {
	Narrative string           `json:"narrative"`
	State     world.WorldState `json:"state"`
}

// Status is the persisted state plus every narrative so far.
type Status struct {
	State            world.WorldState `json:"state"`
	NarrativeHistory []string         `json:"narrativeHistory"`
}

// Engine orchestrates the simulation. Bootstrap, Reset and Act are
// serialized; Status reads without waiting for them. A caller waiting its
// turn gives up when its context ends.
type Engine struct {
	store      storage.Store
	llm        services.LLMService
	log        *slog.Logger
	locker     Locker
	publisher  Publisher
	actTimeout time.Duration
	tracer     trace.Tracer

	sem      chan struct{} // one slot; serializes mutations
	settings settings
	models   modelCache
}

// Option configures an Engine.
type Option func(*Engine)

// WithAPIKey sets the initial provider credential.
func WithAPIKey(key string) Option {
	return func(e *Engine) { e.settings.apiKey = strings.TrimSpace(key) }
}

// WithModel sets the initial model identifier.
func WithModel(model string) Option {
	return func(e *Engine) {
		if model != "" {
			e.settings.model = model
		}
	}
}

// WithActTimeout bounds one Act cycle, including the upstream call.
func WithActTimeout(d time.Duration) Option {
	return func(e *Engine) { e.actTimeout = d }
}

// WithLocker adds a cross-process lock taken inside the engine mutex.
func WithLocker(l Locker) Option {
	return func(e *Engine) { e.locker = l }
}

// WithPublisher adds an event sink for committed mutations.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// New creates an engine over the given store and inference client.
func New(store storage.Store, llm services.LLMService, log *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:      store,
		llm:        llm,
		log:        log,
		actTimeout: DefaultActTimeout,
		tracer:     otel.Tracer("microsim/sim"),
		sem:        make(chan struct{}, 1),
	}
	e.settings.model = DefaultModel
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Bootstrap clears the record to the initial state and an empty history.
// No inference call is made.
func (e *Engine) Bootstrap(ctx context.Context) (*Result, error) {
	return e.reset(ctx, "bootstrap")
}

// Reset is Bootstrap invoked explicitly by a user.
func (e *Engine) Reset(ctx context.Context) (*Result, error) {
	return e.reset(ctx, "reset")
}

func (e *Engine) reset(ctx context.Context, op string) (*Result, error) {
	if err := e.lock(ctx); err != nil {
		return nil, err
	}
	defer e.unlock()

	release, err := e.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := e.store.Reset(ctx); err != nil {
		e.log.Error("Failed to reset simulation", "op", op, "error", err)
		return nil, fmt.Errorf("failed to reset simulation: %w", err)
	}
	e.log.Info("Simulation reset", "op", op)

	ws := world.InitialState()
	if e.publisher != nil {
		if err := e.publisher.PublishReset(ctx, ws); err != nil {
			e.log.Warn("Failed to publish reset event", "error", err)
		}
	}
	return &Result{Narrative: world.InitialNarrative, State: ws}, nil
}

// Act advances the simulation by one user action. The input is sent to the
// model as given. The record is written only after a reply has been
// received and parsed; any earlier failure leaves it untouched.
func (e *Engine) Act(ctx context.Context, input string) (*Result, error) {
	if strings.TrimSpace(input) == "" {
		return nil, ErrEmptyInput
	}
	apiKey, model := e.settings.get()
	if apiKey == "" {
		return nil, ErrNoCredential
	}

	ctx, span := e.tracer.Start(ctx, "sim.Act", trace.WithAttributes(
		attribute.String("llm.model", model),
		attribute.Int("input.length", len(input)),
	))
	defer span.End()

	if err := e.lock(ctx); err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer e.unlock()

	if e.actTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.actTimeout)
		defer cancel()
	}

	release, err := e.acquire(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer release()

	result, err := e.act(ctx, input, apiKey, model)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "act failed")
		return nil, err
	}
	return result, nil
}

func (e *Engine) act(ctx context.Context, input, apiKey, model string) (*Result, error) {
	rec, err := e.store.Read(ctx)
	if err != nil {
		e.log.Error("Failed to read simulation record", "error", err)
		return nil, fmt.Errorf("failed to read simulation record: %w", err)
	}

	messages, err := prompts.Build(rec.ChatHistory, rec.WorldState, input)
	if err != nil {
		return nil, fmt.Errorf("failed to build prompt: %w", err)
	}

	start := time.Now()
	raw, err := e.llm.Complete(ctx, messages, model, apiKey)
	if err != nil {
		e.log.Error("Completion failed", "model", model, "error", err, "duration", time.Since(start))
		return nil, fmt.Errorf("completion failed: %w", err)
	}
	e.log.Debug("Completion received", "model", model, "duration", time.Since(start), "length", len(raw))

	reply := world.ParseResponse(raw)
	if !reply.NarrativeOK {
		e.log.Warn("Reply has no narrative section", "model", model)
	}
	if !reply.StateOK {
		e.log.Warn("Reply state rejected, using initial state", "model", model, "error", reply.StateErr)
	}

	history := chat.CloneHistory(rec.ChatHistory)
	if len(history) == 0 {
		seed, err := prompts.SeedExchange()
		if err != nil {
			return nil, err
		}
		history = append(history, seed...)
	}
	history = append(history,
		messages[len(messages)-1],
		chat.ChatMessage{Role: chat.ChatRoleAgent, Content: raw},
	)

	if err := e.store.Write(ctx, reply.State, history); err != nil {
		e.log.Error("Failed to write simulation record", "error", err)
		return nil, fmt.Errorf("failed to write simulation record: %w", err)
	}
	e.log.Info("Simulation advanced", "time", reply.State.Time, "turns", len(history)/2)

	if e.publisher != nil {
		if err := e.publisher.PublishAdvanced(ctx, input, reply.Narrative, reply.State); err != nil {
			e.log.Warn("Failed to publish advanced event", "error", err)
		}
	}
	return &Result{Narrative: reply.Narrative, State: reply.State}, nil
}

// Status returns the persisted state and the narrative of every assistant
// turn, oldest first. A history without assistant turns reports the initial
// narrative.
func (e *Engine) Status(ctx context.Context) (*Status, error) {
	rec, err := e.store.Read(ctx)
	if err != nil {
		e.log.Error("Failed to read simulation record", "error", err)
		return nil, fmt.Errorf("failed to read simulation record: %w", err)
	}

	narratives := make([]string, 0, len(rec.ChatHistory)/2)
	for _, msg := range rec.ChatHistory {
		if msg.Role != chat.ChatRoleAgent {
			continue
		}
		narratives = append(narratives, world.ParseResponse(msg.Content).Narrative)
	}
	if len(narratives) == 0 {
		narratives = append(narratives, world.InitialNarrative)
	}
	return &Status{State: rec.WorldState, NarrativeHistory: narratives}, nil
}

// Configure updates the in-memory provider settings. Nil arguments are left
// unchanged. The cached model list is dropped.
func (e *Engine) Configure(apiKey, model *string) Settings {
	s := e.settings.update(apiKey, model)
	e.models.invalidate()
	e.log.Info("Provider settings updated", "model", s.Model, "has_api_key", s.HasAPIKey)
	return s
}

// Settings returns the current provider settings.
func (e *Engine) Settings() Settings {
	return e.settings.snapshot()
}

// ListModels returns the provider's models, sorted by name. Results are
// cached until the next Configure.
func (e *Engine) ListModels(ctx context.Context) ([]services.Model, error) {
	apiKey, _ := e.settings.get()
	if apiKey == "" {
		return nil, ErrNoCredential
	}
	models, err := e.models.get(ctx, func(ctx context.Context) ([]services.Model, error) {
		return e.llm.ListModels(ctx, apiKey)
	})
	if err != nil {
		e.log.Error("Failed to list models", "error", err)
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	return models, nil
}

// Ping reports whether the store is reachable.
func (e *Engine) Ping(ctx context.Context) error {
	return e.store.Ping(ctx)
}

// lock takes the mutation slot or fails once ctx is done.
func (e *Engine) lock(ctx context.Context) error {
	select {
	case e.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for simulation: %w", ctx.Err())
	}
}

func (e *Engine) unlock() {
	<-e.sem
}

func (e *Engine) acquire(ctx context.Context) (func(), error) {
	if e.locker == nil {
		return func() {}, nil
	}
	release, err := e.locker.Acquire(ctx)
	if err != nil {
		e.log.Error("Failed to acquire simulation lock", "error", err)
		return nil, fmt.Errorf("failed to acquire simulation lock: %w", err)
	}
	return release, nil
}
