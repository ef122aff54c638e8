package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jwebster45206/microsim/internal/config"
	"github.com/jwebster45206/microsim/internal/logger"
	"github.com/jwebster45206/microsim/internal/services"
	"github.com/jwebster45206/microsim/internal/services/events"
	"github.com/jwebster45206/microsim/internal/services/lock"
	"github.com/jwebster45206/microsim/internal/sim"
	"github.com/jwebster45206/microsim/internal/storage"
	"github.com/jwebster45206/microsim/internal/telemetry"
	pkgstorage "github.com/jwebster45206/microsim/pkg/storage"
)

const connectTimeout = 30 * time.Second

// app is the process-wide wiring shared by every command.
type app struct {
	cfg    *config.Config
	log    *slog.Logger
	store  pkgstorage.Store
	redis  *redis.Client
	engine *sim.Engine

	shutdownTelemetry func(context.Context) error
}

// newApp loads configuration, connects the store and optional Redis, and
// builds the engine. Logs go to logOut.
func newApp(ctx context.Context, configPath string, logOut io.Writer) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log := logger.SetupTo(cfg, logOut)

	a := &app{cfg: cfg, log: log}

	a.shutdownTelemetry, err = telemetry.Setup(ctx, "microsim", cfg.OTelEndpoint, version)
	if err != nil {
		log.Warn("Tracing disabled", "error", err)
		a.shutdownTelemetry = func(context.Context) error { return nil }
	}

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	a.store, err = storage.Open(connectCtx, cfg.StoreDSN, log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	log.Info("Store connection established")

	opts := []sim.Option{
		sim.WithAPIKey(cfg.OpenRouterAPIKey),
		sim.WithModel(cfg.ModelName),
		sim.WithActTimeout(cfg.ActTimeout),
	}
	if cfg.RedisURL != "" {
		a.redis, err = services.ConnectRedis(connectCtx, cfg.RedisURL, log)
		if err != nil {
			a.Close()
			return nil, err
		}
		opts = append(opts,
			sim.WithLocker(newLocker(a.redis, cfg, log)),
			sim.WithPublisher(events.NewBroadcaster(a.redis, log)),
		)
	}

	llm := services.NewOpenRouterService(
		services.WithBaseURL(cfg.OpenRouterBaseURL),
		services.WithSite(cfg.SiteURL, cfg.SiteName),
		services.WithTimeout(cfg.LLMTimeout),
	)
	a.engine = sim.New(a.store, llm, log, opts...)
	return a, nil
}

// Close releases everything newApp opened.
func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Error("Error closing store", "error", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Error("Error closing redis connection", "error", err)
		}
	}
	if a.shutdownTelemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.shutdownTelemetry(ctx); err != nil {
			a.log.Error("Error flushing traces", "error", err)
		}
	}
}

// newLocker sizes the lock TTL from the Act timeout so the lock cannot
// expire while an Act is still waiting on the model.
func newLocker(client *redis.Client, cfg *config.Config, log *slog.Logger) *lock.RedisLock {
	return lock.New(client, log, lock.WithTTL(lock.TTLFor(cfg.ActTimeout)))
}
