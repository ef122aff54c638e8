package handlers

import (
	"log/slog"
	"net/http"

	"github.com/jwebster45206/microsim/internal/middleware"
)

// RouterConfig collects what the API server routes to.
type RouterConfig struct {
	Simulation Simulation
	Store      Pinger
	// Health lists components checked in addition to the store.
	Health map[string]Pinger
	// Events serves GET /api/events when set.
	Events     http.Handler
	CORSOrigin string
	Logger     *slog.Logger
}

// NewRouter wires the API routes behind the shared middleware.
func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /health", NewHealthHandler(cfg.Store, cfg.Logger, cfg.Health))
	NewSimulationHandler(cfg.Simulation, cfg.Logger).Register(mux)
	if cfg.Events != nil {
		mux.Handle("GET /api/events", cfg.Events)
	}

	return middleware.Chain(mux,
		middleware.WithLogger(cfg.Logger),
		middleware.Recover,
		middleware.CORS(cfg.CORSOrigin),
	)
}
