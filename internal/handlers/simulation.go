package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/jwebster45206/microsim/internal/logger"
	"github.com/jwebster45206/microsim/internal/middleware"
	"github.com/jwebster45206/microsim/internal/services"
	"github.com/jwebster45206/microsim/internal/sim"
	"github.com/jwebster45206/microsim/pkg/chat"
)

const (
	msgInputRequired  = "input is required"
	msgInvalidAction  = "Invalid request body. Expected JSON with 'input' field."
	msgInvalidConfig  = "Invalid request body. Expected JSON with optional 'apiKey' and 'model' fields."
	msgNoKeyForAction = "No API key configured. Set it via POST /api/config."
	msgNoKeyForModels = "No API key configured."
)

// maxBodyBytes caps request bodies. Actions are a sentence or two.
const maxBodyBytes = 1 << 20

// Simulation is the set of operations the HTTP API exposes.
type Simulation interface {
	Status(ctx context.Context) (*sim.Status, error)
	Bootstrap(ctx context.Context) (*sim.Result, error)
	Reset(ctx context.Context) (*sim.Result, error)
	Act(ctx context.Context, input string) (*sim.Result, error)
	Configure(apiKey, model *string) sim.Settings
	ListModels(ctx context.Context) ([]services.Model, error)
}

var _ Simulation = (*sim.Engine)(nil)

// SimulationHandler serves the /api routes.
type SimulationHandler struct {
	sim    Simulation
	logger *slog.Logger
}

func NewSimulationHandler(s Simulation, logger *slog.Logger) *SimulationHandler {
	return &SimulationHandler{sim: s, logger: logger}
}

// Register adds the simulation routes to mux.
//
//	GET  /api/state   - state plus narrative history
//	POST /api/init    - reset to the initial state
//	POST /api/reset   - same as /api/init
//	POST /api/action  - advance by one user action
//	POST /api/config  - update provider key and model
//	GET  /api/models  - models offered by the provider
func (h *SimulationHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/state", h.handleState)
	mux.HandleFunc("POST /api/init", h.handleInit)
	mux.HandleFunc("POST /api/reset", h.handleReset)
	mux.HandleFunc("POST /api/action", h.handleAction)
	mux.HandleFunc("POST /api/config", h.handleConfig)
	mux.HandleFunc("GET /api/models", h.handleModels)
}

func (h *SimulationHandler) log(r *http.Request) *slog.Logger {
	return middleware.LoggerFrom(r.Context(), h.logger)
}

func (h *SimulationHandler) handleState(w http.ResponseWriter, r *http.Request) {
	log := h.log(r)
	status, err := h.sim.Status(r.Context())
	if err != nil {
		log.Error("Failed to load simulation status", "error", err)
		writeError(w, log, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, log, http.StatusOK, status)
}

func (h *SimulationHandler) handleInit(w http.ResponseWriter, r *http.Request) {
	h.reset(w, r, h.sim.Bootstrap)
}

func (h *SimulationHandler) handleReset(w http.ResponseWriter, r *http.Request) {
	h.reset(w, r, h.sim.Reset)
}

func (h *SimulationHandler) reset(w http.ResponseWriter, r *http.Request, fn func(context.Context) (*sim.Result, error)) {
	log := h.log(r)
	result, err := fn(r.Context())
	if err != nil {
		writeError(w, log, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, log, http.StatusOK, result)
}

func (h *SimulationHandler) handleAction(w http.ResponseWriter, r *http.Request) {
	log := h.log(r)

	var req chat.ActionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		log.Warn("Invalid action body", "error", err)
		writeError(w, log, http.StatusBadRequest, msgInvalidAction)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, log, http.StatusBadRequest, msgInputRequired)
		return
	}

	result, err := h.sim.Act(r.Context(), req.Input)
	if err != nil {
		status, msg := actionError(err)
		if status >= http.StatusInternalServerError {
			logger.WithError(log, err).Error("Action failed", "status", status)
		}
		writeError(w, log, status, msg)
		return
	}
	writeJSON(w, log, http.StatusOK, result)
}

// actionError maps an Act failure to a status code and client message.
func actionError(err error) (int, string) {
	var upstream *services.UpstreamError
	switch {
	case errors.Is(err, sim.ErrEmptyInput):
		return http.StatusBadRequest, msgInputRequired
	case errors.Is(err, sim.ErrNoCredential):
		return http.StatusUnauthorized, msgNoKeyForAction
	case errors.As(err, &upstream):
		return http.StatusBadGateway, upstream.Error()
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

func (h *SimulationHandler) handleConfig(w http.ResponseWriter, r *http.Request) {
	log := h.log(r)

	var req chat.ConfigRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		log.Warn("Invalid config body", "error", err)
		writeError(w, log, http.StatusBadRequest, msgInvalidConfig)
		return
	}

	s := h.sim.Configure(req.APIKey, req.Model)
	writeJSON(w, log, http.StatusOK, chat.ConfigResponse{
		OK:        true,
		Model:     s.Model,
		HasAPIKey: s.HasAPIKey,
	})
}

func (h *SimulationHandler) handleModels(w http.ResponseWriter, r *http.Request) {
	log := h.log(r)

	models, err := h.sim.ListModels(r.Context())
	if err != nil {
		var upstream *services.UpstreamError
		switch {
		case errors.Is(err, sim.ErrNoCredential):
			writeError(w, log, http.StatusUnauthorized, msgNoKeyForModels)
		case errors.As(err, &upstream):
			writeError(w, log, http.StatusBadGateway, upstream.Error())
		default:
			writeError(w, log, http.StatusInternalServerError, err.Error())
		}
		return
	}
	if models == nil {
		models = []services.Model{}
	}
	writeJSON(w, log, http.StatusOK, models)
}
