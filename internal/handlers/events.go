package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jwebster45206/microsim/internal/services/events"
)

const keepaliveInterval = 30 * time.Second

// EventsHandler streams simulation events as Server-Sent Events.
type EventsHandler struct {
	redisClient *redis.Client
	logger      *slog.Logger
	keepalive   time.Duration
}

func NewEventsHandler(redisClient *redis.Client, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{
		redisClient: redisClient,
		logger:      logger,
		keepalive:   keepaliveInterval,
	}
}

// ServeHTTP handles GET /api/events
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sub, err := events.Subscribe(r.Context(), h.redisClient, h.logger)
	if err != nil {
		h.logger.Error("Failed to subscribe to events", "error", err)
		writeError(w, h.logger, http.StatusServiceUnavailable, "Event stream unavailable")
		return
	}
	defer func() {
		if err := sub.Close(); err != nil {
			h.logger.Error("Failed to close subscription", "error", err)
		}
	}()

	h.logger.Info("SSE connection established", "remote_addr", r.RemoteAddr)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	if err := h.sendSSE(w, rc, "connected", map[string]any{"message": "Connected to event stream"}); err != nil {
		return
	}

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.logger.Info("SSE client disconnected")
			return

		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := h.sendSSE(w, rc, string(event.Type), event); err != nil {
				return
			}

		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				h.logger.Error("Failed to write keepalive", "error", err)
				return
			}
			_ = rc.Flush()
		}
	}
}

func (h *EventsHandler) sendSSE(w http.ResponseWriter, rc *http.ResponseController, eventType string, data any) error {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("Failed to marshal SSE data", "error", err)
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, dataJSON); err != nil {
		h.logger.Error("Failed to write event", "error", err)
		return err
	}
	if err := rc.Flush(); err != nil {
		h.logger.Error("Failed to flush event", "error", err)
		return err
	}
	return nil
}
