package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/microsim/internal/services"
	"github.com/jwebster45206/microsim/internal/sim"
	"github.com/jwebster45206/microsim/pkg/chat"
	"github.com/jwebster45206/microsim/pkg/storage"
	"github.com/jwebster45206/microsim/pkg/world"
)

type testServer struct {
	handler http.Handler
	engine  *sim.Engine
	store   *storage.MockStore
	llm     *services.MockLLMAPI
}

func newTestServer(t *testing.T, opts ...sim.Option) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := storage.NewMockStore()
	llm := services.NewMockLLMAPI()
	engine := sim.New(store, llm, logger, opts...)
	return &testServer{
		handler: NewRouter(RouterConfig{
			Simulation: engine,
			Store:      store,
			CORSOrigin: "http://localhost:3000",
			Logger:     logger,
		}),
		engine:  engine,
		store:   store,
		llm:     llm,
	}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&v), rr.Body.String())
	return v
}

func modelReply(t *testing.T, narrative string, ws world.WorldState) string {
	t.Helper()
	text, err := world.FormatReply(narrative, ws)
	require.NoError(t, err)
	return text
}

func TestState_Fresh(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, http.MethodGet, "/api/state", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
	assert.Equal(t, "http://localhost:3000", rr.Header().Get("Access-Control-Allow-Origin"))

	status := decode[sim.Status](t, rr)
	assert.Equal(t, world.InitialTime, status.State.Time)
	assert.Equal(t, []string{world.InitialNarrative}, status.NarrativeHistory)
}

func TestState_StoreError(t *testing.T) {
	s := newTestServer(t)
	s.store.SetReadError(errors.New("database is locked"))

	rr := s.do(t, http.MethodGet, "/api/state", "")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, decode[ErrorResponse](t, rr).Error, "database is locked")
}

func TestInitAndReset(t *testing.T) {
	for _, path := range []string{"/api/init", "/api/reset"} {
		t.Run(path, func(t *testing.T) {
			s := newTestServer(t)
			ws := world.InitialState()
			ws.Time = "21:30"
			s.store.Seed(&storage.Record{WorldState: ws})

			rr := s.do(t, http.MethodPost, path, "")
			require.Equal(t, http.StatusOK, rr.Code)

			res := decode[sim.Result](t, rr)
			assert.Equal(t, world.InitialNarrative, res.Narrative)
			assert.Equal(t, world.InitialTime, res.State.Time)
			assert.Equal(t, 1, s.store.Resets())
			assert.Equal(t, 0, s.llm.CompleteCallCount())
		})
	}
}

func TestReset_StoreError(t *testing.T) {
	s := newTestServer(t)
	s.store.SetResetError(errors.New("read-only file system"))

	rr := s.do(t, http.MethodPost, "/api/reset", "")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestAction(t *testing.T) {
	next := world.InitialState()
	next.Time = "08:00"

	upstream := &services.UpstreamError{StatusCode: http.StatusTooManyRequests, Body: `{"error":"rate limited"}`}

	tests := []struct {
		name        string
		apiKey      string
		body        string
		complete    func(context.Context, []chat.ChatMessage, string, string) (string, error)
		wantStatus  int
		wantError   string
		wantWrites  int
		wantLLMCall int
	}{
		{
			name:        "advances the simulation",
			apiKey:      "sk-test",
			body:        `{"input":"Hello"}`,
			wantStatus:  http.StatusOK,
			wantWrites:  1,
			wantLLMCall: 1,
		},
		{
			name:       "invalid JSON",
			apiKey:     "sk-test",
			body:       `{"input":`,
			wantStatus: http.StatusBadRequest,
			wantError:  msgInvalidAction,
		},
		{
			name:       "blank input",
			apiKey:     "sk-test",
			body:       `{"input":"   "}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "input is required",
		},
		{
			name:       "missing input",
			apiKey:     "sk-test",
			body:       `{}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "input is required",
		},
		{
			name:       "no api key",
			body:       `{"input":"Hello"}`,
			wantStatus: http.StatusUnauthorized,
			wantError:  "No API key configured. Set it via POST /api/config.",
		},
		{
			name:   "upstream rejects the request",
			apiKey: "sk-test",
			body:   `{"input":"Hello"}`,
			complete: func(context.Context, []chat.ChatMessage, string, string) (string, error) {
				return "", upstream
			},
			wantStatus:  http.StatusBadGateway,
			wantError:   upstream.Error(),
			wantLLMCall: 1,
		},
		{
			name:   "transport failure",
			apiKey: "sk-test",
			body:   `{"input":"Hello"}`,
			complete: func(context.Context, []chat.ChatMessage, string, string) (string, error) {
				return "", errors.New("connection reset by peer")
			},
			wantStatus:  http.StatusInternalServerError,
			wantError:   "connection reset by peer",
			wantLLMCall: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, sim.WithAPIKey(tt.apiKey))
			if tt.complete != nil {
				s.llm.CompleteFunc = tt.complete
			} else {
				text := modelReply(t, "Dad wakes up.", next)
				s.llm.CompleteFunc = func(context.Context, []chat.ChatMessage, string, string) (string, error) {
					return text, nil
				}
			}

			rr := s.do(t, http.MethodPost, "/api/action", tt.body)
			require.Equal(t, tt.wantStatus, rr.Code, rr.Body.String())
			assert.Equal(t, tt.wantWrites, s.store.Writes())
			assert.Equal(t, tt.wantLLMCall, s.llm.CompleteCallCount())

			if tt.wantStatus != http.StatusOK {
				assert.Contains(t, decode[ErrorResponse](t, rr).Error, tt.wantError)
				return
			}
			res := decode[sim.Result](t, rr)
			assert.Equal(t, "Dad wakes up.", res.Narrative)
			assert.Equal(t, "08:00", res.State.Time)
		})
	}
}

func TestAction_ThenState(t *testing.T) {
	s := newTestServer(t, sim.WithAPIKey("sk-test"))
	ws := world.InitialState()
	ws.Time = "08:00"
	text := modelReply(t, "Mom calls everyone to breakfast.", ws)
	s.llm.CompleteFunc = func(context.Context, []chat.ChatMessage, string, string) (string, error) {
		return text, nil
	}

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/action", `{"input":"Hello"}`).Code)

	rr := s.do(t, http.MethodGet, "/api/state", "")
	require.Equal(t, http.StatusOK, rr.Code)
	status := decode[sim.Status](t, rr)
	assert.Equal(t, "08:00", status.State.Time)
	// The seed exchange contributes the first narrative.
	require.Len(t, status.NarrativeHistory, 2)
	assert.Equal(t, "Mom calls everyone to breakfast.", status.NarrativeHistory[1])
}

func TestConfig(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, http.MethodPost, "/api/config", `{"apiKey":"sk-new","model":"openai/gpt-4o"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, chat.ConfigResponse{OK: true, Model: "openai/gpt-4o", HasAPIKey: true}, decode[chat.ConfigResponse](t, rr))

	rr = s.do(t, http.MethodPost, "/api/config", `{}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, chat.ConfigResponse{OK: true, Model: "openai/gpt-4o", HasAPIKey: true}, decode[chat.ConfigResponse](t, rr))

	rr = s.do(t, http.MethodPost, "/api/config", `{"apiKey":""}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.False(t, decode[chat.ConfigResponse](t, rr).HasAPIKey)

	rr = s.do(t, http.MethodPost, "/api/config", `not json`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestConfig_KeyUsedForAction(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/config", `{"apiKey":"sk-live"}`).Code)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/action", `{"input":"Hello"}`).Code)

	call, ok := s.llm.LastCompleteCall()
	require.True(t, ok)
	assert.Equal(t, "sk-live", call.APIKey)
	assert.Equal(t, sim.DefaultModel, call.ModelID)
}

func TestModels(t *testing.T) {
	t.Run("no api key", func(t *testing.T) {
		s := newTestServer(t)
		rr := s.do(t, http.MethodGet, "/api/models", "")
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Equal(t, "No API key configured.", decode[ErrorResponse](t, rr).Error)
	})

	t.Run("lists models", func(t *testing.T) {
		s := newTestServer(t, sim.WithAPIKey("sk-test"))
		s.llm.ListModelsFunc = func(context.Context, string) ([]services.Model, error) {
			return []services.Model{{ID: "a/one", Name: "Alpha"}, {ID: "b/two", Name: "Beta"}}, nil
		}
		rr := s.do(t, http.MethodGet, "/api/models", "")
		require.Equal(t, http.StatusOK, rr.Code)
		models := decode[[]services.Model](t, rr)
		require.Len(t, models, 2)
		assert.Equal(t, "Alpha", models[0].Name)
	})

	t.Run("empty list is an array", func(t *testing.T) {
		s := newTestServer(t, sim.WithAPIKey("sk-test"))
		s.llm.ListModelsFunc = func(context.Context, string) ([]services.Model, error) {
			return nil, nil
		}
		rr := s.do(t, http.MethodGet, "/api/models", "")
		require.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `[]`, rr.Body.String())
	})

	t.Run("upstream failure", func(t *testing.T) {
		s := newTestServer(t, sim.WithAPIKey("sk-test"))
		s.llm.ListModelsFunc = func(context.Context, string) ([]services.Model, error) {
			return nil, &services.UpstreamError{StatusCode: http.StatusUnauthorized, Body: "bad key"}
		}
		rr := s.do(t, http.MethodGet, "/api/models", "")
		assert.Equal(t, http.StatusBadGateway, rr.Code)
		assert.Contains(t, decode[ErrorResponse](t, rr).Error, "status 401")
	})

	t.Run("transport failure", func(t *testing.T) {
		s := newTestServer(t, sim.WithAPIKey("sk-test"))
		s.llm.ListModelsFunc = func(context.Context, string) ([]services.Model, error) {
			return nil, errors.New("no route to host")
		}
		rr := s.do(t, http.MethodGet, "/api/models", "")
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
	})
}

func TestRouting(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusMethodNotAllowed, s.do(t, http.MethodGet, "/api/action", "").Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/unknown", "").Code)

	req := httptest.NewRequest(http.MethodOptions, "/api/action", nil)
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestHealthHandler_ServeHTTP(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name           string
		storeErr       error
		extra          map[string]Pinger
		expectedStatus int
		expectedHealth string
		expected       map[string]string
	}{
		{
			name:           "all healthy",
			expectedStatus: http.StatusOK,
			expectedHealth: "healthy",
			expected:       map[string]string{"store": "healthy"},
		},
		{
			name:           "unhealthy store",
			storeErr:       errors.New("connection failed"),
			expectedStatus: http.StatusServiceUnavailable,
			expectedHealth: "degraded",
			expected:       map[string]string{"store": "unhealthy"},
		},
		{
			name: "unhealthy redis",
			extra: map[string]Pinger{
				"redis": PingFunc(func(context.Context) error { return errors.New("dial tcp: refused") }),
			},
			expectedStatus: http.StatusServiceUnavailable,
			expectedHealth: "degraded",
			expected:       map[string]string{"store": "healthy", "redis": "unhealthy"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := storage.NewMockStore()
			store.SetPingError(tt.storeErr)

			h := NewHealthHandler(store, logger, tt.extra)
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

			require.Equal(t, tt.expectedStatus, rr.Code)
			resp := decode[HealthResponse](t, rr)
			assert.Equal(t, tt.expectedHealth, resp.Status)
			assert.Equal(t, "microsim", resp.Service)
			assert.Equal(t, tt.expected, resp.Components)
			assert.False(t, resp.Timestamp.IsZero())
		})
	}
}
