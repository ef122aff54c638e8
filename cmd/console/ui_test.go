package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/microsim/internal/sim"
	"github.com/jwebster45206/microsim/pkg/chat"
	"github.com/jwebster45206/microsim/pkg/world"
)

// fakeAPI serves the routes the console uses.
func fakeAPI(t *testing.T) *apiClient {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /api/state", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sim.Status{
			State:            world.InitialState(),
			NarrativeHistory: []string{world.InitialNarrative},
		})
	})
	mux.HandleFunc("POST /api/action", func(w http.ResponseWriter, r *http.Request) {
		var req chat.ActionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Input == "fail" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"No API key configured. Set it via POST /api/config."}`))
			return
		}
		ws := world.InitialState()
		ws.Time = "07:30"
		_ = json.NewEncoder(w).Encode(sim.Result{Narrative: "echo: " + req.Input, State: ws})
	})
	mux.HandleFunc("POST /api/reset", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sim.Result{Narrative: world.InitialNarrative, State: world.InitialState()})
	})
	mux.HandleFunc("GET /broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("upstream exploded"))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return newAPIClient(srv.Client(), srv.URL)
}

// ready returns a sized console that has loaded the state.
func ready(t *testing.T, api *apiClient) ConsoleUI {
	t.Helper()
	m := NewConsoleUI(api)
	model, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	m = model.(ConsoleUI)
	model, _ = m.Update(m.loadStatus()())
	return model.(ConsoleUI)
}

func TestAPIClient(t *testing.T) {
	api := fakeAPI(t)
	assert.True(t, api.healthy())

	status, err := api.status()
	require.NoError(t, err)
	assert.Equal(t, world.InitialTime, status.State.Time)

	result, err := api.act("hi")
	require.NoError(t, err)
	assert.Equal(t, "echo: hi", result.Narrative)

	_, err = api.act("fail")
	assert.EqualError(t, err, "No API key configured. Set it via POST /api/config.")

	err = api.do(http.MethodGet, "/broken", nil, &struct{}{})
	assert.EqualError(t, err, "API returned status 500: upstream exploded")
}

func TestConsoleUI_LoadsStatus(t *testing.T) {
	m := ready(t, fakeAPI(t))

	assert.False(t, m.loading)
	require.Len(t, m.turns, 1)
	assert.Equal(t, world.InitialNarrative, m.turns[0].narrative)
	require.NotNil(t, m.state)
	assert.Equal(t, world.InitialTime, m.state.Time)
}

func TestConsoleUI_Action(t *testing.T) {
	m := ready(t, fakeAPI(t))
	m.textarea.SetValue("推進 30 分鐘")

	model, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = model.(ConsoleUI)
	require.NotNil(t, cmd)
	assert.True(t, m.loading)
	assert.Equal(t, "推進 30 分鐘", m.pending)
	assert.Empty(t, m.textarea.Value())

	// A second Enter while waiting is ignored.
	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)

	model, _ = m.Update(m.sendAction("推進 30 分鐘")())
	m = model.(ConsoleUI)
	assert.False(t, m.loading)
	assert.Empty(t, m.pending)
	require.Len(t, m.turns, 2)
	assert.Equal(t, turn{input: "推進 30 分鐘", narrative: "echo: 推進 30 分鐘"}, m.turns[1])
	assert.Equal(t, "07:30", m.state.Time)
}

func TestConsoleUI_ActionErrorRestoresInput(t *testing.T) {
	m := ready(t, fakeAPI(t))

	model, _ := m.Update(m.sendAction("fail")())
	m = model.(ConsoleUI)
	require.Error(t, m.err)
	assert.Equal(t, "fail", m.textarea.Value())
	assert.Len(t, m.turns, 1)
}

func TestConsoleUI_Commands(t *testing.T) {
	t.Run("help", func(t *testing.T) {
		m := ready(t, fakeAPI(t))
		model, _ := m.handleCommand("/help")
		assert.Contains(t, model.(ConsoleUI).notice, "/reset")
	})

	t.Run("unknown", func(t *testing.T) {
		m := ready(t, fakeAPI(t))
		model, _ := m.handleCommand("/dance")
		assert.Contains(t, model.(ConsoleUI).notice, "Unknown command /dance")
	})

	t.Run("reset", func(t *testing.T) {
		m := ready(t, fakeAPI(t))
		m.turns = append(m.turns, turn{input: "x", narrative: "y"})

		model, cmd := m.handleCommand("/reset")
		m = model.(ConsoleUI)
		require.NotNil(t, cmd)
		assert.True(t, m.loading)

		model, _ = m.Update(m.sendReset()())
		m = model.(ConsoleUI)
		assert.Equal(t, []turn{{narrative: world.InitialNarrative}}, m.turns)
	})

	t.Run("copy", func(t *testing.T) {
		var copied string
		prev := copyToClipboard
		copyToClipboard = func(s string) error { copied = s; return nil }
		t.Cleanup(func() { copyToClipboard = prev })

		m := ready(t, fakeAPI(t))
		model, _ := m.handleCommand("/copy")
		assert.Equal(t, world.InitialNarrative, copied)
		assert.Contains(t, model.(ConsoleUI).notice, "copied")
	})

	t.Run("copy failure", func(t *testing.T) {
		prev := copyToClipboard
		copyToClipboard = func(string) error { return errors.New("no clipboard utility") }
		t.Cleanup(func() { copyToClipboard = prev })

		m := ready(t, fakeAPI(t))
		model, _ := m.handleCommand("/copy")
		assert.ErrorContains(t, model.(ConsoleUI).err, "no clipboard utility")
	})
}

func TestConsoleUI_QuitModal(t *testing.T) {
	m := ready(t, fakeAPI(t))

	model, _ := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	m = model.(ConsoleUI)
	assert.True(t, m.showQuitModal)

	model, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("n")})
	m = model.(ConsoleUI)
	assert.False(t, m.showQuitModal)
}

func TestWriteMetadata(t *testing.T) {
	ws := world.InitialState()
	out := writeMetadata(&ws)

	assert.Contains(t, out, "07:00")
	for _, c := range ws.Characters {
		assert.Contains(t, out, c.Name)
		assert.Contains(t, out, c.Location)
	}
	assert.Contains(t, writeMetadata(nil), "Loading...")
}

func TestWrapText_HardWrapsCJK(t *testing.T) {
	out := wrapText(strings.Repeat("媽", 30), 10)
	assert.Greater(t, strings.Count(out, "\n"), 0)
}
