package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sort"
	"testing"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/microsim/internal/services"
	"github.com/jwebster45206/microsim/internal/sim"
	"github.com/jwebster45206/microsim/pkg/chat"
	"github.com/jwebster45206/microsim/pkg/storage"
	"github.com/jwebster45206/microsim/pkg/world"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newEngine(t *testing.T, opts ...sim.Option) (*sim.Engine, *services.MockLLMAPI) {
	t.Helper()
	llm := services.NewMockLLMAPI()
	return sim.New(storage.NewMockStore(), llm, testLogger(), opts...), llm
}

// connect starts s on an in-memory transport and returns a client session.
func connect(t *testing.T, s Simulation) *sdk.ClientSession {
	t.Helper()
	ctx := context.Background()
	serverTransport, clientTransport := sdk.NewInMemoryTransports()

	ss, err := NewServer(s, "test", testLogger()).Connect(ctx, serverTransport, nil)
	require.NoError(t, err)

	client := sdk.NewClient(&sdk.Implementation{Name: "client", Version: "v0.0.1"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = cs.Close()
		_ = ss.Wait()
	})
	return cs
}

func structured[T any](t *testing.T, res *sdk.CallToolResult) T {
	t.Helper()
	raw, err := json.Marshal(res.StructuredContent)
	require.NoError(t, err)
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func errorText(t *testing.T, res *sdk.CallToolResult) string {
	t.Helper()
	require.True(t, res.IsError)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(*sdk.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestServer_ListsTools(t *testing.T) {
	engine, _ := newEngine(t)
	cs := connect(t, engine)

	res, err := cs.ListTools(context.Background(), nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{"act", "bootstrap", "configure", "get_status", "list_models", "reset"}, names)
}

func TestServer_ConfigureThenAct(t *testing.T) {
	engine, llm := newEngine(t)
	ws := world.InitialState()
	ws.Time = "08:00"
	text, err := world.FormatReply("The kettle whistles.", ws)
	require.NoError(t, err)
	llm.CompleteFunc = func(context.Context, []chat.ChatMessage, string, string) (string, error) {
		return text, nil
	}
	cs := connect(t, engine)
	ctx := context.Background()

	res, err := cs.CallTool(ctx, &sdk.CallToolParams{
		Name:      "act",
		Arguments: map[string]any{"input": "Hello"},
	})
	require.NoError(t, err)
	assert.Contains(t, errorText(t, res), "configure")
	assert.Equal(t, 0, llm.CompleteCallCount())

	res, err = cs.CallTool(ctx, &sdk.CallToolParams{
		Name:      "configure",
		Arguments: map[string]any{"api_key": "sk-mcp", "model": "openai/gpt-4o"},
	})
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Equal(t, chat.ConfigResponse{OK: true, Model: "openai/gpt-4o", HasAPIKey: true}, structured[chat.ConfigResponse](t, res))

	res, err = cs.CallTool(ctx, &sdk.CallToolParams{
		Name:      "act",
		Arguments: map[string]any{"input": "Hello"},
	})
	require.NoError(t, err)
	require.False(t, res.IsError)
	result := structured[sim.Result](t, res)
	assert.Equal(t, "The kettle whistles.", result.Narrative)
	assert.Equal(t, "08:00", result.State.Time)

	call, ok := llm.LastCompleteCall()
	require.True(t, ok)
	assert.Equal(t, "sk-mcp", call.APIKey)
	assert.Equal(t, "openai/gpt-4o", call.ModelID)

	res, err = cs.CallTool(ctx, &sdk.CallToolParams{Name: "get_status", Arguments: map[string]any{}})
	require.NoError(t, err)
	require.False(t, res.IsError)
	status := structured[sim.Status](t, res)
	assert.Equal(t, "08:00", status.State.Time)
	assert.Equal(t, []string{world.InitialNarrative, "The kettle whistles."}, status.NarrativeHistory)
}

func TestTools_Direct(t *testing.T) {
	ctx := context.Background()

	t.Run("bootstrap and reset", func(t *testing.T) {
		engine, _ := newEngine(t)
		tl := &tools{sim: engine, log: testLogger()}

		_, res, err := tl.bootstrap(ctx, nil, NoInput{})
		require.NoError(t, err)
		assert.Equal(t, world.InitialNarrative, res.Narrative)

		_, res, err = tl.reset(ctx, nil, NoInput{})
		require.NoError(t, err)
		assert.Equal(t, world.InitialTime, res.State.Time)
	})

	t.Run("act with blank input", func(t *testing.T) {
		engine, _ := newEngine(t, sim.WithAPIKey("sk-test"))
		tl := &tools{sim: engine, log: testLogger()}

		_, _, err := tl.act(ctx, nil, ActInput{Input: "  "})
		assert.ErrorIs(t, err, sim.ErrEmptyInput)
	})

	t.Run("list models", func(t *testing.T) {
		engine, llm := newEngine(t, sim.WithAPIKey("sk-test"))
		llm.ListModelsFunc = func(context.Context, string) ([]services.Model, error) {
			return nil, nil
		}
		tl := &tools{sim: engine, log: testLogger()}

		_, out, err := tl.listModels(ctx, nil, NoInput{})
		require.NoError(t, err)
		assert.NotNil(t, out.Models)
		assert.Empty(t, out.Models)
	})

	t.Run("list models without key", func(t *testing.T) {
		engine, _ := newEngine(t)
		tl := &tools{sim: engine, log: testLogger()}

		_, _, err := tl.listModels(ctx, nil, NoInput{})
		assert.ErrorIs(t, err, sim.ErrNoCredential)
	})
}
