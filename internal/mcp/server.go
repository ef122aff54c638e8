// Package mcp exposes the simulation as Model Context Protocol tools.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/jwebster45206/microsim/internal/services"
	"github.com/jwebster45206/microsim/internal/sim"
	"github.com/jwebster45206/microsim/pkg/chat"
)

const serverName = "microsim"

// Simulation is the set of engine operations offered as tools.
type Simulation interface {
	Status(ctx context.Context) (*sim.Status, error)
	Bootstrap(ctx context.Context) (*sim.Result, error)
	Reset(ctx context.Context) (*sim.Result, error)
	Act(ctx context.Context, input string) (*sim.Result, error)
	Configure(apiKey, model *string) sim.Settings
	ListModels(ctx context.Context) ([]services.Model, error)
}

var _ Simulation = (*sim.Engine)(nil)

// NoInput is the argument type of tools that take none.
type NoInput struct{}

// ActInput is the argument of the act tool.
type ActInput struct {
	Input string `json:"input" jsonschema:"what the user does or says in the household"`
}

// ConfigureInput is the argument of the configure tool.
type ConfigureInput struct {
	APIKey *string `json:"api_key,omitempty" jsonschema:"OpenRouter API key; empty clears it"`
	Model  *string `json:"model,omitempty" jsonschema:"model identifier, e.g. google/gemini-2.5-flash"`
}

// ModelsResult is the output of the list_models tool.
type ModelsResult struct {
	Models []services.Model `json:"models" jsonschema:"models offered by the provider, sorted by name"`
}

// NewServer builds an MCP server whose tools delegate to s.
func NewServer(s Simulation, version string, log *slog.Logger) *sdk.Server {
	server := sdk.NewServer(&sdk.Implementation{Name: serverName, Version: version}, nil)
	t := &tools{sim: s, log: log}

	sdk.AddTool(server, &sdk.Tool{
		Name:        "get_status",
		Description: "Return the current household state and every narrative so far, oldest first",
	}, t.status)
	sdk.AddTool(server, &sdk.Tool{
		Name:        "bootstrap",
		Description: "Start the simulation over from 07:00 with an empty history",
	}, t.bootstrap)
	sdk.AddTool(server, &sdk.Tool{
		Name:        "act",
		Description: "Advance the simulation by one user action and return the new narrative and state",
	}, t.act)
	sdk.AddTool(server, &sdk.Tool{
		Name:        "reset",
		Description: "Discard all progress and return to the initial state",
	}, t.reset)
	sdk.AddTool(server, &sdk.Tool{
		Name:        "configure",
		Description: "Set the provider API key and model for this process",
	}, t.configure)
	sdk.AddTool(server, &sdk.Tool{
		Name:        "list_models",
		Description: "List the models the provider offers",
	}, t.listModels)

	return server
}

// Serve runs the server over stdio until ctx is done or the client
// disconnects.
func Serve(ctx context.Context, server *sdk.Server) error {
	if err := server.Run(ctx, &sdk.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

type tools struct {
	sim Simulation
	log *slog.Logger
}

func (t *tools) status(ctx context.Context, _ *sdk.CallToolRequest, _ NoInput) (*sdk.CallToolResult, sim.Status, error) {
	status, err := t.sim.Status(ctx)
	if err != nil {
		return nil, sim.Status{}, err
	}
	return nil, *status, nil
}

func (t *tools) bootstrap(ctx context.Context, _ *sdk.CallToolRequest, _ NoInput) (*sdk.CallToolResult, sim.Result, error) {
	return result(t.sim.Bootstrap(ctx))
}

func (t *tools) reset(ctx context.Context, _ *sdk.CallToolRequest, _ NoInput) (*sdk.CallToolResult, sim.Result, error) {
	return result(t.sim.Reset(ctx))
}

func (t *tools) act(ctx context.Context, _ *sdk.CallToolRequest, in ActInput) (*sdk.CallToolResult, sim.Result, error) {
	res, err := t.sim.Act(ctx, in.Input)
	if err != nil {
		t.log.Warn("Act tool failed", "error", err)
		if errors.Is(err, sim.ErrNoCredential) {
			return nil, sim.Result{}, fmt.Errorf("%w: call the configure tool with an api_key first", err)
		}
		return nil, sim.Result{}, err
	}
	return nil, *res, nil
}

func (t *tools) configure(_ context.Context, _ *sdk.CallToolRequest, in ConfigureInput) (*sdk.CallToolResult, chat.ConfigResponse, error) {
	s := t.sim.Configure(in.APIKey, in.Model)
	return nil, chat.ConfigResponse{OK: true, Model: s.Model, HasAPIKey: s.HasAPIKey}, nil
}

func (t *tools) listModels(ctx context.Context, _ *sdk.CallToolRequest, _ NoInput) (*sdk.CallToolResult, ModelsResult, error) {
	models, err := t.sim.ListModels(ctx)
	if err != nil {
		return nil, ModelsResult{}, err
	}
	if models == nil {
		models = []services.Model{}
	}
	return nil, ModelsResult{Models: models}, nil
}

func result(res *sim.Result, err error) (*sdk.CallToolResult, sim.Result, error) {
	if err != nil {
		return nil, sim.Result{}, err
	}
	return nil, *res, nil
}
