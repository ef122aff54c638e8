package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/jwebster45206/microsim/internal/mcp"
)

func mcpCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// stdout carries the protocol.
			a, err := newApp(cmd.Context(), *configPath, os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()

			a.log.Info("Starting MCP server", "model_name", a.cfg.ModelName)
			return mcp.Serve(cmd.Context(), mcp.NewServer(a.engine, version, a.log))
		},
	}
}
