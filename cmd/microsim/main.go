package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "microsim",
		Short:        "Persistent household simulation driven by a language model",
		SilenceUsage: true,
	}
	root.Version = version
	root.SetVersionTemplate("{{.Version}}\n")
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")

	root.AddCommand(serveCmd(&configPath))
	root.AddCommand(mcpCmd(&configPath))
	root.AddCommand(statusCmd(&configPath))
	root.AddCommand(actCmd(&configPath))
	root.AddCommand(resetCmd(&configPath))
	root.AddCommand(watchCmd(&configPath))
	root.AddCommand(versionCmd())
	return root
}
