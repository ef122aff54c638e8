package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jwebster45206/microsim/internal/handlers"
)

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *configPath)
		},
	}
}

func runServe(ctx context.Context, configPath string) error {
	a, err := newApp(ctx, configPath, os.Stdout)
	if err != nil {
		return err
	}
	defer a.Close()

	a.log.Info("Starting MicroSim API",
		"port", a.cfg.Port,
		"environment", a.cfg.Environment,
		"model_name", a.cfg.ModelName,
		"has_api_key", a.cfg.OpenRouterAPIKey != "")

	router := handlers.RouterConfig{
		Simulation: a.engine,
		Store:      a.store,
		CORSOrigin: a.cfg.CORSOrigin,
		Logger:     a.log,
	}
	if a.redis != nil {
		router.Health = map[string]handlers.Pinger{
			"redis": handlers.PingFunc(func(ctx context.Context) error {
				return a.redis.Ping(ctx).Err()
			}),
		}
		router.Events = handlers.NewEventsHandler(a.redis, a.log)
	}

	server := &http.Server{
		Addr:        ":" + a.cfg.Port,
		Handler:     handlers.NewRouter(router),
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: actions wait on the model and /api/events streams.
		IdleTimeout: 60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.log.Info("Server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			a.log.Error("Server failed to start", "error", err)
			return err
		}
	case <-ctx.Done():
	}

	a.log.Info("Server is shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		a.log.Error("Server forced to shutdown", "error", err)
		return err
	}

	a.log.Info("Server exited")
	return nil
}
