package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jwebster45206/microsim/internal/services/events"
	"github.com/jwebster45206/microsim/pkg/world"
)

func statusCmd(configPath *string) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the current state and the latest narrative",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), *configPath, os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()

			status, err := a.engine.Status(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), status)
			}
			latest := status.NarrativeHistory[len(status.NarrativeHistory)-1]
			printTurn(cmd.OutOrStdout(), latest, status.State)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print state and full narrative history as JSON")
	return cmd
}

func actCmd(configPath *string) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "act <input...>",
		Short: "Advance the simulation by one action",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), *configPath, os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.engine.Act(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), result)
			}
			printTurn(cmd.OutOrStdout(), result.Narrative, result.State)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

func resetCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Discard all progress and return to 07:00",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), *configPath, os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.engine.Reset(cmd.Context())
			if err != nil {
				return err
			}
			printTurn(cmd.OutOrStdout(), result.Narrative, result.State)
			return nil
		},
	}
}

func watchCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print simulation events as JSON lines (requires REDIS_URL)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), *configPath, os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()
			if a.redis == nil {
				return fmt.Errorf("watch requires REDIS_URL")
			}

			sub, err := events.Subscribe(cmd.Context(), a.redis, a.log)
			if err != nil {
				return err
			}
			defer sub.Close()

			for {
				select {
				case <-cmd.Context().Done():
					return nil
				case ev, ok := <-sub.Events():
					if !ok {
						return nil
					}
					if err := writeJSON(cmd.OutOrStdout(), ev); err != nil {
						return err
					}
				}
			}
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// printTurn writes a narrative followed by a compact state summary.
func printTurn(w io.Writer, narrative string, ws world.WorldState) {
	fmt.Fprintln(w, narrative)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "[%s] %s %s\n", ws.Time, ws.Environment.Weather, ws.Environment.Temperature)
	for _, c := range ws.Characters {
		fmt.Fprintf(w, "  %s (%s) @ %s: %s [%s]\n", c.Name, c.Role, c.Location, c.CurrentAction, c.Mood)
	}
}
