package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AltairaLabs/acro-recorder/internal/config"
	"github.com/AltairaLabs/acro-recorder/internal/session"
)

func newDrainCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Finalize a session interrupted by a restart",
		Long: `Recovers the last session from the durable step queue, uploads its remaining
steps and asks the backend to turn it into a project. The page agent is not needed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			return runDrain(cmd.Context(), cfg, cmd.OutOrStdout(), logger)
		},
	}
	return cmd
}

func runDrain(ctx context.Context, cfg config.Config, out io.Writer, logger *slog.Logger) error {
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.close(); err != nil {
			logger.Error("Failed to close recorder", "error", err)
		}
	}()

	recovered, err := a.recoverSession(ctx)
	if err != nil {
		return fmt.Errorf("recover session: %w", err)
	}
	if recovered == nil {
		_, err := fmt.Fprintln(out, "Nothing to drain")
		return err
	}

	outcome, err := a.controller.Stop(ctx)
	if err != nil {
		return fmt.Errorf("finalize session %s: %w", recovered.ID, err)
	}
	return writeOutcome(out, outcome)
}

func writeOutcome(out io.Writer, outcome *session.Outcome) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(outcome)
}
