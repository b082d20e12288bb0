package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/AltairaLabs/acro-recorder/internal/config"
	"github.com/AltairaLabs/acro-recorder/internal/ingest"
	"github.com/AltairaLabs/acro-recorder/internal/storage"
	"github.com/AltairaLabs/acro-recorder/internal/types"
)

// sessionLister is implemented by stores that can enumerate queued sessions
type sessionLister interface {
	SessionIDs(ctx context.Context) ([]string, error)
}

func newStatusCmd(root *rootOptions) *cobra.Command {
	var queue bool

	cmd := &cobra.Command{
		Use:   "status [backend-session-id]",
		Short: "Show backend processing status or the local step queue",
		Long: `Polls the backend for the post-stop processing status of a session.
Without an argument the last known session is used.

With --queue, lists the sessions that still have steps in the local queue.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}

			store, err := openStore(cfg.Storage, logger)
			if err != nil {
				return fmt.Errorf("open step queue: %w", err)
			}
			defer func() {
				if err := store.Close(); err != nil {
					logger.Error("Failed to close step queue", "error", err)
				}
			}()

			if queue {
				return writeQueue(cmd.Context(), store, cmd.OutOrStdout())
			}

			remoteID := ""
			if len(args) == 1 {
				remoteID = args[0]
			}
			client := ingest.NewClient(cfg.Backend, logger)
			return runStatus(cmd.Context(), store, client, remoteID, cmd.OutOrStdout(), logger)
		},
	}

	cmd.Flags().BoolVar(&queue, "queue", false, "List sessions with queued steps instead of polling the backend")

	return cmd
}

type statusSource interface {
	SessionStatus(ctx context.Context, remoteSessionID string) (*types.RemoteSessionStatus, error)
}

func runStatus(
	ctx context.Context,
	store storage.SessionStateStorage,
	client statusSource,
	remoteID string,
	out io.Writer,
	logger *slog.Logger,
) error {
	if remoteID == "" {
		last, err := store.LastSession(ctx)
		if err != nil {
			return fmt.Errorf("load last session: %w", err)
		}
		if last == nil {
			return errors.New(config.ErrNoActiveSession)
		}
		remoteID = last.WireID()
		logger.Debug("Using last known session", "session_id", last.ID, "remote_session_id", remoteID)
	}

	status, err := client.SessionStatus(ctx, remoteID)
	if err != nil {
		return fmt.Errorf("session status: %w", err)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		SessionID string `json:"session_id"`
		*types.RemoteSessionStatus
	}{remoteID, status})
}

func writeQueue(ctx context.Context, store storage.Store, out io.Writer) error {
	lister, ok := store.(sessionLister)
	if !ok {
		return errors.New("the configured storage backend cannot list sessions")
	}
	ids, err := lister.SessionIDs(ctx)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tPENDING\tINFLIGHT\tACKED\tFAILED")
	for _, id := range ids {
		stats, err := store.Stats(ctx, id)
		if err != nil {
			return fmt.Errorf("stats for %s: %w", id, err)
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\n", id, stats.Pending, stats.Inflight, stats.Acked, stats.Failed)
	}
	return w.Flush()
}
