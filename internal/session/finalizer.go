package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AltairaLabs/acro-recorder/internal/config"
	"github.com/AltairaLabs/acro-recorder/internal/types"
	"github.com/AltairaLabs/acro-recorder/internal/upload"
)

// Uploader is the part of the upload pipeline the controller and finalizer drive
type Uploader interface {
	Open(sessionID, remoteID string)
	Enqueue(ctx context.Context, step *types.CapturedStep) error
	Flush(ctx context.Context, sessionID string, timeout time.Duration) (upload.FlushResult, error)
	RequeueFailed(ctx context.Context, sessionID string) (int, error)
	CloseSession(sessionID string)
}

// Outcome is the result of a successful finalize
type Outcome struct {
	Project *types.Project     `json:"project"`
	Flush   upload.FlushResult `json:"flush"`
}

// Finalizer runs the stop protocol: drain uploads within a bound, then ask the
// backend to turn the session into a project
type Finalizer struct {
	uploader     Uploader
	ingest       types.Ingestion
	flushTimeout time.Duration
	logger       *slog.Logger
}

// NewFinalizer creates a new session finalizer
func NewFinalizer(uploader Uploader, ingest types.Ingestion, cfg config.UploadConfig, logger *slog.Logger) *Finalizer {
	timeout := cfg.FlushTimeout
	if timeout <= 0 {
		timeout = config.DefaultFlushTimeout
	}
	return &Finalizer{
		uploader:     uploader,
		ingest:       ingest,
		flushTimeout: timeout,
		logger:       logger,
	}
}

// Finalize flushes the session's queue and calls session-stop regardless of
// how far the flush got. Unsent steps stay queued for a later attempt.
// On a failed stop call the returned error matches types.ErrSessionFinalizeFailed.
func (f *Finalizer) Finalize(ctx context.Context, session types.Session) (*Outcome, error) {
	f.uploader.Open(session.ID, session.WireID())

	if n, err := f.uploader.RequeueFailed(ctx, session.ID); err != nil {
		f.logger.WarnContext(ctx, "Could not requeue failed steps", "session_id", session.ID, "error", err)
	} else if n > 0 {
		f.logger.InfoContext(ctx, "Retrying failed steps before stop", "session_id", session.ID, "count", n)
	}

	result, err := f.uploader.Flush(ctx, session.ID, f.flushTimeout)
	if err != nil {
		f.logger.WarnContext(ctx, "Flush before stop failed", "session_id", session.ID, "error", err)
	} else if !result.Complete {
		f.logger.WarnContext(ctx, "Stopping with unsent steps",
			"session_id", session.ID,
			"remaining", result.Remaining,
			"failed", result.Failed,
		)
	}

	project, err := f.ingest.StopSession(ctx, session.WireID())
	if err != nil {
		f.logger.ErrorContext(ctx, "Session stop failed", "session_id", session.ID, "error", err)
		return nil, fmt.Errorf("%w: %w", types.ErrSessionFinalizeFailed, err)
	}

	f.logger.InfoContext(ctx, "Session finalized",
		"session_id", session.ID,
		"project_id", project.ProjectID,
		"redirect", project.RedirectTarget,
	)
	return &Outcome{Project: project, Flush: result}, nil
}
