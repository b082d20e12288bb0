// Package storage defines the durable queue of captured steps awaiting upload
package storage

import (
	"context"
	"time"

	"github.com/AltairaLabs/acro-recorder/internal/types"
)

// QueueStats provides per-session statistics about the step queue
type QueueStats struct {
	Pending          int           // Steps waiting to be batched
	Inflight         int           // Steps in the batch currently being sent
	Acked            int           // Steps accepted by the backend
	Failed           int           // Steps that exhausted their retry budget
	OldestPendingAge time.Duration // Age of the oldest pending step
}

// Unsent is the number of steps the pipeline still has to deliver
func (s *QueueStats) Unsent() int {
	return s.Pending + s.Inflight
}

// StepQueueStorage defines the interface for pluggable step queue backends.
// Records are keyed by (sessionID, orderIndex).
type StepQueueStorage interface {
	// Append adds a captured step in pending state
	// Returns types.ErrStepExists if the (session, order index) pair is already queued
	Append(ctx context.Context, step *types.CapturedStep) error

	// MarkState updates the upload state of a step
	// Moving to inflight increments AttemptCount and stamps LastAttemptAt
	// errMsg, when not empty, is recorded as LastError
	// Returns types.ErrStepNotFound if the step does not exist
	MarkState(ctx context.Context, sessionID string, orderIndex int, state types.UploadState, errMsg string) error

	// Pending returns up to limit pending steps ordered by order index (0 = no limit)
	Pending(ctx context.Context, sessionID string, limit int) ([]*types.CapturedStep, error)

	// GetStep retrieves a specific step
	// Returns nil, nil if the step is not found
	GetStep(ctx context.Context, sessionID string, orderIndex int) (*types.CapturedStep, error)

	// ListSteps returns every queued step of a session ordered by order index
	ListSteps(ctx context.Context, sessionID string) ([]*types.CapturedStep, error)

	// ResetInflight returns inflight steps to pending, used after a restart
	ResetInflight(ctx context.Context, sessionID string) (int, error)

	// RequeueFailed returns failed-permanent steps to pending for another attempt
	RequeueFailed(ctx context.Context, sessionID string) (int, error)

	// PurgeAcked removes acknowledged steps of a session
	PurgeAcked(ctx context.Context, sessionID string) (int, error)

	// Stats returns queue statistics for a session
	Stats(ctx context.Context, sessionID string) (*QueueStats, error)
}

// SessionStateStorage persists the controller's last known session for restart recovery
type SessionStateStorage interface {
	// SaveSession creates or replaces the session record and marks it as the last known session
	SaveSession(ctx context.Context, session *types.Session) error

	// LastSession returns the last saved session
	// Returns nil, nil if no session was saved
	LastSession(ctx context.Context) (*types.Session, error)

	// DeleteSession removes a session record
	DeleteSession(ctx context.Context, sessionID string) error
}

// Store is a complete storage backend
type Store interface {
	StepQueueStorage
	SessionStateStorage
	Close() error
}
