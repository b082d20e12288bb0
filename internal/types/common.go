// Package types provides shared types used across the acro-recorder codebase
package types

import (
	"context"
	"time"
)

// SessionStatus represents the lifecycle state of a recording session
type SessionStatus string

const (
	// StatusIdle is the initial state and the state reached after a stopped session is reset
	StatusIdle SessionStatus = "idle"
	// StatusInitializing indicates the backend session exists and capture is being armed
	StatusInitializing SessionStatus = "initializing"
	// StatusRecording indicates interactions are being captured
	StatusRecording SessionStatus = "recording"
	// StatusPaused indicates the media stream is paused and the pause UI is shown
	StatusPaused SessionStatus = "paused"
	// StatusStopping indicates the session is being finalized (or finalize failed and may be retried)
	StatusStopping SessionStatus = "stopping"
	// StatusStopped indicates the session was finalized into a project
	StatusStopped SessionStatus = "stopped"
)

// Session is one recording run
type Session struct {
	ID        string        `json:"id"`
	RemoteID  string        `json:"remote_id,omitempty"` // Session id issued by the backend
	Status    SessionStatus `json:"status"`
	StartedAt time.Time     `json:"started_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	StepCount int           `json:"step_count"` // Steps ever assigned an order index
	PausedAt  time.Time     `json:"paused_at,omitzero"`
	PausedFor time.Duration `json:"paused_for,omitempty"` // Total time spent paused before PausedAt
}

// RecordingStart is StartedAt shifted forward by the time spent paused, so that
// now minus RecordingStart is the time actually recorded.
func (s *Session) RecordingStart() time.Time {
	return s.StartedAt.Add(s.PausedFor)
}

// WireID returns the id used when talking to the backend
func (s *Session) WireID() string {
	if s.RemoteID != "" {
		return s.RemoteID
	}
	return s.ID
}

// Active reports whether the session still owns unfinished work
func (s *Session) Active() bool {
	switch s.Status {
	case StatusRecording, StatusPaused, StatusStopping:
		return true
	default:
		return false
	}
}

// ActionType is the kind of captured interaction
type ActionType string

const (
	ActionClick  ActionType = "click"
	ActionScroll ActionType = "scroll"
)

// Valid reports whether the action type is one the backend accepts
func (a ActionType) Valid() bool {
	return a == ActionClick || a == ActionScroll
}

// UploadState tracks a captured step through the upload pipeline
type UploadState string

const (
	// UploadPending indicates the step is waiting to be batched
	UploadPending UploadState = "pending"
	// UploadInflight indicates the step is part of the batch currently being sent
	UploadInflight UploadState = "inflight"
	// UploadAcked indicates the backend accepted the step
	UploadAcked UploadState = "acked"
	// UploadFailedPermanent indicates the retry budget was exhausted; the step stays queued
	UploadFailedPermanent UploadState = "failed-permanent"
)

// Viewport is the page viewport size at capture time
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// CaptureRequest describes one interaction to capture
type CaptureRequest struct {
	ActionType        ActionType `json:"action_type"`
	TargetDescription string     `json:"target_description,omitempty"`
	X                 int        `json:"x"`
	Y                 int        `json:"y"`
	Viewport          Viewport   `json:"viewport"`
}

// CapturedStep is one captured interaction plus its upload bookkeeping
type CapturedStep struct {
	SessionID         string      `json:"session_id"`
	OrderIndex        int         `json:"order_index"`
	ActionType        ActionType  `json:"action_type"`
	TargetDescription string      `json:"target_description,omitempty"`
	X                 int         `json:"x"`
	Y                 int         `json:"y"`
	ViewportWidth     int         `json:"viewport_width"`
	ViewportHeight    int         `json:"viewport_height"`
	Image             []byte      `json:"image"`
	CapturedAt        time.Time   `json:"captured_at"`
	UploadState       UploadState `json:"upload_state"`
	AttemptCount      int         `json:"attempt_count"`
	LastAttemptAt     *time.Time  `json:"last_attempt_at,omitempty"`
	LastError         string      `json:"last_error,omitempty"`
}

// Project is the artifact produced by a successful finalize
type Project struct {
	ProjectID      string `json:"project_id"`
	UUID           string `json:"uuid,omitempty"`
	RedirectTarget string `json:"redirect_target"`
}

// ProcessingStatus is the backend's post-stop processing state
type ProcessingStatus string

const (
	ProcessingInProgress ProcessingStatus = "processing"
	ProcessingCompleted  ProcessingStatus = "completed"
)

// RemoteSessionStatus is the answer of the backend session-status endpoint
type RemoteSessionStatus struct {
	Status    ProcessingStatus `json:"status"`
	ProjectID string           `json:"project_id,omitempty"`
}

// CaptureAdapter takes the screenshot for one interaction
type CaptureAdapter interface {
	Capture(ctx context.Context, req CaptureRequest) ([]byte, error)
}

// MediaStream is the page capture stream. Both calls return once the stream acknowledged the change.
type MediaStream interface {
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
}

// StatusUI injects and removes the in-page pause UI. Both calls return once the change is visible.
type StatusUI interface {
	InjectStatusUI(ctx context.Context) error
	RemoveStatusUI(ctx context.Context) error
}

// CaptureListeners arms and disarms the in-page interaction listeners
type CaptureListeners interface {
	Attach(ctx context.Context) error
	Detach(ctx context.Context) error
}

// Ingestion is the backend contract consumed by the controller, pipeline and finalizer
type Ingestion interface {
	StartSession(ctx context.Context, clientSessionID string) (string, error)
	UploadStep(ctx context.Context, remoteSessionID string, step *CapturedStep) (string, error)
	StopSession(ctx context.Context, remoteSessionID string) (*Project, error)
	SessionStatus(ctx context.Context, remoteSessionID string) (*RemoteSessionStatus, error)
}
