// Package session implements the recording session state machine and its stop protocol
package session

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AltairaLabs/acro-recorder/internal/config"
	"github.com/AltairaLabs/acro-recorder/internal/storage"
	"github.com/AltairaLabs/acro-recorder/internal/types"
)

// Page groups the in-page collaborators the controller drives
type Page struct {
	Capture   types.CaptureAdapter
	Media     types.MediaStream
	UI        types.StatusUI
	Listeners types.CaptureListeners
}

// Observer is called after every transition with the new session state and badge
type Observer func(session types.Session, badge types.Badge)

// Controller owns one recording session at a time.
//
// Transitions are serialized: while one is running any other transition
// request is rejected with a StateViolationError. Captures hold captureMu for
// reading, so pause and stop wait for in-flight captures before touching the
// media stream.
type Controller struct {
	page      Page
	ingest    types.Ingestion
	uploader  Uploader
	store     storage.Store
	finalizer *Finalizer
	logger    *slog.Logger

	settleDelay time.Duration
	now         func() time.Time

	captureMu sync.RWMutex

	mu            sync.Mutex
	session       types.Session
	transitioning bool
	initAt        time.Time
	project       *types.Project

	obsMu     sync.Mutex
	observers map[int]Observer
	nextObsID int
}

// NewController creates a controller in the idle state
func NewController(
	page Page,
	ingest types.Ingestion,
	uploader Uploader,
	store storage.Store,
	finalizer *Finalizer,
	cfg config.SessionConfig,
	logger *slog.Logger,
) *Controller {
	return &Controller{
		page:        page,
		ingest:      ingest,
		uploader:    uploader,
		store:       store,
		finalizer:   finalizer,
		logger:      logger,
		settleDelay: cfg.SettleDelay,
		now:         time.Now,
		session:     types.Session{Status: types.StatusIdle},
		observers:   make(map[int]Observer),
	}
}

// State returns a snapshot of the current session
func (c *Controller) State() types.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Badge returns the status badge for the current state
func (c *Controller) Badge() types.Badge {
	c.mu.Lock()
	defer c.mu.Unlock()
	return types.BadgeFor(c.session.Status, c.session.RecordingStart(), c.now())
}

// Project returns the project of the last finalized session, nil if none
func (c *Controller) Project() *types.Project {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.project == nil {
		return nil
	}
	p := *c.project
	return &p
}

// Subscribe registers an observer and returns a function that removes it
func (c *Controller) Subscribe(fn Observer) func() {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()

	id := c.nextObsID
	c.nextObsID++
	c.observers[id] = fn

	return func() {
		c.obsMu.Lock()
		defer c.obsMu.Unlock()
		delete(c.observers, id)
	}
}

// Start opens a new session: idle -> initializing.
// If the backend refuses the session the controller returns to idle.
func (c *Controller) Start(ctx context.Context) (types.Session, error) {
	if _, err := c.begin(ctx, "start", types.StatusIdle); err != nil {
		return types.Session{}, err
	}
	defer c.end()

	now := c.now()
	c.mu.Lock()
	c.session = types.Session{
		ID:        uuid.NewString(),
		Status:    types.StatusInitializing,
		StartedAt: now,
		UpdatedAt: now,
	}
	c.initAt = now
	c.project = nil
	sessionID := c.session.ID
	c.mu.Unlock()
	c.publish()

	c.logger.InfoContext(ctx, "Starting recording session", "session_id", sessionID)

	remoteID, err := c.ingest.StartSession(ctx, sessionID)
	if err != nil {
		c.logger.ErrorContext(ctx, "Session start failed", "session_id", sessionID, "error", err)
		c.mu.Lock()
		c.session = types.Session{Status: types.StatusIdle, UpdatedAt: c.now()}
		c.mu.Unlock()
		c.publish()
		return types.Session{}, fmt.Errorf("%w: %w", types.ErrSessionStartFailed, err)
	}

	c.mu.Lock()
	c.session.RemoteID = remoteID
	snapshot := c.session
	c.mu.Unlock()

	c.uploader.Open(snapshot.ID, snapshot.WireID())
	c.persist(ctx, snapshot)

	return snapshot, nil
}

// BeginCapture arms capture: initializing -> recording. It waits out the
// settle delay counted from Start, then attaches the capture listeners.
// If attaching fails the controller stays in initializing.
func (c *Controller) BeginCapture(ctx context.Context) (types.Session, error) {
	if _, err := c.begin(ctx, "begin_capture", types.StatusInitializing); err != nil {
		return types.Session{}, err
	}
	defer c.end()

	c.mu.Lock()
	remaining := c.settleDelay - c.now().Sub(c.initAt)
	c.mu.Unlock()

	if remaining > 0 {
		timer := time.NewTimer(remaining)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return types.Session{}, ctx.Err()
		}
	}

	if err := c.page.Listeners.Attach(ctx); err != nil {
		c.logger.ErrorContext(ctx, "Failed to attach capture listeners", "error", err)
		return types.Session{}, fmt.Errorf("attach capture listeners: %w", err)
	}

	// Elapsed recording time counts from here
	return c.transition(ctx, types.StatusRecording, func(s *types.Session) {
		s.StartedAt = c.now()
	}), nil
}

// Pause stops capture: recording -> paused.
// The media stream is paused and acknowledged before the status UI is injected,
// so the UI can never appear in a captured frame.
func (c *Controller) Pause(ctx context.Context) (types.Session, error) {
	if _, err := c.begin(ctx, "pause", types.StatusRecording); err != nil {
		return types.Session{}, err
	}
	defer c.end()

	c.captureMu.Lock()
	defer c.captureMu.Unlock()

	if err := c.page.Media.Pause(ctx); err != nil {
		c.logger.ErrorContext(ctx, "Media pause failed", "error", err)
		return types.Session{}, fmt.Errorf("pause media stream: %w", err)
	}

	if err := c.page.UI.InjectStatusUI(ctx); err != nil {
		// The stream is already paused, so the session is paused even without its UI
		c.logger.WarnContext(ctx, "Status UI injection failed", "error", err)
	}

	return c.transition(ctx, types.StatusPaused, func(s *types.Session) {
		s.PausedAt = c.now()
	}), nil
}

// Resume restarts capture: paused -> recording.
// The status UI is removed and acknowledged before the media stream resumes.
func (c *Controller) Resume(ctx context.Context) (types.Session, error) {
	if _, err := c.begin(ctx, "resume", types.StatusPaused); err != nil {
		return types.Session{}, err
	}
	defer c.end()

	if err := c.page.UI.RemoveStatusUI(ctx); err != nil {
		c.logger.ErrorContext(ctx, "Status UI removal failed", "error", err)
		return types.Session{}, fmt.Errorf("remove status UI: %w", err)
	}

	if err := c.page.Media.Resume(ctx); err != nil {
		c.logger.ErrorContext(ctx, "Media resume failed", "error", err)
		if injectErr := c.page.UI.InjectStatusUI(ctx); injectErr != nil {
			c.logger.WarnContext(ctx, "Status UI re-injection failed", "error", injectErr)
		}
		return types.Session{}, fmt.Errorf("resume media stream: %w", err)
	}

	return c.transition(ctx, types.StatusRecording, func(s *types.Session) {
		if !s.PausedAt.IsZero() {
			s.PausedFor += c.now().Sub(s.PausedAt)
			s.PausedAt = time.Time{}
		}
	}), nil
}

// CaptureEvent captures one interaction and queues it for upload.
// A failed capture is dropped: the returned error matches types.ErrCaptureDropped
// and neither the state nor the step count change.
func (c *Controller) CaptureEvent(ctx context.Context, req types.CaptureRequest) (*types.CapturedStep, error) {
	if !req.ActionType.Valid() {
		return nil, fmt.Errorf("invalid action type %q", req.ActionType)
	}

	c.captureMu.RLock()
	defer c.captureMu.RUnlock()

	c.mu.Lock()
	status := c.session.Status
	c.mu.Unlock()
	if status != types.StatusRecording {
		return nil, c.violation(ctx, "capture", status, "")
	}

	image, err := c.page.Capture.Capture(ctx, req)
	if err != nil {
		c.logger.WarnContext(ctx, "Capture failed, dropping event",
			"action_type", req.ActionType,
			"error", err,
		)
		return nil, &types.CaptureError{Action: req.ActionType, Err: err}
	}

	c.mu.Lock()
	step := &types.CapturedStep{
		SessionID:         c.session.ID,
		OrderIndex:        c.session.StepCount,
		ActionType:        req.ActionType,
		TargetDescription: req.TargetDescription,
		X:                 req.X,
		Y:                 req.Y,
		ViewportWidth:     req.Viewport.Width,
		ViewportHeight:    req.Viewport.Height,
		Image:             image,
		CapturedAt:        c.now(),
		UploadState:       types.UploadPending,
	}
	// Order index assignment and enqueue happen under one lock so queue order is capture order
	if err := c.uploader.Enqueue(ctx, step); err != nil {
		c.mu.Unlock()
		c.logger.ErrorContext(ctx, "Failed to queue step", "order_index", step.OrderIndex, "error", err)
		return nil, fmt.Errorf("queue step: %w", err)
	}
	c.session.StepCount++
	c.session.UpdatedAt = step.CapturedAt
	snapshot := c.session
	c.mu.Unlock()

	c.persist(ctx, snapshot)

	c.logger.InfoContext(ctx, "Step captured",
		"session_id", step.SessionID,
		"order_index", step.OrderIndex,
		"action_type", step.ActionType,
	)
	return step, nil
}

// Stop finalizes the session: recording|paused -> stopping -> stopped.
// If session-stop fails the controller stays in stopping and Stop may be called again.
func (c *Controller) Stop(ctx context.Context) (*Outcome, error) {
	from, err := c.begin(ctx, "stop", types.StatusRecording, types.StatusPaused, types.StatusStopping)
	if err != nil {
		return nil, err
	}
	defer c.end()

	session := c.enterStopping(ctx, from)

	outcome, err := c.finalizer.Finalize(ctx, session)
	if err != nil {
		return nil, err
	}

	c.uploader.CloseSession(session.ID)

	c.mu.Lock()
	project := *outcome.Project
	c.project = &project
	c.mu.Unlock()

	c.transition(ctx, types.StatusStopped, nil)
	return outcome, nil
}

// enterStopping tears down capture and moves to stopping while no capture is in flight
func (c *Controller) enterStopping(ctx context.Context, from types.SessionStatus) types.Session {
	c.captureMu.Lock()
	defer c.captureMu.Unlock()

	if from != types.StatusStopping {
		if err := c.page.Listeners.Detach(ctx); err != nil {
			c.logger.WarnContext(ctx, "Failed to detach capture listeners", "error", err)
		}
		if from == types.StatusPaused {
			if err := c.page.UI.RemoveStatusUI(ctx); err != nil {
				c.logger.WarnContext(ctx, "Status UI removal failed", "error", err)
			}
		}
	}

	return c.transition(ctx, types.StatusStopping, nil)
}

// Abort abandons a session that never started capturing: initializing -> idle
func (c *Controller) Abort(ctx context.Context) (types.Session, error) {
	if _, err := c.begin(ctx, "abort", types.StatusInitializing); err != nil {
		return types.Session{}, err
	}
	defer c.end()

	if err := c.page.Listeners.Detach(ctx); err != nil {
		c.logger.DebugContext(ctx, "Detach during abort failed", "error", err)
	}

	return c.clear(ctx, "Session aborted"), nil
}

// Reset acknowledges a finished session: stopped -> idle.
// Acked steps of the session are purged; anything unsent stays queued.
func (c *Controller) Reset(ctx context.Context) (types.Session, error) {
	if _, err := c.begin(ctx, "reset", types.StatusStopped); err != nil {
		return types.Session{}, err
	}
	defer c.end()

	sessionID := c.State().ID
	if n, err := c.store.PurgeAcked(ctx, sessionID); err != nil {
		c.logger.WarnContext(ctx, "Failed to purge acked steps", "session_id", sessionID, "error", err)
	} else {
		c.logger.DebugContext(ctx, "Purged acked steps", "session_id", sessionID, "count", n)
	}

	return c.clear(ctx, "Session reset"), nil
}

// Recover restores the last persisted session after a restart. A session that
// was recording, paused or stopping comes back in stopping with its inflight
// steps returned to pending, ready for Stop. Returns nil if there is nothing to recover.
func (c *Controller) Recover(ctx context.Context) (*types.Session, error) {
	if _, err := c.begin(ctx, "recover", types.StatusIdle); err != nil {
		return nil, err
	}
	defer c.end()

	last, err := c.store.LastSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("load last session: %w", err)
	}
	if last == nil || !last.Active() {
		return nil, nil
	}

	reset, err := c.store.ResetInflight(ctx, last.ID)
	if err != nil {
		return nil, fmt.Errorf("reset inflight steps: %w", err)
	}

	c.mu.Lock()
	c.session = *last
	c.mu.Unlock()

	c.uploader.Open(last.ID, last.WireID())
	session := c.transition(ctx, types.StatusStopping, nil)

	c.logger.InfoContext(ctx, "Recovered session",
		"session_id", session.ID,
		"previous_status", last.Status,
		"step_count", session.StepCount,
		"inflight_reset", reset,
	)
	return &session, nil
}

// begin claims the transition slot if the current state is one of allowed
func (c *Controller) begin(ctx context.Context, op string, allowed ...types.SessionStatus) (types.SessionStatus, error) {
	c.mu.Lock()
	status := c.session.Status
	if c.transitioning {
		c.mu.Unlock()
		return status, c.violation(ctx, op, status, "transition in progress")
	}
	if !slices.Contains(allowed, status) {
		c.mu.Unlock()
		return status, c.violation(ctx, op, status, "")
	}
	c.transitioning = true
	c.mu.Unlock()
	return status, nil
}

func (c *Controller) end() {
	c.mu.Lock()
	c.transitioning = false
	c.mu.Unlock()
}

func (c *Controller) violation(ctx context.Context, op string, from types.SessionStatus, reason string) error {
	err := &types.StateViolationError{Op: op, From: from, Reason: reason}
	c.logger.WarnContext(ctx, "Rejected operation", "op", op, "status", from, "reason", reason)
	return err
}

// transition moves to status, persists and notifies observers
func (c *Controller) transition(ctx context.Context, status types.SessionStatus, mutate func(*types.Session)) types.Session {
	c.mu.Lock()
	from := c.session.Status
	c.session.Status = status
	c.session.UpdatedAt = c.now()
	if mutate != nil {
		mutate(&c.session)
	}
	snapshot := c.session
	c.mu.Unlock()

	c.logger.InfoContext(ctx, "Session transition",
		"session_id", snapshot.ID,
		"from", from,
		"to", status,
	)

	c.persist(ctx, snapshot)
	c.publish()
	return snapshot
}

// clear returns to idle and forgets the session record
func (c *Controller) clear(ctx context.Context, msg string) types.Session {
	c.mu.Lock()
	old := c.session
	c.session = types.Session{Status: types.StatusIdle, UpdatedAt: c.now()}
	snapshot := c.session
	c.mu.Unlock()

	if old.ID != "" {
		c.uploader.CloseSession(old.ID)
		if err := c.store.DeleteSession(ctx, old.ID); err != nil {
			c.logger.WarnContext(ctx, "Failed to delete session record", "session_id", old.ID, "error", err)
		}
	}

	c.logger.InfoContext(ctx, msg, "session_id", old.ID, "from", old.Status)
	c.publish()
	return snapshot
}

func (c *Controller) persist(ctx context.Context, session types.Session) {
	if session.ID == "" {
		return
	}
	if err := c.store.SaveSession(ctx, &session); err != nil {
		c.logger.ErrorContext(ctx, "Failed to persist session", "session_id", session.ID, "error", err)
	}
}

func (c *Controller) publish() {
	c.mu.Lock()
	session := c.session
	badge := types.BadgeFor(session.Status, session.RecordingStart(), c.now())
	c.mu.Unlock()

	c.obsMu.Lock()
	observers := make([]Observer, 0, len(c.observers))
	for _, fn := range c.observers {
		observers = append(observers, fn)
	}
	c.obsMu.Unlock()

	for _, fn := range observers {
		fn(session, badge)
	}
}
