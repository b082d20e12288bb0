// Package memory provides in-memory storage backends
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/AltairaLabs/acro-recorder/internal/storage"
	"github.com/AltairaLabs/acro-recorder/internal/types"
)

var (
	errSessionIDEmpty = errors.New("session ID cannot be empty")
	errStepNil        = errors.New("step cannot be nil")
	errSessionNil     = errors.New("session cannot be nil")
)

// Store implements storage.Store using in-memory maps. Nothing survives a restart.
type Store struct {
	mu       sync.RWMutex
	steps    map[string][]*types.CapturedStep // sessionID -> steps ordered by order index
	sessions map[string]*types.Session
	last     string
}

// New creates a new in-memory store
func New() *Store {
	return &Store{
		steps:    make(map[string][]*types.CapturedStep),
		sessions: make(map[string]*types.Session),
	}
}

var _ storage.Store = (*Store)(nil)

// Append adds a captured step in pending state
func (s *Store) Append(ctx context.Context, step *types.CapturedStep) error {
	if step == nil {
		return errStepNil
	}
	if step.SessionID == "" {
		return errSessionIDEmpty
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	queue := s.steps[step.SessionID]
	if s.indexOf(queue, step.OrderIndex) >= 0 {
		return fmt.Errorf("%w: session %s order %d", types.ErrStepExists, step.SessionID, step.OrderIndex)
	}

	stored := copyStep(step)
	stored.UploadState = types.UploadPending

	queue = append(queue, stored)
	// Keep order index order even if a caller appends out of order
	if n := len(queue); n > 1 && queue[n-2].OrderIndex > stored.OrderIndex {
		sort.Slice(queue, func(i, j int) bool { return queue[i].OrderIndex < queue[j].OrderIndex })
	}
	s.steps[step.SessionID] = queue

	return nil
}

// MarkState updates the upload state of a step
func (s *Store) MarkState(
	ctx context.Context,
	sessionID string,
	orderIndex int,
	state types.UploadState,
	errMsg string,
) error {
	if sessionID == "" {
		return errSessionIDEmpty
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	queue := s.steps[sessionID]
	i := s.indexOf(queue, orderIndex)
	if i < 0 {
		return fmt.Errorf("%w: session %s order %d", types.ErrStepNotFound, sessionID, orderIndex)
	}

	step := queue[i]
	step.UploadState = state
	if state == types.UploadInflight {
		now := time.Now()
		step.AttemptCount++
		step.LastAttemptAt = &now
	}
	if errMsg != "" {
		step.LastError = errMsg
	}

	return nil
}

// Pending returns up to limit pending steps ordered by order index
func (s *Store) Pending(ctx context.Context, sessionID string, limit int) ([]*types.CapturedStep, error) {
	if sessionID == "" {
		return nil, errSessionIDEmpty
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*types.CapturedStep, 0)
	for _, step := range s.steps[sessionID] {
		if step.UploadState != types.UploadPending {
			continue
		}
		result = append(result, copyStep(step))
		if limit > 0 && len(result) >= limit {
			break
		}
	}

	return result, nil
}

// GetStep retrieves a specific step
func (s *Store) GetStep(ctx context.Context, sessionID string, orderIndex int) (*types.CapturedStep, error) {
	if sessionID == "" {
		return nil, errSessionIDEmpty
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	queue := s.steps[sessionID]
	i := s.indexOf(queue, orderIndex)
	if i < 0 {
		return nil, nil // Not found, not an error
	}

	return copyStep(queue[i]), nil
}

// ListSteps returns every queued step of a session
func (s *Store) ListSteps(ctx context.Context, sessionID string) ([]*types.CapturedStep, error) {
	if sessionID == "" {
		return nil, errSessionIDEmpty
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	queue := s.steps[sessionID]
	result := make([]*types.CapturedStep, 0, len(queue))
	for _, step := range queue {
		result = append(result, copyStep(step))
	}

	return result, nil
}

// ResetInflight returns inflight steps to pending
func (s *Store) ResetInflight(ctx context.Context, sessionID string) (int, error) {
	return s.transition(sessionID, types.UploadInflight, types.UploadPending)
}

// RequeueFailed returns failed-permanent steps to pending
func (s *Store) RequeueFailed(ctx context.Context, sessionID string) (int, error) {
	return s.transition(sessionID, types.UploadFailedPermanent, types.UploadPending)
}

func (s *Store) transition(sessionID string, from, to types.UploadState) (int, error) {
	if sessionID == "" {
		return 0, errSessionIDEmpty
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, step := range s.steps[sessionID] {
		if step.UploadState == from {
			step.UploadState = to
			count++
		}
	}

	return count, nil
}

// PurgeAcked removes acknowledged steps of a session
func (s *Store) PurgeAcked(ctx context.Context, sessionID string) (int, error) {
	if sessionID == "" {
		return 0, errSessionIDEmpty
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	queue := s.steps[sessionID]
	kept := make([]*types.CapturedStep, 0, len(queue))
	for _, step := range queue {
		if step.UploadState != types.UploadAcked {
			kept = append(kept, step)
		}
	}

	purged := len(queue) - len(kept)
	if len(kept) == 0 {
		delete(s.steps, sessionID)
	} else {
		s.steps[sessionID] = kept
	}

	return purged, nil
}

// Stats returns queue statistics for a session
func (s *Store) Stats(ctx context.Context, sessionID string) (*storage.QueueStats, error) {
	if sessionID == "" {
		return nil, errSessionIDEmpty
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return computeStats(s.steps[sessionID], time.Now()), nil
}

// SaveSession creates or replaces the session record
func (s *Store) SaveSession(ctx context.Context, session *types.Session) error {
	if session == nil {
		return errSessionNil
	}
	if session.ID == "" {
		return errSessionIDEmpty
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sessionCopy := *session
	s.sessions[session.ID] = &sessionCopy
	s.last = session.ID

	return nil
}

// LastSession returns the last saved session
func (s *Store) LastSession(ctx context.Context) (*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.sessions[s.last]
	if !exists {
		return nil, nil
	}

	sessionCopy := *session
	return &sessionCopy, nil
}

// DeleteSession removes a session record
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return errSessionIDEmpty
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, sessionID)
	if s.last == sessionID {
		s.last = ""
	}

	return nil
}

// Close is a no-op for the in-memory store
func (s *Store) Close() error {
	return nil
}

func (s *Store) indexOf(queue []*types.CapturedStep, orderIndex int) int {
	i := sort.Search(len(queue), func(i int) bool { return queue[i].OrderIndex >= orderIndex })
	if i < len(queue) && queue[i].OrderIndex == orderIndex {
		return i
	}
	return -1
}

// copyStep returns a copy to avoid external mutations. The image buffer is shared; it is never written after capture.
func copyStep(step *types.CapturedStep) *types.CapturedStep {
	stepCopy := *step
	if step.LastAttemptAt != nil {
		at := *step.LastAttemptAt
		stepCopy.LastAttemptAt = &at
	}
	return &stepCopy
}

func computeStats(steps []*types.CapturedStep, now time.Time) *storage.QueueStats {
	stats := &storage.QueueStats{}
	var oldest *time.Time

	for _, step := range steps {
		switch step.UploadState {
		case types.UploadPending:
			stats.Pending++
			if oldest == nil || step.CapturedAt.Before(*oldest) {
				at := step.CapturedAt
				oldest = &at
			}
		case types.UploadInflight:
			stats.Inflight++
		case types.UploadAcked:
			stats.Acked++
		case types.UploadFailedPermanent:
			stats.Failed++
		}
	}

	if oldest != nil {
		stats.OldestPendingAge = now.Sub(*oldest)
	}

	return stats
}
