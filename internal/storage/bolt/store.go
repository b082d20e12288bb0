// Package bolt provides a durable storage backend on an embedded bbolt database
package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	bbolt "go.etcd.io/bbolt"

	"github.com/AltairaLabs/acro-recorder/internal/storage"
	"github.com/AltairaLabs/acro-recorder/internal/types"
)

var (
	stepsBucket    = []byte("steps")
	sessionsBucket = []byte("sessions")
	metaBucket     = []byte("meta")
	lastSessionKey = []byte("last_session")
)

var (
	errSessionIDEmpty = errors.New("session ID cannot be empty")
	errStepNil        = errors.New("step cannot be nil")
	errSessionNil     = errors.New("session cannot be nil")
)

// Store implements storage.Store on bbolt.
// Steps live in a nested bucket per session keyed by the big-endian order index,
// so a cursor walks them in capture order.
type Store struct {
	db     *bbolt.DB
	logger *slog.Logger
}

var _ storage.Store = (*Store)(nil)

// Open opens (or creates) the database at path
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open step queue %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{stepsBucket, sessionsBucket, metaBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init step queue buckets: %w", err)
	}

	logger.Info("Opened durable step queue", "path", path)
	return &Store{db: db, logger: logger}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

func orderKey(orderIndex int) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(orderIndex))
	return key
}

func decodeStep(data []byte) (*types.CapturedStep, error) {
	var step types.CapturedStep
	if err := json.Unmarshal(data, &step); err != nil {
		return nil, fmt.Errorf("decode step: %w", err)
	}
	return &step, nil
}

func putStep(b *bbolt.Bucket, step *types.CapturedStep) error {
	data, err := json.Marshal(step)
	if err != nil {
		return fmt.Errorf("encode step: %w", err)
	}
	return b.Put(orderKey(step.OrderIndex), data)
}

// sessionSteps returns the session's step bucket, nil if it has none yet
func sessionSteps(tx *bbolt.Tx, sessionID string) *bbolt.Bucket {
	return tx.Bucket(stepsBucket).Bucket([]byte(sessionID))
}

// Append adds a captured step in pending state
func (s *Store) Append(ctx context.Context, step *types.CapturedStep) error {
	if step == nil {
		return errStepNil
	}
	if step.SessionID == "" {
		return errSessionIDEmpty
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket(stepsBucket).CreateBucketIfNotExists([]byte(step.SessionID))
		if err != nil {
			return err
		}
		if b.Get(orderKey(step.OrderIndex)) != nil {
			return fmt.Errorf("%w: session %s order %d", types.ErrStepExists, step.SessionID, step.OrderIndex)
		}

		stored := *step
		stored.UploadState = types.UploadPending
		return putStep(b, &stored)
	})
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

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := sessionSteps(tx, sessionID)
		var data []byte
		if b != nil {
			data = b.Get(orderKey(orderIndex))
		}
		if data == nil {
			return fmt.Errorf("%w: session %s order %d", types.ErrStepNotFound, sessionID, orderIndex)
		}

		step, err := decodeStep(data)
		if err != nil {
			return err
		}
		step.UploadState = state
		if state == types.UploadInflight {
			now := time.Now()
			step.AttemptCount++
			step.LastAttemptAt = &now
		}
		if errMsg != "" {
			step.LastError = errMsg
		}
		return putStep(b, step)
	})
}

// scan walks a session's steps in order until fn returns false
func (s *Store) scan(sessionID string, fn func(*types.CapturedStep) bool) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		b := sessionSteps(tx, sessionID)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			step, err := decodeStep(v)
			if err != nil {
				return err
			}
			if !fn(step) {
				return nil
			}
		}
		return nil
	})
}

// Pending returns up to limit pending steps ordered by order index
func (s *Store) Pending(ctx context.Context, sessionID string, limit int) ([]*types.CapturedStep, error) {
	if sessionID == "" {
		return nil, errSessionIDEmpty
	}

	result := make([]*types.CapturedStep, 0)
	err := s.scan(sessionID, func(step *types.CapturedStep) bool {
		if step.UploadState == types.UploadPending {
			result = append(result, step)
		}
		return limit <= 0 || len(result) < limit
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetStep retrieves a specific step
func (s *Store) GetStep(ctx context.Context, sessionID string, orderIndex int) (*types.CapturedStep, error) {
	if sessionID == "" {
		return nil, errSessionIDEmpty
	}

	var step *types.CapturedStep
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := sessionSteps(tx, sessionID)
		if b == nil {
			return nil
		}
		data := b.Get(orderKey(orderIndex))
		if data == nil {
			return nil
		}
		var err error
		step, err = decodeStep(data)
		return err
	})
	return step, err
}

// ListSteps returns every queued step of a session
func (s *Store) ListSteps(ctx context.Context, sessionID string) ([]*types.CapturedStep, error) {
	if sessionID == "" {
		return nil, errSessionIDEmpty
	}

	result := make([]*types.CapturedStep, 0)
	err := s.scan(sessionID, func(step *types.CapturedStep) bool {
		result = append(result, step)
		return true
	})
	if err != nil {
		return nil, err
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

	count := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := sessionSteps(tx, sessionID)
		if b == nil {
			return nil
		}

		// Collect first; the bucket must not be written while a cursor walks it
		var matched []*types.CapturedStep
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			step, err := decodeStep(v)
			if err != nil {
				return err
			}
			if step.UploadState == from {
				matched = append(matched, step)
			}
		}

		for _, step := range matched {
			step.UploadState = to
			if err := putStep(b, step); err != nil {
				return err
			}
		}
		count = len(matched)
		return nil
	})
	return count, err
}

// PurgeAcked removes acknowledged steps of a session
func (s *Store) PurgeAcked(ctx context.Context, sessionID string) (int, error) {
	if sessionID == "" {
		return 0, errSessionIDEmpty
	}

	purged := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := sessionSteps(tx, sessionID)
		if b == nil {
			return nil
		}

		var keys [][]byte
		remaining := 0
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			step, err := decodeStep(v)
			if err != nil {
				return err
			}
			if step.UploadState == types.UploadAcked {
				keys = append(keys, append([]byte(nil), k...))
			} else {
				remaining++
			}
		}

		if remaining == 0 {
			purged = len(keys)
			return tx.Bucket(stepsBucket).DeleteBucket([]byte(sessionID))
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		purged = len(keys)
		return nil
	})
	return purged, err
}

// Stats returns queue statistics for a session
func (s *Store) Stats(ctx context.Context, sessionID string) (*storage.QueueStats, error) {
	if sessionID == "" {
		return nil, errSessionIDEmpty
	}

	now := time.Now()
	stats := &storage.QueueStats{}
	var oldest time.Time

	err := s.scan(sessionID, func(step *types.CapturedStep) bool {
		switch step.UploadState {
		case types.UploadPending:
			stats.Pending++
			if oldest.IsZero() || step.CapturedAt.Before(oldest) {
				oldest = step.CapturedAt
			}
		case types.UploadInflight:
			stats.Inflight++
		case types.UploadAcked:
			stats.Acked++
		case types.UploadFailedPermanent:
			stats.Failed++
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	if !oldest.IsZero() {
		stats.OldestPendingAge = now.Sub(oldest)
	}
	return stats, nil
}

// SaveSession creates or replaces the session record and marks it as the last session
func (s *Store) SaveSession(ctx context.Context, session *types.Session) error {
	if session == nil {
		return errSessionNil
	}
	if session.ID == "" {
		return errSessionIDEmpty
	}

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(sessionsBucket).Put([]byte(session.ID), data); err != nil {
			return err
		}
		return tx.Bucket(metaBucket).Put(lastSessionKey, []byte(session.ID))
	})
}

// LastSession returns the last saved session
func (s *Store) LastSession(ctx context.Context) (*types.Session, error) {
	var session *types.Session
	err := s.db.View(func(tx *bbolt.Tx) error {
		id := tx.Bucket(metaBucket).Get(lastSessionKey)
		if id == nil {
			return nil
		}
		data := tx.Bucket(sessionsBucket).Get(id)
		if data == nil {
			return nil
		}
		session = &types.Session{}
		if err := json.Unmarshal(data, session); err != nil {
			return fmt.Errorf("decode session: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// DeleteSession removes a session record
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return errSessionIDEmpty
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(sessionsBucket).Delete([]byte(sessionID)); err != nil {
			return err
		}
		meta := tx.Bucket(metaBucket)
		if string(meta.Get(lastSessionKey)) == sessionID {
			return meta.Delete(lastSessionKey)
		}
		return nil
	})
}

// SessionIDs lists sessions that still have queued steps, sorted
func (s *Store) SessionIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(stepsBucket).ForEach(func(k, v []byte) error {
			if v == nil { // nested bucket
				ids = append(ids, string(k))
			}
			return nil
		})
	})
	sort.Strings(ids)
	return ids, err
}
