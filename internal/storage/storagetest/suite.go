// Package storagetest holds behaviour tests shared by every storage.Store backend
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/AltairaLabs/acro-recorder/internal/storage"
	"github.com/AltairaLabs/acro-recorder/internal/types"
)

// Factory returns a fresh, empty store
type Factory func(t *testing.T) storage.Store

// NewStep builds a pending step for tests
func NewStep(sessionID string, orderIndex int) *types.CapturedStep {
	return &types.CapturedStep{
		SessionID:      sessionID,
		OrderIndex:     orderIndex,
		ActionType:     types.ActionClick,
		X:              10 * orderIndex,
		Y:              20,
		ViewportWidth:  1280,
		ViewportHeight: 720,
		Image:          []byte{0x89, 'P', 'N', 'G', byte(orderIndex)},
		CapturedAt:     time.Now(),
	}
}

// Run executes the shared suite against the backend built by newStore
func Run(t *testing.T, newStore Factory) {
	t.Run("AppendAndPending", func(t *testing.T) { testAppendAndPending(t, newStore(t)) })
	t.Run("AppendDuplicate", func(t *testing.T) { testAppendDuplicate(t, newStore(t)) })
	t.Run("AppendValidation", func(t *testing.T) { testAppendValidation(t, newStore(t)) })
	t.Run("MarkState", func(t *testing.T) { testMarkState(t, newStore(t)) })
	t.Run("MarkStateNotFound", func(t *testing.T) { testMarkStateNotFound(t, newStore(t)) })
	t.Run("GetStepMissing", func(t *testing.T) { testGetStepMissing(t, newStore(t)) })
	t.Run("ResetAndRequeue", func(t *testing.T) { testResetAndRequeue(t, newStore(t)) })
	t.Run("PurgeAcked", func(t *testing.T) { testPurgeAcked(t, newStore(t)) })
	t.Run("Stats", func(t *testing.T) { testStats(t, newStore(t)) })
	t.Run("SessionIsolation", func(t *testing.T) { testSessionIsolation(t, newStore(t)) })
	t.Run("Sessions", func(t *testing.T) { testSessions(t, newStore(t)) })
}

func appendSteps(t *testing.T, s storage.Store, sessionID string, indexes ...int) {
	t.Helper()
	for _, i := range indexes {
		if err := s.Append(context.Background(), NewStep(sessionID, i)); err != nil {
			t.Fatalf("Append(%s, %d) failed: %v", sessionID, i, err)
		}
	}
}

func orderIndexes(steps []*types.CapturedStep) []int {
	out := make([]int, len(steps))
	for i, s := range steps {
		out[i] = s.OrderIndex
	}
	return out
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func testAppendAndPending(t *testing.T, s storage.Store) {
	ctx := context.Background()
	appendSteps(t, s, "s1", 2, 0, 1, 3)

	pending, err := s.Pending(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if got := orderIndexes(pending); !equalInts(got, []int{0, 1, 2, 3}) {
		t.Errorf("Expected pending order [0 1 2 3], got %v", got)
	}
	for _, step := range pending {
		if step.UploadState != types.UploadPending {
			t.Errorf("Expected step %d pending, got %s", step.OrderIndex, step.UploadState)
		}
	}

	limited, err := s.Pending(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("Pending with limit failed: %v", err)
	}
	if got := orderIndexes(limited); !equalInts(got, []int{0, 1}) {
		t.Errorf("Expected limited pending [0 1], got %v", got)
	}

	step, err := s.GetStep(ctx, "s1", 3)
	if err != nil || step == nil {
		t.Fatalf("GetStep failed: step=%v err=%v", step, err)
	}
	if string(step.Image) != string(NewStep("s1", 3).Image) {
		t.Errorf("Expected image bytes to round trip, got %v", step.Image)
	}
	if step.ViewportWidth != 1280 || step.X != 30 {
		t.Errorf("Expected step metadata to round trip, got %+v", step)
	}
}

func testAppendDuplicate(t *testing.T, s storage.Store) {
	appendSteps(t, s, "s1", 0)

	err := s.Append(context.Background(), NewStep("s1", 0))
	if !errors.Is(err, types.ErrStepExists) {
		t.Errorf("Expected ErrStepExists, got %v", err)
	}
}

func testAppendValidation(t *testing.T, s storage.Store) {
	ctx := context.Background()
	if err := s.Append(ctx, nil); err == nil {
		t.Error("Expected error for nil step")
	}
	if err := s.Append(ctx, NewStep("", 0)); err == nil {
		t.Error("Expected error for empty session ID")
	}
}

func testMarkState(t *testing.T, s storage.Store) {
	ctx := context.Background()
	appendSteps(t, s, "s1", 0, 1)

	if err := s.MarkState(ctx, "s1", 0, types.UploadInflight, ""); err != nil {
		t.Fatalf("MarkState inflight failed: %v", err)
	}
	if err := s.MarkState(ctx, "s1", 0, types.UploadPending, "HTTP 500"); err != nil {
		t.Fatalf("MarkState pending failed: %v", err)
	}
	if err := s.MarkState(ctx, "s1", 0, types.UploadInflight, ""); err != nil {
		t.Fatalf("MarkState inflight failed: %v", err)
	}

	step, err := s.GetStep(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("GetStep failed: %v", err)
	}
	if step.UploadState != types.UploadInflight {
		t.Errorf("Expected state inflight, got %s", step.UploadState)
	}
	if step.AttemptCount != 2 {
		t.Errorf("Expected AttemptCount 2, got %d", step.AttemptCount)
	}
	if step.LastAttemptAt == nil {
		t.Error("Expected LastAttemptAt to be set")
	}
	if step.LastError != "HTTP 500" {
		t.Errorf("Expected LastError 'HTTP 500', got %q", step.LastError)
	}

	pending, _ := s.Pending(ctx, "s1", 0)
	if got := orderIndexes(pending); !equalInts(got, []int{1}) {
		t.Errorf("Expected only step 1 pending, got %v", got)
	}
}

func testMarkStateNotFound(t *testing.T, s storage.Store) {
	err := s.MarkState(context.Background(), "s1", 7, types.UploadAcked, "")
	if !errors.Is(err, types.ErrStepNotFound) {
		t.Errorf("Expected ErrStepNotFound, got %v", err)
	}
}

func testGetStepMissing(t *testing.T, s storage.Store) {
	step, err := s.GetStep(context.Background(), "nope", 0)
	if err != nil {
		t.Errorf("Expected no error for missing step, got %v", err)
	}
	if step != nil {
		t.Errorf("Expected nil step, got %+v", step)
	}
}

func testResetAndRequeue(t *testing.T, s storage.Store) {
	ctx := context.Background()
	appendSteps(t, s, "s1", 0, 1, 2, 3)

	_ = s.MarkState(ctx, "s1", 0, types.UploadInflight, "")
	_ = s.MarkState(ctx, "s1", 1, types.UploadInflight, "")
	_ = s.MarkState(ctx, "s1", 2, types.UploadFailedPermanent, "boom")

	reset, err := s.ResetInflight(ctx, "s1")
	if err != nil {
		t.Fatalf("ResetInflight failed: %v", err)
	}
	if reset != 2 {
		t.Errorf("Expected 2 inflight steps reset, got %d", reset)
	}

	requeued, err := s.RequeueFailed(ctx, "s1")
	if err != nil {
		t.Fatalf("RequeueFailed failed: %v", err)
	}
	if requeued != 1 {
		t.Errorf("Expected 1 failed step requeued, got %d", requeued)
	}

	pending, _ := s.Pending(ctx, "s1", 0)
	if got := orderIndexes(pending); !equalInts(got, []int{0, 1, 2, 3}) {
		t.Errorf("Expected all steps pending again, got %v", got)
	}
}

func testPurgeAcked(t *testing.T, s storage.Store) {
	ctx := context.Background()
	appendSteps(t, s, "s1", 0, 1, 2)

	_ = s.MarkState(ctx, "s1", 0, types.UploadAcked, "")
	_ = s.MarkState(ctx, "s1", 1, types.UploadAcked, "")
	_ = s.MarkState(ctx, "s1", 2, types.UploadFailedPermanent, "")

	purged, err := s.PurgeAcked(ctx, "s1")
	if err != nil {
		t.Fatalf("PurgeAcked failed: %v", err)
	}
	if purged != 2 {
		t.Errorf("Expected 2 purged, got %d", purged)
	}

	steps, _ := s.ListSteps(ctx, "s1")
	if got := orderIndexes(steps); !equalInts(got, []int{2}) {
		t.Errorf("Expected failed step to be retained, got %v", got)
	}
}

func testStats(t *testing.T, s storage.Store) {
	ctx := context.Background()
	old := NewStep("s1", 0)
	old.CapturedAt = time.Now().Add(-time.Minute)
	if err := s.Append(ctx, old); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	appendSteps(t, s, "s1", 1, 2, 3, 4)

	_ = s.MarkState(ctx, "s1", 1, types.UploadInflight, "")
	_ = s.MarkState(ctx, "s1", 2, types.UploadAcked, "")
	_ = s.MarkState(ctx, "s1", 3, types.UploadFailedPermanent, "")

	stats, err := s.Stats(ctx, "s1")
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Pending != 2 || stats.Inflight != 1 || stats.Acked != 1 || stats.Failed != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
	if stats.Unsent() != 3 {
		t.Errorf("Expected 3 unsent, got %d", stats.Unsent())
	}
	if stats.OldestPendingAge < 59*time.Second {
		t.Errorf("Expected oldest pending age of about a minute, got %v", stats.OldestPendingAge)
	}

	empty, err := s.Stats(ctx, "other")
	if err != nil {
		t.Fatalf("Stats for unknown session failed: %v", err)
	}
	if empty.Pending != 0 || empty.OldestPendingAge != 0 {
		t.Errorf("Expected empty stats, got %+v", empty)
	}
}

func testSessionIsolation(t *testing.T, s storage.Store) {
	ctx := context.Background()
	appendSteps(t, s, "s1", 0, 1)
	appendSteps(t, s, "s2", 0)

	_, _ = s.ResetInflight(ctx, "s2")
	_ = s.MarkState(ctx, "s2", 0, types.UploadAcked, "")

	pending, _ := s.Pending(ctx, "s1", 0)
	if len(pending) != 2 {
		t.Errorf("Expected 2 pending steps for s1, got %d", len(pending))
	}
	s2, _ := s.GetStep(ctx, "s2", 0)
	if s2 == nil || s2.UploadState != types.UploadAcked {
		t.Errorf("Expected s2 step acked, got %+v", s2)
	}
}

func testSessions(t *testing.T, s storage.Store) {
	ctx := context.Background()

	last, err := s.LastSession(ctx)
	if err != nil || last != nil {
		t.Fatalf("Expected no last session, got %+v, %v", last, err)
	}

	first := &types.Session{ID: "a", Status: types.StatusRecording, StepCount: 3, StartedAt: time.Now()}
	second := &types.Session{ID: "b", RemoteID: "remote-b", Status: types.StatusStopping}
	if err := s.SaveSession(ctx, first); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
	if err := s.SaveSession(ctx, second); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	last, err = s.LastSession(ctx)
	if err != nil {
		t.Fatalf("LastSession failed: %v", err)
	}
	if last == nil || last.ID != "b" || last.RemoteID != "remote-b" || last.Status != types.StatusStopping {
		t.Errorf("Expected session b as last, got %+v", last)
	}

	if err := s.DeleteSession(ctx, "b"); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
	last, _ = s.LastSession(ctx)
	if last != nil {
		t.Errorf("Expected no last session after delete, got %+v", last)
	}

	if err := s.SaveSession(ctx, nil); err == nil {
		t.Error("Expected error saving nil session")
	}
}
