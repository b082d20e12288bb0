package types

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestSessionWireID(t *testing.T) {
	s := &Session{ID: "local-1"}
	if s.WireID() != "local-1" {
		t.Errorf("Expected WireID 'local-1', got %s", s.WireID())
	}

	s.RemoteID = "remote-1"
	if s.WireID() != "remote-1" {
		t.Errorf("Expected WireID 'remote-1', got %s", s.WireID())
	}
}

func TestSessionRecordingStart(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s := &Session{StartedAt: start}
	if !s.RecordingStart().Equal(start) {
		t.Errorf("Expected %v without pauses, got %v", start, s.RecordingStart())
	}

	s.PausedFor = 90 * time.Second
	now := start.Add(2 * time.Minute)
	badge := BadgeFor(StatusRecording, s.RecordingStart(), now)
	if badge.Text != "0:30" {
		t.Errorf("Expected 0:30 of recorded time, got %s", badge.Text)
	}
}

func TestSessionActive(t *testing.T) {
	tests := []struct {
		status   SessionStatus
		expected bool
	}{
		{StatusIdle, false},
		{StatusInitializing, false},
		{StatusRecording, true},
		{StatusPaused, true},
		{StatusStopping, true},
		{StatusStopped, false},
	}

	for _, test := range tests {
		s := &Session{Status: test.status}
		if s.Active() != test.expected {
			t.Errorf("For status %s, expected Active=%t", test.status, test.expected)
		}
	}
}

func TestActionTypeValid(t *testing.T) {
	if !ActionClick.Valid() || !ActionScroll.Valid() {
		t.Error("Expected click and scroll to be valid")
	}
	if ActionType("hover").Valid() {
		t.Error("Expected hover to be invalid")
	}
}

func TestBadgeFor(t *testing.T) {
	start := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		status   SessionStatus
		now      time.Time
		expected Badge
	}{
		{"idle", StatusIdle, start, Badge{Color: BadgeColorNone, Text: ""}},
		{"initializing", StatusInitializing, start, Badge{Color: BadgeColorPending, Text: "..."}},
		{"recording start", StatusRecording, start, Badge{Color: BadgeColorRecording, Text: "0:00"}},
		{"recording later", StatusRecording, start.Add(75 * time.Second), Badge{Color: BadgeColorRecording, Text: "1:15"}},
		{"recording clock skew", StatusRecording, start.Add(-time.Second), Badge{Color: BadgeColorRecording, Text: "0:00"}},
		{"paused", StatusPaused, start, Badge{Color: BadgeColorPaused, Text: "II"}},
		{"stopping", StatusStopping, start, Badge{Color: BadgeColorPending, Text: "..."}},
		{"stopped", StatusStopped, start, Badge{Color: BadgeColorStopped, Text: "OK"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BadgeFor(tt.status, start, tt.now)
			if got != tt.expected {
				t.Errorf("BadgeFor(%s) = %+v, want %+v", tt.status, got, tt.expected)
			}
		})
	}
}

func TestStateViolationError(t *testing.T) {
	err := fmt.Errorf("pause: %w", &StateViolationError{Op: "pause", From: StatusIdle})
	if !IsStateViolation(err) {
		t.Fatal("Expected wrapped error to be a state violation")
	}
	if IsStateViolation(errors.New("other")) {
		t.Error("Expected plain error not to be a state violation")
	}

	withReason := &StateViolationError{Op: "stop", From: StatusRecording, Reason: "transition in progress"}
	expected := "state violation: stop not allowed in recording: transition in progress"
	if withReason.Error() != expected {
		t.Errorf("Expected %q, got %q", expected, withReason.Error())
	}
}

func TestCaptureErrorUnwrap(t *testing.T) {
	cause := errors.New("tab not visible")
	err := &CaptureError{Action: ActionClick, Err: cause}

	if !errors.Is(err, ErrCaptureDropped) {
		t.Error("Expected CaptureError to match ErrCaptureDropped")
	}
	if !errors.Is(err, cause) {
		t.Error("Expected CaptureError to match its cause")
	}
}
