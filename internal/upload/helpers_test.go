package upload

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/AltairaLabs/acro-recorder/internal/config"
	"github.com/AltairaLabs/acro-recorder/internal/retry"
	"github.com/AltairaLabs/acro-recorder/internal/storage/memory"
	"github.com/AltairaLabs/acro-recorder/internal/storage/storagetest"
	"github.com/AltairaLabs/acro-recorder/internal/types"
)

type uploadCall struct {
	remoteID   string
	orderIndex int
	at         time.Time
}

// mockIngestion records uploads and fails them according to failFn
type mockIngestion struct {
	mu     sync.Mutex
	calls  []uploadCall
	failFn func(orderIndex, attempt int) error
	delay  time.Duration
	seen   map[int]int
}

func newMockIngestion() *mockIngestion {
	return &mockIngestion{seen: make(map[int]int)}
}

func (m *mockIngestion) StartSession(ctx context.Context, clientSessionID string) (string, error) {
	return "remote-" + clientSessionID, nil
}

func (m *mockIngestion) UploadStep(ctx context.Context, remoteSessionID string, step *types.CapturedStep) (string, error) {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, uploadCall{remoteID: remoteSessionID, orderIndex: step.OrderIndex, at: time.Now()})
	attempt := m.seen[step.OrderIndex]
	m.seen[step.OrderIndex]++

	if m.failFn != nil {
		if err := m.failFn(step.OrderIndex, attempt); err != nil {
			return "", err
		}
	}
	return "step", nil
}

func (m *mockIngestion) StopSession(ctx context.Context, remoteSessionID string) (*types.Project, error) {
	return &types.Project{ProjectID: "1"}, nil
}

func (m *mockIngestion) SessionStatus(ctx context.Context, remoteSessionID string) (*types.RemoteSessionStatus, error) {
	return &types.RemoteSessionStatus{Status: types.ProcessingCompleted}, nil
}

func (m *mockIngestion) getCalls() []uploadCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]uploadCall, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *mockIngestion) callOrder() []int {
	calls := m.getCalls()
	out := make([]int, len(calls))
	for i, c := range calls {
		out[i] = c.orderIndex
	}
	return out
}

// recordingNotifier collects warnings
type recordingNotifier struct {
	mu       sync.Mutex
	warnings []Warning
}

func (n *recordingNotifier) UploadWarning(ctx context.Context, w Warning) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.warnings = append(n.warnings, w)
}

func (n *recordingNotifier) getWarnings() []Warning {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Warning, len(n.warnings))
	copy(out, n.warnings)
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fastPolicy keeps the 1:2:4 shape of the default schedule at test speed
func fastPolicy() retry.Policy {
	return retry.Policy{
		MaxRetries:        3,
		InitialDelay:      20 * time.Millisecond,
		MaxDelay:          80 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func testUploadConfig(maxWait time.Duration) config.UploadConfig {
	cfg := config.DefaultUploadConfig()
	cfg.BatchMaxWait = maxWait
	return cfg
}

type fixture struct {
	queue    *memory.Store
	client   *mockIngestion
	notifier *recordingNotifier
	pipeline *Pipeline
}

func newFixture(t *testing.T, cfg config.UploadConfig) *fixture {
	t.Helper()
	f := &fixture{
		queue:    memory.New(),
		client:   newMockIngestion(),
		notifier: &recordingNotifier{},
	}
	f.pipeline = NewPipeline(f.queue, f.client, f.notifier, cfg, fastPolicy(), testLogger())
	t.Cleanup(f.pipeline.Stop)
	return f
}

func (f *fixture) enqueue(t *testing.T, sessionID string, indexes ...int) {
	t.Helper()
	for _, i := range indexes {
		if err := f.pipeline.Enqueue(context.Background(), storagetest.NewStep(sessionID, i)); err != nil {
			t.Fatalf("Enqueue(%d) failed: %v", i, err)
		}
	}
}

// waitFor polls cond until it holds or the timeout elapses
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
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
