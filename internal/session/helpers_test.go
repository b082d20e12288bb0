package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/AltairaLabs/acro-recorder/internal/config"
	"github.com/AltairaLabs/acro-recorder/internal/retry"
	"github.com/AltairaLabs/acro-recorder/internal/storage/memory"
	"github.com/AltairaLabs/acro-recorder/internal/types"
	"github.com/AltairaLabs/acro-recorder/internal/upload"
)

// eventLog records collaborator calls in the order they happen
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(event string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *eventLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.events))
	copy(out, l.events)
	return out
}

func (l *eventLog) index(event string) int {
	for i, e := range l.get() {
		if e == event {
			return i
		}
	}
	return -1
}

// mockPage implements every page collaborator
type mockPage struct {
	log        *eventLog
	mediaDelay time.Duration // Time before the media stream acks
	uiDelay    time.Duration // Time before the status UI acks

	mu           sync.Mutex
	captureFn    func(n int, req types.CaptureRequest) ([]byte, error)
	captureCount int
	attachErr    error
	pauseGate    chan struct{}
}

func newMockPage() *mockPage {
	return &mockPage{log: &eventLog{}}
}

func (p *mockPage) collaborators() Page {
	return Page{Capture: p, Media: p, UI: p, Listeners: p}
}

func (p *mockPage) Capture(ctx context.Context, req types.CaptureRequest) ([]byte, error) {
	p.mu.Lock()
	n := p.captureCount
	p.captureCount++
	fn := p.captureFn
	p.mu.Unlock()

	p.log.add("capture")
	defer p.log.add("capture.done")
	if fn != nil {
		return fn(n, req)
	}
	return []byte{0x89, 'P', 'N', 'G'}, nil
}

func (p *mockPage) ack(ctx context.Context, name string, delay time.Duration) error {
	p.log.add(name)
	if delay > 0 {
		time.Sleep(delay)
	}
	p.log.add(name + ".ack")
	return nil
}

func (p *mockPage) Pause(ctx context.Context) error {
	p.mu.Lock()
	gate := p.pauseGate
	p.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return p.ack(ctx, "media.pause", p.mediaDelay)
}

func (p *mockPage) Resume(ctx context.Context) error { return p.ack(ctx, "media.resume", p.mediaDelay) }

func (p *mockPage) InjectStatusUI(ctx context.Context) error {
	return p.ack(ctx, "ui.inject", p.uiDelay)
}

func (p *mockPage) RemoveStatusUI(ctx context.Context) error {
	return p.ack(ctx, "ui.remove", p.uiDelay)
}

func (p *mockPage) Attach(ctx context.Context) error {
	p.mu.Lock()
	err := p.attachErr
	p.mu.Unlock()
	if err != nil {
		return err
	}
	return p.ack(ctx, "listeners.attach", 0)
}

func (p *mockPage) Detach(ctx context.Context) error { return p.ack(ctx, "listeners.detach", 0) }

// mockIngestion is a scriptable backend
type mockIngestion struct {
	mu            sync.Mutex
	startErr      error
	stopErrs      []error
	uploadDelay   time.Duration
	uploads       []int
	stopCalls     []string
	uploadsAtStop []int
}

func (m *mockIngestion) StartSession(ctx context.Context, clientSessionID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		return "", m.startErr
	}
	return "remote-" + clientSessionID, nil
}

func (m *mockIngestion) UploadStep(ctx context.Context, remoteSessionID string, step *types.CapturedStep) (string, error) {
	m.mu.Lock()
	delay := m.uploadDelay
	m.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploads = append(m.uploads, step.OrderIndex)
	return "ok", nil
}

func (m *mockIngestion) StopSession(ctx context.Context, remoteSessionID string) (*types.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopCalls = append(m.stopCalls, remoteSessionID)
	m.uploadsAtStop = append(m.uploadsAtStop, len(m.uploads))
	if len(m.stopErrs) > 0 {
		err := m.stopErrs[0]
		m.stopErrs = m.stopErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &types.Project{ProjectID: "42", UUID: "p-uuid", RedirectTarget: "/editor/p-uuid"}, nil
}

func (m *mockIngestion) SessionStatus(ctx context.Context, remoteSessionID string) (*types.RemoteSessionStatus, error) {
	return &types.RemoteSessionStatus{Status: types.ProcessingCompleted, ProjectID: "42"}, nil
}

func (m *mockIngestion) uploadCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.uploads)
}

var errBackendDown = errors.New("backend down")

type harness struct {
	page       *mockPage
	ingest     *mockIngestion
	store      *memory.Store
	pipeline   *upload.Pipeline
	controller *Controller
}

type harnessOptions struct {
	settleDelay  time.Duration
	maxWait      time.Duration
	flushTimeout time.Duration
}

func defaultHarnessOptions() harnessOptions {
	return harnessOptions{
		settleDelay:  0,
		maxWait:      10 * time.Second,
		flushTimeout: time.Second,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()
	return newHarnessWithStore(t, opts, memory.New())
}

func newHarnessWithStore(t *testing.T, opts harnessOptions, store *memory.Store) *harness {
	t.Helper()

	uploadCfg := config.DefaultUploadConfig()
	uploadCfg.BatchMaxWait = opts.maxWait
	uploadCfg.FlushTimeout = opts.flushTimeout

	policy := retry.Policy{MaxRetries: 3, InitialDelay: 10 * time.Millisecond, MaxDelay: 40 * time.Millisecond, BackoffMultiplier: 2}

	h := &harness{
		page:   newMockPage(),
		ingest: &mockIngestion{},
		store:  store,
	}
	h.pipeline = upload.NewPipeline(store, h.ingest, nil, uploadCfg, policy, testLogger())
	t.Cleanup(h.pipeline.Stop)

	finalizer := NewFinalizer(h.pipeline, h.ingest, uploadCfg, testLogger())
	h.controller = NewController(
		h.page.collaborators(),
		h.ingest,
		h.pipeline,
		store,
		finalizer,
		config.SessionConfig{SettleDelay: opts.settleDelay},
		testLogger(),
	)
	return h
}

// recording drives the controller to the recording state
func (h *harness) recording(t *testing.T) types.Session {
	t.Helper()
	ctx := context.Background()
	if _, err := h.controller.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	s, err := h.controller.BeginCapture(ctx)
	if err != nil {
		t.Fatalf("BeginCapture failed: %v", err)
	}
	return s
}

func click(x, y int) types.CaptureRequest {
	return types.CaptureRequest{
		ActionType: types.ActionClick,
		X:          x,
		Y:          y,
		Viewport:   types.Viewport{Width: 1280, Height: 720},
	}
}

// fakeClock is a manually advanced time source
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

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
