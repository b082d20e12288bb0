// Package upload ships queued steps to the backend in small ordered batches
package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AltairaLabs/acro-recorder/internal/config"
	"github.com/AltairaLabs/acro-recorder/internal/retry"
	"github.com/AltairaLabs/acro-recorder/internal/storage"
	"github.com/AltairaLabs/acro-recorder/internal/types"
)

var errSessionNotOpen = errors.New("upload session not open")

// Pipeline batches queued steps per session and sends them with retries.
// Each open session has exactly one dispatch goroutine, so at most one batch per session is in flight.
type Pipeline struct {
	queue    storage.StepQueueStorage
	client   types.Ingestion
	notifier Notifier
	policy   retry.Policy
	logger   *slog.Logger

	batchSize int
	maxWait   time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*sessionWorker
}

// sessionWorker is the dispatch state of one open session
type sessionWorker struct {
	sessionID string
	remoteID  string

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	wake   chan struct{}

	mu       sync.Mutex
	flushing int
	progress chan struct{} // closed and replaced whenever a batch settles
}

// NewPipeline creates a new upload pipeline
func NewPipeline(
	queue storage.StepQueueStorage,
	client types.Ingestion,
	notifier Notifier,
	cfg config.UploadConfig,
	policy retry.Policy,
	logger *slog.Logger,
) *Pipeline {
	ctx, cancel := context.WithCancel(context.Background())

	if notifier == nil {
		notifier = Notifiers(nil)
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = config.DefaultBatchSize
	}
	maxWait := cfg.BatchMaxWait
	if maxWait <= 0 {
		maxWait = config.DefaultBatchMaxWait
	}

	return &Pipeline{
		queue:     queue,
		client:    client,
		notifier:  notifier,
		policy:    policy,
		logger:    logger,
		batchSize: batchSize,
		maxWait:   maxWait,
		ctx:       ctx,
		cancel:    cancel,
		sessions:  make(map[string]*sessionWorker),
	}
}

// Open starts dispatching for a session. Steps already pending for the
// session (for example after a restart) are picked up immediately.
// remoteID is the backend session id used on the wire.
func (p *Pipeline) Open(sessionID, remoteID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.sessions[sessionID]; exists {
		return
	}

	ctx, cancel := context.WithCancel(p.ctx)
	w := &sessionWorker{
		sessionID: sessionID,
		remoteID:  remoteID,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		wake:      make(chan struct{}, 1),
		progress:  make(chan struct{}),
	}
	p.sessions[sessionID] = w

	p.wg.Add(1)
	go p.dispatchLoop(w)

	p.logger.Info("Upload session opened", "session_id", sessionID, "remote_session_id", remoteID)
}

// CloseSession stops dispatching for a session and waits for its goroutine.
// Queued steps are left untouched.
func (p *Pipeline) CloseSession(sessionID string) {
	p.mu.Lock()
	w, exists := p.sessions[sessionID]
	delete(p.sessions, sessionID)
	p.mu.Unlock()

	if !exists {
		return
	}
	w.cancel()
	<-w.done
	p.logger.Info("Upload session closed", "session_id", sessionID)
}

// Stop stops every dispatch goroutine
func (p *Pipeline) Stop() {
	p.logger.Info("Stopping upload pipeline")
	p.cancel()
	p.wg.Wait()

	p.mu.Lock()
	p.sessions = make(map[string]*sessionWorker)
	p.mu.Unlock()
	p.logger.Info("Upload pipeline stopped")
}

// IsOpen reports whether the session has a dispatch goroutine
func (p *Pipeline) IsOpen(sessionID string) bool {
	return p.worker(sessionID) != nil
}

func (p *Pipeline) worker(sessionID string) *sessionWorker {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessions[sessionID]
}

// Enqueue durably appends a step and wakes the session's dispatcher
func (p *Pipeline) Enqueue(ctx context.Context, step *types.CapturedStep) error {
	w := p.worker(step.SessionID)
	if w == nil {
		return fmt.Errorf("%w: %s", errSessionNotOpen, step.SessionID)
	}

	if err := p.queue.Append(ctx, step); err != nil {
		return fmt.Errorf("failed to queue step: %w", err)
	}

	p.logger.DebugContext(ctx, "Step queued",
		"session_id", step.SessionID,
		"order_index", step.OrderIndex,
		"action_type", step.ActionType,
	)

	w.signal()
	return nil
}

// Flush sends everything pending for the session immediately and waits until
// nothing is pending or inflight, or until timeout elapses. On timeout the
// result is partial; unsent steps stay queued.
func (p *Pipeline) Flush(ctx context.Context, sessionID string, timeout time.Duration) (FlushResult, error) {
	w := p.worker(sessionID)
	if w == nil {
		return FlushResult{}, fmt.Errorf("%w: %s", errSessionNotOpen, sessionID)
	}

	w.mu.Lock()
	w.flushing++
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.flushing--
		w.mu.Unlock()
	}()

	w.signal()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	start := time.Now()
	for {
		progress := w.progressChan()

		stats, err := p.queue.Stats(ctx, sessionID)
		if err != nil {
			return FlushResult{}, fmt.Errorf("flush stats: %w", err)
		}
		if stats.Unsent() == 0 {
			result := resultFrom(stats)
			p.logger.InfoContext(ctx, "Flush finished",
				"session_id", sessionID,
				"failed", result.Failed,
				"duration", time.Since(start),
			)
			return result, nil
		}

		select {
		case <-progress:
		case <-deadline.C:
			stats, err = p.queue.Stats(ctx, sessionID)
			if err != nil {
				return FlushResult{}, fmt.Errorf("flush stats: %w", err)
			}
			result := resultFrom(stats)
			p.logger.WarnContext(ctx, "Flush timed out",
				"session_id", sessionID,
				"remaining", result.Remaining,
				"timeout", timeout,
			)
			return result, nil
		case <-ctx.Done():
			return FlushResult{}, ctx.Err()
		}
	}
}

func resultFrom(stats *storage.QueueStats) FlushResult {
	return FlushResult{
		Complete:  stats.Unsent() == 0 && stats.Failed == 0,
		Remaining: stats.Unsent(),
		Failed:    stats.Failed,
		Acked:     stats.Acked,
	}
}

// RequeueFailed returns failed-permanent steps to pending so they are sent again
func (p *Pipeline) RequeueFailed(ctx context.Context, sessionID string) (int, error) {
	n, err := p.queue.RequeueFailed(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("requeue failed steps: %w", err)
	}
	if n > 0 {
		p.logger.InfoContext(ctx, "Requeued failed steps", "session_id", sessionID, "count", n)
		if w := p.worker(sessionID); w != nil {
			w.signal()
		}
	}
	return n, nil
}

// Stats returns the queue statistics of a session
func (p *Pipeline) Stats(ctx context.Context, sessionID string) (*storage.QueueStats, error) {
	return p.queue.Stats(ctx, sessionID)
}

// FailedSteps sums failed-permanent steps across open sessions
func (p *Pipeline) FailedSteps(ctx context.Context) (int, error) {
	p.mu.Lock()
	ids := make([]string, 0, len(p.sessions))
	for id := range p.sessions {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	total := 0
	for _, id := range ids {
		stats, err := p.queue.Stats(ctx, id)
		if err != nil {
			return 0, err
		}
		total += stats.Failed
	}
	return total, nil
}

func (w *sessionWorker) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *sessionWorker) isFlushing() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushing > 0
}

func (w *sessionWorker) progressChan() chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.progress
}

func (w *sessionWorker) broadcast() {
	w.mu.Lock()
	defer w.mu.Unlock()
	close(w.progress)
	w.progress = make(chan struct{})
}
