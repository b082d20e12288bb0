package upload

import (
	"context"
	"errors"
	"time"

	"github.com/AltairaLabs/acro-recorder/internal/retry"
	"github.com/AltairaLabs/acro-recorder/internal/types"
)

// dispatchReady sends batches while one is due. It returns how long until the
// oldest pending step reaches the max wait, or 0 when nothing is pending.
func (p *Pipeline) dispatchReady(w *sessionWorker) time.Duration {
	for {
		if w.ctx.Err() != nil {
			return 0
		}

		stats, err := p.queue.Stats(w.ctx, w.sessionID)
		if err != nil {
			p.logger.Error("Failed to read queue stats", "session_id", w.sessionID, "error", err)
			return p.maxWait
		}
		if stats.Pending == 0 {
			return 0
		}

		due := stats.Pending >= p.batchSize ||
			stats.OldestPendingAge >= p.maxWait ||
			w.isFlushing()
		if !due {
			return p.maxWait - stats.OldestPendingAge
		}

		batch, err := p.queue.Pending(w.ctx, w.sessionID, p.batchSize)
		if err != nil {
			p.logger.Error("Failed to read pending steps", "session_id", w.sessionID, "error", err)
			return p.maxWait
		}
		if len(batch) == 0 {
			return 0
		}

		p.sendBatch(w, batch)
		w.broadcast()
	}
}

// sendBatch delivers a batch in order, retrying the unacked remainder on the
// policy's schedule. When retries run out the remainder becomes failed-permanent.
func (p *Pipeline) sendBatch(w *sessionWorker, batch []*types.CapturedStep) {
	ctx := w.ctx
	remaining := batch

	p.logger.Debug("Dispatching batch",
		"session_id", w.sessionID,
		"size", len(batch),
		"first_order_index", batch[0].OrderIndex,
	)

	for attempt := 0; ; attempt++ {
		var err error
		remaining, err = p.sendSteps(ctx, w, remaining)
		if err == nil {
			return
		}

		if ctx.Err() != nil {
			// Shutting down: leave the rest for the next run
			p.release(remaining, types.UploadPending, "")
			return
		}

		if !retry.IsRetriableError(err) || !p.policy.ShouldRetry(attempt) {
			p.failBatch(w, remaining, err, attempt+1)
			return
		}

		delay := p.policy.CalculateDelay(attempt)
		p.logger.Warn("Batch upload failed, retrying",
			"session_id", w.sessionID,
			"attempt", attempt+1,
			"unacked", len(remaining),
			"delay", delay,
			"error", err,
		)
		p.release(remaining, types.UploadPending, err.Error())

		if err := retry.Wait(ctx, delay); err != nil {
			return
		}
	}
}

// sendSteps uploads steps one by one in order index order and stops at the
// first failure. It returns the steps that were not acked.
func (p *Pipeline) sendSteps(
	ctx context.Context,
	w *sessionWorker,
	steps []*types.CapturedStep,
) ([]*types.CapturedStep, error) {
	for _, step := range steps {
		if err := p.queue.MarkState(ctx, w.sessionID, step.OrderIndex, types.UploadInflight, ""); err != nil {
			return steps, err
		}
	}

	for i, step := range steps {
		if _, err := p.client.UploadStep(ctx, w.remoteID, step); err != nil {
			return steps[i:], err
		}

		// The backend has the step; use a fresh context so shutdown cannot lose the ack
		if err := p.queue.MarkState(context.WithoutCancel(ctx), w.sessionID, step.OrderIndex, types.UploadAcked, ""); err != nil {
			p.logger.Error("Failed to record ack",
				"session_id", w.sessionID,
				"order_index", step.OrderIndex,
				"error", err,
			)
			return steps[i:], err
		}

		p.logger.Debug("Step uploaded", "session_id", w.sessionID, "order_index", step.OrderIndex)
	}

	return nil, nil
}

func (p *Pipeline) failBatch(w *sessionWorker, steps []*types.CapturedStep, cause error, attempts int) {
	p.release(steps, types.UploadFailedPermanent, cause.Error())

	indexes := make([]int, len(steps))
	for i, step := range steps {
		indexes[i] = step.OrderIndex
	}

	p.logger.Error("Batch upload failed permanently",
		"session_id", w.sessionID,
		"order_indexes", indexes,
		"attempts", attempts,
		"error", cause,
	)
	p.notifier.UploadWarning(w.ctx, newWarning(w.sessionID, indexes, cause))
}

// release moves steps out of inflight
func (p *Pipeline) release(steps []*types.CapturedStep, state types.UploadState, errMsg string) {
	ctx := context.Background()
	for _, step := range steps {
		err := p.queue.MarkState(ctx, step.SessionID, step.OrderIndex, state, errMsg)
		if err != nil && !errors.Is(err, types.ErrStepNotFound) {
			p.logger.Error("Failed to update step state",
				"session_id", step.SessionID,
				"order_index", step.OrderIndex,
				"state", state,
				"error", err,
			)
		}
	}
}
