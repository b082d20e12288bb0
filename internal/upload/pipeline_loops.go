package upload

import (
	"time"
)

// This file contains the background goroutine loop wrapper. The logic inside
// the loop (dispatchReady, sendBatch) is tested separately.

// dispatchLoop runs in a goroutine per open session and sends ready batches
func (p *Pipeline) dispatchLoop(w *sessionWorker) {
	defer p.wg.Done()
	defer close(w.done)

	timer := time.NewTimer(p.maxWait)
	defer timer.Stop()

	for {
		next := p.dispatchReady(w)

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		if next > 0 {
			timer.Reset(next)
		}

		select {
		case <-w.wake:
		case <-timer.C:
		case <-w.ctx.Done():
			return
		}
	}
}
