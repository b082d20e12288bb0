package upload

import (
	"context"
	"fmt"

	"github.com/AltairaLabs/acro-recorder/internal/config"
)

// Warning is raised when a batch exhausted its retries. The steps stay queued.
type Warning struct {
	SessionID    string `json:"session_id"`
	OrderIndexes []int  `json:"order_indexes"`
	Error        string `json:"error"`
	Message      string `json:"message"`
}

func newWarning(sessionID string, orderIndexes []int, err error) Warning {
	return Warning{
		SessionID:    sessionID,
		OrderIndexes: orderIndexes,
		Error:        err.Error(),
		Message:      fmt.Sprintf(config.MsgStepsFailed, len(orderIndexes)),
	}
}

// Notifier receives user-visible upload warnings
type Notifier interface {
	UploadWarning(ctx context.Context, w Warning)
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(ctx context.Context, w Warning)

// UploadWarning calls f
func (f NotifierFunc) UploadWarning(ctx context.Context, w Warning) {
	f(ctx, w)
}

// Notifiers fans a warning out to several notifiers
type Notifiers []Notifier

// UploadWarning forwards w to every notifier
func (n Notifiers) UploadWarning(ctx context.Context, w Warning) {
	for _, notifier := range n {
		if notifier != nil {
			notifier.UploadWarning(ctx, w)
		}
	}
}

// FlushResult reports how far a flush got
type FlushResult struct {
	Complete  bool `json:"complete"`  // Nothing left pending, inflight or failed
	Remaining int  `json:"remaining"` // Steps still pending or inflight when the flush returned
	Failed    int  `json:"failed"`    // Steps that are failed-permanent
	Acked     int  `json:"acked"`
}

// Partial reports whether the flush returned with steps still unsent
func (r FlushResult) Partial() bool {
	return r.Remaining > 0
}
