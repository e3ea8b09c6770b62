package classify

import (
	"context"
	"time"

	"github.com/convoflow/convoflow/internal/observability"
	"github.com/convoflow/convoflow/pkg/models"
)

// Failsafe enforces the classifier deadline and fails closed: a timeout or
// error yields the safe fallback instead of propagating. The pipeline then
// gates tools conservatively for the turn.
type Failsafe struct {
	inner   Classifier
	timeout time.Duration
	log     *observability.Logger
}

// NewFailsafe wraps a classifier with the hard deadline.
func NewFailsafe(inner Classifier, timeout time.Duration, log *observability.Logger) *Failsafe {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Failsafe{inner: inner, timeout: timeout, log: log}
}

// Classify implements Classifier. It never returns an error.
func (f *Failsafe) Classify(ctx context.Context, in Input) (models.Classification, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	type outcome struct {
		result models.Classification
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := f.inner.Classify(ctx, in)
		done <- outcome{result, err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			f.log.Warn(ctx, "classifier failed, using safe fallback", "error", out.err.Error())
			return models.SafeFallback(), nil
		}
		return out.result, nil
	case <-ctx.Done():
		f.log.Warn(ctx, "classifier deadline exceeded, using safe fallback", "timeout", f.timeout.String())
		return models.SafeFallback(), nil
	}
}
