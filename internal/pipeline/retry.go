package pipeline

import (
	"context"
	"time"

	"essaypipe/internal/model"
)

// Backoff is the retry policy for the pipeline's suspension points (OCR,
// LLM, object store, DB). One retry with exponential backoff: 2s base,
// 60s cap.
type Backoff struct {
	Base     time.Duration
	Cap      time.Duration
	Attempts int
	Sleep    func(time.Duration) // test seam
}

func DefaultBackoff() Backoff {
	return Backoff{Base: 2 * time.Second, Cap: 60 * time.Second, Attempts: 2}
}

func (b Backoff) delay(attempt int) time.Duration {
	d := b.Base << attempt
	if d > b.Cap || d <= 0 {
		d = b.Cap
	}
	return d
}

// retry runs op under a per-attempt deadline, retrying transient failures.
// Terminal error kinds and context cancellation end the attempts early.
func (b Backoff) retry(ctx context.Context, timeout time.Duration, op func(context.Context) error) error {
	attempts := b.Attempts
	if attempts <= 0 {
		attempts = 2
	}
	sleep := b.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			sleep(b.delay(attempt - 1))
		}
		if ctx.Err() != nil {
			return model.NewStageError(model.KindCancelled, "retry", ctx.Err())
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		}
		err = op(attemptCtx)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return nil
		}
		if !model.KindOf(err).Transient() {
			return err
		}
	}
	return err
}
