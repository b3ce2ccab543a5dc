package migrate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JonMunkholm/docmigrate/internal/model"
)

// ErrRetriesExhausted is returned when an entity type still fails after every
// allowed attempt.
var ErrRetriesExhausted = errors.New("retries exhausted")

// RetryPolicy bounds the attempts made for one entity type write.
type RetryPolicy struct {
	Attempts     int           // total attempts, at least 1
	InitialDelay time.Duration // wait before the second attempt, doubled after each failure
	MaxDelay     time.Duration // cap on the wait, 0 for none
}

// DefaultRetryPolicy is used when the engine config leaves retries unset.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, InitialDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second}

func (e *Engine) retryable(err error) bool {
	if errors.Is(err, model.ErrConfig) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if c, ok := e.store.(TransientClassifier); ok {
		return c.Transient(err)
	}
	return true
}

// retry runs fn until it succeeds, fails permanently or runs out of attempts.
func (e *Engine) retry(ctx context.Context, entityType, phase string, fn func(context.Context) error) error {
	p := e.cfg.Retry
	attempts := max(p.Attempts, 1)
	delay := p.InitialDelay

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !e.retryable(err) {
			return err
		}
		if attempt >= attempts {
			return fmt.Errorf("%w: %s of %s failed %d times: %w", ErrRetriesExhausted, phase, entityType, attempt, err)
		}

		e.logger.Warn("retrying entity type",
			"entityType", entityType, "phase", phase, "attempt", attempt, "delay", delay, "error", err)
		e.metrics.ObserveRetry(entityType, phase)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
}
