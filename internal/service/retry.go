package service

import (
	"context"
	"time"

	"multichat-backend/internal/gateway"
	"multichat-backend/pkg/logger"
)

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RetryPolicy retries retryable gateway failures with a linear back-off
// capped at MaxDelay.
type RetryPolicy struct {
	Retries   int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Sleep     Sleeper
}

// Delay is the wait before the given retry (attempt >= 1).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.BaseDelay * time.Duration(attempt)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Do runs fn up to Retries+1 times. It stops at the first success, at the
// first non-retryable error, or when the wait is interrupted, and returns
// the last error seen.
func (p RetryPolicy) Do(ctx context.Context, log *logger.Entry, fn func(attempt int) error) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	if log == nil {
		log = logger.WithFields(nil)
	}

	var lastErr error
	for attempt := 0; attempt <= p.Retries; attempt++ {
		if attempt > 0 {
			delay := p.Delay(attempt)
			log.WithField("attempt", attempt+1).Warnf("retrying in %v after: %v", delay, lastErr)
			if err := sleep(ctx, delay); err != nil {
				return lastErr
			}
		}

		err := fn(attempt)
		if err == nil {
			return nil
		}
		lastErr = err
		if !gateway.Retryable(err) {
			return err
		}
	}
	return lastErr
}
