// Package resilience keeps long-running loops alive: a cycle that fails is
// logged and restarted after a capped exponential backoff.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrSnakeDoc/lbwatch/internal/logger"
)

// ErrPanic wraps a panic recovered from a cycle.
var ErrPanic = errors.New("cycle panicked")

// Cycle is one iteration of a loop. Returning nil means the iteration
// completed and the next one may start at once.
type Cycle func(ctx context.Context) error

// Runner invokes a Cycle forever, backing off after failures.
type Runner struct {
	Backoff Backoff

	// WarnThreshold is the number of consecutive failures logged at warn
	// level before switching to error.
	WarnThreshold int

	// OnFailure is called after each failed cycle (metrics).
	OnFailure func(name string, err error)

	logger logger.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewRunner returns a Runner logging through log.
func NewRunner(b Backoff, warnThreshold int, log logger.Logger) *Runner {
	return &Runner{
		Backoff:       b,
		WarnThreshold: warnThreshold,
		logger:        log,
		sleep:         sleepCtx,
	}
}

// Run calls cycle until ctx is done and returns ctx.Err(). name identifies
// the loop in logs and should carry the remote address.
func (r *Runner) Run(ctx context.Context, name string, cycle Cycle) error {
	var (
		failures int
		wait     time.Duration
	)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := r.safeCall(ctx, cycle)
		if err == nil {
			if failures > 0 {
				r.logger.Info("cycle recovered",
					logger.String("name", name),
					logger.Int("failures", failures))
			}
			failures, wait = 0, 0
			continue
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		failures++
		wait = r.Backoff.Next(wait)
		r.logFailure(name, failures, wait, err)
		if r.OnFailure != nil {
			r.OnFailure(name, err)
		}

		if err := r.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Retry calls fn until it succeeds or ctx is done. Unlike Run it gives up:
// the last error is returned together with the context error.
func (r *Runner) Retry(ctx context.Context, name string, fn Cycle) error {
	var (
		attempt int
		wait    time.Duration
		lastErr error
	)

	for {
		attempt++
		lastErr = r.safeCall(ctx, fn)
		if lastErr == nil {
			if attempt > 1 {
				r.logger.Warn("succeeded after retry",
					logger.String("name", name),
					logger.Int("attempts", attempt))
			}
			return nil
		}

		wait = r.Backoff.Next(wait)
		if remaining, ok := timeLeft(ctx); ok && remaining < wait {
			wait = remaining
		}
		r.logFailure(name, attempt, wait, lastErr)

		if err := r.sleep(ctx, wait); err != nil {
			return fmt.Errorf("%s: gave up after %d attempts: %w", name, attempt, errors.Join(lastErr, err))
		}
	}
}

func (r *Runner) safeCall(ctx context.Context, cycle Cycle) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("cycle panicked",
				logger.Any("panic", p),
				logger.Stack("stack"))
			err = fmt.Errorf("%w: %v", ErrPanic, p)
		}
	}()
	return cycle(ctx)
}

func (r *Runner) logFailure(name string, attempt int, next time.Duration, err error) {
	if attempt <= r.WarnThreshold {
		r.logger.Warn("cycle failed, retrying",
			logger.String("name", name),
			logger.Int("attempt", attempt),
			logger.Duration("next_retry_in", next),
			logger.Error(err))
		return
	}
	r.logger.Error("cycle still failing",
		logger.String("name", name),
		logger.Int("attempt", attempt),
		logger.Duration("next_retry_in", next),
		logger.Error(err))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// timeLeft returns the remaining time before the context deadline.
func timeLeft(ctx context.Context) (time.Duration, bool) {
	deadline, ok := ctx.Deadline()
	if !ok {
		return 0, false
	}
	return time.Until(deadline), true
}
