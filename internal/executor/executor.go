// Package executor drives a single character's action loop: precheck
// cooldown, invoke the action, classify the outcome, schedule the next
// attempt. One Executor serves one logical flow; executors for different
// characters run concurrently.
package executor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/macomeau/Artifacts-sub001/internal/model"
)

const (
	// DefaultActionDelay separates attempts when the server reports no
	// cooldown (or a zero one).
	DefaultActionDelay = 1 * time.Second

	// DefaultRetryDelay is used when OnError asks for a retry without
	// naming its own delay.
	DefaultRetryDelay = 5 * time.Second
)

// Action performs one remote call. The result may carry a cooldown.
type Action func(ctx context.Context) (*model.ActionResult, error)

// Decision is the caller's verdict on a failed attempt.
type Decision struct {
	Continue   bool
	RetryAfter time.Duration // 0 means DefaultRetryDelay
}

// Stop halts the loop.
func Stop() Decision { return Decision{} }

// Retry schedules another attempt after the default delay.
func Retry() Decision { return Decision{Continue: true} }

// RetryAfter schedules another attempt after the given delay.
func RetryAfter(d time.Duration) Decision { return Decision{Continue: true, RetryAfter: d} }

// Options configures one Execute run.
type Options struct {
	// OnSuccess runs after each successful action. Its error is logged and
	// never propagates into the loop.
	OnSuccess func(*model.ActionResult) error

	// OnError decides whether a failed attempt retries. The executor never
	// classifies errors on its own; cooldown errors reach here too so the
	// caller can return the exact wait.
	OnError func(err error, attempt int) Decision

	// MaxAttempts bounds the number of invocations. 0 means unbounded.
	MaxAttempts int
}

// Executor runs cooldown-aware action loops.
type Executor struct {
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// New creates an executor.
func New(logger *zap.Logger) *Executor {
	return &Executor{
		logger: logger.Named("executor"),
		sleep:  sleepContext,
	}
}

// Execute runs the action loop until the caller stops it, MaxAttempts is
// reached, or the context is canceled. The last action error is returned
// when the caller stops on a failure; exhausting MaxAttempts returns nil.
func (e *Executor) Execute(ctx context.Context, action Action, opts Options) error {
	for attempt := 1; ; attempt++ {
		result, err := action(ctx)
		if err != nil {
			decision := Stop()
			if opts.OnError != nil {
				decision = opts.OnError(err, attempt)
			}
			if !decision.Continue {
				e.logger.Debug("Action loop stopped",
					zap.Int("attempt", attempt),
					zap.Error(err))
				return err
			}

			delay := decision.RetryAfter
			if delay <= 0 {
				delay = DefaultRetryDelay
			}
			e.logger.Debug("Retrying action",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err))

			if opts.MaxAttempts > 0 && attempt >= opts.MaxAttempts {
				return err
			}
			if err := e.sleep(ctx, delay); err != nil {
				return err
			}
			continue
		}

		if opts.OnSuccess != nil {
			if err := opts.OnSuccess(result); err != nil {
				e.logger.Error("Success hook failed", zap.Error(err))
			}
		}

		if opts.MaxAttempts > 0 && attempt >= opts.MaxAttempts {
			return nil
		}

		delay := DefaultActionDelay
		if result != nil && result.Cooldown != nil && result.Cooldown.TotalSeconds > 0 {
			delay = time.Duration(result.Cooldown.TotalSeconds * float64(time.Second))
		}
		if err := e.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
