package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/macomeau/Artifacts-sub001/internal/model"
)

// fakeClock records requested sleeps instead of waiting.
type fakeClock struct {
	slept []time.Duration
}

func (c *fakeClock) sleep(ctx context.Context, d time.Duration) error {
	c.slept = append(c.slept, d)
	return ctx.Err()
}

func newTestExecutor(t *testing.T) (*Executor, *fakeClock) {
	t.Helper()
	clock := &fakeClock{}
	e := New(zaptest.NewLogger(t))
	e.sleep = clock.sleep
	return e, clock
}

func resultWithCooldown(secs float64) *model.ActionResult {
	return &model.ActionResult{Cooldown: &model.Cooldown{TotalSeconds: secs}}
}

func TestCooldownSerialization(t *testing.T) {
	e, clock := newTestExecutor(t)

	successes := 0
	err := e.Execute(context.Background(),
		func(ctx context.Context) (*model.ActionResult, error) {
			return resultWithCooldown(3), nil
		},
		Options{
			OnSuccess:   func(*model.ActionResult) error { successes++; return nil },
			MaxAttempts: 3,
		})
	require.NoError(t, err)

	assert.Equal(t, 3, successes)
	// Two inter-attempt waits, each at least the reported cooldown.
	require.Len(t, clock.slept, 2)
	for _, d := range clock.slept {
		assert.GreaterOrEqual(t, d, 3*time.Second)
	}
}

func TestCooldownErrorRetry(t *testing.T) {
	e, clock := newTestExecutor(t)

	calls := 0
	successes := 0
	err := e.Execute(context.Background(),
		func(ctx context.Context) (*model.ActionResult, error) {
			calls++
			if calls == 1 {
				return nil, errors.New("Character in cooldown: 4.5 seconds left")
			}
			return resultWithCooldown(1), nil
		},
		Options{
			OnSuccess: func(*model.ActionResult) error { successes++; return nil },
			OnError: func(err error, attempt int) Decision {
				return RetryAfter(4500 * time.Millisecond)
			},
			MaxAttempts: 2,
		})
	require.NoError(t, err)

	assert.Equal(t, 1, successes)
	require.Len(t, clock.slept, 1)
	assert.GreaterOrEqual(t, clock.slept[0], 4500*time.Millisecond)
}

func TestMaxAttemptsOne(t *testing.T) {
	e, clock := newTestExecutor(t)

	calls := 0
	err := e.Execute(context.Background(),
		func(ctx context.Context) (*model.ActionResult, error) {
			calls++
			return nil, errors.New("boom")
		},
		Options{
			OnError:     func(error, int) Decision { return Retry() },
			MaxAttempts: 1,
		})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, clock.slept)
}

func TestUnboundedUntilStop(t *testing.T) {
	e, _ := newTestExecutor(t)

	calls := 0
	stopErr := errors.New("inventory is full")
	err := e.Execute(context.Background(),
		func(ctx context.Context) (*model.ActionResult, error) {
			calls++
			if calls < 50 {
				return resultWithCooldown(0), nil
			}
			return nil, stopErr
		},
		Options{
			OnError: func(err error, attempt int) Decision { return Stop() },
		})
	require.ErrorIs(t, err, stopErr)
	assert.Equal(t, 50, calls)
}

func TestZeroCooldownUsesMinimumDelay(t *testing.T) {
	e, clock := newTestExecutor(t)

	err := e.Execute(context.Background(),
		func(ctx context.Context) (*model.ActionResult, error) {
			return resultWithCooldown(0), nil
		},
		Options{MaxAttempts: 2})
	require.NoError(t, err)
	require.Len(t, clock.slept, 1)
	assert.Equal(t, DefaultActionDelay, clock.slept[0])
}

func TestSuccessHookErrorDoesNotPropagate(t *testing.T) {
	e, _ := newTestExecutor(t)

	err := e.Execute(context.Background(),
		func(ctx context.Context) (*model.ActionResult, error) {
			return resultWithCooldown(0), nil
		},
		Options{
			OnSuccess:   func(*model.ActionResult) error { return errors.New("hook failed") },
			MaxAttempts: 1,
		})
	assert.NoError(t, err)
}

func TestDefaultRetryDelay(t *testing.T) {
	e, clock := newTestExecutor(t)

	calls := 0
	err := e.Execute(context.Background(),
		func(ctx context.Context) (*model.ActionResult, error) {
			calls++
			if calls == 1 {
				return nil, errors.New("transient")
			}
			return resultWithCooldown(0), nil
		},
		Options{
			OnError:     func(error, int) Decision { return Retry() },
			MaxAttempts: 2,
		})
	require.NoError(t, err)
	require.Len(t, clock.slept, 1)
	assert.Equal(t, DefaultRetryDelay, clock.slept[0])
}

func TestContextCancelStopsLoop(t *testing.T) {
	e := New(zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	err := e.Execute(ctx,
		func(ctx context.Context) (*model.ActionResult, error) {
			calls++
			return resultWithCooldown(60), nil
		},
		Options{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
