package recovery

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	wferrors "github.com/ducminhle1904/ea-stress/internal/errors"
)

func newHandler(maxRetries int) (*RecoveryHandler, *[]time.Duration) {
	var slept []time.Duration
	rh := NewRecoveryHandler(RetryConfig{MaxRetries: maxRetries, BaseDelay: time.Second, MaxDelay: 3 * time.Second}, zerolog.Nop())
	rh.WithBackoff(BackoffConfig{Strategy: BackoffExponential, Multiplier: 2})
	rh.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	return rh, &slept
}

var transient = wferrors.NewToolchainError("toolchain", "backtest", stderrors.New("terminal busy"))

// TestExecuteWithRecovery_RetriesTransient tests recovery after transient failures
func TestExecuteWithRecovery_RetriesTransient(t *testing.T) {
	rh, slept := newHandler(3)
	calls := 0

	err := rh.ExecuteWithRecovery(context.Background(), "toolchain", "backtest", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return transient
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *slept)

	stats := rh.GetStats()
	assert.Equal(t, 2, stats.Retries)
	assert.Equal(t, 1, stats.Recovered)
}

// TestExecuteWithRecovery_NonRetryable tests that other errors return at once
func TestExecuteWithRecovery_NonRetryable(t *testing.T) {
	rh, slept := newHandler(3)
	calls := 0
	fatal := wferrors.NewDataIntegrityError("toolchain", "backtest", "no forward split")

	err := rh.ExecuteWithRecovery(context.Background(), "toolchain", "backtest", func(ctx context.Context) error {
		calls++
		return fatal
	})
	assert.Same(t, fatal, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *slept)
}

// TestExecuteWithRecovery_Exhausted tests the retry budget and delay cap
func TestExecuteWithRecovery_Exhausted(t *testing.T) {
	rh, slept := newHandler(3)
	calls := 0

	err := rh.ExecuteWithRecovery(context.Background(), "toolchain", "optimize", func(ctx context.Context) error {
		calls++
		return transient
	})
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, wferrors.ErrToolchain))
	assert.Contains(t, err.Error(), "after 4 attempts")
	assert.Equal(t, 4, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}, *slept)
	assert.Equal(t, 1, rh.GetStats().Failures)
}

// TestExecuteWithRecovery_Cancelled tests that cancellation stops retries
func TestExecuteWithRecovery_Cancelled(t *testing.T) {
	rh, _ := newHandler(5)
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	err := rh.ExecuteWithRecovery(ctx, "toolchain", "compile", func(ctx context.Context) error {
		calls++
		cancel()
		return transient
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

// TestCalculateDelay_Strategies tests linear and fixed backoff
func TestCalculateDelay_Strategies(t *testing.T) {
	rh := NewRecoveryHandler(RetryConfig{BaseDelay: time.Second, MaxDelay: time.Minute}, zerolog.Nop())

	rh.WithBackoff(BackoffConfig{Strategy: BackoffLinear})
	assert.Equal(t, 3*time.Second, rh.calculateDelay(2))

	rh.WithBackoff(BackoffConfig{Strategy: BackoffFixed})
	assert.Equal(t, time.Second, rh.calculateDelay(5))

	rh.WithBackoff(BackoffConfig{Strategy: BackoffExponential, Multiplier: 2, Jitter: true})
	d := rh.calculateDelay(1)
	assert.GreaterOrEqual(t, d, 2*time.Second)
	assert.Less(t, d, 2200*time.Millisecond)
}
