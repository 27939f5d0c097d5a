package recovery

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"

	wferrors "github.com/ducminhle1904/ea-stress/internal/errors"
	"github.com/ducminhle1904/ea-stress/internal/monitoring"
)

// RetryConfig bounds how often and how long a call is retried
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// BackoffConfig defines the delay growth between attempts
type BackoffConfig struct {
	Strategy   BackoffStrategy
	Multiplier float64
	Jitter     bool
}

// BackoffStrategy defines different backoff strategies
type BackoffStrategy string

const (
	BackoffExponential BackoffStrategy = "exponential"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffFixed       BackoffStrategy = "fixed"
)

// DefaultRetryConfig suits toolchain calls, which fail transiently when the
// terminal is busy or still starting
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  2 * time.Second,
		MaxDelay:   30 * time.Second,
	}
}

// Stats counts what the handler has seen
type Stats struct {
	Calls     int `json:"calls"`
	Retries   int `json:"retries"`
	Failures  int `json:"failures"`
	Recovered int `json:"recovered"`
}

// RecoveryHandler retries collaborator calls that fail with a retryable
// error. Every other error is returned on first sight.
type RecoveryHandler struct {
	mu      sync.Mutex
	stats   Stats
	retry   RetryConfig
	backoff BackoffConfig
	logger  zerolog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewRecoveryHandler creates a handler with exponential backoff and jitter
func NewRecoveryHandler(cfg RetryConfig, logger zerolog.Logger) *RecoveryHandler {
	return &RecoveryHandler{
		retry: cfg,
		backoff: BackoffConfig{
			Strategy:   BackoffExponential,
			Multiplier: 2,
			Jitter:     true,
		},
		logger: logger.With().Str("component", "recovery").Logger(),
		sleep:  sleepContext,
	}
}

// WithBackoff replaces the backoff configuration
func (rh *RecoveryHandler) WithBackoff(b BackoffConfig) *RecoveryHandler {
	rh.backoff = b
	return rh
}

// ExecuteWithRecovery runs fn until it succeeds, fails with a non-retryable
// error, exhausts the retry budget or ctx is cancelled
func (rh *RecoveryHandler) ExecuteWithRecovery(ctx context.Context, component, operation string, fn func(ctx context.Context) error) error {
	rh.count(func(s *Stats) { s.Calls++ })

	var lastErr error
	for attempt := 0; attempt <= rh.retry.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				rh.count(func(s *Stats) { s.Recovered++ })
				rh.logger.Info().
					Str("target", component).
					Str("operation", operation).
					Int("attempts", attempt+1).
					Msg("Operation succeeded after retry")
			}
			return nil
		}
		lastErr = err

		if !wferrors.IsRetryable(err) {
			rh.count(func(s *Stats) { s.Failures++ })
			return err
		}
		if attempt == rh.retry.MaxRetries {
			break
		}

		delay := rh.calculateDelay(attempt)
		rh.count(func(s *Stats) { s.Retries++ })
		monitoring.RecordRetry(component, operation)
		rh.logger.Warn().
			Err(err).
			Str("target", component).
			Str("operation", operation).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("Retrying after transient failure")

		if err := rh.sleep(ctx, delay); err != nil {
			return err
		}
	}

	rh.count(func(s *Stats) { s.Failures++ })
	return fmt.Errorf("%s.%s failed after %d attempts: %w", component, operation, rh.retry.MaxRetries+1, lastErr)
}

// calculateDelay returns the wait before attempt+1
func (rh *RecoveryHandler) calculateDelay(attempt int) time.Duration {
	base := rh.retry.BaseDelay

	var delay time.Duration
	switch rh.backoff.Strategy {
	case BackoffExponential:
		multiplier := 1.0
		for i := 0; i < attempt; i++ {
			multiplier *= rh.backoff.Multiplier
		}
		delay = time.Duration(float64(base) * multiplier)
	case BackoffLinear:
		delay = base * time.Duration(attempt+1)
	default:
		delay = base
	}

	if rh.retry.MaxDelay > 0 && delay > rh.retry.MaxDelay {
		delay = rh.retry.MaxDelay
	}
	if rh.backoff.Jitter {
		delay = addJitter(delay)
	}
	return delay
}

// addJitter adds up to 10% random delay
func addJitter(delay time.Duration) time.Duration {
	jitter := int64(delay) / 10
	if jitter <= 0 {
		return delay
	}
	return delay + time.Duration(rand.Int64N(jitter))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (rh *RecoveryHandler) count(fn func(*Stats)) {
	rh.mu.Lock()
	fn(&rh.stats)
	rh.mu.Unlock()
}

// GetStats returns a copy of the counters
func (rh *RecoveryHandler) GetStats() Stats {
	rh.mu.Lock()
	defer rh.mu.Unlock()
	return rh.stats
}

// ResetStats clears the counters
func (rh *RecoveryHandler) ResetStats() {
	rh.mu.Lock()
	rh.stats = Stats{}
	rh.mu.Unlock()
}
