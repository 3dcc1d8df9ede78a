package retry

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"solscope/internal/domain"
)

// Config controls the backoff schedule
type Config struct {
	MaxRetries        int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

// DefaultConfig: 3 retries, 1s base, 30s cap, doubling
func DefaultConfig() Config {
	return Config{
		MaxRetries:        3,
		BaseDelay:         time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2,
	}
}

// Policy executes operations with exponential backoff.
// Only errors reporting domain.IsRetriable are retried.
type Policy struct {
	cfg    Config
	sleep  func(ctx context.Context, d time.Duration) error
	logger *slog.Logger
}

// NewPolicy creates a new retry policy
func NewPolicy(cfg Config) *Policy {
	if cfg.BackoffMultiplier <= 0 {
		cfg.BackoffMultiplier = 1
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Policy{
		cfg:    cfg,
		sleep:  sleepCtx,
		logger: slog.Default().With("module", "retry"),
	}
}

// WithSleep replaces the wait function (tests)
func (p *Policy) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *Policy {
	p.sleep = sleep
	return p
}

// Config returns the policy configuration
func (p *Policy) Config() Config {
	return p.cfg
}

// Delay returns the wait before retry number attempt (0-based):
// min(BaseDelay * BackoffMultiplier^attempt, MaxDelay)
func (p *Policy) Delay(attempt int) time.Duration {
	d := float64(p.cfg.BaseDelay) * math.Pow(p.cfg.BackoffMultiplier, float64(attempt))
	if p.cfg.MaxDelay > 0 && d > float64(p.cfg.MaxDelay) {
		return p.cfg.MaxDelay
	}
	return time.Duration(d)
}

// Do runs op up to MaxRetries+1 times.
// A non-retriable error is returned at once; on exhaustion the last error is returned.
func Do[T any](ctx context.Context, p *Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := p.Delay(attempt - 1)
			p.logger.Debug("Retrying",
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.Any("error", lastErr),
			)
			if err := p.sleep(ctx, delay); err != nil {
				if errors.Is(lastErr, err) {
					return zero, lastErr
				}
				return zero, errors.Join(err, lastErr)
			}
		}

		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if ctxErr := ctx.Err(); ctxErr != nil {
			if errors.Is(lastErr, ctxErr) {
				return zero, lastErr
			}
			return zero, errors.Join(ctxErr, lastErr)
		}
		if !domain.IsRetriable(err) {
			return zero, err
		}
	}

	p.logger.Warn("Retries exhausted",
		slog.Int("attempts", p.cfg.MaxRetries+1),
		slog.Any("error", lastErr),
	)
	return zero, lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
