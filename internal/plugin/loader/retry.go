package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/goatkit/hotplug/internal/plugin"
)

// Runner performs one load run.
type Runner interface {
	Run(ctx context.Context) (*plugin.LoadResult, error)
}

// WaitFunc blocks for d or until ctx is done.
type WaitFunc func(ctx context.Context, d time.Duration) error

// Coordinator repeats failed runs according to a retry policy.
type Coordinator struct {
	runner  Runner
	policy  plugin.RetryPolicy
	logger  *slog.Logger
	metrics *plugin.Metrics
	wait    WaitFunc
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithCoordinatorLogger sets the logger for attempt progress.
func WithCoordinatorLogger(logger *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithCoordinatorMetrics counts attempts in m.
func WithCoordinatorMetrics(m *plugin.Metrics) CoordinatorOption {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithWait replaces the delay between attempts.
func WithWait(wait WaitFunc) CoordinatorOption {
	return func(c *Coordinator) {
		if wait != nil {
			c.wait = wait
		}
	}
}

// NewCoordinator wraps runner with policy.
func NewCoordinator(runner Runner, policy plugin.RetryPolicy, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		runner: runner,
		policy: policy,
		logger: slog.Default(),
		wait:   sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run calls the runner until it succeeds or the policy's attempts are used
// up. The last failure is returned as *plugin.RetryExhaustedError.
// Cancelling ctx stops further attempts.
func (c *Coordinator) Run(ctx context.Context) (*plugin.LoadResult, error) {
	attempts := c.policy.Attempts()
	delay := c.policy.Delay()

	var lastErr error
	made := 0
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			c.logger.Info("retrying plugin load", "attempt", attempt, "max_attempts", attempts, "delay", delay)
			if err := c.wait(ctx, delay); err != nil {
				lastErr = errors.Join(lastErr, err)
				break
			}
		}

		made++
		c.metrics.RecordAttempt()
		res, err := c.runner.Run(ctx)
		if err == nil {
			return res, nil
		}
		lastErr = err
		c.logger.Warn("plugin load attempt failed", "attempt", attempt, "max_attempts", attempts, "error", err)

		if ctx.Err() != nil {
			break
		}
	}

	return nil, &plugin.RetryExhaustedError{Attempts: made, Err: lastErr}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry wait: %w", ctx.Err())
	case <-t.C:
		return nil
	}
}
