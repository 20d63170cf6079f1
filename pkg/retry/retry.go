// Package retry implements a bounded exponential-backoff wrapper over
// idempotent calls (spec §4.4). It is deliberately outside the circuit
// breaker: the breaker must see each individual attempt so its failure
// counting and state transitions are accurate.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// FailureKind classifies a failure for the RetryOn predicate, letting
// callers distinguish retryable transport errors from permanent ones.
type FailureKind string

const (
	FailureTransient FailureKind = "transient"
	FailurePermanent FailureKind = "permanent"
)

// Config parameterizes a Policy.
type Config struct {
	MaxAttempts     int
	InitialBackoff  time.Duration
	Multiplier      float64
	MaxBackoff      time.Duration
	Jitter          float64 // uniform fraction, e.g. 0.2 for +/-20%
	RetryOn         func(err error) bool
}

func (c *Config) applyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 100 * time.Millisecond
	}
	if c.Multiplier <= 1.0 {
		c.Multiplier = 2.0
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 10 * time.Second
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	}
	if c.RetryOn == nil {
		c.RetryOn = func(error) bool { return true }
	}
}

// Policy wraps an idempotent function with bounded exponential backoff.
type Policy struct {
	config Config
}

// New creates a retry Policy.
func New(config Config) *Policy {
	config.applyDefaults()
	return &Policy{config: config}
}

// Execute runs fn, retrying on failure per the configured policy.
// Non-retryable failures (RetryOn returns false) are surfaced
// immediately without consuming an attempt's backoff delay.
func (p *Policy) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= p.config.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !p.config.RetryOn(err) {
			return err
		}
		if attempt == p.config.MaxAttempts {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := p.NextDelay(attempt)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

// NextDelay computes the backoff for the given (1-based) attempt,
// applying the multiplier, a cap, and uniform jitter.
func (p *Policy) NextDelay(attempt int) time.Duration {
	delay := float64(p.config.InitialBackoff) * math.Pow(p.config.Multiplier, float64(attempt-1))
	if delay > float64(p.config.MaxBackoff) {
		delay = float64(p.config.MaxBackoff)
	}
	if p.config.Jitter > 0 {
		jitter := delay * p.config.Jitter * (rand.Float64()*2 - 1)
		delay += jitter
		if delay < 0 {
			delay = 0
		}
	}
	return time.Duration(delay)
}
