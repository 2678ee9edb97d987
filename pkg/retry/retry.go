/**
 * @description
 * This package implements the retry orchestrator for calls to external
 * dependencies. Retry decisions are made centrally from the domain error
 * taxonomy: only errors classified retryable are attempted again, with
 * exponential backoff and jitter; everything else short-circuits.
 *
 * @dependencies
 * - context, math/rand, time: Standard Go libraries.
 * - internal/domain: For the retryable/terminal error classification.
 */
package retry

import (
	"context"
	"log"
	"math/rand"
	"time"

	"github.com/transfa/payment-service/internal/domain"
)

// Policy configures backoff behaviour for one class of dependency.
type Policy struct {
	Name        string
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	MaxAttempts int
}

// Profiles used across the service. Fast is for interactive request paths,
// slow for background sweeps where latency is cheap.
var (
	Fast     = Policy{Name: "fast", BaseDelay: 100 * time.Millisecond, Multiplier: 2.0, MaxDelay: 1 * time.Second, MaxAttempts: 3}
	Standard = Policy{Name: "standard", BaseDelay: 250 * time.Millisecond, Multiplier: 2.0, MaxDelay: 5 * time.Second, MaxAttempts: 4}
	Slow     = Policy{Name: "slow", BaseDelay: 1 * time.Second, Multiplier: 2.0, MaxDelay: 30 * time.Second, MaxAttempts: 6}
)

// Delay computes the backoff before the given attempt (1-based), with full
// jitter so synchronized callers do not stampede a recovering dependency.
func (p Policy) Delay(attempt int) time.Duration {
	d := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= p.Multiplier
	}
	if max := float64(p.MaxDelay); d > max {
		d = max
	}
	return time.Duration(rand.Int63n(int64(d) + 1))
}

// Do runs fn up to the policy's attempt limit. Only errors the domain
// taxonomy classifies as retryable are attempted again; the attempt count is
// returned for observability. Context cancellation stops further attempts
// but never interrupts an attempt already in flight.
func Do(ctx context.Context, policy Policy, op string, fn func(ctx context.Context) error) (attempts int, err error) {
	for attempts = 1; ; attempts++ {
		err = fn(ctx)
		if err == nil {
			return attempts, nil
		}
		if !domain.IsRetryable(err) || attempts >= policy.MaxAttempts {
			return attempts, err
		}

		delay := policy.Delay(attempts)
		log.Printf("level=warn component=retry op=%s profile=%s attempt=%d max_attempts=%d delay=%s err=%v",
			op, policy.Name, attempts, policy.MaxAttempts, delay, err)

		select {
		case <-ctx.Done():
			return attempts, err
		case <-time.After(delay):
		}
	}
}
