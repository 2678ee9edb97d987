/**
 * @description
 * This file defines the error taxonomy shared across the payment-service.
 * Errors carry an explicit retry decision: the retry orchestrator consults
 * IsRetryable centrally instead of call sites inspecting raw failures.
 *
 * @notes
 * - Sentinel errors are matched with errors.Is; structured errors with errors.As.
 * - Only RetryableProcessorError (and raw transport faults wrapped into it)
 *   may be retried. Everything else short-circuits.
 */

package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrPaymentNotFound is returned when a payment id resolves to nothing.
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrConcurrentModification is returned when an optimistic-version save
	// loses a race. The caller re-reads and retries; it is never retried
	// internally, which would risk double submission.
	ErrConcurrentModification = errors.New("payment was modified concurrently")

	// ErrRequestInFlight signals that an identical idempotent request is
	// currently executing; the caller should retry later.
	ErrRequestInFlight = errors.New("request with this idempotency key is in flight")

	// ErrIdempotencyConflict signals reuse of an idempotency key with a
	// different request body.
	ErrIdempotencyConflict = errors.New("idempotency key reused with a different request")

	// ErrDuplicateEvent marks an inbound webhook event that was already
	// applied. It is acknowledged, not treated as a failure.
	ErrDuplicateEvent = errors.New("event already processed")

	// ErrNotificationNotFound is returned for unknown outbound notification ids.
	ErrNotificationNotFound = errors.New("notification not found")

	// ErrEventNotFound is returned for unknown webhook event ids.
	ErrEventNotFound = errors.New("webhook event not found")
)

// ValidationError reports a malformed or out-of-range request field.
// Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// InvalidStateTransitionError reports a request for a transition absent from
// the legal table, naming the current and requested state. Never retried.
type InvalidStateTransitionError struct {
	From      PaymentStatus
	Requested PaymentStatus
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("illegal transition: payment is %s, requested %s", e.From, e.Requested)
}

// RetryableProcessorError wraps a transient processor failure (timeout, 5xx,
// connection reset). Retried internally up to the policy limit.
type RetryableProcessorError struct {
	Err error
}

func (e *RetryableProcessorError) Error() string {
	return fmt.Sprintf("transient processor error: %v", e.Err)
}

func (e *RetryableProcessorError) Unwrap() error { return e.Err }

// TerminalProcessorError reports a definitive processor outcome (decline,
// fraud block, permanent rejection). Surfaced as a failed payment, never
// retried.
type TerminalProcessorError struct {
	Code   string
	Reason string
}

func (e *TerminalProcessorError) Error() string {
	return fmt.Sprintf("processor declined: %s (%s)", e.Reason, e.Code)
}

// AmbiguousProcessorError marks a call whose outcome is unknown (timeout
// after the request may have reached the processor). The payment must be
// reconciled against the processor before any terminal status is assumed.
type AmbiguousProcessorError struct {
	Err error
}

func (e *AmbiguousProcessorError) Error() string {
	return fmt.Sprintf("processor outcome unknown: %v", e.Err)
}

func (e *AmbiguousProcessorError) Unwrap() error { return e.Err }

// CircuitOpenError reports that the breaker for a dependency is shedding
// load. The caller backs off; the dependency was not invoked.
type CircuitOpenError struct {
	Dependency string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for %s, retry after %s", e.Dependency, e.RetryAfter)
}

// SignatureVerificationError reports an inbound webhook whose signature did
// not match. The event is rejected and never retried by us.
type SignatureVerificationError struct {
	Reason string
}

func (e *SignatureVerificationError) Error() string {
	return fmt.Sprintf("webhook signature rejected: %s", e.Reason)
}

// IsRetryable is the single classification point consulted by the retry
// orchestrator. Only transient processor faults qualify.
func IsRetryable(err error) bool {
	var transient *RetryableProcessorError
	return errors.As(err, &transient)
}

// IsAmbiguous reports whether an error represents an unknown processor
// outcome requiring reconciliation.
func IsAmbiguous(err error) bool {
	var ambiguous *AmbiguousProcessorError
	return errors.As(err, &ambiguous)
}
