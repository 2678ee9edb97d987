/**
 * @description
 * This file defines the core domain models for the payment-service. The `Payment`
 * aggregate is the central record for a card transaction; every state change flows
 * through the lifecycle engine and is recorded as an append-only `PaymentTransition`.
 *
 * @notes
 * - Amounts are stored as `int64` in the smallest currency unit (e.g. cents),
 *   which avoids floating-point inaccuracies with financial data.
 * - `Version` is the optimistic-concurrency counter: it increments on every
 *   mutation, and all writes are conditional on the expected version.
 */

package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PaymentStatus enumerates the states of the payment state machine.
type PaymentStatus string

const (
	StatusPending           PaymentStatus = "pending"
	StatusAuthorized        PaymentStatus = "authorized"
	StatusCaptured          PaymentStatus = "captured"
	StatusSettled           PaymentStatus = "settled"
	StatusPartiallyRefunded PaymentStatus = "partially_refunded"
	StatusRefunded          PaymentStatus = "refunded"
	StatusVoided            PaymentStatus = "voided"
	StatusFailed            PaymentStatus = "failed"
)

// Operation names the lifecycle operations a caller can request.
type Operation string

const (
	OpCreate    Operation = "create"
	OpAuthorize Operation = "authorize"
	OpCapture   Operation = "capture"
	OpPurchase  Operation = "purchase"
	OpVoid      Operation = "void"
	OpRefund    Operation = "refund"
	OpSettle    Operation = "settle"
	OpFail      Operation = "fail"
)

// legalTransitions is the closed transition table of the state machine.
// Any (from, to) pair absent from this table is an InvalidStateTransition.
var legalTransitions = map[PaymentStatus][]PaymentStatus{
	StatusPending:           {StatusAuthorized, StatusCaptured, StatusFailed},
	StatusAuthorized:        {StatusCaptured, StatusVoided},
	StatusCaptured:          {StatusSettled, StatusPartiallyRefunded, StatusRefunded},
	StatusSettled:           {StatusPartiallyRefunded, StatusRefunded},
	StatusPartiallyRefunded: {StatusPartiallyRefunded, StatusRefunded},
}

// CanTransition reports whether the state machine permits moving from one
// status to another.
func CanTransition(from, to PaymentStatus) bool {
	for _, allowed := range legalTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// requestableFrom gates operations requested directly by callers. The
// combined purchase path and observed processor events go through the
// transition table alone; pending to captured in one step is reachable only
// through those, never through a bare capture request.
var requestableFrom = map[Operation][]PaymentStatus{
	OpAuthorize: {StatusPending},
	OpCapture:   {StatusAuthorized},
	OpVoid:      {StatusAuthorized},
	OpRefund:    {StatusCaptured, StatusSettled, StatusPartiallyRefunded},
}

// CanRequest reports whether a caller may invoke op on a payment in the
// given status.
func CanRequest(op Operation, from PaymentStatus) bool {
	for _, allowed := range requestableFrom[op] {
		if allowed == from {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status admits no further transitions.
func (s PaymentStatus) IsTerminal() bool {
	return len(legalTransitions[s]) == 0
}

// Payment is the aggregate root for a card transaction. It maps to the
// `payments` table.
type Payment struct {
	ID                     uuid.UUID     `json:"id"`
	ExternalReference      string        `json:"external_reference"`
	Amount                 int64         `json:"amount"` // minor units
	Currency               string        `json:"currency"`
	Status                 PaymentStatus `json:"status"`
	ProcessorTransactionID *string       `json:"processor_transaction_id,omitempty"`
	RefundedAmount         int64         `json:"refunded_amount"`
	FailureReason          *string       `json:"failure_reason,omitempty"`
	IdempotencyKey         string        `json:"-"`
	NeedsReconciliation    bool          `json:"-"`
	ReconcileOperation     *string       `json:"-"`
	ReconcileAmount        *int64        `json:"-"`
	ReconcileToken         *string       `json:"-"`
	Version                int64         `json:"version"`
	CreatedAt              time.Time     `json:"created_at"`
	UpdatedAt              time.Time     `json:"updated_at"`
}

// RemainingRefundable is the amount still eligible for refund.
func (p *Payment) RemainingRefundable() int64 {
	return p.Amount - p.RefundedAmount
}

// ProcessorToken derives the deterministic idempotency token attached to a
// processor call. It is stable across internal retries of one logical
// operation (same version), so a call whose response was lost cannot
// double-charge when retried, while a later legitimate re-invocation of the
// same operation on a mutated payment derives a fresh token.
func (p *Payment) ProcessorToken(op Operation) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", p.ID, op, p.Version)))
	return hex.EncodeToString(sum[:])
}

// PaymentTransition is one append-only entry in a payment's transition
// history, referenced by per-payment sequence number.
type PaymentTransition struct {
	PaymentID  uuid.UUID     `json:"payment_id"`
	Sequence   int64         `json:"sequence"`
	FromStatus PaymentStatus `json:"from_status"`
	ToStatus   PaymentStatus `json:"to_status"`
	Operation  Operation     `json:"operation"`
	Amount     *int64        `json:"amount,omitempty"` // refund amount, when applicable
	Reason     *string       `json:"reason,omitempty"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// CreatePaymentRequest is the DTO for the idempotent create operation.
type CreatePaymentRequest struct {
	ExternalReference string `json:"external_reference"`
	Amount            int64  `json:"amount"` // minor units
	Currency          string `json:"currency"`
	InstrumentToken   string `json:"instrument_token"`
	Capture           bool   `json:"capture"` // true = combined auth+capture purchase
	Description       string `json:"description"`
}

// Fingerprint returns the hash of the normalized request body used to detect
// idempotency-key reuse with a different payload.
func (r CreatePaymentRequest) Fingerprint() string {
	normalized := fmt.Sprintf("%s|%d|%s|%s|%t",
		r.ExternalReference, r.Amount, r.Currency, r.InstrumentToken, r.Capture)
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// RefundRequest is the DTO for a (possibly partial) refund.
type RefundRequest struct {
	Amount int64   `json:"amount"` // minor units
	Reason *string `json:"reason,omitempty"`
}
