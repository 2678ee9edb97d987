/**
 * @description
 * This file defines the models for the asynchronous notification subsystems:
 * inbound processor webhook events, the internal domain events they map to,
 * and the outbound notifications delivered to subscriber endpoints.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Webhook event dedup statuses.
const (
	EventReceived = "received"
	EventApplied  = "applied"
	EventStale    = "stale" // authentic but semantically out of order; acknowledged
	EventRejected = "rejected"
)

// WebhookEvent is a durably recorded inbound notification from the processor.
// EventID is globally unique on the processor side and is the dedup key.
type WebhookEvent struct {
	EventID     string     `json:"event_id"`
	EventType   string     `json:"event_type"`
	RawPayload  []byte     `json:"-"`
	Signature   string     `json:"-"`
	DedupStatus string     `json:"dedup_status"`
	ReceivedAt  time.Time  `json:"received_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// ProcessorEvent is the parsed shape of an inbound webhook payload. The
// processor wraps everything in a data envelope; only the fields the
// lifecycle engine needs are extracted here.
type ProcessorEvent struct {
	EventID              string `json:"event_id"`
	EventType            string `json:"event_type"`
	ProcessorTransaction string `json:"transaction_id"`
	PaymentID            string `json:"reference"`
	Amount               int64  `json:"amount"`
	Reason               string `json:"reason"`
	OccurredAtUnix       int64  `json:"occurred_at"`
}

// DomainEventType enumerates internal events emitted on payment transitions.
type DomainEventType string

const (
	EventPaymentAuthorized DomainEventType = "payment.authorized"
	EventPaymentCaptured   DomainEventType = "payment.captured"
	EventPaymentSettled    DomainEventType = "payment.settled"
	EventPaymentRefunded   DomainEventType = "payment.refunded"
	EventPaymentPartRefund DomainEventType = "payment.partially_refunded"
	EventPaymentVoided     DomainEventType = "payment.voided"
	EventPaymentFailed     DomainEventType = "payment.failed"
)

// DomainEvent is the payload fanned out to subscribers and internal services
// whenever a payment transition is persisted.
type DomainEvent struct {
	EventID    uuid.UUID       `json:"event_id"`
	Type       DomainEventType `json:"type"`
	PaymentID  uuid.UUID       `json:"payment_id"`
	Status     PaymentStatus   `json:"status"`
	Amount     int64           `json:"amount"`
	Currency   string          `json:"currency"`
	Refunded   int64           `json:"refunded_amount"`
	Version    int64           `json:"version"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Outbound notification statuses.
const (
	NotificationPending   = "pending"
	NotificationDelivered = "delivered"
	NotificationExhausted = "exhausted"
)

// OutboundNotification is one queued delivery of a DomainEvent to a
// subscriber endpoint. attempt_count never exceeds max_attempts and
// next_attempt_at strictly increases per attempt along the backoff schedule.
type OutboundNotification struct {
	ID             uuid.UUID       `json:"id"`
	EventID        uuid.UUID       `json:"event_id"`
	EventType      DomainEventType `json:"event_type"`
	Payload        []byte          `json:"-"`
	TargetEndpoint string          `json:"target_endpoint"`
	Priority       int             `json:"priority"`
	AttemptCount   int             `json:"attempt_count"`
	MaxAttempts    int             `json:"max_attempts"`
	NextAttemptAt  time.Time       `json:"next_attempt_at"`
	Status         string          `json:"status"`
	LastError      *string         `json:"last_error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Subscriber is a registered outbound webhook endpoint with its signing secret.
type Subscriber struct {
	ID        uuid.UUID `json:"id"`
	Endpoint  string    `json:"endpoint"`
	Secret    string    `json:"-"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// AuditEvent is the fire-and-forget record appended for every transition and
// delivery attempt. It must never block the critical path.
type AuditEvent struct {
	Kind       string     `json:"kind"` // e.g. "payment.transition", "delivery.attempt", "webhook.replay"
	PaymentID  *uuid.UUID `json:"payment_id,omitempty"`
	Reference  string     `json:"reference,omitempty"` // event id, notification id, operator, ...
	Detail     string     `json:"detail"`
	OccurredAt time.Time  `json:"occurred_at"`
}
