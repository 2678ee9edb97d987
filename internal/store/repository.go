/**
 * @description
 * This file defines the `Repository` interface, the contract for all data
 * access required by the payment-service. The interface decouples the
 * lifecycle engine, ingestion pipeline, and delivery queue from PostgreSQL,
 * which keeps them testable against struct stubs.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For id handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/payment-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Payment aggregate
	CreatePayment(ctx context.Context, p *domain.Payment) error
	GetPayment(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
	FindPaymentByIdempotencyKey(ctx context.Context, key string) (*domain.Payment, error)
	// SavePayment persists a mutation conditional on expectedVersion and
	// bumps the version; a mismatch fails ErrConcurrentModification.
	SavePayment(ctx context.Context, p *domain.Payment, expectedVersion int64) error
	AppendTransition(ctx context.Context, t *domain.PaymentTransition) error
	ListTransitions(ctx context.Context, paymentID uuid.UUID) ([]domain.PaymentTransition, error)
	ListPaymentsNeedingReconciliation(ctx context.Context, limit int) ([]domain.Payment, error)

	// Inbound webhook events
	// RecordWebhookEvent durably records an event; created=false when the
	// event id was already known (the dedup hit).
	RecordWebhookEvent(ctx context.Context, ev *domain.WebhookEvent) (created bool, err error)
	GetWebhookEvent(ctx context.Context, eventID string) (*domain.WebhookEvent, error)
	MarkWebhookEventProcessed(ctx context.Context, eventID, dedupStatus string) error

	// Outbound notifications
	EnqueueNotifications(ctx context.Context, items []domain.OutboundNotification) error
	DueNotifications(ctx context.Context, now time.Time, limit int) ([]domain.OutboundNotification, error)
	MarkNotificationDelivered(ctx context.Context, id uuid.UUID) error
	RescheduleNotification(ctx context.Context, id uuid.UUID, attemptCount int, nextAttemptAt time.Time, lastError string) error
	// DeferNotification pushes a due notification forward without consuming
	// an attempt (per-target breaker open).
	DeferNotification(ctx context.Context, id uuid.UUID, nextAttemptAt time.Time) error
	MarkNotificationExhausted(ctx context.Context, id uuid.UUID, lastError string) error
	ListExhaustedNotifications(ctx context.Context, limit int) ([]domain.OutboundNotification, error)
	GetNotification(ctx context.Context, id uuid.UUID) (*domain.OutboundNotification, error)
	// RequeueNotification is the operator replay of an exhausted delivery.
	RequeueNotification(ctx context.Context, id uuid.UUID, nextAttemptAt time.Time) error

	// Subscriber registry
	EnsureSubscriber(ctx context.Context, endpoint, secret string) error
	ListActiveSubscribers(ctx context.Context) ([]domain.Subscriber, error)

	// Audit log (append-only)
	InsertAuditEvent(ctx context.Context, ev domain.AuditEvent) error
}
