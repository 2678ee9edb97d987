/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface. It contains all SQL for the payments aggregate, its append-only
 * transition history, inbound webhook event dedup rows, the outbound
 * notification queue, the subscriber registry, and the audit log.
 *
 * @notes
 * - Payment writes are optimistic: UPDATE ... WHERE id=$n AND version=$m.
 *   Zero rows affected means a concurrent writer won and we surface
 *   ErrConcurrentModification; the caller re-reads and retries.
 * - Webhook event dedup relies on the primary key on event_id with
 *   ON CONFLICT DO NOTHING, so racing ingestion paths resolve in the db.
 *
 * @dependencies
 * - context, time, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver.
 * - internal/domain: Domain models.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/transfa/payment-service/internal/domain"
)

// PostgresRepository is a concrete implementation of the Repository interface.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const paymentColumns = `id, external_reference, amount, currency, status, processor_transaction_id,
	refunded_amount, failure_reason, COALESCE(idempotency_key, ''), needs_reconciliation, reconcile_operation,
	reconcile_amount, reconcile_token, version, created_at, updated_at`

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var p domain.Payment
	err := row.Scan(
		&p.ID, &p.ExternalReference, &p.Amount, &p.Currency, &p.Status, &p.ProcessorTransactionID,
		&p.RefundedAmount, &p.FailureReason, &p.IdempotencyKey, &p.NeedsReconciliation, &p.ReconcileOperation,
		&p.ReconcileAmount, &p.ReconcileToken, &p.Version, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreatePayment inserts a new payment at version 1.
func (r *PostgresRepository) CreatePayment(ctx context.Context, p *domain.Payment) error {
	query := `
		INSERT INTO payments (id, external_reference, amount, currency, status, processor_transaction_id,
			refunded_amount, failure_reason, idempotency_key, needs_reconciliation, reconcile_operation,
			reconcile_amount, reconcile_token, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10, $11, $12, $13, 1)
		RETURNING created_at, updated_at
	`
	p.Version = 1
	return r.db.QueryRow(ctx, query,
		p.ID, p.ExternalReference, p.Amount, p.Currency, p.Status, p.ProcessorTransactionID,
		p.RefundedAmount, p.FailureReason, p.IdempotencyKey, p.NeedsReconciliation, p.ReconcileOperation,
		p.ReconcileAmount, p.ReconcileToken,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
}

// GetPayment retrieves a payment by id.
func (r *PostgresRepository) GetPayment(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	p, err := scanPayment(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, err
	}
	return p, nil
}

// FindPaymentByIdempotencyKey retrieves the payment created under a key.
func (r *PostgresRepository) FindPaymentByIdempotencyKey(ctx context.Context, key string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE idempotency_key = $1`
	p, err := scanPayment(r.db.QueryRow(ctx, query, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, err
	}
	return p, nil
}

// SavePayment persists a mutation conditional on the expected version.
func (r *PostgresRepository) SavePayment(ctx context.Context, p *domain.Payment, expectedVersion int64) error {
	query := `
		UPDATE payments
		SET status = $1, processor_transaction_id = $2, refunded_amount = $3, failure_reason = $4,
			idempotency_key = NULLIF($5, ''), needs_reconciliation = $6, reconcile_operation = $7,
			reconcile_amount = $8, reconcile_token = $9,
			version = version + 1, updated_at = now()
		WHERE id = $10 AND version = $11
		RETURNING version, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		p.Status, p.ProcessorTransactionID, p.RefundedAmount, p.FailureReason,
		p.IdempotencyKey, p.NeedsReconciliation, p.ReconcileOperation,
		p.ReconcileAmount, p.ReconcileToken, p.ID, expectedVersion,
	).Scan(&p.Version, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrConcurrentModification
		}
		return err
	}
	return nil
}

// AppendTransition appends one entry to a payment's transition history. The
// sequence number is assigned from the existing history, never reused.
func (r *PostgresRepository) AppendTransition(ctx context.Context, t *domain.PaymentTransition) error {
	query := `
		INSERT INTO payment_transitions (payment_id, sequence, from_status, to_status, operation, amount, reason, occurred_at)
		SELECT $1, COALESCE(MAX(sequence), 0) + 1, $2, $3, $4, $5, $6, $7
		FROM payment_transitions WHERE payment_id = $1
		RETURNING sequence
	`
	return r.db.QueryRow(ctx, query,
		t.PaymentID, t.FromStatus, t.ToStatus, t.Operation, t.Amount, t.Reason, t.OccurredAt,
	).Scan(&t.Sequence)
}

// ListTransitions returns a payment's full history, oldest first.
func (r *PostgresRepository) ListTransitions(ctx context.Context, paymentID uuid.UUID) ([]domain.PaymentTransition, error) {
	query := `
		SELECT payment_id, sequence, from_status, to_status, operation, amount, reason, occurred_at
		FROM payment_transitions WHERE payment_id = $1 ORDER BY sequence
	`
	rows, err := r.db.Query(ctx, query, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PaymentTransition
	for rows.Next() {
		var t domain.PaymentTransition
		if err := rows.Scan(&t.PaymentID, &t.Sequence, &t.FromStatus, &t.ToStatus, &t.Operation, &t.Amount, &t.Reason, &t.OccurredAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListPaymentsNeedingReconciliation returns payments flagged for an
// ambiguous-outcome lookup, oldest first.
func (r *PostgresRepository) ListPaymentsNeedingReconciliation(ctx context.Context, limit int) ([]domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE needs_reconciliation ORDER BY updated_at LIMIT $1`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// RecordWebhookEvent durably records an inbound event. The webhook receiver
// only acknowledges the notifier after this returns, which is what makes the
// inbound contract at-least-once.
func (r *PostgresRepository) RecordWebhookEvent(ctx context.Context, ev *domain.WebhookEvent) (bool, error) {
	query := `
		INSERT INTO webhook_events (event_id, event_type, raw_payload, signature, dedup_status, received_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (event_id) DO NOTHING
	`
	tag, err := r.db.Exec(ctx, query, ev.EventID, ev.EventType, ev.RawPayload, ev.Signature, ev.DedupStatus, ev.ReceivedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// GetWebhookEvent retrieves a recorded event by its processor event id.
func (r *PostgresRepository) GetWebhookEvent(ctx context.Context, eventID string) (*domain.WebhookEvent, error) {
	var ev domain.WebhookEvent
	query := `
		SELECT event_id, event_type, raw_payload, signature, dedup_status, received_at, processed_at
		FROM webhook_events WHERE event_id = $1
	`
	err := r.db.QueryRow(ctx, query, eventID).Scan(
		&ev.EventID, &ev.EventType, &ev.RawPayload, &ev.Signature, &ev.DedupStatus, &ev.ReceivedAt, &ev.ProcessedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrEventNotFound
		}
		return nil, err
	}
	return &ev, nil
}

// MarkWebhookEventProcessed finalizes an event's dedup status.
func (r *PostgresRepository) MarkWebhookEventProcessed(ctx context.Context, eventID, dedupStatus string) error {
	query := `UPDATE webhook_events SET dedup_status = $1, processed_at = now() WHERE event_id = $2`
	tag, err := r.db.Exec(ctx, query, dedupStatus, eventID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrEventNotFound
	}
	return nil
}

// EnqueueNotifications inserts one pending row per subscriber delivery.
func (r *PostgresRepository) EnqueueNotifications(ctx context.Context, items []domain.OutboundNotification) error {
	if len(items) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	query := `
		INSERT INTO outbound_notifications (id, event_id, event_type, payload, target_endpoint,
			priority, attempt_count, max_attempts, next_attempt_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	for _, n := range items {
		batch.Queue(query, n.ID, n.EventID, n.EventType, n.Payload, n.TargetEndpoint,
			n.Priority, n.AttemptCount, n.MaxAttempts, n.NextAttemptAt, n.Status)
	}
	results := r.db.SendBatch(ctx, batch)
	defer results.Close()
	for range items {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to enqueue notification: %w", err)
		}
	}
	return nil
}

const notificationColumns = `id, event_id, event_type, payload, target_endpoint, priority,
	attempt_count, max_attempts, next_attempt_at, status, last_error, created_at, updated_at`

func scanNotification(row pgx.Row) (*domain.OutboundNotification, error) {
	var n domain.OutboundNotification
	err := row.Scan(
		&n.ID, &n.EventID, &n.EventType, &n.Payload, &n.TargetEndpoint, &n.Priority,
		&n.AttemptCount, &n.MaxAttempts, &n.NextAttemptAt, &n.Status, &n.LastError, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// DueNotifications returns pending deliveries whose next_attempt_at has
// passed, highest priority first, then oldest. Per-target FIFO follows from
// next_attempt_at ordering.
func (r *PostgresRepository) DueNotifications(ctx context.Context, now time.Time, limit int) ([]domain.OutboundNotification, error) {
	query := `SELECT ` + notificationColumns + `
		FROM outbound_notifications
		WHERE status = 'pending' AND next_attempt_at <= $1
		ORDER BY priority DESC, next_attempt_at
		LIMIT $2`
	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.OutboundNotification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

// MarkNotificationDelivered archives a successful delivery.
func (r *PostgresRepository) MarkNotificationDelivered(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE outbound_notifications SET status = 'delivered', updated_at = now() WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotificationNotFound
	}
	return nil
}

// RescheduleNotification records a failed attempt and its next slot.
func (r *PostgresRepository) RescheduleNotification(ctx context.Context, id uuid.UUID, attemptCount int, nextAttemptAt time.Time, lastError string) error {
	query := `
		UPDATE outbound_notifications
		SET attempt_count = $1, next_attempt_at = $2, last_error = $3, updated_at = now()
		WHERE id = $4
	`
	tag, err := r.db.Exec(ctx, query, attemptCount, nextAttemptAt, lastError, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotificationNotFound
	}
	return nil
}

// DeferNotification pushes a delivery forward without touching attempt_count.
func (r *PostgresRepository) DeferNotification(ctx context.Context, id uuid.UUID, nextAttemptAt time.Time) error {
	query := `UPDATE outbound_notifications SET next_attempt_at = $1, updated_at = now() WHERE id = $2`
	tag, err := r.db.Exec(ctx, query, nextAttemptAt, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotificationNotFound
	}
	return nil
}

// MarkNotificationExhausted dead-letters a delivery for operator inspection.
func (r *PostgresRepository) MarkNotificationExhausted(ctx context.Context, id uuid.UUID, lastError string) error {
	query := `UPDATE outbound_notifications
		SET attempt_count = attempt_count + 1, status = 'exhausted', last_error = $1, updated_at = now()
		WHERE id = $2`
	tag, err := r.db.Exec(ctx, query, lastError, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotificationNotFound
	}
	return nil
}

// ListExhaustedNotifications lists dead-lettered deliveries, oldest first.
func (r *PostgresRepository) ListExhaustedNotifications(ctx context.Context, limit int) ([]domain.OutboundNotification, error) {
	query := `SELECT ` + notificationColumns + `
		FROM outbound_notifications WHERE status = 'exhausted' ORDER BY updated_at LIMIT $1`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.OutboundNotification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

// GetNotification retrieves one outbound notification.
func (r *PostgresRepository) GetNotification(ctx context.Context, id uuid.UUID) (*domain.OutboundNotification, error) {
	query := `SELECT ` + notificationColumns + ` FROM outbound_notifications WHERE id = $1`
	n, err := scanNotification(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotificationNotFound
		}
		return nil, err
	}
	return n, nil
}

// RequeueNotification is the manual replay of an exhausted delivery: counts
// reset, status back to pending.
func (r *PostgresRepository) RequeueNotification(ctx context.Context, id uuid.UUID, nextAttemptAt time.Time) error {
	query := `
		UPDATE outbound_notifications
		SET status = 'pending', attempt_count = 0, next_attempt_at = $1, last_error = NULL, updated_at = now()
		WHERE id = $2 AND status = 'exhausted'
	`
	tag, err := r.db.Exec(ctx, query, nextAttemptAt, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotificationNotFound
	}
	return nil
}

// EnsureSubscriber registers a subscriber endpoint if it is not yet known.
func (r *PostgresRepository) EnsureSubscriber(ctx context.Context, endpoint, secret string) error {
	query := `
		INSERT INTO subscribers (id, endpoint, secret, active)
		VALUES ($1, $2, $3, true)
		ON CONFLICT (endpoint) DO UPDATE SET secret = EXCLUDED.secret, active = true
	`
	_, err := r.db.Exec(ctx, query, uuid.New(), endpoint, secret)
	return err
}

// ListActiveSubscribers returns the endpoints domain events fan out to.
func (r *PostgresRepository) ListActiveSubscribers(ctx context.Context) ([]domain.Subscriber, error) {
	rows, err := r.db.Query(ctx, `SELECT id, endpoint, secret, active, created_at FROM subscribers WHERE active`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Subscriber
	for rows.Next() {
		var s domain.Subscriber
		if err := rows.Scan(&s.ID, &s.Endpoint, &s.Secret, &s.Active, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// InsertAuditEvent appends to the audit log.
func (r *PostgresRepository) InsertAuditEvent(ctx context.Context, ev domain.AuditEvent) error {
	query := `INSERT INTO audit_events (kind, payment_id, reference, detail, occurred_at) VALUES ($1, $2, $3, $4, $5)`
	_, err := r.db.Exec(ctx, query, ev.Kind, ev.PaymentID, ev.Reference, ev.Detail, ev.OccurredAt)
	return err
}
