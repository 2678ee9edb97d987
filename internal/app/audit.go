/**
 * @description
 * Fire-and-forget audit sink. Every transition, delivery attempt, and
 * operator action is recorded to the append-only audit table and fanned out
 * on the payment_events exchange. Recording happens off the request path and
 * must never block or fail the operation being audited.
 */

package app

import (
	"context"
	"log"
	"time"

	"github.com/transfa/payment-service/internal/domain"
	"github.com/transfa/payment-service/internal/store"
	"github.com/transfa/payment-service/pkg/rabbitmq"
)

// AuditSink records audit events without blocking the caller.
type AuditSink interface {
	Record(event domain.AuditEvent)
}

// AuditLog persists audit events and publishes them for internal consumers.
type AuditLog struct {
	repo     store.Repository
	producer rabbitmq.Publisher
}

// NewAuditLog creates the production audit sink.
func NewAuditLog(repo store.Repository, producer rabbitmq.Publisher) *AuditLog {
	return &AuditLog{repo: repo, producer: producer}
}

// Record writes the event asynchronously. Failures are logged, never surfaced.
func (a *AuditLog) Record(event domain.AuditEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if a.repo != nil {
			if err := a.repo.InsertAuditEvent(ctx, event); err != nil {
				log.Printf("level=warn component=audit msg=\"audit insert failed\" kind=%s err=%v", event.Kind, err)
			}
		}
		if a.producer != nil {
			if err := a.producer.PublishAuditEvent(ctx, event); err != nil {
				log.Printf("level=warn component=audit msg=\"audit publish failed\" kind=%s err=%v", event.Kind, err)
			}
		}
	}()
}

// NopAudit discards audit events. Used in tests.
type NopAudit struct{}

func (NopAudit) Record(event domain.AuditEvent) {}
