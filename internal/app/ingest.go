/**
 * @description
 * This file contains the inbound webhook ingestion pipeline. Processor
 * notifications arrive out of order and at-least-once; the ingestor verifies
 * their HMAC signature, records them durably for deduplication, maps them to
 * lifecycle transitions, and acknowledges authentic-but-stale deliveries
 * without mutating state.
 *
 * @dependencies
 * - crypto/hmac, crypto/sha256: Signature verification.
 * - internal/domain, internal/store: Models and persistence.
 */

package app

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/payment-service/internal/domain"
	"github.com/transfa/payment-service/internal/store"
)

// eventTaxonomy maps processor event types to the transition they assert.
var eventTaxonomy = map[string]struct {
	target domain.PaymentStatus
	op     domain.Operation
}{
	"transaction.authorized": {domain.StatusAuthorized, domain.OpAuthorize},
	"transaction.captured":   {domain.StatusCaptured, domain.OpCapture},
	"transaction.settled":    {domain.StatusSettled, domain.OpSettle},
	"transaction.refunded":   {domain.StatusRefunded, domain.OpRefund},
	"transaction.voided":     {domain.StatusVoided, domain.OpVoid},
	"transaction.failed":     {domain.StatusFailed, domain.OpFail},
}

// Ingestor verifies, deduplicates, and applies inbound processor webhooks.
type Ingestor struct {
	svc    *Service
	repo   store.Repository
	secret []byte
	audit  AuditSink
	clock  func() time.Time
}

// NewIngestor creates a webhook ingestor signing-verified with the shared
// processor secret.
func NewIngestor(svc *Service, repo store.Repository, secret string, audit AuditSink) *Ingestor {
	return &Ingestor{
		svc:    svc,
		repo:   repo,
		secret: []byte(secret),
		audit:  audit,
		clock:  time.Now,
	}
}

// VerifySignature checks the HMAC-SHA256 of the raw payload against the
// signature header in constant time. Hex and base64 encodings are accepted.
func (i *Ingestor) VerifySignature(payload []byte, signature string) error {
	if signature == "" {
		return &domain.SignatureVerificationError{Reason: "missing signature"}
	}
	mac := hmac.New(sha256.New, i.secret)
	mac.Write(payload)
	expected := mac.Sum(nil)

	if decoded, err := hex.DecodeString(signature); err == nil && hmac.Equal(decoded, expected) {
		return nil
	}
	if decoded, err := base64.StdEncoding.DecodeString(signature); err == nil && hmac.Equal(decoded, expected) {
		return nil
	}
	return &domain.SignatureVerificationError{Reason: "signature mismatch"}
}

// Ingest is the full pipeline for a directly received webhook: verify,
// record, apply. A nil return means the delivery may be acknowledged; only
// infrastructure failures (where the event was not durably recorded or its
// application genuinely failed) return an error and force a redelivery.
func (i *Ingestor) Ingest(ctx context.Context, payload []byte, signature string) error {
	if err := i.VerifySignature(payload, signature); err != nil {
		return err
	}
	return i.ingestVerified(ctx, payload, signature)
}

// IngestTrusted applies an event whose signature was verified upstream, e.g.
// one relayed through the message broker by the edge receiver.
func (i *Ingestor) IngestTrusted(ctx context.Context, payload []byte) error {
	return i.ingestVerified(ctx, payload, "")
}

func (i *Ingestor) ingestVerified(ctx context.Context, payload []byte, signature string) error {
	var event domain.ProcessorEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return &domain.ValidationError{Field: "payload", Reason: "malformed event body"}
	}
	if event.EventID == "" || event.EventType == "" {
		return &domain.ValidationError{Field: "payload", Reason: "event_id and event_type are required"}
	}

	record := &domain.WebhookEvent{
		EventID:     event.EventID,
		EventType:   event.EventType,
		RawPayload:  payload,
		Signature:   signature,
		DedupStatus: domain.EventReceived,
		ReceivedAt:  i.clock().UTC(),
	}
	created, err := i.repo.RecordWebhookEvent(ctx, record)
	if err != nil {
		return fmt.Errorf("failed to record webhook event: %w", err)
	}
	if !created {
		log.Printf("level=info component=ingest event_id=%s msg=\"duplicate event acknowledged\"", event.EventID)
		return domain.ErrDuplicateEvent
	}

	return i.apply(ctx, event)
}

// apply maps the event to a transition and runs it through the engine. Stale
// and unknown events are recorded and acknowledged; they never mutate state.
func (i *Ingestor) apply(ctx context.Context, event domain.ProcessorEvent) error {
	entry, known := eventTaxonomy[event.EventType]
	if !known {
		log.Printf("level=warn component=ingest event_id=%s type=%s msg=\"unknown event type ignored\"", event.EventID, event.EventType)
		return i.repo.MarkWebhookEventProcessed(ctx, event.EventID, domain.EventRejected)
	}

	paymentID, err := uuid.Parse(event.PaymentID)
	if err != nil {
		log.Printf("level=warn component=ingest event_id=%s msg=\"event references no known payment\" reference=%q", event.EventID, event.PaymentID)
		return i.repo.MarkWebhookEventProcessed(ctx, event.EventID, domain.EventRejected)
	}

	target := entry.target
	var amount *int64
	var reason *string
	if entry.op == domain.OpRefund {
		if event.Amount > 0 {
			amount = &event.Amount
		}
		// A partial refund observed externally lands in partially_refunded
		// unless it consumes the remainder.
		if p, getErr := i.svc.GetPayment(ctx, paymentID); getErr == nil && amount != nil && *amount < p.RemainingRefundable() {
			target = domain.StatusPartiallyRefunded
		}
	}
	if event.Reason != "" {
		reason = &event.Reason
	}

	_, err = i.svc.ApplyObservedTransition(ctx, paymentID, target, entry.op, event.ProcessorTransaction, amount, reason)
	switch {
	case err == nil:
		return i.repo.MarkWebhookEventProcessed(ctx, event.EventID, domain.EventApplied)
	case errors.Is(err, domain.ErrPaymentNotFound):
		log.Printf("level=warn component=ingest event_id=%s payment_id=%s msg=\"event for unknown payment\"", event.EventID, paymentID)
		return i.repo.MarkWebhookEventProcessed(ctx, event.EventID, domain.EventRejected)
	default:
		var stale *domain.InvalidStateTransitionError
		if errors.As(err, &stale) {
			log.Printf("level=info component=ingest event_id=%s payment_id=%s from=%s to=%s msg=\"stale event acknowledged\"", event.EventID, paymentID, stale.From, stale.Requested)
			return i.repo.MarkWebhookEventProcessed(ctx, event.EventID, domain.EventStale)
		}
		return fmt.Errorf("failed to apply event %s: %w", event.EventID, err)
	}
}

// Replay re-runs a stored webhook event through the lifecycle engine,
// bypassing deduplication. Operator-initiated; the invocation is audited.
func (i *Ingestor) Replay(ctx context.Context, eventID, operator string) error {
	record, err := i.repo.GetWebhookEvent(ctx, eventID)
	if err != nil {
		return err
	}
	var event domain.ProcessorEvent
	if err := json.Unmarshal(record.RawPayload, &event); err != nil {
		return fmt.Errorf("stored payload for %s is unreadable: %w", eventID, err)
	}
	if i.audit != nil {
		i.audit.Record(domain.AuditEvent{
			Kind:      "webhook.replay",
			Reference: operator,
			Detail:    fmt.Sprintf("replayed event %s (%s)", eventID, record.EventType),
		})
	}
	return i.apply(ctx, event)
}
