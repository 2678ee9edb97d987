/**
 * @description
 * This file contains the payment lifecycle engine, the core of the
 * payment-service. The `Service` struct owns every payment state transition:
 * it enforces the legal transition table, guarantees at-most-once execution
 * of mutating requests through the idempotency store, routes all processor
 * calls through the retry orchestrator and circuit breaker, persists
 * transitions with optimistic concurrency, and fans domain events out to the
 * delivery queue and the message broker.
 *
 * Key invariants:
 * - refunded_amount never exceeds amount, including under concurrent refunds
 *   (the optimistic version save serializes writers per payment).
 * - A version mismatch fails ConcurrentModification and is surfaced to the
 *   caller; it is never silently retried internally, which would risk double
 *   submission to the processor.
 * - Every processor call carries a deterministic idempotency token derived
 *   from (payment id, operation, version).
 * - Ambiguous processor outcomes flag the payment for reconciliation and are
 *   never assumed successful or failed.
 *
 * @dependencies
 * - context, errors, fmt, time: Standard Go libraries.
 * - github.com/google/uuid: For payment and event ids.
 * - internal/domain, internal/store, internal/idempotency: Models and stores.
 * - pkg/breaker, pkg/retry, pkg/processorclient, pkg/rabbitmq: Call plumbing.
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/payment-service/internal/domain"
	"github.com/transfa/payment-service/internal/idempotency"
	"github.com/transfa/payment-service/internal/store"
	"github.com/transfa/payment-service/pkg/breaker"
	"github.com/transfa/payment-service/pkg/processorclient"
	"github.com/transfa/payment-service/pkg/rabbitmq"
	"github.com/transfa/payment-service/pkg/retry"
)

// ProcessorDependency is the breaker key for the card processor.
const ProcessorDependency = "processor"

// ProcessorClient is the narrow contract the engine needs from the processor.
type ProcessorClient interface {
	Authorize(ctx context.Context, amount int64, currency, instrumentToken, reference string, capture bool, idempotencyToken string) (*processorclient.Result, error)
	Capture(ctx context.Context, processorTxID string, amount int64, idempotencyToken string) (*processorclient.Result, error)
	Void(ctx context.Context, processorTxID string, idempotencyToken string) (*processorclient.Result, error)
	Refund(ctx context.Context, processorTxID string, amount int64, reason, idempotencyToken string) (*processorclient.Result, error)
	Lookup(ctx context.Context, idempotencyToken string) (*processorclient.Result, error)
}

// Service provides the core business logic for the payment lifecycle.
type Service struct {
	repo        store.Repository
	processor   ProcessorClient
	idem        idempotency.Store
	breakers    *breaker.Registry
	producer    rabbitmq.Publisher
	audit       AuditSink
	retryPolicy retry.Policy

	supportedCurrencies map[string]bool
	maxDeliveryAttempts int
	clock               func() time.Time
}

// NewService creates a new payment lifecycle engine.
func NewService(
	repo store.Repository,
	processor ProcessorClient,
	idem idempotency.Store,
	breakers *breaker.Registry,
	producer rabbitmq.Publisher,
	audit AuditSink,
	currencies []string,
	maxDeliveryAttempts int,
) *Service {
	supported := make(map[string]bool, len(currencies))
	for _, c := range currencies {
		supported[strings.ToUpper(strings.TrimSpace(c))] = true
	}
	if maxDeliveryAttempts <= 0 {
		maxDeliveryAttempts = 5
	}
	return &Service{
		repo:                repo,
		processor:           processor,
		idem:                idem,
		breakers:            breakers,
		producer:            producer,
		audit:               audit,
		retryPolicy:         retry.Standard,
		supportedCurrencies: supported,
		maxDeliveryAttempts: maxDeliveryAttempts,
		clock:               time.Now,
	}
}

// SetRetryPolicy overrides the retry profile used for processor calls.
func (s *Service) SetRetryPolicy(p retry.Policy) { s.retryPolicy = p }

// callProcessor routes one processor call through the circuit breaker and
// the retry orchestrator. The breaker sits inside the retry loop so a trip
// mid-sequence stops further attempts immediately (CircuitOpenError is not
// retryable).
func (s *Service) callProcessor(ctx context.Context, op string, fn func(ctx context.Context) (*processorclient.Result, error)) (*processorclient.Result, error) {
	var result *processorclient.Result
	br := s.breakers.For(ProcessorDependency)
	attempts, err := retry.Do(ctx, s.retryPolicy, op, func(ctx context.Context) error {
		return br.Do(ctx, func(ctx context.Context) error {
			r, callErr := fn(ctx)
			if callErr != nil {
				return callErr
			}
			result = r
			return nil
		})
	})
	if err != nil {
		log.Printf("level=warn component=lifecycle op=%s attempts=%d msg=\"processor call failed\" err=%v", op, attempts, err)
		return nil, err
	}
	if attempts > 1 {
		log.Printf("level=info component=lifecycle op=%s attempts=%d msg=\"processor call succeeded after retry\"", op, attempts)
	}
	return result, nil
}

func scopedKey(caller, key string) string {
	return caller + ":" + key
}

func (s *Service) validateCreate(caller, key string, req domain.CreatePaymentRequest) error {
	if strings.TrimSpace(caller) == "" {
		return &domain.ValidationError{Field: "caller", Reason: "must not be empty"}
	}
	if strings.TrimSpace(key) == "" {
		return &domain.ValidationError{Field: "idempotency_key", Reason: "must not be empty"}
	}
	if req.Amount <= 0 {
		return &domain.ValidationError{Field: "amount", Reason: "must be greater than zero"}
	}
	if !s.supportedCurrencies[strings.ToUpper(req.Currency)] {
		return &domain.ValidationError{Field: "currency", Reason: fmt.Sprintf("%q is not supported", req.Currency)}
	}
	if strings.TrimSpace(req.InstrumentToken) == "" {
		return &domain.ValidationError{Field: "instrument_token", Reason: "must not be empty"}
	}
	return nil
}

// Create is the idempotent entry point of the lifecycle. Identical retries
// (same caller, key, and fingerprint) observe the prior result with zero new
// processor calls; an in-flight duplicate gets a retry-later signal; a key
// reused with a different body is a conflict.
func (s *Service) Create(ctx context.Context, caller, key string, req domain.CreatePaymentRequest) (*domain.Payment, error) {
	if err := s.validateCreate(caller, key, req); err != nil {
		return nil, err
	}

	begin, err := s.idem.Begin(ctx, caller, key, req.Fingerprint())
	if err != nil {
		return nil, fmt.Errorf("idempotency begin failed: %w", err)
	}
	switch begin.State {
	case idempotency.StateCompleted:
		return s.loadPriorResult(ctx, caller, key, begin.Result)
	case idempotency.StateInFlight:
		return nil, domain.ErrRequestInFlight
	case idempotency.StateConflict:
		return nil, domain.ErrIdempotencyConflict
	}

	// The idempotency record may have expired while the payment row survived
	// (bounded-TTL trade-off). The payment's unique key binding is the
	// durable source of truth: return the prior payment, no new side effect.
	if prior, findErr := s.repo.FindPaymentByIdempotencyKey(ctx, scopedKey(caller, key)); findErr == nil {
		_ = s.idem.Complete(ctx, caller, key, []byte(prior.ID.String()))
		return prior, nil
	} else if !errors.Is(findErr, domain.ErrPaymentNotFound) {
		_ = s.idem.Fail(ctx, caller, key)
		return nil, findErr
	}

	// A disconnecting caller must not cancel an in-flight processor call;
	// running to completion avoids ambiguous state and the result is cached
	// for the caller's eventual retry.
	detached := context.WithoutCancel(ctx)

	payment := &domain.Payment{
		ID:                uuid.New(),
		ExternalReference: req.ExternalReference,
		Amount:            req.Amount,
		Currency:          strings.ToUpper(req.Currency),
		Status:            domain.StatusPending,
		IdempotencyKey:    scopedKey(caller, key),
	}
	if err := s.repo.CreatePayment(detached, payment); err != nil {
		_ = s.idem.Fail(detached, caller, key)
		return nil, fmt.Errorf("failed to create payment record: %w", err)
	}

	op := domain.OpAuthorize
	target := domain.StatusAuthorized
	if req.Capture {
		op = domain.OpPurchase
		target = domain.StatusCaptured
	}
	token := payment.ProcessorToken(op)

	result, err := s.callProcessor(detached, string(op), func(ctx context.Context) (*processorclient.Result, error) {
		return s.processor.Authorize(ctx, payment.Amount, payment.Currency, req.InstrumentToken, payment.ID.String(), req.Capture, token)
	})
	if err != nil {
		if domain.IsAmbiguous(err) {
			if markErr := s.markForReconciliation(detached, payment, op, token, nil); markErr != nil {
				log.Printf("level=error component=lifecycle payment_id=%s msg=\"failed to flag reconciliation\" err=%v", payment.ID, markErr)
			}
			// The idempotency record stays in flight: retries get a
			// retry-later signal until reconciliation resolves the outcome.
			return nil, err
		}
		return nil, s.failPayment(detached, payment, op, caller, key, err)
	}

	if result.Outcome == processorclient.OutcomeDeclined {
		declineErr := &domain.TerminalProcessorError{Code: result.DeclineCode, Reason: result.DeclineReason}
		return nil, s.failPayment(detached, payment, op, caller, key, declineErr)
	}

	from := payment.Status
	payment.Status = target
	payment.ProcessorTransactionID = &result.TransactionID
	if err := s.repo.SavePayment(detached, payment, payment.Version); err != nil {
		return nil, fmt.Errorf("failed to persist %s: %w", op, err)
	}
	s.emitTransition(detached, payment, from, op, nil, nil)

	if err := s.idem.Complete(detached, caller, key, []byte(payment.ID.String())); err != nil {
		log.Printf("level=warn component=lifecycle payment_id=%s msg=\"idempotency complete failed\" err=%v", payment.ID, err)
	}
	return payment, nil
}

// loadPriorResult resolves a completed idempotency record to its payment.
func (s *Service) loadPriorResult(ctx context.Context, caller, key string, cached []byte) (*domain.Payment, error) {
	if id, parseErr := uuid.Parse(string(cached)); parseErr == nil {
		if p, err := s.repo.GetPayment(ctx, id); err == nil {
			return p, nil
		}
	}
	return s.repo.FindPaymentByIdempotencyKey(ctx, scopedKey(caller, key))
}

// failPayment finalizes a definitive create failure: the payment moves to
// failed, the key binding and idempotency record are cleared so the same key
// may legitimately retry, and the original error is returned.
func (s *Service) failPayment(ctx context.Context, payment *domain.Payment, op domain.Operation, caller, key string, cause error) error {
	reason := cause.Error()
	from := payment.Status
	payment.Status = domain.StatusFailed
	payment.FailureReason = &reason
	payment.IdempotencyKey = ""
	if err := s.repo.SavePayment(ctx, payment, payment.Version); err != nil {
		log.Printf("level=error component=lifecycle payment_id=%s msg=\"failed to persist failure\" err=%v", payment.ID, err)
	} else {
		s.emitTransition(ctx, payment, from, op, nil, &reason)
	}
	if err := s.idem.Fail(ctx, caller, key); err != nil {
		log.Printf("level=warn component=lifecycle payment_id=%s msg=\"idempotency clear failed\" err=%v", payment.ID, err)
	}
	return cause
}

// markForReconciliation flags an ambiguous outcome for the background sweep.
// The token that was actually sent to the processor is persisted with the
// marker: saving the flag bumps the version, so re-deriving the token later
// would produce a different value than the one in flight.
func (s *Service) markForReconciliation(ctx context.Context, payment *domain.Payment, op domain.Operation, token string, amount *int64) error {
	opStr := string(op)
	payment.NeedsReconciliation = true
	payment.ReconcileOperation = &opStr
	payment.ReconcileToken = &token
	payment.ReconcileAmount = amount
	return s.repo.SavePayment(ctx, payment, payment.Version)
}

// Authorize places the hold for a pending payment. Used when the initial
// create ended unresolved and reconciliation determined the processor never
// saw the request.
func (s *Service) Authorize(ctx context.Context, paymentID uuid.UUID, instrumentToken string) (*domain.Payment, error) {
	if strings.TrimSpace(instrumentToken) == "" {
		return nil, &domain.ValidationError{Field: "instrument_token", Reason: "must not be empty"}
	}
	return s.mutate(ctx, paymentID, domain.OpAuthorize, domain.StatusAuthorized, func(ctx context.Context, p *domain.Payment, token string) (*processorclient.Result, error) {
		return s.processor.Authorize(ctx, p.Amount, p.Currency, instrumentToken, p.ID.String(), false, token)
	}, nil, nil)
}

// Capture captures a previously authorized payment in full.
func (s *Service) Capture(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error) {
	return s.mutate(ctx, paymentID, domain.OpCapture, domain.StatusCaptured, func(ctx context.Context, p *domain.Payment, token string) (*processorclient.Result, error) {
		return s.processor.Capture(ctx, s.processorTxID(p), p.Amount, token)
	}, nil, nil)
}

// Void releases the hold on an authorized payment.
func (s *Service) Void(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error) {
	return s.mutate(ctx, paymentID, domain.OpVoid, domain.StatusVoided, func(ctx context.Context, p *domain.Payment, token string) (*processorclient.Result, error) {
		return s.processor.Void(ctx, s.processorTxID(p), token)
	}, nil, nil)
}

// Refund refunds part or all of a captured or settled payment. A refund that
// exactly consumes the remaining amount lands in refunded; anything less in
// partially_refunded.
func (s *Service) Refund(ctx context.Context, paymentID uuid.UUID, req domain.RefundRequest) (*domain.Payment, error) {
	if req.Amount <= 0 {
		return nil, &domain.ValidationError{Field: "amount", Reason: "must be greater than zero"}
	}

	// The remaining-refundable check and the partial/full target happen inside
	// mutate, against the same read the optimistic save is conditioned on. The
	// target passed here is a placeholder.
	reason := ""
	if req.Reason != nil {
		reason = *req.Reason
	}
	amount := req.Amount
	return s.mutate(ctx, paymentID, domain.OpRefund, domain.StatusRefunded, func(ctx context.Context, p *domain.Payment, token string) (*processorclient.Result, error) {
		return s.processor.Refund(ctx, s.processorTxID(p), amount, reason, token)
	}, &amount, req.Reason)
}

func (s *Service) processorTxID(p *domain.Payment) string {
	if p.ProcessorTransactionID != nil {
		return *p.ProcessorTransactionID
	}
	return ""
}

// mutate implements the shared shape of every post-create operation: load,
// validate the operation against the current state, call the processor under
// retry+breaker with a deterministic token, persist with the expected
// version, append the transition, emit the domain event.
func (s *Service) mutate(
	ctx context.Context,
	paymentID uuid.UUID,
	op domain.Operation,
	target domain.PaymentStatus,
	call func(ctx context.Context, p *domain.Payment, token string) (*processorclient.Result, error),
	amount *int64,
	reason *string,
) (*domain.Payment, error) {
	p, err := s.repo.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if op == domain.OpRefund && amount != nil {
		// Validated against the same read the optimistic save below is
		// conditioned on; a competing refund committed in between fails that
		// save with ErrConcurrentModification instead of overshooting.
		remaining := p.RemainingRefundable()
		if *amount > remaining {
			return nil, &domain.ValidationError{
				Field:  "amount",
				Reason: fmt.Sprintf("refund of %d exceeds remaining refundable %d", *amount, remaining),
			}
		}
		if *amount == remaining {
			target = domain.StatusRefunded
		} else {
			target = domain.StatusPartiallyRefunded
		}
	}
	if !domain.CanRequest(op, p.Status) {
		return nil, &domain.InvalidStateTransitionError{From: p.Status, Requested: target}
	}
	if !domain.CanTransition(p.Status, target) {
		return nil, &domain.InvalidStateTransitionError{From: p.Status, Requested: target}
	}

	token := p.ProcessorToken(op)
	detached := context.WithoutCancel(ctx)

	result, err := s.callProcessor(detached, string(op), func(ctx context.Context) (*processorclient.Result, error) {
		return call(ctx, p, token)
	})
	if err != nil {
		if domain.IsAmbiguous(err) {
			if markErr := s.markForReconciliation(detached, p, op, token, amount); markErr != nil {
				log.Printf("level=error component=lifecycle payment_id=%s msg=\"failed to flag reconciliation\" err=%v", p.ID, markErr)
			}
		}
		return nil, err
	}
	if result.Outcome == processorclient.OutcomeDeclined {
		// The processor answered definitively; the payment keeps its state
		// and the decline surfaces to the caller.
		return nil, &domain.TerminalProcessorError{Code: result.DeclineCode, Reason: result.DeclineReason}
	}

	from := p.Status
	p.Status = target
	if result.TransactionID != "" {
		p.ProcessorTransactionID = &result.TransactionID
	}
	if op == domain.OpRefund && amount != nil {
		p.RefundedAmount += *amount
	}
	if err := s.repo.SavePayment(detached, p, p.Version); err != nil {
		// ConcurrentModification surfaces as-is: the caller re-reads and
		// retries at the application layer.
		return nil, err
	}
	s.emitTransition(detached, p, from, op, amount, reason)
	return p, nil
}

// ApplyObservedTransition applies a state change the processor already
// executed, observed through a webhook event or a reconciliation lookup. No
// processor call is made. Concurrent writers are absorbed with a bounded
// re-read: the observed fact does not change, so re-applying it against the
// fresh version is safe.
func (s *Service) ApplyObservedTransition(ctx context.Context, paymentID uuid.UUID, target domain.PaymentStatus, op domain.Operation, processorTxID string, amount *int64, reason *string) (*domain.Payment, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		p, err := s.repo.GetPayment(ctx, paymentID)
		if err != nil {
			return nil, err
		}
		if p.Status == target && target != domain.StatusPartiallyRefunded {
			// Already applied, likely by a racing delivery of the same fact.
			return p, nil
		}
		if !domain.CanTransition(p.Status, target) {
			return nil, &domain.InvalidStateTransitionError{From: p.Status, Requested: target}
		}

		from := p.Status
		boundKey := p.IdempotencyKey
		p.Status = target
		if processorTxID != "" {
			p.ProcessorTransactionID = &processorTxID
		}
		if target == domain.StatusFailed {
			p.FailureReason = reason
			p.IdempotencyKey = ""
		}
		if op == domain.OpRefund {
			if amount != nil {
				p.RefundedAmount += *amount
				if p.RefundedAmount > p.Amount {
					// Observed amounts are external input; never let a
					// misreported refund push the total past the charge.
					p.RefundedAmount = p.Amount
				}
			} else if target == domain.StatusRefunded {
				p.RefundedAmount = p.Amount
			}
		}
		wasReconciling := p.NeedsReconciliation
		p.NeedsReconciliation = false
		p.ReconcileOperation = nil
		p.ReconcileToken = nil
		p.ReconcileAmount = nil

		if err := s.repo.SavePayment(ctx, p, p.Version); err != nil {
			if errors.Is(err, domain.ErrConcurrentModification) {
				lastErr = err
				continue
			}
			return nil, err
		}
		if wasReconciling {
			s.resolveIdempotencyRecord(ctx, p, boundKey, target)
		}
		s.emitTransition(ctx, p, from, op, amount, reason)
		return p, nil
	}
	return nil, lastErr
}

// resolveIdempotencyRecord settles the idempotency record of a payment whose
// create was left unresolved, so future retries of the original key observe
// the final outcome instead of a retry-later signal.
func (s *Service) resolveIdempotencyRecord(ctx context.Context, p *domain.Payment, boundKey string, target domain.PaymentStatus) {
	caller, key, ok := strings.Cut(boundKey, ":")
	if !ok {
		return
	}
	var err error
	if target == domain.StatusFailed {
		err = s.idem.Fail(ctx, caller, key)
	} else {
		err = s.idem.Complete(ctx, caller, key, []byte(p.ID.String()))
	}
	if err != nil {
		log.Printf("level=warn component=lifecycle payment_id=%s msg=\"idempotency resolution failed\" err=%v", p.ID, err)
	}
}

// GetPayment returns a payment with its current version.
func (s *Service) GetPayment(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error) {
	return s.repo.GetPayment(ctx, paymentID)
}

// GetPaymentHistory returns a payment with its transition history.
func (s *Service) GetPaymentHistory(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, []domain.PaymentTransition, error) {
	p, err := s.repo.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, nil, err
	}
	history, err := s.repo.ListTransitions(ctx, paymentID)
	if err != nil {
		return nil, nil, err
	}
	return p, history, nil
}

// eventTypeFor maps a persisted status to the emitted domain event type.
func eventTypeFor(status domain.PaymentStatus) (domain.DomainEventType, bool) {
	switch status {
	case domain.StatusAuthorized:
		return domain.EventPaymentAuthorized, true
	case domain.StatusCaptured:
		return domain.EventPaymentCaptured, true
	case domain.StatusSettled:
		return domain.EventPaymentSettled, true
	case domain.StatusPartiallyRefunded:
		return domain.EventPaymentPartRefund, true
	case domain.StatusRefunded:
		return domain.EventPaymentRefunded, true
	case domain.StatusVoided:
		return domain.EventPaymentVoided, true
	case domain.StatusFailed:
		return domain.EventPaymentFailed, true
	}
	return "", false
}

// notificationPriorityFor ranks event classes for the delivery queue. Money
// leaving the platform outranks routine lifecycle chatter.
func notificationPriorityFor(t domain.DomainEventType) int {
	switch t {
	case domain.EventPaymentRefunded, domain.EventPaymentPartRefund, domain.EventPaymentFailed:
		return 1
	default:
		return 0
	}
}

// emitTransition appends the transition record and fans the domain event out:
// one outbound notification per active subscriber plus a broker publish and
// an audit record. Emission failures are logged, never propagated: the
// transition is already persisted and delivery is retried by the dispatcher.
func (s *Service) emitTransition(ctx context.Context, p *domain.Payment, from domain.PaymentStatus, op domain.Operation, amount *int64, reason *string) {
	now := s.clock().UTC()
	transition := &domain.PaymentTransition{
		PaymentID:  p.ID,
		FromStatus: from,
		ToStatus:   p.Status,
		Operation:  op,
		Amount:     amount,
		Reason:     reason,
		OccurredAt: now,
	}
	if err := s.repo.AppendTransition(ctx, transition); err != nil {
		log.Printf("level=error component=lifecycle payment_id=%s msg=\"transition append failed\" err=%v", p.ID, err)
	}

	eventType, ok := eventTypeFor(p.Status)
	if !ok {
		return
	}
	event := domain.DomainEvent{
		EventID:    uuid.New(),
		Type:       eventType,
		PaymentID:  p.ID,
		Status:     p.Status,
		Amount:     p.Amount,
		Currency:   p.Currency,
		Refunded:   p.RefundedAmount,
		Version:    p.Version,
		OccurredAt: now,
	}

	if err := s.enqueueForSubscribers(ctx, event); err != nil {
		log.Printf("level=error component=lifecycle payment_id=%s msg=\"notification enqueue failed\" err=%v", p.ID, err)
	}
	if s.producer != nil {
		if err := s.producer.PublishDomainEvent(ctx, event); err != nil {
			log.Printf("level=warn component=lifecycle payment_id=%s msg=\"domain event publish failed\" type=%s err=%v", p.ID, eventType, err)
		}
	}
	if s.audit != nil {
		s.audit.Record(domain.AuditEvent{
			Kind:      "payment.transition",
			PaymentID: &p.ID,
			Reference: event.EventID.String(),
			Detail:    fmt.Sprintf("%s -> %s via %s", from, p.Status, op),
		})
	}
}

// enqueueForSubscribers creates one pending delivery per active subscriber.
func (s *Service) enqueueForSubscribers(ctx context.Context, event domain.DomainEvent) error {
	subscribers, err := s.repo.ListActiveSubscribers(ctx)
	if err != nil {
		return fmt.Errorf("subscriber list failed: %w", err)
	}
	if len(subscribers) == 0 {
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("event marshal failed: %w", err)
	}

	now := s.clock().UTC()
	items := make([]domain.OutboundNotification, 0, len(subscribers))
	for _, sub := range subscribers {
		items = append(items, domain.OutboundNotification{
			ID:             uuid.New(),
			EventID:        event.EventID,
			EventType:      event.Type,
			Payload:        payload,
			TargetEndpoint: sub.Endpoint,
			Priority:       notificationPriorityFor(event.Type),
			AttemptCount:   0,
			MaxAttempts:    s.maxDeliveryAttempts,
			NextAttemptAt:  now,
			Status:         domain.NotificationPending,
		})
	}
	return s.repo.EnqueueNotifications(ctx, items)
}
