package app

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/payment-service/internal/domain"
	"github.com/transfa/payment-service/pkg/processorclient"
)

// repoStub is an in-memory store.Repository with database semantics close
// enough for engine tests: version checks on save, copies on read, dedup on
// webhook event ids.
type repoStub struct {
	mu            sync.Mutex
	payments      map[uuid.UUID]*domain.Payment
	transitions   map[uuid.UUID][]domain.PaymentTransition
	events        map[string]*domain.WebhookEvent
	notifications map[uuid.UUID]*domain.OutboundNotification
	subscribers   []domain.Subscriber
	audits        []domain.AuditEvent
}

func newRepoStub() *repoStub {
	return &repoStub{
		payments:      make(map[uuid.UUID]*domain.Payment),
		transitions:   make(map[uuid.UUID][]domain.PaymentTransition),
		events:        make(map[string]*domain.WebhookEvent),
		notifications: make(map[uuid.UUID]*domain.OutboundNotification),
	}
}

func clonePayment(p *domain.Payment) *domain.Payment {
	cp := *p
	return &cp
}

func (r *repoStub) CreatePayment(ctx context.Context, p *domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.Version = 1
	p.CreatedAt = time.Now().UTC()
	p.UpdatedAt = p.CreatedAt
	r.payments[p.ID] = clonePayment(p)
	return nil
}

func (r *repoStub) GetPayment(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok {
		return nil, domain.ErrPaymentNotFound
	}
	return clonePayment(p), nil
}

func (r *repoStub) FindPaymentByIdempotencyKey(ctx context.Context, key string) (*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if key == "" {
		return nil, domain.ErrPaymentNotFound
	}
	for _, p := range r.payments {
		if p.IdempotencyKey == key {
			return clonePayment(p), nil
		}
	}
	return nil, domain.ErrPaymentNotFound
}

func (r *repoStub) SavePayment(ctx context.Context, p *domain.Payment, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.payments[p.ID]
	if !ok {
		return domain.ErrPaymentNotFound
	}
	if current.Version != expectedVersion {
		return domain.ErrConcurrentModification
	}
	p.Version = expectedVersion + 1
	p.UpdatedAt = time.Now().UTC()
	r.payments[p.ID] = clonePayment(p)
	return nil
}

func (r *repoStub) AppendTransition(ctx context.Context, t *domain.PaymentTransition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t.Sequence = int64(len(r.transitions[t.PaymentID])) + 1
	r.transitions[t.PaymentID] = append(r.transitions[t.PaymentID], *t)
	return nil
}

func (r *repoStub) ListTransitions(ctx context.Context, paymentID uuid.UUID) ([]domain.PaymentTransition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.PaymentTransition(nil), r.transitions[paymentID]...), nil
}

func (r *repoStub) ListPaymentsNeedingReconciliation(ctx context.Context, limit int) ([]domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Payment
	for _, p := range r.payments {
		if p.NeedsReconciliation {
			out = append(out, *clonePayment(p))
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *repoStub) RecordWebhookEvent(ctx context.Context, ev *domain.WebhookEvent) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.events[ev.EventID]; ok {
		return false, nil
	}
	cp := *ev
	r.events[ev.EventID] = &cp
	return true, nil
}

func (r *repoStub) GetWebhookEvent(ctx context.Context, eventID string) (*domain.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev, ok := r.events[eventID]
	if !ok {
		return nil, domain.ErrEventNotFound
	}
	cp := *ev
	return &cp, nil
}

func (r *repoStub) MarkWebhookEventProcessed(ctx context.Context, eventID, dedupStatus string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev, ok := r.events[eventID]
	if !ok {
		return domain.ErrEventNotFound
	}
	now := time.Now().UTC()
	ev.DedupStatus = dedupStatus
	ev.ProcessedAt = &now
	return nil
}

func (r *repoStub) EnqueueNotifications(ctx context.Context, items []domain.OutboundNotification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range items {
		cp := n
		r.notifications[n.ID] = &cp
	}
	return nil
}

func (r *repoStub) DueNotifications(ctx context.Context, now time.Time, limit int) ([]domain.OutboundNotification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []domain.OutboundNotification
	for _, n := range r.notifications {
		if n.Status == domain.NotificationPending && !n.NextAttemptAt.After(now) {
			due = append(due, *n)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].Priority != due[j].Priority {
			return due[i].Priority > due[j].Priority
		}
		return due[i].NextAttemptAt.Before(due[j].NextAttemptAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r *repoStub) MarkNotificationDelivered(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.notifications[id]
	if !ok {
		return domain.ErrNotificationNotFound
	}
	n.Status = domain.NotificationDelivered
	return nil
}

func (r *repoStub) RescheduleNotification(ctx context.Context, id uuid.UUID, attemptCount int, nextAttemptAt time.Time, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.notifications[id]
	if !ok {
		return domain.ErrNotificationNotFound
	}
	n.AttemptCount = attemptCount
	n.NextAttemptAt = nextAttemptAt
	n.LastError = &lastError
	return nil
}

func (r *repoStub) DeferNotification(ctx context.Context, id uuid.UUID, nextAttemptAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.notifications[id]
	if !ok {
		return domain.ErrNotificationNotFound
	}
	n.NextAttemptAt = nextAttemptAt
	return nil
}

func (r *repoStub) MarkNotificationExhausted(ctx context.Context, id uuid.UUID, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.notifications[id]
	if !ok {
		return domain.ErrNotificationNotFound
	}
	n.AttemptCount++
	n.Status = domain.NotificationExhausted
	n.LastError = &lastError
	return nil
}

func (r *repoStub) ListExhaustedNotifications(ctx context.Context, limit int) ([]domain.OutboundNotification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.OutboundNotification
	for _, n := range r.notifications {
		if n.Status == domain.NotificationExhausted {
			out = append(out, *n)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *repoStub) GetNotification(ctx context.Context, id uuid.UUID) (*domain.OutboundNotification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.notifications[id]
	if !ok {
		return nil, domain.ErrNotificationNotFound
	}
	cp := *n
	return &cp, nil
}

func (r *repoStub) RequeueNotification(ctx context.Context, id uuid.UUID, nextAttemptAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.notifications[id]
	if !ok || n.Status != domain.NotificationExhausted {
		return domain.ErrNotificationNotFound
	}
	n.Status = domain.NotificationPending
	n.AttemptCount = 0
	n.NextAttemptAt = nextAttemptAt
	return nil
}

func (r *repoStub) EnsureSubscriber(ctx context.Context, endpoint, secret string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.subscribers {
		if r.subscribers[i].Endpoint == endpoint {
			r.subscribers[i].Secret = secret
			return nil
		}
	}
	r.subscribers = append(r.subscribers, domain.Subscriber{
		ID:       uuid.New(),
		Endpoint: endpoint,
		Secret:   secret,
		Active:   true,
	})
	return nil
}

func (r *repoStub) ListActiveSubscribers(ctx context.Context) ([]domain.Subscriber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Subscriber
	for _, s := range r.subscribers {
		if s.Active {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *repoStub) InsertAuditEvent(ctx context.Context, ev domain.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audits = append(r.audits, ev)
	return nil
}

func (r *repoStub) pendingNotifications() []domain.OutboundNotification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.OutboundNotification
	for _, n := range r.notifications {
		if n.Status == domain.NotificationPending {
			out = append(out, *n)
		}
	}
	return out
}

// processorStub scripts processor outcomes per operation and counts calls.
type processorStub struct {
	mu    sync.Mutex
	calls map[string]int

	authorizeResults []stubResult
	captureResults   []stubResult
	voidResults      []stubResult
	refundResults    []stubResult
	lookupResults    []stubResult
}

type stubResult struct {
	result *processorclient.Result
	err    error
}

func approved(txID string) stubResult {
	return stubResult{result: &processorclient.Result{Outcome: processorclient.OutcomeApproved, TransactionID: txID, Status: "approved"}}
}

func declined(code, reason string) stubResult {
	return stubResult{result: &processorclient.Result{Outcome: processorclient.OutcomeDeclined, DeclineCode: code, DeclineReason: reason}}
}

func failing(err error) stubResult {
	return stubResult{err: err}
}

func newProcessorStub() *processorStub {
	return &processorStub{calls: make(map[string]int)}
}

func (p *processorStub) next(op string, queue *[]stubResult) (*processorclient.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[op]++
	if len(*queue) == 0 {
		return &processorclient.Result{Outcome: processorclient.OutcomeApproved, TransactionID: "tx-" + op, Status: "approved"}, nil
	}
	head := (*queue)[0]
	*queue = (*queue)[1:]
	if head.err != nil {
		return nil, head.err
	}
	return head.result, nil
}

func (p *processorStub) callCount(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[op]
}

func (p *processorStub) Authorize(ctx context.Context, amount int64, currency, instrumentToken, reference string, capture bool, idempotencyToken string) (*processorclient.Result, error) {
	return p.next("authorize", &p.authorizeResults)
}

func (p *processorStub) Capture(ctx context.Context, processorTxID string, amount int64, idempotencyToken string) (*processorclient.Result, error) {
	return p.next("capture", &p.captureResults)
}

func (p *processorStub) Void(ctx context.Context, processorTxID string, idempotencyToken string) (*processorclient.Result, error) {
	return p.next("void", &p.voidResults)
}

func (p *processorStub) Refund(ctx context.Context, processorTxID string, amount int64, reason, idempotencyToken string) (*processorclient.Result, error) {
	return p.next("refund", &p.refundResults)
}

func (p *processorStub) Lookup(ctx context.Context, idempotencyToken string) (*processorclient.Result, error) {
	return p.next("lookup", &p.lookupResults)
}
