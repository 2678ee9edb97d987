/**
 * @description
 * This file contains the outbound notification dispatcher. A scheduled sweep
 * pulls due notifications from the delivery queue and hands them to a small
 * worker pool. Each delivery is a signed HTTP POST to the subscriber
 * endpoint; failures walk a fixed backoff schedule until the attempt budget
 * is exhausted, at which point the notification lands in the dead-letter set
 * for operator replay. A per-target circuit breaker defers deliveries to an
 * unhealthy endpoint without consuming attempts.
 *
 * @dependencies
 * - net/http, net/url: Delivery transport.
 * - crypto/hmac, crypto/sha256: Outbound payload signing.
 * - pkg/breaker: Per-endpoint circuit breakers.
 */

package app

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/payment-service/internal/domain"
	"github.com/transfa/payment-service/internal/store"
	"github.com/transfa/payment-service/pkg/breaker"
)

// DefaultBackoffSchedule is the delay before attempt n+1, in order. The last
// entry repeats for any further attempts.
var DefaultBackoffSchedule = []time.Duration{
	5 * time.Minute,
	10 * time.Minute,
	20 * time.Minute,
	40 * time.Minute,
	80 * time.Minute,
}

// Dispatcher drains the outbound notification queue.
type Dispatcher struct {
	repo     store.Repository
	breakers *breaker.Registry
	audit    AuditSink
	client   *http.Client

	workers   int
	batchSize int
	schedule  []time.Duration
	secrets   map[string]string // endpoint -> signing secret
	secretsMu sync.RWMutex
	clock     func() time.Time
}

// NewDispatcher creates the delivery worker pool around the repository queue.
func NewDispatcher(repo store.Repository, breakers *breaker.Registry, audit AuditSink, workers int, timeout time.Duration, schedule []time.Duration) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if len(schedule) == 0 {
		schedule = DefaultBackoffSchedule
	}
	return &Dispatcher{
		repo:      repo,
		breakers:  breakers,
		audit:     audit,
		client:    &http.Client{Timeout: timeout},
		workers:   workers,
		batchSize: 100,
		schedule:  schedule,
		secrets:   make(map[string]string),
		clock:     time.Now,
	}
}

// RefreshSubscribers reloads endpoint signing secrets from the registry.
// Called on startup and periodically from the scheduler.
func (d *Dispatcher) RefreshSubscribers(ctx context.Context) error {
	subscribers, err := d.repo.ListActiveSubscribers(ctx)
	if err != nil {
		return fmt.Errorf("failed to load subscribers: %w", err)
	}
	fresh := make(map[string]string, len(subscribers))
	for _, s := range subscribers {
		fresh[s.Endpoint] = s.Secret
	}
	d.secretsMu.Lock()
	d.secrets = fresh
	d.secretsMu.Unlock()
	return nil
}

// Sweep pulls one batch of due notifications and delivers them through the
// worker pool. It is safe to run from a scheduler tick; overlapping sweeps
// contend only on the queue rows.
func (d *Dispatcher) Sweep(ctx context.Context) {
	now := d.clock().UTC()
	due, err := d.repo.DueNotifications(ctx, now, d.batchSize)
	if err != nil {
		log.Printf("level=error component=dispatcher msg=\"failed to fetch due notifications\" err=%v", err)
		return
	}
	if len(due) == 0 {
		return
	}
	log.Printf("level=info component=dispatcher due=%d msg=\"delivery sweep started\"", len(due))

	jobs := make(chan domain.OutboundNotification)
	var wg sync.WaitGroup
	for w := 0; w < d.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := range jobs {
				d.deliver(ctx, n)
			}
		}()
	}
	for _, n := range due {
		jobs <- n
	}
	close(jobs)
	wg.Wait()
}

// targetKey derives the breaker key for an endpoint. Breakers are per host,
// so one sick subscriber does not starve deliveries to healthy ones.
func targetKey(endpoint string) string {
	if u, err := url.Parse(endpoint); err == nil && u.Host != "" {
		return "webhook:" + u.Host
	}
	return "webhook:" + endpoint
}

func (d *Dispatcher) deliver(ctx context.Context, n domain.OutboundNotification) {
	br := d.breakers.For(targetKey(n.TargetEndpoint))
	err := br.Do(ctx, func(ctx context.Context) error {
		return d.post(ctx, n)
	})
	now := d.clock().UTC()

	var open *domain.CircuitOpenError
	switch {
	case err == nil:
		if markErr := d.repo.MarkNotificationDelivered(ctx, n.ID); markErr != nil {
			log.Printf("level=error component=dispatcher notification_id=%s msg=\"failed to mark delivered\" err=%v", n.ID, markErr)
		}
		d.recordAttempt(n, "delivered", "")
	case errors.As(err, &open):
		// Breaker open: push forward without consuming an attempt.
		if deferErr := d.repo.DeferNotification(ctx, n.ID, now.Add(open.RetryAfter)); deferErr != nil {
			log.Printf("level=error component=dispatcher notification_id=%s msg=\"failed to defer\" err=%v", n.ID, deferErr)
		}
	default:
		d.handleFailure(ctx, n, now, err)
	}
}

func (d *Dispatcher) handleFailure(ctx context.Context, n domain.OutboundNotification, now time.Time, cause error) {
	attempt := n.AttemptCount + 1
	if attempt >= n.MaxAttempts {
		if err := d.repo.MarkNotificationExhausted(ctx, n.ID, cause.Error()); err != nil {
			log.Printf("level=error component=dispatcher notification_id=%s msg=\"failed to mark exhausted\" err=%v", n.ID, err)
			return
		}
		log.Printf("level=warn component=dispatcher notification_id=%s endpoint=%s attempts=%d msg=\"delivery exhausted\" err=%v", n.ID, n.TargetEndpoint, attempt, cause)
		d.recordAttempt(n, "exhausted", cause.Error())
		return
	}

	idx := attempt - 1
	if idx >= len(d.schedule) {
		idx = len(d.schedule) - 1
	}
	next := now.Add(d.schedule[idx])
	if err := d.repo.RescheduleNotification(ctx, n.ID, attempt, next, cause.Error()); err != nil {
		log.Printf("level=error component=dispatcher notification_id=%s msg=\"failed to reschedule\" err=%v", n.ID, err)
		return
	}
	log.Printf("level=info component=dispatcher notification_id=%s attempt=%d next=%s msg=\"delivery rescheduled\" err=%v", n.ID, attempt, next.Format(time.RFC3339), cause)
}

// post performs one signed delivery attempt. Any non-2xx response is a
// failure.
func (d *Dispatcher) post(ctx context.Context, n domain.OutboundNotification) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.TargetEndpoint, bytes.NewReader(n.Payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Id", n.EventID.String())
	req.Header.Set("X-Event-Type", string(n.EventType))
	if sig := d.sign(n.TargetEndpoint, n.Payload); sig != "" {
		req.Header.Set("X-Payment-Signature", sig)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("delivery request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// sign computes the hex HMAC-SHA256 of the payload with the endpoint's
// subscriber secret.
func (d *Dispatcher) sign(endpoint string, payload []byte) string {
	d.secretsMu.RLock()
	secret, ok := d.secrets[endpoint]
	d.secretsMu.RUnlock()
	if !ok || secret == "" {
		return ""
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func (d *Dispatcher) recordAttempt(n domain.OutboundNotification, outcome, detail string) {
	if d.audit == nil {
		return
	}
	d.audit.Record(domain.AuditEvent{
		Kind:      "delivery." + outcome,
		Reference: n.ID.String(),
		Detail:    fmt.Sprintf("event %s to %s: %s", n.EventID, n.TargetEndpoint, detail),
	})
}

// RequeueExhausted is the operator replay of a dead-lettered notification.
// The attempt budget resets and the notification becomes due immediately.
func (d *Dispatcher) RequeueExhausted(ctx context.Context, id uuid.UUID, operator string) error {
	if err := d.repo.RequeueNotification(ctx, id, d.clock().UTC()); err != nil {
		return err
	}
	if d.audit != nil {
		d.audit.Record(domain.AuditEvent{
			Kind:      "delivery.requeue",
			Reference: operator,
			Detail:    fmt.Sprintf("requeued notification %s", id),
		})
	}
	return nil
}
