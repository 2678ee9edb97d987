/**
 * @description
 * This file contains the internal operator endpoints: dead-letter inspection
 * and replay for exhausted notifications, stored webhook event replay, and
 * circuit breaker state. These routes sit behind the internal API key, not
 * the client JWT.
 */

package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/transfa/payment-service/internal/domain"
	"github.com/transfa/payment-service/pkg/breaker"
)

// opsRepository is the slice of the repository the operator surface needs.
type opsRepository interface {
	ListExhaustedNotifications(ctx context.Context, limit int) ([]domain.OutboundNotification, error)
	GetNotification(ctx context.Context, id uuid.UUID) (*domain.OutboundNotification, error)
	GetWebhookEvent(ctx context.Context, eventID string) (*domain.WebhookEvent, error)
}

// breakerInspector exposes breaker state for the status endpoint.
type breakerInspector interface {
	Snapshot() []breaker.Status
}

// operatorFrom labels audit records with the acting operator.
func operatorFrom(r *http.Request) string {
	if op := r.Header.Get("X-Operator"); op != "" {
		return op
	}
	return "internal"
}

// ListExhaustedNotificationsHandler handles GET /internal/notifications/exhausted.
func (h *PaymentHandlers) ListExhaustedNotificationsHandler(w http.ResponseWriter, r *http.Request) {
	items, err := h.repo.ListExhaustedNotifications(r.Context(), 100)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"notifications": items})
}

// RequeueNotificationHandler handles POST /internal/notifications/{notificationID}/requeue.
func (h *PaymentHandlers) RequeueNotificationHandler(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "notificationID"))
	if err != nil {
		http.Error(w, "invalid notification id", http.StatusBadRequest)
		return
	}
	if err := h.dispatcher.RequeueExhausted(r.Context(), id, operatorFrom(r)); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// GetNotificationHandler handles GET /internal/notifications/{notificationID}.
func (h *PaymentHandlers) GetNotificationHandler(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "notificationID"))
	if err != nil {
		http.Error(w, "invalid notification id", http.StatusBadRequest)
		return
	}
	notification, err := h.repo.GetNotification(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, notification)
}

// ReplayWebhookEventHandler handles POST /internal/webhook-events/{eventID}/replay.
func (h *PaymentHandlers) ReplayWebhookEventHandler(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	if eventID == "" {
		http.Error(w, "event id is required", http.StatusBadRequest)
		return
	}
	if err := h.ingestor.Replay(r.Context(), eventID, operatorFrom(r)); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// GetWebhookEventHandler handles GET /internal/webhook-events/{eventID}.
func (h *PaymentHandlers) GetWebhookEventHandler(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	event, err := h.repo.GetWebhookEvent(r.Context(), eventID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, event)
}

// BreakerStatusHandler handles GET /internal/breakers.
func (h *PaymentHandlers) BreakerStatusHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]any{"breakers": h.breakers.Snapshot()})
}
