/**
 * @description
 * This file contains the HTTP handlers for the payment-service's client API.
 * Handlers are responsible for parsing incoming requests, calling the
 * appropriate methods on the lifecycle engine, and mapping domain errors to
 * HTTP status codes. They act as the bridge between the web layer and the
 * business logic layer.
 *
 * @dependencies
 * - encoding/json, net/http: Standard Go libraries.
 * - github.com/go-chi/chi/v5: URL parameter extraction.
 * - internal/app, internal/domain: Service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/transfa/payment-service/internal/app"
	"github.com/transfa/payment-service/internal/domain"
)

// PaymentHandlers holds the application services that handlers will use.
type PaymentHandlers struct {
	service    *app.Service
	ingestor   *app.Ingestor
	dispatcher *app.Dispatcher
	repo       opsRepository
	breakers   breakerInspector
}

// NewPaymentHandlers wires the handler set to its services.
func NewPaymentHandlers(service *app.Service, ingestor *app.Ingestor, dispatcher *app.Dispatcher, repo opsRepository, breakers breakerInspector) *PaymentHandlers {
	return &PaymentHandlers{
		service:    service,
		ingestor:   ingestor,
		dispatcher: dispatcher,
		repo:       repo,
		breakers:   breakers,
	}
}

func respondWithJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("level=error component=api msg=\"failed to encode response\" err=%v", err)
	}
}

// writeDomainError maps the error taxonomy to HTTP responses. The mapping is
// the single place where transport status codes are decided.
func writeDomainError(w http.ResponseWriter, err error) {
	var validation *domain.ValidationError
	var invalid *domain.InvalidStateTransitionError
	var terminal *domain.TerminalProcessorError
	var ambiguous *domain.AmbiguousProcessorError
	var retryable *domain.RetryableProcessorError
	var open *domain.CircuitOpenError

	switch {
	case errors.As(err, &validation):
		http.Error(w, validation.Error(), http.StatusBadRequest)
	case errors.As(err, &invalid):
		http.Error(w, invalid.Error(), http.StatusConflict)
	case errors.Is(err, domain.ErrConcurrentModification):
		http.Error(w, "payment was modified concurrently, re-read and retry", http.StatusConflict)
	case errors.Is(err, domain.ErrRequestInFlight):
		w.Header().Set("Retry-After", "2")
		http.Error(w, "an identical request is already in flight", http.StatusConflict)
	case errors.Is(err, domain.ErrIdempotencyConflict):
		http.Error(w, "idempotency key was already used with a different request body", http.StatusUnprocessableEntity)
	case errors.Is(err, domain.ErrPaymentNotFound), errors.Is(err, domain.ErrNotificationNotFound), errors.Is(err, domain.ErrEventNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.As(err, &terminal):
		http.Error(w, terminal.Error(), http.StatusPaymentRequired)
	case errors.As(err, &open):
		w.Header().Set("Retry-After", strconv.Itoa(int(open.RetryAfter.Seconds())+1))
		http.Error(w, open.Error(), http.StatusServiceUnavailable)
	case errors.As(err, &ambiguous):
		// The outcome is unresolved; reconciliation will settle it. The
		// caller retries the same key later to learn the result.
		w.Header().Set("Retry-After", "30")
		http.Error(w, "payment outcome is pending confirmation, retry with the same idempotency key", http.StatusAccepted)
	case errors.As(err, &retryable):
		http.Error(w, "payment processor is unavailable, retry later", http.StatusBadGateway)
	default:
		log.Printf("level=error component=api msg=\"unhandled error\" err=%v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

func paymentIDParam(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "paymentID"))
}

// CreatePaymentHandler handles POST /payments. The Idempotency-Key header is
// required; the authenticated caller scopes the key.
func (h *PaymentHandlers) CreatePaymentHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := GetClerkUserID(r.Context())
	if !ok {
		http.Error(w, "could not get caller identity from context", http.StatusInternalServerError)
		return
	}
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key == "" {
		http.Error(w, "Idempotency-Key header is required", http.StatusBadRequest)
		return
	}

	var req domain.CreatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	payment, err := h.service.Create(r.Context(), caller, key, req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, payment)
}

// AuthorizePaymentHandler handles POST /payments/{paymentID}/authorize.
func (h *PaymentHandlers) AuthorizePaymentHandler(w http.ResponseWriter, r *http.Request) {
	id, err := paymentIDParam(r)
	if err != nil {
		http.Error(w, "invalid payment id", http.StatusBadRequest)
		return
	}
	var req struct {
		InstrumentToken string `json:"instrument_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	payment, err := h.service.Authorize(r.Context(), id, req.InstrumentToken)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, payment)
}

// CapturePaymentHandler handles POST /payments/{paymentID}/capture.
func (h *PaymentHandlers) CapturePaymentHandler(w http.ResponseWriter, r *http.Request) {
	id, err := paymentIDParam(r)
	if err != nil {
		http.Error(w, "invalid payment id", http.StatusBadRequest)
		return
	}
	payment, err := h.service.Capture(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, payment)
}

// VoidPaymentHandler handles POST /payments/{paymentID}/void.
func (h *PaymentHandlers) VoidPaymentHandler(w http.ResponseWriter, r *http.Request) {
	id, err := paymentIDParam(r)
	if err != nil {
		http.Error(w, "invalid payment id", http.StatusBadRequest)
		return
	}
	payment, err := h.service.Void(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, payment)
}

// RefundPaymentHandler handles POST /payments/{paymentID}/refund.
func (h *PaymentHandlers) RefundPaymentHandler(w http.ResponseWriter, r *http.Request) {
	id, err := paymentIDParam(r)
	if err != nil {
		http.Error(w, "invalid payment id", http.StatusBadRequest)
		return
	}
	var req domain.RefundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	payment, err := h.service.Refund(r.Context(), id, req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, payment)
}

// GetPaymentHandler handles GET /payments/{paymentID}.
func (h *PaymentHandlers) GetPaymentHandler(w http.ResponseWriter, r *http.Request) {
	id, err := paymentIDParam(r)
	if err != nil {
		http.Error(w, "invalid payment id", http.StatusBadRequest)
		return
	}
	payment, err := h.service.GetPayment(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, payment)
}

// GetPaymentHistoryHandler handles GET /payments/{paymentID}/transitions.
func (h *PaymentHandlers) GetPaymentHistoryHandler(w http.ResponseWriter, r *http.Request) {
	id, err := paymentIDParam(r)
	if err != nil {
		http.Error(w, "invalid payment id", http.StatusBadRequest)
		return
	}
	payment, history, err := h.service.GetPaymentHistory(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{
		"payment":     payment,
		"transitions": history,
	})
}
