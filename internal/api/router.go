/**
 * @description
 * This file sets up the HTTP router for the payment-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// PaymentRoutes creates and returns a new router for the payment service.
func PaymentRoutes(h *PaymentHandlers, jwksURL, internalAPIKey string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Processor webhook receiver; authenticated by HMAC signature, not JWT.
	r.Post("/webhooks/processor", h.ProcessorWebhookHandler)

	// Group routes that require client authentication.
	r.Group(func(r chi.Router) {
		r.Use(ClerkAuthMiddleware(jwksURL))

		r.Post("/payments", h.CreatePaymentHandler)
		r.Get("/payments/{paymentID}", h.GetPaymentHandler)
		r.Get("/payments/{paymentID}/transitions", h.GetPaymentHistoryHandler)
		r.Post("/payments/{paymentID}/authorize", h.AuthorizePaymentHandler)
		r.Post("/payments/{paymentID}/capture", h.CapturePaymentHandler)
		r.Post("/payments/{paymentID}/void", h.VoidPaymentHandler)
		r.Post("/payments/{paymentID}/refund", h.RefundPaymentHandler)
	})

	// Operator surface behind the internal service key.
	r.Group(func(r chi.Router) {
		r.Use(InternalAuthMiddleware(internalAPIKey))

		r.Get("/internal/notifications/exhausted", h.ListExhaustedNotificationsHandler)
		r.Get("/internal/notifications/{notificationID}", h.GetNotificationHandler)
		r.Post("/internal/notifications/{notificationID}/requeue", h.RequeueNotificationHandler)
		r.Get("/internal/webhook-events/{eventID}", h.GetWebhookEventHandler)
		r.Post("/internal/webhook-events/{eventID}/replay", h.ReplayWebhookEventHandler)
		r.Get("/internal/breakers", h.BreakerStatusHandler)
	})

	return r
}
