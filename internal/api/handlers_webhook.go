/**
 * @description
 * This file contains the inbound webhook receiver for processor events. The
 * processor delivers events at-least-once and requires a 2xx acknowledgement;
 * the handler acknowledges only after the event is durably recorded, so a
 * crash between receipt and persistence forces a redelivery instead of losing
 * the event.
 */

package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/transfa/payment-service/internal/domain"
)

const processorSignatureHeader = "X-Processor-Signature"

// maxWebhookBody caps inbound payload reads at 1 MiB.
const maxWebhookBody = 1 << 20

// ProcessorWebhookHandler handles POST /webhooks/processor.
func (h *PaymentHandlers) ProcessorWebhookHandler(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	err = h.ingestor.Ingest(r.Context(), payload, r.Header.Get(processorSignatureHeader))
	switch {
	case err == nil, errors.Is(err, domain.ErrDuplicateEvent):
		// Duplicates are authentic and already handled; acknowledge them so
		// the processor stops redelivering.
		w.WriteHeader(http.StatusOK)
	default:
		var sigErr *domain.SignatureVerificationError
		var validation *domain.ValidationError
		switch {
		case errors.As(err, &sigErr):
			http.Error(w, "signature verification failed", http.StatusUnauthorized)
		case errors.As(err, &validation):
			http.Error(w, validation.Error(), http.StatusBadRequest)
		default:
			// Not durably handled; a 5xx makes the processor redeliver.
			http.Error(w, "event processing failed", http.StatusInternalServerError)
		}
	}
}
