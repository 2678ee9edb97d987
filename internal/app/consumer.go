/**
 * @description
 * This file contains the RabbitMQ relay consumer. Processor events that
 * arrive at the edge receiver are published onto the broker and consumed
 * here, so the ingestion pipeline keeps draining even when this service was
 * down at delivery time. Signatures are verified at the edge; relayed
 * payloads enter through the trusted path.
 */

package app

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/transfa/payment-service/internal/domain"
)

// RelayConsumer adapts broker deliveries to the ingestion pipeline.
type RelayConsumer struct {
	ingestor *Ingestor
	timeout  time.Duration
}

// NewRelayConsumer creates a consumer feeding the given ingestor.
func NewRelayConsumer(ingestor *Ingestor) *RelayConsumer {
	return &RelayConsumer{ingestor: ingestor, timeout: 30 * time.Second}
}

// HandleMessage processes one relayed processor event. The returned bool is
// the ack decision: true acknowledges, false requeues. Duplicates and other
// definitively handled events are always acknowledged; only infrastructure
// failures requeue.
func (c *RelayConsumer) HandleMessage(body []byte) bool {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	err := c.ingestor.IngestTrusted(ctx, body)
	switch {
	case err == nil:
		return true
	case errors.Is(err, domain.ErrDuplicateEvent):
		return true
	default:
		var validation *domain.ValidationError
		if errors.As(err, &validation) {
			// Malformed payloads never become processable; drop them.
			log.Printf("level=warn component=relay msg=\"dropping malformed relayed event\" err=%v", err)
			return true
		}
		log.Printf("level=error component=relay msg=\"relayed event processing failed, requeueing\" err=%v", err)
		return false
	}
}
