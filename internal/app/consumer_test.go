package app

import (
	"context"
	"testing"

	"github.com/transfa/payment-service/internal/domain"
)

func TestRelayConsumer_AcknowledgesAppliedAndDuplicateEvents(t *testing.T) {
	ing, svc, repo := newTestIngestor(t)
	relay := NewRelayConsumer(ing)
	p := seedPayment(t, repo, domain.StatusPending, 2500)

	payload := eventPayload("evt-relay-1", "transaction.authorized", p.ID, 0)
	if !relay.HandleMessage(payload) {
		t.Fatal("expected first delivery acknowledged")
	}
	if !relay.HandleMessage(payload) {
		t.Fatal("expected duplicate delivery acknowledged, not requeued")
	}

	current, _ := svc.GetPayment(context.Background(), p.ID)
	if current.Status != domain.StatusAuthorized {
		t.Fatalf("expected authorized, got %s", current.Status)
	}
}

func TestRelayConsumer_DropsMalformedPayloads(t *testing.T) {
	ing, _, _ := newTestIngestor(t)
	relay := NewRelayConsumer(ing)

	if !relay.HandleMessage([]byte("not json")) {
		t.Fatal("malformed payloads must be acknowledged, requeueing cannot fix them")
	}
}
