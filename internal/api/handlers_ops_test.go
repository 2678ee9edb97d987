package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/transfa/payment-service/internal/domain"
	"github.com/transfa/payment-service/pkg/breaker"
)

type opsRepoStub struct {
	notifications map[uuid.UUID]*domain.OutboundNotification
}

func (s *opsRepoStub) ListExhaustedNotifications(ctx context.Context, limit int) ([]domain.OutboundNotification, error) {
	var out []domain.OutboundNotification
	for _, n := range s.notifications {
		if n.Status == "exhausted" {
			out = append(out, *n)
		}
	}
	return out, nil
}

func (s *opsRepoStub) GetNotification(ctx context.Context, id uuid.UUID) (*domain.OutboundNotification, error) {
	n, ok := s.notifications[id]
	if !ok {
		return nil, domain.ErrNotificationNotFound
	}
	cp := *n
	return &cp, nil
}

func (s *opsRepoStub) GetWebhookEvent(ctx context.Context, eventID string) (*domain.WebhookEvent, error) {
	return nil, domain.ErrEventNotFound
}

type breakerStub struct{}

func (breakerStub) Snapshot() []breaker.Status { return nil }

func opsTestRouter(repo opsRepository) *chi.Mux {
	h := &PaymentHandlers{repo: repo, breakers: breakerStub{}}
	r := chi.NewRouter()
	r.Get("/internal/notifications/{notificationID}", h.GetNotificationHandler)
	return r
}

func TestGetNotificationHandler_ReturnsNotification(t *testing.T) {
	id := uuid.New()
	lastErr := "endpoint returned 500"
	repo := &opsRepoStub{notifications: map[uuid.UUID]*domain.OutboundNotification{
		id: {
			ID:             id,
			EventType:      domain.EventPaymentAuthorized,
			TargetEndpoint: "https://merchant.example/hooks",
			AttemptCount:   8,
			MaxAttempts:    8,
			Status:         "exhausted",
			LastError:      &lastErr,
		},
	}}

	req := httptest.NewRequest(http.MethodGet, "/internal/notifications/"+id.String(), nil)
	rec := httptest.NewRecorder()
	opsTestRouter(repo).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var got domain.OutboundNotification
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if got.ID != id || got.Status != "exhausted" || got.AttemptCount != 8 {
		t.Fatalf("unexpected notification: %+v", got)
	}
}

func TestGetNotificationHandler_UnknownIDIs404(t *testing.T) {
	repo := &opsRepoStub{notifications: map[uuid.UUID]*domain.OutboundNotification{}}

	req := httptest.NewRequest(http.MethodGet, "/internal/notifications/"+uuid.NewString(), nil)
	rec := httptest.NewRecorder()
	opsTestRouter(repo).ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGetNotificationHandler_BadIDIs400(t *testing.T) {
	repo := &opsRepoStub{notifications: map[uuid.UUID]*domain.OutboundNotification{}}

	req := httptest.NewRequest(http.MethodGet, "/internal/notifications/not-a-uuid", nil)
	rec := httptest.NewRecorder()
	opsTestRouter(repo).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
