package processorclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/transfa/payment-service/internal/domain"
)

func approvedBody(id, status string) string {
	return `{"data":{"id":"` + id + `","type":"Transaction","attributes":{"status":"` + status + `"}}}`
}

func TestAuthorize_ApprovedResponse(t *testing.T) {
	var gotToken, gotKey string
	var gotReq struct {
		Data struct {
			Type       string `json:"type"`
			Attributes struct {
				Amount          int64  `json:"amount"`
				Currency        string `json:"currency"`
				InstrumentToken string `json:"instrument_token"`
			} `json:"attributes"`
		} `json:"data"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("Idempotency-Key")
		gotKey = r.Header.Get("x-processor-key")
		json.NewDecoder(r.Body).Decode(&gotReq)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(approvedBody("ptx-1", "authorized")))
	}))
	defer server.Close()

	c := NewClient(server.URL, "sk_test", time.Second)
	result, err := c.Authorize(context.Background(), 2599, "USD", "instr-1", "pay-1", false, "token-1")
	if err != nil {
		t.Fatalf("Authorize returned error: %v", err)
	}
	if result.Outcome != OutcomeApproved || result.TransactionID != "ptx-1" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if gotToken != "token-1" {
		t.Fatalf("expected idempotency token forwarded, got %q", gotToken)
	}
	if gotKey != "sk_test" {
		t.Fatalf("expected api key header, got %q", gotKey)
	}
	if gotReq.Data.Type != "Authorization" || gotReq.Data.Attributes.Amount != 2599 {
		t.Fatalf("unexpected request envelope: %+v", gotReq)
	}
}

func TestAuthorize_CaptureFlagRequestsPurchase(t *testing.T) {
	var gotType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Data struct {
				Type string `json:"type"`
			} `json:"data"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		gotType = req.Data.Type
		w.Write([]byte(approvedBody("ptx-2", "captured")))
	}))
	defer server.Close()

	c := NewClient(server.URL, "sk_test", time.Second)
	if _, err := c.Authorize(context.Background(), 100, "USD", "instr-1", "pay-2", true, "token-2"); err != nil {
		t.Fatalf("Authorize returned error: %v", err)
	}
	if gotType != "Purchase" {
		t.Fatalf("expected Purchase request type, got %q", gotType)
	}
}

func TestClassify_DeclinedInSuccessEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"id":"ptx-3","attributes":{"status":"declined","decline_code":"51","decline_reason":"insufficient funds"}}}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, "sk_test", time.Second)
	result, err := c.Authorize(context.Background(), 100, "USD", "instr-1", "pay-3", false, "token-3")
	if err != nil {
		t.Fatalf("declines are results, not errors: %v", err)
	}
	if result.Outcome != OutcomeDeclined || result.DeclineCode != "51" {
		t.Fatalf("unexpected decline result: %+v", result)
	}
}

func TestClassify_ServerErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "oops", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := NewClient(server.URL, "sk_test", time.Second)
	_, err := c.Authorize(context.Background(), 100, "USD", "instr-1", "pay-4", false, "token-4")
	if !domain.IsRetryable(err) {
		t.Fatalf("expected retryable error for 5xx, got %v", err)
	}
}

func TestClassify_PaymentRequiredIsDecline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(`{"errors":[{"code":"05","detail":"do not honor"}]}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, "sk_test", time.Second)
	result, err := c.Authorize(context.Background(), 100, "USD", "instr-1", "pay-5", false, "token-5")
	if err != nil {
		t.Fatalf("402 is a decline result, got error %v", err)
	}
	if result.Outcome != OutcomeDeclined || result.DeclineCode != "05" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestClassify_ClientErrorIsTerminal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"errors":[{"code":"invalid_instrument","detail":"token expired"}]}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, "sk_test", time.Second)
	_, err := c.Authorize(context.Background(), 100, "USD", "instr-1", "pay-6", false, "token-6")
	var terminal *domain.TerminalProcessorError
	if !errors.As(err, &terminal) {
		t.Fatalf("expected terminal error for 4xx, got %v", err)
	}
	if terminal.Code != "invalid_instrument" {
		t.Fatalf("expected processor error code, got %q", terminal.Code)
	}
}

func TestMutatingCall_TimeoutIsAmbiguous(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	c := NewClient(server.URL, "sk_test", 20*time.Millisecond)
	_, err := c.Capture(context.Background(), "ptx-7", 100, "token-7")
	if !domain.IsAmbiguous(err) {
		t.Fatalf("a timed-out mutating call must be ambiguous, got %v", err)
	}
}

func TestLookup_NotFoundMeansTransactionUnknown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	c := NewClient(server.URL, "sk_test", time.Second)
	_, err := c.Lookup(context.Background(), "token-8")
	if !errors.Is(err, ErrTransactionUnknown) {
		t.Fatalf("expected ErrTransactionUnknown, got %v", err)
	}
}

func TestLookup_TransportFailureIsRetryableNotAmbiguous(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	c := NewClient(server.URL, "sk_test", 20*time.Millisecond)
	_, err := c.Lookup(context.Background(), "token-9")
	if !domain.IsRetryable(err) {
		t.Fatalf("a read has no side effect and must be retryable, got %v", err)
	}
}

func TestLookup_ResolvesApprovedOutcome(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/transactions/by-token/token-10" {
			t.Errorf("unexpected lookup path %q", r.URL.Path)
		}
		w.Write([]byte(approvedBody("ptx-10", "authorized")))
	}))
	defer server.Close()

	c := NewClient(server.URL, "sk_test", time.Second)
	result, err := c.Lookup(context.Background(), "token-10")
	if err != nil {
		t.Fatalf("Lookup returned error: %v", err)
	}
	if result.Outcome != OutcomeApproved || result.TransactionID != "ptx-10" {
		t.Fatalf("unexpected result: %+v", result)
	}
}
