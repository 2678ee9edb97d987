package domain

import (
	"testing"

	"github.com/google/uuid"
)

func TestCanTransition_LegalPaths(t *testing.T) {
	legal := []struct{ from, to PaymentStatus }{
		{StatusPending, StatusAuthorized},
		{StatusPending, StatusCaptured},
		{StatusPending, StatusFailed},
		{StatusAuthorized, StatusCaptured},
		{StatusAuthorized, StatusVoided},
		{StatusCaptured, StatusSettled},
		{StatusCaptured, StatusPartiallyRefunded},
		{StatusCaptured, StatusRefunded},
		{StatusSettled, StatusRefunded},
		{StatusPartiallyRefunded, StatusPartiallyRefunded},
		{StatusPartiallyRefunded, StatusRefunded},
	}
	for _, tc := range legal {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be legal", tc.from, tc.to)
		}
	}
}

func TestCanTransition_IllegalPaths(t *testing.T) {
	illegal := []struct{ from, to PaymentStatus }{
		{StatusVoided, StatusCaptured},
		{StatusRefunded, StatusCaptured},
		{StatusFailed, StatusAuthorized},
		{StatusPending, StatusSettled},
		{StatusAuthorized, StatusRefunded},
		{StatusSettled, StatusVoided},
		{StatusCaptured, StatusAuthorized},
	}
	for _, tc := range illegal {
		if CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be illegal", tc.from, tc.to)
		}
	}
}

func TestCanRequest_GatesCallerOperations(t *testing.T) {
	cases := []struct {
		op      Operation
		from    PaymentStatus
		allowed bool
	}{
		{OpAuthorize, StatusPending, true},
		{OpAuthorize, StatusAuthorized, false},
		{OpCapture, StatusAuthorized, true},
		{OpCapture, StatusPending, false},
		{OpCapture, StatusCaptured, false},
		{OpVoid, StatusAuthorized, true},
		{OpVoid, StatusPending, false},
		{OpRefund, StatusCaptured, true},
		{OpRefund, StatusSettled, true},
		{OpRefund, StatusPartiallyRefunded, true},
		{OpRefund, StatusAuthorized, false},
		{OpRefund, StatusRefunded, false},
	}
	for _, tc := range cases {
		if got := CanRequest(tc.op, tc.from); got != tc.allowed {
			t.Errorf("CanRequest(%s, %s) = %v, want %v", tc.op, tc.from, got, tc.allowed)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []PaymentStatus{StatusRefunded, StatusVoided, StatusFailed, StatusSettled} {
		if s == StatusSettled {
			if s.IsTerminal() {
				t.Errorf("settled still admits refunds and must not be terminal")
			}
			continue
		}
		if !s.IsTerminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
}

func TestProcessorToken_StablePerVersionFreshAfterMutation(t *testing.T) {
	p := &Payment{ID: uuid.New(), Version: 3}

	a := p.ProcessorToken(OpCapture)
	b := p.ProcessorToken(OpCapture)
	if a != b {
		t.Fatal("token must be stable for the same (payment, operation, version)")
	}
	if p.ProcessorToken(OpRefund) == a {
		t.Fatal("different operations must derive different tokens")
	}

	p.Version = 4
	if p.ProcessorToken(OpCapture) == a {
		t.Fatal("a mutated payment must derive a fresh token")
	}
}

func TestFingerprint_DetectsBodyChanges(t *testing.T) {
	base := CreatePaymentRequest{
		ExternalReference: "order-1",
		Amount:            2599,
		Currency:          "USD",
		InstrumentToken:   "instr-1",
	}
	same := base
	if base.Fingerprint() != same.Fingerprint() {
		t.Fatal("identical requests must share a fingerprint")
	}

	changed := base
	changed.Amount = 2600
	if base.Fingerprint() == changed.Fingerprint() {
		t.Fatal("a changed amount must change the fingerprint")
	}

	captured := base
	captured.Capture = true
	if base.Fingerprint() == captured.Fingerprint() {
		t.Fatal("the capture flag is part of the fingerprint")
	}
}

func TestRemainingRefundable(t *testing.T) {
	p := &Payment{Amount: 5000, RefundedAmount: 2000}
	if got := p.RemainingRefundable(); got != 3000 {
		t.Fatalf("expected 3000 remaining, got %d", got)
	}
}
