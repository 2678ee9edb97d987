package app

import (
	"context"
	"errors"
	"testing"

	"github.com/transfa/payment-service/internal/domain"
	"github.com/transfa/payment-service/pkg/processorclient"
)

func flagAmbiguousCreate(t *testing.T, svc *Service, proc *processorStub) {
	t.Helper()
	proc.authorizeResults = []stubResult{failing(&domain.AmbiguousProcessorError{Err: errors.New("timeout")})}
	_, err := svc.Create(context.Background(), "caller-1", "abc", createRequest())
	if !domain.IsAmbiguous(err) {
		t.Fatalf("expected ambiguous create, got %v", err)
	}
}

func TestReconciler_LookupApprovedFinalizesAndResolvesKey(t *testing.T) {
	svc, repo, proc := newTestService(t)
	flagAmbiguousCreate(t, svc, proc)
	proc.lookupResults = []stubResult{approved("ptx-42")}

	NewReconciler(svc, repo).Sweep(context.Background())

	p, err := findByReference(repo, "order-1001")
	if err != nil {
		t.Fatalf("payment missing: %v", err)
	}
	if p.Status != domain.StatusAuthorized {
		t.Fatalf("expected authorized after reconciliation, got %s", p.Status)
	}
	if p.NeedsReconciliation {
		t.Fatal("expected reconciliation flag cleared")
	}
	if p.ProcessorTransactionID == nil || *p.ProcessorTransactionID != "ptx-42" {
		t.Fatal("expected processor transaction id from the lookup")
	}

	// The original key now replays the resolved result without a new
	// processor call.
	replayed, err := svc.Create(context.Background(), "caller-1", "abc", createRequest())
	if err != nil {
		t.Fatalf("replay after reconciliation returned error: %v", err)
	}
	if replayed.ID != p.ID {
		t.Fatal("expected replay to return the reconciled payment")
	}
	if proc.callCount("authorize") != 1 {
		t.Fatalf("expected no new authorize calls, got %d", proc.callCount("authorize"))
	}
}

func TestReconciler_UnknownTransactionFailsPaymentAndFreesKey(t *testing.T) {
	svc, repo, proc := newTestService(t)
	flagAmbiguousCreate(t, svc, proc)
	proc.lookupResults = []stubResult{failing(processorclient.ErrTransactionUnknown)}

	NewReconciler(svc, repo).Sweep(context.Background())

	p, err := findByReference(repo, "order-1001")
	if err != nil {
		t.Fatalf("payment missing: %v", err)
	}
	if p.Status != domain.StatusFailed {
		t.Fatalf("expected failed when the processor never saw the call, got %s", p.Status)
	}

	// The key is free again; a retry performs a fresh create.
	fresh, err := svc.Create(context.Background(), "caller-1", "abc", createRequest())
	if err != nil {
		t.Fatalf("retry after reconciliation returned error: %v", err)
	}
	if fresh.ID == p.ID {
		t.Fatal("expected a fresh payment for the retried key")
	}
	if fresh.Status != domain.StatusAuthorized {
		t.Fatalf("expected fresh payment authorized, got %s", fresh.Status)
	}
}

func TestReconciler_LookupDeclinedFailsPayment(t *testing.T) {
	svc, repo, proc := newTestService(t)
	flagAmbiguousCreate(t, svc, proc)
	proc.lookupResults = []stubResult{declined("05", "do not honor")}

	NewReconciler(svc, repo).Sweep(context.Background())

	p, err := findByReference(repo, "order-1001")
	if err != nil {
		t.Fatalf("payment missing: %v", err)
	}
	if p.Status != domain.StatusFailed {
		t.Fatalf("expected failed after declined lookup, got %s", p.Status)
	}
	if p.FailureReason == nil || *p.FailureReason == "" {
		t.Fatal("expected decline reason recorded")
	}
}

func TestReconciler_AmbiguousPartialRefundStaysPartial(t *testing.T) {
	svc, repo, proc := newTestService(t)

	req := createRequest()
	req.Amount = 5000
	req.Capture = true
	p, err := svc.Create(context.Background(), "caller-1", "abc", req)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	proc.refundResults = []stubResult{failing(&domain.AmbiguousProcessorError{Err: errors.New("timeout")})}
	_, err = svc.Refund(context.Background(), p.ID, domain.RefundRequest{Amount: 2000})
	if !domain.IsAmbiguous(err) {
		t.Fatalf("expected ambiguous refund, got %v", err)
	}

	proc.lookupResults = []stubResult{approved("rtx-7")}
	NewReconciler(svc, repo).Sweep(context.Background())

	current, _ := svc.GetPayment(context.Background(), p.ID)
	if current.Status != domain.StatusPartiallyRefunded {
		t.Fatalf("a 2000 refund of a 5000 payment must stay partial, got %s", current.Status)
	}
	if current.RefundedAmount != 2000 {
		t.Fatalf("expected refunded_amount 2000, got %d", current.RefundedAmount)
	}
	if current.NeedsReconciliation {
		t.Fatal("expected reconciliation flag cleared")
	}
}

func TestReconciler_OpenBreakerSkipsLookups(t *testing.T) {
	svc, repo, proc := newTestService(t)
	flagAmbiguousCreate(t, svc, proc)

	// Trip the shared processor breaker.
	br := svc.breakers.For(ProcessorDependency)
	for i := 0; i < 10; i++ {
		br.Do(context.Background(), func(context.Context) error {
			return errors.New("processor down")
		})
	}

	NewReconciler(svc, repo).Sweep(context.Background())

	if proc.callCount("lookup") != 0 {
		t.Fatalf("expected no lookups through an open breaker, got %d", proc.callCount("lookup"))
	}
	p, err := findByReference(repo, "order-1001")
	if err != nil {
		t.Fatalf("payment missing: %v", err)
	}
	if !p.NeedsReconciliation {
		t.Fatal("expected flag kept while the breaker is open")
	}
}

func TestReconciler_LookupFailureLeavesFlagForNextSweep(t *testing.T) {
	svc, repo, proc := newTestService(t)
	flagAmbiguousCreate(t, svc, proc)
	proc.lookupResults = []stubResult{failing(&domain.RetryableProcessorError{Err: errors.New("lookup 503")})}

	NewReconciler(svc, repo).Sweep(context.Background())

	p, err := findByReference(repo, "order-1001")
	if err != nil {
		t.Fatalf("payment missing: %v", err)
	}
	if !p.NeedsReconciliation {
		t.Fatal("expected flag kept when the lookup itself failed")
	}
	if p.Status != domain.StatusPending {
		t.Fatalf("expected pending while unresolved, got %s", p.Status)
	}
}
