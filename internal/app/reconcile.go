/**
 * @description
 * This file contains the reconciliation sweep for payments whose processor
 * call ended ambiguously (timeout or dropped connection on a mutating call).
 * The sweep looks each flagged payment up at the processor by the
 * deterministic idempotency token of the unresolved operation and finalizes
 * the local record to match what the processor actually did. An outcome is
 * never assumed.
 */

package app

import (
	"context"
	"errors"
	"log"

	"github.com/transfa/payment-service/internal/domain"
	"github.com/transfa/payment-service/internal/store"
	"github.com/transfa/payment-service/pkg/processorclient"
)

// reconcileTargets maps an unresolved operation to the status it was driving
// toward.
var reconcileTargets = map[domain.Operation]domain.PaymentStatus{
	domain.OpAuthorize: domain.StatusAuthorized,
	domain.OpPurchase:  domain.StatusCaptured,
	domain.OpCapture:   domain.StatusCaptured,
	domain.OpVoid:      domain.StatusVoided,
	domain.OpRefund:    domain.StatusRefunded,
	domain.OpSettle:    domain.StatusSettled,
}

// Reconciler resolves payments flagged needs_reconciliation.
type Reconciler struct {
	svc  *Service
	repo store.Repository
}

// NewReconciler wires the sweep to the engine and repository.
func NewReconciler(svc *Service, repo store.Repository) *Reconciler {
	return &Reconciler{svc: svc, repo: repo}
}

// Sweep processes one batch of flagged payments. Lookups that themselves
// fail leave the flag in place for the next run.
func (r *Reconciler) Sweep(ctx context.Context) {
	flagged, err := r.repo.ListPaymentsNeedingReconciliation(ctx, 50)
	if err != nil {
		log.Printf("level=error component=reconciler msg=\"failed to list flagged payments\" err=%v", err)
		return
	}
	if len(flagged) == 0 {
		return
	}
	log.Printf("level=info component=reconciler flagged=%d msg=\"reconciliation sweep started\"", len(flagged))

	for _, p := range flagged {
		if err := r.resolve(ctx, p); err != nil {
			log.Printf("level=warn component=reconciler payment_id=%s msg=\"resolution deferred\" err=%v", p.ID, err)
		}
	}
}

// clearFlag drops the reconciliation marker without changing payment state.
func (r *Reconciler) clearFlag(ctx context.Context, p *domain.Payment) error {
	p.NeedsReconciliation = false
	p.ReconcileOperation = nil
	p.ReconcileToken = nil
	p.ReconcileAmount = nil
	return r.repo.SavePayment(ctx, p, p.Version)
}

func (r *Reconciler) resolve(ctx context.Context, p domain.Payment) error {
	if p.ReconcileOperation == nil {
		// Inconsistent flag; clear it so the payment stops resurfacing.
		return r.clearFlag(ctx, &p)
	}
	op := domain.Operation(*p.ReconcileOperation)
	target, ok := reconcileTargets[op]
	if !ok {
		return r.clearFlag(ctx, &p)
	}
	amount := p.ReconcileAmount
	if op == domain.OpRefund && amount != nil && *amount < p.RemainingRefundable() {
		target = domain.StatusPartiallyRefunded
	}

	// The marker persisted the token the unresolved call actually sent;
	// re-deriving it here would use the version bumped by the marker save.
	token := p.ProcessorToken(op)
	if p.ReconcileToken != nil {
		token = *p.ReconcileToken
	}

	// Lookups go through the shared processor breaker so a down processor
	// is not hammered once per flagged payment every sweep. An unknown
	// transaction is a definitive answer, not a failure.
	br := r.svc.breakers.For(ProcessorDependency)
	var result *processorclient.Result
	var absent bool
	err := br.Do(ctx, func(ctx context.Context) error {
		res, lookupErr := r.svc.processor.Lookup(ctx, token)
		if errors.Is(lookupErr, processorclient.ErrTransactionUnknown) {
			absent = true
			return nil
		}
		if lookupErr != nil {
			return lookupErr
		}
		result = res
		return nil
	})
	switch {
	case err != nil:
		return err
	case absent:
		// The processor never saw the call. The operation did not happen.
		return r.finalizeAbsent(ctx, p, op)
	}

	if result.Outcome == processorclient.OutcomeDeclined {
		return r.finalizeDeclined(ctx, p, op, result)
	}
	_, err = r.svc.ApplyObservedTransition(ctx, p.ID, target, op, result.TransactionID, amount, nil)
	var invalid *domain.InvalidStateTransitionError
	if errors.As(err, &invalid) {
		// A webhook beat the sweep to it; the flag was cleared by that path.
		return nil
	}
	return err
}

// finalizeAbsent settles a create whose request never reached the processor:
// the payment fails and the original key is freed to retry.
func (r *Reconciler) finalizeAbsent(ctx context.Context, p domain.Payment, op domain.Operation) error {
	if p.Status != domain.StatusPending {
		// A post-create operation that never happened leaves the payment in
		// its prior good state; just clear the flag.
		return r.clearFlag(ctx, &p)
	}
	reason := "processor has no record of the request"
	_, err := r.svc.ApplyObservedTransition(ctx, p.ID, domain.StatusFailed, op, "", nil, &reason)
	return err
}

func (r *Reconciler) finalizeDeclined(ctx context.Context, p domain.Payment, op domain.Operation, result *processorclient.Result) error {
	if p.Status != domain.StatusPending {
		return r.clearFlag(ctx, &p)
	}
	reason := result.DeclineReason
	if reason == "" {
		reason = result.DeclineCode
	}
	_, err := r.svc.ApplyObservedTransition(ctx, p.ID, domain.StatusFailed, op, result.TransactionID, nil, &reason)
	return err
}
