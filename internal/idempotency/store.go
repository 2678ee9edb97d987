/**
 * @description
 * This package defines the idempotency store contract used by the payment
 * lifecycle engine to guarantee at-most-once execution of mutating requests,
 * plus an in-process implementation. The store is an injected collaborator
 * (in-memory for tests and degraded deployments, Redis in production) rather
 * than a module-level singleton.
 *
 * Contract: Begin performs an atomic compare-and-set on (caller, key) so two
 * concurrent identical requests cannot both observe "new". Records expire
 * after a bounded TTL; after expiry a repeated key is treated as new, an
 * accepted trade-off.
 */

package idempotency

import (
	"context"
	"sync"
	"time"
)

// Outcome of a Begin call.
type State string

const (
	StateNew       State = "new"       // record created; caller owns execution
	StateInFlight  State = "in_flight" // another identical request is executing
	StateCompleted State = "completed" // prior result available; no side effect
	StateConflict  State = "conflict"  // key reused with a different fingerprint
)

// BeginResult carries the CAS outcome and, for completed records, the cached
// result bytes.
type BeginResult struct {
	State  State
	Result []byte
}

// Store is the idempotency contract from the engine's point of view.
type Store interface {
	// Begin atomically claims (caller, key) for the given request fingerprint.
	Begin(ctx context.Context, caller, key, fingerprint string) (BeginResult, error)
	// Complete resolves the record with the operation result.
	Complete(ctx context.Context, caller, key string, result []byte) error
	// Fail clears the record so the same key may legitimately retry.
	Fail(ctx context.Context, caller, key string) error
}

type memoryRecord struct {
	fingerprint string
	status      State
	result      []byte
	expiresAt   time.Time
}

// MemoryStore is a mutex-guarded in-process Store. Suitable for tests and
// single-instance deployments without Redis.
type MemoryStore struct {
	ttl   time.Duration
	clock func() time.Time

	mu      sync.Mutex
	records map[string]*memoryRecord
}

// NewMemoryStore creates an in-process store with the given record TTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{ttl: ttl, clock: time.Now, records: make(map[string]*memoryRecord)}
}

func recordKey(caller, key string) string {
	return caller + "\x00" + key
}

func (s *MemoryStore) Begin(ctx context.Context, caller, key, fingerprint string) (BeginResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	k := recordKey(caller, key)
	rec, ok := s.records[k]
	if ok && now.After(rec.expiresAt) {
		delete(s.records, k)
		ok = false
	}
	if !ok {
		s.records[k] = &memoryRecord{
			fingerprint: fingerprint,
			status:      StateInFlight,
			expiresAt:   now.Add(s.ttl),
		}
		return BeginResult{State: StateNew}, nil
	}
	if rec.fingerprint != fingerprint {
		return BeginResult{State: StateConflict}, nil
	}
	if rec.status == StateCompleted {
		return BeginResult{State: StateCompleted, Result: rec.result}, nil
	}
	return BeginResult{State: StateInFlight}, nil
}

func (s *MemoryStore) Complete(ctx context.Context, caller, key string, result []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[recordKey(caller, key)]; ok {
		rec.status = StateCompleted
		rec.result = result
	}
	return nil
}

func (s *MemoryStore) Fail(ctx context.Context, caller, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, recordKey(caller, key))
	return nil
}

// Sweep drops expired records. Wired to the cron GC job.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock()
	removed := 0
	for k, rec := range s.records {
		if now.After(rec.expiresAt) {
			delete(s.records, k)
			removed++
		}
	}
	return removed
}
