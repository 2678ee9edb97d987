/**
 * @description
 * This package implements a per-dependency circuit breaker. Each external
 * collaborator (the card processor, every webhook target host) gets its own
 * breaker keyed by name, so one failing subscriber cannot block the others.
 *
 * State machine: closed -> open (fail fast for a cooldown) -> half_open
 * (single probe; success closes, failure reopens with a doubled cooldown up
 * to a cap). The breaker trips on N consecutive failures or when the rolling
 * failure rate crosses a threshold with enough samples.
 *
 * @dependencies
 * - sync, time: Standard Go libraries.
 * - internal/domain: For CircuitOpenError.
 */
package breaker

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/transfa/payment-service/internal/domain"
)

// State names, exposed for the operator status endpoint.
const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half_open"
)

// Settings configures trip thresholds and cooldowns shared by all breakers
// in a registry.
type Settings struct {
	ConsecutiveFailures int           // trip after this many consecutive failures
	RollingWindow       time.Duration // window for the failure-rate check
	MinSamples          int           // rate check needs at least this many outcomes
	FailureRate         float64       // 0..1; trips when exceeded within the window
	Cooldown            time.Duration // initial open duration
	MaxCooldown         time.Duration // escalation cap
}

// DefaultSettings mirrors the values documented in DESIGN.md.
func DefaultSettings() Settings {
	return Settings{
		ConsecutiveFailures: 5,
		RollingWindow:       60 * time.Second,
		MinSamples:          10,
		FailureRate:         0.5,
		Cooldown:            30 * time.Second,
		MaxCooldown:         10 * time.Minute,
	}
}

type outcome struct {
	at time.Time
	ok bool
}

// Breaker guards one dependency.
type Breaker struct {
	name     string
	settings Settings
	clock    func() time.Time

	mu          sync.Mutex
	state       string
	consecutive int
	openUntil   time.Time
	cooldown    time.Duration
	probing     bool
	recent      []outcome
}

func newBreaker(name string, settings Settings, clock func() time.Time) *Breaker {
	return &Breaker{
		name:     name,
		settings: settings,
		clock:    clock,
		state:    StateClosed,
		cooldown: settings.Cooldown,
	}
}

// Do invokes fn under the breaker. When the breaker is open it fails fast
// with CircuitOpenError without touching the dependency.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := fn(ctx)
	b.record(err == nil || !countsAsFailure(err))
	return err
}

// A business decline means the dependency answered and is healthy; every
// other error counts against the breaker.
func countsAsFailure(err error) bool {
	var terminal *domain.TerminalProcessorError
	return !errors.As(err, &terminal)
}

// allow decides whether a call may proceed, transitioning open -> half_open
// when the cooldown has elapsed (admitting a single probe).
func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock()
	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if now.Before(b.openUntil) {
			return &domain.CircuitOpenError{Dependency: b.name, RetryAfter: b.openUntil.Sub(now)}
		}
		b.state = StateHalfOpen
		b.probing = true
		log.Printf("level=info component=breaker dependency=%s msg=\"cooldown elapsed; admitting probe\"", b.name)
		return nil
	default: // half_open
		if b.probing {
			return &domain.CircuitOpenError{Dependency: b.name, RetryAfter: b.cooldown}
		}
		b.probing = true
		return nil
	}
}

// record registers a call outcome and drives the state transitions.
func (b *Breaker) record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock()
	b.recent = append(b.recent, outcome{at: now, ok: success})
	b.pruneLocked(now)

	if b.state == StateHalfOpen {
		b.probing = false
		if success {
			b.state = StateClosed
			b.consecutive = 0
			b.cooldown = b.settings.Cooldown
			log.Printf("level=info component=breaker dependency=%s msg=\"probe succeeded; circuit closed\"", b.name)
		} else {
			b.cooldown *= 2
			if b.cooldown > b.settings.MaxCooldown {
				b.cooldown = b.settings.MaxCooldown
			}
			b.openLocked(now)
		}
		return
	}

	if success {
		b.consecutive = 0
		return
	}

	b.consecutive++
	if b.consecutive >= b.settings.ConsecutiveFailures || b.rateTrippedLocked() {
		b.openLocked(now)
	}
}

func (b *Breaker) openLocked(now time.Time) {
	b.state = StateOpen
	b.openUntil = now.Add(b.cooldown)
	log.Printf("level=warn component=breaker dependency=%s msg=\"circuit opened\" cooldown=%s consecutive_failures=%d",
		b.name, b.cooldown, b.consecutive)
}

func (b *Breaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-b.settings.RollingWindow)
	keep := b.recent[:0]
	for _, o := range b.recent {
		if o.at.After(cutoff) {
			keep = append(keep, o)
		}
	}
	b.recent = keep
}

func (b *Breaker) rateTrippedLocked() bool {
	if len(b.recent) < b.settings.MinSamples {
		return false
	}
	failures := 0
	for _, o := range b.recent {
		if !o.ok {
			failures++
		}
	}
	return float64(failures)/float64(len(b.recent)) > b.settings.FailureRate
}

// Status is a snapshot for the operator endpoint.
type Status struct {
	Dependency string    `json:"dependency"`
	State      string    `json:"state"`
	OpenUntil  time.Time `json:"open_until,omitempty"`
}

// State returns the breaker's current state, accounting for an elapsed cooldown.
func (b *Breaker) State() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	state := b.state
	if state == StateOpen && !b.clock().Before(b.openUntil) {
		state = StateHalfOpen
	}
	return Status{Dependency: b.name, State: state, OpenUntil: b.openUntil}
}

// Registry hands out one breaker per dependency name. It is an injected
// collaborator, not a package-level singleton, so tests can use their own.
type Registry struct {
	settings Settings
	clock    func() time.Time

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry creates a registry with the given settings.
func NewRegistry(settings Settings) *Registry {
	return NewRegistryWithClock(settings, time.Now)
}

// NewRegistryWithClock allows tests to control time.
func NewRegistryWithClock(settings Settings, clock func() time.Time) *Registry {
	return &Registry{settings: settings, clock: clock, breakers: make(map[string]*Breaker)}
}

// For returns the breaker for a dependency, creating it on first use.
func (r *Registry) For(dependency string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[dependency]
	if !ok {
		b = newBreaker(dependency, r.settings, r.clock)
		r.breakers[dependency] = b
	}
	return b
}

// Snapshot lists the state of every known breaker.
func (r *Registry) Snapshot() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Status, 0, len(r.breakers))
	for _, b := range r.breakers {
		out = append(out, b.State())
	}
	return out
}
