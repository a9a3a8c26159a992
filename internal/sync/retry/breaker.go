package retry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vietddude/syncd/internal/sync/metrics"
)

// ErrBreakerOpen is returned when an operation is rejected without
// invoking the unit of work.
var ErrBreakerOpen = errors.New("circuit breaker open")

// BreakerStatus is the state of one operation's circuit.
type BreakerStatus int

const (
	StatusClosed BreakerStatus = iota
	StatusOpen
	StatusHalfOpen
)

func (s BreakerStatus) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// BreakerConfig holds circuit breaker thresholds.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening
	CoolDown         time.Duration // time in Open before allowing a trial
	BatchFailureRate float64       // batch success rate below which the breaker is forced open
}

// DefaultBreakerConfig provides sensible defaults.
var DefaultBreakerConfig = BreakerConfig{
	FailureThreshold: 5,
	CoolDown:         30 * time.Second,
	BatchFailureRate: 0.5,
}

// breakerEntry is the per-operation circuit state. Transitions are the
// only shared mutable state in the retry subsystem; each entry is
// guarded by its own mutex so operations never contend with each other.
type breakerEntry struct {
	mu       sync.Mutex
	status   BreakerStatus
	failures int
	openedAt time.Time
	trialing bool
}

// Breaker owns circuit state per operation name. It is an explicit,
// injected object; there is no process-wide table.
type Breaker struct {
	cfg BreakerConfig

	mu  sync.Mutex
	ops map[string]*breakerEntry

	now          func() time.Time
	onTransition func(operation string, from, to BreakerStatus)
}

// NewBreaker creates a breaker with the given thresholds.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultBreakerConfig.FailureThreshold
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = DefaultBreakerConfig.CoolDown
	}
	return &Breaker{
		cfg: cfg,
		ops: make(map[string]*breakerEntry),
		now: time.Now,
	}
}

// SetTransitionCallback registers a callback invoked on every state change.
func (b *Breaker) SetTransitionCallback(fn func(operation string, from, to BreakerStatus)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onTransition = fn
}

func (b *Breaker) entry(operation string) *breakerEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.ops[operation]
	if !ok {
		e = &breakerEntry{}
		b.ops[operation] = e
	}
	return e
}

func (b *Breaker) transition(operation string, e *breakerEntry, to BreakerStatus) {
	from := e.status
	if from == to {
		return
	}
	e.status = to
	metrics.BreakerState.WithLabelValues(operation).Set(float64(to))

	b.mu.Lock()
	fn := b.onTransition
	b.mu.Unlock()
	if fn != nil {
		fn(operation, from, to)
	}
}

// Allow gates an execution. In Open state it fails fast until the
// cool-down elapses, then admits exactly one trial (Half-Open).
func (b *Breaker) Allow(operation string) error {
	e := b.entry(operation)
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.status {
	case StatusClosed:
		return nil
	case StatusOpen:
		if b.now().Sub(e.openedAt) < b.cfg.CoolDown {
			return fmt.Errorf("%w: operation %s cooling down", ErrBreakerOpen, operation)
		}
		b.transition(operation, e, StatusHalfOpen)
		e.trialing = true
		return nil
	default: // HalfOpen
		if e.trialing {
			return fmt.Errorf("%w: operation %s trial in flight", ErrBreakerOpen, operation)
		}
		e.trialing = true
		return nil
	}
}

// RecordSuccess closes the circuit and resets the failure counter.
func (b *Breaker) RecordSuccess(operation string) {
	e := b.entry(operation)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.failures = 0
	e.trialing = false
	b.transition(operation, e, StatusClosed)
}

// RecordFailure counts a failure; reaching the threshold opens the
// circuit. A failed Half-Open trial reopens it and restarts the clock.
func (b *Breaker) RecordFailure(operation string) {
	e := b.entry(operation)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status == StatusHalfOpen {
		e.trialing = false
		e.openedAt = b.now()
		b.transition(operation, e, StatusOpen)
		return
	}

	e.failures++
	if e.failures >= b.cfg.FailureThreshold {
		e.openedAt = b.now()
		b.transition(operation, e, StatusOpen)
	}
}

// ForceOpen opens the circuit regardless of the failure counter. Used
// by batch-coordinated retry when the batch success rate collapses.
func (b *Breaker) ForceOpen(operation string) {
	e := b.entry(operation)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.openedAt = b.now()
	e.trialing = false
	b.transition(operation, e, StatusOpen)
}

// Status returns the current state for an operation.
func (b *Breaker) Status(operation string) BreakerStatus {
	e := b.entry(operation)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}
