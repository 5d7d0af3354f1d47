package reliability

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrDependencyUnavailable is returned when the breaker is open or the
// protected call failed; callers degrade instead of propagating it.
var ErrDependencyUnavailable = errors.New("dependency unavailable")

type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half_open"
)

// BreakerConfig tunes a circuit breaker instance.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before the
	// circuit opens.
	FailureThreshold int
	// RecoveryTimeout is how long the circuit stays open before a single
	// trial call is permitted.
	RecoveryTimeout time.Duration
	// CallTimeout bounds each protected call; exceeding it counts as a
	// failure.
	CallTimeout time.Duration
	// OnStateChange is invoked outside the lock when the state flips.
	OnStateChange func(from, to BreakerState)
}

// Breaker guards calls to one unreliable dependency. It is shared
// across all sessions for that dependency: it models dependency health,
// not session state. Construct one in app wiring and hand it to every
// store that talks to the dependency.
type Breaker struct {
	cfg BreakerConfig

	mu         sync.Mutex
	state      BreakerState
	failures   int
	openedAt   time.Time
	probing    bool
	lastChange time.Time
}

// BreakerSnapshot is a point-in-time view for stats surfaces.
type BreakerSnapshot struct {
	State               BreakerState `json:"state"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	OpenedAt            time.Time    `json:"opened_at,omitempty"`
	LastStateChange     time.Time    `json:"last_state_change"`
}

func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 30 * time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 2 * time.Second
	}
	return &Breaker{
		cfg:        cfg,
		state:      StateClosed,
		lastChange: time.Now().UTC(),
	}
}

// Execute runs op under the breaker. When the circuit is open it
// short-circuits with ErrDependencyUnavailable without invoking op.
// Each call is bounded by CallTimeout; a timeout counts as a failure.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	if !b.allow() {
		return ErrDependencyUnavailable
	}

	callCtx, cancel := context.WithTimeout(ctx, b.cfg.CallTimeout)
	defer cancel()

	err := op(callCtx)
	if err != nil {
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return nil
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(b.openedAt) >= b.cfg.RecoveryTimeout {
			b.transitionTo(StateHalfOpen)
			b.probing = true
			return true
		}
		return false
	case StateHalfOpen:
		// One trial call at a time while half-open.
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return false
	}
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.probing = false
	if b.state == StateHalfOpen {
		b.transitionTo(StateClosed)
	}
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.probing = false
	switch b.state {
	case StateClosed:
		if b.failures >= b.cfg.FailureThreshold {
			b.openedAt = time.Now().UTC()
			b.transitionTo(StateOpen)
		}
	case StateHalfOpen:
		// Trial call failed; the timer restarts.
		b.openedAt = time.Now().UTC()
		b.transitionTo(StateOpen)
	}
}

// State returns the current state without mutating it.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns the state and counters for stats reporting.
func (b *Breaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerSnapshot{
		State:               b.state,
		ConsecutiveFailures: b.failures,
		OpenedAt:            b.openedAt,
		LastStateChange:     b.lastChange,
	}
}

// Reset forces the circuit closed with counters cleared. Administrative
// override only.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.probing = false
	b.openedAt = time.Time{}
	b.transitionTo(StateClosed)
}

// transitionTo flips the state; caller must hold the lock.
func (b *Breaker) transitionTo(next BreakerState) {
	if b.state == next {
		return
	}
	prev := b.state
	b.state = next
	b.lastChange = time.Now().UTC()
	if next == StateClosed {
		b.failures = 0
	}
	if b.cfg.OnStateChange != nil {
		go b.cfg.OnStateChange(prev, next)
	}
}
