package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// CircuitState is the state of the bridge circuit breaker.
type CircuitState int

const (
	// CircuitClosed is the normal state, calls flow through.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects calls immediately after repeated failures.
	CircuitOpen
	// CircuitHalfOpen lets a probe call through to test recovery.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a call is rejected because the
// circuit is open.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// BreakerConfig controls circuit breaker behavior.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before the
	// circuit opens. Default: 5.
	FailureThreshold int

	// ResetTimeout is how long the circuit stays open before a probe is
	// allowed. Default: 30s.
	ResetTimeout time.Duration

	// ShouldTrip overrides which errors count toward the threshold.
	// When nil every error counts.
	ShouldTrip func(err error) bool

	// OnStateChange is called on every transition.
	OnStateChange func(from, to CircuitState)
}

// DefaultBreakerConfig returns the breaker settings used for the
// browser bridge.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
	}
}

// Breaker is a circuit breaker guarding one external service. A run of
// failed calls opens it; after ResetTimeout one probe may pass, and its
// outcome decides whether the circuit closes again.
type Breaker struct {
	cfg BreakerConfig

	mu       sync.Mutex
	state    CircuitState
	failures int
	lastFail time.Time

	now func() time.Time
}

// NewBreaker creates a circuit breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	return &Breaker{cfg: cfg, state: CircuitClosed, now: time.Now}
}

// Execute runs fn through the breaker. It returns ErrCircuitOpen
// without calling fn when the circuit is open.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := fn(ctx)
	b.record(err)
	return err
}

// State returns the current circuit state.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == CircuitOpen && b.now().Sub(b.lastFail) >= b.cfg.ResetTimeout {
		return CircuitHalfOpen
	}
	return b.state
}

// Reset forces the circuit closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != CircuitClosed {
		b.transition(CircuitClosed)
	}
	b.failures = 0
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitOpen:
		if b.now().Sub(b.lastFail) >= b.cfg.ResetTimeout {
			b.transition(CircuitHalfOpen)
			return nil
		}
		return ErrCircuitOpen
	default:
		return nil
	}
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	trips := err != nil
	if err != nil && b.cfg.ShouldTrip != nil {
		trips = b.cfg.ShouldTrip(err)
	}

	if !trips {
		if b.state == CircuitHalfOpen {
			b.transition(CircuitClosed)
		}
		b.failures = 0
		return
	}

	b.failures++
	b.lastFail = b.now()
	switch b.state {
	case CircuitClosed:
		if b.failures >= b.cfg.FailureThreshold {
			b.transition(CircuitOpen)
		}
	case CircuitHalfOpen:
		b.transition(CircuitOpen)
	}
}

func (b *Breaker) transition(to CircuitState) {
	from := b.state
	b.state = to
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(from, to)
	}
}
