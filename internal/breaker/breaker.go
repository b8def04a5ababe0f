package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"propsync-service/internal/config"
	"propsync-service/internal/logger"
)

// ErrOpen is returned by Execute when the circuit rejects a call without
// contacting the remote store.
var ErrOpen = errors.New("circuit breaker is open")

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker is the admission-control gate in front of the remote store. It
// never retries; it only decides whether a call may go out at all. All state
// is synchronized internally so callers never coordinate around it.
type Breaker struct {
	mu            sync.Mutex
	state         State
	failures      int
	windowStart   time.Time
	openedAt      time.Time
	trialInFlight bool

	threshold int
	cooldown  time.Duration
	window    time.Duration

	now func() time.Time
}

func New(cfg config.BreakerConfig) *Breaker {
	return &Breaker{
		state:     Closed,
		threshold: cfg.FailureThreshold,
		cooldown:  cfg.Cooldown,
		window:    cfg.FailureWindow,
		now:       time.Now,
	}
}

// Execute runs op if the current state admits it. The operation must be safe
// to retry: a failure result does not guarantee the remote side saw nothing.
func (b *Breaker) Execute(ctx context.Context, label string, op func(ctx context.Context) error) error {
	if err := b.allow(); err != nil {
		return fmt.Errorf("%s: %w", label, err)
	}

	err := op(ctx)
	if err != nil {
		b.recordFailure(label)
		return err
	}

	b.recordSuccess()
	return nil
}

// IsOpen reports whether calls would currently be rejected. It resolves a
// lapsed cooldown first, so callers see half-open as "worth trying".
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resolveCooldown()
	return b.state == Open
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resolveCooldown()
	return b.state
}

// Reset forces the breaker closed. Used after an externally verified health
// probe: there is no point waiting out the cooldown when the dependency is
// already known healthy.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != Closed {
		logger.Log.Info("Circuit breaker reset", zap.String("from", b.state.String()))
	}
	b.state = Closed
	b.failures = 0
	b.trialInFlight = false
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.resolveCooldown()

	switch b.state {
	case Closed:
		return nil
	case HalfOpen:
		// Exactly one trial call probes recovery.
		if b.trialInFlight {
			return ErrOpen
		}
		b.trialInFlight = true
		return nil
	default:
		return ErrOpen
	}
}

// resolveCooldown moves Open to HalfOpen once the cooldown has elapsed.
// Callers must hold b.mu.
func (b *Breaker) resolveCooldown() {
	if b.state == Open && b.now().Sub(b.openedAt) >= b.cooldown {
		b.state = HalfOpen
		b.trialInFlight = false
	}
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		logger.Log.Info("Circuit breaker closed after successful trial")
		b.state = Closed
		b.failures = 0
		b.trialInFlight = false
	case Closed:
		// Successes break the run of consecutive failures.
		b.failures = 0
	}
}

func (b *Breaker) recordFailure(label string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()

	switch b.state {
	case HalfOpen:
		// Trial failed; back to cooling down.
		b.state = Open
		b.openedAt = now
		b.trialInFlight = false
		logger.Log.Warn("Circuit breaker reopened after failed trial", zap.String("resource", label))
	case Closed:
		if b.failures == 0 || now.Sub(b.windowStart) > b.window {
			b.failures = 0
			b.windowStart = now
		}
		b.failures++
		if b.failures >= b.threshold {
			b.state = Open
			b.openedAt = now
			logger.Log.Warn("Circuit breaker opened",
				zap.String("resource", label),
				zap.Int("failures", b.failures),
				zap.Duration("cooldown", b.cooldown),
			)
		}
	}
}
