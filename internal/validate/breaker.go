package validate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// BreakerState is the state of a circuit breaker.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // requests allowed
	BreakerOpen                         // failures exceeded threshold, requests blocked
	BreakerHalfOpen                     // probing whether the service recovered
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures a Breaker.
type BreakerConfig struct {
	FailureThreshold int           // failures within FailureWindow that open the circuit (default: 3)
	SuccessThreshold int           // half-open successes that close it again (default: 1)
	Cooldown         time.Duration // time spent open before probing (default: 30s)
	FailureWindow    time.Duration // default: 1m
}

// DefaultBreakerConfig suits public validation services.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		Cooldown:         30 * time.Second,
		FailureWindow:    time.Minute,
	}
}

// BreakerOpenError is returned while the circuit is open.
type BreakerOpenError struct {
	Service string
}

func (e *BreakerOpenError) Error() string {
	return fmt.Sprintf("%s validator: circuit open, skipping request", e.Service)
}

// Breaker stops calling a failing service for a cooldown period.
type Breaker struct {
	name   string
	config BreakerConfig
	logger *zap.Logger
	now    func() time.Time

	mu              sync.Mutex
	state           BreakerState
	failures        []time.Time
	successes       int
	lastStateChange time.Time
}

// NewBreaker creates a closed breaker.
func NewBreaker(name string, config BreakerConfig, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{
		name:            name,
		config:          config,
		logger:          logger,
		now:             time.Now,
		state:           BreakerClosed,
		lastStateChange: time.Now(),
	}
}

// Do runs fn unless the circuit is open. Context cancellation by the
// caller is not counted as a service failure.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if !b.allow() {
		return &BreakerOpenError{Service: b.name}
	}
	err := fn(ctx)
	if err != nil && ctx.Err() != nil {
		return err
	}
	b.record(err)
	return err
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerOpen {
		if b.now().Sub(b.lastStateChange) < b.config.Cooldown {
			return false
		}
		b.transitionTo(BreakerHalfOpen)
	}
	return true
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if err == nil {
		switch b.state {
		case BreakerHalfOpen:
			b.successes++
			if b.successes >= b.config.SuccessThreshold {
				b.transitionTo(BreakerClosed)
			}
		case BreakerClosed:
			b.failures = b.failures[:0]
		}
		return
	}

	b.failures = append(b.failures, now)
	cutoff := now.Add(-b.config.FailureWindow)
	recent := b.failures[:0]
	for _, t := range b.failures {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	b.failures = recent

	switch b.state {
	case BreakerClosed:
		if len(b.failures) >= b.config.FailureThreshold {
			b.transitionTo(BreakerOpen)
		}
	case BreakerHalfOpen:
		b.transitionTo(BreakerOpen)
	}
}

func (b *Breaker) transitionTo(state BreakerState) {
	if b.state == state {
		return
	}
	old := b.state
	b.state = state
	b.lastStateChange = b.now()
	b.successes = 0
	if state == BreakerClosed {
		b.failures = b.failures[:0]
	}
	b.logger.Info("circuit state changed",
		zap.String("service", b.name),
		zap.Stringer("from", old),
		zap.Stringer("to", state))
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = b.failures[:0]
	b.successes = 0
	b.lastStateChange = b.now()
}
