// Package breaker guards calls to remote dependencies (the broker REST API,
// Redis) with a three-state circuit breaker.
package breaker

import (
	"errors"
	"log"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the breaker rejects a call.
var ErrCircuitOpen = errors.New("breaker: circuit open")

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = 0 // calls pass through
	StateOpen     State = 1 // calls rejected until the cool-down elapses
	StateHalfOpen State = 2 // one probe call allowed
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker opens after maxFailures consecutive counted failures and rejects
// calls for coolDown. After that a single probe is let through; success
// closes the breaker, failure reopens it.
type Breaker struct {
	name        string
	maxFailures int
	coolDown    time.Duration

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	probing     bool

	// Counts decides whether an error trips the breaker. Nil counts every error.
	// Business rejections should not open a circuit on a healthy endpoint.
	Counts func(error) bool

	// OnStateChange is invoked under the breaker lock on every transition.
	OnStateChange func(name string, from, to State)

	now func() time.Time
}

// New creates a breaker named for logs and metrics.
func New(name string, maxFailures int, coolDown time.Duration) *Breaker {
	if maxFailures <= 0 {
		maxFailures = 1
	}
	return &Breaker{
		name:        name,
		maxFailures: maxFailures,
		coolDown:    coolDown,
		state:       StateClosed,
		now:         time.Now,
	}
}

// Name returns the breaker's name.
func (b *Breaker) Name() string { return b.name }

// Execute runs fn unless the breaker is open.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn()
	b.record(err)
	return err
}

// Do is Execute for calls that return a value.
func Do[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var out T
	err := b.Execute(func() error {
		var err error
		out, err = fn()
		return err
	})
	return out, err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateOpen:
		if b.now().Sub(b.lastFailure) < b.coolDown {
			return ErrCircuitOpen
		}
		b.transition(StateHalfOpen)
		b.probing = true
	case StateHalfOpen:
		if b.probing {
			return ErrCircuitOpen
		}
		b.probing = true
	}
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	counted := err != nil && (b.Counts == nil || b.Counts(err))

	if b.state == StateHalfOpen {
		b.probing = false
		if counted {
			b.lastFailure = b.now()
			b.transition(StateOpen)
		} else {
			b.transition(StateClosed)
		}
		return
	}

	if !counted {
		b.failures = 0
		return
	}
	b.failures++
	b.lastFailure = b.now()
	if b.failures >= b.maxFailures && b.state == StateClosed {
		b.transition(StateOpen)
	}
}

// CurrentState returns the breaker state.
func (b *Breaker) CurrentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if to == StateClosed {
		b.failures = 0
	}
	log.Printf("[breaker] %s: %s → %s", b.name, from, to)
	if b.OnStateChange != nil {
		b.OnStateChange(b.name, from, to)
	}
}
