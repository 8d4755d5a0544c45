// Package circuit trips after consecutive failures and lets one call through
// once a cool-down has passed.
package circuit

import (
	"errors"
	"sync"
	"time"

	"tradeloop/internal/logger"
)

var ErrOpen = errors.New("circuit: breaker open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
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

type Breaker struct {
	mu          sync.Mutex
	name        string
	state       State
	failures    int
	threshold   int
	cooldown    time.Duration
	lastFailure time.Time
	now         func() time.Time
	onChange    func(name string, from, to State)
}

// New returns a closed breaker that opens after threshold consecutive
// failures. threshold <= 0 is treated as 1.
func New(name string, threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 1
	}
	return &Breaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		state:     StateClosed,
		now:       time.Now,
	}
}

// OnStateChange installs a hook called synchronously on every transition.
func (b *Breaker) OnStateChange(fn func(name string, from, to State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onChange = fn
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.lastFailure) >= b.cooldown {
			b.transition(StateHalfOpen)
			return true
		}
		return false
	default:
		return true
	}
}

func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	if b.state == StateHalfOpen {
		b.transition(StateClosed)
	}
}

func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = b.now()
	switch b.state {
	case StateClosed:
		if b.failures >= b.threshold {
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		b.transition(StateOpen)
	}
}

// Execute runs fn when the breaker allows it and records the outcome.
func (b *Breaker) Execute(fn func() error) error {
	if !b.Allow() {
		return ErrOpen
	}
	if err := fn(); err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}

func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	if b.onChange != nil {
		b.onChange(b.name, from, to)
		return
	}
	logger.Warnf("Breaker %s: %s -> %s (failures=%d/%d, cooldown=%s)",
		b.name, from, to, b.failures, b.threshold, b.cooldown)
}
