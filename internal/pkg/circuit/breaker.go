package circuit

import (
	"sync"
	"time"

	"marlin/internal/logger"
)

type State int

const (
	StateClosed State = iota
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	default:
		return "UNKNOWN"
	}
}

// Breaker is a latching circuit breaker: once tripped it stays open until
// an explicit Reset. Used as the trading halt for drawdown breaches, where
// recovery is a deliberate operator decision rather than a timeout.
type Breaker struct {
	mu            sync.Mutex
	state         State
	name          string
	reason        string
	trippedAt     time.Time
	onStateChange func(name string, from, to State)
}

func NewBreaker(name string) *Breaker {
	return &Breaker{name: name, state: StateClosed}
}

func (b *Breaker) SetStateChangeHandler(handler func(name string, from, to State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onStateChange = handler
}

// Allow reports whether the guarded operation may proceed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == StateClosed
}

// Trip opens the breaker. Repeated trips while open are no-ops.
func (b *Breaker) Trip(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen {
		return
	}
	b.reason = reason
	b.trippedAt = time.Now()
	b.transition(StateOpen)
}

// Reset closes the breaker again. Returns false when it was not open.
func (b *Breaker) Reset() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateOpen {
		return false
	}
	b.reason = ""
	b.transition(StateClosed)
	return true
}

// Status returns the current state with the trip reason, if any.
func (b *Breaker) Status() (State, string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state, b.reason
}

func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	if b.onStateChange != nil {
		go b.onStateChange(b.name, from, to)
	} else {
		logger.Warnf("Breaker %s state change: %s -> %s (reason=%q)", b.name, from, to, b.reason)
	}
}
