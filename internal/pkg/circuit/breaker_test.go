package circuit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBreakerLatchesUntilReset(t *testing.T) {
	b := NewBreaker("trading")
	b.SetStateChangeHandler(func(string, State, State) {})

	assert.True(t, b.Allow())

	b.Trip("drawdown exceeded")
	assert.False(t, b.Allow())
	state, reason := b.Status()
	assert.Equal(t, StateOpen, state)
	assert.Equal(t, "drawdown exceeded", reason)

	// re-tripping while open keeps the original reason
	b.Trip("another reason")
	_, reason = b.Status()
	assert.Equal(t, "drawdown exceeded", reason)

	assert.True(t, b.Reset())
	assert.True(t, b.Allow())
	state, reason = b.Status()
	assert.Equal(t, StateClosed, state)
	assert.Empty(t, reason)

	assert.False(t, b.Reset(), "resetting a closed breaker is a no-op")
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "CLOSED", StateClosed.String())
	assert.Equal(t, "OPEN", StateOpen.String())
}
