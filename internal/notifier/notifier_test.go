package notifier

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu    sync.Mutex
	texts []string
}

func (r *recordingSink) SendText(text string) error {
	r.mu.Lock()
	r.texts = append(r.texts, text)
	r.mu.Unlock()
	return nil
}

func (r *recordingSink) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...)
}

func TestDispatcherDeliversRenderedAlerts(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(sink, 8)

	d.Emit(Alert{
		Level:     LevelWarning,
		Metric:    "drawdown",
		Message:   "drawdown limit breached",
		Current:   0.21,
		Threshold: 0.20,
	})

	require.Eventually(t, func() bool {
		return len(sink.snapshot()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	got := sink.snapshot()[0]
	assert.Contains(t, got, "WARNING")
	assert.Contains(t, got, "[drawdown]")
	assert.Contains(t, got, "drawdown limit breached")
	assert.Contains(t, got, "threshold=0.2000")
	d.Stop()
}

func TestDispatcherStopDrainsQueue(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(sink, 16)

	for i := 0; i < 5; i++ {
		d.Emit(Alert{Level: LevelInfo, Metric: "test", Message: "queued"})
	}
	d.Stop()

	assert.Len(t, sink.snapshot(), 5)
}

func TestEmitNeverBlocksWhenFull(t *testing.T) {
	// nil sink plus tiny buffer: the inbox fills, extra alerts are dropped
	d := NewDispatcher(nil, 1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			d.Emit(Alert{Level: LevelInfo, Metric: "flood", Message: "x"})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked the caller")
	}
	d.Stop()
}
