package notifier

import (
	"fmt"
	"strings"
	"time"

	"marlin/internal/logger"
)

type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Alert is a typed alert event emitted by the risk and portfolio layers.
// Delivery is best effort and never feeds back into trading logic.
type Alert struct {
	Level     Level     `json:"level"`
	Metric    string    `json:"metric"`
	Threshold float64   `json:"threshold,omitempty"`
	Current   float64   `json:"current_value"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
}

func (a Alert) render() string {
	var b strings.Builder
	b.WriteString(strings.ToUpper(string(a.Level)))
	if a.Metric != "" {
		b.WriteString(" [" + a.Metric + "]")
	}
	b.WriteString(" " + a.Message)
	if a.Threshold != 0 {
		b.WriteString(fmt.Sprintf(" (current=%.4f threshold=%.4f)", a.Current, a.Threshold))
	}
	return b.String()
}

// Emitter accepts alerts without blocking the caller.
type Emitter interface {
	Emit(Alert)
}

// TextNotifier is the minimal delivery interface. It is intentionally small
// so components can depend on it without importing concrete implementations.
type TextNotifier interface {
	SendText(text string) error
}

// Dispatcher fans alerts out to a TextNotifier on its own goroutine. The
// inbox is bounded; when it is full alerts are dropped with a log line
// rather than backpressuring the trading path.
type Dispatcher struct {
	sink   TextNotifier
	inbox  chan Alert
	stopCh chan struct{}
	done   chan struct{}
}

func NewDispatcher(sink TextNotifier, buffer int) *Dispatcher {
	if buffer <= 0 {
		buffer = 64
	}
	d := &Dispatcher{
		sink:   sink,
		inbox:  make(chan Alert, buffer),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) Emit(a Alert) {
	if a.At.IsZero() {
		a.At = time.Now().UTC()
	}
	select {
	case d.inbox <- a:
	default:
		logger.Warnf("notifier: inbox full, dropping alert %s/%s", a.Level, a.Metric)
	}
}

func (d *Dispatcher) Stop() {
	close(d.stopCh)
	<-d.done
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		select {
		case a := <-d.inbox:
			d.deliver(a)
		case <-d.stopCh:
			// drain what is already queued, then exit
			for {
				select {
				case a := <-d.inbox:
					d.deliver(a)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(a Alert) {
	logger.Infof("alert %s", a.render())
	if d.sink == nil {
		return
	}
	if err := d.sink.SendText(a.render()); err != nil {
		logger.Warnf("notifier: delivery failed: %v", err)
	}
}

// NopEmitter discards alerts, useful in tests.
type NopEmitter struct{}

func (NopEmitter) Emit(Alert) {}
