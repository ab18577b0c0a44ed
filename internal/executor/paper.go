package executor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"marlin/internal/logger"
)

// Paper simulates the execution collaborator: orders fill asynchronously
// after a configurable latency with a fixed slippage, and fills come back
// through the registered handler exactly like a live adapter would deliver
// webhook callbacks.
type Paper struct {
	latency     time.Duration
	slippagePct float64

	mu      sync.Mutex
	handler FillHandler
	wg      sync.WaitGroup
	done    chan struct{}
	closed  bool
}

func NewPaper(latency time.Duration, slippagePct float64) *Paper {
	if latency < 0 {
		latency = 0
	}
	return &Paper{latency: latency, slippagePct: slippagePct, done: make(chan struct{})}
}

func (p *Paper) SetFillHandler(h FillHandler) {
	p.mu.Lock()
	p.handler = h
	p.mu.Unlock()
}

func (p *Paper) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	if req.Symbol == "" || req.Quantity <= 0 {
		return OrderResult{}, fmt.Errorf("%w: symbol=%q qty=%v", ErrInvalidOrder, req.Symbol, req.Quantity)
	}
	if err := ctx.Err(); err != nil {
		return OrderResult{}, err
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return OrderResult{}, fmt.Errorf("paper executor closed")
	}
	p.wg.Add(1)
	p.mu.Unlock()

	id := req.ClientOrderID
	if id == "" {
		id = uuid.NewString()
	}

	// the simulated fill outlives the placement context: once the order is
	// accepted, callers may cancel their context without touching the fill,
	// same as a live exchange. Only Close aborts in-flight fills.
	go func() {
		defer p.wg.Done()
		if p.latency > 0 {
			select {
			case <-time.After(p.latency):
			case <-p.done:
				p.deliver(Fill{OrderID: id, Symbol: req.Symbol, Rejected: true, Reason: "executor closed"})
				return
			}
		}
		price := req.Price
		slip := price * p.slippagePct
		if strings.EqualFold(req.Side, "buy") {
			price += slip
		} else {
			price -= slip
		}
		p.deliver(Fill{OrderID: id, Symbol: req.Symbol, Price: price, Quantity: req.Quantity})
	}()

	return OrderResult{ID: id, Status: "pending"}, nil
}

func (p *Paper) CancelOrder(ctx context.Context, orderID string) error {
	// paper fills are immediate after latency; cancellation is a no-op
	logger.Debugf("paper: cancel requested for %s", orderID)
	return nil
}

// Close rejects in-flight simulated fills and waits for them to drain.
func (p *Paper) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.done)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Paper) deliver(f Fill) {
	p.mu.Lock()
	h := p.handler
	p.mu.Unlock()
	if h == nil {
		logger.Warnf("paper: no fill handler registered, dropping fill for %s", f.OrderID)
		return
	}
	h(f)
}
