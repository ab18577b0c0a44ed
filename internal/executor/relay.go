package executor

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"marlin/internal/logger"
)

// Relay hands orders to an external execution engine that reports fills back
// over the HTTP fill webhook. PlaceOrder only validates and acknowledges; the
// order stays pending until Deliver is called with the reported outcome.
type Relay struct {
	mu      sync.RWMutex
	handler FillHandler
}

func NewRelay() *Relay { return &Relay{} }

func (r *Relay) SetFillHandler(h FillHandler) {
	r.mu.Lock()
	r.handler = h
	r.mu.Unlock()
}

func (r *Relay) PlaceOrder(_ context.Context, req OrderRequest) (OrderResult, error) {
	if strings.TrimSpace(req.Symbol) == "" || req.Quantity <= 0 {
		return OrderResult{}, fmt.Errorf("%w: symbol and quantity are required", ErrInvalidOrder)
	}
	if strings.TrimSpace(req.ClientOrderID) == "" {
		return OrderResult{}, fmt.Errorf("%w: client order id is required", ErrInvalidOrder)
	}
	logger.Infof("[relay] order %s handed off: %s %s qty=%.8f",
		req.ClientOrderID, req.Side, req.Symbol, req.Quantity)
	return OrderResult{ID: req.ClientOrderID, Status: "pending"}, nil
}

func (r *Relay) CancelOrder(_ context.Context, orderID string) error {
	// cancellation is owned by the external engine; surface the request as a
	// rejected fill so the portfolio rolls the order back
	r.Deliver(Fill{OrderID: orderID, Rejected: true, Reason: "cancelled"})
	return nil
}

// Deliver routes an externally reported fill to the registered handler. The
// HTTP fill webhook calls this.
func (r *Relay) Deliver(f Fill) {
	r.mu.RLock()
	handler := r.handler
	r.mu.RUnlock()
	if handler == nil {
		logger.Warnf("[relay] no fill handler registered, dropping fill for %s", f.OrderID)
		return
	}
	handler(f)
}
