package executor

import (
	"context"
	"errors"
	"time"

	"marlin/internal/logger"
)

// Execution-side failure kinds reported by the exchange collaborator. All of
// them are recoverable by veto for the single order attempt; none are fatal
// for the process.
var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidOrder      = errors.New("invalid order")
	ErrAuthentication    = errors.New("authentication error")
)

type OrderRequest struct {
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	Type     string  `json:"type"`
	Quantity float64 `json:"quantity"`
	Price    float64 `json:"price,omitempty"`
	// ClientOrderID ties the exchange order back to the portfolio order log.
	ClientOrderID string `json:"client_order_id"`
}

type OrderResult struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Fill is the normalized fill confirmation delivered back by the execution
// collaborator.
type Fill struct {
	OrderID  string  `json:"order_id"`
	Symbol   string  `json:"symbol"`
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
	Rejected bool    `json:"rejected,omitempty"`
	Reason   string  `json:"reason,omitempty"`
}

type FillHandler func(Fill)

// Executor is the abstract place/cancel order capability. Implementations own
// all wire-level concerns; the core never sees a socket.
type Executor interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelOrder(ctx context.Context, orderID string) error
	// SetFillHandler registers the callback invoked for every resolved order.
	SetFillHandler(h FillHandler)
}

// PlaceWithRetry places an order, retrying with linear backoff only on rate
// limiting. Every other execution error fails the attempt immediately.
func PlaceWithRetry(ctx context.Context, exec Executor, req OrderRequest, attempts int, baseDelay time.Duration) (OrderResult, error) {
	if attempts <= 0 {
		attempts = 3
	}
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		res, err := exec.PlaceOrder(ctx, req)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !errors.Is(err, ErrRateLimitExceeded) {
			return OrderResult{}, err
		}
		delay := time.Duration(i+1) * baseDelay
		logger.Warnf("executor: rate limited placing %s %s, retrying in %s", req.Side, req.Symbol, delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return OrderResult{}, ctx.Err()
		}
	}
	return OrderResult{}, lastErr
}
