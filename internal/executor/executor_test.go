package executor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyExec struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (f *flakyExec) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return OrderResult{}, err
		}
	}
	return OrderResult{ID: req.ClientOrderID, Status: "pending"}, nil
}

func (f *flakyExec) CancelOrder(ctx context.Context, orderID string) error { return nil }
func (f *flakyExec) SetFillHandler(h FillHandler)                          {}

func TestPlaceWithRetryRecoversFromRateLimit(t *testing.T) {
	exec := &flakyExec{errs: []error{ErrRateLimitExceeded, ErrRateLimitExceeded, nil}}

	res, err := PlaceWithRetry(context.Background(), exec, OrderRequest{
		Symbol: "BTCUSDT", Side: "buy", Quantity: 1, ClientOrderID: "o1",
	}, 3, time.Millisecond)

	require.NoError(t, err)
	assert.Equal(t, "o1", res.ID)
	assert.Equal(t, 3, exec.calls)
}

func TestPlaceWithRetryFailsFastOnOtherErrors(t *testing.T) {
	exec := &flakyExec{errs: []error{ErrInsufficientFunds}}

	_, err := PlaceWithRetry(context.Background(), exec, OrderRequest{
		Symbol: "BTCUSDT", Side: "buy", Quantity: 1,
	}, 3, time.Millisecond)

	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, 1, exec.calls, "non-rate-limit errors do not retry")
}

func TestPlaceWithRetryExhaustsAttempts(t *testing.T) {
	exec := &flakyExec{errs: []error{ErrRateLimitExceeded, ErrRateLimitExceeded, ErrRateLimitExceeded}}

	_, err := PlaceWithRetry(context.Background(), exec, OrderRequest{
		Symbol: "BTCUSDT", Side: "buy", Quantity: 1,
	}, 3, time.Millisecond)

	assert.ErrorIs(t, err, ErrRateLimitExceeded)
	assert.Equal(t, 3, exec.calls)
}

func TestPaperDeliversFillWithSlippage(t *testing.T) {
	p := NewPaper(0, 0.001)
	defer p.Close()

	fills := make(chan Fill, 1)
	p.SetFillHandler(func(f Fill) { fills <- f })

	res, err := p.PlaceOrder(context.Background(), OrderRequest{
		Symbol: "BTCUSDT", Side: "buy", Quantity: 2, Price: 50000, ClientOrderID: "o1",
	})
	require.NoError(t, err)
	assert.Equal(t, "o1", res.ID, "client order id flows through for reconciliation")
	assert.Equal(t, "pending", res.Status)

	select {
	case f := <-fills:
		assert.Equal(t, "o1", f.OrderID)
		assert.False(t, f.Rejected)
		assert.InDelta(t, 50050.0, f.Price, 1e-9, "buys slip against the taker")
		assert.Equal(t, 2.0, f.Quantity)
	case <-time.After(time.Second):
		t.Fatal("no fill delivered")
	}
}

func TestPaperSellSlipsDown(t *testing.T) {
	p := NewPaper(0, 0.001)
	defer p.Close()

	fills := make(chan Fill, 1)
	p.SetFillHandler(func(f Fill) { fills <- f })

	_, err := p.PlaceOrder(context.Background(), OrderRequest{
		Symbol: "BTCUSDT", Side: "sell", Quantity: 1, Price: 50000, ClientOrderID: "x1",
	})
	require.NoError(t, err)

	select {
	case f := <-fills:
		assert.InDelta(t, 49950.0, f.Price, 1e-9)
	case <-time.After(time.Second):
		t.Fatal("no fill delivered")
	}
}

func TestPaperRejectsInvalidRequests(t *testing.T) {
	p := NewPaper(0, 0)
	defer p.Close()

	_, err := p.PlaceOrder(context.Background(), OrderRequest{Symbol: "", Quantity: 1})
	assert.ErrorIs(t, err, ErrInvalidOrder)

	_, err = p.PlaceOrder(context.Background(), OrderRequest{Symbol: "BTCUSDT", Quantity: 0})
	assert.ErrorIs(t, err, ErrInvalidOrder)
}

func TestPaperFillOutlivesPlacementContext(t *testing.T) {
	p := NewPaper(30*time.Millisecond, 0)
	defer p.Close()

	fills := make(chan Fill, 1)
	p.SetFillHandler(func(f Fill) { fills <- f })

	ctx, cancel := context.WithCancel(context.Background())
	_, err := p.PlaceOrder(ctx, OrderRequest{
		Symbol: "BTCUSDT", Side: "buy", Quantity: 1, Price: 100, ClientOrderID: "o1",
	})
	require.NoError(t, err)
	cancel()

	select {
	case f := <-fills:
		assert.False(t, f.Rejected, "accepted orders fill even after the caller moved on")
		assert.Equal(t, "o1", f.OrderID)
		assert.Equal(t, 100.0, f.Price)
	case <-time.After(time.Second):
		t.Fatal("no fill delivered")
	}
}

func TestPaperCloseRejectsInFlightFills(t *testing.T) {
	p := NewPaper(time.Minute, 0)

	fills := make(chan Fill, 1)
	p.SetFillHandler(func(f Fill) { fills <- f })

	_, err := p.PlaceOrder(context.Background(), OrderRequest{
		Symbol: "BTCUSDT", Side: "buy", Quantity: 1, Price: 100, ClientOrderID: "o1",
	})
	require.NoError(t, err)

	p.Close()

	select {
	case f := <-fills:
		assert.True(t, f.Rejected)
		assert.Equal(t, "executor closed", f.Reason)
	default:
		t.Fatal("close did not resolve the in-flight order")
	}

	_, err = p.PlaceOrder(context.Background(), OrderRequest{
		Symbol: "BTCUSDT", Side: "buy", Quantity: 1, Price: 100,
	})
	assert.Error(t, err)
}

func TestParseFillFlatPayload(t *testing.T) {
	f, err := ParseFill([]byte(`{"order_id":"o1","symbol":"btcusdt","status":"filled","fill_price":50123.5,"fill_qty":0.5}`))

	require.NoError(t, err)
	assert.Equal(t, "o1", f.OrderID)
	assert.Equal(t, "BTCUSDT", f.Symbol)
	assert.Equal(t, 50123.5, f.Price)
	assert.Equal(t, 0.5, f.Quantity)
	assert.False(t, f.Rejected)
}

func TestParseFillNestedOrderPayload(t *testing.T) {
	f, err := ParseFill([]byte(`{"event":"execution","order":{"client_order_id":"o2","pair":"ETHUSDT","state":"filled","average":3001.25,"filled":1.2}}`))

	require.NoError(t, err)
	assert.Equal(t, "o2", f.OrderID)
	assert.Equal(t, "ETHUSDT", f.Symbol)
	assert.Equal(t, 3001.25, f.Price)
	assert.Equal(t, 1.2, f.Quantity)
}

func TestParseFillRejectedPayload(t *testing.T) {
	f, err := ParseFill([]byte(`{"id":"o3","symbol":"BTCUSDT","status":"rejected","reason":"insufficient margin"}`))

	require.NoError(t, err)
	assert.True(t, f.Rejected)
	assert.Equal(t, "insufficient margin", f.Reason)
}

func TestParseFillErrors(t *testing.T) {
	_, err := ParseFill([]byte(`{not json`))
	assert.Error(t, err)

	_, err = ParseFill([]byte(`{"symbol":"BTCUSDT"}`))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "missing order id")
}

func TestRelayRoutesFillsToHandler(t *testing.T) {
	r := NewRelay()

	fills := make(chan Fill, 1)
	r.SetFillHandler(func(f Fill) { fills <- f })

	res, err := r.PlaceOrder(context.Background(), OrderRequest{
		Symbol: "BTCUSDT", Side: "buy", Quantity: 1, ClientOrderID: "o1",
	})
	require.NoError(t, err)
	assert.Equal(t, "o1", res.ID)

	r.Deliver(Fill{OrderID: "o1", Symbol: "BTCUSDT", Price: 50000, Quantity: 1})
	select {
	case f := <-fills:
		assert.Equal(t, "o1", f.OrderID)
	case <-time.After(time.Second):
		t.Fatal("fill not routed")
	}
}

func TestRelayRequiresClientOrderID(t *testing.T) {
	r := NewRelay()

	_, err := r.PlaceOrder(context.Background(), OrderRequest{Symbol: "BTCUSDT", Side: "buy", Quantity: 1})
	assert.True(t, errors.Is(err, ErrInvalidOrder))
}
