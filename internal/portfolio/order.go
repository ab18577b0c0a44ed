package portfolio

import "time"

type OrderStatus string

const (
	OrderPending         OrderStatus = "pending"
	OrderFilled          OrderStatus = "filled"
	OrderPartiallyFilled OrderStatus = "partially_filled"
	OrderRejected        OrderStatus = "rejected"
	OrderCancelled       OrderStatus = "cancelled"
)

// terminal reports whether the status ends the order lifecycle. Every order
// transitions exactly once from pending to one of these.
func (s OrderStatus) terminal() bool {
	switch s {
	case OrderFilled, OrderPartiallyFilled, OrderRejected, OrderCancelled:
		return true
	}
	return false
}

type OrderType string

const (
	OrderTypeMarket     OrderType = "market"
	OrderTypeStopLoss   OrderType = "stop_loss"
	OrderTypeTakeProfit OrderType = "take_profit"
)

// Order is one entry of the append-only order log. Closing orders carry the
// realized PnL of the trade they closed.
type Order struct {
	ID         string      `json:"id"`
	Symbol     string      `json:"symbol"`
	Side       string      `json:"side"`
	Type       OrderType   `json:"type"`
	Quantity   float64     `json:"quantity"`
	Price      float64     `json:"price"`
	FillPrice  float64     `json:"fill_price,omitempty"`
	FillQty    float64     `json:"fill_qty,omitempty"`
	Status     OrderStatus `json:"status"`
	Reason     string      `json:"reason,omitempty"`
	PnL        float64     `json:"pnl,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	ResolvedAt *time.Time  `json:"resolved_at,omitempty"`
}
