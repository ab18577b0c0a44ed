package portfolio

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

type PositionStatus string

const (
	// PositionOpening means the entry order was submitted but not yet filled.
	PositionOpening PositionStatus = "opening"
	// PositionOpen means the fill was confirmed and the position is live.
	PositionOpen PositionStatus = "open"
	// PositionClosing means an exit order is pending.
	PositionClosing PositionStatus = "closing"
)

// Position is owned exclusively by the Manager and mutated only through its
// event loop. Quantity stays strictly positive while the position is open.
type Position struct {
	Symbol     string         `json:"symbol"`
	Side       Side           `json:"side"`
	EntryPrice float64        `json:"entry_price"`
	Quantity   float64        `json:"quantity"`
	StopLoss   float64        `json:"stop_loss"`
	TakeProfit float64        `json:"take_profit"`
	// TrailingPct enables a ratcheting stop: the stop follows HighWater at
	// this distance once set. Zero disables trailing.
	TrailingPct float64        `json:"trailing_pct,omitempty"`
	HighWater   float64        `json:"high_water,omitempty"`
	OpenedAt    time.Time      `json:"opened_at"`
	Status      PositionStatus `json:"status"`
}

// UnrealizedPnL computes mark-to-market PnL at the given price, sign-adjusted
// for side.
func (p *Position) UnrealizedPnL(price float64) float64 {
	if price <= 0 || p.Quantity <= 0 {
		return 0
	}
	entry := decimal.NewFromFloat(p.EntryPrice)
	mark := decimal.NewFromFloat(price)
	qty := decimal.NewFromFloat(p.Quantity)
	diff := mark.Sub(entry)
	if p.Side == SideShort {
		diff = diff.Neg()
	}
	out, _ := diff.Mul(qty).Float64()
	return out
}

// Notional is the current market value of the position.
func (p *Position) Notional(price float64) float64 {
	if price <= 0 {
		price = p.EntryPrice
	}
	return p.Quantity * price
}

// stopHit reports whether price crossed the active stop level. For a long
// the stop triggers at or below; for a short at or above. The trailing stop,
// when active, supersedes the fixed stop because it only ever tightens.
func (p *Position) stopHit(price float64) (float64, bool) {
	stop := p.StopLoss
	if p.TrailingPct > 0 && p.HighWater > 0 {
		trail := trailingStopFor(p.Side, p.HighWater, p.TrailingPct)
		if tighter(p.Side, trail, stop) {
			stop = trail
		}
	}
	if stop <= 0 {
		return 0, false
	}
	mark := decimal.NewFromFloat(price)
	level := decimal.NewFromFloat(stop)
	if p.Side == SideShort {
		return stop, mark.Cmp(level) >= 0
	}
	return stop, mark.Cmp(level) <= 0
}

// takeProfitHit reports whether price crossed the take-profit level.
func (p *Position) takeProfitHit(price float64) bool {
	if p.TakeProfit <= 0 {
		return false
	}
	mark := decimal.NewFromFloat(price)
	level := decimal.NewFromFloat(p.TakeProfit)
	if p.Side == SideShort {
		return mark.Cmp(level) <= 0
	}
	return mark.Cmp(level) >= 0
}

// ratchet advances the high-water mark when price improves. Returns true
// when the mark moved.
func (p *Position) ratchet(price float64) bool {
	if p.TrailingPct <= 0 || price <= 0 {
		return false
	}
	if p.HighWater == 0 {
		p.HighWater = p.EntryPrice
	}
	improved := price > p.HighWater
	if p.Side == SideShort {
		improved = price < p.HighWater
	}
	if improved {
		p.HighWater = price
	}
	return improved
}

func trailingStopFor(side Side, anchor, pct float64) float64 {
	a := decimal.NewFromFloat(anchor)
	f := decimal.NewFromFloat(pct)
	var out decimal.Decimal
	if side == SideShort {
		out = a.Mul(decimal.NewFromInt(1).Add(f))
	} else {
		out = a.Mul(decimal.NewFromInt(1).Sub(f))
	}
	v, _ := out.Float64()
	return v
}

func tighter(side Side, candidate, current float64) bool {
	if candidate <= 0 {
		return false
	}
	if current <= 0 {
		return true
	}
	if side == SideShort {
		return candidate < current
	}
	return candidate > current
}
