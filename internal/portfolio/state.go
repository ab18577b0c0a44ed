package portfolio

import (
	"time"
)

// State is the authoritative view of holdings. The Manager owns the single
// mutable instance; everyone else sees copies produced by Snapshot.
type State struct {
	CashBalance       float64              `json:"cash_balance"`
	Equity            float64              `json:"equity"`
	Positions         map[string]*Position `json:"positions"`
	OrderLog          []Order              `json:"order_log"`
	DailyTradeCount   int                  `json:"daily_trade_count"`
	TradeCountResetAt time.Time            `json:"trade_count_reset_at"`
	PeakEquity        float64              `json:"peak_equity"`
	DrawdownPct       float64              `json:"current_drawdown_pct"`
	RealizedPnL       float64              `json:"realized_pnl"`
	LastPrices        map[string]float64   `json:"last_prices,omitempty"`
}

func NewState(initialCash float64) *State {
	return &State{
		CashBalance:       initialCash,
		Equity:            initialCash,
		Positions:         make(map[string]*Position),
		LastPrices:        make(map[string]float64),
		PeakEquity:        initialCash,
		TradeCountResetAt: time.Now().UTC(),
	}
}

// Clone deep-copies the state for copy-on-read snapshots.
func (s *State) Clone() *State {
	cp := *s
	cp.Positions = make(map[string]*Position, len(s.Positions))
	for sym, pos := range s.Positions {
		p := *pos
		cp.Positions[sym] = &p
	}
	cp.LastPrices = make(map[string]float64, len(s.LastPrices))
	for sym, price := range s.LastPrices {
		cp.LastPrices[sym] = price
	}
	cp.OrderLog = append([]Order(nil), s.OrderLog...)
	return &cp
}

// recompute refreshes equity, peak equity and drawdown from the raw fields.
// Open positions are marked at the last seen price, falling back to entry.
// Drawdown is clamped at zero so a fresh peak never reports negative.
func (s *State) recompute() {
	equity := s.CashBalance
	for sym, pos := range s.Positions {
		if pos.Status == PositionOpening {
			// entry not yet filled, cash has not moved
			continue
		}
		price := s.LastPrices[sym]
		if price <= 0 {
			price = pos.EntryPrice
		}
		equity += pos.Notional(price)
	}
	s.Equity = equity
	if equity > s.PeakEquity {
		s.PeakEquity = equity
	}
	if s.PeakEquity > 0 {
		dd := (s.PeakEquity - equity) / s.PeakEquity
		if dd < 0 {
			dd = 0
		}
		s.DrawdownPct = dd
	} else {
		s.DrawdownPct = 0
	}
}

// maybeResetDailyWindow rolls the 24h trade-count window forward at most
// once per call.
func (s *State) maybeResetDailyWindow(now time.Time) {
	if now.Sub(s.TradeCountResetAt) >= 24*time.Hour {
		s.DailyTradeCount = 0
		s.TradeCountResetAt = now
	}
}

// OpenRisk sums the notional of all open positions, used by the risk
// headroom check.
func (s *State) OpenRisk() float64 {
	total := 0.0
	for sym, pos := range s.Positions {
		if pos.Status == PositionOpening {
			continue
		}
		price := s.LastPrices[sym]
		if price <= 0 {
			price = pos.EntryPrice
		}
		total += pos.Notional(price)
	}
	return total
}

// Metrics are derived performance numbers for reporting.
type Metrics struct {
	Equity        float64 `json:"equity"`
	CashBalance   float64 `json:"cash_balance"`
	RealizedPnL   float64 `json:"realized_pnl"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	DrawdownPct   float64 `json:"current_drawdown_pct"`
	OpenPositions int     `json:"open_positions"`
	TotalTrades   int     `json:"total_trades"`
	WinRatePct    float64 `json:"win_rate_pct"`
}

// ComputeMetrics derives reporting metrics from a snapshot.
func (s *State) ComputeMetrics() Metrics {
	m := Metrics{
		Equity:        s.Equity,
		CashBalance:   s.CashBalance,
		RealizedPnL:   s.RealizedPnL,
		DrawdownPct:   s.DrawdownPct,
		OpenPositions: len(s.Positions),
	}
	for sym, pos := range s.Positions {
		price := s.LastPrices[sym]
		if price <= 0 {
			price = pos.EntryPrice
		}
		m.UnrealizedPnL += pos.UnrealizedPnL(price)
	}
	wins, closed := 0, 0
	for _, ord := range s.OrderLog {
		if ord.Status != OrderFilled || ord.PnL == 0 {
			continue
		}
		closed++
		if ord.PnL > 0 {
			wins++
		}
	}
	m.TotalTrades = closed
	if closed > 0 {
		m.WinRatePct = float64(wins) / float64(closed) * 100
	}
	return m
}
