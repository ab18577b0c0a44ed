package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"marlin/internal/decision"
	"marlin/internal/logger"
	"marlin/internal/notifier"
	"marlin/internal/pkg/circuit"
	"marlin/internal/portfolio"
	"marlin/internal/strategy"
)

// CorrelationSource supplies precomputed trailing-return correlations. The
// risk manager only consumes them; computing the matrix is someone else's job.
type CorrelationSource interface {
	Correlation(a, b string) (float64, bool)
}

// Manager validates and sizes consensus decisions against the configured
// limits and the current portfolio snapshot. Checks run in a fixed order and
// short-circuit on the first failure; each failure is a distinct veto reason.
// The manager never mutates portfolio state.
type Manager struct {
	limits  Limits
	corr    CorrelationSource
	alerts  notifier.Emitter
	breaker *circuit.Breaker

	mu      sync.Mutex
	pending map[string]int
}

func NewManager(limits Limits, corr CorrelationSource, alerts notifier.Emitter) *Manager {
	return &Manager{
		limits:  limits,
		corr:    corr,
		alerts:  alerts,
		breaker: circuit.NewBreaker("drawdown_halt"),
		pending: make(map[string]int),
	}
}

func (m *Manager) Limits() Limits { return m.limits }

// HaltStatus exposes the drawdown halt for reporting.
func (m *Manager) HaltStatus() (circuit.State, string) { return m.breaker.Status() }

// ResetHalt clears the drawdown halt. Intended for explicit operator action.
func (m *Manager) ResetHalt() bool {
	ok := m.breaker.Reset()
	if ok {
		logger.Infof("risk: drawdown halt reset")
	}
	return ok
}

// Evaluate runs the gate. On approval it increments the symbol's
// pending-count so a racing second decision is vetoed with
// PendingOrderExists until Release is called.
func (m *Manager) Evaluate(dec decision.Decision, snap *portfolio.State) (*ApprovedOrder, *Veto) {
	symbol := dec.Symbol
	pos, hasPosition := snap.Positions[symbol]

	if v := m.checkPending(symbol); v != nil {
		return nil, v
	}

	if v := m.checkDailyLimit(snap); v != nil {
		return nil, v
	}

	if v := m.checkDrawdown(dec.Action, snap); v != nil {
		return nil, v
	}

	switch dec.Action {
	case strategy.ActionSell:
		// risk management prioritizes unwinding exposure: a sell against an
		// open position is always approved for the full quantity
		if !hasPosition {
			return nil, &Veto{Reason: VetoNoOpenPosition, Detail: fmt.Sprintf("no open position for %s", symbol)}
		}
		approved := &ApprovedOrder{
			Symbol:         symbol,
			Side:           strategy.ActionSell,
			Quantity:       pos.Quantity,
			Price:          dec.Price,
			ClosesPosition: true,
		}
		m.markPending(symbol)
		return approved, nil

	case strategy.ActionBuy:
		if hasPosition {
			return nil, &Veto{Reason: VetoPositionAlreadyOpen, Detail: fmt.Sprintf("position already open for %s", symbol)}
		}
		qty, v := m.sizePosition(dec.Price, snap)
		if v != nil {
			return nil, v
		}
		if v := m.checkCorrelation(symbol, snap); v != nil {
			return nil, v
		}
		stop, take := m.exitLevels(dec.Price)
		approved := &ApprovedOrder{
			Symbol:      symbol,
			Side:        strategy.ActionBuy,
			Quantity:    qty,
			Price:       dec.Price,
			StopLoss:    stop,
			TakeProfit:  take,
			TrailingPct: m.limits.TrailingStopPct,
		}
		m.markPending(symbol)
		return approved, nil
	}

	return nil, &Veto{Reason: VetoedExecution, Detail: fmt.Sprintf("unsupported action %s", dec.Action)}
}

// Release drops the pending-count after the order resolved (filled,
// rejected, cancelled or timed out).
func (m *Manager) Release(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending[symbol] > 0 {
		m.pending[symbol]--
	}
	if m.pending[symbol] == 0 {
		delete(m.pending, symbol)
	}
}

func (m *Manager) checkPending(symbol string) *Veto {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending[symbol] > 0 {
		return &Veto{Reason: VetoPendingOrderExists, Detail: fmt.Sprintf("order in flight for %s", symbol)}
	}
	return nil
}

func (m *Manager) markPending(symbol string) {
	m.mu.Lock()
	m.pending[symbol]++
	m.mu.Unlock()
}

func (m *Manager) checkDailyLimit(snap *portfolio.State) *Veto {
	count := snap.DailyTradeCount
	// the portfolio only rolls the window when a trade lands; an idle day
	// still frees the budget
	if time.Since(snap.TradeCountResetAt) >= 24*time.Hour {
		count = 0
	}
	if count >= m.limits.MaxDailyTrades {
		return &Veto{
			Reason: VetoDailyLimitReached,
			Detail: fmt.Sprintf("daily trades %d >= limit %d", count, m.limits.MaxDailyTrades),
		}
	}
	return nil
}

// checkDrawdown enforces the hard circuit breaker. Once the drawdown limit
// is hit the halt latches: every subsequent buy is vetoed until an explicit
// ResetHalt, while sells stay allowed so exposure can still be unwound.
func (m *Manager) checkDrawdown(action strategy.Action, snap *portfolio.State) *Veto {
	if snap.DrawdownPct >= m.limits.MaxDrawdownPct {
		wasOpen := !m.breaker.Allow()
		m.breaker.Trip(fmt.Sprintf("drawdown %.4f >= limit %.4f", snap.DrawdownPct, m.limits.MaxDrawdownPct))
		if !wasOpen {
			m.emitAlert(notifier.Alert{
				Level:     notifier.LevelCritical,
				Metric:    "drawdown",
				Threshold: m.limits.MaxDrawdownPct,
				Current:   snap.DrawdownPct,
				Message:   "drawdown limit breached, trading halted for new entries",
			})
		}
	}
	if action == strategy.ActionBuy && !m.breaker.Allow() {
		_, reason := m.breaker.Status()
		return &Veto{Reason: VetoDrawdownBreached, Detail: reason}
	}
	return nil
}

func (m *Manager) checkCorrelation(symbol string, snap *portfolio.State) *Veto {
	if m.corr == nil || m.limits.MaxCorrelation <= 0 {
		return nil
	}
	for open := range snap.Positions {
		corr, ok := m.corr.Correlation(symbol, open)
		if !ok {
			continue
		}
		if corr > m.limits.MaxCorrelation {
			return &Veto{
				Reason: VetoCorrelationLimitExceeded,
				Detail: fmt.Sprintf("corr(%s,%s)=%.3f > limit %.3f", symbol, open, corr, m.limits.MaxCorrelation),
			}
		}
	}
	return nil
}

// sizePosition computes the entry quantity:
//
//	min(max_position_size_pct × equity, risk_per_trade_pct × equity / stop_loss_pct) / price
//
// then shrinks to the remaining portfolio-risk headroom, vetoing when no
// headroom is left. Decimal arithmetic keeps the result reproducible.
func (m *Manager) sizePosition(price float64, snap *portfolio.State) (float64, *Veto) {
	if price <= 0 {
		return 0, &Veto{Reason: VetoedExecution, Detail: "non-positive reference price"}
	}
	equity := decimal.NewFromFloat(snap.Equity)
	refPrice := decimal.NewFromFloat(price)

	bySize := equity.Mul(decimal.NewFromFloat(m.limits.MaxPositionSizePct))
	byRisk := equity.
		Mul(decimal.NewFromFloat(m.limits.RiskPerTradePct)).
		Div(decimal.NewFromFloat(m.limits.StopLossPct))
	notional := decimal.Min(bySize, byRisk)

	headroom := equity.Mul(decimal.NewFromFloat(m.limits.MaxPortfolioRiskPct)).
		Sub(decimal.NewFromFloat(snap.OpenRisk()))
	if headroom.LessThanOrEqual(decimal.Zero) {
		return 0, &Veto{
			Reason: VetoPortfolioRiskExceeded,
			Detail: fmt.Sprintf("open risk %.2f leaves no headroom", snap.OpenRisk()),
		}
	}
	if notional.GreaterThan(headroom) {
		logger.Debugf("risk: shrinking order notional %s to headroom %s", notional, headroom)
		notional = headroom
	}

	qty, _ := notional.Div(refPrice).Float64()
	if qty <= 0 {
		return 0, &Veto{Reason: VetoPortfolioRiskExceeded, Detail: "sized quantity is zero"}
	}
	return qty, nil
}

func (m *Manager) exitLevels(price float64) (stop, take float64) {
	p := decimal.NewFromFloat(price)
	one := decimal.NewFromInt(1)
	stop, _ = p.Mul(one.Sub(decimal.NewFromFloat(m.limits.StopLossPct))).Float64()
	if m.limits.TakeProfitPct > 0 {
		take, _ = p.Mul(one.Add(decimal.NewFromFloat(m.limits.TakeProfitPct))).Float64()
	}
	return stop, take
}

func (m *Manager) emitAlert(a notifier.Alert) {
	if m.alerts == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("risk: alert emit panicked: %v", r)
		}
	}()
	m.alerts.Emit(a)
}
