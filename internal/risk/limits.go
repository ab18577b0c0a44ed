package risk

import "fmt"

// Limits is the read-only risk configuration for a run. All percentages are
// fractions (0.02 = 2%).
type Limits struct {
	MaxPositionSizePct  float64 `mapstructure:"max_position_size_pct" json:"max_position_size_pct"`
	StopLossPct         float64 `mapstructure:"stop_loss_pct" json:"stop_loss_pct"`
	TakeProfitPct       float64 `mapstructure:"take_profit_pct" json:"take_profit_pct"`
	TrailingStopPct     float64 `mapstructure:"trailing_stop_pct" json:"trailing_stop_pct"`
	RiskPerTradePct     float64 `mapstructure:"risk_per_trade_pct" json:"risk_per_trade_pct"`
	MaxDailyTrades      int     `mapstructure:"max_daily_trades" json:"max_daily_trades"`
	MaxPortfolioRiskPct float64 `mapstructure:"max_portfolio_risk_pct" json:"max_portfolio_risk_pct"`
	MaxDrawdownPct      float64 `mapstructure:"max_drawdown_pct" json:"max_drawdown_pct"`
	MaxCorrelation      float64 `mapstructure:"max_correlation" json:"max_correlation"`
}

// Defaults mirror a cautious spot account: 10% per position, 2% stop, 1%
// risk per trade.
func DefaultLimits() Limits {
	return Limits{
		MaxPositionSizePct:  0.10,
		StopLossPct:         0.02,
		TakeProfitPct:       0.04,
		RiskPerTradePct:     0.01,
		MaxDailyTrades:      10,
		MaxPortfolioRiskPct: 0.50,
		MaxDrawdownPct:      0.20,
		MaxCorrelation:      0.80,
	}
}

func (l Limits) Validate() error {
	if l.StopLossPct <= 0 || l.StopLossPct >= 1 {
		return fmt.Errorf("stop_loss_pct must be in (0,1), got %v", l.StopLossPct)
	}
	if l.MaxPositionSizePct <= 0 || l.MaxPositionSizePct > 1 {
		return fmt.Errorf("max_position_size_pct must be in (0,1], got %v", l.MaxPositionSizePct)
	}
	if l.RiskPerTradePct <= 0 || l.RiskPerTradePct > 1 {
		return fmt.Errorf("risk_per_trade_pct must be in (0,1], got %v", l.RiskPerTradePct)
	}
	if l.MaxDailyTrades <= 0 {
		return fmt.Errorf("max_daily_trades must be positive, got %d", l.MaxDailyTrades)
	}
	if l.MaxDrawdownPct <= 0 || l.MaxDrawdownPct >= 1 {
		return fmt.Errorf("max_drawdown_pct must be in (0,1), got %v", l.MaxDrawdownPct)
	}
	if l.MaxPortfolioRiskPct <= 0 || l.MaxPortfolioRiskPct > 1 {
		return fmt.Errorf("max_portfolio_risk_pct must be in (0,1], got %v", l.MaxPortfolioRiskPct)
	}
	if l.MaxCorrelation < 0 || l.MaxCorrelation > 1 {
		return fmt.Errorf("max_correlation must be in [0,1], got %v", l.MaxCorrelation)
	}
	return nil
}
