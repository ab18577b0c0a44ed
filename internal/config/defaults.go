package config

import "github.com/spf13/viper"

const (
	defaultAppEnv          = "dev"
	defaultAppLogLevel     = "info"
	defaultAppHTTPAddr     = ":9981"
	defaultMaintenanceCron = "@every 1m"

	defaultMarketName    = "paper"
	defaultMarketREST    = "https://api.binance.com"
	defaultInterval      = "1m"
	defaultMaxCached     = 500
	defaultMaxStalenessS = 30
	defaultPreheatBars   = 100

	defaultStrategyPreset = "conservative"
	defaultMinScore       = 0.3

	defaultInitialBalance    = 10000
	defaultCorrelationWindow = 30

	defaultExecutorMode     = "paper"
	defaultExecutorLatency  = 50
	defaultExecutorSlippage = 0.0005

	defaultStorePath = "data/marlin.db"
)

func applyDefaults(v *viper.Viper) {
	v.SetDefault("app.env", defaultAppEnv)
	v.SetDefault("app.log_level", defaultAppLogLevel)
	v.SetDefault("app.http_addr", defaultAppHTTPAddr)
	v.SetDefault("app.maintenance_cron", defaultMaintenanceCron)

	v.SetDefault("market.name", defaultMarketName)
	v.SetDefault("market.rest_url", defaultMarketREST)
	v.SetDefault("market.interval", defaultInterval)
	v.SetDefault("market.max_cached", defaultMaxCached)
	v.SetDefault("market.max_staleness_seconds", defaultMaxStalenessS)
	v.SetDefault("market.preheat_bars", defaultPreheatBars)

	v.SetDefault("strategy.preset", defaultStrategyPreset)
	v.SetDefault("strategy.min_score", defaultMinScore)

	v.SetDefault("portfolio.initial_balance", defaultInitialBalance)
	v.SetDefault("portfolio.correlation_window", defaultCorrelationWindow)

	v.SetDefault("executor.mode", defaultExecutorMode)
	v.SetDefault("executor.latency_ms", defaultExecutorLatency)
	v.SetDefault("executor.slippage_pct", defaultExecutorSlippage)

	v.SetDefault("store.path", defaultStorePath)

	for key, val := range riskDefaults() {
		v.SetDefault("risk."+key, val)
	}
}

// riskDefaults mirrors risk.DefaultLimits so an empty [risk] section yields a
// usable gate rather than an all-zero one.
func riskDefaults() map[string]float64 {
	return map[string]float64{
		"max_position_size_pct":  0.10,
		"stop_loss_pct":          0.02,
		"take_profit_pct":        0.04,
		"risk_per_trade_pct":     0.01,
		"max_daily_trades":       10,
		"max_portfolio_risk_pct": 0.50,
		"max_drawdown_pct":       0.20,
		"max_correlation":        0.80,
	}
}
