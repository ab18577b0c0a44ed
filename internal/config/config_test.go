package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
market:
  symbols: [btcusdt]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9981", cfg.App.HTTPAddr)
	assert.Equal(t, "@every 1m", cfg.App.MaintenanceCron)
	assert.Equal(t, "paper", cfg.Market.Name)
	assert.Equal(t, "1m", cfg.Market.Interval)
	assert.Equal(t, 500, cfg.Market.MaxCached)
	assert.Equal(t, 30, cfg.Market.MaxStalenessSeconds)
	assert.Equal(t, "conservative", cfg.Strategy.Preset)
	assert.Equal(t, 0.3, cfg.Strategy.MinScore)
	assert.Equal(t, 10000.0, cfg.Portfolio.InitialBalance)
	assert.Equal(t, "paper", cfg.Executor.Mode)
	assert.Equal(t, 0.02, cfg.Risk.StopLossPct)
	assert.Equal(t, 0.01, cfg.Risk.RiskPerTradePct)
	assert.Equal(t, 10, cfg.Risk.MaxDailyTrades)
	assert.Equal(t, []string{"BTCUSDT"}, cfg.Market.NormalizedSymbols())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
app:
  http_addr: ":8080"
  log_level: debug
market:
  name: binance
  symbols: [BTCUSDT, ethusdt, BTCUSDT]
  interval: 5m
strategy:
  preset: aggressive
  min_score: 0.45
risk:
  stop_loss_pct: 0.03
  max_daily_trades: 4
portfolio:
  initial_balance: 25000
executor:
  mode: webhook
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.App.HTTPAddr)
	assert.Equal(t, "binance", cfg.Market.Name)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, cfg.Market.NormalizedSymbols(), "deduplicated and uppercased")
	assert.Equal(t, 0.45, cfg.Strategy.MinScore)
	assert.Equal(t, 0.03, cfg.Risk.StopLossPct)
	assert.Equal(t, 4, cfg.Risk.MaxDailyTrades)
	assert.Equal(t, 25000.0, cfg.Portfolio.InitialBalance)
	assert.Equal(t, "webhook", cfg.Executor.Mode)
	// untouched sections keep their defaults
	assert.Equal(t, 0.20, cfg.Risk.MaxDrawdownPct)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)

	_, err = Load("")
	assert.Error(t, err)
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "no symbols",
			yaml:    "market:\n  symbols: []\n",
			wantErr: "market.symbols",
		},
		{
			name:    "unknown market",
			yaml:    "market:\n  name: kraken\n  symbols: [BTCUSDT]\n",
			wantErr: "market.name",
		},
		{
			name:    "unknown preset",
			yaml:    "market:\n  symbols: [BTCUSDT]\nstrategy:\n  preset: yolo\n",
			wantErr: "strategy.preset",
		},
		{
			name:    "profiles path without profile",
			yaml:    "market:\n  symbols: [BTCUSDT]\nstrategy:\n  profiles_path: profiles.yaml\n",
			wantErr: "strategy.profile",
		},
		{
			name:    "min score out of range",
			yaml:    "market:\n  symbols: [BTCUSDT]\nstrategy:\n  min_score: 1.5\n",
			wantErr: "strategy.min_score",
		},
		{
			name:    "negative balance",
			yaml:    "market:\n  symbols: [BTCUSDT]\nportfolio:\n  initial_balance: -5\n",
			wantErr: "portfolio.initial_balance",
		},
		{
			name:    "unknown executor mode",
			yaml:    "market:\n  symbols: [BTCUSDT]\nexecutor:\n  mode: live\n",
			wantErr: "executor.mode",
		},
		{
			name:    "telegram enabled without token",
			yaml:    "market:\n  symbols: [BTCUSDT]\nnotify:\n  telegram:\n    enabled: true\n    chat_id: \"42\"\n",
			wantErr: "bot_token",
		},
		{
			name:    "bad risk limits",
			yaml:    "market:\n  symbols: [BTCUSDT]\nrisk:\n  max_drawdown_pct: 2.0\n",
			wantErr: "risk",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
