package config

import (
	"strings"

	"marlin/internal/risk"
)

// Config is the top-level configuration carrier.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Market    MarketConfig    `mapstructure:"market"`
	Strategy  StrategyConfig  `mapstructure:"strategy"`
	Risk      risk.Limits     `mapstructure:"risk"`
	Portfolio PortfolioConfig `mapstructure:"portfolio"`
	Executor  ExecutorConfig  `mapstructure:"executor"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Store     StoreConfig     `mapstructure:"store"`
}

type AppConfig struct {
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`
	HTTPAddr string `mapstructure:"http_addr"`
	LogPath  string `mapstructure:"log_path"`
	// MaintenanceCron schedules snapshot persistence and correlation
	// refresh, robfig/cron syntax.
	MaintenanceCron string `mapstructure:"maintenance_cron"`
}

type MarketConfig struct {
	Name     string   `mapstructure:"name"`
	RESTURL  string   `mapstructure:"rest_url"`
	Symbols  []string `mapstructure:"symbols"`
	Interval string   `mapstructure:"interval"`
	// MaxCached caps the per-symbol candle history.
	MaxCached           int `mapstructure:"max_cached"`
	MaxStalenessSeconds int `mapstructure:"max_staleness_seconds"`
	// PreheatBars is how many historical candles to pull before going live.
	PreheatBars int `mapstructure:"preheat_bars"`
}

// NormalizedSymbols returns the configured symbols uppercased and deduplicated,
// preserving order.
func (m MarketConfig) NormalizedSymbols() []string {
	seen := make(map[string]bool, len(m.Symbols))
	out := make([]string, 0, len(m.Symbols))
	for _, s := range m.Symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

type StrategyConfig struct {
	// Preset selects a built-in strategy set: conservative, aggressive or
	// scalping. ProfilesPath overrides it when set.
	Preset       string  `mapstructure:"preset"`
	ProfilesPath string  `mapstructure:"profiles_path"`
	Profile      string  `mapstructure:"profile"`
	MinScore     float64 `mapstructure:"min_score"`
}

type PortfolioConfig struct {
	InitialBalance float64 `mapstructure:"initial_balance"`
	// CorrelationWindow is the number of trailing returns used when
	// computing pairwise correlation.
	CorrelationWindow int `mapstructure:"correlation_window"`
}

type ExecutorConfig struct {
	// Mode is "paper" (built-in fill simulator) or "webhook" (fills arrive
	// over HTTP from an external engine).
	Mode        string  `mapstructure:"mode"`
	LatencyMS   int     `mapstructure:"latency_ms"`
	SlippagePct float64 `mapstructure:"slippage_pct"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
}
