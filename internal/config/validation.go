package config

import (
	"fmt"
	"strings"
)

func validate(c *Config) error {
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.Strategy.validate(); err != nil {
		return err
	}
	if err := c.Risk.Validate(); err != nil {
		return fmt.Errorf("risk: %w", err)
	}
	if err := c.Portfolio.validate(); err != nil {
		return err
	}
	if err := c.Executor.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	return nil
}

func (m *MarketConfig) validate() error {
	if len(m.NormalizedSymbols()) == 0 {
		return fmt.Errorf("market.symbols requires at least one symbol")
	}
	if m.MaxCached <= 0 {
		return fmt.Errorf("market.max_cached must be positive")
	}
	if m.MaxStalenessSeconds <= 0 {
		return fmt.Errorf("market.max_staleness_seconds must be positive")
	}
	switch strings.ToLower(m.Name) {
	case "paper", "binance":
	default:
		return fmt.Errorf("market.name must be paper or binance, got %q", m.Name)
	}
	return nil
}

func (s *StrategyConfig) validate() error {
	if s.MinScore < 0 || s.MinScore > 1 {
		return fmt.Errorf("strategy.min_score must be in [0,1], got %v", s.MinScore)
	}
	if s.ProfilesPath == "" {
		switch strings.ToLower(s.Preset) {
		case "conservative", "aggressive", "scalping":
		default:
			return fmt.Errorf("strategy.preset must be conservative, aggressive or scalping, got %q", s.Preset)
		}
	} else if strings.TrimSpace(s.Profile) == "" {
		return fmt.Errorf("strategy.profile is required when strategy.profiles_path is set")
	}
	return nil
}

func (p *PortfolioConfig) validate() error {
	if p.InitialBalance <= 0 {
		return fmt.Errorf("portfolio.initial_balance must be positive, got %v", p.InitialBalance)
	}
	if p.CorrelationWindow < 2 {
		return fmt.Errorf("portfolio.correlation_window must be at least 2, got %d", p.CorrelationWindow)
	}
	return nil
}

func (e *ExecutorConfig) validate() error {
	switch strings.ToLower(e.Mode) {
	case "paper", "webhook":
	default:
		return fmt.Errorf("executor.mode must be paper or webhook, got %q", e.Mode)
	}
	if e.SlippagePct < 0 || e.SlippagePct >= 0.1 {
		return fmt.Errorf("executor.slippage_pct must be in [0,0.1), got %v", e.SlippagePct)
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if n.Telegram.Enabled {
		if strings.TrimSpace(n.Telegram.BotToken) == "" {
			return fmt.Errorf("notify.telegram.bot_token is required when telegram is enabled")
		}
		if strings.TrimSpace(n.Telegram.ChatID) == "" {
			return fmt.Errorf("notify.telegram.chat_id is required when telegram is enabled")
		}
	}
	return nil
}
