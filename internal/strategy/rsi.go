package strategy

import (
	talib "github.com/markcheno/go-talib"

	"marlin/internal/market"
)

// RSIConfig controls the oscillator-threshold detector.
type RSIConfig struct {
	Period     int
	Oversold   float64
	Overbought float64
}

// RSI votes buy when the oscillator recovers out of the oversold zone and
// sell when it drops out of the overbought zone. Strength scales with how
// deep the previous reading was inside the extreme zone.
type RSI struct {
	period     int
	oversold   float64
	overbought float64
}

func NewRSI(cfg RSIConfig) *RSI {
	if cfg.Period <= 0 {
		cfg.Period = 14
	}
	if cfg.Oversold <= 0 {
		cfg.Oversold = 30
	}
	if cfg.Overbought <= 0 {
		cfg.Overbought = 70
	}
	return &RSI{period: cfg.Period, oversold: cfg.Oversold, overbought: cfg.Overbought}
}

func (s *RSI) Name() string { return "rsi" }

func (s *RSI) MinHistory() int { return s.period + 2 }

func (s *RSI) Analyze(symbol string, history []market.Candle) *Signal {
	if len(history) < s.MinHistory() {
		return nil
	}
	closes := market.Closes(history)
	series := talib.Rsi(closes, s.period)
	n := len(series)
	cur, prev := series[n-1], series[n-2]
	if cur == 0 || prev == 0 {
		// talib warmup region
		return nil
	}
	price := closes[n-1]

	switch {
	case prev <= s.oversold && cur > s.oversold:
		return &Signal{
			Symbol:      symbol,
			Action:      ActionBuy,
			Strength:    clamp01((s.oversold - prev) / 10),
			Price:       price,
			Strategy:    s.Name(),
			GeneratedAt: signalAt(history),
			Metadata:    map[string]any{"rsi": cur, "condition": "oversold_recovery"},
		}
	case prev >= s.overbought && cur < s.overbought:
		return &Signal{
			Symbol:      symbol,
			Action:      ActionSell,
			Strength:    clamp01((prev - s.overbought) / 10),
			Price:       price,
			Strategy:    s.Name(),
			GeneratedAt: signalAt(history),
			Metadata:    map[string]any{"rsi": cur, "condition": "overbought_decline"},
		}
	}
	return nil
}
