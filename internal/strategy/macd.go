package strategy

import (
	"math"

	talib "github.com/markcheno/go-talib"

	"marlin/internal/market"
)

// MACDConfig controls the convergence-divergence crossover detector.
type MACDConfig struct {
	Fast   int
	Slow   int
	Signal int
}

// MACD votes on histogram zero crossings: crossing above zero is bullish,
// below zero bearish. Strength scales with the magnitude of the histogram.
type MACD struct {
	fast   int
	slow   int
	signal int
}

func NewMACD(cfg MACDConfig) *MACD {
	if cfg.Fast <= 0 {
		cfg.Fast = 12
	}
	if cfg.Slow <= 0 {
		cfg.Slow = 26
	}
	if cfg.Signal <= 0 {
		cfg.Signal = 9
	}
	return &MACD{fast: cfg.Fast, slow: cfg.Slow, signal: cfg.Signal}
}

func (s *MACD) Name() string { return "macd" }

func (s *MACD) MinHistory() int { return s.slow + s.signal + 1 }

func (s *MACD) Analyze(symbol string, history []market.Candle) *Signal {
	if len(history) < s.MinHistory() {
		return nil
	}
	closes := market.Closes(history)
	macdLine, signalLine, hist := talib.Macd(closes, s.fast, s.slow, s.signal)
	n := len(hist)
	cur, prev := hist[n-1], hist[n-2]
	price := closes[len(closes)-1]
	meta := map[string]any{
		"macd":      macdLine[n-1],
		"signal":    signalLine[n-1],
		"histogram": cur,
	}

	switch {
	case prev <= 0 && cur > 0:
		meta["crossover"] = "bullish"
		return &Signal{
			Symbol:      symbol,
			Action:      ActionBuy,
			Strength:    clamp01(math.Abs(cur) * 10),
			Price:       price,
			Strategy:    s.Name(),
			GeneratedAt: signalAt(history),
			Metadata:    meta,
		}
	case prev >= 0 && cur < 0:
		meta["crossover"] = "bearish"
		return &Signal{
			Symbol:      symbol,
			Action:      ActionSell,
			Strength:    clamp01(math.Abs(cur) * 10),
			Price:       price,
			Strategy:    s.Name(),
			GeneratedAt: signalAt(history),
			Metadata:    meta,
		}
	}
	return nil
}
