package strategy

import (
	talib "github.com/markcheno/go-talib"

	"marlin/internal/market"
)

// MACrossConfig controls the moving-average crossover detector.
type MACrossConfig struct {
	Fast int
	Slow int
}

// MACross fires on a fast/slow SMA crossover: bullish cross votes buy,
// bearish cross votes sell. Between crossings it abstains.
type MACross struct {
	fast int
	slow int
}

func NewMACross(cfg MACrossConfig) *MACross {
	if cfg.Fast <= 0 {
		cfg.Fast = 10
	}
	if cfg.Slow <= cfg.Fast {
		cfg.Slow = cfg.Fast * 3
	}
	return &MACross{fast: cfg.Fast, slow: cfg.Slow}
}

func (s *MACross) Name() string { return "ma_cross" }

func (s *MACross) MinHistory() int { return s.slow + 1 }

func (s *MACross) Analyze(symbol string, history []market.Candle) *Signal {
	if len(history) < s.MinHistory() {
		return nil
	}
	closes := market.Closes(history)
	fastMA := talib.Sma(closes, s.fast)
	slowMA := talib.Sma(closes, s.slow)
	n := len(closes)
	curFast, prevFast := fastMA[n-1], fastMA[n-2]
	curSlow, prevSlow := slowMA[n-1], slowMA[n-2]
	if prevSlow == 0 || curSlow == 0 {
		return nil
	}

	price := closes[n-1]
	meta := map[string]any{"fast_ma": curFast, "slow_ma": curSlow}

	switch {
	case prevFast <= prevSlow && curFast > curSlow:
		meta["crossover"] = "bullish"
		return &Signal{
			Symbol:      symbol,
			Action:      ActionBuy,
			Strength:    0.7,
			Price:       price,
			Strategy:    s.Name(),
			GeneratedAt: signalAt(history),
			Metadata:    meta,
		}
	case prevFast >= prevSlow && curFast < curSlow:
		meta["crossover"] = "bearish"
		return &Signal{
			Symbol:      symbol,
			Action:      ActionSell,
			Strength:    0.7,
			Price:       price,
			Strategy:    s.Name(),
			GeneratedAt: signalAt(history),
			Metadata:    meta,
		}
	}
	return nil
}
