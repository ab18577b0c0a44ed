package strategy

import (
	"math"

	talib "github.com/markcheno/go-talib"

	"marlin/internal/market"
)

// BollingerConfig controls the band-breakout detector.
type BollingerConfig struct {
	Period int
	StdDev float64
}

// Bollinger votes on band bounces: a close re-entering from below the lower
// band is a buy, re-entering from above the upper band is a sell. Strength
// scales with the distance from the middle band.
type Bollinger struct {
	period int
	stdDev float64
}

func NewBollinger(cfg BollingerConfig) *Bollinger {
	if cfg.Period <= 0 {
		cfg.Period = 20
	}
	if cfg.StdDev <= 0 {
		cfg.StdDev = 2.0
	}
	return &Bollinger{period: cfg.Period, stdDev: cfg.StdDev}
}

func (s *Bollinger) Name() string { return "bollinger" }

func (s *Bollinger) MinHistory() int { return s.period + 1 }

func (s *Bollinger) Analyze(symbol string, history []market.Candle) *Signal {
	if len(history) < s.MinHistory() {
		return nil
	}
	closes := market.Closes(history)
	upper, middle, lower := talib.BBands(closes, s.period, s.stdDev, s.stdDev, talib.SMA)
	n := len(closes)
	price, prevPrice := closes[n-1], closes[n-2]
	curUpper, curMiddle, curLower := upper[n-1], middle[n-1], lower[n-1]
	if curMiddle == 0 || middle[n-2] == 0 {
		return nil
	}

	meta := map[string]any{
		"upper_band":  curUpper,
		"middle_band": curMiddle,
		"lower_band":  curLower,
	}
	distance := math.Abs(price-curMiddle) / curMiddle

	switch {
	case prevPrice <= lower[n-2] && price > curLower:
		meta["band_position"] = "lower_bounce"
		return &Signal{
			Symbol:      symbol,
			Action:      ActionBuy,
			Strength:    clamp01(distance * 5),
			Price:       price,
			Strategy:    s.Name(),
			GeneratedAt: signalAt(history),
			Metadata:    meta,
		}
	case prevPrice >= upper[n-2] && price < curUpper:
		meta["band_position"] = "upper_bounce"
		return &Signal{
			Symbol:      symbol,
			Action:      ActionSell,
			Strength:    clamp01(distance * 5),
			Price:       price,
			Strategy:    s.Name(),
			GeneratedAt: signalAt(history),
			Metadata:    meta,
		}
	}
	return nil
}
