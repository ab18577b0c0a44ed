package strategy

import (
	talib "github.com/markcheno/go-talib"

	"marlin/internal/market"
)

// VolumeSpikeConfig controls the volume-spike detector.
type VolumeSpikeConfig struct {
	Period    int
	Threshold float64
}

// VolumeSpike votes with the price direction when volume spikes above its
// rolling average by the configured multiple. Quiet tape abstains.
type VolumeSpike struct {
	period    int
	threshold float64
}

func NewVolumeSpike(cfg VolumeSpikeConfig) *VolumeSpike {
	if cfg.Period <= 0 {
		cfg.Period = 20
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 1.5
	}
	return &VolumeSpike{period: cfg.Period, threshold: cfg.Threshold}
}

func (s *VolumeSpike) Name() string { return "volume_spike" }

func (s *VolumeSpike) MinHistory() int { return s.period + 1 }

func (s *VolumeSpike) Analyze(symbol string, history []market.Candle) *Signal {
	if len(history) < s.MinHistory() {
		return nil
	}
	volumes := market.Volumes(history)
	closes := market.Closes(history)
	avg := talib.Sma(volumes, s.period)
	n := len(volumes)
	curVol, curAvg := volumes[n-1], avg[n-1]
	if curAvg <= 0 || curVol <= curAvg*s.threshold {
		return nil
	}
	price, prevPrice := closes[n-1], closes[n-2]
	if prevPrice <= 0 || price == prevPrice {
		return nil
	}

	volumeRatio := curVol / curAvg
	change := (price - prevPrice) / prevPrice
	meta := map[string]any{"volume_ratio": volumeRatio, "price_change": change, "avg_volume": curAvg}

	action := ActionBuy
	if price < prevPrice {
		action = ActionSell
		change = -change
	}
	return &Signal{
		Symbol:      symbol,
		Action:      action,
		Strength:    clamp01(volumeRatio * change * 10),
		Price:       price,
		Strategy:    s.Name(),
		GeneratedAt: signalAt(history),
		Metadata:    meta,
	}
}
