package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marlin/internal/market"
)

func candlesFromCloses(closes ...float64) []market.Candle {
	out := make([]market.Candle, len(closes))
	for i, c := range closes {
		out[i] = market.Candle{
			OpenTime:  int64(i) * 60_000,
			CloseTime: int64(i)*60_000 + 59_999,
			Open:      c,
			High:      c,
			Low:       c,
			Close:     c,
			Volume:    100,
		}
	}
	return out
}

func TestMACrossBullishCrossover(t *testing.T) {
	s := NewMACross(MACrossConfig{Fast: 2, Slow: 3})

	// fast SMA sits below slow on the prior bar (7.5 vs 8) and jumps above
	// on the last (13.5 vs 11.67)
	sig := s.Analyze("BTCUSDT", candlesFromCloses(10, 9, 8, 7, 20))

	require.NotNil(t, sig)
	assert.Equal(t, ActionBuy, sig.Action)
	assert.Equal(t, 0.7, sig.Strength)
	assert.Equal(t, 20.0, sig.Price)
	assert.Equal(t, "ma_cross", sig.Strategy)
	assert.Equal(t, "bullish", sig.Metadata["crossover"])
}

func TestMACrossBearishCrossover(t *testing.T) {
	s := NewMACross(MACrossConfig{Fast: 2, Slow: 3})

	sig := s.Analyze("BTCUSDT", candlesFromCloses(10, 11, 12, 13, 2))

	require.NotNil(t, sig)
	assert.Equal(t, ActionSell, sig.Action)
	assert.Equal(t, "bearish", sig.Metadata["crossover"])
}

func TestMACrossAbstainsWithoutCrossing(t *testing.T) {
	s := NewMACross(MACrossConfig{Fast: 2, Slow: 3})

	assert.Nil(t, s.Analyze("BTCUSDT", candlesFromCloses(1, 2, 3, 4, 5)), "steady trend, no cross")
	assert.Nil(t, s.Analyze("BTCUSDT", candlesFromCloses(10, 9, 8)), "short history")
}

func TestMACrossConfigFallbacks(t *testing.T) {
	s := NewMACross(MACrossConfig{Fast: 10, Slow: 5})
	assert.Equal(t, 31, s.MinHistory(), "slow <= fast falls back to 3x fast")
}

func TestRSIOversoldRecovery(t *testing.T) {
	s := NewRSI(RSIConfig{Period: 5, Oversold: 30, Overbought: 70})

	// five straight losses drive RSI to the floor, two green bars lift it
	// back through the oversold line on the last bar
	sig := s.Analyze("BTCUSDT", candlesFromCloses(100, 99, 98, 97, 96, 95, 95.5, 96.5))

	require.NotNil(t, sig)
	assert.Equal(t, ActionBuy, sig.Action)
	assert.Equal(t, "oversold_recovery", sig.Metadata["condition"])
	assert.InDelta(t, 30.43, sig.Metadata["rsi"].(float64), 0.05)
	assert.Equal(t, 1.0, sig.Strength, "deep oversold reading clamps to full strength")
}

func TestRSIOverboughtDecline(t *testing.T) {
	s := NewRSI(RSIConfig{Period: 5, Oversold: 30, Overbought: 70})

	sig := s.Analyze("BTCUSDT", candlesFromCloses(100, 101, 102, 103, 104, 105, 104.5, 103.5))

	require.NotNil(t, sig)
	assert.Equal(t, ActionSell, sig.Action)
	assert.Equal(t, "overbought_decline", sig.Metadata["condition"])
}

func TestRSIAbstainsDuringWarmup(t *testing.T) {
	s := NewRSI(RSIConfig{Period: 14})

	assert.Nil(t, s.Analyze("BTCUSDT", candlesFromCloses(100, 101, 102)))
	assert.Equal(t, 16, s.MinHistory())
}

func TestVolumeSpikeAbstainsOnAverageVolume(t *testing.T) {
	s := NewVolumeSpike(VolumeSpikeConfig{Period: 3, Threshold: 2.0})

	assert.Nil(t, s.Analyze("BTCUSDT", candlesFromCloses(100, 101, 102, 103, 104)),
		"flat volume never spikes")
}

func TestPresetLookup(t *testing.T) {
	for _, name := range []string{"conservative", "Aggressive", " scalping "} {
		set, ok := Preset(name)
		assert.True(t, ok, name)
		assert.NotEmpty(t, set, name)
		for _, w := range set {
			assert.Greater(t, w.Weight, 0.0)
			assert.NotEmpty(t, w.Strategy.Name())
		}
	}

	_, ok := Preset("yolo")
	assert.False(t, ok)
}
