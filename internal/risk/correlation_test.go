package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marlin/internal/market"
)

func seedCloses(store *market.Store, symbol string, closes []float64) {
	candles := make([]market.Candle, len(closes))
	for i, c := range closes {
		candles[i] = market.Candle{
			OpenTime: int64(i) * 60_000,
			Close:    c,
		}
	}
	store.Seed(symbol, candles)
}

func TestCorrelationIdenticalSeries(t *testing.T) {
	store := market.NewStore(100)
	series := []float64{100, 102, 101, 105, 103, 108, 107, 110}
	seedCloses(store, "BTCUSDT", series)
	seedCloses(store, "ETHUSDT", series)

	tr := NewCorrelationTracker(store, 30)
	tr.Refresh([]string{"BTCUSDT", "ETHUSDT"})

	corr, ok := tr.Correlation("BTCUSDT", "ETHUSDT")
	require.True(t, ok)
	assert.InDelta(t, 1.0, corr, 1e-9)

	// pair order does not matter
	rev, ok := tr.Correlation("ethusdt", "btcusdt")
	require.True(t, ok)
	assert.Equal(t, corr, rev)
}

func TestCorrelationInvertedSeries(t *testing.T) {
	store := market.NewStore(100)
	seedCloses(store, "BTCUSDT", []float64{100, 101, 100, 101, 100, 101})
	// returns of equal magnitude, opposite sign
	seedCloses(store, "ETHUSDT", []float64{101, 100, 101, 100, 101, 100})

	tr := NewCorrelationTracker(store, 30)
	tr.Refresh([]string{"BTCUSDT", "ETHUSDT"})

	corr, ok := tr.Correlation("BTCUSDT", "ETHUSDT")
	require.True(t, ok)
	assert.Less(t, corr, -0.9)
	assert.GreaterOrEqual(t, corr, -1.0, "clamped to the valid range")
}

func TestCorrelationSelfPairIsAlwaysOne(t *testing.T) {
	tr := NewCorrelationTracker(market.NewStore(100), 30)

	corr, ok := tr.Correlation("BTCUSDT", "btcusdt")
	assert.True(t, ok)
	assert.Equal(t, 1.0, corr)
}

func TestCorrelationZeroVarianceExcluded(t *testing.T) {
	store := market.NewStore(100)
	seedCloses(store, "BTCUSDT", []float64{100, 102, 101, 105, 103})
	// flat series has zero return variance, the pair is unreportable
	seedCloses(store, "USDCUSDT", []float64{1, 1, 1, 1, 1})

	tr := NewCorrelationTracker(store, 30)
	tr.Refresh([]string{"BTCUSDT", "USDCUSDT"})

	_, ok := tr.Correlation("BTCUSDT", "USDCUSDT")
	assert.False(t, ok)
}

func TestCorrelationInsufficientHistoryExcluded(t *testing.T) {
	store := market.NewStore(100)
	seedCloses(store, "BTCUSDT", []float64{100, 102, 101, 105})
	seedCloses(store, "NEWUSDT", []float64{5})

	tr := NewCorrelationTracker(store, 30)
	tr.Refresh([]string{"BTCUSDT", "NEWUSDT"})

	_, ok := tr.Correlation("BTCUSDT", "NEWUSDT")
	assert.False(t, ok)
}

func TestCorrelationWindowLimitsLookback(t *testing.T) {
	store := market.NewStore(200)
	// long anti-correlated prefix, perfectly correlated recent window
	a := make([]float64, 0, 60)
	b := make([]float64, 0, 60)
	for i := 0; i < 50; i++ {
		if i%2 == 0 {
			a = append(a, 100)
			b = append(b, 110)
		} else {
			a = append(a, 110)
			b = append(b, 100)
		}
	}
	tail := []float64{100, 103, 101, 106, 104, 109, 105, 111, 108, 112, 110}
	a = append(a, tail...)
	b = append(b, tail...)
	seedCloses(store, "BTCUSDT", a)
	seedCloses(store, "ETHUSDT", b)

	tr := NewCorrelationTracker(store, 10)
	tr.Refresh([]string{"BTCUSDT", "ETHUSDT"})

	corr, ok := tr.Correlation("BTCUSDT", "ETHUSDT")
	require.True(t, ok)
	assert.InDelta(t, 1.0, corr, 1e-9, "only the trailing window counts")
}
