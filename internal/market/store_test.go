package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candleAt(openTime int64, close float64) Candle {
	return Candle{
		OpenTime:  openTime,
		CloseTime: openTime + 59_999,
		Open:      close,
		High:      close,
		Low:       close,
		Close:     close,
		Volume:    1,
	}
}

func TestAppendRejectsNonAdvancingCandles(t *testing.T) {
	s := NewStore(10)

	assert.True(t, s.Append("btcusdt", candleAt(1000, 50000)))
	assert.True(t, s.Append("BTCUSDT", candleAt(2000, 50100)))

	// replay and duplicate must not corrupt the history
	assert.False(t, s.Append("BTCUSDT", candleAt(2000, 99999)))
	assert.False(t, s.Append("BTCUSDT", candleAt(1500, 99999)))

	hist := s.History("btcusdt")
	require.Len(t, hist, 2)
	assert.Equal(t, 50100.0, hist[1].Close)
	assert.Equal(t, 50100.0, s.LastClose("BTCUSDT"))
}

func TestAppendEvictsBeyondCap(t *testing.T) {
	s := NewStore(3)
	for i := int64(1); i <= 5; i++ {
		require.True(t, s.Append("ETHUSDT", candleAt(i*1000, float64(i))))
	}

	hist := s.History("ETHUSDT")
	require.Len(t, hist, 3)
	assert.Equal(t, int64(3000), hist[0].OpenTime)
	assert.Equal(t, 5.0, s.LastClose("ETHUSDT"))
}

func TestHistoryReturnsIsolatedCopy(t *testing.T) {
	s := NewStore(10)
	require.True(t, s.Append("BTCUSDT", candleAt(1000, 100)))

	hist := s.History("BTCUSDT")
	hist[0].Close = -1

	assert.Equal(t, 100.0, s.History("BTCUSDT")[0].Close)
}

func TestSeedReplacesHistory(t *testing.T) {
	s := NewStore(3)
	require.True(t, s.Append("BTCUSDT", candleAt(1000, 1)))

	s.Seed("btcusdt", []Candle{
		candleAt(100, 10), candleAt(200, 20), candleAt(300, 30), candleAt(400, 40),
	})

	hist := s.History("BTCUSDT")
	require.Len(t, hist, 3, "seed respects the cache cap")
	assert.Equal(t, int64(200), hist[0].OpenTime)
}

func TestMarkEventSkipsOutOfOrderTicks(t *testing.T) {
	s := NewStore(10)

	assert.True(t, s.MarkEvent("BTCUSDT", 1000))
	assert.True(t, s.MarkEvent("BTCUSDT", 2000))
	assert.False(t, s.MarkEvent("BTCUSDT", 2000), "duplicate timestamp")
	assert.False(t, s.MarkEvent("BTCUSDT", 1500), "stale timestamp")

	// per-symbol watermarks are independent
	assert.True(t, s.MarkEvent("ETHUSDT", 1500))
}

func TestEmptyStoreReads(t *testing.T) {
	s := NewStore(10)

	assert.Nil(t, s.History("BTCUSDT"))
	assert.Equal(t, 0.0, s.LastClose("BTCUSDT"))
}
