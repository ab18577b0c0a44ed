package synthetic

import (
	"context"
	"math"
	"math/rand"
	"strings"
	"time"

	"marlin/internal/logger"
	"marlin/internal/market"
)

// Sink matches the engine's market-event surface.
type Sink interface {
	OnTick(t market.Tick)
	OnCandle(symbol string, c market.Candle)
}

type Config struct {
	Symbols []string
	// Interval is the candle period. Synthetic bars close on this cadence.
	Interval time.Duration
	// StartPrice seeds each random walk.
	StartPrice float64
	// Volatility is the per-bar standard deviation as a fraction of price.
	Volatility float64
	// PreheatBars seeds the store with history before the live walk starts.
	PreheatBars int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.StartPrice <= 0 {
		c.StartPrice = 100
	}
	if c.Volatility <= 0 {
		c.Volatility = 0.002
	}
	if c.PreheatBars <= 0 {
		c.PreheatBars = 100
	}
	return c
}

// Feed generates a geometric random walk per symbol. It exists so a paper
// deployment produces realistic-looking bars without any exchange
// connectivity.
type Feed struct {
	cfg  Config
	sink Sink
	rng  *rand.Rand

	prices map[string]float64
}

func NewFeed(cfg Config, sink Sink) *Feed {
	final := cfg.withDefaults()
	prices := make(map[string]float64, len(final.Symbols))
	for _, symbol := range final.Symbols {
		prices[strings.ToUpper(strings.TrimSpace(symbol))] = final.StartPrice
	}
	return &Feed{
		cfg:    final,
		sink:   sink,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		prices: prices,
	}
}

// Preheat seeds history by walking backwards-dated bars into the store.
func (f *Feed) Preheat(_ context.Context, store *market.Store) error {
	now := time.Now().Truncate(f.cfg.Interval)
	start := now.Add(-time.Duration(f.cfg.PreheatBars) * f.cfg.Interval)
	for symbol := range f.prices {
		candles := make([]market.Candle, 0, f.cfg.PreheatBars)
		price := f.cfg.StartPrice
		for i := 0; i < f.cfg.PreheatBars; i++ {
			openTime := start.Add(time.Duration(i) * f.cfg.Interval)
			c, next := f.nextBar(symbol, price, openTime)
			candles = append(candles, c)
			price = next
		}
		f.prices[symbol] = price
		store.Seed(symbol, candles)
		logger.Infof("[synthetic] preheated %s with %d candles", symbol, len(candles))
	}
	return nil
}

// Run emits one closed candle per symbol per interval until ctx is
// cancelled.
func (f *Feed) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.cfg.Interval)
	defer ticker.Stop()
	logger.Infof("[synthetic] feed running (%d symbols, %s bars)", len(f.prices), f.cfg.Interval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			openTime := now.Truncate(f.cfg.Interval).Add(-f.cfg.Interval)
			for symbol, price := range f.prices {
				c, next := f.nextBar(symbol, price, openTime)
				f.prices[symbol] = next
				f.sink.OnTick(market.Tick{
					Symbol:    symbol,
					Price:     c.Close,
					Volume:    c.Volume,
					Timestamp: now,
				})
				f.sink.OnCandle(symbol, c)
			}
		}
	}
}

func (f *Feed) nextBar(_ string, open float64, openTime time.Time) (market.Candle, float64) {
	drift := f.rng.NormFloat64() * f.cfg.Volatility
	close := open * math.Exp(drift)
	high := math.Max(open, close) * (1 + f.rng.Float64()*f.cfg.Volatility)
	low := math.Min(open, close) * (1 - f.rng.Float64()*f.cfg.Volatility)
	volume := 1000 * (1 + f.rng.Float64())
	c := market.Candle{
		OpenTime:  openTime.UnixMilli(),
		CloseTime: openTime.Add(f.cfg.Interval).UnixMilli() - 1,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     close,
		Volume:    volume,
		Trades:    int64(50 + f.rng.Intn(200)),
	}
	return c, close
}
