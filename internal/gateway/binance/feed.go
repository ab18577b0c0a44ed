package binance

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"

	"marlin/internal/logger"
	"marlin/internal/market"
)

const maxHistoryLimit = 1000

// Sink receives normalized market events. The engine implements it.
type Sink interface {
	OnTick(t market.Tick)
	OnCandle(symbol string, c market.Candle)
}

type Config struct {
	RESTBaseURL string
	Symbols     []string
	Interval    string
	PreheatBars int
}

func (c Config) withDefaults() Config {
	if c.Interval == "" {
		c.Interval = "1m"
	}
	if c.PreheatBars <= 0 {
		c.PreheatBars = 100
	}
	return c
}

// Feed streams Binance spot klines into a Sink. Every update is forwarded as
// a tick; a bar is forwarded as a candle only once the exchange marks it
// final.
type Feed struct {
	cfg    Config
	client *binance.Client
	sink   Sink

	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewFeed(cfg Config, sink Sink) (*Feed, error) {
	final := cfg.withDefaults()
	if len(final.Symbols) == 0 {
		return nil, fmt.Errorf("binance feed requires symbols")
	}
	if sink == nil {
		return nil, fmt.Errorf("binance feed requires a sink")
	}
	client := binance.NewClient("", "")
	if base := strings.TrimSpace(final.RESTBaseURL); base != "" {
		client.BaseURL = base
	}
	return &Feed{cfg: final, client: client, sink: sink}, nil
}

// Preheat seeds the candle store with recent history so strategies have a
// full lookback window before the first live bar arrives.
func (f *Feed) Preheat(ctx context.Context, store *market.Store) error {
	limit := f.cfg.PreheatBars
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	for _, symbol := range f.cfg.Symbols {
		kls, err := f.client.NewKlinesService().
			Symbol(symbol).
			Interval(f.cfg.Interval).
			Limit(limit).
			Do(ctx)
		if err != nil {
			return fmt.Errorf("preheat %s failed: %w", symbol, err)
		}
		candles := make([]market.Candle, 0, len(kls))
		for _, kl := range kls {
			if kl == nil {
				continue
			}
			candles = append(candles, market.Candle{
				OpenTime:  kl.OpenTime,
				CloseTime: kl.CloseTime,
				Open:      parseFloat(kl.Open),
				High:      parseFloat(kl.High),
				Low:       parseFloat(kl.Low),
				Close:     parseFloat(kl.Close),
				Volume:    parseFloat(kl.Volume),
				Trades:    kl.TradeNum,
			})
		}
		// the last kline is still forming, keep closed bars only
		if len(candles) > 0 && candles[len(candles)-1].CloseTime > time.Now().UnixMilli() {
			candles = candles[:len(candles)-1]
		}
		store.Seed(symbol, candles)
		logger.Infof("[binance] preheated %s with %d candles", symbol, len(candles))
	}
	return nil
}

// Run streams klines until ctx is cancelled, reconnecting with backoff on
// websocket failures.
func (f *Feed) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	f.mu.Lock()
	if f.cancel != nil {
		f.cancel()
	}
	f.cancel = cancel
	f.mu.Unlock()

	pairs := make(map[string]string, len(f.cfg.Symbols))
	for _, symbol := range f.cfg.Symbols {
		pairs[strings.ToUpper(strings.TrimSpace(symbol))] = f.cfg.Interval
	}

	delay := time.Second
	for {
		if runCtx.Err() != nil {
			return nil
		}
		doneC, stopC, err := binance.WsCombinedKlineServe(pairs, f.handleKline, func(err error) {
			if err != nil {
				logger.Warnf("[binance] websocket error: %v", err)
			}
		})
		if err != nil {
			logger.Warnf("[binance] subscribe failed: %v, retrying in %s", err, delay)
			if !sleepWithContext(runCtx, delay) {
				return nil
			}
			delay = nextDelay(delay)
			continue
		}
		delay = time.Second
		logger.Infof("[binance] kline stream connected (%d symbols, %s)", len(pairs), f.cfg.Interval)
		select {
		case <-runCtx.Done():
			close(stopC)
			<-doneC
			return nil
		case <-doneC:
		}
		logger.Warnf("[binance] kline stream disconnected, reconnecting in %s", delay)
		if !sleepWithContext(runCtx, delay) {
			return nil
		}
		delay = nextDelay(delay)
	}
}

func (f *Feed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
	return nil
}

func (f *Feed) handleKline(ev *binance.WsKlineEvent) {
	if ev == nil {
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(ev.Symbol))
	price := parseFloat(ev.Kline.Close)
	if symbol == "" || price <= 0 {
		return
	}
	f.sink.OnTick(market.Tick{
		Symbol:    symbol,
		Price:     price,
		Volume:    parseFloat(ev.Kline.Volume),
		Timestamp: time.UnixMilli(ev.Time),
	})
	if !ev.Kline.IsFinal {
		return
	}
	f.sink.OnCandle(symbol, market.Candle{
		OpenTime:  ev.Kline.StartTime,
		CloseTime: ev.Kline.EndTime,
		Open:      parseFloat(ev.Kline.Open),
		High:      parseFloat(ev.Kline.High),
		Low:       parseFloat(ev.Kline.Low),
		Close:     price,
		Volume:    parseFloat(ev.Kline.Volume),
		Trades:    ev.Kline.TradeNum,
	})
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func nextDelay(current time.Duration) time.Duration {
	next := current * 2
	if next > 30*time.Second {
		next = 30 * time.Second
	}
	return next
}
