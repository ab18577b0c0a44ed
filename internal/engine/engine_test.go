package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marlin/internal/decision"
	"marlin/internal/executor"
	"marlin/internal/market"
	"marlin/internal/portfolio"
	"marlin/internal/risk"
	"marlin/internal/strategy"
)

// fixedVote always casts the same vote at full strength once any history
// exists.
type fixedVote struct {
	name   string
	action strategy.Action
}

func (s fixedVote) Name() string    { return s.name }
func (s fixedVote) MinHistory() int { return 1 }
func (s fixedVote) Analyze(symbol string, history []market.Candle) *strategy.Signal {
	if len(history) == 0 {
		return nil
	}
	return &strategy.Signal{
		Symbol:      symbol,
		Action:      s.action,
		Strength:    1,
		Price:       history[len(history)-1].Close,
		Strategy:    s.name,
		GeneratedAt: time.Now().UTC(),
	}
}

type pipeline struct {
	store *market.Store
	pm    *portfolio.Manager
	eng   *Engine
}

func newPipeline(t *testing.T, limits risk.Limits, set []strategy.Weighted, symbols ...string) *pipeline {
	return newPipelineWithLatency(t, limits, set, 0, symbols...)
}

func newPipelineWithLatency(t *testing.T, limits risk.Limits, set []strategy.Weighted, latency time.Duration, symbols ...string) *pipeline {
	t.Helper()
	store := market.NewStore(100)
	pm := portfolio.NewManager(10000, nil)
	pm.Start()
	t.Cleanup(pm.Stop)

	riskMgr := risk.NewManager(limits, nil, nil)
	agg := decision.NewAggregator(set, 0.3)
	exec := executor.NewPaper(latency, 0)
	t.Cleanup(exec.Close)

	eng := New(Config{Symbols: symbols}, set, agg, riskMgr, pm, exec, store)
	eng.Start()
	t.Cleanup(eng.Stop)
	return &pipeline{store: store, pm: pm, eng: eng}
}

func closedCandle(openTime int64, close float64) market.Candle {
	return market.Candle{
		OpenTime:  openTime,
		CloseTime: openTime + 59_999,
		Open:      close,
		High:      close,
		Low:       close,
		Close:     close,
		Volume:    100,
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 3*time.Second, 10*time.Millisecond, msg)
}

func TestCandleToFilledEntryPipeline(t *testing.T) {
	buyers := []strategy.Weighted{{Strategy: fixedVote{name: "bull", action: strategy.ActionBuy}, Weight: 1}}
	p := newPipeline(t, risk.DefaultLimits(), buyers, "BTCUSDT")

	p.eng.OnCandle("btcusdt", closedCandle(60_000, 100))

	waitFor(t, func() bool {
		pos, ok := p.pm.Snapshot().Positions["BTCUSDT"]
		return ok && pos.Status == portfolio.PositionOpen
	}, "candle should flow through to an open position")

	snap := p.pm.Snapshot()
	pos := snap.Positions["BTCUSDT"]
	// 1% risk of 10k equity against a 2% stop caps at the 10% position limit
	assert.InDelta(t, 10.0, pos.Quantity, 1e-9)
	assert.InDelta(t, 100.0, pos.EntryPrice, 1e-9)
	assert.InDelta(t, 98.0, pos.StopLoss, 1e-9)
	assert.InDelta(t, 9000.0, snap.CashBalance, 1e-9)
	assert.Empty(t, p.eng.VetoCounts())
}

func TestEntryFillsWithSimulatedLatency(t *testing.T) {
	buyers := []strategy.Weighted{{Strategy: fixedVote{name: "bull", action: strategy.ActionBuy}, Weight: 1}}
	p := newPipelineWithLatency(t, risk.DefaultLimits(), buyers, 50*time.Millisecond, "BTCUSDT")

	p.eng.OnCandle("BTCUSDT", closedCandle(60_000, 100))

	// the fill lands well after submit returned; it must still open the
	// position, not come back rejected
	waitFor(t, func() bool {
		pos, ok := p.pm.Snapshot().Positions["BTCUSDT"]
		return ok && pos.Status == portfolio.PositionOpen
	}, "delayed fill should still open the position")

	snap := p.pm.Snapshot()
	assert.InDelta(t, 9000.0, snap.CashBalance, 1e-9)
	last := snap.OrderLog[len(snap.OrderLog)-1]
	assert.Equal(t, portfolio.OrderFilled, last.Status)
	assert.Empty(t, p.eng.VetoCounts())
}

func TestDuplicateCandleDoesNotReevaluate(t *testing.T) {
	buyers := []strategy.Weighted{{Strategy: fixedVote{name: "bull", action: strategy.ActionBuy}, Weight: 1}}
	p := newPipeline(t, risk.DefaultLimits(), buyers, "BTCUSDT")

	c := closedCandle(60_000, 100)
	p.eng.OnCandle("BTCUSDT", c)
	waitFor(t, func() bool {
		_, ok := p.pm.Snapshot().Positions["BTCUSDT"]
		return ok
	}, "first candle opens")

	// replaying the same bar is dropped before evaluation
	p.eng.OnCandle("BTCUSDT", c)
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, p.store.History("BTCUSDT"), 1)
}

func TestDailyLimitVetoIsCounted(t *testing.T) {
	limits := risk.DefaultLimits()
	limits.MaxDailyTrades = 1
	buyers := []strategy.Weighted{{Strategy: fixedVote{name: "bull", action: strategy.ActionBuy}, Weight: 1}}
	p := newPipeline(t, limits, buyers, "BTCUSDT", "ETHUSDT")

	p.eng.OnCandle("BTCUSDT", closedCandle(60_000, 100))
	waitFor(t, func() bool {
		return p.pm.Snapshot().DailyTradeCount == 1
	}, "first trade fills")

	p.eng.OnCandle("ETHUSDT", closedCandle(60_000, 50))
	waitFor(t, func() bool {
		return p.eng.VetoCounts()[risk.VetoDailyLimitReached] >= 1
	}, "second entry hits the daily limit")

	_, ethOpen := p.pm.Snapshot().Positions["ETHUSDT"]
	assert.False(t, ethOpen)
}

func TestReplaceStrategySetTakesEffectNextCandle(t *testing.T) {
	buyers := []strategy.Weighted{{Strategy: fixedVote{name: "bull", action: strategy.ActionBuy}, Weight: 1}}
	p := newPipeline(t, risk.DefaultLimits(), buyers, "BTCUSDT")

	p.eng.OnCandle("BTCUSDT", closedCandle(60_000, 100))
	waitFor(t, func() bool {
		pos, ok := p.pm.Snapshot().Positions["BTCUSDT"]
		return ok && pos.Status == portfolio.PositionOpen
	}, "entry fills")

	sellers := []strategy.Weighted{{Strategy: fixedVote{name: "bear", action: strategy.ActionSell}, Weight: 1}}
	p.eng.ReplaceStrategySet(sellers, 0.3)

	p.eng.OnCandle("BTCUSDT", closedCandle(120_000, 101))
	waitFor(t, func() bool {
		_, ok := p.pm.Snapshot().Positions["BTCUSDT"]
		return !ok
	}, "swapped set exits the position")

	snap := p.pm.Snapshot()
	assert.InDelta(t, 10.0, snap.RealizedPnL, 1e-9, "(101-100) * 10")
}

func TestStaleAndOutOfOrderTicksSkipped(t *testing.T) {
	buyers := []strategy.Weighted{{Strategy: fixedVote{name: "bull", action: strategy.ActionBuy}, Weight: 1}}
	p := newPipeline(t, risk.DefaultLimits(), buyers, "BTCUSDT")

	p.eng.OnTick(market.Tick{Symbol: "BTCUSDT", Price: 100, Timestamp: time.Now().Add(-time.Minute)})
	time.Sleep(60 * time.Millisecond)
	assert.Empty(t, p.pm.Snapshot().LastPrices, "a minute-old tick is stale")

	now := time.Now()
	p.eng.OnTick(market.Tick{Symbol: "BTCUSDT", Price: 100, Timestamp: now})
	p.eng.OnTick(market.Tick{Symbol: "BTCUSDT", Price: 50, Timestamp: now.Add(-time.Second)})
	waitFor(t, func() bool {
		return p.pm.Snapshot().LastPrices["BTCUSDT"] == 100
	}, "the fresh tick lands, the regressing one is dropped")
}

func TestStopAcceptsNoFurtherInput(t *testing.T) {
	buyers := []strategy.Weighted{{Strategy: fixedVote{name: "bull", action: strategy.ActionBuy}, Weight: 1}}
	p := newPipeline(t, risk.DefaultLimits(), buyers, "BTCUSDT")

	p.eng.Stop()
	p.eng.OnCandle("BTCUSDT", closedCandle(60_000, 100))
	assert.Empty(t, p.store.History("BTCUSDT"))
}
