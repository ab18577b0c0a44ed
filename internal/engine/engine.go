package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"marlin/internal/decision"
	"marlin/internal/executor"
	"marlin/internal/logger"
	"marlin/internal/market"
	"marlin/internal/portfolio"
	"marlin/internal/risk"
	"marlin/internal/strategy"
)

type Config struct {
	Symbols []string
	// MaxStaleness is the oldest a tick may be before it is skipped.
	MaxStaleness time.Duration
	// OrderTimeout bounds a single order placement round-trip.
	OrderTimeout time.Duration
	// MaintenanceCron schedules the snapshot/correlation job, cron syntax.
	MaintenanceCron string
}

// SnapshotSaver persists portfolio snapshots for crash recovery.
type SnapshotSaver interface {
	SaveSnapshot(ctx context.Context, snap *portfolio.State) error
}

// Refresher recomputes externally supplied inputs (correlation matrix).
type Refresher interface {
	Refresh(symbols []string)
}

// Engine drives the tick pipeline. Each symbol gets its own worker
// goroutine, so aggregation, risk gating and portfolio updates for one
// symbol are strictly serialized while distinct symbols proceed
// concurrently. Strategy evaluation inside one tick fans out in parallel;
// strategies share no mutable state.
type Engine struct {
	cfg Config

	setMu      sync.RWMutex
	strategies []strategy.Weighted
	agg        *decision.Aggregator

	riskMgr *risk.Manager
	pm      *portfolio.Manager
	exec    executor.Executor
	store   *market.Store
	saver   SnapshotSaver
	corr    Refresher

	cron    *cron.Cron
	workers map[string]*symbolWorker
	wg      sync.WaitGroup

	accepting atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once

	vetoMu     sync.Mutex
	vetoCounts map[risk.VetoReason]int
}

func New(cfg Config, set []strategy.Weighted, agg *decision.Aggregator, riskMgr *risk.Manager,
	pm *portfolio.Manager, exec executor.Executor, store *market.Store) *Engine {
	if cfg.MaxStaleness <= 0 {
		cfg.MaxStaleness = 30 * time.Second
	}
	if cfg.OrderTimeout <= 0 {
		cfg.OrderTimeout = 10 * time.Second
	}
	e := &Engine{
		cfg:        cfg,
		strategies: set,
		agg:        agg,
		riskMgr:    riskMgr,
		pm:         pm,
		exec:       exec,
		store:      store,
		workers:    make(map[string]*symbolWorker),
		vetoCounts: make(map[risk.VetoReason]int),
	}
	exec.SetFillHandler(e.handleFill)
	return e
}

// SetSnapshotSaver wires the persistence job. Optional.
func (e *Engine) SetSnapshotSaver(s SnapshotSaver) { e.saver = s }

// SetCorrelationRefresher wires the periodic correlation recompute. Optional.
func (e *Engine) SetCorrelationRefresher(r Refresher) { e.corr = r }

// ReplaceStrategySet swaps the strategy mix and its aggregator at runtime.
// In-flight evaluations finish on the old set; the next candle uses the new
// one.
func (e *Engine) ReplaceStrategySet(set []strategy.Weighted, minScore float64) {
	agg := decision.NewAggregator(set, minScore)
	e.setMu.Lock()
	e.strategies = set
	e.agg = agg
	e.setMu.Unlock()
	logger.Infof("engine: strategy set replaced (%d strategies, min_score=%.2f)", len(set), minScore)
}

func (e *Engine) Start() {
	e.startOnce.Do(func() {
		for _, sym := range e.cfg.Symbols {
			key := strings.ToUpper(strings.TrimSpace(sym))
			if key == "" {
				continue
			}
			w := newSymbolWorker(key)
			e.workers[key] = w
			e.wg.Add(1)
			go e.runWorker(w)
		}
		if e.cfg.MaintenanceCron != "" {
			e.cron = cron.New()
			if _, err := e.cron.AddFunc(e.cfg.MaintenanceCron, e.maintenance); err != nil {
				logger.Errorf("engine: bad maintenance cron %q: %v", e.cfg.MaintenanceCron, err)
			} else {
				e.cron.Start()
			}
		}
		e.accepting.Store(true)
		logger.Infof("engine started for %d symbols", len(e.workers))
	})
}

// Stop refuses new ticks, drains the workers and lets in-flight order
// placements complete or time out.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.accepting.Store(false)
		if e.cron != nil {
			ctx := e.cron.Stop()
			<-ctx.Done()
		}
		for _, w := range e.workers {
			close(w.inbox)
		}
		e.wg.Wait()
		if e.saver != nil {
			saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := e.saver.SaveSnapshot(saveCtx, e.pm.Snapshot()); err != nil {
				logger.Errorf("engine: final snapshot save failed: %v", err)
			}
		}
		logger.Infof("engine stopped")
	})
}

// OnTick feeds one price update. Stale or out-of-order ticks are skipped,
// not treated as errors.
func (e *Engine) OnTick(t market.Tick) {
	if !e.accepting.Load() || !t.Valid() {
		return
	}
	if age := time.Since(t.Timestamp); age > e.cfg.MaxStaleness {
		logger.Debugf("engine: skipping stale tick for %s (age=%s)", t.Symbol, age)
		return
	}
	if !e.store.MarkEvent(t.Symbol, t.Timestamp.UnixMilli()) {
		logger.Debugf("engine: skipping out-of-order tick for %s", t.Symbol)
		return
	}
	e.pm.OnPriceTick(t.Symbol, t.Price)
}

// OnCandle feeds one closed candle bar: it extends the history and triggers
// a full strategy evaluation for the symbol.
func (e *Engine) OnCandle(symbol string, c market.Candle) {
	if !e.accepting.Load() {
		return
	}
	key := strings.ToUpper(strings.TrimSpace(symbol))
	w, ok := e.workers[key]
	if !ok {
		return
	}
	if !e.store.Append(key, c) {
		logger.Debugf("engine: skipping duplicate candle for %s", key)
		return
	}
	e.pm.OnPriceTick(key, c.Close)
	select {
	case w.inbox <- c:
	default:
		logger.Warnf("engine: worker inbox full, dropping evaluation for %s", key)
	}
}

// VetoCounts returns a copy of the per-reason veto counters.
func (e *Engine) VetoCounts() map[risk.VetoReason]int {
	e.vetoMu.Lock()
	defer e.vetoMu.Unlock()
	out := make(map[risk.VetoReason]int, len(e.vetoCounts))
	for k, v := range e.vetoCounts {
		out[k] = v
	}
	return out
}

type symbolWorker struct {
	symbol string
	inbox  chan market.Candle
}

func newSymbolWorker(symbol string) *symbolWorker {
	return &symbolWorker{symbol: symbol, inbox: make(chan market.Candle, 16)}
}

func (e *Engine) runWorker(w *symbolWorker) {
	defer e.wg.Done()
	for range w.inbox {
		e.evaluateSymbol(w.symbol)
	}
}

// evaluateSymbol runs one tick of the pipeline for a symbol. It executes as
// one unit per symbol; the per-symbol worker guarantees two evaluations for
// the same symbol never race.
func (e *Engine) evaluateSymbol(symbol string) {
	history := e.store.History(symbol)
	if len(history) == 0 {
		return
	}

	e.setMu.RLock()
	set, agg := e.strategies, e.agg
	e.setMu.RUnlock()

	signals := e.collectSignals(symbol, set, history)
	if len(signals) == 0 {
		return
	}

	dec := agg.Aggregate(symbol, signals)
	if dec == nil {
		return
	}
	logger.Infof("engine: %s consensus %s strength=%.4f from %d signals",
		symbol, dec.Action, dec.Strength, len(dec.Contributing))

	approved, veto := e.riskMgr.Evaluate(*dec, e.pm.Snapshot())
	if veto != nil {
		e.countVeto(veto.Reason)
		logger.Infof("engine: %s %s vetoed: %s (%s)", symbol, dec.Action, veto.Reason, veto.Detail)
		return
	}
	e.submit(approved)
}

// collectSignals fans the strategy set out in parallel and gathers the
// non-abstaining votes in strategy-set order, so aggregation input order is
// deterministic.
func (e *Engine) collectSignals(symbol string, set []strategy.Weighted, history []market.Candle) []strategy.Signal {
	results := make([]*strategy.Signal, len(set))
	group := errgroup.Group{}
	for i, ws := range set {
		i, ws := i, ws
		group.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("engine: strategy %s panicked on %s: %v", ws.Strategy.Name(), symbol, r)
				}
			}()
			results[i] = ws.Strategy.Analyze(symbol, history)
			return nil
		})
	}
	_ = group.Wait()

	signals := make([]strategy.Signal, 0, len(results))
	for _, sig := range results {
		if sig != nil {
			signals = append(signals, *sig)
		}
	}
	return signals
}

func (e *Engine) submit(approved *risk.ApprovedOrder) {
	ord := portfolio.Order{
		ID:       uuid.NewString(),
		Symbol:   approved.Symbol,
		Side:     string(approved.Side),
		Type:     portfolio.OrderTypeMarket,
		Quantity: approved.Quantity,
		Price:    approved.Price,
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.OrderTimeout)
	defer cancel()

	var trackErr error
	if approved.ClosesPosition {
		trackErr = e.pm.TrackExit(ctx, ord)
	} else {
		trackErr = e.pm.TrackEntry(ctx, ord, approved.StopLoss, approved.TakeProfit, approved.TrailingPct)
	}
	if trackErr != nil {
		e.riskMgr.Release(approved.Symbol)
		logger.Errorf("engine: tracking order for %s failed: %v", approved.Symbol, trackErr)
		return
	}

	req := executor.OrderRequest{
		Symbol:        approved.Symbol,
		Side:          string(approved.Side),
		Type:          string(portfolio.OrderTypeMarket),
		Quantity:      approved.Quantity,
		Price:         approved.Price,
		ClientOrderID: ord.ID,
	}
	if _, err := executor.PlaceWithRetry(ctx, e.exec, req, 3, 500*time.Millisecond); err != nil {
		// execution-side failure: roll the order back and record it as a
		// vetoed execution, never as a process failure
		e.countVeto(risk.VetoedExecution)
		if rbErr := e.pm.RejectOrder(context.Background(), ord.ID, fmt.Sprintf("placement failed: %v", err)); rbErr != nil {
			logger.Errorf("engine: rollback for %s failed: %v", ord.ID, rbErr)
		}
		e.riskMgr.Release(approved.Symbol)
		logger.Warnf("engine: order placement for %s failed: %v", approved.Symbol, err)
		return
	}
	logger.Infof("engine: placed %s %s qty=%.8f @ %.4f (order %s)",
		approved.Side, approved.Symbol, approved.Quantity, approved.Price, ord.ID)
}

// handleFill resolves an order against the portfolio. Runs on the executor's
// callback goroutine; the portfolio actor serializes the state change.
func (e *Engine) handleFill(f executor.Fill) {
	defer e.riskMgr.Release(f.Symbol)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if f.Rejected {
		if err := e.pm.RejectOrder(ctx, f.OrderID, f.Reason); err != nil {
			logger.Errorf("engine: reject handling for %s failed: %v", f.OrderID, err)
		}
		return
	}
	if err := e.pm.ConfirmFill(ctx, f.OrderID, f.Price, f.Quantity); err != nil {
		logger.Errorf("engine: fill handling for %s failed: %v", f.OrderID, err)
	}
}

// maintenance persists a snapshot and refreshes the correlation matrix.
func (e *Engine) maintenance() {
	if e.corr != nil {
		e.corr.Refresh(e.cfg.Symbols)
	}
	if e.saver != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.saver.SaveSnapshot(ctx, e.pm.Snapshot()); err != nil {
			logger.Errorf("engine: snapshot save failed: %v", err)
		}
	}
}

func (e *Engine) countVeto(reason risk.VetoReason) {
	e.vetoMu.Lock()
	e.vetoCounts[reason]++
	e.vetoMu.Unlock()
}
