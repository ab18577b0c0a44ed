package portfolio

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"marlin/internal/logger"
	"marlin/internal/notifier"
)

type eventType string

const (
	evtTrackEntry  eventType = "track_entry"
	evtTrackExit   eventType = "track_exit"
	evtConfirmFill eventType = "confirm_fill"
	evtReject      eventType = "reject_order"
	evtCancel      eventType = "cancel_order"
	evtClose       eventType = "close_position"
	evtPriceTick   eventType = "price_tick"
	evtRestore     eventType = "restore"
)

type eventEnvelope struct {
	Type eventType

	Order       Order
	OrderID     string
	Symbol      string
	Price       float64
	Qty         float64
	Reason      string
	StopLoss    float64
	TakeProfit  float64
	TrailingPct float64
	Snapshot    *State

	ReplyCh chan error
}

// Manager is the single source of truth for balances, positions and the
// order log. It is an actor: all mutations flow through one event loop, so
// readers can never observe a half-applied fill. Reads go through an
// atomically swapped copy-on-write snapshot.
type Manager struct {
	alerts notifier.Emitter

	msgCh  chan eventEnvelope
	stopCh chan struct{}
	wg     sync.WaitGroup

	state *State

	stateSnapshot    atomic.Value
	snapshotThrottle time.Duration
	lastSnapshot     time.Time
	snapshotDirty    bool

	// localCloses remembers positions closed optimistically on a stop or
	// take-profit crossing, keyed by symbol. A later real fill confirmation
	// for the same symbol is reconciled against this map and dropped instead
	// of double-counting the close.
	localCloses map[string]time.Time
}

func NewManager(initialCash float64, alerts notifier.Emitter) *Manager {
	m := &Manager{
		alerts:           alerts,
		msgCh:            make(chan eventEnvelope, 100),
		stopCh:           make(chan struct{}),
		state:            NewState(initialCash),
		snapshotThrottle: 50 * time.Millisecond,
		localCloses:      make(map[string]time.Time),
	}
	m.refreshSnapshot(true)
	return m
}

func (m *Manager) Start() {
	m.wg.Add(1)
	go m.runLoop()
}

func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

// Snapshot returns the latest consistent read-only copy of the state.
func (m *Manager) Snapshot() *State {
	val := m.stateSnapshot.Load()
	if val == nil {
		return NewState(0)
	}
	return val.(*State)
}

// TrackEntry registers a pending entry order and reserves the symbol with a
// position in the opening state. Exactly one position may exist per symbol;
// a second entry for the same symbol is a programming error upstream and is
// rejected loudly.
func (m *Manager) TrackEntry(ctx context.Context, ord Order, stopLoss, takeProfit, trailingPct float64) error {
	return m.sendSync(ctx, eventEnvelope{
		Type:        evtTrackEntry,
		Order:       ord,
		StopLoss:    stopLoss,
		TakeProfit:  takeProfit,
		TrailingPct: trailingPct,
	})
}

// TrackExit registers a pending exit order and moves the position to closing.
func (m *Manager) TrackExit(ctx context.Context, ord Order) error {
	return m.sendSync(ctx, eventEnvelope{Type: evtTrackExit, Order: ord})
}

// ConfirmFill resolves a pending order with its fill. Entry fills open the
// position and move cash; exit fills realize PnL and remove the position.
func (m *Manager) ConfirmFill(ctx context.Context, orderID string, fillPrice, fillQty float64) error {
	return m.sendSync(ctx, eventEnvelope{Type: evtConfirmFill, OrderID: orderID, Price: fillPrice, Qty: fillQty})
}

// RejectOrder rolls a pending order back without any balance side effects.
func (m *Manager) RejectOrder(ctx context.Context, orderID, reason string) error {
	return m.sendSync(ctx, eventEnvelope{Type: evtReject, OrderID: orderID, Reason: reason})
}

// CancelOrder resolves a pending order as cancelled, rolling back like a reject.
func (m *Manager) CancelOrder(ctx context.Context, orderID, reason string) error {
	return m.sendSync(ctx, eventEnvelope{Type: evtCancel, OrderID: orderID, Reason: reason})
}

// ClosePosition closes an open position at the given price immediately,
// appending a filled synthetic order carrying the realized PnL.
func (m *Manager) ClosePosition(ctx context.Context, symbol string, exitPrice float64, reason string) error {
	return m.sendSync(ctx, eventEnvelope{Type: evtClose, Symbol: symbol, Price: exitPrice, Reason: reason})
}

// OnPriceTick marks the symbol at the new price, advances trailing stops and
// auto-closes positions whose stop-loss or take-profit level was crossed.
// Fire-and-forget: tick pressure must not block the feed.
func (m *Manager) OnPriceTick(symbol string, price float64) {
	evt := eventEnvelope{Type: evtPriceTick, Symbol: symbol, Price: price}
	select {
	case m.msgCh <- evt:
	case <-m.stopCh:
	}
}

// Restore replaces the in-memory state with a persisted snapshot, recomputing
// all derived fields from the raw ones.
func (m *Manager) Restore(ctx context.Context, snap *State) error {
	if snap == nil {
		return fmt.Errorf("portfolio: nil snapshot")
	}
	return m.sendSync(ctx, eventEnvelope{Type: evtRestore, Snapshot: snap})
}

func (m *Manager) sendSync(ctx context.Context, evt eventEnvelope) error {
	evt.ReplyCh = make(chan error, 1)
	select {
	case m.msgCh <- evt:
	case <-m.stopCh:
		return fmt.Errorf("portfolio manager is stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-evt.ReplyCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-m.stopCh:
		return fmt.Errorf("portfolio manager stopped during sync call")
	}
}

func (m *Manager) runLoop() {
	defer m.wg.Done()
	logger.Infof("portfolio manager started")
	// the flush timer publishes refreshes that the throttle deferred, so
	// the read model converges even when no further events arrive
	interval := m.snapshotThrottle
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	flush := time.NewTicker(interval)
	defer flush.Stop()
	for {
		select {
		case evt := <-m.msgCh:
			m.handleEvent(evt)
		case <-flush.C:
			if m.snapshotDirty {
				m.refreshSnapshot(true)
			}
		case <-m.stopCh:
			logger.Infof("portfolio manager stopping")
			return
		}
	}
}

func (m *Manager) handleEvent(evt eventEnvelope) {
	var err error
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("portfolio panic handling event %s: %v", evt.Type, r)
			debug.PrintStack()
			err = fmt.Errorf("panic: %v", r)
		}
		if evt.ReplyCh != nil {
			evt.ReplyCh <- err
			close(evt.ReplyCh)
		}
		if dur := time.Since(start); dur > 100*time.Millisecond {
			logger.Warnf("slow portfolio event %s took %v", evt.Type, dur)
		}
	}()

	switch evt.Type {
	case evtTrackEntry:
		err = m.applyTrackEntry(evt)
	case evtTrackExit:
		err = m.applyTrackExit(evt)
	case evtConfirmFill:
		err = m.applyFill(evt)
	case evtReject:
		err = m.applyResolve(evt.OrderID, OrderRejected, evt.Reason)
	case evtCancel:
		err = m.applyResolve(evt.OrderID, OrderCancelled, evt.Reason)
	case evtClose:
		err = m.applyClose(evt.Symbol, evt.Price, evt.Reason, OrderTypeMarket)
	case evtPriceTick:
		m.applyTick(evt.Symbol, evt.Price)
	case evtRestore:
		err = m.applyRestore(evt.Snapshot)
	default:
		logger.Warnf("portfolio: no handler for event type %s", evt.Type)
		return
	}

	if err != nil {
		logger.Errorf("portfolio failed to handle %s: %v", evt.Type, err)
		return
	}
	m.state.recompute()
	m.refreshSnapshot(false)
}

func (m *Manager) applyTrackEntry(evt eventEnvelope) error {
	ord := evt.Order
	sym := normalizeSymbol(ord.Symbol)
	if sym == "" || ord.ID == "" {
		return fmt.Errorf("track entry: order incomplete")
	}
	if existing, ok := m.state.Positions[sym]; ok {
		return fmt.Errorf("invariant violation: position already exists for %s (status=%s)", sym, existing.Status)
	}
	if ord.Quantity <= 0 {
		return fmt.Errorf("track entry: quantity must be positive, got %v", ord.Quantity)
	}
	ord.Symbol = sym
	ord.Status = OrderPending
	if ord.CreatedAt.IsZero() {
		ord.CreatedAt = time.Now().UTC()
	}
	m.state.OrderLog = append(m.state.OrderLog, ord)
	m.state.Positions[sym] = &Position{
		Symbol:      sym,
		Side:        SideLong,
		EntryPrice:  ord.Price,
		Quantity:    ord.Quantity,
		StopLoss:    evt.StopLoss,
		TakeProfit:  evt.TakeProfit,
		TrailingPct: evt.TrailingPct,
		Status:      PositionOpening,
	}
	delete(m.localCloses, sym)
	return nil
}

func (m *Manager) applyTrackExit(evt eventEnvelope) error {
	ord := evt.Order
	sym := normalizeSymbol(ord.Symbol)
	pos, ok := m.state.Positions[sym]
	if !ok {
		if _, closed := m.localCloses[sym]; closed {
			// already closed locally on a stop crossing, nothing to exit
			logger.Debugf("portfolio: exit for %s reconciled against local close", sym)
			return nil
		}
		return fmt.Errorf("track exit: no position for %s", sym)
	}
	if pos.Status != PositionOpen {
		return fmt.Errorf("track exit: position %s not open (status=%s)", sym, pos.Status)
	}
	ord.Symbol = sym
	ord.Status = OrderPending
	if ord.CreatedAt.IsZero() {
		ord.CreatedAt = time.Now().UTC()
	}
	m.state.OrderLog = append(m.state.OrderLog, ord)
	pos.Status = PositionClosing
	return nil
}

func (m *Manager) applyFill(evt eventEnvelope) error {
	idx := m.findOrder(evt.OrderID)
	if idx < 0 {
		return fmt.Errorf("confirm fill: unknown order %s", evt.OrderID)
	}
	ord := &m.state.OrderLog[idx]
	if ord.Status.terminal() {
		if _, closed := m.localCloses[normalizeSymbol(ord.Symbol)]; closed {
			// optimistic local close already accounted for this trade
			logger.Debugf("portfolio: fill for %s order %s reconciled against local close", ord.Symbol, ord.ID)
			return nil
		}
		return fmt.Errorf("confirm fill: order %s already resolved (%s)", ord.ID, ord.Status)
	}

	fillPrice := evt.Price
	if fillPrice <= 0 {
		fillPrice = ord.Price
	}
	fillQty := evt.Qty
	if fillQty <= 0 || fillQty > ord.Quantity {
		fillQty = ord.Quantity
	}
	status := OrderFilled
	if fillQty < ord.Quantity {
		status = OrderPartiallyFilled
	}

	sym := normalizeSymbol(ord.Symbol)
	pos, ok := m.state.Positions[sym]
	if !ok {
		if _, closed := m.localCloses[sym]; closed {
			resolve(ord, status, fillPrice, fillQty, "reconciled_local_close")
			return nil
		}
		return fmt.Errorf("confirm fill: no position for %s", sym)
	}

	switch pos.Status {
	case PositionOpening:
		resolve(ord, status, fillPrice, fillQty, "")
		pos.EntryPrice = fillPrice
		pos.Quantity = fillQty
		pos.HighWater = fillPrice
		pos.OpenedAt = time.Now().UTC()
		pos.Status = PositionOpen
		m.state.CashBalance -= fillPrice * fillQty
		m.state.LastPrices[sym] = fillPrice
		m.bumpTradeCount()
		logger.Infof("portfolio: opened %s qty=%.8f entry=%.4f stop=%.4f tp=%.4f",
			sym, fillQty, fillPrice, pos.StopLoss, pos.TakeProfit)
	case PositionClosing:
		if fillQty < pos.Quantity {
			// partial exit: realize only the filled slice, the remainder
			// stays live
			slice := *pos
			slice.Quantity = fillQty
			pnl := slice.UnrealizedPnL(fillPrice)
			resolve(ord, status, fillPrice, fillQty, "")
			ord.PnL = pnl
			m.state.CashBalance += fillQty * fillPrice
			m.state.RealizedPnL += pnl
			pos.Quantity -= fillQty
			pos.Status = PositionOpen
			m.bumpTradeCount()
			logger.Infof("portfolio: partially closed %s qty=%.8f exit=%.4f pnl=%.4f (%.8f remains)",
				sym, fillQty, fillPrice, pnl, pos.Quantity)
			return nil
		}
		pnl := pos.UnrealizedPnL(fillPrice)
		resolve(ord, status, fillPrice, fillQty, "")
		ord.PnL = pnl
		m.realizeClose(sym, pos, fillPrice, pnl)
	default:
		return fmt.Errorf("confirm fill: position %s in unexpected status %s", sym, pos.Status)
	}
	return nil
}

func (m *Manager) applyResolve(orderID string, status OrderStatus, reason string) error {
	idx := m.findOrder(orderID)
	if idx < 0 {
		return fmt.Errorf("resolve: unknown order %s", orderID)
	}
	ord := &m.state.OrderLog[idx]
	if ord.Status.terminal() {
		return fmt.Errorf("resolve: order %s already resolved (%s)", ord.ID, ord.Status)
	}
	resolve(ord, status, 0, 0, reason)

	sym := normalizeSymbol(ord.Symbol)
	pos, ok := m.state.Positions[sym]
	if !ok {
		return nil
	}
	switch pos.Status {
	case PositionOpening:
		// entry never happened, roll the reservation back
		delete(m.state.Positions, sym)
		logger.Infof("portfolio: entry order %s for %s resolved %s, position rolled back", ord.ID, sym, status)
	case PositionClosing:
		pos.Status = PositionOpen
		logger.Warnf("portfolio: exit order %s for %s resolved %s, position reopened", ord.ID, sym, status)
	}
	return nil
}

// applyClose closes an open position at the given price with a synthetic
// filled order. This is the optimistic local close used when a stop-loss or
// take-profit crossing is detected on a tick: the position is closed
// immediately instead of waiting for the external order round-trip, and the
// later real fill is reconciled via localCloses.
func (m *Manager) applyClose(symbol string, price float64, reason string, typ OrderType) error {
	sym := normalizeSymbol(symbol)
	pos, ok := m.state.Positions[sym]
	if !ok {
		return fmt.Errorf("close: no position for %s", sym)
	}
	if pos.Status == PositionOpening {
		return fmt.Errorf("close: position %s still opening", sym)
	}
	if price <= 0 {
		price = m.state.LastPrices[sym]
	}
	if price <= 0 {
		price = pos.EntryPrice
	}
	pnl := pos.UnrealizedPnL(price)
	now := time.Now().UTC()
	m.state.OrderLog = append(m.state.OrderLog, Order{
		ID:         newLocalOrderID(sym, now),
		Symbol:     sym,
		Side:       exitSide(pos.Side),
		Type:       typ,
		Quantity:   pos.Quantity,
		Price:      price,
		FillPrice:  price,
		FillQty:    pos.Quantity,
		Status:     OrderFilled,
		Reason:     reason,
		PnL:        pnl,
		CreatedAt:  now,
		ResolvedAt: &now,
	})
	m.realizeClose(sym, pos, price, pnl)
	m.localCloses[sym] = now
	return nil
}

func (m *Manager) realizeClose(sym string, pos *Position, price, pnl float64) {
	// entries are long-only: exit proceeds are quantity at the exit price
	m.state.CashBalance += pos.Quantity * price
	m.state.RealizedPnL += pnl
	delete(m.state.Positions, sym)
	m.bumpTradeCount()
	logger.Infof("portfolio: closed %s exit=%.4f pnl=%.4f", sym, price, pnl)
	if pnl < 0 {
		m.emitAlert(notifier.Alert{
			Level:   notifier.LevelWarning,
			Metric:  "realized_loss",
			Current: pnl,
			Message: fmt.Sprintf("closed %s at a loss of %.2f", sym, pnl),
		})
	}
}

func (m *Manager) applyTick(symbol string, price float64) {
	sym := normalizeSymbol(symbol)
	if sym == "" || price <= 0 {
		return
	}
	m.state.LastPrices[sym] = price
	pos, ok := m.state.Positions[sym]
	if !ok || pos.Status != PositionOpen {
		return
	}
	pos.ratchet(price)
	if level, hit := pos.stopHit(price); hit {
		logger.Infof("portfolio: stop-loss crossed for %s at %.4f (level %.4f)", sym, price, level)
		if err := m.applyClose(sym, price, "stop_loss", OrderTypeStopLoss); err != nil {
			logger.Errorf("portfolio: stop close failed for %s: %v", sym, err)
		}
		return
	}
	if pos.takeProfitHit(price) {
		logger.Infof("portfolio: take-profit crossed for %s at %.4f (level %.4f)", sym, price, pos.TakeProfit)
		if err := m.applyClose(sym, price, "take_profit", OrderTypeTakeProfit); err != nil {
			logger.Errorf("portfolio: take-profit close failed for %s: %v", sym, err)
		}
	}
}

func (m *Manager) applyRestore(snap *State) error {
	restored := snap.Clone()
	if restored.Positions == nil {
		restored.Positions = make(map[string]*Position)
	}
	if restored.LastPrices == nil {
		restored.LastPrices = make(map[string]float64)
	}
	for sym, pos := range restored.Positions {
		if pos.Quantity <= 0 {
			return fmt.Errorf("restore: position %s has non-positive quantity", sym)
		}
		if pos.Status == "" {
			pos.Status = PositionOpen
		}
	}
	if restored.TradeCountResetAt.IsZero() {
		restored.TradeCountResetAt = time.Now().UTC()
	}
	m.state = restored
	m.localCloses = make(map[string]time.Time)
	m.state.recompute()
	m.refreshSnapshot(true)
	logger.Infof("portfolio: restored snapshot with %d positions, %d orders", len(restored.Positions), len(restored.OrderLog))
	return nil
}

func (m *Manager) bumpTradeCount() {
	now := time.Now().UTC()
	m.state.maybeResetDailyWindow(now)
	m.state.DailyTradeCount++
}

func (m *Manager) findOrder(id string) int {
	for i := len(m.state.OrderLog) - 1; i >= 0; i-- {
		if m.state.OrderLog[i].ID == id {
			return i
		}
	}
	return -1
}

func (m *Manager) refreshSnapshot(force bool) {
	if !force && m.snapshotThrottle > 0 && !m.lastSnapshot.IsZero() {
		if time.Since(m.lastSnapshot) < m.snapshotThrottle {
			m.snapshotDirty = true
			return
		}
	}
	m.stateSnapshot.Store(m.state.Clone())
	m.lastSnapshot = time.Now()
	m.snapshotDirty = false
}

func (m *Manager) emitAlert(a notifier.Alert) {
	if m.alerts == nil {
		return
	}
	// alert delivery failures never reach the trading state
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("portfolio: alert emit panicked: %v", r)
		}
	}()
	m.alerts.Emit(a)
}

func resolve(ord *Order, status OrderStatus, fillPrice, fillQty float64, reason string) {
	now := time.Now().UTC()
	ord.Status = status
	ord.ResolvedAt = &now
	if fillPrice > 0 {
		ord.FillPrice = fillPrice
	}
	if fillQty > 0 {
		ord.FillQty = fillQty
	}
	if reason != "" {
		ord.Reason = reason
	}
}

func exitSide(side Side) string {
	if side == SideShort {
		return "buy"
	}
	return "sell"
}

func newLocalOrderID(sym string, at time.Time) string {
	return fmt.Sprintf("local-%s-%d", strings.ToLower(sym), at.UnixNano())
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
