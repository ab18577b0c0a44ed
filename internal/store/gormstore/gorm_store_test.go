package gormstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marlin/internal/portfolio"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleState() *portfolio.State {
	now := time.Now().UTC()
	resolved := now.Add(time.Second)
	st := portfolio.NewState(10000)
	st.CashBalance = 9000
	st.Equity = 10050
	st.PeakEquity = 10100
	st.RealizedPnL = 50
	st.DailyTradeCount = 2
	st.Positions["BTCUSDT"] = &portfolio.Position{
		Symbol:     "BTCUSDT",
		Side:       portfolio.SideLong,
		EntryPrice: 100,
		Quantity:   10,
		StopLoss:   98,
		TakeProfit: 104,
		Status:     portfolio.PositionOpen,
		OpenedAt:   now,
	}
	st.LastPrices["BTCUSDT"] = 105
	st.OrderLog = []portfolio.Order{{
		ID:         "o1",
		Symbol:     "BTCUSDT",
		Side:       "buy",
		Type:       portfolio.OrderTypeMarket,
		Quantity:   10,
		Price:      100,
		FillPrice:  100,
		FillQty:    10,
		Status:     portfolio.OrderFilled,
		CreatedAt:  now,
		ResolvedAt: &resolved,
	}}
	return st
}

func TestSaveAndLoadLatestSnapshot(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.SaveSnapshot(ctx, sampleState()))

	// a second save wins on load
	newer := sampleState()
	newer.Equity = 11000
	require.NoError(t, s.SaveSnapshot(ctx, newer))

	snap, ok, err := s.LoadLatestSnapshot(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 11000.0, snap.Equity)
	assert.Equal(t, 9000.0, snap.CashBalance)
	require.Contains(t, snap.Positions, "BTCUSDT")
	assert.Equal(t, 10.0, snap.Positions["BTCUSDT"].Quantity)
	assert.Equal(t, portfolio.PositionOpen, snap.Positions["BTCUSDT"].Status)
	require.Len(t, snap.OrderLog, 1)
	assert.Equal(t, "o1", snap.OrderLog[0].ID)
}

func TestLoadEmptyStore(t *testing.T) {
	s := newTestStore(t)

	snap, ok, err := s.LoadLatestSnapshot(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, snap)
}

func TestSnapshotRetentionPrunes(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for i := 0; i < keepSnapshots+10; i++ {
		st := sampleState()
		st.Equity = 10000 + float64(i)
		require.NoError(t, s.SaveSnapshot(ctx, st))
	}

	var count int64
	require.NoError(t, s.db.Model(&snapshotModel{}).Count(&count).Error)
	assert.Equal(t, int64(keepSnapshots), count)

	snap, ok, err := s.LoadLatestSnapshot(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 10000.0+float64(keepSnapshots+9), snap.Equity, "newest survives the prune")
}

func TestOrderUpsertKeepsOneRowPerOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	st := sampleState()
	st.OrderLog[0].Status = portfolio.OrderPending
	st.OrderLog[0].FillPrice = 0
	require.NoError(t, s.SaveSnapshot(ctx, st))

	st.OrderLog[0].Status = portfolio.OrderFilled
	st.OrderLog[0].FillPrice = 101
	st.OrderLog[0].PnL = 10
	require.NoError(t, s.SaveSnapshot(ctx, st))

	orders, err := s.ListRecentOrders(ctx, "BTCUSDT", 10)
	require.NoError(t, err)
	require.Len(t, orders, 1, "same order id upserts in place")
	assert.Equal(t, portfolio.OrderFilled, orders[0].Status)
	assert.Equal(t, 101.0, orders[0].FillPrice)
	assert.Equal(t, 10.0, orders[0].PnL)
}

func TestListRecentOrdersFiltersBySymbol(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	st := sampleState()
	st.OrderLog = append(st.OrderLog, portfolio.Order{
		ID:        "o2",
		Symbol:    "ETHUSDT",
		Side:      "buy",
		Type:      portfolio.OrderTypeMarket,
		Quantity:  1,
		Price:     3000,
		Status:    portfolio.OrderPending,
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, s.SaveSnapshot(ctx, st))

	eth, err := s.ListRecentOrders(ctx, "ethusdt", 10)
	require.NoError(t, err)
	require.Len(t, eth, 1)
	assert.Equal(t, "o2", eth[0].ID)

	all, err := s.ListRecentOrders(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestCorruptPayloadRejectedOnLoad(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	// bypass SaveSnapshot to plant a row that fails schema validation
	row := snapshotModel{
		Payload:       `{"cash_balance": 1, "equity": 1}`,
		Equity:        1,
		CreatedAtUnix: time.Now().UnixMilli(),
	}
	require.NoError(t, s.db.Create(&row).Error)

	_, _, err := s.LoadLatestSnapshot(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected")
}

func TestSaveSnapshotRejectsNil(t *testing.T) {
	s := newTestStore(t)
	assert.Error(t, s.SaveSnapshot(context.Background(), nil))
}
