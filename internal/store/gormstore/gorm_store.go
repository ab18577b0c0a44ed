package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"marlin/internal/portfolio"
)

// Store persists portfolio snapshots and the order log with Gorm + SQLite.
type Store struct {
	db *gorm.DB
}

func New(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&snapshotModel{}, &orderModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: allow a small amount of parallelism for concurrent HTTP
	// reads while keeping lock contention low.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

const keepSnapshots = 50

// SaveSnapshot appends one snapshot row and mirrors the order log. Older
// snapshot rows beyond a small retention window are pruned in the same
// transaction.
func (s *Store) SaveSnapshot(ctx context.Context, snap *portfolio.State) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store not initialized")
	}
	if snap == nil {
		return fmt.Errorf("gorm store: nil snapshot")
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot failed: %w", err)
	}
	now := time.Now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := snapshotModel{
			Payload:       string(payload),
			Equity:        snap.Equity,
			CreatedAtUnix: now.UnixMilli(),
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		if err := tx.
			Where("id NOT IN (?)", tx.Model(&snapshotModel{}).
				Select("id").Order("id DESC").Limit(keepSnapshots)).
			Delete(&snapshotModel{}).Error; err != nil {
			return err
		}
		return upsertOrders(tx, snap.OrderLog)
	})
}

// LoadLatestSnapshot returns the newest persisted snapshot. The payload is
// schema-validated before unmarshalling so a corrupt row fails loudly instead
// of restoring a half-empty portfolio.
func (s *Store) LoadLatestSnapshot(ctx context.Context) (*portfolio.State, bool, error) {
	if s == nil || s.db == nil {
		return nil, false, fmt.Errorf("gorm store not initialized")
	}
	var row snapshotModel
	if err := s.db.WithContext(ctx).Order("id DESC").First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if err := validateSnapshotPayload([]byte(row.Payload)); err != nil {
		return nil, false, fmt.Errorf("snapshot %d rejected: %w", row.ID, err)
	}
	var snap portfolio.State
	if err := json.Unmarshal([]byte(row.Payload), &snap); err != nil {
		return nil, false, fmt.Errorf("unmarshal snapshot %d failed: %w", row.ID, err)
	}
	return &snap, true, nil
}

// ListRecentOrders returns the newest order rows, optionally filtered by
// symbol.
func (s *Store) ListRecentOrders(ctx context.Context, symbol string, limit int) ([]portfolio.Order, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store not initialized")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := s.db.WithContext(ctx).Model(&orderModel{})
	if sym := strings.ToUpper(strings.TrimSpace(symbol)); sym != "" {
		query = query.Where("symbol = ?", sym)
	}
	var rows []orderModel
	if err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]portfolio.Order, 0, len(rows))
	for _, row := range rows {
		ord, err := orderModelToRecord(row)
		if err != nil {
			return nil, err
		}
		out = append(out, ord)
	}
	return out, nil
}

func upsertOrders(tx *gorm.DB, orders []portfolio.Order) error {
	if len(orders) == 0 {
		return nil
	}
	rows := make([]orderModel, 0, len(orders))
	for _, ord := range orders {
		row, err := newOrderModel(ord)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "order_uuid"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "fill_price", "fill_qty", "pnl", "reason", "resolved_at", "payload",
		}),
	}).Create(&rows).Error
}

type snapshotModel struct {
	ID            int64   `gorm:"column:id;primaryKey"`
	Payload       string  `gorm:"column:payload"`
	Equity        float64 `gorm:"column:equity"`
	CreatedAtUnix int64   `gorm:"column:created_at;index"`
}

func (snapshotModel) TableName() string { return "portfolio_snapshots" }

type orderModel struct {
	ID            int64   `gorm:"column:id;primaryKey"`
	OrderUUID     string  `gorm:"column:order_uuid;uniqueIndex"`
	Symbol        string  `gorm:"column:symbol;index"`
	Side          string  `gorm:"column:side"`
	Type          string  `gorm:"column:type"`
	Status        string  `gorm:"column:status"`
	Quantity      float64 `gorm:"column:quantity"`
	Price         float64 `gorm:"column:price"`
	FillPrice     float64 `gorm:"column:fill_price"`
	FillQty       float64 `gorm:"column:fill_qty"`
	PnL           float64 `gorm:"column:pnl"`
	Reason        string  `gorm:"column:reason"`
	CreatedAtUnix int64   `gorm:"column:created_at;index"`
	ResolvedAt    int64   `gorm:"column:resolved_at"`
	Payload       string  `gorm:"column:payload"`
}

func (orderModel) TableName() string { return "order_log" }

func newOrderModel(ord portfolio.Order) (orderModel, error) {
	if strings.TrimSpace(ord.ID) == "" {
		return orderModel{}, fmt.Errorf("order without id cannot be persisted")
	}
	payload, err := json.Marshal(ord)
	if err != nil {
		return orderModel{}, err
	}
	row := orderModel{
		OrderUUID:     ord.ID,
		Symbol:        strings.ToUpper(strings.TrimSpace(ord.Symbol)),
		Side:          ord.Side,
		Type:          string(ord.Type),
		Status:        string(ord.Status),
		Quantity:      ord.Quantity,
		Price:         ord.Price,
		FillPrice:     ord.FillPrice,
		FillQty:       ord.FillQty,
		PnL:           ord.PnL,
		Reason:        ord.Reason,
		CreatedAtUnix: ord.CreatedAt.UnixMilli(),
		Payload:       string(payload),
	}
	if ord.ResolvedAt != nil && !ord.ResolvedAt.IsZero() {
		row.ResolvedAt = ord.ResolvedAt.UnixMilli()
	}
	return row, nil
}

func orderModelToRecord(row orderModel) (portfolio.Order, error) {
	var ord portfolio.Order
	if err := json.Unmarshal([]byte(row.Payload), &ord); err != nil {
		return portfolio.Order{}, fmt.Errorf("unmarshal order %s failed: %w", row.OrderUUID, err)
	}
	return ord, nil
}
