// Package store 是引擎的持久层：特征快照、成交流水、模型工件、回测归档
// 与 K 线缓存共用一个 SQLite 文件，写入要么追加要么按自然键整行替换。
package store

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

	"quanta/internal/backtest"
	"quanta/internal/feature"
	"quanta/internal/market"
	"quanta/internal/metamodel"
)

// Store 基于 gorm + SQLite(WAL)。零值与 nil 接收者的方法都安全返回。
type Store struct {
	db *gorm.DB
}

func NewStore(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("store 路径不能为空")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(
		&FeatureRow{},
		&TradeRecord{},
		&ModelRow{},
		&BacktestRow{},
		&CandleRow{},
	); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// WAL 下留一点并发给 HTTP 读
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db}, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
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

var errNotInitialized = fmt.Errorf("store 未初始化")

// ---------------------------------------------------------------- features

// UpsertFeature 按 ts+symbol+interval 整行替换特征快照。
func (s *Store) UpsertFeature(ctx context.Context, symbol, interval string, v feature.Vector) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}
	blob, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("序列化特征失败: %w", err)
	}
	row := FeatureRow{TS: v.TS, Symbol: symbol, Interval: interval, FeatJSON: blob}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "ts"}, {Name: "symbol"}, {Name: "interval"}},
			DoUpdates: clause.AssignmentColumns([]string{"feat_json"}),
		}).
		Create(&row).Error
}

// LatestFeature 返回交易对最近一行特征，没有时 (nil, nil)。
func (s *Store) LatestFeature(ctx context.Context, symbol, interval string) (*FeatureRow, error) {
	if s == nil || s.db == nil {
		return nil, errNotInitialized
	}
	var row FeatureRow
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND interval = ?", symbol, interval).
		Order("ts DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// ------------------------------------------------------------------ trades

// InsertTrade 追加一条开仓流水并回填自增 id。
func (s *Store) InsertTrade(ctx context.Context, rec *TradeRecord) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}
	if rec == nil {
		return fmt.Errorf("trade record 不能为空")
	}
	return s.db.WithContext(ctx).Create(rec).Error
}

// FinalizeTrade 回填平仓字段。找不到对应流水时返回 gorm.ErrRecordNotFound。
func (s *Store) FinalizeTrade(ctx context.Context, id int64, exitPrice, pnl, equityAfter float64) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}
	res := s.db.WithContext(ctx).Model(&TradeRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"exit_price":   exitPrice,
			"pnl":          pnl,
			"equity_after": equityAfter,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// RecentTrades 按 id 倒序返回流水；symbol 为空时不过滤。
func (s *Store) RecentTrades(ctx context.Context, symbol string, limit int) ([]TradeRecord, error) {
	if s == nil || s.db == nil {
		return nil, errNotInitialized
	}
	if limit <= 0 {
		limit = 100
	}
	q := s.db.WithContext(ctx).Order("id DESC").Limit(limit)
	if symbol != "" {
		q = q.Where("symbol = ?", symbol)
	}
	var out []TradeRecord
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// RecentBalances 返回最近 limit 条流水的 equity_after，最新在前。
// 风控窗口就建立在这串余额上。
func (s *Store) RecentBalances(ctx context.Context, limit int) ([]float64, error) {
	if s == nil || s.db == nil {
		return nil, errNotInitialized
	}
	if limit <= 0 {
		limit = 200
	}
	var out []float64
	err := s.db.WithContext(ctx).Model(&TradeRecord{}).
		Order("id DESC").Limit(limit).
		Pluck("equity_after", &out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ------------------------------------------------------------------ models

// SaveModelArtifact 按 name 整行替换模型工件。
func (s *Store) SaveModelArtifact(ctx context.Context, art metamodel.Artifact) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}
	if art.Name == "" {
		return fmt.Errorf("模型名不能为空")
	}
	metaJSON, err := json.Marshal(art.Meta)
	if err != nil {
		return fmt.Errorf("序列化模型元数据失败: %w", err)
	}
	row := ModelRow{
		Name:      art.Name,
		Blob:      art.Blob,
		MetaJSON:  metaJSON,
		UpdatedAt: time.Now().UnixMilli(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"model_blob", "meta_json", "updated_at"}),
		}).
		Create(&row).Error
}

// LoadModelArtifact 取回同名工件，不存在时 (nil, nil)。
func (s *Store) LoadModelArtifact(ctx context.Context, name string) (*metamodel.Artifact, error) {
	if s == nil || s.db == nil {
		return nil, errNotInitialized
	}
	var row ModelRow
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	art := metamodel.Artifact{Name: row.Name, Blob: row.Blob}
	if len(row.MetaJSON) > 0 {
		if err := json.Unmarshal(row.MetaJSON, &art.Meta); err != nil {
			return nil, fmt.Errorf("模型元数据损坏: %w", err)
		}
	}
	return &art, nil
}

// --------------------------------------------------------------- backtests

// SaveBacktest 归档一次回测结果。
func (s *Store) SaveBacktest(ctx context.Context, res *backtest.Result) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}
	if res == nil || res.ID == "" {
		return fmt.Errorf("backtest result 不能为空")
	}
	paramsJSON, err := json.Marshal(res.Params)
	if err != nil {
		return err
	}
	metricsJSON, err := json.Marshal(res.Metrics)
	if err != nil {
		return err
	}
	row := BacktestRow{
		RunID:       res.ID,
		TS:          res.CreatedAt.UnixMilli(),
		Symbol:      res.Symbol,
		Interval:    res.Interval,
		Mode:        res.Mode,
		Trades:      len(res.Trades),
		ParamsJSON:  paramsJSON,
		MetricsJSON: metricsJSON,
	}
	if len(res.Equity) > 0 {
		if row.EquityJSON, err = json.Marshal(res.Equity); err != nil {
			return err
		}
	}
	if len(res.Trades) > 0 {
		if row.TradesJSON, err = json.Marshal(res.Trades); err != nil {
			return err
		}
	}
	if len(res.Folds) > 0 {
		if row.FoldsJSON, err = json.Marshal(res.Folds); err != nil {
			return err
		}
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

// ListBacktests 按时间倒序返回归档摘要。
func (s *Store) ListBacktests(ctx context.Context, limit int) ([]BacktestRow, error) {
	if s == nil || s.db == nil {
		return nil, errNotInitialized
	}
	if limit <= 0 {
		limit = 50
	}
	var out []BacktestRow
	err := s.db.WithContext(ctx).
		Select("id", "run_id", "ts", "symbol", "interval", "mode", "trades", "params_json", "metrics_json").
		Order("ts DESC").Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetBacktest 按 run_id 取完整归档，不存在时 (nil, nil)。
func (s *Store) GetBacktest(ctx context.Context, runID string) (*BacktestRow, error) {
	if s == nil || s.db == nil {
		return nil, errNotInitialized
	}
	var row BacktestRow
	err := s.db.WithContext(ctx).Where("run_id = ?", runID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// ----------------------------------------------------------------- candles

// UpsertCandles 批量写入缓存，按 symbol+interval+open_time 整行替换。
func (s *Store) UpsertCandles(ctx context.Context, symbol, interval string, candles []market.Candle) error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}
	if len(candles) == 0 {
		return nil
	}
	rows := make([]CandleRow, 0, len(candles))
	for _, c := range candles {
		rows = append(rows, CandleRow{
			Symbol:    symbol,
			Interval:  interval,
			OpenTime:  c.OpenTime,
			CloseTime: c.CloseTime,
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
			Volume:    c.Volume,
			Trades:    c.Trades,
		})
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "symbol"}, {Name: "interval"}, {Name: "open_time"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"close_time", "open", "high", "low", "close", "volume", "trades",
			}),
		}).
		CreateInBatches(&rows, 500).Error
}

// RecentCandles 返回缓存里最近 limit 根 K 线，按 open_time 升序。
func (s *Store) RecentCandles(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	if s == nil || s.db == nil {
		return nil, errNotInitialized
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit 必须为正: %d", limit)
	}
	var rows []CandleRow
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND interval = ?", symbol, interval).
		Order("open_time DESC").Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]market.Candle, len(rows))
	for i, r := range rows {
		out[len(rows)-1-i] = market.Candle{
			OpenTime:  r.OpenTime,
			CloseTime: r.CloseTime,
			Open:      r.Open,
			High:      r.High,
			Low:       r.Low,
			Close:     r.Close,
			Volume:    r.Volume,
			Trades:    r.Trades,
		}
	}
	return out, nil
}
