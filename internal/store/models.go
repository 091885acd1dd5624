package store

import (
	"gorm.io/datatypes"
)

// FeatureRow 是一根 K 线收盘时刻的特征快照，按 ts+symbol+interval 整行替换。
type FeatureRow struct {
	ID       int64          `gorm:"column:id;primaryKey" json:"-"`
	TS       int64          `gorm:"column:ts;uniqueIndex:idx_feature_key,priority:1" json:"ts"`
	Symbol   string         `gorm:"column:symbol;uniqueIndex:idx_feature_key,priority:2" json:"symbol"`
	Interval string         `gorm:"column:interval;uniqueIndex:idx_feature_key,priority:3" json:"interval"`
	FeatJSON datatypes.JSON `gorm:"column:feat_json;type:TEXT" json:"features"`
}

func (FeatureRow) TableName() string { return "features" }

// TradeRecord 是一笔实盘/模拟成交：开仓写一行，平仓回填出场与盈亏。
// 只追加和按 id 回填，不做部分字段竞写。
type TradeRecord struct {
	ID          int64          `gorm:"column:id;primaryKey" json:"id"`
	TS          int64          `gorm:"column:ts;index" json:"ts"`
	Symbol      string         `gorm:"column:symbol;index" json:"symbol"`
	Side        string         `gorm:"column:side" json:"side"`
	Quantity    float64        `gorm:"column:quantity" json:"quantity"`
	EntryPrice  float64        `gorm:"column:entry_price" json:"entry_price"`
	ExitPrice   *float64       `gorm:"column:exit_price" json:"exit_price,omitempty"`
	PnL         *float64       `gorm:"column:pnl" json:"pnl,omitempty"`
	EquityAfter float64        `gorm:"column:equity_after" json:"equity_after"`
	Meta        datatypes.JSON `gorm:"column:meta_json;type:TEXT" json:"meta,omitempty"`
}

func (TradeRecord) TableName() string { return "trades" }

// ModelRow 是命名的模型工件，重训按 name 整行替换。
type ModelRow struct {
	Name      string         `gorm:"column:name;primaryKey" json:"name"`
	Blob      []byte         `gorm:"column:model_blob" json:"-"`
	MetaJSON  datatypes.JSON `gorm:"column:meta_json;type:TEXT" json:"meta"`
	UpdatedAt int64          `gorm:"column:updated_at" json:"updated_at"`
}

func (ModelRow) TableName() string { return "models" }

// BacktestRow 是一次回测/搜索的归档，明细全部进 JSON 列。
type BacktestRow struct {
	ID          int64          `gorm:"column:id;primaryKey" json:"-"`
	RunID       string         `gorm:"column:run_id;uniqueIndex" json:"run_id"`
	TS          int64          `gorm:"column:ts;index" json:"ts"`
	Symbol      string         `gorm:"column:symbol" json:"symbol"`
	Interval    string         `gorm:"column:interval" json:"interval"`
	Mode        string         `gorm:"column:mode" json:"mode"`
	Trades      int            `gorm:"column:trades" json:"trades"`
	ParamsJSON  datatypes.JSON `gorm:"column:params_json;type:TEXT" json:"params"`
	MetricsJSON datatypes.JSON `gorm:"column:metrics_json;type:TEXT" json:"metrics"`
	EquityJSON  datatypes.JSON `gorm:"column:equity_json;type:TEXT" json:"-"`
	TradesJSON  datatypes.JSON `gorm:"column:trades_json;type:TEXT" json:"-"`
	FoldsJSON   datatypes.JSON `gorm:"column:folds_json;type:TEXT" json:"-"`
}

func (BacktestRow) TableName() string { return "backtests" }

// CandleRow 是网关行情的本地缓存，按 symbol+interval+open_time 替换。
type CandleRow struct {
	ID        int64   `gorm:"column:id;primaryKey"`
	Symbol    string  `gorm:"column:symbol;uniqueIndex:idx_candle_key,priority:1"`
	Interval  string  `gorm:"column:interval;uniqueIndex:idx_candle_key,priority:2"`
	OpenTime  int64   `gorm:"column:open_time;uniqueIndex:idx_candle_key,priority:3"`
	CloseTime int64   `gorm:"column:close_time"`
	Open      float64 `gorm:"column:open"`
	High      float64 `gorm:"column:high"`
	Low       float64 `gorm:"column:low"`
	Close     float64 `gorm:"column:close"`
	Volume    float64 `gorm:"column:volume"`
	Trades    int64   `gorm:"column:trades"`
}

func (CandleRow) TableName() string { return "candles" }
