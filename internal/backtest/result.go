// Package backtest 把历史 K 线推演成资金曲线：单段回测在时间序上
// 切前段训练、后段逐根模拟，walk-forward 则滚动这对窗口并串接权益。
package backtest

import (
	"context"
	"strings"
	"time"

	"quanta/internal/market"
	"quanta/internal/strategy"
)

// LeakageMode 控制训练标签能否看到测试段的收盘价。
// strict 在切分前丢掉训练段末尾 horizon 行（它们的前视收益落在测试段里），
// parity 保留旧流水线的越界标签，用于和历史结果对账。
type LeakageMode string

const (
	LeakageStrict LeakageMode = "strict"
	LeakageParity LeakageMode = "parity"
)

// ParseLeakage 解析泄漏模式，未知值一律按 strict 处理。
func ParseLeakage(s string) LeakageMode {
	if strings.EqualFold(strings.TrimSpace(s), string(LeakageParity)) {
		return LeakageParity
	}
	return LeakageStrict
}

// CandleSource 是引擎需要的最小行情面，网关和带缓存的存储都实现它。
type CandleSource interface {
	Candles(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error)
}

// ResultStore 落库回测结果，nil 时结果只在内存里。
type ResultStore interface {
	SaveBacktest(ctx context.Context, res *Result) error
}

// TradeLog 是模拟盘里一笔已开/已平的交易。
type TradeLog struct {
	Side        market.Side `json:"side"`
	Quantity    float64     `json:"quantity"`
	EntryTime   int64       `json:"entry_time"`
	EntryPrice  float64     `json:"entry_price"`
	StopPrice   float64     `json:"stop_price"`
	TargetPrice float64     `json:"target_price"`
	ExitTime    int64       `json:"exit_time,omitempty"`
	ExitPrice   float64     `json:"exit_price,omitempty"`
	PnL         float64     `json:"pnl"`
	Reason      string      `json:"reason,omitempty"`
}

// FoldResult 记录 walk-forward 中一个窗口的账目。索引都是特征行下标。
type FoldResult struct {
	Fold        int     `json:"fold"`
	TrainStart  int     `json:"train_start"`
	TrainEnd    int     `json:"train_end"`
	TestEnd     int     `json:"test_end"`
	Trades      int     `json:"trades"`
	StartEquity float64 `json:"start_equity"`
	EndEquity   float64 `json:"end_equity"`
	Metrics     Metrics `json:"metrics"`
}

// Result 是一次回测（单段或 walk-forward）的完整产出。
type Result struct {
	ID        string          `json:"id"`
	Symbol    string          `json:"symbol"`
	Interval  string          `json:"interval"`
	Mode      string          `json:"mode"`
	Params    strategy.Params `json:"params"`
	Metrics   Metrics         `json:"metrics"`
	Trades    []TradeLog      `json:"trades"`
	Equity    []float64       `json:"equity"`
	Folds     []FoldResult    `json:"folds,omitempty"`
	ModelUsed bool            `json:"model_used"`
	StartTS   int64           `json:"start_ts"`
	EndTS     int64           `json:"end_ts"`
	CreatedAt time.Time       `json:"created_at"`
}

const (
	ModeSingle      = "single"
	ModeWalkForward = "walkforward"
)
