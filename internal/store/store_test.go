package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"quanta/internal/backtest"
	"quanta/internal/feature"
	"quanta/internal/market"
	"quanta/internal/metamodel"
	"quanta/internal/strategy"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := NewStore(filepath.Join(t.TempDir(), "quanta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

const hourMS = int64(3600_000)

func testCandle(i int) market.Candle {
	open := int64(1_700_000_000_000) + int64(i)*hourMS
	return market.Candle{
		OpenTime:  open,
		CloseTime: open + hourMS - 1,
		Open:      100 + float64(i),
		High:      101 + float64(i),
		Low:       99 + float64(i),
		Close:     100.5 + float64(i),
		Volume:    1000,
		Trades:    50,
	}
}

func TestNewStoreValidation(t *testing.T) {
	_, err := NewStore("")
	assert.Error(t, err)
	_, err = NewStore("   ")
	assert.Error(t, err)
}

func TestFeatureUpsertReplaces(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	got, err := st.LatestFeature(ctx, "BTCUSDT", "1h")
	require.NoError(t, err)
	assert.Nil(t, got)

	v := feature.Vector{TS: 1000, Close: 100, ATR: 1.5, RSI: 55}
	require.NoError(t, st.UpsertFeature(ctx, "BTCUSDT", "1h", v))

	// 同键重写只留最后一次
	v.ATR = 2.5
	require.NoError(t, st.UpsertFeature(ctx, "BTCUSDT", "1h", v))

	v2 := feature.Vector{TS: 2000, Close: 101, ATR: 3.0}
	require.NoError(t, st.UpsertFeature(ctx, "BTCUSDT", "1h", v2))

	got, err = st.LatestFeature(ctx, "BTCUSDT", "1h")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(2000), got.TS)

	var decoded feature.Vector
	require.NoError(t, json.Unmarshal(got.FeatJSON, &decoded))
	assert.InDelta(t, 3.0, decoded.ATR, 1e-12)

	// 另一个周期互不干扰
	got, err = st.LatestFeature(ctx, "BTCUSDT", "4h")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestTradeLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	rec := &TradeRecord{
		TS:          1000,
		Symbol:      "BTCUSDT",
		Side:        string(market.SideBuy),
		Quantity:    0.5,
		EntryPrice:  100,
		EquityAfter: 10000,
		Meta:        datatypes.JSON([]byte(`{"reason":"entry"}`)),
	}
	require.NoError(t, st.InsertTrade(ctx, rec))
	require.Greater(t, rec.ID, int64(0))

	require.NoError(t, st.FinalizeTrade(ctx, rec.ID, 104, 2, 10002))

	trades, err := st.RecentTrades(ctx, "BTCUSDT", 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	require.NotNil(t, trades[0].ExitPrice)
	require.NotNil(t, trades[0].PnL)
	assert.InDelta(t, 104, *trades[0].ExitPrice, 1e-12)
	assert.InDelta(t, 2, *trades[0].PnL, 1e-12)
	assert.InDelta(t, 10002, trades[0].EquityAfter, 1e-12)

	err = st.FinalizeTrade(ctx, rec.ID+999, 104, 2, 10002)
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))

	assert.Error(t, st.InsertTrade(ctx, nil))
}

func TestRecentTradesAndBalancesOrder(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for i, eq := range []float64{10000, 10100, 10050} {
		sym := "BTCUSDT"
		if i == 1 {
			sym = "ETHUSDT"
		}
		rec := &TradeRecord{TS: int64(1000 + i), Symbol: sym, Side: "BUY", Quantity: 1, EntryPrice: 100, EquityAfter: eq}
		require.NoError(t, st.InsertTrade(ctx, rec))
	}

	// 最新在前
	balances, err := st.RecentBalances(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, []float64{10050, 10100}, balances)

	balances, err = st.RecentBalances(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, balances, 3)

	btc, err := st.RecentTrades(ctx, "BTCUSDT", 10)
	require.NoError(t, err)
	require.Len(t, btc, 2)
	assert.True(t, btc[0].TS > btc[1].TS)

	all, err := st.RecentTrades(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestModelArtifactRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	got, err := st.LoadModelArtifact(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Nil(t, got)

	art := metamodel.Artifact{
		Name: "BTCUSDT",
		Blob: []byte(`{"trees":[]}`),
		Meta: metamodel.Meta{
			Columns:       feature.Columns(),
			SchemaVersion: feature.SchemaVersion,
			TrainedAt:     time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
			Samples:       1200,
			Rounds:        100,
			ValLogLoss:    0.66,
		},
	}
	require.NoError(t, st.SaveModelArtifact(ctx, art))

	got, err = st.LoadModelArtifact(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, art.Blob, got.Blob)
	assert.Equal(t, art.Meta.Columns, got.Meta.Columns)
	assert.Equal(t, 1200, got.Meta.Samples)
	assert.InDelta(t, 0.66, got.Meta.ValLogLoss, 1e-12)

	// 重训整行替换
	art.Blob = []byte(`{"trees":[1]}`)
	art.Meta.Samples = 1500
	require.NoError(t, st.SaveModelArtifact(ctx, art))

	got, err = st.LoadModelArtifact(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []byte(`{"trees":[1]}`), got.Blob)
	assert.Equal(t, 1500, got.Meta.Samples)

	assert.Error(t, st.SaveModelArtifact(ctx, metamodel.Artifact{}))
}

func TestBacktestArchive(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	assert.Error(t, st.SaveBacktest(ctx, nil))
	assert.Error(t, st.SaveBacktest(ctx, &backtest.Result{}))

	got, err := st.GetBacktest(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	res := &backtest.Result{
		ID:       "run-1",
		Symbol:   "BTCUSDT",
		Interval: "1h",
		Mode:     backtest.ModeWalkForward,
		Params:   strategy.DefaultParams(),
		Metrics:  backtest.Metrics{Sharpe: 1.5, PnL: 321.5, Periods: 100, FinalEquity: 10321.5},
		Trades: []backtest.TradeLog{{
			Side: market.SideBuy, Quantity: 0.5,
			EntryTime: 1000, EntryPrice: 100, StopPrice: 95, TargetPrice: 110,
			ExitTime: 2000, ExitPrice: 104, PnL: 2, Reason: "target",
		}},
		Equity:    []float64{10000, 10321.5},
		Folds:     []backtest.FoldResult{{Fold: 0, TrainEnd: 300, TestEnd: 400, Trades: 1}},
		CreatedAt: time.Now(),
	}
	require.NoError(t, st.SaveBacktest(ctx, res))

	list, err := st.ListBacktests(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "run-1", list[0].RunID)
	assert.Equal(t, backtest.ModeWalkForward, list[0].Mode)
	assert.Equal(t, 1, list[0].Trades)
	// 摘要不带明细列
	assert.Empty(t, list[0].EquityJSON)

	row, err := st.GetBacktest(ctx, "run-1")
	require.NoError(t, err)
	require.NotNil(t, row)

	var equity []float64
	require.NoError(t, json.Unmarshal(row.EquityJSON, &equity))
	assert.Equal(t, res.Equity, equity)

	var metrics backtest.Metrics
	require.NoError(t, json.Unmarshal(row.MetricsJSON, &metrics))
	assert.InDelta(t, 1.5, metrics.Sharpe, 1e-12)

	var trades []backtest.TradeLog
	require.NoError(t, json.Unmarshal(row.TradesJSON, &trades))
	require.Len(t, trades, 1)
	assert.Equal(t, market.SideBuy, trades[0].Side)

	var folds []backtest.FoldResult
	require.NoError(t, json.Unmarshal(row.FoldsJSON, &folds))
	require.Len(t, folds, 1)
	assert.Equal(t, 400, folds[0].TestEnd)
}

func TestListBacktestsOrder(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res := &backtest.Result{
			ID:        fmt.Sprintf("run-%d", i),
			Symbol:    "BTCUSDT",
			Mode:      backtest.ModeSingle,
			CreatedAt: time.UnixMilli(int64(1000 * (i + 1))),
		}
		require.NoError(t, st.SaveBacktest(ctx, res))
	}

	list, err := st.ListBacktests(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "run-2", list[0].RunID)
	assert.Equal(t, "run-1", list[1].RunID)
}

func TestCandleCacheRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	candles := make([]market.Candle, 5)
	for i := range candles {
		candles[i] = testCandle(i)
	}
	require.NoError(t, st.UpsertCandles(ctx, "BTCUSDT", "1h", candles))

	// 重写同一批（改了收盘价）应替换而不是翻倍
	candles[4].Close = 999
	require.NoError(t, st.UpsertCandles(ctx, "BTCUSDT", "1h", candles))

	got, err := st.RecentCandles(ctx, "BTCUSDT", "1h", 10)
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i := 1; i < len(got); i++ {
		assert.True(t, got[i].OpenTime > got[i-1].OpenTime)
	}
	assert.InDelta(t, 999, got[4].Close, 1e-12)

	// limit 截断取最近几根，仍旧升序
	got, err = st.RecentCandles(ctx, "BTCUSDT", "1h", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, candles[3].OpenTime, got[0].OpenTime)
	assert.Equal(t, candles[4].OpenTime, got[1].OpenTime)

	_, err = st.RecentCandles(ctx, "BTCUSDT", "1h", 0)
	assert.Error(t, err)

	require.NoError(t, st.UpsertCandles(ctx, "BTCUSDT", "1h", nil))
}

type fakeFetcher struct {
	calls   int
	candles []market.Candle
	err     error
}

func (f *fakeFetcher) Candles(_ context.Context, _, _ string, limit int) ([]market.Candle, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.candles) > limit {
		return f.candles[len(f.candles)-limit:], nil
	}
	return f.candles, nil
}

func TestCachedCandleSource(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	candles := make([]market.Candle, 4)
	for i := range candles {
		candles[i] = testCandle(i)
	}
	fetcher := &fakeFetcher{candles: candles}

	src, err := NewCachedCandleSource(fetcher, st)
	require.NoError(t, err)
	lastClose := candles[len(candles)-1].CloseTime
	src.now = func() time.Time { return time.UnixMilli(lastClose + 1) }

	// 冷缓存：回源并回填
	got, err := src.Candles(ctx, "BTCUSDT", "1h", 4)
	require.NoError(t, err)
	assert.Len(t, got, 4)
	assert.Equal(t, 1, fetcher.calls)

	cached, err := st.RecentCandles(ctx, "BTCUSDT", "1h", 4)
	require.NoError(t, err)
	assert.Len(t, cached, 4)

	// 新鲜缓存命中，不再回源
	got, err = src.Candles(ctx, "BTCUSDT", "1h", 4)
	require.NoError(t, err)
	assert.Len(t, got, 4)
	assert.Equal(t, 1, fetcher.calls)
	assert.Equal(t, candles[0].OpenTime, got[0].OpenTime)

	// 过期缓存重新回源
	src.now = func() time.Time { return time.UnixMilli(lastClose + 2*hourMS) }
	_, err = src.Candles(ctx, "BTCUSDT", "1h", 4)
	require.NoError(t, err)
	assert.Equal(t, 2, fetcher.calls)

	// 回源失败但缓存够数时降级
	fetcher.err = fmt.Errorf("网络抖动")
	got, err = src.Candles(ctx, "BTCUSDT", "1h", 4)
	require.NoError(t, err)
	assert.Len(t, got, 4)

	// 缓存不够数且回源失败则报错
	_, err = src.Candles(ctx, "BTCUSDT", "1h", 50)
	assert.Error(t, err)
}

func TestCachedCandleSourceValidation(t *testing.T) {
	st := newTestStore(t)
	_, err := NewCachedCandleSource(nil, st)
	assert.Error(t, err)
	_, err = NewCachedCandleSource(&fakeFetcher{}, nil)
	assert.Error(t, err)
}
