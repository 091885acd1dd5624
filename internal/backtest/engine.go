package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"quanta/internal/feature"
	"quanta/internal/logger"
	"quanta/internal/market"
	"quanta/internal/metamodel"
	"quanta/internal/slippage"
	"quanta/internal/strategy"
)

const (
	// DefaultLookback 是单次回测抓取的 K 线数量。
	DefaultLookback = 2000

	// DefaultInitialCapital 是模拟盘初始资金（USD 计价）。
	DefaultInitialCapital = 10000.0

	// warmupBars 之前的 K 线只用于指标预热，不产生特征行。
	warmupBars = 200

	// minCandles 是能切出训练+测试两段的最少 K 线数。
	minCandles = warmupBars + 100
)

type Config struct {
	Source  CandleSource
	Results ResultStore // 可为 nil，结果只留在内存

	Symbol         string
	Interval       string
	Lookback       int
	InitialCapital float64
	ImpactK        float64
	Depth          int
	Horizon        int
	Threshold      float64
	Seed           int64
	Leakage        LeakageMode
}

// Engine 驱动单段回测与 walk-forward。同一个 Engine 可以被多组参数复用，
// 每次 Run 自带独立的模型与持仓状态。
type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("candle source 不能为空")
	}
	if cfg.Symbol == "" {
		return nil, fmt.Errorf("symbol 不能为空")
	}
	if cfg.Interval == "" {
		cfg.Interval = "1h"
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = DefaultLookback
	}
	if cfg.InitialCapital <= 0 {
		cfg.InitialCapital = DefaultInitialCapital
	}
	if cfg.ImpactK <= 0 {
		cfg.ImpactK = slippage.DefaultImpactK
	}
	if cfg.Depth <= 0 {
		cfg.Depth = slippage.DefaultDepth
	}
	if cfg.Leakage == "" {
		cfg.Leakage = LeakageStrict
	}
	return &Engine{cfg: cfg}, nil
}

// Run 做一次单段回测：前 train_pct 的特征行训练元模型，剩余部分逐根模拟。
func (e *Engine) Run(ctx context.Context, params strategy.Params) (*Result, error) {
	params = params.Normalize()
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("回测参数非法: %w", err)
	}
	candles, rows, books, err := e.loadRows(ctx)
	if err != nil {
		return nil, err
	}
	split := int(float64(len(rows)) * params.TrainPct)
	if split <= 0 || split >= len(rows) {
		return nil, fmt.Errorf("训练/测试切分退化: rows=%d train_pct=%.2f", len(rows), params.TrainPct)
	}

	out, err := e.simulate(ctx, rows, books, 0, split, len(rows), params, e.cfg.InitialCapital)
	if err != nil {
		return nil, err
	}

	res := e.newResult(ModeSingle, params, candles)
	res.Metrics = ComputeMetrics(out.equity, e.cfg.Interval)
	res.Trades = out.trades
	res.Equity = out.equity
	res.ModelUsed = out.usedModel
	e.persist(ctx, res)
	logger.Infof("[backtest] run %s 完成: trades=%d pnl=%.2f sharpe=%.2f max_dd=%.2f%%",
		res.ID, len(res.Trades), res.Metrics.PnL, res.Metrics.Sharpe, res.Metrics.MaxDrawdown*100)
	return res, nil
}

// loadRows 拉取 K 线并逐根构造特征行。每行的指标只使用该行及之前的
// K 线；盘口由当根 K 线合成，与成交流无关（回测没有逐笔数据，CVD 恒为 0）。
func (e *Engine) loadRows(ctx context.Context) ([]market.Candle, []feature.Vector, []*market.OrderBook, error) {
	candles, err := e.cfg.Source.Candles(ctx, e.cfg.Symbol, e.cfg.Interval, e.cfg.Lookback)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("拉取 K 线失败: %w", err)
	}
	if len(candles) < minCandles {
		return nil, nil, nil, fmt.Errorf("K 线不足: 只有 %d 条，至少需要 %d", len(candles), minCandles)
	}
	rows := make([]feature.Vector, 0, len(candles)-warmupBars)
	books := make([]*market.OrderBook, 0, len(candles)-warmupBars)
	for i := warmupBars; i < len(candles); i++ {
		select {
		case <-ctx.Done():
			return nil, nil, nil, ctx.Err()
		default:
		}
		book := slippage.SynthesizeBook(candles[i], e.cfg.Depth)
		rows = append(rows, feature.Compute(candles[:i+1], nil, book))
		books = append(books, book)
	}
	return candles, rows, books, nil
}

type sliceOutcome struct {
	equity    []float64 // 以起始资金开头，每根测试 K 线追加一点
	endEquity float64
	trades    []TradeLog
	usedModel bool
}

// simulate 在 rows[trainEnd:testEnd] 上逐根推演。训练窗口由泄漏模式决定：
// strict 只看 rows[start:trainEnd]，parity 复刻旧流水线、连测试段一起喂进训练。
func (e *Engine) simulate(ctx context.Context, rows []feature.Vector, books []*market.OrderBook, start, trainEnd, testEnd int, params strategy.Params, startEquity float64) (sliceOutcome, error) {
	trainHi := trainEnd
	if e.cfg.Leakage == LeakageParity {
		trainHi = testEnd
	}
	meta := metamodel.New(metamodel.Config{
		Horizon:   e.cfg.Horizon,
		Threshold: e.cfg.Threshold,
		NumRounds: params.NumRounds,
		Seed:      e.cfg.Seed,
	}, nil)
	trained, err := meta.Train(ctx, rows[start:trainHi])
	if err != nil {
		return sliceOutcome{}, err
	}

	out := sliceOutcome{usedModel: trained}
	equity := startEquity
	out.equity = append(out.equity, equity)
	var pos *strategy.Position
	openIdx := -1

	for i := trainEnd; i < testEnd; i++ {
		select {
		case <-ctx.Done():
			return sliceOutcome{}, ctx.Err()
		default:
		}
		v := rows[i]
		price := v.Close

		// 先管理在途持仓，触发止损/止盈就按进场时的盘口模拟出场
		if pos != nil {
			if reason, hit := pos.ShouldClose(price); hit {
				exitPrice, _ := slippage.SimulateFill(price, pos.ExitSide(), pos.Quantity, pos.EntryBook, e.cfg.ImpactK)
				pnl := pos.PnL(exitPrice)
				equity += pnl
				t := &out.trades[openIdx]
				t.ExitTime, t.ExitPrice, t.PnL, t.Reason = v.TS, exitPrice, pnl, string(reason)
				pos, openIdx = nil, -1
			}
		}

		// 空仓才看新信号，同一根 K 线平仓后允许立刻再进
		if pos == nil {
			prob, hasModel := 0.0, false
			if trained {
				prob, hasModel = meta.PredictProba(v.Map())
			}
			action := strategy.Decide(prob, hasModel, v, time.UnixMilli(v.TS).UTC(), params.BaseThresh)
			if action != strategy.ActionHold {
				side := market.SideBuy
				if action == strategy.ActionSell {
					side = market.SideSell
				}
				stop, target := strategy.StopTarget(price, side, v.ATR, params.StopATR, params.TargetATR)
				qty := strategy.PositionSize(equity, params.RiskPerTrade, v.ATR*params.StopATR)
				if qty > 0 {
					book := books[i]
					fill, _ := slippage.SimulateFill(price, side, qty, book, e.cfg.ImpactK)
					pos = &strategy.Position{
						Symbol:      e.cfg.Symbol,
						Side:        side,
						Quantity:    qty,
						EntryPrice:  fill,
						StopPrice:   stop,
						TargetPrice: target,
						EntryBook:   book,
						OpenedAt:    v.TS,
					}
					out.trades = append(out.trades, TradeLog{
						Side:        side,
						Quantity:    qty,
						EntryTime:   v.TS,
						EntryPrice:  fill,
						StopPrice:   stop,
						TargetPrice: target,
					})
					openIdx = len(out.trades) - 1
				}
			}
		}
		out.equity = append(out.equity, equity)
	}

	// 测试段结束时还在场内的持仓按最后一根收盘强平
	if pos != nil {
		last := rows[testEnd-1]
		exitPrice, _ := slippage.SimulateFill(last.Close, pos.ExitSide(), pos.Quantity, pos.EntryBook, e.cfg.ImpactK)
		pnl := pos.PnL(exitPrice)
		equity += pnl
		t := &out.trades[openIdx]
		t.ExitTime, t.ExitPrice, t.PnL, t.Reason = last.TS, exitPrice, pnl, "end"
		out.equity[len(out.equity)-1] = equity
	}
	out.endEquity = equity
	return out, nil
}

func (e *Engine) newResult(mode string, params strategy.Params, candles []market.Candle) *Result {
	return &Result{
		ID:        uuid.NewString(),
		Symbol:    e.cfg.Symbol,
		Interval:  e.cfg.Interval,
		Mode:      mode,
		Params:    params,
		StartTS:   candles[0].OpenTime,
		EndTS:     candles[len(candles)-1].CloseTime,
		CreatedAt: time.Now().UTC(),
	}
}

func (e *Engine) persist(ctx context.Context, res *Result) {
	if e.cfg.Results == nil {
		return
	}
	if err := e.cfg.Results.SaveBacktest(ctx, res); err != nil {
		logger.Warnf("[backtest] 保存结果 %s 失败: %v", res.ID, err)
	}
}
