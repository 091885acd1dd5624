package backtest

import (
	"context"
	"fmt"

	"quanta/internal/logger"
	"quanta/internal/strategy"
)

// WalkForward 做滚动窗口验证：train/test 两段窗口按 test 大小向前滑动，
// 每个窗口重训一次模型、只在测试段模拟，权益跨窗口连续。
func (e *Engine) WalkForward(ctx context.Context, params strategy.Params) (*Result, error) {
	params = params.Normalize()
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("回测参数非法: %w", err)
	}
	candles, rows, books, err := e.loadRows(ctx)
	if err != nil {
		return nil, err
	}
	n := len(rows)
	trainSize := int(float64(n) * params.TrainPct)
	testSize := int(float64(n) * params.TestPct)
	if trainSize <= 0 || testSize <= 0 {
		return nil, fmt.Errorf("walk-forward 窗口退化: rows=%d train=%d test=%d", n, trainSize, testSize)
	}

	equity := e.cfg.InitialCapital
	combined := []float64{equity}
	var folds []FoldResult
	var trades []TradeLog
	usedModel := false

	fold := 0
	for start := 0; start+trainSize+testSize <= n; start += testSize {
		trainEnd := start + trainSize
		testEnd := trainEnd + testSize
		out, err := e.simulate(ctx, rows, books, start, trainEnd, testEnd, params, equity)
		if err != nil {
			return nil, fmt.Errorf("第 %d 个窗口模拟失败: %w", fold, err)
		}
		fm := ComputeMetrics(out.equity, e.cfg.Interval)
		folds = append(folds, FoldResult{
			Fold:        fold,
			TrainStart:  start,
			TrainEnd:    trainEnd,
			TestEnd:     testEnd,
			Trades:      len(out.trades),
			StartEquity: equity,
			EndEquity:   out.endEquity,
			Metrics:     fm,
		})
		combined = append(combined, out.equity[1:]...)
		trades = append(trades, out.trades...)
		usedModel = usedModel || out.usedModel
		equity = out.endEquity
		logger.Infof("[backtest] 窗口 %d rows[%d:%d|%d]: trades=%d equity=%.2f sharpe=%.2f",
			fold, start, trainEnd, testEnd, len(out.trades), equity, fm.Sharpe)
		fold++
	}
	if len(folds) == 0 {
		return nil, fmt.Errorf("数据不足以切出任何 walk-forward 窗口: rows=%d train=%d test=%d", n, trainSize, testSize)
	}

	res := e.newResult(ModeWalkForward, params, candles)
	res.Metrics = ComputeMetrics(combined, e.cfg.Interval)
	res.Trades = trades
	res.Equity = combined
	res.Folds = folds
	res.ModelUsed = usedModel
	e.persist(ctx, res)
	logger.Infof("[backtest] walk-forward %s 完成: folds=%d trades=%d pnl=%.2f sharpe=%.2f",
		res.ID, len(folds), len(trades), res.Metrics.PnL, res.Metrics.Sharpe)
	return res, nil
}
