package backtest

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"quanta/internal/market"
)

// minutesPerYear 用于把单周期收益年化。
const minutesPerYear = 525600.0

// Metrics 汇总一条资金曲线的绩效。MaxDrawdown 是 (equity-峰值)/峰值 的最小值,
// 因此为非正数。
type Metrics struct {
	Sharpe      float64 `json:"sharpe"`
	CAGR        float64 `json:"cagr"`
	MaxDrawdown float64 `json:"max_dd"`
	PnL         float64 `json:"pnl"`
	Periods     int     `json:"periods"`
	FinalEquity float64 `json:"final_equity"`
}

// ComputeMetrics 从资金曲线计算年化指标。长度不足 2 时返回全零
// （仅保留可计算的 pnl），绝不除零。
func ComputeMetrics(equity []float64, interval string) Metrics {
	m := Metrics{Periods: len(equity)}
	if len(equity) > 0 {
		m.FinalEquity = equity[len(equity)-1]
		m.PnL = equity[len(equity)-1] - equity[0]
	}
	if len(equity) <= 1 {
		m.PnL = 0
		return m
	}

	returns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1]
		if prev == 0 {
			returns = append(returns, 0)
			continue
		}
		returns = append(returns, equity[i]/prev-1)
	}

	minutes := float64(market.IntervalMinutes(interval))
	factor := minutesPerYear / minutes

	mean := stat.Mean(returns, nil)
	variance := stat.MomentAbout(2, returns, mean, nil)
	if variance < 0 {
		variance = 0
	}
	std := math.Sqrt(variance)
	if std > 0 {
		m.Sharpe = mean / std * math.Sqrt(factor)
	}

	first, last := equity[0], equity[len(equity)-1]
	years := float64(len(equity)) * minutes / minutesPerYear
	switch {
	case years <= 0 || first <= 0:
		m.CAGR = 0
	case last <= 0:
		m.CAGR = -1
	default:
		m.CAGR = math.Pow(last/first, 1/years) - 1
	}

	peak := equity[0]
	for _, eq := range equity {
		if eq > peak {
			peak = eq
		}
		if peak > 0 {
			if dd := (eq - peak) / peak; dd < m.MaxDrawdown {
				m.MaxDrawdown = dd
			}
		}
	}
	if !finite(m.Sharpe) {
		m.Sharpe = 0
	}
	if !finite(m.CAGR) {
		m.CAGR = 0
	}
	return m
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
