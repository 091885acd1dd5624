package backtest

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeMetricsDegenerate(t *testing.T) {
	m := ComputeMetrics(nil, "1h")
	assert.Equal(t, Metrics{}, m)

	m = ComputeMetrics([]float64{10000}, "1h")
	assert.Equal(t, 1, m.Periods)
	assert.Equal(t, 10000.0, m.FinalEquity)
	assert.Zero(t, m.PnL)
	assert.Zero(t, m.Sharpe)
	assert.Zero(t, m.CAGR)
	assert.Zero(t, m.MaxDrawdown)
}

func TestComputeMetricsFlatCurve(t *testing.T) {
	m := ComputeMetrics([]float64{10000, 10000, 10000, 10000}, "1h")
	assert.Zero(t, m.Sharpe) // std=0 不除零
	assert.Zero(t, m.CAGR)
	assert.Zero(t, m.MaxDrawdown)
	assert.Zero(t, m.PnL)
	assert.Equal(t, 10000.0, m.FinalEquity)
}

func TestComputeMetricsRisingCurve(t *testing.T) {
	eq := make([]float64, 0, 100)
	for i := 0; i < 100; i++ {
		eq = append(eq, 10000*math.Pow(1.001, float64(i)))
	}
	m := ComputeMetrics(eq, "1h")
	assert.Greater(t, m.Sharpe, 0.0)
	assert.Greater(t, m.CAGR, 0.0)
	assert.Zero(t, m.MaxDrawdown)
	assert.InDelta(t, eq[99]-eq[0], m.PnL, 1e-9)
	assert.Equal(t, 100, m.Periods)
}

func TestComputeMetricsMaxDrawdown(t *testing.T) {
	// 峰值 1100，谷底 880 → (880-1100)/1100 = -0.2
	m := ComputeMetrics([]float64{1000, 1100, 880, 990}, "1h")
	assert.InDelta(t, -0.2, m.MaxDrawdown, 1e-9)
	assert.InDelta(t, -10.0, m.PnL, 1e-9)
}

func TestComputeMetricsCollapseToZero(t *testing.T) {
	m := ComputeMetrics([]float64{1000, 500, 0}, "1h")
	assert.Equal(t, -1.0, m.CAGR)
	assert.InDelta(t, -1.0, m.MaxDrawdown, 1e-9)
	assert.InDelta(t, -1000.0, m.PnL, 1e-9)
	assert.False(t, math.IsNaN(m.Sharpe))
	assert.False(t, math.IsInf(m.Sharpe, 0))
}

func TestComputeMetricsZeroStart(t *testing.T) {
	// 起点为 0 的病态曲线不产生 NaN/Inf
	m := ComputeMetrics([]float64{0, 100, 200}, "1h")
	assert.Zero(t, m.CAGR)
	assert.False(t, math.IsNaN(m.Sharpe))
	assert.False(t, math.IsInf(m.Sharpe, 0))
}

func TestComputeMetricsAnnualizationScale(t *testing.T) {
	eq := []float64{1000, 1010, 1005, 1020, 1015, 1030, 1025, 1040}
	hourly := ComputeMetrics(eq, "1h")
	quarter := ComputeMetrics(eq, "15m")
	// 同一条曲线按更短周期年化，sharpe 放大 sqrt(60/15)=2
	assert.InDelta(t, 2*hourly.Sharpe, quarter.Sharpe, 1e-9)
	// 未知周期按 1h 处理
	unknown := ComputeMetrics(eq, "bogus")
	assert.InDelta(t, hourly.Sharpe, unknown.Sharpe, 1e-9)
}
