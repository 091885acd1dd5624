package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quanta/internal/backtest"
)

func sampleResult() *backtest.Result {
	return &backtest.Result{
		ID:       "run-abc",
		Symbol:   "BTCUSDT",
		Interval: "1h",
		Mode:     backtest.ModeSingle,
		Equity:   []float64{10000, 10100, 9990, 10200},
		Metrics:  backtest.Metrics{Sharpe: 1.2, MaxDrawdown: 0.011, FinalEquity: 10200},
		StartTS:  1_700_000_000_000,
	}
}

func TestWriteReport(t *testing.T) {
	dir := t.TempDir()
	path, err := Write(sampleResult(), dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "report_run-abc.html"), path)

	blob, err := os.ReadFile(path)
	require.NoError(t, err)
	html := string(blob)
	assert.Contains(t, html, "echarts")
	assert.Contains(t, html, "BTCUSDT")
	assert.True(t, strings.Contains(html, "资金曲线"))
	assert.Contains(t, html, "回撤")
}

func TestWriteReportValidation(t *testing.T) {
	_, err := Write(nil, t.TempDir())
	assert.Error(t, err)

	res := sampleResult()
	res.ID = ""
	_, err = Write(res, t.TempDir())
	assert.Error(t, err)

	res = sampleResult()
	res.Equity = nil
	_, err = Write(res, t.TempDir())
	assert.Error(t, err)
}

func TestWriteReportCreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "reports")
	_, err := Write(sampleResult(), dir)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "report_run-abc.html"))
	assert.NoError(t, err)
}

func TestDrawdowns(t *testing.T) {
	dds := drawdowns([]float64{1000, 1100, 990, 1200, 1080})
	require.Len(t, dds, 5)
	assert.InDelta(t, 0, dds[0], 1e-9)
	assert.InDelta(t, 0, dds[1], 1e-9)
	assert.InDelta(t, 0.1, dds[2], 1e-9) // 峰值 1100 跌到 990
	assert.InDelta(t, 0, dds[3], 1e-9)
	assert.InDelta(t, 0.1, dds[4], 1e-9) // 新峰值 1200 跌到 1080

	assert.Empty(t, drawdowns(nil))
}

func TestBuildXAxisFallsBackToIndex(t *testing.T) {
	res := sampleResult()
	res.Interval = "??"
	labels := buildXAxis(res)
	require.Len(t, labels, len(res.Equity))
	assert.Equal(t, "0", labels[0])
	assert.Equal(t, "3", labels[3])

	res = sampleResult()
	labels = buildXAxis(res)
	// 1_700_000_000_000 ms = 2023-11-14 22:13:20 UTC
	assert.Equal(t, "11-14 22:13", labels[0])
	assert.Equal(t, "11-15 01:13", labels[3])
}
