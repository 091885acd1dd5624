// Package report 把回测结果渲染成自包含的 HTML 报告：资金曲线与回撤
// 曲线各一张图，标题里带汇总指标，浏览器直接打开即可。
package report

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"

	"quanta/internal/backtest"
	"quanta/internal/logger"
	"quanta/internal/market"
)

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorEquity        = "#34d399"
	colorDrawdown      = "#f87171"

	chartWidthPx  = 1200
	chartHeightPx = 420
)

// Write 把 res 渲染到 dir/report_<runid>.html，返回写出的完整路径。
func Write(res *backtest.Result, dir string) (string, error) {
	if res == nil {
		return "", fmt.Errorf("result 不能为空")
	}
	if res.ID == "" {
		return "", fmt.Errorf("result 缺少 run id")
	}
	if len(res.Equity) == 0 {
		return "", fmt.Errorf("资金曲线为空，无法出报告")
	}
	if strings.TrimSpace(dir) == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	xAxis := buildXAxis(res)
	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.AddCharts(equityChart(res, xAxis), drawdownChart(res, xAxis))

	path := filepath.Join(dir, fmt.Sprintf("report_%s.html", res.ID))
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := page.Render(f); err != nil {
		return "", fmt.Errorf("渲染报告失败: %w", err)
	}
	logger.Infof("[report] 已生成 %s", path)
	return path, nil
}

func equityChart(res *backtest.Result, xAxis []string) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		chartInit(),
		charts.WithTitleOpts(opts.Title{
			Title: fmt.Sprintf("%s %s 资金曲线", res.Symbol, res.Interval),
			Subtitle: fmt.Sprintf("mode=%s sharpe=%.2f cagr=%.1f%% max_dd=%.1f%% trades=%d final=%.2f",
				res.Mode, res.Metrics.Sharpe, res.Metrics.CAGR*100, res.Metrics.MaxDrawdown*100,
				len(res.Trades), res.Metrics.FinalEquity),
			Left:          "left",
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(false)},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
		}),
	)
	line.SetSeriesOptions(
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)

	data := make([]opts.LineData, len(res.Equity))
	for i, v := range res.Equity {
		data[i] = opts.LineData{Value: round2(v)}
	}
	line.SetXAxis(xAxis)
	line.AddSeries("equity", data, charts.WithLineStyleOpts(opts.LineStyle{Color: colorEquity, Width: 2}))
	return line
}

func drawdownChart(res *backtest.Result, xAxis []string) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		chartInit(),
		charts.WithTitleOpts(opts.Title{
			Title:      "回撤 (%)",
			Left:       "left",
			TitleStyle: &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(false)},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
		}),
	)
	line.SetSeriesOptions(
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)

	dds := drawdowns(res.Equity)
	data := make([]opts.LineData, len(dds))
	for i, dd := range dds {
		data[i] = opts.LineData{Value: round2(dd * 100)}
	}
	line.SetXAxis(xAxis)
	line.AddSeries("drawdown", data, charts.WithLineStyleOpts(opts.LineStyle{Color: colorDrawdown, Width: 2}))
	return line
}

func chartInit() charts.GlobalOpts {
	return charts.WithInitializationOpts(opts.Initialization{
		Theme:           types.ThemeWesteros,
		Width:           fmt.Sprintf("%dpx", chartWidthPx),
		Height:          fmt.Sprintf("%dpx", chartHeightPx),
		BackgroundColor: colorBackground,
	})
}

// buildXAxis 尽量用真实时间做横轴；周期无法解析时退回 bar 序号。
func buildXAxis(res *backtest.Result) []string {
	labels := make([]string, len(res.Equity))
	dur, ok := market.IntervalDuration(res.Interval)
	if !ok || res.StartTS <= 0 {
		for i := range labels {
			labels[i] = strconv.Itoa(i)
		}
		return labels
	}
	start := time.UnixMilli(res.StartTS).UTC()
	for i := range labels {
		labels[i] = start.Add(time.Duration(i) * dur).Format("01-02 15:04")
	}
	return labels
}

// drawdowns 返回相对滚动峰值的回撤序列，与资金曲线等长。
func drawdowns(equity []float64) []float64 {
	out := make([]float64, len(equity))
	peak := 0.0
	for i, e := range equity {
		if e > peak {
			peak = e
		}
		if peak > 0 {
			out[i] = (peak - e) / peak
		}
	}
	return out
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
