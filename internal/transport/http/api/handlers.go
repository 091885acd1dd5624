package apihttp

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"quanta/internal/store"
	"quanta/internal/strategy"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
)

// runSummary 是 /api/runs 的列表项，指标与参数从归档的 JSON 列里抽取。
type runSummary struct {
	RunID       string  `json:"run_id"`
	TS          int64   `json:"ts"`
	Symbol      string  `json:"symbol"`
	Interval    string  `json:"interval"`
	Mode        string  `json:"mode"`
	Trades      int     `json:"trades"`
	Sharpe      float64 `json:"sharpe"`
	MaxDrawdown float64 `json:"max_dd"`
	FinalEquity float64 `json:"final_equity"`
	BaseThresh  float64 `json:"base_thresh"`
	StopATR     float64 `json:"stop_atr"`
	TargetATR   float64 `json:"target_atr"`
}

func summarizeRun(row store.BacktestRow) runSummary {
	metrics := gjson.ParseBytes(row.MetricsJSON)
	params := gjson.ParseBytes(row.ParamsJSON)
	return runSummary{
		RunID:       row.RunID,
		TS:          row.TS,
		Symbol:      row.Symbol,
		Interval:    row.Interval,
		Mode:        row.Mode,
		Trades:      row.Trades,
		Sharpe:      metrics.Get("sharpe").Float(),
		MaxDrawdown: metrics.Get("max_dd").Float(),
		FinalEquity: metrics.Get("final_equity").Float(),
		BaseThresh:  params.Get("base_thresh").Float(),
		StopATR:     params.Get("stop_atr").Float(),
		TargetATR:   params.Get("target_atr").Float(),
	}
}

func (s *Server) handleRunList(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	rows, err := s.runs.ListBacktests(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]runSummary, 0, len(rows))
	for _, row := range rows {
		out = append(out, summarizeRun(row))
	}
	c.JSON(http.StatusOK, gin.H{"runs": out})
}

func (s *Server) handleRunDetail(c *gin.Context) {
	row, err := s.runs.GetBacktest(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if row == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"run":    row,
		"equity": row.EquityJSON,
		"trades": row.TradesJSON,
		"folds":  row.FoldsJSON,
	})
}

func (s *Server) handleTrades(c *gin.Context) {
	symbol := strings.ToUpper(strings.TrimSpace(c.Query("symbol")))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	trades, err := s.runs.RecentTrades(c.Request.Context(), symbol, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *Server) handleStatus(c *gin.Context) {
	if s.agent == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "实盘未启动"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": s.agent.Status()})
}

// BacktestRequest 是 POST /api/backtest 的请求体。schema 把守结构，
// 参数范围仍由 strategy.Params.Validate 在执行前复核。
type BacktestRequest struct {
	Symbol   string           `json:"symbol"`
	Interval string           `json:"interval"`
	Mode     string           `json:"mode"`
	Lookback int              `json:"lookback"`
	Params   *strategy.Params `json:"params"`
}

func (s *Server) handleBacktest(c *gin.Context) {
	if s.disp == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "回测执行器未启用"})
		return
	}
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.schema.validate(raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var req BacktestRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	id, err := s.disp.Submit(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run_id": id})
}
