package app

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"quanta/internal/backtest"
	"quanta/internal/config"
	"quanta/internal/logger"
	"quanta/internal/report"
	"quanta/internal/store"
	"quanta/internal/strategy"
	apihttp "quanta/internal/transport/http/api"

	"github.com/google/uuid"
)

// Runner 执行 API 提交的后台回测。单工位：同一时刻只跑一个，
// 受理即返回 run id，完成后按该 id 归档并出报告。
type Runner struct {
	cfg    *config.Config
	source backtest.CandleSource
	store  *store.Store

	mu   sync.Mutex
	ctx  context.Context
	busy bool
}

func NewRunner(cfg *config.Config, source backtest.CandleSource, st *store.Store) *Runner {
	return &Runner{cfg: cfg, source: source, store: st, ctx: context.Background()}
}

// bind 把后台执行挂到应用生命周期上，应用退出时未完的回测一并取消。
func (r *Runner) bind(ctx context.Context) {
	if ctx == nil {
		return
	}
	r.mu.Lock()
	r.ctx = ctx
	r.mu.Unlock()
}

// Submit 校验并受理一个回测请求，立即返回 run id。
func (r *Runner) Submit(req apihttp.BacktestRequest) (string, error) {
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		return "", fmt.Errorf("symbol 不能为空")
	}
	interval := strings.ToLower(strings.TrimSpace(req.Interval))
	if interval == "" {
		interval = r.cfg.App.Interval
	}
	lookback := req.Lookback
	if lookback <= 0 {
		lookback = r.cfg.Engine.Lookback
	}
	mode := strings.ToLower(strings.TrimSpace(req.Mode))
	if mode == "" {
		mode = backtest.ModeSingle
	}

	params := resolveParams(r.cfg)
	if req.Params != nil {
		p := *req.Params
		if p.RiskPerTrade == 0 {
			p.RiskPerTrade = r.cfg.Engine.RiskPerTrade
		}
		params = p.Normalize()
	}
	if err := params.Validate(); err != nil {
		return "", err
	}

	eng, err := newEngine(r.cfg, r.source, nil, symbol, interval, lookback)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	if r.busy {
		r.mu.Unlock()
		return "", fmt.Errorf("已有回测在执行中")
	}
	r.busy = true
	ctx := r.ctx
	r.mu.Unlock()

	id := uuid.NewString()
	logger.Infof("[app] 回测已受理: run=%s symbol=%s interval=%s mode=%s lookback=%d",
		id, symbol, interval, mode, lookback)
	go r.execute(ctx, id, mode, eng, params)
	return id, nil
}

func (r *Runner) execute(ctx context.Context, id, mode string, eng *backtest.Engine, params strategy.Params) {
	defer func() {
		r.mu.Lock()
		r.busy = false
		r.mu.Unlock()
	}()

	var res *backtest.Result
	var err error
	if mode == backtest.ModeWalkForward {
		res, err = eng.WalkForward(ctx, params)
	} else {
		res, err = eng.Run(ctx, params)
	}
	if err != nil {
		logger.Errorf("[app] 后台回测 %s 失败: %v", id, err)
		return
	}

	// 归档用受理时返回的 run id，提交方才能按号查询
	res.ID = id
	if err := r.store.SaveBacktest(ctx, res); err != nil {
		logger.Errorf("[app] 后台回测 %s 归档失败: %v", id, err)
		return
	}
	if path, err := report.Write(res, reportDir(r.cfg)); err != nil {
		logger.Warnf("[app] 后台回测 %s 报告生成失败: %v", id, err)
	} else {
		logger.Infof("[app] 后台回测 %s 完成，报告: %s", id, path)
	}
}
