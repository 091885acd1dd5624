// Package app 负责应用级编排：加载配置→组装依赖→按运行模式启动。
// live 模式下 agent、API 服务与风控热更新挂在同一个 errgroup 上，
// 其余模式是跑完即退的一次性任务。
package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"quanta/internal/backtest"
	"quanta/internal/config"
	"quanta/internal/feature"
	"quanta/internal/gateway/exchange"
	"quanta/internal/logger"
	"quanta/internal/market"
	"quanta/internal/metamodel"
	"quanta/internal/optimize"
	"quanta/internal/report"
	"quanta/internal/slippage"
	"quanta/internal/store"
	"quanta/internal/strategy"
	apihttp "quanta/internal/transport/http/api"

	"golang.org/x/sync/errgroup"
)

// trainWarmupBars 之前的 K 线只预热指标，不产生训练样本。
const trainWarmupBars = 200

// App 持有按配置组装好的全部组件。非 live 模式下 agent/api 为 nil。
type App struct {
	cfg     *config.Config
	store   *store.Store
	source  market.Source
	candles *store.CachedCandleSource
	params  strategy.Params

	agent       liveAgent
	venue       exchange.Venue
	api         *apihttp.Server
	runner      *Runner
	riskWatcher *config.RiskWatcher

	Summary *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run 按配置的模式运行，live 模式阻塞到 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.Summary != nil {
		a.Summary.Print()
	}

	switch a.cfg.App.Mode {
	case "live":
		return a.runLive(ctx)
	case "backtest":
		return a.runBacktest(ctx, false)
	case "walkforward":
		return a.runBacktest(ctx, true)
	case "optimize":
		return a.runOptimize(ctx)
	case "train":
		return a.runTrain(ctx)
	default:
		return fmt.Errorf("未知运行模式: %s", a.cfg.App.Mode)
	}
}

// Close 释放网关与存储。live 循环退出后由 main 统一调用。
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.venue != nil {
		_ = a.venue.Close()
	}
	if a.source != nil {
		_ = a.source.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}

func (a *App) runLive(ctx context.Context) error {
	if a.agent == nil {
		return fmt.Errorf("live agent not initialized")
	}
	group, ctx := errgroup.WithContext(ctx)

	if a.api != nil {
		logger.Infof("[app] API 服务监听 %s", a.api.Addr())
		group.Go(func() error {
			if err := a.api.Start(ctx); err != nil {
				return fmt.Errorf("api server error: %w", err)
			}
			return nil
		})
	}
	if a.runner != nil {
		a.runner.bind(ctx)
	}

	group.Go(func() error {
		return a.agent.Run(ctx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *App) runBacktest(ctx context.Context, walkForward bool) error {
	eng, err := newEngine(a.cfg, a.candles, a.store, a.cfg.App.Symbol, a.cfg.App.Interval, a.cfg.Engine.Lookback)
	if err != nil {
		return err
	}
	var res *backtest.Result
	if walkForward {
		res, err = eng.WalkForward(ctx, a.params)
	} else {
		res, err = eng.Run(ctx, a.params)
	}
	if err != nil {
		return err
	}
	if path, err := report.Write(res, reportDir(a.cfg)); err != nil {
		logger.Warnf("[app] 生成报告失败: %v", err)
	} else {
		logger.Infof("[app] 报告已生成: %s", path)
	}
	return nil
}

func (a *App) runOptimize(ctx context.Context) error {
	cfg := a.cfg
	// 试验过程不落主库，只有最优结果由 searcher 归档
	eng, err := newEngine(cfg, a.candles, nil, cfg.App.Symbol, cfg.App.Interval, cfg.Engine.Lookback)
	if err != nil {
		return err
	}
	space := optimize.Space{}
	if p := strings.TrimSpace(cfg.Optimize.SpacePath); p != "" {
		space, err = optimize.LoadSpace(p)
		if err != nil {
			return fmt.Errorf("加载搜索空间失败: %w", err)
		}
	}
	studies, err := optimize.NewStudyStore(cfg.Optimize.DBPath)
	if err != nil {
		return fmt.Errorf("初始化 study 存储失败: %w", err)
	}
	defer studies.Close()

	searcher, err := optimize.NewSearcher(optimize.SearchConfig{
		Evaluator: eng,
		Store:     studies,
		Results:   a.store,
		Space:     space,
		Study:     cfg.Optimize.Study,
		Trials:    cfg.Optimize.Trials,
		Seed:      cfg.Engine.Seed,
	})
	if err != nil {
		return err
	}
	best, err := searcher.Run(ctx)
	if err != nil {
		return err
	}
	logger.Infof("[app] 搜索完成: study=%s best=#%d value=%.4f num_rounds=%d base_thresh=%.3f stop_atr=%.2f target_atr=%.2f",
		cfg.Optimize.Study, best.Number, best.Value,
		best.Params.NumRounds, best.Params.BaseThresh, best.Params.StopATR, best.Params.TargetATR)
	return nil
}

func (a *App) runTrain(ctx context.Context) error {
	cfg := a.cfg
	meta := metamodel.New(metamodel.Config{
		Name:      cfg.Engine.ModelName,
		Horizon:   cfg.Engine.Horizon,
		Threshold: cfg.Engine.LabelThreshold,
		NumRounds: a.params.NumRounds,
		Seed:      cfg.Engine.Seed,
	}, a.store)

	candles, err := a.candles.Candles(ctx, cfg.App.Symbol, cfg.App.Interval, cfg.Engine.Lookback)
	if err != nil {
		return fmt.Errorf("拉取训练 K 线失败: %w", err)
	}
	if len(candles) <= trainWarmupBars {
		return fmt.Errorf("K 线不足: 只有 %d 条，至少需要 %d", len(candles), trainWarmupBars+1)
	}
	rows := make([]feature.Vector, 0, len(candles)-trainWarmupBars)
	for i := trainWarmupBars; i < len(candles); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		book := slippage.SynthesizeBook(candles[i], cfg.Engine.DepthLimit)
		rows = append(rows, feature.Compute(candles[:i+1], nil, book))
	}

	trained, err := meta.Train(ctx, rows)
	if err != nil {
		return fmt.Errorf("训练失败: %w", err)
	}
	if !trained {
		return fmt.Errorf("训练样本不足，未产出模型")
	}
	m := meta.Meta()
	logger.Infof("[app] 模型 %s 已训练并归档: rounds=%d val_logloss=%.4f 样本=%d",
		meta.Name(), m.Rounds, m.ValLogLoss, m.Samples)
	return nil
}

// liveAgent 抽出 agent 的运行面，好在编排测试里替身。
type liveAgent interface {
	Run(ctx context.Context) error
}

// newEngine 按配置拼一个回测引擎，symbol/interval/lookback 允许按请求覆盖。
func newEngine(cfg *config.Config, source backtest.CandleSource, results backtest.ResultStore, symbol, interval string, lookback int) (*backtest.Engine, error) {
	return backtest.NewEngine(backtest.Config{
		Source:         source,
		Results:        results,
		Symbol:         symbol,
		Interval:       interval,
		Lookback:       lookback,
		InitialCapital: cfg.Engine.InitialCapital,
		ImpactK:        cfg.Engine.ImpactK,
		Depth:          cfg.Engine.DepthLimit,
		Horizon:        cfg.Engine.Horizon,
		Threshold:      cfg.Engine.LabelThreshold,
		Seed:           cfg.Engine.Seed,
		Leakage:        backtest.ParseLeakage(cfg.Engine.Leakage),
	})
}

// resolveParams 把 [strategy] 表叠上 [engine].risk_per_trade 再归一化。
func resolveParams(cfg *config.Config) strategy.Params {
	p := cfg.Strategy
	if p.RiskPerTrade == 0 {
		p.RiskPerTrade = cfg.Engine.RiskPerTrade
	}
	return p.Normalize()
}

// reportDir 是报告输出目录：跟主库同级。
func reportDir(cfg *config.Config) string {
	return filepath.Dir(strings.TrimSpace(cfg.Store.Path))
}
