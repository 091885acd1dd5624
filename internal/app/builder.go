package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"quanta/internal/agent"
	"quanta/internal/config"
	"quanta/internal/gateway/binance"
	"quanta/internal/gateway/exchange"
	"quanta/internal/logger"
	"quanta/internal/market"
	"quanta/internal/metamodel"
	"quanta/internal/regime"
	"quanta/internal/store"
	apihttp "quanta/internal/transport/http/api"
)

// AppBuilder 组装 App。网关与存储的构造函数可注入，测试时换成替身。
type AppBuilder struct {
	cfg *config.Config

	storeFn  func(path string) (*store.Store, error)
	sourceFn func(cfg config.BinanceConfig) (market.Source, error)
	venueFn  func(cfg config.BinanceConfig) (exchange.Venue, error)
}

type AppBuilderOption func(*AppBuilder)

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:      cfg,
		storeFn:  store.NewStore,
		sourceFn: buildBinanceSource,
		venueFn:  buildBinanceVenue,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func buildBinanceSource(cfg config.BinanceConfig) (market.Source, error) {
	return binance.New(binanceGatewayConfig(cfg))
}

func buildBinanceVenue(cfg config.BinanceConfig) (exchange.Venue, error) {
	return binance.NewTrader(binanceGatewayConfig(cfg))
}

func binanceGatewayConfig(cfg config.BinanceConfig) binance.Config {
	return binance.Config{
		APIKey:       cfg.APIKey,
		APISecret:    cfg.APISecret,
		RESTBaseURL:  cfg.RESTBaseURL,
		HTTPTimeout:  time.Duration(cfg.TimeoutSeconds) * time.Second,
		ProxyEnabled: cfg.ProxyEnabled,
		RESTProxyURL: cfg.RESTProxyURL,
		WSProxyURL:   cfg.WSProxyURL,
	}
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := b.cfg
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)

	st, err := b.storeFn(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("初始化存储失败: %w", err)
	}
	src, err := b.sourceFn(cfg.Binance)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("初始化行情网关失败: %w", err)
	}
	cached, err := store.NewCachedCandleSource(src, st)
	if err != nil {
		_ = src.Close()
		_ = st.Close()
		return nil, err
	}

	a := &App{
		cfg:     cfg,
		store:   st,
		source:  src,
		candles: cached,
		params:  resolveParams(cfg),
	}

	if cfg.App.Mode == "live" {
		if err := b.buildLive(a); err != nil {
			a.Close()
			return nil, err
		}
	}
	a.Summary = buildSummary(cfg, a)
	return a, nil
}

func (b *AppBuilder) buildLive(a *App) error {
	cfg := b.cfg

	var venue exchange.Venue
	if cfg.Binance.APIKey != "" && cfg.Binance.APISecret != "" {
		v, err := b.venueFn(cfg.Binance)
		if err != nil {
			return fmt.Errorf("初始化下单网关失败: %w", err)
		}
		venue = v
		logger.Infof("[app] 下单网关已启用: %s", v.Name())
	} else {
		logger.Infof("[app] 未配置 API 密钥，实盘走模拟成交")
	}

	meta := metamodel.New(metamodel.Config{
		Name:      cfg.Engine.ModelName,
		Horizon:   cfg.Engine.Horizon,
		Threshold: cfg.Engine.LabelThreshold,
		NumRounds: a.params.NumRounds,
		Seed:      cfg.Engine.Seed,
	}, a.store)

	det, err := regime.NewDetector(regime.DetectorConfig{
		Regimes: cfg.Engine.NRegimes,
		Seed:    cfg.Engine.Seed,
	})
	if err != nil {
		return fmt.Errorf("初始化 regime 检测器失败: %w", err)
	}

	ag, err := agent.New(agent.Config{
		Symbol:            cfg.App.Symbol,
		Interval:          cfg.App.Interval,
		TradesBack:        cfg.Engine.TradesBack,
		Depth:             cfg.Engine.DepthLimit,
		InitialCapital:    cfg.Engine.InitialCapital,
		Params:            a.params,
		ImpactK:           cfg.Engine.ImpactK,
		KillSwitchEnabled: cfg.Risk.KillSwitch,
		MaxDrawdownPct:    cfg.Risk.MaxDrawdownPct,
		KillSwitchWindow:  cfg.Risk.KillSwitchWindow,
		RetrainWeeks:      cfg.Engine.RetrainWeeks,
		MinNotional:       cfg.Risk.MinNotional,
		Source:            a.source,
		Venue:             venue,
		Store:             a.store,
		Meta:              meta,
		Regime:            det,
	})
	if err != nil {
		return fmt.Errorf("初始化 live agent 失败: %w", err)
	}
	a.agent = ag
	a.venue = venue

	if addr := strings.TrimSpace(cfg.App.HTTPAddr); addr != "" {
		runner := NewRunner(cfg, a.candles, a.store)
		api, err := apihttp.NewServer(apihttp.Config{
			Addr:       addr,
			Runs:       a.store,
			Agent:      ag,
			Dispatcher: runner,
		})
		if err != nil {
			return fmt.Errorf("初始化 API 服务失败: %w", err)
		}
		a.api = api
		a.runner = runner
	}

	if path := strings.TrimSpace(cfg.SourceFile()); path != "" {
		watcher, err := config.NewRiskWatcher(path)
		if err != nil {
			logger.Warnf("[app] 风控热更新不可用: %v", err)
		} else {
			watcher.Subscribe(func(rc config.RiskConfig) {
				ag.SetRiskLimits(agent.RiskLimits{
					KillSwitch:       rc.KillSwitch,
					MaxDrawdownPct:   rc.MaxDrawdownPct,
					MinNotional:      rc.MinNotional,
					KillSwitchWindow: rc.KillSwitchWindow,
				})
			})
			a.riskWatcher = watcher
		}
	}
	return nil
}

func WithStore(fn func(path string) (*store.Store, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.storeFn = fn
		}
	}
}

func WithSource(fn func(cfg config.BinanceConfig) (market.Source, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.sourceFn = fn
		}
	}
}

func WithVenue(fn func(cfg config.BinanceConfig) (exchange.Venue, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.venueFn = fn
		}
	}
}
