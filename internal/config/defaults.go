package config

import "strings"

// 默认值常量
const (
	defaultAppMode      = "backtest"
	defaultAppSymbol    = "BTCUSDT"
	defaultAppInterval  = "1h"
	defaultAppLogLevel  = "info"
	defaultAppLogPath   = "logs/quanta.log"
	defaultAppHTTPAddr  = ":9991"
	defaultBinanceREST  = "https://fapi.binance.com"
	defaultBinanceTO    = 15
	defaultStorePath    = "data/quanta.sqlite"
	defaultLookback     = 2000
	defaultTradesBack   = 1000
	defaultDepthLimit   = 50
	defaultCapital      = 10000.0
	defaultRiskPerTrade = 0.01
	defaultImpactK      = 0.3
	defaultModelName    = "meta_gbdt_v1"
	defaultHorizon      = 3
	defaultLabelThresh  = 0.0015
	defaultNRegimes     = 3
	defaultRetrainWeeks = 1
	defaultLeakage      = "strict"
	defaultSeed         = 42
	defaultMaxDrawdown  = 0.2
	defaultMinNotional  = 1.0
	defaultKillWindow   = 200
	defaultOptTrials    = 40
	defaultOptStudy     = "agent_search"
	defaultOptDBPath    = "data/studies"
)

// applyDefaults 为所有子配置应用默认值。显式写进文件的键不再覆盖，
// 所以 retrain_weeks = 0 这类"显式关闭"能保留下来。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Binance.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Engine.applyDefaults(keys)
	c.Risk.applyDefaults(keys)
	c.Optimize.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.mode", &a.Mode, defaultAppMode),
		stringFieldDefault("app.symbol", &a.Symbol, defaultAppSymbol),
		stringFieldDefault("app.interval", &a.Interval, defaultAppInterval),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
	a.Mode = strings.ToLower(strings.TrimSpace(a.Mode))
	a.Symbol = strings.ToUpper(strings.TrimSpace(a.Symbol))
	a.Interval = strings.ToLower(strings.TrimSpace(a.Interval))
}

func (b *BinanceConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("binance.base_url", &b.RESTBaseURL, defaultBinanceREST),
		fieldDefault{
			key:   "binance.timeout_seconds",
			need:  func() bool { return b.TimeoutSeconds <= 0 },
			apply: func() { b.TimeoutSeconds = defaultBinanceTO },
		},
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("store.path", &s.Path, defaultStorePath),
	)
}

func (e *EngineConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "engine.lookback",
			need:  func() bool { return e.Lookback <= 0 },
			apply: func() { e.Lookback = defaultLookback },
		},
		fieldDefault{
			key:   "engine.trades_back",
			need:  func() bool { return e.TradesBack <= 0 },
			apply: func() { e.TradesBack = defaultTradesBack },
		},
		fieldDefault{
			key:   "engine.depth_limit",
			need:  func() bool { return e.DepthLimit <= 0 },
			apply: func() { e.DepthLimit = defaultDepthLimit },
		},
		fieldDefault{
			key:   "engine.initial_capital",
			need:  func() bool { return e.InitialCapital <= 0 },
			apply: func() { e.InitialCapital = defaultCapital },
		},
		fieldDefault{
			key:   "engine.risk_per_trade",
			need:  func() bool { return e.RiskPerTrade <= 0 },
			apply: func() { e.RiskPerTrade = defaultRiskPerTrade },
		},
		fieldDefault{
			key:   "engine.impact_k",
			need:  func() bool { return e.ImpactK <= 0 },
			apply: func() { e.ImpactK = defaultImpactK },
		},
		stringFieldDefault("engine.model_name", &e.ModelName, defaultModelName),
		fieldDefault{
			key:   "engine.horizon",
			need:  func() bool { return e.Horizon <= 0 },
			apply: func() { e.Horizon = defaultHorizon },
		},
		fieldDefault{
			key:   "engine.label_threshold",
			need:  func() bool { return e.LabelThreshold <= 0 },
			apply: func() { e.LabelThreshold = defaultLabelThresh },
		},
		fieldDefault{
			key:   "engine.n_regimes",
			need:  func() bool { return e.NRegimes <= 0 },
			apply: func() { e.NRegimes = defaultNRegimes },
		},
		fieldDefault{
			key:   "engine.retrain_weeks",
			need:  func() bool { return e.RetrainWeeks <= 0 },
			apply: func() { e.RetrainWeeks = defaultRetrainWeeks },
		},
		stringFieldDefault("engine.leakage", &e.Leakage, defaultLeakage),
		fieldDefault{
			key:   "engine.seed",
			need:  func() bool { return e.Seed == 0 },
			apply: func() { e.Seed = defaultSeed },
		},
	)
	e.Leakage = strings.ToLower(strings.TrimSpace(e.Leakage))
}

func (r *RiskConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		boolFieldDefault("risk.killswitch", &r.KillSwitch, true),
		fieldDefault{
			key:   "risk.max_drawdown_pct",
			need:  func() bool { return r.MaxDrawdownPct <= 0 },
			apply: func() { r.MaxDrawdownPct = defaultMaxDrawdown },
		},
		fieldDefault{
			key:   "risk.min_notional",
			need:  func() bool { return r.MinNotional <= 0 },
			apply: func() { r.MinNotional = defaultMinNotional },
		},
		fieldDefault{
			key:   "risk.killswitch_window",
			need:  func() bool { return r.KillSwitchWindow <= 0 },
			apply: func() { r.KillSwitchWindow = defaultKillWindow },
		},
	)
}

func (o *OptimizeConfig) applyDefaults(keys keySet) {
	if o == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "optimize.trials",
			need:  func() bool { return o.Trials <= 0 },
			apply: func() { o.Trials = defaultOptTrials },
		},
		stringFieldDefault("optimize.study", &o.Study, defaultOptStudy),
		stringFieldDefault("optimize.db_path", &o.DBPath, defaultOptDBPath),
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
