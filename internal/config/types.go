package config

import (
	"strings"

	"quanta/internal/strategy"
)

// Config 是 quanta 的主配置载体。
type Config struct {
	App      AppConfig       `toml:"app"`
	Binance  BinanceConfig   `toml:"binance"`
	Store    StoreConfig     `toml:"store"`
	Engine   EngineConfig    `toml:"engine"`
	Strategy strategy.Params `toml:"strategy"`
	Risk     RiskConfig      `toml:"risk"`
	Optimize OptimizeConfig  `toml:"optimize"`

	// path 记录配置来源文件，热更新 watcher 需要再次打开它。
	path string
}

// SourceFile 返回配置的来源文件路径，Default() 构造的配置为空。
func (c *Config) SourceFile() string {
	if c == nil {
		return ""
	}
	return c.path
}

type AppConfig struct {
	Mode     string `toml:"mode"` // live|backtest|walkforward|optimize|train
	Symbol   string `toml:"symbol"`
	Interval string `toml:"interval"`
	LogLevel string `toml:"log_level"`
	LogPath  string `toml:"log_path"`
	HTTPAddr string `toml:"http_addr"`
}

type BinanceConfig struct {
	RESTBaseURL    string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	APISecret      string `toml:"api_secret"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	ProxyEnabled   bool   `toml:"proxy_enabled"`
	RESTProxyURL   string `toml:"rest_proxy_url"`
	WSProxyURL     string `toml:"ws_proxy_url"`
}

type StoreConfig struct {
	Path string `toml:"path"`
}

// EngineConfig 是取数窗口、资金与模型层面的运行参数。
type EngineConfig struct {
	Lookback       int     `toml:"lookback"`
	TradesBack     int     `toml:"trades_back"`
	DepthLimit     int     `toml:"depth_limit"`
	InitialCapital float64 `toml:"initial_capital"`
	RiskPerTrade   float64 `toml:"risk_per_trade"`
	ImpactK        float64 `toml:"impact_k"`
	ModelName      string  `toml:"model_name"`
	Horizon        int     `toml:"horizon"`
	LabelThreshold float64 `toml:"label_threshold"`
	NRegimes       int     `toml:"n_regimes"`
	RetrainWeeks   int     `toml:"retrain_weeks"`
	Leakage        string  `toml:"leakage"` // strict|parity
	Seed           int64   `toml:"seed"`
}

// RiskConfig 可以在运行中热更，见 watcher.go。
type RiskConfig struct {
	KillSwitch       bool    `toml:"killswitch"`
	MaxDrawdownPct   float64 `toml:"max_drawdown_pct"`
	MinNotional      float64 `toml:"min_notional"`
	KillSwitchWindow int     `toml:"killswitch_window"`
}

type OptimizeConfig struct {
	Trials    int    `toml:"trials"`
	Study     string `toml:"study"`
	SpacePath string `toml:"space_path"`
	DBPath    string `toml:"db_path"`
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
