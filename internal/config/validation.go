package config

import (
	"fmt"
	"strings"

	"quanta/internal/market"
)

// Validate 对配置做基础校验。命令行覆盖过字段后需要重新调用。
func (c *Config) Validate() error {
	return validate(c)
}

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Binance.validate(); err != nil {
		return err
	}
	if err := c.Store.validate(); err != nil {
		return err
	}
	if err := c.Engine.validate(); err != nil {
		return err
	}
	if err := c.Strategy.Normalize().Validate(); err != nil {
		return err
	}
	if err := c.Risk.validate(); err != nil {
		return err
	}
	if err := c.Optimize.validate(); err != nil {
		return err
	}
	return nil
}

func (a *AppConfig) validate() error {
	switch a.Mode {
	case "live", "backtest", "walkforward", "optimize", "train":
	default:
		return fmt.Errorf("app.mode must be one of live|backtest|walkforward|optimize|train, got %q", a.Mode)
	}
	if strings.TrimSpace(a.Symbol) == "" {
		return fmt.Errorf("app.symbol cannot be empty")
	}
	if _, ok := market.IntervalDuration(a.Interval); !ok {
		return fmt.Errorf("app.interval is not a valid interval: %q", a.Interval)
	}
	return nil
}

func (b *BinanceConfig) validate() error {
	if strings.TrimSpace(b.RESTBaseURL) == "" {
		return fmt.Errorf("binance.base_url cannot be empty")
	}
	if b.ProxyEnabled && b.RESTProxyURL == "" && b.WSProxyURL == "" {
		return fmt.Errorf("binance proxy enabled but no rest_proxy_url or ws_proxy_url")
	}
	return nil
}

func (s *StoreConfig) validate() error {
	if strings.TrimSpace(s.Path) == "" {
		return fmt.Errorf("store.path cannot be empty")
	}
	return nil
}

func (e *EngineConfig) validate() error {
	if e.Lookback <= 0 {
		return fmt.Errorf("engine.lookback must be > 0")
	}
	if e.InitialCapital <= 0 {
		return fmt.Errorf("engine.initial_capital must be > 0")
	}
	if e.RiskPerTrade <= 0 || e.RiskPerTrade > 0.5 {
		return fmt.Errorf("engine.risk_per_trade must be in (0,0.5]")
	}
	if e.Leakage != "strict" && e.Leakage != "parity" {
		return fmt.Errorf("engine.leakage must be strict or parity, got %q", e.Leakage)
	}
	if e.NRegimes < 1 {
		return fmt.Errorf("engine.n_regimes must be >= 1")
	}
	return nil
}

func (r *RiskConfig) validate() error {
	if r.MaxDrawdownPct <= 0 || r.MaxDrawdownPct >= 1 {
		return fmt.Errorf("risk.max_drawdown_pct must be in (0,1)")
	}
	if r.MinNotional <= 0 {
		return fmt.Errorf("risk.min_notional must be > 0")
	}
	if r.KillSwitchWindow <= 0 {
		return fmt.Errorf("risk.killswitch_window must be > 0")
	}
	return nil
}

func (o *OptimizeConfig) validate() error {
	if o.Trials <= 0 {
		return fmt.Errorf("optimize.trials must be > 0")
	}
	if strings.TrimSpace(o.Study) == "" {
		return fmt.Errorf("optimize.study cannot be empty")
	}
	return nil
}
