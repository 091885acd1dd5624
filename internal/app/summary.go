package app

import (
	"fmt"
	"strings"

	"quanta/internal/config"
)

// StartupSummary 在启动时打一份配置摘要，便于核对生效参数。
type StartupSummary struct {
	Mode     string
	Symbol   string
	Interval string

	StorePath string
	ModelName string
	Lookback  int
	Leakage   string

	VenueName string // 空 = 模拟成交
	APIAddr   string // 空 = 未启用
	HotReload bool

	KillSwitch     bool
	MaxDrawdownPct float64
	RiskPerTrade   float64
}

func (s *StartupSummary) Print() {
	if s == nil {
		return
	}
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("%*s\n", 40+len("启动配置摘要 (STARTUP SUMMARY)")/2, "启动配置摘要 (STARTUP SUMMARY)")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Println("[运行 (RUNTIME)]")
	fmt.Printf("  模式: %s\n", s.Mode)
	fmt.Printf("  交易对: %s @ %s\n", s.Symbol, s.Interval)
	fmt.Println()

	fmt.Println("[引擎 (ENGINE)]")
	fmt.Printf("  主库: %s\n", s.StorePath)
	fmt.Printf("  模型: %s\n", s.ModelName)
	fmt.Printf("  回看: %d 根\n", s.Lookback)
	fmt.Printf("  泄漏模式: %s\n", s.Leakage)
	fmt.Println()

	if s.Mode == "live" {
		fmt.Println("[实盘 (LIVE)]")
		fmt.Printf("  成交通道: %s\n", orElse(s.VenueName, "模拟成交"))
		fmt.Printf("  API 服务: %s\n", orElse(s.APIAddr, "未启用"))
		fmt.Printf("  风控热更新: %v\n", s.HotReload)
		fmt.Println()
	}

	fmt.Println("[风控 (RISK)]")
	fmt.Printf("  killswitch: %v\n", s.KillSwitch)
	fmt.Printf("  最大回撤: %.0f%%\n", s.MaxDrawdownPct*100)
	fmt.Printf("  单笔风险: %.1f%%\n", s.RiskPerTrade*100)
	fmt.Println(strings.Repeat("=", 80))
}

func orElse(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func buildSummary(cfg *config.Config, a *App) *StartupSummary {
	s := &StartupSummary{
		Mode:           cfg.App.Mode,
		Symbol:         cfg.App.Symbol,
		Interval:       cfg.App.Interval,
		StorePath:      cfg.Store.Path,
		ModelName:      cfg.Engine.ModelName,
		Lookback:       cfg.Engine.Lookback,
		Leakage:        cfg.Engine.Leakage,
		KillSwitch:     cfg.Risk.KillSwitch,
		MaxDrawdownPct: cfg.Risk.MaxDrawdownPct,
		RiskPerTrade:   a.params.RiskPerTrade,
	}
	if a.venue != nil {
		s.VenueName = a.venue.Name()
	}
	if a.api != nil {
		s.APIAddr = a.api.Addr()
	}
	s.HotReload = a.riskWatcher != nil
	return s
}
