// Package strategy 实现共享的开平仓规则：概率打分、时段偏置、波动率
// 缩放阈值，以及回测与实盘共用的持仓状态机。
package strategy

import (
	"fmt"
	"time"

	"quanta/internal/feature"
)

type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Params 是回测/搜索暴露的全部参数面。
type Params struct {
	NumRounds    int     `json:"num_rounds" toml:"num_rounds"`
	BaseThresh   float64 `json:"base_thresh" toml:"base_thresh"`
	StopATR      float64 `json:"stop_atr" toml:"stop_atr"`
	TargetATR    float64 `json:"target_atr" toml:"target_atr"`
	RiskPerTrade float64 `json:"risk_per_trade" toml:"risk_per_trade"`
	TrainPct     float64 `json:"train_pct" toml:"train_pct"`
	TestPct      float64 `json:"test_pct" toml:"test_pct"`
}

func DefaultParams() Params {
	return Params{
		NumRounds:    100,
		BaseThresh:   0.55,
		StopATR:      1.0,
		TargetATR:    2.0,
		RiskPerTrade: 0.01,
		TrainPct:     0.6,
		TestPct:      0.2,
	}
}

// Normalize 把零值字段补成默认值，返回规整后的副本。
func (p Params) Normalize() Params {
	def := DefaultParams()
	if p.NumRounds <= 0 {
		p.NumRounds = def.NumRounds
	}
	if p.BaseThresh <= 0 {
		p.BaseThresh = def.BaseThresh
	}
	if p.StopATR <= 0 {
		p.StopATR = def.StopATR
	}
	if p.TargetATR <= 0 {
		p.TargetATR = def.TargetATR
	}
	if p.RiskPerTrade <= 0 {
		p.RiskPerTrade = def.RiskPerTrade
	}
	if p.TrainPct <= 0 {
		p.TrainPct = def.TrainPct
	}
	if p.TestPct <= 0 {
		p.TestPct = def.TestPct
	}
	return p
}

func (p Params) Validate() error {
	if p.TrainPct <= 0 || p.TestPct <= 0 || p.TrainPct+p.TestPct > 1 {
		return fmt.Errorf("train_pct(%v)+test_pct(%v) 需落在 (0,1]", p.TrainPct, p.TestPct)
	}
	if p.BaseThresh <= 0 || p.BaseThresh >= 1 {
		return fmt.Errorf("base_thresh 非法: %v", p.BaseThresh)
	}
	if p.RiskPerTrade <= 0 || p.RiskPerTrade > 0.5 {
		return fmt.Errorf("risk_per_trade 非法: %v", p.RiskPerTrade)
	}
	return nil
}

// TimeBias 返回时段偏置：12-16 点 +0.02，0-6 点 -0.02，其余 0。
// 统一用 UTC，避免回测结果随宿主机时区漂移。
func TimeBias(ts time.Time) float64 {
	switch h := ts.UTC().Hour(); {
	case h >= 12 && h <= 16:
		return 0.02
	case h <= 6:
		return -0.02
	default:
		return 0
	}
}

// Threshold 用 20 期波动率缩放基础阈值，缩放系数夹在 [0.5, 2]。
func Threshold(base, vol20 float64) float64 {
	scale := 1 + vol20*50
	if scale < 0.5 {
		scale = 0.5
	}
	if scale > 2 {
		scale = 2
	}
	return base * scale
}

// Decide 给出目标动作。有模型时走概率打分+阈值门控；没有模型退化为
// EMA200/ADX 动量规则。
func Decide(prob float64, hasModel bool, v feature.Vector, ts time.Time, baseThresh float64) Action {
	if !hasModel {
		switch {
		case v.Close > v.EMA200*1.001 && v.ADX > 25:
			return ActionBuy
		case v.Close < v.EMA200*0.999 && v.ADX > 25:
			return ActionSell
		default:
			return ActionHold
		}
	}
	bias := TimeBias(ts)
	scoreBuy := prob + bias
	scoreSell := (1 - prob) - bias
	thresh := Threshold(baseThresh, v.Vol20)
	switch {
	case scoreBuy > thresh && scoreBuy > scoreSell:
		return ActionBuy
	case scoreSell > thresh && scoreSell > scoreBuy:
		return ActionSell
	default:
		return ActionHold
	}
}
