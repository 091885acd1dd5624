package strategy

import (
	"quanta/internal/market"
)

// Position 是一笔在途持仓。每个交易对同一时刻至多一笔，持仓期间
// 的新信号一律忽略，直到触发止损或止盈转为平仓。
type Position struct {
	Symbol      string             `json:"symbol"`
	Side        market.Side        `json:"side"`
	Quantity    float64            `json:"quantity"`
	EntryPrice  float64            `json:"entry_price"`
	StopPrice   float64            `json:"stop_price"`
	TargetPrice float64            `json:"target_price"`
	EntryBook   *market.OrderBook  `json:"-"`
	OpenedAt    int64              `json:"opened_at"`
	TradeID     int64              `json:"trade_id,omitempty"`
}

// ExitReason 标记平仓原因。
type ExitReason string

const (
	ExitStop   ExitReason = "stop"
	ExitTarget ExitReason = "target"
)

// ShouldClose 用最新收盘价检查止损/止盈是否触发。同一根 K 线上
// 两者都满足时按止损处理。
func (p *Position) ShouldClose(close float64) (ExitReason, bool) {
	if p == nil {
		return "", false
	}
	if p.Side == market.SideBuy {
		if close <= p.StopPrice {
			return ExitStop, true
		}
		if close >= p.TargetPrice {
			return ExitTarget, true
		}
		return "", false
	}
	if close >= p.StopPrice {
		return ExitStop, true
	}
	if close <= p.TargetPrice {
		return ExitTarget, true
	}
	return "", false
}

// ExitSide 返回平仓方向。
func (p *Position) ExitSide() market.Side {
	return p.Side.Opposite()
}

// PnL 计算以 exitPrice 平仓的已实现盈亏。
func (p *Position) PnL(exitPrice float64) float64 {
	if p == nil {
		return 0
	}
	if p.Side == market.SideBuy {
		return (exitPrice - p.EntryPrice) * p.Quantity
	}
	return (p.EntryPrice - exitPrice) * p.Quantity
}

// StopTarget 从成交价出发按 ATR 倍数摆止损/止盈。
func StopTarget(entry float64, side market.Side, atr, stopMult, targetMult float64) (stop, target float64) {
	stopDist := atr * stopMult
	targetDist := atr * targetMult
	if side == market.SideBuy {
		return entry - stopDist, entry + targetDist
	}
	return entry + stopDist, entry - targetDist
}

// PositionSize 按固定比例风险定仓位：equity·risk / 止损距离。
// 距离非正时返回 0，调用方按无法开仓处理。
func PositionSize(equity, riskPerTrade, stopDistance float64) float64 {
	if equity <= 0 || riskPerTrade <= 0 || stopDistance <= 0 {
		return 0
	}
	return equity * riskPerTrade / stopDistance
}
