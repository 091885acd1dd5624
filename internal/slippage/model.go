// Package slippage 估算吃单成交价：真实盘口按档位扫量算 VWAP，
// 没有盘口时从单根 K 线确定性地合成一个。
package slippage

import (
	"math"

	"quanta/internal/market"
)

const (
	// DefaultImpactK 是冲击系数的默认值。
	DefaultImpactK = 0.3

	// DefaultDepth 是合成盘口的默认总档数（买卖各一半）。
	DefaultDepth = 50

	epsilon = 1e-9
)

// SimulateFill 沿对手盘按价格顺序扫量。整张盘口能吃下时返回
// VWAP 再叠加不利方向的冲击项 k·qty/(盘口可用量+ε)；深度不足时退化为
// referencePrice 直接按同一冲击项上浮/下压。返回 (成交价, 冲击比例)，
// 永不报错。
func SimulateFill(referencePrice float64, side market.Side, quantity float64, book *market.OrderBook, impactK float64) (price, impact float64) {
	if quantity <= 0 {
		return referencePrice, 0
	}
	var levels []market.Level
	if book != nil {
		if side == market.SideBuy {
			levels = book.Asks
		} else {
			levels = book.Bids
		}
	}

	available := 0.0
	for _, lvl := range levels {
		available += lvl.Quantity
	}
	impact = impactK * quantity / (available + epsilon)

	filled, cost := 0.0, 0.0
	for _, lvl := range levels {
		take := math.Min(lvl.Quantity, quantity-filled)
		cost += lvl.Price * take
		filled += take
		if filled >= quantity {
			break
		}
	}
	if filled < quantity {
		// 盘口吃不满，按参考价直接施加冲击
		if side == market.SideBuy {
			return referencePrice * (1 + impact), impact
		}
		return referencePrice * (1 - impact), impact
	}

	vwap := cost / quantity
	if side == market.SideBuy {
		return vwap * (1 + impact), impact
	}
	return vwap * (1 - impact), impact
}

// SynthesizeBook 围绕收盘价合成对称盘口：价格偏移在 [0.01·range, 0.5·range]
// 线性分布，每档挂量按 exp(-linspace(0,3)) 衰减乘以 volume/depth。
// 同一根 K 线合成结果恒定。
func SynthesizeBook(c market.Candle, depth int) *market.OrderBook {
	if depth <= 0 {
		depth = DefaultDepth
	}
	half := depth / 2
	if half < 1 {
		half = 1
	}
	mid := c.Close
	priceRange := c.High - c.Low
	if priceRange <= 0 {
		priceRange = math.Abs(mid) * 1e-4
		if priceRange == 0 {
			priceRange = epsilon
		}
	}

	book := &market.OrderBook{
		Time: c.OpenTime,
		Bids: make([]market.Level, 0, half),
		Asks: make([]market.Level, 0, half),
	}
	baseVolume := c.Volume / float64(depth)
	for i := 0; i < half; i++ {
		frac := 0.0
		if half > 1 {
			frac = float64(i) / float64(half-1)
		}
		offset := priceRange * (0.01 + 0.49*frac)
		volume := math.Exp(-3*frac) * baseVolume
		book.Bids = append(book.Bids, market.Level{Price: mid - offset, Quantity: volume})
		book.Asks = append(book.Asks, market.Level{Price: mid + offset, Quantity: volume})
	}
	return book
}
