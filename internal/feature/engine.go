// Package feature 从 K 线窗口、逐笔成交与盘口快照派生固定 schema 的特征向量。
// 所有计算都是输入的纯函数，指标暖机期产生的 NaN 会被替换为确定的默认值。
package feature

import (
	"math"

	talib "github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/stat"

	"quanta/internal/market"
)

const (
	emaPeriod     = 200
	atrPeriod     = 14
	adxPeriod     = 14
	rsiPeriod     = 14
	volPeriod     = 20
	entropyWindow = 50
	entropyBins   = 16
)

// Compute 为窗口中最后一根 K 线生成特征向量。candles 需按时间升序；
// 窗口不足 2 根时返回带暖机默认值的向量而不是报错。
func Compute(candles []market.Candle, ticks []market.TradeTick, book *market.OrderBook) Vector {
	v := Vector{RSI: 50}
	if n := len(candles); n > 0 {
		last := candles[n-1]
		v.TS = last.OpenTime
		v.Close = last.Close
		v.Open = last.Open
		v.High = last.High
		v.Low = last.Low
		v.EMA200 = last.Close
	}
	v.CVD = CumulativeVolumeDelta(ticks)
	if book != nil {
		v.Spread = book.Spread()
		v.Imbalance = book.Imbalance(0)
	}
	if len(candles) < 2 {
		return v
	}

	closes := make([]float64, len(candles))
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
	}
	returns := percentReturns(closes)

	if len(closes) >= emaPeriod {
		v.EMA200 = finiteOr(lastValue(talib.Ema(closes, emaPeriod)), v.Close)
	}
	if len(closes) > atrPeriod {
		v.ATR = finiteOr(lastValue(talib.Atr(highs, lows, closes, atrPeriod)), 0)
	}
	if len(closes) > 2*adxPeriod {
		v.ADX = finiteOr(lastValue(talib.Adx(highs, lows, closes, adxPeriod)), 0)
	}
	if len(closes) > rsiPeriod {
		v.RSI = finiteOr(lastValue(talib.Rsi(closes, rsiPeriod)), 50)
	}
	if len(returns) >= volPeriod {
		v.Vol20 = finiteOr(lastValue(talib.StdDev(returns, volPeriod, 1)), 0)
	}
	v.Entropy = ReturnEntropy(returns)
	return v
}

// CumulativeVolumeDelta 统计主动买量减主动卖量。IsBuyerMaker=true 的成交
// 计入卖方。
func CumulativeVolumeDelta(ticks []market.TradeTick) float64 {
	var buy, sell float64
	for _, t := range ticks {
		if t.IsBuyerMaker {
			sell += t.Quantity
		} else {
			buy += t.Quantity
		}
	}
	return buy - sell
}

// ReturnEntropy 对最近 entropyWindow 个收益做 16 桶直方图并计算香农熵。
// 样本不超过 5 个时视为无信息，返回 0。
func ReturnEntropy(returns []float64) float64 {
	if len(returns) > entropyWindow {
		returns = returns[len(returns)-entropyWindow:]
	}
	if len(returns) <= 5 {
		return 0
	}
	lo, hi := returns[0], returns[0]
	for _, r := range returns[1:] {
		if r < lo {
			lo = r
		}
		if r > hi {
			hi = r
		}
	}
	counts := make([]float64, entropyBins)
	width := (hi - lo) / entropyBins
	if width <= 0 {
		counts[0] = float64(len(returns))
	} else {
		for _, r := range returns {
			idx := int((r - lo) / width)
			if idx >= entropyBins {
				idx = entropyBins - 1
			}
			counts[idx]++
		}
	}
	total := 0.0
	for i := range counts {
		counts[i] += 1e-12
		total += counts[i]
	}
	for i := range counts {
		counts[i] /= total
	}
	ent := stat.Entropy(counts)
	if !isFinite(ent) {
		return 0
	}
	return ent
}

// percentReturns 返回相邻收盘价的简单收益序列，长度为 len(closes)-1。
func percentReturns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		prev := closes[i-1]
		if prev == 0 {
			out = append(out, 0)
			continue
		}
		r := closes[i]/prev - 1
		if !isFinite(r) {
			r = 0
		}
		out = append(out, r)
	}
	return out
}

func lastValue(series []float64) float64 {
	if len(series) == 0 {
		return math.NaN()
	}
	return series[len(series)-1]
}

func finiteOr(x, def float64) float64 {
	if !isFinite(x) {
		return def
	}
	return x
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
