package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"quanta/internal/feature"
	"quanta/internal/market"
)

func atHour(h int) time.Time {
	return time.Date(2024, 3, 5, h, 30, 0, 0, time.UTC)
}

func TestTimeBias(t *testing.T) {
	assert.Equal(t, 0.02, TimeBias(atHour(12)))
	assert.Equal(t, 0.02, TimeBias(atHour(16)))
	assert.Equal(t, -0.02, TimeBias(atHour(0)))
	assert.Equal(t, -0.02, TimeBias(atHour(6)))
	assert.Equal(t, 0.0, TimeBias(atHour(9)))
	assert.Equal(t, 0.0, TimeBias(atHour(20)))
}

func TestThresholdClamp(t *testing.T) {
	// vol=0 → 不缩放
	assert.InDelta(t, 0.55, Threshold(0.55, 0), 1e-12)
	// 高波动封顶 2 倍
	assert.InDelta(t, 1.10, Threshold(0.55, 10), 1e-12)
	// 负波动贴底 0.5 倍
	assert.InDelta(t, 0.275, Threshold(0.55, -1), 1e-12)
	// 线性区
	assert.InDelta(t, 0.55*1.5, Threshold(0.55, 0.01), 1e-12)
}

func TestDecideWithModel(t *testing.T) {
	v := feature.Vector{Vol20: 0}

	t.Run("StrongBuy", func(t *testing.T) {
		assert.Equal(t, ActionBuy, Decide(0.8, true, v, atHour(9), 0.55))
	})
	t.Run("StrongSell", func(t *testing.T) {
		assert.Equal(t, ActionSell, Decide(0.2, true, v, atHour(9), 0.55))
	})
	t.Run("Indifferent", func(t *testing.T) {
		assert.Equal(t, ActionHold, Decide(0.5, true, v, atHour(9), 0.55))
	})
	t.Run("AfternoonBiasTipsBuy", func(t *testing.T) {
		// 0.54+0.02 过线，中性时段则不够
		assert.Equal(t, ActionBuy, Decide(0.54, true, v, atHour(13), 0.55))
		assert.Equal(t, ActionHold, Decide(0.54, true, v, atHour(9), 0.55))
	})
	t.Run("NightBiasTipsSell", func(t *testing.T) {
		assert.Equal(t, ActionSell, Decide(0.46, true, v, atHour(2), 0.55))
		assert.Equal(t, ActionHold, Decide(0.46, true, v, atHour(9), 0.55))
	})
	t.Run("HighVolRaisesBar", func(t *testing.T) {
		calm := feature.Vector{Vol20: 0}
		wild := feature.Vector{Vol20: 0.02} // 缩放因子 2
		assert.Equal(t, ActionBuy, Decide(0.8, true, calm, atHour(9), 0.55))
		assert.Equal(t, ActionHold, Decide(0.8, true, wild, atHour(9), 0.55))
	})
}

func TestDecideMomentumFallback(t *testing.T) {
	t.Run("TrendUp", func(t *testing.T) {
		v := feature.Vector{Close: 105, EMA200: 100, ADX: 30}
		assert.Equal(t, ActionBuy, Decide(0, false, v, atHour(9), 0.55))
	})
	t.Run("TrendDown", func(t *testing.T) {
		v := feature.Vector{Close: 95, EMA200: 100, ADX: 30}
		assert.Equal(t, ActionSell, Decide(0, false, v, atHour(9), 0.55))
	})
	t.Run("WeakTrend", func(t *testing.T) {
		v := feature.Vector{Close: 105, EMA200: 100, ADX: 20}
		assert.Equal(t, ActionHold, Decide(0, false, v, atHour(9), 0.55))
	})
	t.Run("FlatPrice", func(t *testing.T) {
		v := feature.Vector{Close: 100, EMA200: 100, ADX: 30}
		assert.Equal(t, ActionHold, Decide(0, false, v, atHour(9), 0.55))
	})
}

func TestPositionStopTargetSequence(t *testing.T) {
	pos := &Position{Side: market.SideBuy, Quantity: 1, EntryPrice: 100, StopPrice: 95, TargetPrice: 110}

	// 横盘期间不平仓，第四根跌破止损才离场
	for _, close := range []float64{100, 100, 100} {
		_, hit := pos.ShouldClose(close)
		assert.False(t, hit)
	}
	reason, hit := pos.ShouldClose(96)
	assert.False(t, hit, "96 未触及止损 95")
	_ = reason

	reason, hit = pos.ShouldClose(95)
	assert.True(t, hit)
	assert.Equal(t, ExitStop, reason)
	assert.Negative(t, pos.PnL(95))

	reason, hit = pos.ShouldClose(110)
	assert.True(t, hit)
	assert.Equal(t, ExitTarget, reason)
	assert.Positive(t, pos.PnL(110))
}

func TestPositionShortSide(t *testing.T) {
	pos := &Position{Side: market.SideSell, Quantity: 2, EntryPrice: 100, StopPrice: 103, TargetPrice: 94}

	_, hit := pos.ShouldClose(101)
	assert.False(t, hit)

	reason, hit := pos.ShouldClose(103.5)
	assert.True(t, hit)
	assert.Equal(t, ExitStop, reason)

	reason, hit = pos.ShouldClose(93)
	assert.True(t, hit)
	assert.Equal(t, ExitTarget, reason)
	assert.InDelta(t, 14.0, pos.PnL(93), 1e-9)
	assert.Equal(t, market.SideBuy, pos.ExitSide())
}

func TestStopTargetPlacement(t *testing.T) {
	stop, target := StopTarget(100, market.SideBuy, 2, 1.5, 3)
	assert.InDelta(t, 97, stop, 1e-9)
	assert.InDelta(t, 106, target, 1e-9)

	stop, target = StopTarget(100, market.SideSell, 2, 1.5, 3)
	assert.InDelta(t, 103, stop, 1e-9)
	assert.InDelta(t, 94, target, 1e-9)
}

func TestPositionSize(t *testing.T) {
	assert.InDelta(t, 50, PositionSize(10000, 0.01, 2), 1e-9)
	assert.Zero(t, PositionSize(10000, 0.01, 0))
	assert.Zero(t, PositionSize(0, 0.01, 2))
}

func TestParamsNormalizeValidate(t *testing.T) {
	p := Params{}.Normalize()
	assert.Equal(t, DefaultParams(), p)
	assert.NoError(t, p.Validate())

	bad := p
	bad.TrainPct = 0.9
	bad.TestPct = 0.3
	assert.Error(t, bad.Validate())
}
