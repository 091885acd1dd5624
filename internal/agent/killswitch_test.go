package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestKillSwitchDrawdown(t *testing.T) {
	cases := []struct {
		name     string
		balances []float64 // 最新在前
		tripped  bool
		dd       float64
	}{
		{"跌破阈值", []float64{700, 1000, 1000}, true, 0.3},
		{"阈值以内", []float64{900, 1000}, false, 0.1},
		{"创新高", []float64{1100, 1000}, false, 0},
		{"恰好等于阈值不触发", []float64{800, 1000}, false, 0.2},
		{"单条记录", []float64{1000}, false, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := new(MockStore)
			st.On("RecentBalances", mock.Anything, killWindow).Return(tc.balances, nil)
			ks := NewKillSwitch(st, 0.2, 0)

			tripped, dd, err := ks.Check(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tc.tripped, tripped)
			assert.InDelta(t, tc.dd, dd, 1e-9)
		})
	}
}

func TestKillSwitchNoHistory(t *testing.T) {
	st := new(MockStore)
	st.On("RecentBalances", mock.Anything, killWindow).Return([]float64{}, nil)
	ks := NewKillSwitch(st, 0.2, 0)

	tripped, dd, err := ks.Check(context.Background())
	require.NoError(t, err)
	assert.False(t, tripped)
	assert.Zero(t, dd)
}

func TestKillSwitchStoreError(t *testing.T) {
	st := new(MockStore)
	st.On("RecentBalances", mock.Anything, killWindow).Return(nil, assert.AnError)
	ks := NewKillSwitch(st, 0.2, 0)

	_, _, err := ks.Check(context.Background())
	assert.ErrorIs(t, err, assert.AnError)
}

func TestKillSwitchDefaults(t *testing.T) {
	ks := NewKillSwitch(nil, 0, 0)
	assert.InDelta(t, 0.2, ks.maxDD, 1e-9)

	// 没接余额来源时永不触发
	tripped, dd, err := ks.Check(context.Background())
	require.NoError(t, err)
	assert.False(t, tripped)
	assert.Zero(t, dd)
}

func TestKillSwitchZeroPeak(t *testing.T) {
	st := new(MockStore)
	st.On("RecentBalances", mock.Anything, killWindow).Return([]float64{0, 0}, nil)
	ks := NewKillSwitch(st, 0.2, 0)

	tripped, dd, err := ks.Check(context.Background())
	require.NoError(t, err)
	assert.False(t, tripped)
	assert.Zero(t, dd)
}

func TestKillSwitchDrawdownCase(t *testing.T) {
	// 回撤按最近一条对窗口峰值计算，中途反弹不影响峰值
	st := new(MockStore)
	st.On("RecentBalances", mock.Anything, killWindow).Return([]float64{950, 700, 1000}, nil)
	ks := NewKillSwitch(st, 0.2, 0)

	tripped, dd, err := ks.Check(context.Background())
	require.NoError(t, err)
	assert.False(t, tripped)
	assert.InDelta(t, 0.05, dd, 1e-9)
}
