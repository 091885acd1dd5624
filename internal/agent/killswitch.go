package agent

import (
	"context"

	"quanta/internal/logger"
)

// killWindow 是风控回看流水条数的默认值。
const killWindow = 200

// BalanceSource 提供按时间倒序的权益序列，最新一条在前。
type BalanceSource interface {
	RecentBalances(ctx context.Context, limit int) ([]float64, error)
}

// KillSwitch 用最近成交流水里的权益做回撤风控：窗口峰值到当前权益
// 的回撤超限即触发。触发只拦新开仓，在途持仓照常走止损止盈。
type KillSwitch struct {
	balances BalanceSource
	maxDD    float64
	window   int
}

func NewKillSwitch(balances BalanceSource, maxDrawdownPct float64, window int) *KillSwitch {
	if maxDrawdownPct <= 0 {
		maxDrawdownPct = 0.2
	}
	if window <= 0 {
		window = killWindow
	}
	return &KillSwitch{balances: balances, maxDD: maxDrawdownPct, window: window}
}

// Check 返回是否触发与当前回撤。没有流水时视为未触发。
func (k *KillSwitch) Check(ctx context.Context) (bool, float64, error) {
	if k == nil || k.balances == nil {
		return false, 0, nil
	}
	balances, err := k.balances.RecentBalances(ctx, k.window)
	if err != nil {
		return false, 0, err
	}
	if len(balances) == 0 {
		return false, 0, nil
	}
	peak := balances[0]
	for _, b := range balances {
		if b > peak {
			peak = b
		}
	}
	if peak <= 0 {
		return false, 0, nil
	}
	dd := (peak - balances[0]) / peak
	if dd > k.maxDD {
		logger.Warnf("[agent] 风控触发: 回撤 %.3f > %.3f", dd, k.maxDD)
		return true, dd, nil
	}
	return false, dd, nil
}
