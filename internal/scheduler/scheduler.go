// Package scheduler 提供按 K 线收盘对齐的循环调度：在每根 K 线收盘后
// 偏移 offset 执行一次任务，而不是用启动时刻做锚点的简单 ticker。
package scheduler

import (
	"context"
	"time"

	"quanta/internal/logger"
)

type Aligned struct {
	Name           string
	Interval       time.Duration // 对齐周期，通常等于 K 线周期
	Offset         time.Duration // 收盘后的等待，给交易所落盘留时间
	RunImmediately bool          // 启动时先执行一次，不等第一个收盘

	nowFn func() time.Time
}

func NewAligned(name string, interval, offset time.Duration) *Aligned {
	if offset < 0 {
		offset = 0
	}
	return &Aligned{
		Name:     name,
		Interval: interval,
		Offset:   offset,
		nowFn:    time.Now,
	}
}

// Run 阻塞执行对齐循环，直到 ctx 取消。task 自身的耗时不计入对齐：
// 每次唤醒点都从收盘边界重新推算。
func (s *Aligned) Run(ctx context.Context, task func()) error {
	if s == nil || task == nil {
		return nil
	}
	if s.Interval <= 0 {
		logger.Warnf("[scheduler] %s: interval 非法(%s)，退出", s.Name, s.Interval)
		return nil
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}

	startAt := s.nowFn().UTC()
	logger.Infof("[scheduler] %s: 启动 interval=%s offset=%s run_immediately=%v",
		s.Name, s.Interval, s.Offset, s.RunImmediately)

	if s.RunImmediately {
		task()
	}

	for {
		now := s.nowFn().UTC()
		wakeAt := nextWake(now, s.Interval, s.Offset)
		logger.Infof("[scheduler] %s: 下次执行=%s (in %s) | uptime=%s",
			s.Name,
			wakeAt.Format(time.RFC3339),
			wakeAt.Sub(now).Truncate(time.Second),
			now.Sub(startAt).Truncate(time.Second),
		)
		if !waitUntil(ctx, s.nowFn, wakeAt) {
			return ctx.Err()
		}
		task()
	}
}

// nextWake 返回 now 之后最近的 收盘+offset 时刻。
func nextWake(now time.Time, interval, offset time.Duration) time.Time {
	now = now.UTC()
	boundary := now.Truncate(interval)
	wake := boundary.Add(offset)
	for !wake.After(now) {
		boundary = boundary.Add(interval)
		wake = boundary.Add(offset)
	}
	return wake
}

func waitUntil(ctx context.Context, nowFn func() time.Time, target time.Time) bool {
	wait := target.Sub(nowFn().UTC())
	if wait <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
