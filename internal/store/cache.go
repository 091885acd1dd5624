package store

import (
	"context"
	"fmt"
	"time"

	"quanta/internal/logger"
	"quanta/internal/market"
)

// CandleFetcher 是缓存背后的数据源，通常是交易所网关。
type CandleFetcher interface {
	Candles(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error)
}

// CachedCandleSource 先读本地缓存，数量够且最新一根没过期就直接用；
// 否则回源拉取并回填。回测和超参搜索反复要同一段历史，绝大多数
// 调用都会命中缓存。
type CachedCandleSource struct {
	fetch CandleFetcher
	store *Store
	now   func() time.Time
}

func NewCachedCandleSource(fetch CandleFetcher, st *Store) (*CachedCandleSource, error) {
	if fetch == nil {
		return nil, fmt.Errorf("candle fetcher 不能为空")
	}
	if st == nil {
		return nil, fmt.Errorf("store 不能为空")
	}
	return &CachedCandleSource{fetch: fetch, store: st, now: time.Now}, nil
}

func (c *CachedCandleSource) Candles(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	cached, err := c.store.RecentCandles(ctx, symbol, interval, limit)
	if err == nil && c.fresh(cached, interval, limit) {
		return cached, nil
	}
	if err != nil {
		logger.Warnf("读取 K 线缓存失败，回源: %v", err)
	}

	fetched, err := c.fetch.Candles(ctx, symbol, interval, limit)
	if err != nil {
		// 回源失败但缓存够数时降级用缓存
		if len(cached) >= limit {
			logger.Warnf("网关拉取失败，降级用缓存 K 线: %v", err)
			return cached, nil
		}
		return nil, err
	}
	if err := c.store.UpsertCandles(ctx, symbol, interval, fetched); err != nil {
		logger.Warnf("回填 K 线缓存失败: %v", err)
	}
	return fetched, nil
}

// fresh 判断缓存是否够数且最新一根仍是当前（或上一）周期。
func (c *CachedCandleSource) fresh(candles []market.Candle, interval string, limit int) bool {
	if len(candles) < limit {
		return false
	}
	d, ok := market.IntervalDuration(interval)
	if !ok {
		return false
	}
	last := candles[len(candles)-1]
	age := c.now().UnixMilli() - last.CloseTime
	return age <= d.Milliseconds()
}
