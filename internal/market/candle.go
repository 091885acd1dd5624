package market

import (
	"strconv"
	"strings"
	"time"
)

type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Trades    int64   `json:"trades"`
}

// TradeTick 是一笔逐笔成交。IsBuyerMaker=true 表示主动卖单吃掉了买方挂单。
type TradeTick struct {
	Price        float64 `json:"price"`
	Quantity     float64 `json:"quantity"`
	IsBuyerMaker bool    `json:"is_buyer_maker"`
	Time         int64   `json:"time"`
}

// IntervalDuration 解析 "15m"/"1h"/"1d" 形式的周期，无法解析时返回 (0,false)。
func IntervalDuration(interval string) (time.Duration, bool) {
	interval = strings.ToLower(strings.TrimSpace(interval))
	if len(interval) < 2 {
		return 0, false
	}
	unit := interval[len(interval)-1]
	n, err := strconv.Atoi(interval[:len(interval)-1])
	if err != nil || n <= 0 {
		return 0, false
	}
	switch unit {
	case 'm':
		return time.Duration(n) * time.Minute, true
	case 'h':
		return time.Duration(n) * time.Hour, true
	case 'd':
		return time.Duration(n) * 24 * time.Hour, true
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, true
	default:
		return 0, false
	}
}

// IntervalMinutes 返回周期对应的分钟数，解析失败时按 1h 处理。
func IntervalMinutes(interval string) int {
	d, ok := IntervalDuration(interval)
	if !ok {
		return 60
	}
	m := int(d.Minutes())
	if m <= 0 {
		return 60
	}
	return m
}
