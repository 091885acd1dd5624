package market

import "context"

// StreamOptions 控制深度订阅的回调与缓冲。
type StreamOptions struct {
	Buffer       int
	OnConnect    func()
	OnDisconnect func(error)
}

type SourceStats struct {
	Reconnects      int
	SubscribeErrors int
	LastError       string
}

// Source 是行情网关的抽象：历史 K 线、近期逐笔、盘口快照与实时深度流。
type Source interface {
	Candles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)

	RecentTrades(ctx context.Context, symbol string, limit int) ([]TradeTick, error)

	OrderBook(ctx context.Context, symbol string, depth int) (*OrderBook, error)

	// StreamOrderBook 在后台推送盘口快照，直到 ctx 取消或 stop 被调用。
	StreamOrderBook(ctx context.Context, symbol string, depth int, opts StreamOptions) (<-chan *OrderBook, func(), error)

	Stats() SourceStats

	Close() error
}
