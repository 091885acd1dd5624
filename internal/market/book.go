package market

// Level 是盘口中的一档报价。
type Level struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// OrderBook 为某一时刻的盘口快照。Bids 按价格降序、Asks 按价格升序，
// 可能来自实时深度推送，也可能由单根 K 线合成。
type OrderBook struct {
	Symbol string  `json:"symbol"`
	Time   int64   `json:"time"`
	Bids   []Level `json:"bids"`
	Asks   []Level `json:"asks"`
}

func (b *OrderBook) BestBid() (Level, bool) {
	if b == nil || len(b.Bids) == 0 {
		return Level{}, false
	}
	return b.Bids[0], true
}

func (b *OrderBook) BestAsk() (Level, bool) {
	if b == nil || len(b.Asks) == 0 {
		return Level{}, false
	}
	return b.Asks[0], true
}

// Spread 返回买一卖一价差，缺档时为 0。
func (b *OrderBook) Spread() float64 {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if !okB || !okA {
		return 0
	}
	return ask.Price - bid.Price
}

// Mid 返回买一卖一中间价，缺档时为 0。
func (b *OrderBook) Mid() float64 {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if !okB || !okA {
		return 0
	}
	return (bid.Price + ask.Price) / 2
}

// Imbalance 为 (买量-卖量)/(买量+卖量)，统计前 levels 档；levels<=0 时统计全部。
func (b *OrderBook) Imbalance(levels int) float64 {
	if b == nil {
		return 0
	}
	bidVol := sumDepth(b.Bids, levels)
	askVol := sumDepth(b.Asks, levels)
	return (bidVol - askVol) / (bidVol + askVol + 1e-9)
}

// BidVolume 返回买盘总挂量。
func (b *OrderBook) BidVolume() float64 {
	if b == nil {
		return 0
	}
	return sumDepth(b.Bids, 0)
}

// AskVolume 返回卖盘总挂量。
func (b *OrderBook) AskVolume() float64 {
	if b == nil {
		return 0
	}
	return sumDepth(b.Asks, 0)
}

func sumDepth(levels []Level, n int) float64 {
	if n <= 0 || n > len(levels) {
		n = len(levels)
	}
	total := 0.0
	for i := 0; i < n; i++ {
		total += levels[i].Quantity
	}
	return total
}
