package market

import "sync/atomic"

// BookMailbox 是单槽信箱：深度流每收到一帧就整体替换，读者永远拿到
// 最近一次完整快照（可能略旧，但不会撕裂）。没有锁，后写覆盖先写。
type BookMailbox struct {
	slot atomic.Pointer[OrderBook]
}

func NewBookMailbox() *BookMailbox {
	return &BookMailbox{}
}

// Publish 存入新快照。nil 快照被忽略。
func (m *BookMailbox) Publish(book *OrderBook) {
	if m == nil || book == nil {
		return
	}
	m.slot.Store(book)
}

// Latest 返回最近一次快照，未曾收到时为 nil。
func (m *BookMailbox) Latest() *OrderBook {
	if m == nil {
		return nil
	}
	return m.slot.Load()
}

// Clear 清空信箱，重连后用于丢弃过期快照。
func (m *BookMailbox) Clear() {
	if m == nil {
		return
	}
	m.slot.Store(nil)
}
