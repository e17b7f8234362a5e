// Package domain 撮合引擎的领域模型
package domain

import (
	"container/list"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Entry 簿内挂单（一张在簿等待被买单发现的限价卖单）
type Entry struct {
	// 订单 ID
	OrderID string
	// 卖方账户
	AccountID string
	// 限价
	Price decimal.Decimal
	// 未成交数量
	Quantity int64
	// 到达序号，价格相同时的时间优先依据；重新入簿时保留原序号，
	// 部分成交的挂单不会因此插队
	Sequence uint64
}

// priceLevel 同一价格档位下的挂单集合，按到达序号升序 (FIFO)
type priceLevel struct {
	price   decimal.Decimal
	entries *list.List // 存储 *Entry
}

func newPriceLevel(price decimal.Decimal) *priceLevel {
	return &priceLevel{price: price, entries: list.New()}
}

// instrumentBook 单标的订单簿：价格升序的档位序列，每档 FIFO
type instrumentBook struct {
	mu     sync.Mutex
	levels []*priceLevel
}

// BookStore 多标的订单簿存储
// 同一标的的变更由该标的的互斥锁保护，不同标的之间互不竞争
type BookStore struct {
	mu    sync.RWMutex
	books map[string]*instrumentBook
	seq   uint64
	seqMu sync.Mutex
}

// NewBookStore 创建订单簿存储
func NewBookStore() *BookStore {
	return &BookStore{books: make(map[string]*instrumentBook)}
}

func (s *BookStore) book(instrument string) *instrumentBook {
	s.mu.RLock()
	b, ok := s.books[instrument]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok = s.books[instrument]; ok {
		return b
	}
	b = &instrumentBook{}
	s.books[instrument] = b
	return b
}

func (s *BookStore) nextSequence() uint64 {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	s.seq++
	return s.seq
}

// Insert 新挂单入簿，分配到达序号
func (s *BookStore) Insert(instrument string, entry *Entry) {
	if entry.Sequence == 0 {
		entry.Sequence = s.nextSequence()
	}
	b := s.book(instrument)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.insert(entry)
}

// PeekBest 返回最低价、最早到达挂单的副本；簿空时 ok 为 false
func (s *BookStore) PeekBest(instrument string) (Entry, bool) {
	b := s.book(instrument)
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.levels) == 0 {
		return Entry{}, false
	}
	best := b.levels[0].entries.Front().Value.(*Entry)
	return *best, true
}

// CaptureBest 原子移除并返回最佳挂单，供一次撮合独占使用。
// 捕获期间其他撮合无法看到该挂单；撮合失败时必须通过 Restore 原位放回。
func (s *BookStore) CaptureBest(instrument string) (*Entry, bool) {
	b := s.book(instrument)
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.levels) == 0 {
		return nil, false
	}
	level := b.levels[0]
	front := level.entries.Front()
	entry := level.entries.Remove(front).(*Entry)
	if level.entries.Len() == 0 {
		b.levels = b.levels[1:]
	}
	return entry, true
}

// Restore 将挂单按原价格与原到达序号放回簿内。
// 用于撮合失败回滚和部分成交后余量重新入簿；凭原序号保证不插队。
func (s *BookStore) Restore(instrument string, entry *Entry) {
	b := s.book(instrument)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.insert(entry)
}

// Remove 按订单 ID 移除挂单（取消路径）。
// 挂单不在簿内（已被在途撮合捕获或已成交）时返回 false。
func (s *BookStore) Remove(instrument, orderID string) (*Entry, bool) {
	b := s.book(instrument)
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, level := range b.levels {
		for el := level.entries.Front(); el != nil; el = el.Next() {
			entry := el.Value.(*Entry)
			if entry.OrderID == orderID {
				level.entries.Remove(el)
				if level.entries.Len() == 0 {
					b.levels = append(b.levels[:i], b.levels[i+1:]...)
				}
				return entry, true
			}
		}
	}
	return nil, false
}

// Size 返回簿内挂单数
func (s *BookStore) Size(instrument string) int {
	b := s.book(instrument)
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, level := range b.levels {
		n += level.entries.Len()
	}
	return n
}

// insert 按 (价格升序, 序号升序) 插入；调用方必须持有簿锁
func (b *instrumentBook) insert(entry *Entry) {
	levelIdx := -1
	for i, level := range b.levels {
		cmp := level.price.Cmp(entry.Price)
		if cmp == 0 {
			levelIdx = i
			break
		}
		if cmp > 0 {
			newLevel := newPriceLevel(entry.Price)
			b.levels = append(b.levels, nil)
			copy(b.levels[i+1:], b.levels[i:])
			b.levels[i] = newLevel
			levelIdx = i
			break
		}
	}
	if levelIdx == -1 {
		b.levels = append(b.levels, newPriceLevel(entry.Price))
		levelIdx = len(b.levels) - 1
	}

	level := b.levels[levelIdx]
	for el := level.entries.Front(); el != nil; el = el.Next() {
		if entry.Sequence < el.Value.(*Entry).Sequence {
			level.entries.InsertBefore(entry, el)
			return
		}
	}
	level.entries.PushBack(entry)
}

// BookLevel 订单簿档位（快照用）
type BookLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity"`
	Orders   int             `json:"orders"`
}

// BookSnapshot 订单簿快照
type BookSnapshot struct {
	Instrument string       `json:"instrument"`
	Asks       []*BookLevel `json:"asks"`
	Timestamp  int64        `json:"timestamp"`
}

// Snapshot 获取前 depth 档的订单簿快照
func (s *BookStore) Snapshot(instrument string, depth int) *BookSnapshot {
	b := s.book(instrument)
	b.mu.Lock()
	defer b.mu.Unlock()

	if depth <= 0 || depth > len(b.levels) {
		depth = len(b.levels)
	}
	asks := make([]*BookLevel, 0, depth)
	for _, level := range b.levels[:depth] {
		var totalQty int64
		for el := level.entries.Front(); el != nil; el = el.Next() {
			totalQty += el.Value.(*Entry).Quantity
		}
		asks = append(asks, &BookLevel{
			Price:    level.price,
			Quantity: totalQty,
			Orders:   level.entries.Len(),
		})
	}

	return &BookSnapshot{
		Instrument: instrument,
		Asks:       asks,
		Timestamp:  time.Now().Unix(),
	}
}
