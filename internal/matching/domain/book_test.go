package domain

import (
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(orderID string, price string, qty int64) *Entry {
	return &Entry{
		OrderID:   orderID,
		AccountID: "seller",
		Price:     decimal.RequireFromString(price),
		Quantity:  qty,
	}
}

func TestPeekBestReturnsLowestPrice(t *testing.T) {
	s := NewBookStore()
	s.Insert("AAPL", entry("O-1", "12", 10))
	s.Insert("AAPL", entry("O-2", "10", 5))
	s.Insert("AAPL", entry("O-3", "11", 7))

	best, ok := s.PeekBest("AAPL")
	require.True(t, ok)
	assert.Equal(t, "O-2", best.OrderID)
	assert.True(t, best.Price.Equal(decimal.RequireFromString("10")))
}

func TestPeekBestEmptyBook(t *testing.T) {
	s := NewBookStore()
	_, ok := s.PeekBest("AAPL")
	assert.False(t, ok)
}

func TestTimePriorityAtEqualPrice(t *testing.T) {
	s := NewBookStore()
	s.Insert("AAPL", entry("first", "10", 5))
	s.Insert("AAPL", entry("second", "10", 5))

	best, ok := s.PeekBest("AAPL")
	require.True(t, ok)
	assert.Equal(t, "first", best.OrderID)
}

func TestBooksPerInstrumentAreIndependent(t *testing.T) {
	s := NewBookStore()
	s.Insert("AAPL", entry("O-1", "10", 5))

	_, ok := s.PeekBest("GOOG")
	assert.False(t, ok)
	assert.Equal(t, 1, s.Size("AAPL"))
	assert.Equal(t, 0, s.Size("GOOG"))
}

func TestCaptureBestRemovesEntry(t *testing.T) {
	s := NewBookStore()
	s.Insert("AAPL", entry("O-1", "10", 5))
	s.Insert("AAPL", entry("O-2", "11", 5))

	captured, ok := s.CaptureBest("AAPL")
	require.True(t, ok)
	assert.Equal(t, "O-1", captured.OrderID)

	// 捕获期间最佳挂单对其他读者不可见
	best, ok := s.PeekBest("AAPL")
	require.True(t, ok)
	assert.Equal(t, "O-2", best.OrderID)
}

func TestRestoreKeepsTimePriority(t *testing.T) {
	s := NewBookStore()
	s.Insert("AAPL", entry("first", "10", 100))
	s.Insert("AAPL", entry("second", "10", 50))

	captured, ok := s.CaptureBest("AAPL")
	require.True(t, ok)
	require.Equal(t, "first", captured.OrderID)

	// 部分成交后余量按原序号放回，不得排到同价后来者之后
	captured.Quantity = 40
	s.Restore("AAPL", captured)

	best, ok := s.PeekBest("AAPL")
	require.True(t, ok)
	assert.Equal(t, "first", best.OrderID)
	assert.Equal(t, int64(40), best.Quantity)
}

func TestRemoveByOrderID(t *testing.T) {
	s := NewBookStore()
	s.Insert("AAPL", entry("O-1", "10", 5))
	s.Insert("AAPL", entry("O-2", "10", 5))
	s.Insert("AAPL", entry("O-3", "11", 5))

	removed, ok := s.Remove("AAPL", "O-2")
	require.True(t, ok)
	assert.Equal(t, "O-2", removed.OrderID)
	assert.Equal(t, 2, s.Size("AAPL"))

	_, ok = s.Remove("AAPL", "O-2")
	assert.False(t, ok)
}

func TestRemoveDrainsPriceLevel(t *testing.T) {
	s := NewBookStore()
	s.Insert("AAPL", entry("O-1", "10", 5))
	s.Insert("AAPL", entry("O-2", "11", 5))

	_, ok := s.Remove("AAPL", "O-1")
	require.True(t, ok)

	best, ok := s.PeekBest("AAPL")
	require.True(t, ok)
	assert.Equal(t, "O-2", best.OrderID)
}

func TestSnapshotAggregatesLevels(t *testing.T) {
	s := NewBookStore()
	s.Insert("AAPL", entry("O-1", "10", 5))
	s.Insert("AAPL", entry("O-2", "10", 7))
	s.Insert("AAPL", entry("O-3", "11", 3))

	snapshot := s.Snapshot("AAPL", 20)
	require.Len(t, snapshot.Asks, 2)
	assert.True(t, snapshot.Asks[0].Price.Equal(decimal.RequireFromString("10")))
	assert.Equal(t, int64(12), snapshot.Asks[0].Quantity)
	assert.Equal(t, 2, snapshot.Asks[0].Orders)
	assert.Equal(t, int64(3), snapshot.Asks[1].Quantity)
}

func TestSnapshotDepthLimit(t *testing.T) {
	s := NewBookStore()
	for i := 0; i < 5; i++ {
		s.Insert("AAPL", entry(fmt.Sprintf("O-%d", i), fmt.Sprintf("%d", 10+i), 1))
	}

	snapshot := s.Snapshot("AAPL", 3)
	assert.Len(t, snapshot.Asks, 3)
}

func TestConcurrentInsertAndCapture(t *testing.T) {
	s := NewBookStore()
	const n = 200

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Insert("AAPL", entry(fmt.Sprintf("O-%d", i), "10", 1))
		}(i)
	}
	wg.Wait()
	require.Equal(t, n, s.Size("AAPL"))

	seen := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if e, ok := s.CaptureBest("AAPL"); ok {
				seen <- e.OrderID
			}
		}()
	}
	wg.Wait()
	close(seen)

	// 每张挂单恰好被捕获一次
	unique := make(map[string]bool)
	for id := range seen {
		assert.False(t, unique[id], "entry %s captured twice", id)
		unique[id] = true
	}
	assert.Len(t, unique, n)
	assert.Equal(t, 0, s.Size("AAPL"))
}
