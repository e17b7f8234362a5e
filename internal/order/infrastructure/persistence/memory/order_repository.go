// Package memory 进程内订单日志实现，用于 dev 环境与测试
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/wyfcoding/daytrading/internal/order/domain"
)

type memoryRepository struct {
	mu     sync.RWMutex
	orders map[string]*domain.Order
	seq    int64
}

// NewOrderRepository 创建进程内订单日志
func NewOrderRepository() domain.OrderRepository {
	return &memoryRepository{orders: make(map[string]*domain.Order)}
}

// Save 保存订单
func (r *memoryRepository) Save(ctx context.Context, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	clone := *order
	clone.ID = uint(r.seq)
	r.orders[order.OrderID] = &clone
	return nil
}

// Get 根据订单 ID 获取订单
func (r *memoryRepository) Get(ctx context.Context, orderID string) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	order, ok := r.orders[orderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	clone := *order
	return &clone, nil
}

// ListByAccount 获取账户订单列表
func (r *memoryRepository) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]*domain.Order, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var matched []*domain.Order
	for _, order := range r.orders {
		if order.AccountID == accountID {
			clone := *order
			matched = append(matched, &clone)
		}
	}
	sort.Slice(matched, func(i, k int) bool { return matched[i].ID > matched[k].ID })

	total := int64(len(matched))
	if offset >= len(matched) {
		return nil, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}

// MarkCompleted 订单完成，回填成交价与结算引用
func (r *memoryRepository) MarkCompleted(ctx context.Context, orderID string, price decimal.Decimal, tradeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	order.Status = domain.OrderStatusCompleted
	order.Price = price
	order.TradeID = tradeID
	return nil
}

// MarkPartiallyFilled 订单部分成交，数量缩减为未成交余量
func (r *memoryRepository) MarkPartiallyFilled(ctx context.Context, orderID string, remaining int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	order.Status = domain.OrderStatusPartiallyFilled
	order.Quantity = remaining
	return nil
}

// MarkCancelled 取消订单，仅 IN_PROGRESS 可取消
func (r *memoryRepository) MarkCancelled(ctx context.Context, orderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if order.Status != domain.OrderStatusInProgress {
		return domain.ErrNotCancellable
	}
	order.Status = domain.OrderStatusCancelled
	return nil
}
