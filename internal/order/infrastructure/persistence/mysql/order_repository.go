package mysql

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/wyfcoding/daytrading/internal/order/domain"
)

// orderRepository 订单仓储实现
type orderRepository struct {
	db *gorm.DB
}

// NewOrderRepository 创建并返回一个新的 orderRepository 实例。
func NewOrderRepository(db *gorm.DB) domain.OrderRepository {
	return &orderRepository{db: db}
}

// Save 保存订单
func (r *orderRepository) Save(ctx context.Context, order *domain.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

// Get 根据订单 ID 获取订单
func (r *orderRepository) Get(ctx context.Context, orderID string) (*domain.Order, error) {
	var order domain.Order
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

// ListByAccount 获取账户订单列表
func (r *orderRepository) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]*domain.Order, int64, error) {
	db := r.db.WithContext(ctx).Model(&domain.Order{}).Where("account_id = ?", accountID)

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var orders []*domain.Order
	err := db.Order("created_at desc").Limit(limit).Offset(offset).Find(&orders).Error
	return orders, total, err
}

// MarkCompleted 订单完成，回填成交价与结算引用
func (r *orderRepository) MarkCompleted(ctx context.Context, orderID string, price decimal.Decimal, tradeID string) error {
	result := r.db.WithContext(ctx).Model(&domain.Order{}).
		Where("order_id = ?", orderID).
		Updates(map[string]any{
			"status":   domain.OrderStatusCompleted,
			"price":    price,
			"trade_id": tradeID,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

// MarkPartiallyFilled 订单部分成交，数量缩减为未成交余量
func (r *orderRepository) MarkPartiallyFilled(ctx context.Context, orderID string, remaining int64) error {
	result := r.db.WithContext(ctx).Model(&domain.Order{}).
		Where("order_id = ?", orderID).
		Updates(map[string]any{
			"status":   domain.OrderStatusPartiallyFilled,
			"quantity": remaining,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

// MarkCancelled 取消订单，仅 IN_PROGRESS 可取消
func (r *orderRepository) MarkCancelled(ctx context.Context, orderID string) error {
	result := r.db.WithContext(ctx).Model(&domain.Order{}).
		Where("order_id = ? AND status = ?", orderID, domain.OrderStatusInProgress).
		Update("status", domain.OrderStatusCancelled)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := r.db.WithContext(ctx).Model(&domain.Order{}).
			Where("order_id = ?", orderID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return domain.ErrOrderNotFound
		}
		return domain.ErrNotCancellable
	}
	return nil
}
