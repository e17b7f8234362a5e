// Package domain 包含订单服务的领域模型
package domain

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// OrderStatus 订单状态
// 生命周期：IN_PROGRESS → {COMPLETED | PARTIALLY_FILLED → COMPLETED | CANCELLED}
type OrderStatus string

const (
	OrderStatusInProgress      OrderStatus = "IN_PROGRESS"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusCompleted       OrderStatus = "COMPLETED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
)

// IsTerminal 是否终态
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// OrderSide 订单方向
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderType 订单类型
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

var (
	// ErrValidation 订单形状不合法，持久化前拒绝
	ErrValidation = errors.New("invalid order")
	// ErrOrderNotFound 订单不存在
	ErrOrderNotFound = errors.New("order not found")
	// ErrAlreadyMatched 取消与撮合竞争失败，订单已被成交捕获
	ErrAlreadyMatched = errors.New("order already matched")
	// ErrNotCancellable 订单不在可取消状态
	ErrNotCancellable = errors.New("order is not cancellable")
	// ErrMatchTimeout 等待撮合结果超时，订单状态需离线对账
	ErrMatchTimeout = errors.New("timed out waiting for match result")
	// ErrUnavailable 基础设施不可用（broker / 账本不可达）
	ErrUnavailable = errors.New("service unavailable")
)

// Order 订单实体
// 买单只能是市价且不带价格；卖单只能是限价且价格必须为正。
// 部分成交时本单数量缩减为未成交余量，已成交部分物化为一张指向本单的 COMPLETED 子订单。
type Order struct {
	gorm.Model
	// 订单 ID (业务主键)，全局唯一
	OrderID string `gorm:"column:order_id;type:varchar(32);uniqueIndex;not null" json:"order_id"`
	// 账户 ID
	AccountID string `gorm:"column:account_id;type:varchar(32);index;not null" json:"account_id"`
	// 标的
	Instrument string `gorm:"column:instrument;type:varchar(20);index;not null" json:"instrument"`
	// 买卖方向
	Side OrderSide `gorm:"column:side;type:varchar(10);not null" json:"side"`
	// 订单类型
	Type OrderType `gorm:"column:type;type:varchar(10);not null" json:"type"`
	// 数量（正整数；部分成交后为未成交余量）
	Quantity int64 `gorm:"column:quantity;type:bigint;not null" json:"quantity"`
	// 限价（卖单必填；买单成交后回填成交价）
	Price decimal.Decimal `gorm:"column:price;type:decimal(32,18)" json:"price"`
	// 订单状态
	Status OrderStatus `gorm:"column:status;type:varchar(20);index;not null" json:"status"`
	// 父订单 ID（部分成交产生的子订单指向原单）
	ParentOrderID string `gorm:"column:parent_order_id;type:varchar(32);index" json:"parent_order_id,omitempty"`
	// 结算引用（成交后的 trade_id）
	TradeID string `gorm:"column:trade_id;type:varchar(32)" json:"trade_id,omitempty"`
}

func (Order) TableName() string {
	return "orders"
}

// Validate 校验订单形状
func (o *Order) Validate() error {
	if o.AccountID == "" {
		return fmt.Errorf("%w: account id is required", ErrValidation)
	}
	if o.Instrument == "" {
		return fmt.Errorf("%w: instrument is required", ErrValidation)
	}
	if o.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive, got %d", ErrValidation, o.Quantity)
	}
	switch o.Side {
	case OrderSideBuy:
		if o.Type != OrderTypeMarket {
			return fmt.Errorf("%w: buy orders must be MARKET", ErrValidation)
		}
		if !o.Price.IsZero() {
			return fmt.Errorf("%w: buy orders must not carry a price", ErrValidation)
		}
	case OrderSideSell:
		if o.Type != OrderTypeLimit {
			return fmt.Errorf("%w: sell orders must be LIMIT", ErrValidation)
		}
		if !o.Price.IsPositive() {
			return fmt.Errorf("%w: sell orders require a positive price", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown side %q", ErrValidation, o.Side)
	}
	return nil
}

// OrderRepository 订单仓储接口（持久化订单日志）
// 订单永不删除，只做状态迁移。
type OrderRepository interface {
	// Save 保存订单
	Save(ctx context.Context, order *Order) error
	// Get 根据订单 ID 获取订单
	Get(ctx context.Context, orderID string) (*Order, error)
	// ListByAccount 获取账户订单列表
	ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]*Order, int64, error)
	// MarkCompleted 订单完成，回填成交价与结算引用
	MarkCompleted(ctx context.Context, orderID string, price decimal.Decimal, tradeID string) error
	// MarkPartiallyFilled 订单部分成交，数量缩减为未成交余量
	MarkPartiallyFilled(ctx context.Context, orderID string, remaining int64) error
	// MarkCancelled 取消订单；仅当当前状态为 IN_PROGRESS 时生效，
	// 状态已变更时返回 ErrNotCancellable
	MarkCancelled(ctx context.Context, orderID string) error
}
