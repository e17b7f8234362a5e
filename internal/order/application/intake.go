// Package application 订单服务的应用层：下单、撤单与结果关联
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	ledgerdomain "github.com/wyfcoding/daytrading/internal/ledger/domain"
	matchingdomain "github.com/wyfcoding/daytrading/internal/matching/domain"
	"github.com/wyfcoding/daytrading/internal/order/domain"
	"github.com/wyfcoding/daytrading/pkg/metrics"
	"github.com/wyfcoding/daytrading/pkg/utils"
)

// Inventory 下单路径依赖的持仓操作
type Inventory interface {
	// ReserveInventory 预留卖出数量，持仓不足时返回 ledgerdomain.ErrInsufficientInventory
	ReserveInventory(ctx context.Context, accountID, instrument string, quantity int64) error
	// ReleaseInventory 退回预留数量
	ReleaseInventory(ctx context.Context, accountID, instrument string, quantity int64) error
}

// PlaceOrderCommand 下单命令
type PlaceOrderCommand struct {
	AccountID  string
	Instrument string
	Side       domain.OrderSide
	Quantity   int64
	// Price 仅卖单携带
	Price decimal.Decimal
}

// PlaceOrderResult 下单的同步返回。
// 卖单立即入簿，Matched 恒为 false 且订单保持 IN_PROGRESS；
// 买单阻塞等待撮合结果，成功时携带成交价与结算引用，
// 失败时订单已被取消并携带失败原因。
type PlaceOrderResult struct {
	Order   *domain.Order
	Matched bool
	Reason  matchingdomain.FailureReason
}

// IntakeService 订单入口服务。
// 卖单同步入簿；买单发布撮合请求后在调用方协程上等待关联结果。
type IntakeService struct {
	orders     domain.OrderRepository
	books      *matchingdomain.BookStore
	broker     matchingdomain.Broker
	inventory  Inventory
	correlator *Correlator
	timeout    time.Duration
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewIntakeService 构造函数。
func NewIntakeService(
	orders domain.OrderRepository,
	books *matchingdomain.BookStore,
	broker matchingdomain.Broker,
	inventory Inventory,
	correlator *Correlator,
	timeout time.Duration,
	m *metrics.Metrics,
	logger *slog.Logger,
) *IntakeService {
	return &IntakeService{
		orders:     orders,
		books:      books,
		broker:     broker,
		inventory:  inventory,
		correlator: correlator,
		timeout:    timeout,
		metrics:    m,
		logger:     logger,
	}
}

// PlaceOrder 下单。
// 校验失败返回 domain.ErrValidation；卖方持仓不足返回 ledgerdomain.ErrInsufficientInventory；
// 买单等待超时返回 domain.ErrMatchTimeout，此时订单结局以撮合侧落库状态为准。
func (s *IntakeService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (*PlaceOrderResult, error) {
	order := &domain.Order{
		OrderID:    utils.NewOrderID(),
		AccountID:  cmd.AccountID,
		Instrument: cmd.Instrument,
		Side:       cmd.Side,
		Quantity:   cmd.Quantity,
		Price:      cmd.Price,
		Status:     domain.OrderStatusInProgress,
	}
	switch cmd.Side {
	case domain.OrderSideBuy:
		order.Type = domain.OrderTypeMarket
	case domain.OrderSideSell:
		order.Type = domain.OrderTypeLimit
	}
	if err := order.Validate(); err != nil {
		return nil, err
	}

	if cmd.Side == domain.OrderSideSell {
		return s.placeSell(ctx, order)
	}
	return s.placeBuy(ctx, order)
}

// placeSell 卖单路径：先预留持仓，再落库，最后入簿。
// 入簿是最后一步，簿内挂单的持仓必定已预留。
func (s *IntakeService) placeSell(ctx context.Context, order *domain.Order) (*PlaceOrderResult, error) {
	if err := s.inventory.ReserveInventory(ctx, order.AccountID, order.Instrument, order.Quantity); err != nil {
		if errors.Is(err, ledgerdomain.ErrInsufficientInventory) {
			s.countOrder(order.Side, "rejected")
			return nil, fmt.Errorf("%w: %s %s", ledgerdomain.ErrInsufficientInventory, order.Instrument, order.AccountID)
		}
		return nil, fmt.Errorf("%w: failed to reserve inventory: %v", domain.ErrUnavailable, err)
	}

	if err := s.orders.Save(ctx, order); err != nil {
		if rerr := s.inventory.ReleaseInventory(ctx, order.AccountID, order.Instrument, order.Quantity); rerr != nil {
			s.logger.ErrorContext(ctx, "failed to release inventory after save failure",
				"order_id", order.OrderID, "error", rerr)
		}
		return nil, fmt.Errorf("%w: failed to persist order: %v", domain.ErrUnavailable, err)
	}

	s.books.Insert(order.Instrument, &matchingdomain.Entry{
		OrderID:   order.OrderID,
		AccountID: order.AccountID,
		Price:     order.Price,
		Quantity:  order.Quantity,
	})
	if s.metrics != nil {
		s.metrics.RestingOrders.WithLabelValues(order.Instrument).Set(float64(s.books.Size(order.Instrument)))
	}
	s.countOrder(order.Side, "resting")

	s.logger.InfoContext(ctx, "sell order resting",
		"order_id", order.OrderID,
		"instrument", order.Instrument,
		"price", order.Price,
		"quantity", order.Quantity,
	)
	return &PlaceOrderResult{Order: order}, nil
}

// placeBuy 买单路径：落库后发布撮合请求，同步等待关联结果。
// 等待通道必须在发布之前注册，避免结果先于注册到达。
func (s *IntakeService) placeBuy(ctx context.Context, order *domain.Order) (*PlaceOrderResult, error) {
	if err := s.orders.Save(ctx, order); err != nil {
		return nil, fmt.Errorf("%w: failed to persist order: %v", domain.ErrUnavailable, err)
	}

	resultCh := s.correlator.Register(order.OrderID)
	req := &matchingdomain.MatchRequest{
		OrderID:    order.OrderID,
		AccountID:  order.AccountID,
		Instrument: order.Instrument,
		Quantity:   order.Quantity,
	}
	if err := s.broker.PublishRequest(ctx, req); err != nil {
		s.correlator.Forget(order.OrderID)
		if cerr := s.orders.MarkCancelled(ctx, order.OrderID); cerr != nil {
			s.logger.ErrorContext(ctx, "failed to cancel order after publish failure",
				"order_id", order.OrderID, "error", cerr)
		}
		return nil, fmt.Errorf("%w: failed to publish match request: %v", domain.ErrUnavailable, err)
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()
	select {
	case result := <-resultCh:
		return s.buyOutcome(ctx, order, result)
	case <-timer.C:
		s.correlator.Forget(order.OrderID)
		if s.metrics != nil {
			s.metrics.ResultTimeouts.Inc()
		}
		s.logger.WarnContext(ctx, "timed out waiting for match result",
			"order_id", order.OrderID, "timeout", s.timeout)
		return nil, domain.ErrMatchTimeout
	case <-ctx.Done():
		s.correlator.Forget(order.OrderID)
		return nil, ctx.Err()
	}
}

// buyOutcome 根据撮合结果组装同步返回
func (s *IntakeService) buyOutcome(ctx context.Context, order *domain.Order, result *matchingdomain.MatchResult) (*PlaceOrderResult, error) {
	if result.Matched {
		order.Status = domain.OrderStatusCompleted
		order.Price = result.Price
		order.TradeID = result.TradeID
		s.countOrder(order.Side, "matched")
		s.logger.InfoContext(ctx, "buy order matched",
			"order_id", order.OrderID,
			"instrument", order.Instrument,
			"price", result.Price,
			"quantity", result.Quantity,
			"trade_id", result.TradeID,
		)
		return &PlaceOrderResult{Order: order, Matched: true}, nil
	}

	order.Status = domain.OrderStatusCancelled
	s.countOrder(order.Side, "unmatched")
	s.logger.InfoContext(ctx, "buy order not matched",
		"order_id", order.OrderID,
		"instrument", order.Instrument,
		"reason", result.Reason,
	)
	return &PlaceOrderResult{Order: order, Reason: result.Reason}, nil
}

// CancelOrder 撤销在簿卖单。
// 先移簿后改状态：移簿成功后该挂单对撮合不可见，状态迁移与退回预留不再有竞争。
// 挂单已不在簿内（被在途撮合捕获或已成交）时返回 domain.ErrAlreadyMatched；
// 捕获它的撮合若最终失败会把挂单放回簿内，订单恢复 IN_PROGRESS，此时可重试取消。
func (s *IntakeService) CancelOrder(ctx context.Context, accountID, orderID string) (*domain.Order, error) {
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.AccountID != accountID {
		return nil, domain.ErrOrderNotFound
	}
	if order.Side != domain.OrderSideSell {
		return nil, fmt.Errorf("%w: only resting sell orders can be cancelled", domain.ErrNotCancellable)
	}
	if order.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: order is %s", domain.ErrNotCancellable, order.Status)
	}

	entry, ok := s.books.Remove(order.Instrument, orderID)
	if !ok {
		return nil, domain.ErrAlreadyMatched
	}

	if err := s.orders.MarkCancelled(ctx, orderID); err != nil {
		if errors.Is(err, domain.ErrNotCancellable) {
			// 状态已被撮合侧推进，把挂单放回原位并按已成交处理
			s.books.Restore(order.Instrument, entry)
			return nil, domain.ErrAlreadyMatched
		}
		s.books.Restore(order.Instrument, entry)
		return nil, fmt.Errorf("%w: failed to cancel order: %v", domain.ErrUnavailable, err)
	}

	if err := s.inventory.ReleaseInventory(ctx, order.AccountID, order.Instrument, entry.Quantity); err != nil {
		s.logger.ErrorContext(ctx, "failed to release reserved inventory on cancel",
			"order_id", orderID,
			"account_id", order.AccountID,
			"instrument", order.Instrument,
			"quantity", entry.Quantity,
			"error", err,
		)
	}
	if s.metrics != nil {
		s.metrics.RestingOrders.WithLabelValues(order.Instrument).Set(float64(s.books.Size(order.Instrument)))
	}

	order.Status = domain.OrderStatusCancelled
	order.Quantity = entry.Quantity
	s.logger.InfoContext(ctx, "sell order cancelled",
		"order_id", orderID, "instrument", order.Instrument, "released", entry.Quantity)
	return order, nil
}

// GetOrder 查询单个订单
func (s *IntakeService) GetOrder(ctx context.Context, accountID, orderID string) (*domain.Order, error) {
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.AccountID != accountID {
		return nil, domain.ErrOrderNotFound
	}
	return order, nil
}

// ListOrders 查询账户订单列表
func (s *IntakeService) ListOrders(ctx context.Context, accountID string, limit, offset int) ([]*domain.Order, int64, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.orders.ListByAccount(ctx, accountID, limit, offset)
}

func (s *IntakeService) countOrder(side domain.OrderSide, outcome string) {
	if s.metrics != nil {
		s.metrics.OrdersTotal.WithLabelValues(string(side), outcome).Inc()
	}
}
