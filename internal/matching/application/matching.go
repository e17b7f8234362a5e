// Package application 撮合引擎的应用服务
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	ledgerdomain "github.com/wyfcoding/daytrading/internal/ledger/domain"
	"github.com/wyfcoding/daytrading/internal/matching/domain"
	orderdomain "github.com/wyfcoding/daytrading/internal/order/domain"
	"github.com/wyfcoding/daytrading/pkg/metrics"
	"github.com/wyfcoding/daytrading/pkg/utils"
)

// Settler 结算接口，由账本应用服务实现
type Settler interface {
	Settle(ctx context.Context, buyAccountID, sellAccountID, buyOrderID, sellOrderID, instrument string, quantity int64, price decimal.Decimal) (string, error)
}

// SnapshotMirror 订单簿快照镜像（可选，用于行情读路径）
type SnapshotMirror interface {
	Save(ctx context.Context, snapshot *domain.BookSnapshot) error
}

// MatchingCommandService 执行一次撮合尝试。
//
// 顺序固定为：捕获最佳挂单 → 深度校验 → 结算（资金校验先于簿变更提交）→
// 簿变更与订单日志提交。买单要么与单张挂单全量成交，要么整体失败，
// 不跨档位扫单。
type MatchingCommandService struct {
	books   *domain.BookStore
	orders  orderdomain.OrderRepository
	settler Settler
	mirror  SnapshotMirror
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewMatchingCommandService 构造函数。mirror 可为 nil。
func NewMatchingCommandService(
	books *domain.BookStore,
	orders orderdomain.OrderRepository,
	settler Settler,
	mirror SnapshotMirror,
	m *metrics.Metrics,
	logger *slog.Logger,
) *MatchingCommandService {
	return &MatchingCommandService{
		books:   books,
		orders:  orders,
		settler: settler,
		mirror:  mirror,
		metrics: m,
		logger:  logger,
	}
}

// ProcessRequest 处理一条撮合请求。
// 返回错误表示基础设施故障，调用方不应确认消息，等待重新投递；
// 重试总是基于当时的簿与账本状态重新评估，不重放旧效果。
func (s *MatchingCommandService) ProcessRequest(ctx context.Context, req *domain.MatchRequest) (*domain.MatchResult, error) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.MatchDuration.Observe(time.Since(start).Seconds())
		}
	}()

	// 幂等重试保护：订单已到终态说明之前的投递已经生效，
	// 直接从持久状态重建结果，绝不重复结算
	order, err := s.orders.Get(ctx, req.OrderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load buy order %s: %w", req.OrderID, err)
	}
	if order.Status.IsTerminal() {
		s.logger.InfoContext(ctx, "match request redelivered for terminal order",
			"order_id", req.OrderID, "status", order.Status)
		return resultFromOrder(order, req), nil
	}

	result, err := s.matchOnce(ctx, req)
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		outcome := "matched"
		if !result.Matched {
			outcome = string(result.Reason)
		}
		s.metrics.MatchesTotal.WithLabelValues(outcome).Inc()
		s.metrics.RestingOrders.WithLabelValues(req.Instrument).Set(float64(s.books.Size(req.Instrument)))
	}
	s.saveSnapshot(ctx, req.Instrument)

	return result, nil
}

func (s *MatchingCommandService) matchOnce(ctx context.Context, req *domain.MatchRequest) (*domain.MatchResult, error) {
	entry, ok := s.books.CaptureBest(req.Instrument)
	if !ok {
		return s.reject(ctx, req, domain.ReasonNoLiquidity)
	}

	// 不跨档位扫单：最佳挂单深度不足则整体失败
	if entry.Quantity < req.Quantity {
		s.books.Restore(req.Instrument, entry)
		return s.reject(ctx, req, domain.ReasonInsufficientDepth)
	}

	// 资金校验与结算先于簿变更提交；失败时挂单按原序号原位放回
	tradeID, err := s.settler.Settle(ctx,
		req.AccountID, entry.AccountID,
		req.OrderID, entry.OrderID,
		req.Instrument, req.Quantity, entry.Price,
	)
	if err != nil {
		s.books.Restore(req.Instrument, entry)
		if errors.Is(err, ledgerdomain.ErrInsufficientFunds) {
			return s.reject(ctx, req, domain.ReasonInsufficientFunds)
		}
		return nil, fmt.Errorf("settlement unavailable for order %s: %w", req.OrderID, err)
	}
	if s.metrics != nil {
		s.metrics.SettlementsTotal.Inc()
	}

	// 账本已提交，以下簿变更与订单日志更新必须完成；
	// 持久化失败属于致命不一致，升级告警等待人工对账，绝不回滚或重试结算
	remainder := entry.Quantity - req.Quantity
	if remainder > 0 {
		rest := *entry
		rest.Quantity = remainder
		s.books.Restore(req.Instrument, &rest)

		child := &orderdomain.Order{
			OrderID:       utils.NewOrderID(),
			AccountID:     entry.AccountID,
			Instrument:    req.Instrument,
			Side:          orderdomain.OrderSideSell,
			Type:          orderdomain.OrderTypeLimit,
			Quantity:      req.Quantity,
			Price:         entry.Price,
			Status:        orderdomain.OrderStatusCompleted,
			ParentOrderID: entry.OrderID,
			TradeID:       tradeID,
		}
		if err := s.orders.Save(ctx, child); err != nil {
			s.escalate(ctx, req, tradeID, "failed to persist child order", err)
		}
		if err := s.orders.MarkPartiallyFilled(ctx, entry.OrderID, remainder); err != nil {
			s.escalate(ctx, req, tradeID, "failed to mark sell order partially filled", err)
		}
	} else {
		if err := s.orders.MarkCompleted(ctx, entry.OrderID, entry.Price, tradeID); err != nil {
			s.escalate(ctx, req, tradeID, "failed to mark sell order completed", err)
		}
	}

	if err := s.orders.MarkCompleted(ctx, req.OrderID, entry.Price, tradeID); err != nil {
		s.escalate(ctx, req, tradeID, "failed to mark buy order completed", err)
	}

	return &domain.MatchResult{
		OrderID:    req.OrderID,
		Instrument: req.Instrument,
		Matched:    true,
		Price:      entry.Price,
		Quantity:   req.Quantity,
		TradeID:    tradeID,
	}, nil
}

// reject 买单未能成交：按既定策略自动取消（买方资金从未被占用，无需退款）
func (s *MatchingCommandService) reject(ctx context.Context, req *domain.MatchRequest, reason domain.FailureReason) (*domain.MatchResult, error) {
	if err := s.orders.MarkCancelled(ctx, req.OrderID); err != nil &&
		!errors.Is(err, orderdomain.ErrNotCancellable) {
		return nil, fmt.Errorf("failed to cancel unmatched buy order %s: %w", req.OrderID, err)
	}
	return &domain.MatchResult{
		OrderID:    req.OrderID,
		Instrument: req.Instrument,
		Matched:    false,
		Reason:     reason,
	}, nil
}

// escalate 结算已提交但后续持久化失败，系统不变量被破坏
func (s *MatchingCommandService) escalate(ctx context.Context, req *domain.MatchRequest, tradeID, msg string, err error) {
	if s.metrics != nil {
		s.metrics.SettlementInconsistencies.Inc()
	}
	s.logger.ErrorContext(ctx, "SETTLEMENT INCONSISTENCY: "+msg,
		"order_id", req.OrderID,
		"trade_id", tradeID,
		"instrument", req.Instrument,
		"error", err,
	)
}

func (s *MatchingCommandService) saveSnapshot(ctx context.Context, instrument string) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.Save(ctx, s.books.Snapshot(instrument, 20)); err != nil {
		s.logger.WarnContext(ctx, "failed to mirror order book snapshot",
			"instrument", instrument, "error", err)
	}
}

// resultFromOrder 从订单的持久状态重建撮合结果（重复投递场景）
func resultFromOrder(order *orderdomain.Order, req *domain.MatchRequest) *domain.MatchResult {
	if order.Status == orderdomain.OrderStatusCompleted {
		return &domain.MatchResult{
			OrderID:    order.OrderID,
			Instrument: order.Instrument,
			Matched:    true,
			Price:      order.Price,
			Quantity:   order.Quantity,
			TradeID:    order.TradeID,
		}
	}
	return &domain.MatchResult{
		OrderID:    order.OrderID,
		Instrument: order.Instrument,
		Matched:    false,
		Reason:     domain.ReasonAlreadyFinalized,
	}
}
