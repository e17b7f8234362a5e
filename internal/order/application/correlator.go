package application

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	matchingdomain "github.com/wyfcoding/daytrading/internal/matching/domain"
)

// Correlator 把异步撮合结果按订单 ID 送回同步等待的下单方。
// 没有等待方的结果直接丢弃：订单的持久状态已由 Worker 更新，
// 等待方超时离开后结果不再有消费者（单一确定结局，与是否有人监听无关）。
type Correlator struct {
	mu      sync.Mutex
	waiters map[string]chan *matchingdomain.MatchResult
	logger  *slog.Logger
}

// NewCorrelator 构造函数。
func NewCorrelator(logger *slog.Logger) *Correlator {
	return &Correlator{
		waiters: make(map[string]chan *matchingdomain.MatchResult),
		logger:  logger,
	}
}

// Register 注册等待通道，必须在发布撮合请求之前调用
func (c *Correlator) Register(orderID string) <-chan *matchingdomain.MatchResult {
	ch := make(chan *matchingdomain.MatchResult, 1)
	c.mu.Lock()
	c.waiters[orderID] = ch
	c.mu.Unlock()
	return ch
}

// Forget 放弃等待（超时或发布失败）
func (c *Correlator) Forget(orderID string) {
	c.mu.Lock()
	delete(c.waiters, orderID)
	c.mu.Unlock()
}

// Deliver 投递结果给等待方，无人等待时返回 false
func (c *Correlator) Deliver(result *matchingdomain.MatchResult) bool {
	c.mu.Lock()
	ch, ok := c.waiters[result.OrderID]
	if ok {
		delete(c.waiters, result.OrderID)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	ch <- result
	return true
}

// Run 消费撮合结果流并分发，ctx 取消时退出
func (c *Correlator) Run(ctx context.Context, source matchingdomain.ResultSource) {
	for {
		result, ack, err := source.Fetch(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			c.logger.ErrorContext(ctx, "failed to fetch match result", "error", err)
			continue
		}

		if !c.Deliver(result) {
			c.logger.InfoContext(ctx, "match result had no waiter, dropping",
				"order_id", result.OrderID, "matched", result.Matched)
		}
		if ack != nil {
			if err := ack(ctx); err != nil {
				c.logger.WarnContext(ctx, "failed to ack match result",
					"order_id", result.OrderID, "error", err)
			}
		}
	}
}
