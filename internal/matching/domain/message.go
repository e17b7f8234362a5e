package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// FailureReason 撮合失败原因
type FailureReason string

const (
	// ReasonNoLiquidity 簿空，无可成交挂单
	ReasonNoLiquidity FailureReason = "NO_LIQUIDITY"
	// ReasonInsufficientDepth 最佳挂单深度不足以全量成交
	ReasonInsufficientDepth FailureReason = "INSUFFICIENT_DEPTH"
	// ReasonInsufficientFunds 买方余额不足
	ReasonInsufficientFunds FailureReason = "INSUFFICIENT_FUNDS"
	// ReasonAlreadyFinalized 重复投递时订单已是终态，原始失败原因不再可得
	ReasonAlreadyFinalized FailureReason = "ALREADY_FINALIZED"
)

// MatchRequest 撮合请求，携带完整买单信息
// 以订单 ID 作为关联键，投递语义为 at-least-once
type MatchRequest struct {
	OrderID    string `json:"order_id"`
	AccountID  string `json:"account_id"`
	Instrument string `json:"instrument"`
	Quantity   int64  `json:"quantity"`
}

// MatchResult 撮合结果，以原始订单 ID 关联回等待的下单方
type MatchResult struct {
	OrderID    string          `json:"order_id"`
	Instrument string          `json:"instrument"`
	Matched    bool            `json:"matched"`
	Price      decimal.Decimal `json:"price"`
	Quantity   int64           `json:"quantity"`
	TradeID    string          `json:"trade_id,omitempty"`
	Reason     FailureReason   `json:"reason,omitempty"`
}

// AckFunc 消费确认。仅在结果持久发布之后调用；
// Worker 在确认前崩溃会导致请求重新投递并从头重试。
type AckFunc func(ctx context.Context) error

// Broker 撮合消息通道抽象：按标的划分的请求队列与统一的结果流
type Broker interface {
	// PublishRequest 发布撮合请求到对应标的的队列
	PublishRequest(ctx context.Context, req *MatchRequest) error
	// PublishResult 发布撮合结果
	PublishResult(ctx context.Context, result *MatchResult) error
	// Requests 获取某标的的请求消费端
	Requests(instrument string) RequestSource
	// Results 获取结果消费端
	Results() ResultSource
	// Close 释放底层连接
	Close() error
}

// RequestSource 撮合请求消费端
type RequestSource interface {
	// Fetch 阻塞拉取下一条请求；ctx 取消时返回其错误
	Fetch(ctx context.Context) (*MatchRequest, AckFunc, error)
}

// ResultSource 撮合结果消费端
type ResultSource interface {
	Fetch(ctx context.Context) (*MatchResult, AckFunc, error)
}
