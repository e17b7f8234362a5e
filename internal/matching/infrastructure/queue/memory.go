// Package queue 撮合消息通道实现
package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/wyfcoding/daytrading/internal/matching/domain"
)

const channelCapacity = 1024

// memoryBroker 进程内通道实现，用于 dev 环境与测试。
// 每个标的一条请求通道，结果汇入单一通道。
type memoryBroker struct {
	mu       sync.Mutex
	requests map[string]chan *domain.MatchRequest
	results  chan *domain.MatchResult
}

// NewMemoryBroker 创建进程内撮合消息通道
func NewMemoryBroker() domain.Broker {
	return &memoryBroker{
		requests: make(map[string]chan *domain.MatchRequest),
		results:  make(chan *domain.MatchResult, channelCapacity),
	}
}

func (b *memoryBroker) requestChan(instrument string) chan *domain.MatchRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.requests[instrument]
	if !ok {
		ch = make(chan *domain.MatchRequest, channelCapacity)
		b.requests[instrument] = ch
	}
	return ch
}

// PublishRequest 发布撮合请求
func (b *memoryBroker) PublishRequest(ctx context.Context, req *domain.MatchRequest) error {
	select {
	case b.requestChan(req.Instrument) <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("request queue full for instrument %s", req.Instrument)
	}
}

// PublishResult 发布撮合结果
func (b *memoryBroker) PublishResult(ctx context.Context, result *domain.MatchResult) error {
	select {
	case b.results <- result:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Requests 获取某标的的请求消费端
func (b *memoryBroker) Requests(instrument string) domain.RequestSource {
	return &memoryRequestSource{ch: b.requestChan(instrument)}
}

// Results 获取结果消费端
func (b *memoryBroker) Results() domain.ResultSource {
	return &memoryResultSource{ch: b.results}
}

// Close 进程内实现无需释放资源
func (b *memoryBroker) Close() error {
	return nil
}

type memoryRequestSource struct {
	ch chan *domain.MatchRequest
}

func (s *memoryRequestSource) Fetch(ctx context.Context) (*domain.MatchRequest, domain.AckFunc, error) {
	select {
	case req := <-s.ch:
		return req, nil, nil
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

type memoryResultSource struct {
	ch chan *domain.MatchResult
}

func (s *memoryResultSource) Fetch(ctx context.Context) (*domain.MatchResult, domain.AckFunc, error) {
	select {
	case result := <-s.ch:
		return result, nil, nil
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}
