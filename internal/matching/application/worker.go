package application

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/wyfcoding/daytrading/internal/matching/domain"
)

// WorkerPool 每个标的一组固定数量的撮合 Worker。
// 同一标的内的簿变更由 BookStore 的标的锁串行化，跨标的水平扩展。
//
// Worker 循环：拉取请求 → 撮合 → 发布结果 → 确认。
// 确认只在结果发布成功之后进行，Worker 在确认前崩溃会导致请求重新投递，
// 重试基于当时的簿与账本状态从头评估（见 ProcessRequest 的幂等保护）。
type WorkerPool struct {
	broker      domain.Broker
	svc         *MatchingCommandService
	instruments []string
	perInstr    int
	logger      *slog.Logger

	wg sync.WaitGroup
}

// NewWorkerPool 构造函数。
func NewWorkerPool(broker domain.Broker, svc *MatchingCommandService, instruments []string, workersPerInstrument int, logger *slog.Logger) *WorkerPool {
	if workersPerInstrument <= 0 {
		workersPerInstrument = 1
	}
	return &WorkerPool{
		broker:      broker,
		svc:         svc,
		instruments: instruments,
		perInstr:    workersPerInstrument,
		logger:      logger,
	}
}

// Start 启动全部 Worker，ctx 取消时退出。
// 每个 Worker 持有独立的消费端：Kafka 提交偏移量会覆盖其下全部消息，
// 共享消费端时一个 Worker 的确认会吞掉另一个 Worker 未确认的请求。
func (p *WorkerPool) Start(ctx context.Context) {
	for _, instrument := range p.instruments {
		for i := 0; i < p.perInstr; i++ {
			p.wg.Add(1)
			go p.run(ctx, instrument, p.broker.Requests(instrument))
		}
	}
	p.logger.InfoContext(ctx, "matching workers started",
		"instruments", len(p.instruments),
		"workers_per_instrument", p.perInstr,
	)
}

// Wait 等待全部 Worker 退出
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}

func (p *WorkerPool) run(ctx context.Context, instrument string, source domain.RequestSource) {
	defer p.wg.Done()

	for {
		req, ack, err := source.Fetch(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			p.logger.ErrorContext(ctx, "failed to fetch match request",
				"instrument", instrument, "error", err)
			continue
		}

		result, err := p.svc.ProcessRequest(ctx, req)
		if err != nil {
			// 不确认，等待重新投递
			p.logger.ErrorContext(ctx, "match attempt failed, leaving request unacked",
				"order_id", req.OrderID, "error", err)
			continue
		}

		if err := p.broker.PublishResult(ctx, result); err != nil {
			p.logger.ErrorContext(ctx, "failed to publish match result, leaving request unacked",
				"order_id", req.OrderID, "error", err)
			continue
		}

		if ack != nil {
			if err := ack(ctx); err != nil {
				p.logger.WarnContext(ctx, "failed to ack match request",
					"order_id", req.OrderID, "error", err)
			}
		}
	}
}
