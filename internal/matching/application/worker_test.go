package application

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wyfcoding/daytrading/internal/matching/domain"
	"github.com/wyfcoding/daytrading/internal/matching/infrastructure/queue"
)

// sourceCountingBroker 统计每个标的被创建的消费端数量
type sourceCountingBroker struct {
	domain.Broker
	mu    sync.Mutex
	calls map[string]int
}

func (b *sourceCountingBroker) Requests(instrument string) domain.RequestSource {
	b.mu.Lock()
	b.calls[instrument]++
	b.mu.Unlock()
	return b.Broker.Requests(instrument)
}

// 每个 Worker 必须持有独立的消费端，确认互不影响
func TestEachWorkerOwnsItsSource(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	broker := &sourceCountingBroker{
		Broker: queue.NewMemoryBroker(),
		calls:  make(map[string]int),
	}
	f := newFixture(t)
	pool := NewWorkerPool(broker, f.svc, []string{"AAPL", "GOOG"}, 3, logger)

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	cancel()
	pool.Wait()

	broker.mu.Lock()
	defer broker.mu.Unlock()
	assert.Equal(t, 3, broker.calls["AAPL"])
	assert.Equal(t, 3, broker.calls["GOOG"])
}
