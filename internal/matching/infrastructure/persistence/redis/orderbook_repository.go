// Package redis 订单簿快照镜像
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wyfcoding/daytrading/internal/matching/domain"
)

// OrderBookRedisRepository 将内存订单簿快照镜像到 Redis，供行情读路径使用。
// 快照短 TTL，过期后读方回退到内存簿。
type OrderBookRedisRepository struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewOrderBookRedisRepository 构造函数。
func NewOrderBookRedisRepository(client redis.UniversalClient) *OrderBookRedisRepository {
	return &OrderBookRedisRepository{
		client: client,
		prefix: "matching:orderbook:",
		ttl:    2 * time.Second,
	}
}

// Save 写入快照
func (r *OrderBookRedisRepository) Save(ctx context.Context, snapshot *domain.BookSnapshot) error {
	if snapshot == nil {
		return nil
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal orderbook snapshot: %w", err)
	}
	return r.client.Set(ctx, r.prefix+snapshot.Instrument, data, r.ttl).Err()
}

// Get 读取快照，不存在返回 nil
func (r *OrderBookRedisRepository) Get(ctx context.Context, instrument string) (*domain.BookSnapshot, error) {
	data, err := r.client.Get(ctx, r.prefix+instrument).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get orderbook snapshot from redis: %w", err)
	}
	var snapshot domain.BookSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal orderbook snapshot: %w", err)
	}
	return &snapshot, nil
}
