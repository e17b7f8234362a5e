// Package cache 提供 Redis 客户端初始化
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wyfcoding/daytrading/pkg/logger"
)

// Config Redis 配置
type Config struct {
	Addr     string
	Password string
	DB       int
}

// NewClient 创建并校验 Redis 客户端连接
func NewClient(cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	logger.Info(context.Background(), "redis connected", "addr", cfg.Addr)
	return client, nil
}
