// ExchangeService 主程序
// 功能：订单接入、订单簿撮合、资金持仓结算的交易核心
// 架构：基于 DDD + 异步撮合管道 + 同步结果关联
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	ledgerapp "github.com/wyfcoding/daytrading/internal/ledger/application"
	ledgerdomain "github.com/wyfcoding/daytrading/internal/ledger/domain"
	ledgermemory "github.com/wyfcoding/daytrading/internal/ledger/infrastructure/persistence/memory"
	ledgermysql "github.com/wyfcoding/daytrading/internal/ledger/infrastructure/persistence/mysql"
	matchingapp "github.com/wyfcoding/daytrading/internal/matching/application"
	matchingdomain "github.com/wyfcoding/daytrading/internal/matching/domain"
	matchingredis "github.com/wyfcoding/daytrading/internal/matching/infrastructure/persistence/redis"
	"github.com/wyfcoding/daytrading/internal/matching/infrastructure/queue"
	matchinghttp "github.com/wyfcoding/daytrading/internal/matching/interfaces/http"
	orderapp "github.com/wyfcoding/daytrading/internal/order/application"
	orderdomain "github.com/wyfcoding/daytrading/internal/order/domain"
	ordermemory "github.com/wyfcoding/daytrading/internal/order/infrastructure/persistence/memory"
	ordermysql "github.com/wyfcoding/daytrading/internal/order/infrastructure/persistence/mysql"
	orderhttp "github.com/wyfcoding/daytrading/internal/order/interfaces/http"
	"github.com/wyfcoding/daytrading/pkg/cache"
	"github.com/wyfcoding/daytrading/pkg/config"
	"github.com/wyfcoding/daytrading/pkg/db"
	"github.com/wyfcoding/daytrading/pkg/logger"
	"github.com/wyfcoding/daytrading/pkg/metrics"
	"github.com/wyfcoding/daytrading/pkg/middleware"
	"github.com/wyfcoding/daytrading/pkg/mq"
	"github.com/wyfcoding/daytrading/pkg/ratelimit"
)

func main() {
	configPath := flag.String("config", "configs/config.toml", "配置文件路径")
	flag.Parse()

	// 1. 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	if err := logger.Init(cfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	log := logger.Get()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info(ctx, "Starting ExchangeService",
		"service", cfg.ServiceName,
		"environment", cfg.Environment,
		"instruments", cfg.Matching.Instruments,
	)

	// 3. 初始化仓储（dev 环境无数据库时使用内存实现）
	var (
		orderRepo  orderdomain.OrderRepository
		ledgerRepo ledgerdomain.LedgerRepository
		database   *db.DB
	)
	if cfg.Database.DSN != "" {
		database, err = db.Init(db.Config{
			Driver:             cfg.Database.Driver,
			DSN:                cfg.Database.DSN,
			MaxOpenConns:       cfg.Database.MaxOpenConns,
			MaxIdleConns:       cfg.Database.MaxIdleConns,
			ConnMaxLifetime:    cfg.Database.ConnMaxLifetime,
			LogEnabled:         cfg.Database.LogEnabled,
			SlowQueryThreshold: cfg.Database.SlowQueryThreshold,
		})
		if err != nil {
			logger.Error(ctx, "Failed to initialize database", "error", err)
			os.Exit(1)
		}
		defer database.Close()

		if err := database.AutoMigrate(
			&orderdomain.Order{},
			&ledgerdomain.Wallet{},
			&ledgerdomain.Position{},
			&ledgerdomain.Trade{},
		); err != nil {
			logger.Error(ctx, "Failed to migrate database schema", "error", err)
			os.Exit(1)
		}

		orderRepo = ordermysql.NewOrderRepository(database.DB)
		ledgerRepo = ledgermysql.NewLedgerRepository(database.DB)
	} else {
		logger.Warn(ctx, "no database configured, using in-memory repositories")
		orderRepo = ordermemory.NewOrderRepository()
		ledgerRepo = ledgermemory.NewLedgerRepository()
	}

	// 4. 初始化指标
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(cfg.ServiceName)
		go m.ExposeHTTP(cfg.Metrics.Port)
	}

	// 5. Redis（订单簿快照镜像与限流，可选）
	var (
		mirror      *matchingredis.OrderBookRedisRepository
		redisClient *redis.Client
	)
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewClient(cache.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			logger.Error(ctx, "Failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		mirror = matchingredis.NewOrderBookRedisRepository(redisClient)
	}

	// 6. 撮合消息通道
	var broker matchingdomain.Broker
	if cfg.Kafka.Enabled {
		broker = queue.NewKafkaBroker(mq.KafkaConfig{
			Brokers:      cfg.Kafka.Brokers,
			GroupID:      cfg.Kafka.GroupID,
			MaxRetries:   cfg.Kafka.MaxRetries,
			RetryBackoff: cfg.Kafka.RetryBackoff,
		})
	} else {
		broker = queue.NewMemoryBroker()
	}
	defer broker.Close()

	// 7. 组装应用服务
	books := matchingdomain.NewBookStore()
	settlement := ledgerapp.NewSettlementService(ledgerRepo, log)

	var snapshotMirror matchingapp.SnapshotMirror
	var mirrorReader matchingapp.SnapshotMirrorReader
	if mirror != nil {
		snapshotMirror = mirror
		mirrorReader = mirror
	}
	matchingSvc := matchingapp.NewMatchingCommandService(books, orderRepo, settlement, snapshotMirror, m, log)
	matchingQuery := matchingapp.NewMatchingQueryService(books, mirrorReader)
	workers := matchingapp.NewWorkerPool(broker, matchingSvc, cfg.Matching.Instruments, cfg.Matching.WorkersPerInstrument, log)

	correlator := orderapp.NewCorrelator(log)
	resultTimeout := time.Duration(cfg.Matching.ResultTimeout) * time.Millisecond
	intake := orderapp.NewIntakeService(orderRepo, books, broker, settlement, correlator, resultTimeout, m, log)

	// 8. 创建 HTTP 服务器
	if cfg.Environment == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.Logging(), middleware.Recovery(), middleware.CORS())
	if cfg.HTTP.RateLimitPerSecond > 0 && redisClient != nil {
		limiter := ratelimit.NewRedisRateLimiter(redisClient)
		limit := ratelimit.Limit{
			Rate:   cfg.HTTP.RateLimitPerSecond,
			Period: time.Second,
			Burst:  cfg.HTTP.RateLimitPerSecond * 2,
		}
		router.Use(middleware.RateLimit(limiter, limit, func(c *gin.Context) string {
			if accountID := c.GetHeader("X-Account-ID"); accountID != "" {
				return accountID
			}
			return c.ClientIP()
		}))
	}
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	orderhttp.NewOrderHandler(intake, settlement).RegisterRoutes(router)
	matchinghttp.NewMatchingHandler(matchingQuery).RegisterRoutes(router)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
	}

	// 9. 启动撮合 Worker 与结果关联器
	workers.Start(ctx)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		correlator.Run(gctx, broker.Results())
		return nil
	})
	g.Go(func() error {
		logger.Info(gctx, "HTTP server starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error(ctx, "service terminated with error", "error", err)
	}
	workers.Wait()
	logger.Info(context.Background(), "ExchangeService stopped")
}
