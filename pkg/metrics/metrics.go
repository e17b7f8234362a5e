// Package metrics 提供 Prometheus helper，包含交易核心的业务指标
package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wyfcoding/daytrading/pkg/logger"
)

// Metrics 指标集合
type Metrics struct {
	// 下单计数（按方向与结果）
	OrdersTotal *prometheus.CounterVec
	// 撮合结果计数（matched / no_liquidity / insufficient_depth / insufficient_funds）
	MatchesTotal *prometheus.CounterVec
	// 撮合耗时
	MatchDuration prometheus.Histogram
	// 结算成功计数
	SettlementsTotal prometheus.Counter
	// 结算不一致告警计数：账本已提交但后续持久化失败，需人工对账
	SettlementInconsistencies prometheus.Counter
	// 当前各标的簿内挂单数
	RestingOrders *prometheus.GaugeVec
	// 撮合结果等待超时计数
	ResultTimeouts prometheus.Counter

	registry *prometheus.Registry
}

// New 创建指标实例
func New(serviceName string) *Metrics {
	m := &Metrics{
		OrdersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "daytrading",
			Subsystem: serviceName,
			Name:      "orders_total",
			Help:      "Total orders placed",
		}, []string{"side", "outcome"}),
		MatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "daytrading",
			Subsystem: serviceName,
			Name:      "matches_total",
			Help:      "Total match attempts by outcome",
		}, []string{"outcome"}),
		MatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "daytrading",
			Subsystem: serviceName,
			Name:      "match_duration_seconds",
			Help:      "Duration of one match attempt",
			Buckets:   prometheus.DefBuckets,
		}),
		SettlementsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "daytrading",
			Subsystem: serviceName,
			Name:      "settlements_total",
			Help:      "Total settled trades",
		}),
		SettlementInconsistencies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "daytrading",
			Subsystem: serviceName,
			Name:      "settlement_inconsistencies_total",
			Help:      "Settled trades whose order records failed to persist; needs manual reconciliation",
		}),
		RestingOrders: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "daytrading",
			Subsystem: serviceName,
			Name:      "resting_orders",
			Help:      "Resting sell orders per instrument",
		}, []string{"instrument"}),
		ResultTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "daytrading",
			Subsystem: serviceName,
			Name:      "result_timeouts_total",
			Help:      "Placement calls that gave up waiting for a match result",
		}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.OrdersTotal,
		m.MatchesTotal,
		m.MatchDuration,
		m.SettlementsTotal,
		m.SettlementInconsistencies,
		m.RestingOrders,
		m.ResultTimeouts,
	)

	return m
}

// ExposeHTTP 在给定端口暴露 /metrics
func (m *Metrics) ExposeHTTP(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	addr := fmt.Sprintf(":%d", port)
	logger.Info(context.Background(), "metrics server starting", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error(context.Background(), "metrics server stopped", "error", err)
	}
}
