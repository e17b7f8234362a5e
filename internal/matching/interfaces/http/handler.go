// Package http 撮合引擎的 HTTP 处理器
package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/wyfcoding/daytrading/internal/matching/application"
	"github.com/wyfcoding/daytrading/pkg/logger"
)

// MatchingHandler HTTP 处理器
// 负责订单簿行情的读请求
type MatchingHandler struct {
	query *application.MatchingQueryService
}

// NewMatchingHandler 创建 HTTP 处理器
func NewMatchingHandler(query *application.MatchingQueryService) *MatchingHandler {
	return &MatchingHandler{query: query}
}

// RegisterRoutes 注册路由
func (h *MatchingHandler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1/matching")
	{
		api.GET("/orderbook", h.GetOrderBook)
	}
}

// GetOrderBook 获取订单簿快照
func (h *MatchingHandler) GetOrderBook(c *gin.Context) {
	instrument := c.Query("instrument")
	if instrument == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "instrument is required"})
		return
	}

	depthStr := c.DefaultQuery("depth", "20")
	depth, err := strconv.Atoi(depthStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid depth"})
		return
	}

	snapshot, err := h.query.OrderBook(c.Request.Context(), instrument, depth)
	if err != nil {
		logger.Error(c.Request.Context(), "failed to get order book", "instrument", instrument, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, snapshot)
}
