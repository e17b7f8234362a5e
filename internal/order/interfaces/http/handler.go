// Package http 订单服务的 HTTP 处理器
package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	ledgerapp "github.com/wyfcoding/daytrading/internal/ledger/application"
	ledgerdomain "github.com/wyfcoding/daytrading/internal/ledger/domain"
	"github.com/wyfcoding/daytrading/internal/order/application"
	"github.com/wyfcoding/daytrading/internal/order/domain"
	"github.com/wyfcoding/daytrading/pkg/logger"
)

const accountHeader = "X-Account-ID"

// AccountAuth 从请求头解析账户身份。
// 网关完成认证后透传账户 ID，缺失时拒绝请求。
func AccountAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.GetHeader(accountHeader)
		if accountID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing account identity"})
			return
		}
		c.Set("account_id", accountID)
		c.Next()
	}
}

func accountID(c *gin.Context) string {
	return c.GetString("account_id")
}

// OrderHandler HTTP 处理器
// 负责处理下单、撤单与账户资产相关的 HTTP 请求
type OrderHandler struct {
	intake     *application.IntakeService
	settlement *ledgerapp.SettlementService
}

// NewOrderHandler 创建 HTTP 处理器
func NewOrderHandler(intake *application.IntakeService, settlement *ledgerapp.SettlementService) *OrderHandler {
	return &OrderHandler{
		intake:     intake,
		settlement: settlement,
	}
}

// RegisterRoutes 注册路由
func (h *OrderHandler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1", AccountAuth())
	{
		api.POST("/orders", h.PlaceOrder)
		api.GET("/orders", h.ListOrders)
		api.GET("/orders/:order_id", h.GetOrder)
		api.DELETE("/orders/:order_id", h.CancelOrder)

		api.GET("/wallet", h.GetWallet)
		api.POST("/wallet/deposit", h.Deposit)
		api.GET("/portfolio", h.GetPortfolio)
		api.GET("/trades", h.GetTrades)
	}
}

// PlaceOrderRequest 下单请求体
type PlaceOrderRequest struct {
	Instrument string `json:"instrument" binding:"required"`
	Side       string `json:"side" binding:"required"`
	Quantity   int64  `json:"quantity" binding:"required"`
	Price      string `json:"price"`
}

// PlaceOrder 下单
func (h *OrderHandler) PlaceOrder(c *gin.Context) {
	var req PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	price := decimal.Zero
	if req.Price != "" {
		var err error
		price, err = decimal.NewFromString(req.Price)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid price"})
			return
		}
	}

	result, err := h.intake.PlaceOrder(c.Request.Context(), application.PlaceOrderCommand{
		AccountID:  accountID(c),
		Instrument: req.Instrument,
		Side:       domain.OrderSide(req.Side),
		Quantity:   req.Quantity,
		Price:      price,
	})
	if err != nil {
		logger.Error(c.Request.Context(), "failed to place order", "error", err)
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order":   result.Order,
		"matched": result.Matched,
		"reason":  result.Reason,
	})
}

// GetOrder 查询订单
func (h *OrderHandler) GetOrder(c *gin.Context) {
	order, err := h.intake.GetOrder(c.Request.Context(), accountID(c), c.Param("order_id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, order)
}

// ListOrders 查询账户订单列表
func (h *OrderHandler) ListOrders(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	orders, total, err := h.intake.ListOrders(c.Request.Context(), accountID(c), limit, offset)
	if err != nil {
		logger.Error(c.Request.Context(), "failed to list orders", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": orders, "total": total})
}

// CancelOrder 撤销在簿卖单
func (h *OrderHandler) CancelOrder(c *gin.Context) {
	order, err := h.intake.CancelOrder(c.Request.Context(), accountID(c), c.Param("order_id"))
	if err != nil {
		logger.Warn(c.Request.Context(), "failed to cancel order",
			"order_id", c.Param("order_id"), "error", err)
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, order)
}

// GetWallet 查询钱包余额
func (h *OrderHandler) GetWallet(c *gin.Context) {
	balance, err := h.settlement.WalletBalance(c.Request.Context(), accountID(c))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"account_id": accountID(c), "balance": balance})
}

// DepositRequest 充值请求体
type DepositRequest struct {
	Amount string `json:"amount" binding:"required"`
}

// Deposit 钱包充值
func (h *OrderHandler) Deposit(c *gin.Context) {
	var req DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be a positive number"})
		return
	}

	if err := h.settlement.Deposit(c.Request.Context(), accountID(c), amount); err != nil {
		logger.Error(c.Request.Context(), "failed to deposit", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	balance, err := h.settlement.WalletBalance(c.Request.Context(), accountID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"account_id": accountID(c), "balance": balance})
}

// GetPortfolio 查询账户持仓
func (h *OrderHandler) GetPortfolio(c *gin.Context) {
	positions, err := h.settlement.Portfolio(c.Request.Context(), accountID(c))
	if err != nil {
		logger.Error(c.Request.Context(), "failed to get portfolio", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": positions})
}

// GetTrades 查询账户成交历史
func (h *OrderHandler) GetTrades(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	trades, total, err := h.settlement.TradeHistory(c.Request.Context(), accountID(c), limit, offset)
	if err != nil {
		logger.Error(c.Request.Context(), "failed to get trades", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": trades, "total": total})
}

// statusFor 业务错误到 HTTP 状态码的映射
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, ledgerdomain.ErrWalletNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyMatched),
		errors.Is(err, domain.ErrNotCancellable):
		return http.StatusConflict
	case errors.Is(err, ledgerdomain.ErrInsufficientFunds),
		errors.Is(err, ledgerdomain.ErrInsufficientInventory):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrMatchTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
