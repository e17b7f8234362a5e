package application

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ledgerapp "github.com/wyfcoding/daytrading/internal/ledger/application"
	ledgerdomain "github.com/wyfcoding/daytrading/internal/ledger/domain"
	ledgermemory "github.com/wyfcoding/daytrading/internal/ledger/infrastructure/persistence/memory"
	matchingapp "github.com/wyfcoding/daytrading/internal/matching/application"
	matchingdomain "github.com/wyfcoding/daytrading/internal/matching/domain"
	"github.com/wyfcoding/daytrading/internal/matching/infrastructure/queue"
	"github.com/wyfcoding/daytrading/internal/order/domain"
	ordermemory "github.com/wyfcoding/daytrading/internal/order/infrastructure/persistence/memory"
)

type exchange struct {
	intake *IntakeService
	books  *matchingdomain.BookStore
	orders domain.OrderRepository
	ledger ledgerdomain.LedgerRepository
	settle *ledgerapp.SettlementService
}

// newExchange 组装完整的进程内交易核心：内存仓储、内存消息通道、
// 撮合 Worker 与结果关联器都真实运行
func newExchange(t *testing.T, instruments ...string) *exchange {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	books := matchingdomain.NewBookStore()
	orders := ordermemory.NewOrderRepository()
	ledger := ledgermemory.NewLedgerRepository()
	settle := ledgerapp.NewSettlementService(ledger, logger)
	broker := queue.NewMemoryBroker()

	matchingSvc := matchingapp.NewMatchingCommandService(books, orders, settle, nil, nil, logger)
	workers := matchingapp.NewWorkerPool(broker, matchingSvc, instruments, 1, logger)
	correlator := NewCorrelator(logger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	workers.Start(ctx)
	go correlator.Run(ctx, broker.Results())

	intake := NewIntakeService(orders, books, broker, settle, correlator, 3*time.Second, nil, logger)
	return &exchange{
		intake: intake,
		books:  books,
		orders: orders,
		ledger: ledger,
		settle: settle,
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (e *exchange) seedSeller(t *testing.T, account, instrument string, qty int64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.ledger.CreateWallet(ctx, account))
	require.NoError(t, e.ledger.ApplyPositionDelta(ctx, account, instrument, qty))
}

func (e *exchange) placeSell(t *testing.T, account, instrument, price string, qty int64) *domain.Order {
	t.Helper()
	result, err := e.intake.PlaceOrder(context.Background(), PlaceOrderCommand{
		AccountID:  account,
		Instrument: instrument,
		Side:       domain.OrderSideSell,
		Quantity:   qty,
		Price:      dec(price),
	})
	require.NoError(t, err)
	return result.Order
}

func TestPlaceSellRestsOnBook(t *testing.T) {
	e := newExchange(t, "AAPL")
	ctx := context.Background()
	e.seedSeller(t, "seller", "AAPL", 100)

	order := e.placeSell(t, "seller", "AAPL", "10", 100)
	assert.Equal(t, domain.OrderStatusInProgress, order.Status)
	assert.Equal(t, 1, e.books.Size("AAPL"))

	// 卖出数量在下单时预留
	position, err := e.ledger.GetPosition(ctx, "seller", "AAPL")
	require.NoError(t, err)
	assert.Nil(t, position)
}

func TestPlaceSellInsufficientInventory(t *testing.T) {
	e := newExchange(t, "AAPL")
	e.seedSeller(t, "seller", "AAPL", 10)

	_, err := e.intake.PlaceOrder(context.Background(), PlaceOrderCommand{
		AccountID:  "seller",
		Instrument: "AAPL",
		Side:       domain.OrderSideSell,
		Quantity:   100,
		Price:      dec("10"),
	})
	require.ErrorIs(t, err, ledgerdomain.ErrInsufficientInventory)
	assert.Equal(t, 0, e.books.Size("AAPL"))
}

func TestPlaceBuyMatchesRestingSell(t *testing.T) {
	e := newExchange(t, "AAPL")
	ctx := context.Background()
	e.seedSeller(t, "seller", "AAPL", 100)
	sell := e.placeSell(t, "seller", "AAPL", "10", 100)
	require.NoError(t, e.settle.Deposit(ctx, "buyer", dec("1000")))

	result, err := e.intake.PlaceOrder(ctx, PlaceOrderCommand{
		AccountID:  "buyer",
		Instrument: "AAPL",
		Side:       domain.OrderSideBuy,
		Quantity:   60,
	})
	require.NoError(t, err)
	require.True(t, result.Matched)
	assert.Equal(t, domain.OrderStatusCompleted, result.Order.Status)
	assert.True(t, result.Order.Price.Equal(dec("10")))
	assert.NotEmpty(t, result.Order.TradeID)

	parent, err := e.orders.Get(ctx, sell.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPartiallyFilled, parent.Status)
	assert.Equal(t, int64(40), parent.Quantity)

	buyerBalance, err := e.settle.WalletBalance(ctx, "buyer")
	require.NoError(t, err)
	assert.True(t, buyerBalance.Equal(dec("400")))

	position, err := e.ledger.GetPosition(ctx, "buyer", "AAPL")
	require.NoError(t, err)
	require.NotNil(t, position)
	assert.Equal(t, int64(60), position.Quantity)
}

func TestPlaceBuyNoLiquidity(t *testing.T) {
	e := newExchange(t, "AAPL")
	ctx := context.Background()
	require.NoError(t, e.settle.Deposit(ctx, "buyer", dec("100")))

	result, err := e.intake.PlaceOrder(ctx, PlaceOrderCommand{
		AccountID:  "buyer",
		Instrument: "AAPL",
		Side:       domain.OrderSideBuy,
		Quantity:   5,
	})
	require.NoError(t, err)
	assert.False(t, result.Matched)
	assert.Equal(t, matchingdomain.ReasonNoLiquidity, result.Reason)
	assert.Equal(t, domain.OrderStatusCancelled, result.Order.Status)

	balance, err := e.settle.WalletBalance(ctx, "buyer")
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("100")))
}

func TestPlaceBuyInsufficientFunds(t *testing.T) {
	e := newExchange(t, "AAPL")
	ctx := context.Background()
	e.seedSeller(t, "seller", "AAPL", 100)
	e.placeSell(t, "seller", "AAPL", "10", 100)
	require.NoError(t, e.settle.Deposit(ctx, "buyer", dec("50")))

	result, err := e.intake.PlaceOrder(ctx, PlaceOrderCommand{
		AccountID:  "buyer",
		Instrument: "AAPL",
		Side:       domain.OrderSideBuy,
		Quantity:   60,
	})
	require.NoError(t, err)
	assert.False(t, result.Matched)
	assert.Equal(t, matchingdomain.ReasonInsufficientFunds, result.Reason)

	// 挂单原样留在簿内
	best, ok := e.books.PeekBest("AAPL")
	require.True(t, ok)
	assert.Equal(t, int64(100), best.Quantity)
}

func TestPlaceOrderValidation(t *testing.T) {
	e := newExchange(t, "AAPL")
	ctx := context.Background()

	cases := []PlaceOrderCommand{
		{AccountID: "a", Instrument: "AAPL", Side: domain.OrderSideBuy, Quantity: 5, Price: dec("10")},
		{AccountID: "a", Instrument: "AAPL", Side: domain.OrderSideSell, Quantity: 5},
		{AccountID: "a", Instrument: "AAPL", Side: domain.OrderSideSell, Quantity: 5, Price: dec("-1")},
		{AccountID: "a", Instrument: "AAPL", Side: domain.OrderSideBuy, Quantity: 0},
		{AccountID: "a", Instrument: "", Side: domain.OrderSideBuy, Quantity: 5},
		{AccountID: "", Instrument: "AAPL", Side: domain.OrderSideBuy, Quantity: 5},
	}
	for _, cmd := range cases {
		_, err := e.intake.PlaceOrder(ctx, cmd)
		assert.ErrorIs(t, err, domain.ErrValidation, "command %+v", cmd)
	}
}

func TestCancelReleasesInventory(t *testing.T) {
	e := newExchange(t, "AAPL")
	ctx := context.Background()
	e.seedSeller(t, "seller", "AAPL", 100)
	sell := e.placeSell(t, "seller", "AAPL", "10", 100)

	cancelled, err := e.intake.CancelOrder(ctx, "seller", sell.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, 0, e.books.Size("AAPL"))

	position, err := e.ledger.GetPosition(ctx, "seller", "AAPL")
	require.NoError(t, err)
	require.NotNil(t, position)
	assert.Equal(t, int64(100), position.Quantity)
}

func TestCancelAfterFullFillLosesRace(t *testing.T) {
	e := newExchange(t, "AAPL")
	ctx := context.Background()
	e.seedSeller(t, "seller", "AAPL", 100)
	sell := e.placeSell(t, "seller", "AAPL", "10", 100)
	require.NoError(t, e.settle.Deposit(ctx, "buyer", dec("1000")))

	result, err := e.intake.PlaceOrder(ctx, PlaceOrderCommand{
		AccountID:  "buyer",
		Instrument: "AAPL",
		Side:       domain.OrderSideBuy,
		Quantity:   100,
	})
	require.NoError(t, err)
	require.True(t, result.Matched)

	_, err = e.intake.CancelOrder(ctx, "seller", sell.OrderID)
	assert.ErrorIs(t, err, domain.ErrNotCancellable)

	// 成交与退回预留不可兼得：持仓不会被退还
	position, err := e.ledger.GetPosition(ctx, "seller", "AAPL")
	require.NoError(t, err)
	assert.Nil(t, position)
}

func TestPlaceBuyTimesOutWithoutResult(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	books := matchingdomain.NewBookStore()
	orders := ordermemory.NewOrderRepository()
	ledger := ledgermemory.NewLedgerRepository()
	settle := ledgerapp.NewSettlementService(ledger, logger)
	broker := queue.NewMemoryBroker()
	correlator := NewCorrelator(logger)

	// 没有 Worker 消费请求，结果永远不会到达
	intake := NewIntakeService(orders, books, broker, settle, correlator, 50*time.Millisecond, nil, logger)
	ctx := context.Background()
	require.NoError(t, settle.Deposit(ctx, "buyer", dec("100")))

	_, err := intake.PlaceOrder(ctx, PlaceOrderCommand{
		AccountID:  "buyer",
		Instrument: "AAPL",
		Side:       domain.OrderSideBuy,
		Quantity:   5,
	})
	require.ErrorIs(t, err, domain.ErrMatchTimeout)

	// 订单结局交由撮合侧落库状态决定，此处仍为 IN_PROGRESS
	list, total, err := intake.ListOrders(ctx, "buyer", 10, 0)
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	assert.Equal(t, domain.OrderStatusInProgress, list[0].Status)

	// 等待方已注销，迟到的结果没有消费者
	delivered := correlator.Deliver(&matchingdomain.MatchResult{OrderID: list[0].OrderID, Matched: true})
	assert.False(t, delivered)
}

func TestCancelWhileMatchInFlight(t *testing.T) {
	e := newExchange(t, "AAPL")
	ctx := context.Background()
	e.seedSeller(t, "seller", "AAPL", 100)
	sell := e.placeSell(t, "seller", "AAPL", "10", 100)

	// 挂单被一次在途撮合独占捕获
	captured, ok := e.books.CaptureBest("AAPL")
	require.True(t, ok)
	require.Equal(t, sell.OrderID, captured.OrderID)

	_, err := e.intake.CancelOrder(ctx, "seller", sell.OrderID)
	require.ErrorIs(t, err, domain.ErrAlreadyMatched)

	// 取消输掉竞争时绝不退回预留持仓
	position, err := e.ledger.GetPosition(ctx, "seller", "AAPL")
	require.NoError(t, err)
	assert.Nil(t, position)

	order, err := e.orders.Get(ctx, sell.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusInProgress, order.Status)

	// 撮合失败把挂单放回后，取消可以重试并成功
	e.books.Restore("AAPL", captured)
	cancelled, err := e.intake.CancelOrder(ctx, "seller", sell.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, cancelled.Status)

	position, err = e.ledger.GetPosition(ctx, "seller", "AAPL")
	require.NoError(t, err)
	require.NotNil(t, position)
	assert.Equal(t, int64(100), position.Quantity)
}

func TestCancelUnknownOrOtherAccount(t *testing.T) {
	e := newExchange(t, "AAPL")
	ctx := context.Background()
	e.seedSeller(t, "seller", "AAPL", 100)
	sell := e.placeSell(t, "seller", "AAPL", "10", 100)

	_, err := e.intake.CancelOrder(ctx, "seller", "O-missing")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)

	_, err = e.intake.CancelOrder(ctx, "intruder", sell.OrderID)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestCancelBuyNotSupported(t *testing.T) {
	e := newExchange(t, "AAPL")
	ctx := context.Background()
	require.NoError(t, e.settle.Deposit(ctx, "buyer", dec("100")))

	result, err := e.intake.PlaceOrder(ctx, PlaceOrderCommand{
		AccountID:  "buyer",
		Instrument: "AAPL",
		Side:       domain.OrderSideBuy,
		Quantity:   5,
	})
	require.NoError(t, err)

	_, err = e.intake.CancelOrder(ctx, "buyer", result.Order.OrderID)
	assert.ErrorIs(t, err, domain.ErrNotCancellable)
}

func TestListOrdersIncludesChildren(t *testing.T) {
	e := newExchange(t, "AAPL")
	ctx := context.Background()
	e.seedSeller(t, "seller", "AAPL", 100)
	sell := e.placeSell(t, "seller", "AAPL", "10", 100)
	require.NoError(t, e.settle.Deposit(ctx, "buyer", dec("1000")))

	result, err := e.intake.PlaceOrder(ctx, PlaceOrderCommand{
		AccountID:  "buyer",
		Instrument: "AAPL",
		Side:       domain.OrderSideBuy,
		Quantity:   60,
	})
	require.NoError(t, err)
	require.True(t, result.Matched)

	orders, total, err := e.intake.ListOrders(ctx, "seller", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)

	var foundChild bool
	for _, o := range orders {
		if o.ParentOrderID == sell.OrderID {
			foundChild = true
			assert.Equal(t, domain.OrderStatusCompleted, o.Status)
			assert.Equal(t, int64(60), o.Quantity)
		}
	}
	assert.True(t, foundChild)
}
