package application

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyfcoding/daytrading/internal/ledger/domain"
	"github.com/wyfcoding/daytrading/internal/ledger/infrastructure/persistence/memory"
)

func newService(t *testing.T) (*SettlementService, domain.LedgerRepository) {
	t.Helper()
	repo := memory.NewLedgerRepository()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewSettlementService(repo, logger), repo
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestSettleTransfersFundsAndPosition(t *testing.T) {
	svc, repo := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.Deposit(ctx, "buyer", dec("1000")))
	require.NoError(t, svc.Deposit(ctx, "seller", dec("50")))

	tradeID, err := svc.Settle(ctx, "buyer", "seller", "B-1", "S-1", "AAPL", 60, dec("10"))
	require.NoError(t, err)
	assert.NotEmpty(t, tradeID)

	buyerBalance, err := svc.WalletBalance(ctx, "buyer")
	require.NoError(t, err)
	assert.True(t, buyerBalance.Equal(dec("400")), "got %s", buyerBalance)

	sellerBalance, err := svc.WalletBalance(ctx, "seller")
	require.NoError(t, err)
	assert.True(t, sellerBalance.Equal(dec("650")), "got %s", sellerBalance)

	position, err := repo.GetPosition(ctx, "buyer", "AAPL")
	require.NoError(t, err)
	require.NotNil(t, position)
	assert.Equal(t, int64(60), position.Quantity)

	trades, total, err := svc.TradeHistory(ctx, "buyer", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, trades, 1)
	assert.Equal(t, tradeID, trades[0].TradeID)
	assert.Equal(t, "B-1", trades[0].BuyOrderID)
	assert.Equal(t, "S-1", trades[0].SellOrderID)
	assert.True(t, trades[0].Amount.Equal(dec("600")))
}

func TestSettleInsufficientFundsLeavesNoTrace(t *testing.T) {
	svc, repo := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.Deposit(ctx, "buyer", dec("100")))
	require.NoError(t, svc.Deposit(ctx, "seller", dec("50")))

	_, err := svc.Settle(ctx, "buyer", "seller", "B-1", "S-1", "AAPL", 60, dec("10"))
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	buyerBalance, err := svc.WalletBalance(ctx, "buyer")
	require.NoError(t, err)
	assert.True(t, buyerBalance.Equal(dec("100")))

	sellerBalance, err := svc.WalletBalance(ctx, "seller")
	require.NoError(t, err)
	assert.True(t, sellerBalance.Equal(dec("50")))

	position, err := repo.GetPosition(ctx, "buyer", "AAPL")
	require.NoError(t, err)
	assert.Nil(t, position)

	_, total, err := svc.TradeHistory(ctx, "buyer", 10, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestSettleRollsBackOnMissingSellerWallet(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.Deposit(ctx, "buyer", dec("1000")))

	_, err := svc.Settle(ctx, "buyer", "ghost", "B-1", "S-1", "AAPL", 10, dec("10"))
	require.Error(t, err)

	// 买方扣款必须随事务回滚
	buyerBalance, err := svc.WalletBalance(ctx, "buyer")
	require.NoError(t, err)
	assert.True(t, buyerBalance.Equal(dec("1000")))
}

func TestReserveAndReleaseInventory(t *testing.T) {
	svc, repo := newService(t)
	ctx := context.Background()

	require.NoError(t, repo.ApplyPositionDelta(ctx, "seller", "AAPL", 100))

	require.NoError(t, svc.ReserveInventory(ctx, "seller", "AAPL", 60))
	position, err := repo.GetPosition(ctx, "seller", "AAPL")
	require.NoError(t, err)
	require.NotNil(t, position)
	assert.Equal(t, int64(40), position.Quantity)

	err = svc.ReserveInventory(ctx, "seller", "AAPL", 50)
	require.ErrorIs(t, err, domain.ErrInsufficientInventory)

	require.NoError(t, svc.ReleaseInventory(ctx, "seller", "AAPL", 60))
	position, err = repo.GetPosition(ctx, "seller", "AAPL")
	require.NoError(t, err)
	require.NotNil(t, position)
	assert.Equal(t, int64(100), position.Quantity)
}

func TestDepositValidation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	assert.Error(t, svc.Deposit(ctx, "buyer", dec("0")))
	assert.Error(t, svc.Deposit(ctx, "buyer", dec("-5")))

	require.NoError(t, svc.Deposit(ctx, "buyer", dec("25")))
	require.NoError(t, svc.Deposit(ctx, "buyer", dec("25")))
	balance, err := svc.WalletBalance(ctx, "buyer")
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("50")))
}

func TestWalletBalanceUnknownAccount(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.WalletBalance(context.Background(), "nobody")
	assert.ErrorIs(t, err, domain.ErrWalletNotFound)
}
