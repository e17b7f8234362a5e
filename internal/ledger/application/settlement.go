// Package application 资金账本的应用服务
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/wyfcoding/daytrading/internal/ledger/domain"
	"github.com/wyfcoding/daytrading/pkg/utils"
)

// SettlementService 负责一笔成交的资金与持仓结算。
// 单笔结算在一个事务内完成：买方扣款（条件校验）、卖方入账、买方加仓、追加成交记录。
// 卖方持仓不在此处扣减：卖出数量已在下单时预留。
type SettlementService struct {
	repo   domain.LedgerRepository
	logger *slog.Logger
}

// NewSettlementService 构造函数。
func NewSettlementService(repo domain.LedgerRepository, logger *slog.Logger) *SettlementService {
	return &SettlementService{repo: repo, logger: logger}
}

// Settle 结算一笔成交，返回成交 ID 作为结算引用。
// 买方余额不足时返回 domain.ErrInsufficientFunds，且不产生任何变更。
func (s *SettlementService) Settle(ctx context.Context, buyAccountID, sellAccountID, buyOrderID, sellOrderID, instrument string, quantity int64, price decimal.Decimal) (string, error) {
	amount := price.Mul(decimal.NewFromInt(quantity))
	tradeID := utils.NewTradeID()

	err := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		if err := s.repo.ApplyBalanceDelta(txCtx, buyAccountID, amount.Neg()); err != nil {
			return err
		}
		if err := s.repo.ApplyBalanceDelta(txCtx, sellAccountID, amount); err != nil {
			return err
		}
		if err := s.repo.ApplyPositionDelta(txCtx, buyAccountID, instrument, quantity); err != nil {
			return err
		}
		return s.repo.SaveTrade(txCtx, &domain.Trade{
			TradeID:       tradeID,
			BuyOrderID:    buyOrderID,
			SellOrderID:   sellOrderID,
			BuyAccountID:  buyAccountID,
			SellAccountID: sellAccountID,
			Instrument:    instrument,
			Quantity:      quantity,
			Price:         price,
			Amount:        amount,
		})
	})
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientFunds) {
			return "", err
		}
		s.logger.ErrorContext(ctx, "settlement failed",
			"buy_account", buyAccountID,
			"sell_account", sellAccountID,
			"instrument", instrument,
			"error", err,
		)
		return "", fmt.Errorf("failed to settle trade: %w", err)
	}

	return tradeID, nil
}

// ReserveInventory 在卖单入簿前预留卖出数量。
// 持仓不足时返回 domain.ErrInsufficientInventory。
func (s *SettlementService) ReserveInventory(ctx context.Context, accountID, instrument string, quantity int64) error {
	return s.repo.ApplyPositionDelta(ctx, accountID, instrument, -quantity)
}

// ReleaseInventory 取消卖单时将预留数量退回持仓。
func (s *SettlementService) ReleaseInventory(ctx context.Context, accountID, instrument string, quantity int64) error {
	return s.repo.ApplyPositionDelta(ctx, accountID, instrument, quantity)
}

// Deposit 钱包充值；账户钱包不存在时自动创建。
func (s *SettlementService) Deposit(ctx context.Context, accountID string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("deposit amount must be positive, got %s", amount)
	}
	if err := s.repo.CreateWallet(ctx, accountID); err != nil {
		return err
	}
	return s.repo.ApplyBalanceDelta(ctx, accountID, amount)
}

// WalletBalance 查询余额。
func (s *SettlementService) WalletBalance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	wallet, err := s.repo.GetWallet(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	return wallet.Balance, nil
}

// Portfolio 查询账户全部持仓。
func (s *SettlementService) Portfolio(ctx context.Context, accountID string) ([]*domain.Position, error) {
	return s.repo.ListPositions(ctx, accountID)
}

// TradeHistory 查询账户相关成交记录。
func (s *SettlementService) TradeHistory(ctx context.Context, accountID string, limit, offset int) ([]*domain.Trade, int64, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.ListTrades(ctx, accountID, limit, offset)
}
