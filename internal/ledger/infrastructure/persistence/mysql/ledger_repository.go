package mysql

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/wyfcoding/daytrading/internal/ledger/domain"
)

// ledgerRepository 账本仓储实现
// 所有增量操作使用条件 UPDATE 在数据库侧原子完成，同账户的并发结算由行锁串行化
type ledgerRepository struct {
	db *gorm.DB
}

// NewLedgerRepository 创建并返回一个新的 ledgerRepository 实例。
func NewLedgerRepository(db *gorm.DB) domain.LedgerRepository {
	return &ledgerRepository{db: db}
}

type txKey struct{}

func (r *ledgerRepository) getDB(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok && tx != nil {
		return tx
	}
	return r.db
}

// WithTx 在一个事务内执行 fn
func (r *ledgerRepository) WithTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// ApplyBalanceDelta 对账户余额应用带符号增量
func (r *ledgerRepository) ApplyBalanceDelta(ctx context.Context, accountID string, delta decimal.Decimal) error {
	db := r.getDB(ctx)

	result := db.WithContext(ctx).Model(&domain.Wallet{}).
		Where("account_id = ? AND balance + ? >= 0", accountID, delta).
		Update("balance", gorm.Expr("balance + ?", delta))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := db.WithContext(ctx).Model(&domain.Wallet{}).
			Where("account_id = ?", accountID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return domain.ErrWalletNotFound
		}
		return domain.ErrInsufficientFunds
	}
	return nil
}

// ApplyPositionDelta 对持仓应用带符号增量
func (r *ledgerRepository) ApplyPositionDelta(ctx context.Context, accountID, instrument string, delta int64) error {
	db := r.getDB(ctx)

	if delta >= 0 {
		if delta == 0 {
			return nil
		}
		position := &domain.Position{
			AccountID:  accountID,
			Instrument: instrument,
			Quantity:   delta,
		}
		return db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "account_id"}, {Name: "instrument"}},
			DoUpdates: clause.Assignments(map[string]any{
				"quantity": gorm.Expr("quantity + ?", delta),
			}),
		}).Create(position).Error
	}

	result := db.WithContext(ctx).Model(&domain.Position{}).
		Where("account_id = ? AND instrument = ? AND quantity + ? >= 0", accountID, instrument, delta).
		Update("quantity", gorm.Expr("quantity + ?", delta))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrInsufficientInventory
	}

	// 减到 0 的持仓直接删除
	return db.WithContext(ctx).
		Where("account_id = ? AND instrument = ? AND quantity = 0", accountID, instrument).
		Delete(&domain.Position{}).Error
}

// SaveTrade 追加成交记录
func (r *ledgerRepository) SaveTrade(ctx context.Context, trade *domain.Trade) error {
	return r.getDB(ctx).WithContext(ctx).Create(trade).Error
}

// GetWallet 获取钱包
func (r *ledgerRepository) GetWallet(ctx context.Context, accountID string) (*domain.Wallet, error) {
	var wallet domain.Wallet
	err := r.getDB(ctx).WithContext(ctx).
		Where("account_id = ?", accountID).First(&wallet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrWalletNotFound
		}
		return nil, err
	}
	return &wallet, nil
}

// CreateWallet 创建钱包，已存在则忽略
func (r *ledgerRepository) CreateWallet(ctx context.Context, accountID string) error {
	wallet := &domain.Wallet{AccountID: accountID, Balance: decimal.Zero}
	return r.getDB(ctx).WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}},
		DoNothing: true,
	}).Create(wallet).Error
}

// GetPosition 获取某标的持仓
func (r *ledgerRepository) GetPosition(ctx context.Context, accountID, instrument string) (*domain.Position, error) {
	var position domain.Position
	err := r.getDB(ctx).WithContext(ctx).
		Where("account_id = ? AND instrument = ?", accountID, instrument).
		First(&position).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &position, nil
}

// ListPositions 获取账户全部持仓
func (r *ledgerRepository) ListPositions(ctx context.Context, accountID string) ([]*domain.Position, error) {
	var positions []*domain.Position
	err := r.getDB(ctx).WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("instrument asc").
		Find(&positions).Error
	return positions, err
}

// ListTrades 获取账户相关成交记录
func (r *ledgerRepository) ListTrades(ctx context.Context, accountID string, limit, offset int) ([]*domain.Trade, int64, error) {
	db := r.getDB(ctx).WithContext(ctx).Model(&domain.Trade{}).
		Where("buy_account_id = ? OR sell_account_id = ?", accountID, accountID)

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var trades []*domain.Trade
	err := db.Order("created_at desc").Limit(limit).Offset(offset).Find(&trades).Error
	return trades, total, err
}
