// Package domain 资金账本的领域模型
package domain

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	// ErrInsufficientFunds 余额不足，扣款会使余额为负
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInsufficientInventory 持仓不足，无法预留卖出数量
	ErrInsufficientInventory = errors.New("insufficient inventory")
	// ErrWalletNotFound 钱包不存在
	ErrWalletNotFound = errors.New("wallet not found")
)

// Wallet 钱包实体
// 每个账户一个余额，所有变更均以带符号增量的方式原子应用，禁止整值覆盖
type Wallet struct {
	gorm.Model
	// 账户 ID，全局唯一
	AccountID string `gorm:"column:account_id;type:varchar(32);uniqueIndex;not null" json:"account_id"`
	// 余额
	Balance decimal.Decimal `gorm:"column:balance;type:decimal(32,18);default:0;not null" json:"balance"`
}

func (Wallet) TableName() string {
	return "wallets"
}

// Position 持仓实体
// 数量为 0 时删除记录，不允许留 0 或负数
type Position struct {
	gorm.Model
	// 账户 ID
	AccountID string `gorm:"column:account_id;type:varchar(32);index;uniqueIndex:idx_account_instrument;not null" json:"account_id"`
	// 标的
	Instrument string `gorm:"column:instrument;type:varchar(20);uniqueIndex:idx_account_instrument;not null" json:"instrument"`
	// 持有数量
	Quantity int64 `gorm:"column:quantity;type:bigint;not null" json:"quantity"`
}

func (Position) TableName() string {
	return "positions"
}

// Trade 成交记录，记录双方账户，不可变更
// 其 TradeID 作为结算引用返回给撮合方
type Trade struct {
	gorm.Model
	// 成交 ID (业务主键)
	TradeID string `gorm:"column:trade_id;type:varchar(32);uniqueIndex;not null" json:"trade_id"`
	// 买方订单 ID
	BuyOrderID string `gorm:"column:buy_order_id;type:varchar(32);index;not null" json:"buy_order_id"`
	// 卖方订单 ID
	SellOrderID string `gorm:"column:sell_order_id;type:varchar(32);index;not null" json:"sell_order_id"`
	// 买方账户
	BuyAccountID string `gorm:"column:buy_account_id;type:varchar(32);index;not null" json:"buy_account_id"`
	// 卖方账户
	SellAccountID string `gorm:"column:sell_account_id;type:varchar(32);index;not null" json:"sell_account_id"`
	// 标的
	Instrument string `gorm:"column:instrument;type:varchar(20);index;not null" json:"instrument"`
	// 数量
	Quantity int64 `gorm:"column:quantity;type:bigint;not null" json:"quantity"`
	// 成交价
	Price decimal.Decimal `gorm:"column:price;type:decimal(32,18);not null" json:"price"`
	// 总金额 = 数量 × 成交价
	Amount decimal.Decimal `gorm:"column:amount;type:decimal(32,18);not null" json:"amount"`
}

func (Trade) TableName() string {
	return "trades"
}

// LedgerRepository 账本仓储接口
// 所有增量操作必须原子执行：条件不满足时不产生任何变更
type LedgerRepository interface {
	// WithTx 在一个事务内执行 fn，fn 内通过 txCtx 获得事务句柄
	WithTx(ctx context.Context, fn func(txCtx context.Context) error) error
	// ApplyBalanceDelta 对账户余额应用带符号增量；扣为负数时返回 ErrInsufficientFunds
	ApplyBalanceDelta(ctx context.Context, accountID string, delta decimal.Decimal) error
	// ApplyPositionDelta 对持仓应用带符号增量；扣为负数时返回 ErrInsufficientInventory，
	// 减到 0 时删除记录，加仓时不存在则创建
	ApplyPositionDelta(ctx context.Context, accountID, instrument string, delta int64) error
	// SaveTrade 追加成交记录
	SaveTrade(ctx context.Context, trade *Trade) error
	// GetWallet 获取钱包
	GetWallet(ctx context.Context, accountID string) (*Wallet, error)
	// CreateWallet 创建钱包（幂等：已存在则忽略）
	CreateWallet(ctx context.Context, accountID string) error
	// GetPosition 获取某标的持仓，不存在返回 nil
	GetPosition(ctx context.Context, accountID, instrument string) (*Position, error)
	// ListPositions 获取账户全部持仓
	ListPositions(ctx context.Context, accountID string) ([]*Position, error)
	// ListTrades 获取账户相关成交记录
	ListTrades(ctx context.Context, accountID string, limit, offset int) ([]*Trade, int64, error)
}
