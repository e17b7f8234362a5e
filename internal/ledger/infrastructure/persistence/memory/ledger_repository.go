// Package memory 进程内账本实现，用于 dev 环境与测试
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/wyfcoding/daytrading/internal/ledger/domain"
)

type memoryRepository struct {
	mu        sync.Mutex
	wallets   map[string]decimal.Decimal
	positions map[string]map[string]int64
	trades    []*domain.Trade
}

// NewLedgerRepository 创建进程内账本
func NewLedgerRepository() domain.LedgerRepository {
	return &memoryRepository{
		wallets:   make(map[string]decimal.Decimal),
		positions: make(map[string]map[string]int64),
	}
}

type txKey struct{}

// journal 记录事务内的回滚动作，失败时逆序执行
type journal struct {
	undo []func()
}

func (r *memoryRepository) inTx(ctx context.Context) *journal {
	if j, ok := ctx.Value(txKey{}).(*journal); ok {
		return j
	}
	return nil
}

// WithTx 串行执行事务；fn 返回错误时回滚全部已应用的增量
func (r *memoryRepository) WithTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	j := &journal{}
	if err := fn(context.WithValue(ctx, txKey{}, j)); err != nil {
		for i := len(j.undo) - 1; i >= 0; i-- {
			j.undo[i]()
		}
		return err
	}
	return nil
}

// ApplyBalanceDelta 对账户余额应用带符号增量
func (r *memoryRepository) ApplyBalanceDelta(ctx context.Context, accountID string, delta decimal.Decimal) error {
	j := r.inTx(ctx)
	if j == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
	}

	balance, ok := r.wallets[accountID]
	if !ok {
		return domain.ErrWalletNotFound
	}
	next := balance.Add(delta)
	if next.IsNegative() {
		return domain.ErrInsufficientFunds
	}
	r.wallets[accountID] = next
	if j != nil {
		j.undo = append(j.undo, func() { r.wallets[accountID] = balance })
	}
	return nil
}

// ApplyPositionDelta 对持仓应用带符号增量
func (r *memoryRepository) ApplyPositionDelta(ctx context.Context, accountID, instrument string, delta int64) error {
	j := r.inTx(ctx)
	if j == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
	}

	held := r.positions[accountID]
	current := held[instrument]
	next := current + delta
	if next < 0 {
		return domain.ErrInsufficientInventory
	}

	if held == nil {
		held = make(map[string]int64)
		r.positions[accountID] = held
	}
	if next == 0 {
		delete(held, instrument)
	} else {
		held[instrument] = next
	}
	if j != nil {
		j.undo = append(j.undo, func() {
			if current == 0 {
				delete(r.positions[accountID], instrument)
			} else {
				r.positions[accountID][instrument] = current
			}
		})
	}
	return nil
}

// SaveTrade 追加成交记录
func (r *memoryRepository) SaveTrade(ctx context.Context, trade *domain.Trade) error {
	j := r.inTx(ctx)
	if j == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
	}

	r.trades = append(r.trades, trade)
	if j != nil {
		j.undo = append(j.undo, func() { r.trades = r.trades[:len(r.trades)-1] })
	}
	return nil
}

// GetWallet 获取钱包
func (r *memoryRepository) GetWallet(ctx context.Context, accountID string) (*domain.Wallet, error) {
	if r.inTx(ctx) == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
	}
	balance, ok := r.wallets[accountID]
	if !ok {
		return nil, domain.ErrWalletNotFound
	}
	return &domain.Wallet{AccountID: accountID, Balance: balance}, nil
}

// CreateWallet 创建钱包，已存在则忽略
func (r *memoryRepository) CreateWallet(ctx context.Context, accountID string) error {
	if r.inTx(ctx) == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
	}
	if _, ok := r.wallets[accountID]; !ok {
		r.wallets[accountID] = decimal.Zero
	}
	return nil
}

// GetPosition 获取某标的持仓
func (r *memoryRepository) GetPosition(ctx context.Context, accountID, instrument string) (*domain.Position, error) {
	if r.inTx(ctx) == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
	}
	qty, ok := r.positions[accountID][instrument]
	if !ok {
		return nil, nil
	}
	return &domain.Position{AccountID: accountID, Instrument: instrument, Quantity: qty}, nil
}

// ListPositions 获取账户全部持仓
func (r *memoryRepository) ListPositions(ctx context.Context, accountID string) ([]*domain.Position, error) {
	if r.inTx(ctx) == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
	}
	var positions []*domain.Position
	for instrument, qty := range r.positions[accountID] {
		positions = append(positions, &domain.Position{
			AccountID:  accountID,
			Instrument: instrument,
			Quantity:   qty,
		})
	}
	sort.Slice(positions, func(i, k int) bool {
		return positions[i].Instrument < positions[k].Instrument
	})
	return positions, nil
}

// ListTrades 获取账户相关成交记录
func (r *memoryRepository) ListTrades(ctx context.Context, accountID string, limit, offset int) ([]*domain.Trade, int64, error) {
	if r.inTx(ctx) == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
	}
	var matched []*domain.Trade
	for _, t := range r.trades {
		if t.BuyAccountID == accountID || t.SellAccountID == accountID {
			matched = append(matched, t)
		}
	}
	total := int64(len(matched))
	if offset >= len(matched) {
		return nil, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}
