package offramp

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"offramp-core/internal/model"
)

// RateProvider 结算资产到法币的汇率
type RateProvider interface {
	Rate(ctx context.Context, base, quote string) (decimal.Decimal, error)
}

// Store 交易持久化
type Store interface {
	// Create 同一钱包已有进行中交易时返回 ErrWalletBusy
	Create(ctx context.Context, tx *model.OfframpTransaction) error
	// Get 不存在时返回 ErrNotFound
	Get(ctx context.Context, id string) (*model.OfframpTransaction, error)
	FindActiveByWallet(ctx context.Context, wallet string) (*model.OfframpTransaction, error)
	// Save 以 expected 状态做 CAS 写入整行；状态已被他人修改时返回 ErrStaleState
	Save(ctx context.Context, tx *model.OfframpTransaction, expected model.Status) error
	// ListStalled 返回 updated_at 早于 before 的非终态交易
	ListStalled(ctx context.Context, before time.Time, limit int) ([]model.OfframpTransaction, error)
}
