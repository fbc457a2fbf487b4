package service

import (
	"context"

	"github.com/shopspring/decimal"

	"offramp-core/internal/model"
)

// Enqueuer 投递流水线推进任务 (worker.Client 实现)
type Enqueuer interface {
	EnqueueAdvance(ctx context.Context, txID, reason string) error
}

// ActiveLookup 按托管地址查找进行中的交易
type ActiveLookup interface {
	ActiveForWallet(ctx context.Context, address string) (*model.OfframpTransaction, error)
}

// StalledLister 列出长时间没有进展的交易
type StalledLister interface {
	Stalled(ctx context.Context, limit int) ([]string, error)
}

// RateRefresher 刷新汇率缓存
type RateRefresher interface {
	Refresh(ctx context.Context, base, quote string) (decimal.Decimal, error)
}

// RatePair 需要定时刷新的汇率对
type RatePair struct {
	Base  string
	Quote string
}
