package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"offramp-core/internal/event"
	"offramp-core/internal/model"
	"offramp-core/internal/service/offramp"
)

// OfframpRepository 基于 gorm 的出金交易存储，状态变更事件与业务数据同事务写入 outbox
type OfframpRepository struct {
	db    *gorm.DB
	clock func() time.Time
}

func NewOfframpRepository(db *gorm.DB) *OfframpRepository {
	return &OfframpRepository{db: db, clock: time.Now}
}

var _ offramp.Store = (*OfframpRepository)(nil)

func (r *OfframpRepository) Create(ctx context.Context, tx *model.OfframpTransaction) error {
	err := r.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		if err := db.Create(tx).Error; err != nil {
			return err
		}
		return model.CreateOutboxMessage(db, event.TopicStatus, tx.ID, r.statusEvent(tx, ""))
	})
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", offramp.ErrWalletBusy, tx.WalletAddress)
	}
	return err
}

func (r *OfframpRepository) Get(ctx context.Context, id string) (*model.OfframpTransaction, error) {
	var tx model.OfframpTransaction
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&tx).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", offramp.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// FindActiveByWallet 未找到时返回 ErrNotFound
func (r *OfframpRepository) FindActiveByWallet(ctx context.Context, wallet string) (*model.OfframpTransaction, error) {
	var tx model.OfframpTransaction
	err := r.db.WithContext(ctx).
		Where("wallet_address = ? AND status NOT IN ?", wallet, model.TerminalStatuses).
		Order("created_at DESC").
		First(&tx).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: active for %s", offramp.ErrNotFound, wallet)
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// Save 以 (id, expected) 为条件整行更新；状态变化时同事务写入事件
func (r *OfframpRepository) Save(ctx context.Context, tx *model.OfframpTransaction, expected model.Status) error {
	err := r.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		res := db.Model(&model.OfframpTransaction{}).
			Where("id = ? AND status = ?", tx.ID, expected).
			Select("*").
			Omit("id", "created_at").
			Updates(tx)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %s expected %s", offramp.ErrStaleState, tx.ID, expected)
		}
		if tx.Status == expected {
			return nil
		}
		return model.CreateOutboxMessage(db, event.TopicStatus, tx.ID, r.statusEvent(tx, expected))
	})
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", offramp.ErrWalletBusy, tx.WalletAddress)
	}
	return err
}

// ListStalled 已经收到充值的交易排在等待充值的交易之前，同类按 updated_at 升序
func (r *OfframpRepository) ListStalled(ctx context.Context, before time.Time, limit int) ([]model.OfframpTransaction, error) {
	var txs []model.OfframpTransaction
	err := r.db.WithContext(ctx).
		Where("status NOT IN ? AND updated_at < ?", model.TerminalStatuses, before).
		Order("CASE WHEN status = 'pending' THEN 1 ELSE 0 END, updated_at ASC").
		Limit(limit).
		Find(&txs).Error
	return txs, err
}

func (r *OfframpRepository) statusEvent(tx *model.OfframpTransaction, from model.Status) event.StatusChangedEvent {
	ev := event.StatusChangedEvent{
		TransactionID: tx.ID,
		UserID:        tx.UserID,
		WalletAddress: tx.WalletAddress,
		Network:       string(tx.Network),
		From:          string(from),
		To:            string(tx.Status),
		ErrorCode:     tx.ErrorCode,
		ErrorMessage:  tx.ErrorMessage,
		Currency:      tx.Currency,
		OccurredAt:    r.clock().UTC(),
	}
	if tx.PayableAmount.IsPositive() {
		ev.PayableAmount = tx.PayableAmount.StringFixed(2)
	}
	if tx.PayoutReference != nil {
		ev.PayoutReference = *tx.PayoutReference
	}
	return ev
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
