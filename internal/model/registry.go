package model

import "gorm.io/gorm"

// AllModels 返回所有需要 AutoMigrate 的模型 (仅开发环境使用，生产使用 migrations/)
func AllModels() []interface{} {
	return []interface{}{
		&OfframpTransaction{},
		&OutboxMessage{},
	}
}

// EnsureIndexes 补建 AutoMigrate 无法表达的部分唯一索引，与 migrations/000001 保持一致
func EnsureIndexes(db *gorm.DB) error {
	stmts := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_offramp_transactions_active_wallet
			ON offramp_transactions (wallet_address)
			WHERE status NOT IN ('completed', 'failed')`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_offramp_transactions_payout_reference
			ON offramp_transactions (payout_reference)
			WHERE payout_reference IS NOT NULL`,
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}
