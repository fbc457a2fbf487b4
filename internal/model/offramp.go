package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Network 支持的链 (封闭集合)
type Network string

const (
	NetworkEthereum Network = "ethereum"
	NetworkBase     Network = "base"
	NetworkPolygon  Network = "polygon"
	NetworkArbitrum Network = "arbitrum"
)

func (n Network) Valid() bool {
	switch n {
	case NetworkEthereum, NetworkBase, NetworkPolygon, NetworkArbitrum:
		return true
	}
	return false
}

// Status 出金交易状态
// pending -> token_received -> swapping -> usdc_received -> paying -> completed
// 任意非终态都可以进入 failed
type Status string

const (
	StatusPending       Status = "pending"
	StatusTokenReceived Status = "token_received"
	StatusSwapping      Status = "swapping"
	StatusUSDCReceived  Status = "usdc_received"
	StatusPaying        Status = "paying"
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
)

// TerminalStatuses 不参与 "每个钱包仅一笔进行中交易" 约束的状态
var TerminalStatuses = []Status{StatusCompleted, StatusFailed}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// OfframpTransaction 出金交易 (聚合根)
// 私钥不落库: 签名时由 (主种子, DerivationID) 重新派生
type OfframpTransaction struct {
	ID     string  `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID *string `gorm:"type:varchar(64);index" json:"user_id,omitempty"`

	// 钱包绑定
	DerivationID   string  `gorm:"type:varchar(128);not null" json:"-"`
	DerivationPath string  `gorm:"type:varchar(64);not null" json:"derivation_path"`
	WalletAddress  string  `gorm:"type:varchar(42);not null;index" json:"wallet_address"`
	Network        Network `gorm:"type:varchar(20);not null" json:"network"`

	// 充值 (检测到的代币)
	TokenSymbol   string          `gorm:"type:varchar(20)" json:"token_symbol,omitempty"`
	TokenAddress  string          `gorm:"type:varchar(42)" json:"token_address,omitempty"` // 空表示原生币
	TokenDecimals uint8           `json:"token_decimals,omitempty"`
	TokenRaw      decimal.Decimal `gorm:"type:numeric(78,0);not null;default:0" json:"token_raw"`
	TokenAmount   decimal.Decimal `gorm:"type:numeric(38,18);not null;default:0" json:"token_amount"`

	// 结算 (USDC)
	SettlementRaw       decimal.Decimal `gorm:"type:numeric(78,0);not null;default:0" json:"settlement_raw"`
	SettlementAmount    decimal.Decimal `gorm:"type:numeric(38,18);not null;default:0" json:"settlement_amount"`
	SwapTxHash          *string         `gorm:"type:varchar(66)" json:"swap_tx_hash,omitempty"`
	GasFundingTxHash    *string         `gorm:"type:varchar(66)" json:"gas_funding_tx_hash,omitempty"`
	ConsolidationTxHash *string         `gorm:"type:varchar(66)" json:"consolidation_tx_hash,omitempty"`
	GasRecoveryTxHash   *string         `gorm:"type:varchar(66)" json:"gas_recovery_tx_hash,omitempty"`

	// 法币
	ExchangeRate   decimal.Decimal `gorm:"type:numeric(20,6);not null;default:0" json:"exchange_rate"`
	FiatAmount     decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0" json:"fiat_amount"`
	FeeAmount      decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0" json:"fee_amount"`
	FeeTokenAmount decimal.Decimal `gorm:"type:numeric(38,18);not null;default:0" json:"fee_token_amount"`
	PayableAmount  decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0" json:"payable_amount"`
	Currency       string          `gorm:"type:varchar(3);not null;default:'NGN'" json:"currency"`

	// 收款
	AccountNumber   string  `gorm:"type:varchar(20);not null" json:"account_number"`
	BankCode        string  `gorm:"type:varchar(10);not null" json:"bank_code"`
	BankName        string  `gorm:"type:varchar(100)" json:"bank_name,omitempty"`
	AccountName     string  `gorm:"type:varchar(100)" json:"account_name,omitempty"`
	RecipientCode   string  `gorm:"type:varchar(64)" json:"-"`
	PayoutReference *string `gorm:"type:varchar(100)" json:"payout_reference,omitempty"`

	// 生命周期
	Status       Status `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	ErrorCode    string `gorm:"type:varchar(40)" json:"error_code,omitempty"`
	ErrorMessage string `gorm:"type:text" json:"error_message,omitempty"`
	Attempts     int    `gorm:"not null;default:0" json:"attempts"`
	SwapAttempts int    `gorm:"not null;default:0" json:"swap_attempts"`
	RestartCount int    `gorm:"not null;default:0" json:"restart_count"`

	CreatedAt            time.Time  `json:"created_at"`
	TokenReceivedAt      *time.Time `json:"token_received_at,omitempty"`
	SwapSubmittedAt      *time.Time `json:"swap_submitted_at,omitempty"`
	SettlementReceivedAt *time.Time `json:"settlement_received_at,omitempty"`
	PayoutInitiatedAt    *time.Time `json:"payout_initiated_at,omitempty"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
	FailedAt             *time.Time `json:"failed_at,omitempty"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

func (OfframpTransaction) TableName() string {
	return "offramp_transactions"
}

// TokenKnown 是否已经检测到充值代币
func (t *OfframpTransaction) TokenKnown() bool {
	return t.TokenSymbol != "" && t.TokenRaw.IsPositive()
}

// SettlementDone 结算资产是否已确认到达接收钱包
func (t *OfframpTransaction) SettlementDone() bool {
	return t.SettlementReceivedAt != nil && t.ConsolidationTxHash != nil && t.SettlementRaw.IsPositive()
}

// PayoutIdempotencyKey 发给支付网关的幂等引用，重启后保持不变
func (t *OfframpTransaction) PayoutIdempotencyKey() string {
	return "offramp_" + t.ID
}

// ResetDeposit 清空充值检测结果，重新等待充值
func (t *OfframpTransaction) ResetDeposit() {
	t.TokenSymbol = ""
	t.TokenAddress = ""
	t.TokenDecimals = 0
	t.TokenRaw = decimal.Zero
	t.TokenAmount = decimal.Zero
	t.TokenReceivedAt = nil
}

// ResetSwap 清空兑换与归集结果，保留充值检测结果
func (t *OfframpTransaction) ResetSwap() {
	t.SettlementRaw = decimal.Zero
	t.SettlementAmount = decimal.Zero
	t.SwapTxHash = nil
	t.GasFundingTxHash = nil
	t.ConsolidationTxHash = nil
	t.GasRecoveryTxHash = nil
	t.SwapSubmittedAt = nil
	t.SettlementReceivedAt = nil
	t.SwapAttempts = 0
}

// ResetPayout 清空法币计算与出款结果；RecipientCode 是网关侧缓存，保留
func (t *OfframpTransaction) ResetPayout() {
	t.ExchangeRate = decimal.Zero
	t.FiatAmount = decimal.Zero
	t.FeeAmount = decimal.Zero
	t.FeeTokenAmount = decimal.Zero
	t.PayableAmount = decimal.Zero
	t.PayoutReference = nil
	t.PayoutInitiatedAt = nil
}
