package event

import "time"

const (
	// TopicStatus 出金状态变更事件 (对外发布，供通知系统消费)
	TopicStatus = "offramp_events_status"
	// TopicDeposit 链上监听服务推送的充值通知 (本服务消费)
	TopicDeposit = "offramp_events_deposit"
)

// StatusChangedEvent 出金交易状态变更
type StatusChangedEvent struct {
	TransactionID   string    `json:"transaction_id"`
	UserID          *string   `json:"user_id,omitempty"`
	WalletAddress   string    `json:"wallet_address"`
	Network         string    `json:"network"`
	From            string    `json:"from"`
	To              string    `json:"to"`
	ErrorCode       string    `json:"error_code,omitempty"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	PayableAmount   string    `json:"payable_amount,omitempty"` // Decimal string
	Currency        string    `json:"currency,omitempty"`
	PayoutReference string    `json:"payout_reference,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// DepositDetectedEvent 充值通知
type DepositDetectedEvent struct {
	Network string `json:"network"`
	Address string `json:"address"`
	TxHash  string `json:"tx_hash"`
}
