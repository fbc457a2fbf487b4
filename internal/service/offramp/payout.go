package offramp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"offramp-core/pkg/logger"
	"offramp-core/pkg/retry"
)

type TransferStatus string

const (
	TransferSuccess  TransferStatus = "success"
	TransferPending  TransferStatus = "pending"
	TransferOTP      TransferStatus = "otp"
	TransferFailed   TransferStatus = "failed"
	TransferReversed TransferStatus = "reversed"
)

// Failed 银行侧已确认失败
func (s TransferStatus) Failed() bool {
	return s == TransferFailed || s == TransferReversed
}

type Recipient struct {
	AccountNumber string
	BankCode      string
	AccountName   string
	Currency      string
}

type TransferRequest struct {
	RecipientCode string
	Amount        decimal.Decimal // 法币金额 (两位小数)
	Currency      string
	Reference     string // 幂等键
	Reason        string
}

type TransferResult struct {
	TransferCode string
	Reference    string
	Status       TransferStatus
}

// PayoutGateway 法币支付网关。重复的 Reference 必须返回第一次的结果而不是再次出款
type PayoutGateway interface {
	// CreateRecipient 已存在时可返回 (code, ErrRecipientExists) 或 ("", ErrRecipientExists)
	CreateRecipient(ctx context.Context, r Recipient) (string, error)
	FindRecipient(ctx context.Context, r Recipient) (string, error)
	InitiateTransfer(ctx context.Context, req TransferRequest) (*TransferResult, error)
}

type PayoutRequest struct {
	Recipient     Recipient
	RecipientCode string // 之前已创建的收款人，可为空
	Amount        decimal.Decimal
	Reference     string
	Reason        string
	OnRecipient   func(code string)
}

type PayoutResult struct {
	RecipientCode string
	TransferCode  string
	Reference     string
	Status        TransferStatus
}

// PayoutReference 持久化到交易上的出款凭证
func (r *PayoutResult) PayoutReference() string {
	if r.TransferCode != "" {
		return r.TransferCode
	}
	return r.Reference
}

// PayoutDispatcher 创建收款人并发起转账
type PayoutDispatcher struct {
	gateway PayoutGateway
	policy  retry.Policy
	log     *zap.Logger
}

func NewPayoutDispatcher(gateway PayoutGateway, policy retry.Policy) *PayoutDispatcher {
	return &PayoutDispatcher{gateway: gateway, policy: policy, log: logger.Named("payout")}
}

// Payout 银行确认失败时同时返回结果和错误，调用方需要记录出款凭证
func (d *PayoutDispatcher) Payout(ctx context.Context, req PayoutRequest) (*PayoutResult, error) {
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: non-positive amount %s", ErrPayoutGateway, req.Amount)
	}

	code := req.RecipientCode
	if code == "" {
		var err error
		if code, err = d.recipient(ctx, req.Recipient); err != nil {
			return nil, fmt.Errorf("%w: recipient: %w", ErrPayoutGateway, err)
		}
		if req.OnRecipient != nil {
			req.OnRecipient(code)
		}
	}

	var result *TransferResult
	err := d.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		res, err := d.gateway.InitiateTransfer(ctx, TransferRequest{
			RecipientCode: code,
			Amount:        req.Amount,
			Currency:      req.Recipient.Currency,
			Reference:     req.Reference,
			Reason:        req.Reason,
		})
		if err != nil {
			if errors.Is(err, ErrPayoutRejected) {
				return retry.Permanent(err)
			}
			return err
		}
		result = res
		return nil
	}, d.notify("transfer", req.Reference))
	if err != nil {
		return nil, fmt.Errorf("%w: transfer: %w", ErrPayoutGateway, err)
	}

	out := &PayoutResult{
		RecipientCode: code,
		TransferCode:  result.TransferCode,
		Reference:     result.Reference,
		Status:        result.Status,
	}
	switch {
	case result.Status.Failed():
		return out, fmt.Errorf("%w: transfer %s %s", ErrPayoutGateway, out.PayoutReference(), result.Status)
	case result.Status == TransferOTP:
		return out, fmt.Errorf("%w: transfer %s requires otp", ErrPayoutGateway, out.PayoutReference())
	}

	d.log.Info("出款已提交",
		zap.String("reference", req.Reference),
		zap.String("transfer_code", out.TransferCode),
		zap.String("status", string(out.Status)),
		zap.String("amount", req.Amount.StringFixed(2)))
	return out, nil
}

func (d *PayoutDispatcher) recipient(ctx context.Context, r Recipient) (string, error) {
	var code string
	err := d.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		c, err := d.gateway.CreateRecipient(ctx, r)
		switch {
		case err == nil:
			code = c
			return nil
		case errors.Is(err, ErrRecipientExists):
			if c != "" {
				code = c
				return nil
			}
			found, ferr := d.gateway.FindRecipient(ctx, r)
			if ferr != nil {
				return ferr
			}
			code = found
			return nil
		case errors.Is(err, ErrPayoutRejected):
			return retry.Permanent(err)
		}
		return err
	}, d.notify("recipient", r.AccountNumber))
	if err != nil {
		return "", err
	}
	if code == "" {
		return "", errors.New("gateway returned empty recipient code")
	}
	return code, nil
}

func (d *PayoutDispatcher) notify(step, key string) func(int, error, time.Duration) {
	return func(attempt int, err error, next time.Duration) {
		d.log.Warn("支付网关调用失败，准备重试",
			zap.String("step", step),
			zap.String("key", key),
			zap.Int("attempt", attempt),
			zap.Duration("next", next),
			zap.Error(err))
	}
}
