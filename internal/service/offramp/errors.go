package offramp

import (
	"context"
	"errors"
)

// 业务错误分类，持久化到 error_code 字段
var (
	ErrDerivation             = errors.New("derivation error")
	ErrInsufficientBalance    = errors.New("insufficient balance: no deposit detected")
	ErrGasFunding             = errors.New("gas funding failed")
	ErrSwap                   = errors.New("swap failed")
	ErrConsolidation          = errors.New("consolidation transfer failed")
	ErrSettlementVerification = errors.New("settlement not verified at receiver")
	ErrFeeTooSmall            = errors.New("amount too small after fee")
	ErrPayoutGateway          = errors.New("payout gateway error")
)

// 运行期错误，不会把交易置为 failed
var (
	ErrNotFound           = errors.New("offramp transaction not found")
	ErrCannotRestart      = errors.New("cannot restart transaction")
	ErrPipelineBusy       = errors.New("pipeline already running for wallet")
	ErrWalletBusy         = errors.New("wallet already has an active transaction")
	ErrUnsupportedNetwork = errors.New("unsupported network")
	ErrStaleState         = errors.New("transaction state changed concurrently")
	ErrScanUnavailable    = errors.New("balance scan unavailable")
	ErrRateUnavailable    = errors.New("exchange rate unavailable")
	ErrReverted           = errors.New("transaction reverted")
	ErrSwapUnconfirmed    = errors.New("swap submitted but outcome not yet known")
	ErrInvalidFeeTiers    = errors.New("invalid fee tiers")
)

// 支付网关约定的错误
var (
	// ErrRecipientExists 网关提示收款人已存在，视为成功
	ErrRecipientExists = errors.New("payout recipient already exists")
	// ErrPayoutRejected 网关明确拒绝 (4xx)，重试没有意义
	ErrPayoutRejected = errors.New("payout request rejected")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrDerivation, "derivation_error"},
	{ErrInsufficientBalance, "insufficient_balance"},
	{ErrGasFunding, "gas_funding_error"},
	{ErrSwap, "swap_error"},
	{ErrConsolidation, "consolidation_error"},
	{ErrSettlementVerification, "settlement_verification_error"},
	{ErrFeeTooSmall, "fee_too_small"},
	{ErrPayoutGateway, "payout_gateway_error"},
	{ErrUnsupportedNetwork, "unsupported_network"},
}

// ErrorCode 把错误映射为持久化的错误码
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal_error"
}

// keepsStatus 这些错误发生时交易保持当前状态，等待下一次触发
func keepsStatus(err error, phase string) bool {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return true
	case errors.Is(err, ErrStaleState), errors.Is(err, ErrPipelineBusy):
		return true
	case errors.Is(err, ErrScanUnavailable), errors.Is(err, ErrRateUnavailable):
		return true
	case errors.Is(err, ErrSettlementVerification), errors.Is(err, ErrSwapUnconfirmed):
		return true
	case errors.Is(err, ErrInsufficientBalance):
		// 只有在等待充值阶段 "没有检测到代币" 才是正常结果
		return phase == "detect"
	}
	return false
}
