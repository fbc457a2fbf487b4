package offramp

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"offramp-core/pkg/erc20"
)

// SettlementVerifier 通过回执中的 Transfer 事件确认结算资产到达接收钱包
type SettlementVerifier struct {
	toleranceBps int64
}

func NewSettlementVerifier(toleranceBps int64) *SettlementVerifier {
	if toleranceBps < 0 {
		toleranceBps = 0
	}
	return &SettlementVerifier{toleranceBps: toleranceBps}
}

// Verify 返回实际到账金额。回执缺失或金额超出容差返回 ErrSettlementVerification；
// 交易回滚返回 ErrConsolidation (需要重新归集)
func (v *SettlementVerifier) Verify(ctx context.Context, net *Network, txHash common.Hash, receiver common.Address, expected *big.Int) (*big.Int, error) {
	receipt, err := net.Client.TransactionReceipt(ctx, txHash)
	if err != nil || receipt == nil {
		return nil, fmt.Errorf("%w: receipt %s unavailable: %v", ErrSettlementVerification, txHash.Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%w: %w: %s", ErrConsolidation, ErrReverted, txHash.Hex())
	}

	token := net.Settlement.Asset.Contract
	received := new(big.Int)
	for _, l := range receipt.Logs {
		t, ok := erc20.ParseTransfer(l)
		if !ok || t.Token != token || t.To != receiver {
			continue
		}
		received.Add(received, t.Value)
	}

	if !v.withinTolerance(received, expected) {
		return received, fmt.Errorf("%w: expected %s, received %s in %s",
			ErrSettlementVerification, expected.String(), received.String(), txHash.Hex())
	}
	return received, nil
}

// |received - expected| * 10000 <= expected * toleranceBps
func (v *SettlementVerifier) withinTolerance(received, expected *big.Int) bool {
	if expected == nil || expected.Sign() <= 0 {
		return false
	}
	diff := new(big.Int).Sub(received, expected)
	diff.Abs(diff)
	lhs := diff.Mul(diff, big.NewInt(10000))
	rhs := new(big.Int).Mul(expected, big.NewInt(v.toleranceBps))
	return lhs.Cmp(rhs) <= 0
}
