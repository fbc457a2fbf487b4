package offramp

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"offramp-core/internal/model"
	"offramp-core/pkg/logger"
	"offramp-core/pkg/retry"
)

// GasFunder 确保托管地址有足够的原生币支付后续交易
type GasFunder struct {
	treasuries map[model.Network]*Treasury
	policy     retry.Policy
	log        *zap.Logger
}

func NewGasFunder(treasuries map[model.Network]*Treasury, policy retry.Policy) *GasFunder {
	return &GasFunder{treasuries: treasuries, policy: policy, log: logger.Named("gas")}
}

// EstimateCost 当前 gas 价格 * gas 用量
func (f *GasFunder) EstimateCost(ctx context.Context, net *Network, gas uint64) (*big.Int, error) {
	gasPrice, err := net.Client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}
	return new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(gas)), nil
}

// EnsureGas 余额足够时不做任何事并返回 nil；否则由 treasury 转入 max(GasTopUp, 缺口)。
// 每次重试前重新读取余额，上一次 "失败" 的转账实际到账时不会重复补充
func (f *GasFunder) EnsureGas(ctx context.Context, net *Network, wallet common.Address, cost *big.Int) (*common.Hash, error) {
	treasury, ok := f.treasuries[net.Name]
	if !ok {
		return nil, fmt.Errorf("%w: no treasury for %s", ErrGasFunding, net.Name)
	}

	var funded *common.Hash
	err := f.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		balance, err := net.Client.BalanceAt(ctx, wallet)
		if err != nil {
			return fmt.Errorf("read balance: %w", err)
		}
		if balance.Cmp(cost) >= 0 {
			return nil
		}

		amount := new(big.Int).Sub(cost, balance)
		if net.GasTopUp != nil && net.GasTopUp.Cmp(amount) > 0 {
			amount = new(big.Int).Set(net.GasTopUp)
		}
		hash, err := treasury.Fund(ctx, wallet, amount)
		if err != nil {
			return err
		}
		funded = &hash
		return nil
	}, func(attempt int, err error, next time.Duration) {
		f.log.Warn("补充 gas 失败，准备重试",
			zap.String("wallet", wallet.Hex()),
			zap.Int("attempt", attempt),
			zap.Duration("next", next),
			zap.Error(err))
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGasFunding, err)
	}
	return funded, nil
}
