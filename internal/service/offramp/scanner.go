package offramp

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"offramp-core/pkg/logger"
)

// TokenScanner 读取托管地址上允许列表内资产的余额
type TokenScanner struct {
	log *zap.Logger
}

func NewTokenScanner() *TokenScanner {
	return &TokenScanner{log: logger.Named("scanner")}
}

// Scan 单个资产读取失败只记录日志；全部失败时返回 ErrScanUnavailable。
// 余额为 0 的资产不出现在结果中
func (s *TokenScanner) Scan(ctx context.Context, net *Network, owner common.Address) ([]Holding, error) {
	specs := scanOrder(net)
	holdings := make([]Holding, 0, len(specs))
	failures := 0

	for _, spec := range specs {
		raw, err := balanceOf(ctx, net.Client, spec.Asset, owner)
		if err != nil {
			failures++
			s.log.Warn("读取余额失败",
				zap.String("network", string(net.Name)),
				zap.String("asset", spec.Asset.Symbol),
				zap.String("owner", owner.Hex()),
				zap.Error(err))
			continue
		}
		if raw.Sign() <= 0 {
			continue
		}
		holdings = append(holdings, Holding{Asset: spec.Asset, Raw: raw, Amount: spec.Asset.Human(raw)})
	}

	if failures == len(specs) && failures > 0 {
		return nil, fmt.Errorf("%w: %s on %s", ErrScanUnavailable, owner.Hex(), net.Name)
	}
	return holdings, nil
}

// SelectDeposit 结算资产优先，其次按允许列表顺序，最后是原生币；低于最小金额的忽略
func SelectDeposit(net *Network, holdings []Holding) (Holding, bool) {
	for _, spec := range scanOrder(net) {
		for _, h := range holdings {
			if h.Asset.Same(spec.Asset) && !spec.IsDust(h.Raw) {
				return h, true
			}
		}
	}
	return Holding{}, false
}

func scanOrder(net *Network) []TokenSpec {
	specs := make([]TokenSpec, 0, len(net.Tokens)+2)
	specs = append(specs, net.Settlement)
	specs = append(specs, net.Tokens...)
	specs = append(specs, net.Native)
	return specs
}

func balanceOf(ctx context.Context, client ChainClient, asset Asset, owner common.Address) (*big.Int, error) {
	if asset.IsNative() {
		return client.BalanceAt(ctx, owner)
	}
	return client.TokenBalance(ctx, asset.Contract, owner)
}
