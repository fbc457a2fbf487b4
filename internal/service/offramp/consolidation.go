package offramp

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"offramp-core/internal/model"
	"offramp-core/pkg/erc20"
	"offramp-core/pkg/logger"
)

// Consolidator 把结算资产归集到接收钱包，并回收剩余的 gas
type Consolidator struct {
	sender     *TxSender
	treasuries map[model.Network]*Treasury
	log        *zap.Logger
}

func NewConsolidator(sender *TxSender, treasuries map[model.Network]*Treasury) *Consolidator {
	return &Consolidator{sender: sender, treasuries: treasuries, log: logger.Named("consolidation")}
}

// Transfer 发送并等待确认，返回交易哈希
func (c *Consolidator) Transfer(ctx context.Context, net *Network, wallet *Wallet, asset Asset, raw *big.Int, to common.Address, onSubmitted func(common.Hash)) (common.Hash, error) {
	req := TxRequest{To: to, Value: raw, GasLimit: nativeTransferGas, OnSubmitted: onSubmitted}
	if !asset.IsNative() {
		data, err := erc20.PackTransfer(to, raw)
		if err != nil {
			return common.Hash{}, err
		}
		req = TxRequest{To: asset.Contract, Data: data, OnSubmitted: onSubmitted}
	}

	receipt, err := c.sender.Send(ctx, net, wallet.Signer(), req)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %w", ErrConsolidation, err)
	}
	c.log.Info("归集完成",
		zap.String("network", string(net.Name)),
		zap.String("from", wallet.Address.Hex()),
		zap.String("to", to.Hex()),
		zap.String("asset", asset.Symbol),
		zap.String("amount", raw.String()),
		zap.String("hash", receipt.TxHash.Hex()))
	return receipt.TxHash, nil
}

// Recover 把 余额 - max(reserve, 转账手续费) 转回 treasury；余额不足时返回 nil, nil
func (c *Consolidator) Recover(ctx context.Context, net *Network, wallet *Wallet, reserve *big.Int) (*common.Hash, error) {
	treasury, ok := c.treasuries[net.Name]
	if !ok {
		return nil, fmt.Errorf("no treasury for %s", net.Name)
	}

	balance, err := net.Client.BalanceAt(ctx, wallet.Address)
	if err != nil {
		return nil, fmt.Errorf("read balance: %w", err)
	}
	gasPrice, err := net.Client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}

	keep := new(big.Int).Mul(gasPrice, big.NewInt(nativeTransferGas))
	if reserve != nil && reserve.Cmp(keep) > 0 {
		keep = reserve
	}
	if balance.Cmp(keep) <= 0 {
		return nil, nil
	}

	amount := new(big.Int).Sub(balance, keep)
	hash, err := treasury.Recover(ctx, wallet, amount, gasPrice)
	if err != nil {
		return nil, err
	}
	c.log.Info("已回收 gas", zap.String("from", wallet.Address.Hex()), zap.String("amount", amount.String()), zap.String("hash", hash.Hex()))
	return &hash, nil
}
