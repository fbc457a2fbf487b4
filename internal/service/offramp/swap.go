package offramp

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"offramp-core/pkg/erc20"
	"offramp-core/pkg/logger"
	"offramp-core/pkg/monitor"
	"offramp-core/pkg/retry"
)

// NativeTokenAddress 聚合器约定的原生币伪地址
var NativeTokenAddress = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

type QuoteRequest struct {
	ChainID     int64
	SellToken   common.Address
	BuyToken    common.Address
	SellAmount  *big.Int
	Taker       common.Address
	SlippageBps int
}

// Quote 聚合器返回的可直接签名的交易
type Quote struct {
	To              common.Address
	Data            []byte
	Value           *big.Int
	Gas             uint64
	BuyAmount       *big.Int
	AllowanceTarget common.Address // 原生币卖出时为零地址
}

// Aggregator DEX 聚合器报价
type Aggregator interface {
	Quote(ctx context.Context, req QuoteRequest) (*Quote, error)
}

type SwapRequest struct {
	Network     *Network
	Wallet      *Wallet
	Asset       Asset
	Raw         *big.Int
	OnSubmitted func(hash common.Hash)
}

type SwapResult struct {
	Skipped       bool // 低于最小金额，未执行
	SettlementRaw *big.Int
	TxHash        common.Hash
	Attempts      int
}

// SwapOrchestrator 把托管地址上的代币兑换成结算资产
type SwapOrchestrator struct {
	aggregator  Aggregator
	sender      *TxSender
	policy      retry.Policy
	slippageBps int
	log         *zap.Logger
}

func NewSwapOrchestrator(aggregator Aggregator, sender *TxSender, policy retry.Policy, slippageBps int) *SwapOrchestrator {
	return &SwapOrchestrator{
		aggregator:  aggregator,
		sender:      sender,
		policy:      policy,
		slippageBps: slippageBps,
		log:         logger.Named("swap"),
	}
}

// Swap 报价 -> 授权 -> 兑换 -> 读取结算资产增量。报价失败或交易回滚时重新报价，
// 已广播的兑换不会再次发起
func (o *SwapOrchestrator) Swap(ctx context.Context, req SwapRequest) (*SwapResult, error) {
	net, asset := req.Network, req.Asset
	if asset.Same(net.Settlement.Asset) {
		return nil, fmt.Errorf("%w: %s is already the settlement asset", ErrSwap, asset.Symbol)
	}
	spec, ok := net.SpecFor(asset)
	if !ok {
		return nil, fmt.Errorf("%w: %s not allowed on %s", ErrSwap, asset.Symbol, net.Name)
	}
	if spec.IsDust(req.Raw) {
		return &SwapResult{Skipped: true}, nil
	}

	sellAmount := new(big.Int).Set(req.Raw)
	sellToken := asset.Contract
	if asset.IsNative() {
		// 原生币卖出时保留后续交易所需的 gas
		gasPrice, err := net.Client.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: suggest gas price: %w", ErrSwap, err)
		}
		reserve := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(net.GasBudget))
		sellAmount.Sub(sellAmount, reserve)
		if spec.IsDust(sellAmount) {
			return &SwapResult{Skipped: true}, nil
		}
		sellToken = NativeTokenAddress
	}

	settlement := net.Settlement.Asset.Contract
	owner := req.Wallet.Address
	before, err := net.Client.TokenBalance(ctx, settlement, owner)
	if err != nil {
		return nil, fmt.Errorf("%w: read settlement balance: %w", ErrSwap, err)
	}

	result := &SwapResult{}
	err = o.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		result.Attempts = attempt
		err := o.execute(ctx, req, sellToken, sellAmount, before, result)
		if err != nil {
			monitor.Business.SwapAttemptsTotal.WithLabelValues("failed").Inc()
			return err
		}
		monitor.Business.SwapAttemptsTotal.WithLabelValues("success").Inc()
		return nil
	}, func(attempt int, err error, next time.Duration) {
		o.log.Warn("兑换失败，重新报价",
			zap.String("wallet", owner.Hex()),
			zap.String("asset", asset.Symbol),
			zap.Int("attempt", attempt),
			zap.Duration("next", next),
			zap.Error(err))
	})
	if err != nil {
		return result, fmt.Errorf("%w: %w", ErrSwap, err)
	}
	return result, nil
}

func (o *SwapOrchestrator) execute(ctx context.Context, req SwapRequest, sellToken common.Address, sellAmount, before *big.Int, result *SwapResult) error {
	net := req.Network
	owner := req.Wallet.Address

	quote, err := o.aggregator.Quote(ctx, QuoteRequest{
		ChainID:     net.ChainID.Int64(),
		SellToken:   sellToken,
		BuyToken:    net.Settlement.Asset.Contract,
		SellAmount:  sellAmount,
		Taker:       owner,
		SlippageBps: o.slippageBps,
	})
	if err != nil {
		return fmt.Errorf("quote: %w", err)
	}

	if !req.Asset.IsNative() && quote.AllowanceTarget != (common.Address{}) {
		if err := o.ensureAllowance(ctx, req, quote.AllowanceTarget, sellAmount); err != nil {
			return err
		}
	}

	gasLimit := quote.Gas
	if gasLimit > 0 {
		gasLimit = gasLimit * 120 / 100
	}
	submitted := false
	receipt, err := o.sender.Send(ctx, net, req.Wallet.Signer(), TxRequest{
		To:       quote.To,
		Data:     quote.Data,
		Value:    quote.Value,
		GasLimit: gasLimit,
		OnSubmitted: func(h common.Hash) {
			submitted = true
			if req.OnSubmitted != nil {
				req.OnSubmitted(h)
			}
		},
	})
	if err != nil {
		if submitted && !errors.Is(err, ErrReverted) {
			// 已广播但结果未知，再次报价会用下一个 nonce 重复卖出
			return retry.Permanent(fmt.Errorf("%w: swap tx: %w", ErrSwapUnconfirmed, err))
		}
		return fmt.Errorf("swap tx: %w", err)
	}
	result.TxHash = receipt.TxHash

	after, err := o.settlementBalance(ctx, net, owner)
	if err != nil {
		return retry.Permanent(fmt.Errorf("%w: read settlement balance after %s: %w", ErrSwapUnconfirmed, receipt.TxHash.Hex(), err))
	}
	delta := new(big.Int).Sub(after, before)
	if delta.Sign() <= 0 {
		// 交易已确认，卖出的资产已经离开钱包，再次报价没有意义
		return retry.Permanent(errors.New("swap confirmed but no settlement asset received"))
	}

	result.SettlementRaw = delta
	o.log.Info("兑换完成",
		zap.String("wallet", owner.Hex()),
		zap.String("asset", req.Asset.Symbol),
		zap.String("sold", sellAmount.String()),
		zap.String("received", delta.String()),
		zap.String("hash", receipt.TxHash.Hex()))
	return nil
}

// settlementBalance 兑换确认后读取结算资产余额，只重试读取本身
func (o *SwapOrchestrator) settlementBalance(ctx context.Context, net *Network, owner common.Address) (*big.Int, error) {
	var balance *big.Int
	err := o.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		b, err := net.Client.TokenBalance(ctx, net.Settlement.Asset.Contract, owner)
		if err != nil {
			return err
		}
		balance = b
		return nil
	}, nil)
	return balance, err
}

func (o *SwapOrchestrator) ensureAllowance(ctx context.Context, req SwapRequest, spender common.Address, amount *big.Int) error {
	net := req.Network
	current, err := net.Client.Allowance(ctx, req.Asset.Contract, req.Wallet.Address, spender)
	if err != nil {
		return fmt.Errorf("read allowance: %w", err)
	}
	if current.Cmp(amount) >= 0 {
		return nil
	}

	data, err := erc20.PackApprove(spender, amount)
	if err != nil {
		return err
	}
	if _, err := o.sender.Send(ctx, net, req.Wallet.Signer(), TxRequest{To: req.Asset.Contract, Data: data}); err != nil {
		return fmt.Errorf("approve: %w", err)
	}
	return nil
}
