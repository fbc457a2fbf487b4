package offramp

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"offramp-core/pkg/logger"
)

// ChainClient 流水线需要的最小链上能力，由 chain.EthClient 实现
type ChainClient interface {
	BalanceAt(ctx context.Context, account common.Address) (*big.Int, error)
	TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Signer 持有派生出的私钥，只在内存中短暂存在
type Signer struct {
	address common.Address
	key     *ecdsa.PrivateKey
}

func newSigner(key *ecdsa.PrivateKey) *Signer {
	return &Signer{address: crypto.PubkeyToAddress(key.PublicKey), key: key}
}

func (s *Signer) Address() common.Address {
	return s.address
}

// nativeTransferGas 原生币转账固定消耗
const nativeTransferGas = 21000

// TxRequest 待发送的交易；零值字段由 TxSender 补全
type TxRequest struct {
	To          common.Address
	Value       *big.Int
	Data        []byte
	GasLimit    uint64   // 0 时估算并上浮 20%
	GasPrice    *big.Int // nil 时使用节点建议值
	Nonce       *uint64  // nil 时读取 pending nonce
	OnSubmitted func(hash common.Hash)
}

// TxSender 负责签名、广播并等待确认
type TxSender struct {
	poll    time.Duration
	timeout time.Duration
	log     *zap.Logger
}

func NewTxSender(poll, timeout time.Duration) *TxSender {
	if poll <= 0 {
		poll = 2 * time.Second
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &TxSender{poll: poll, timeout: timeout, log: logger.Named("tx")}
}

// Send 返回已上链的回执；交易回滚时同时返回回执和 ErrReverted
func (s *TxSender) Send(ctx context.Context, net *Network, signer *Signer, req TxRequest) (*types.Receipt, error) {
	client := net.Client
	from := signer.Address()

	gasPrice := req.GasPrice
	if gasPrice == nil {
		var err error
		if gasPrice, err = client.SuggestGasPrice(ctx); err != nil {
			return nil, fmt.Errorf("suggest gas price: %w", err)
		}
	}

	var nonce uint64
	if req.Nonce != nil {
		nonce = *req.Nonce
	} else {
		var err error
		if nonce, err = client.PendingNonceAt(ctx, from); err != nil {
			return nil, fmt.Errorf("pending nonce: %w", err)
		}
	}

	value := req.Value
	if value == nil {
		value = new(big.Int)
	}

	gasLimit := req.GasLimit
	if gasLimit == 0 {
		to := req.To
		estimated, err := client.EstimateGas(ctx, ethereum.CallMsg{
			From:     from,
			To:       &to,
			GasPrice: gasPrice,
			Value:    value,
			Data:     req.Data,
		})
		if err != nil {
			return nil, fmt.Errorf("estimate gas: %w", err)
		}
		gasLimit = estimated * 120 / 100
	}

	to := req.To
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       &to,
		Value:    value,
		Data:     req.Data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(net.ChainID), signer.key)
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}
	if err := client.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("send tx: %w", err)
	}

	hash := signed.Hash()
	s.log.Info("交易已广播",
		zap.String("network", string(net.Name)),
		zap.String("from", from.Hex()),
		zap.String("to", to.Hex()),
		zap.String("hash", hash.Hex()),
		zap.Uint64("nonce", nonce))
	if req.OnSubmitted != nil {
		req.OnSubmitted(hash)
	}

	receipt, err := s.Wait(ctx, client, hash)
	if err != nil {
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%w: %s", ErrReverted, hash.Hex())
	}
	return receipt, nil
}

// Wait 轮询回执直到交易被打包
func (s *TxSender) Wait(ctx context.Context, client ChainClient, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		receipt, err := client.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			s.log.Debug("查询回执失败", zap.String("hash", hash.Hex()), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait for %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}
