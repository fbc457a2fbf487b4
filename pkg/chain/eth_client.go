package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"offramp-core/pkg/erc20"
)

// EthClient 封装 ethclient，补充 ERC-20 只读调用
type EthClient struct {
	client  *ethclient.Client
	chainID *big.Int
}

// Dial 连接 RPC 节点并校验 ChainID，防止把 Base 的配置指向主网节点
func Dial(ctx context.Context, rpcURL string, expectedChainID int64) (*EthClient, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接 RPC 失败 (%s): %w", rpcURL, err)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("查询 ChainID 失败: %w", err)
	}
	if expectedChainID != 0 && chainID.Int64() != expectedChainID {
		client.Close()
		return nil, fmt.Errorf("ChainID 不匹配: 期望 %d, 节点返回 %s", expectedChainID, chainID)
	}

	return &EthClient{client: client, chainID: chainID}, nil
}

func (c *EthClient) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

func (c *EthClient) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	return c.client.BalanceAt(ctx, account, nil)
}

func (c *EthClient) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	data, err := erc20.PackBalanceOf(owner)
	if err != nil {
		return nil, err
	}
	return c.callUint256(ctx, token, "balanceOf", data)
}

func (c *EthClient) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	data, err := erc20.PackAllowance(owner, spender)
	if err != nil {
		return nil, err
	}
	return c.callUint256(ctx, token, "allowance", data)
}

func (c *EthClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return c.client.PendingNonceAt(ctx, account)
}

func (c *EthClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return c.client.SuggestGasPrice(ctx)
}

func (c *EthClient) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return c.client.EstimateGas(ctx, msg)
}

func (c *EthClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return c.client.SendTransaction(ctx, tx)
}

// TransactionReceipt 未上链时返回 ethereum.NotFound
func (c *EthClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return c.client.TransactionReceipt(ctx, txHash)
}

func (c *EthClient) Close() {
	c.client.Close()
}

func (c *EthClient) callUint256(ctx context.Context, to common.Address, method string, data []byte) (*big.Int, error) {
	out, err := c.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("%s 调用失败 (%s): %w", method, to.Hex(), err)
	}
	return erc20.UnpackUint256(method, out)
}
