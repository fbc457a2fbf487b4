package erc20

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

const abiJSON = `[
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"},
	{"anonymous":false,"inputs":[{"indexed":true,"name":"from","type":"address"},{"indexed":true,"name":"to","type":"address"},{"indexed":false,"name":"value","type":"uint256"}],"name":"Transfer","type":"event"}
]`

// ABI ERC-20 最小子集
var ABI abi.ABI

// TransferTopic Transfer(address,address,uint256) 事件签名
var TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

func init() {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		panic(fmt.Sprintf("erc20: invalid abi: %v", err))
	}
	ABI = parsed
}

func PackBalanceOf(owner common.Address) ([]byte, error) {
	return ABI.Pack("balanceOf", owner)
}

func PackAllowance(owner, spender common.Address) ([]byte, error) {
	return ABI.Pack("allowance", owner, spender)
}

func PackApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	return ABI.Pack("approve", spender, amount)
}

func PackTransfer(to common.Address, amount *big.Int) ([]byte, error) {
	return ABI.Pack("transfer", to, amount)
}

// UnpackUint256 解析 balanceOf / allowance 的返回值
func UnpackUint256(method string, data []byte) (*big.Int, error) {
	out, err := ABI.Unpack(method, data)
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("erc20: unexpected %s output length %d", method, len(out))
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("erc20: unexpected %s output type %T", method, out[0])
	}
	return v, nil
}

// Transfer 解析后的 Transfer 事件
type Transfer struct {
	Token common.Address
	From  common.Address
	To    common.Address
	Value *big.Int
}

// ParseTransfer 解析一条日志，不是 Transfer 事件时返回 false
func ParseTransfer(log *types.Log) (*Transfer, bool) {
	if log == nil || len(log.Topics) != 3 || log.Topics[0] != TransferTopic || len(log.Data) != 32 {
		return nil, false
	}
	return &Transfer{
		Token: log.Address,
		From:  common.BytesToAddress(log.Topics[1].Bytes()),
		To:    common.BytesToAddress(log.Topics[2].Bytes()),
		Value: new(big.Int).SetBytes(log.Data),
	}, true
}

// TransferLog 构造 Transfer 事件日志，用于测试链与回执构造
func TransferLog(token, from, to common.Address, value *big.Int) *types.Log {
	return &types.Log{
		Address: token,
		Topics: []common.Hash{
			TransferTopic,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data: common.LeftPadBytes(value.Bytes(), 32),
	}
}
