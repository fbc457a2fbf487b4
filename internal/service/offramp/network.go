package offramp

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"offramp-core/internal/model"
	"offramp-core/pkg/config"
)

type AssetKind uint8

const (
	AssetNative AssetKind = iota
	AssetFungible
)

// Asset 原生币或 ERC-20 代币
type Asset struct {
	Kind     AssetKind
	Symbol   string
	Contract common.Address // 原生币为零地址
	Decimals uint8
}

func NativeAsset(symbol string) Asset {
	return Asset{Kind: AssetNative, Symbol: symbol, Decimals: 18}
}

func FungibleAsset(symbol string, contract common.Address, decimals uint8) Asset {
	return Asset{Kind: AssetFungible, Symbol: symbol, Contract: contract, Decimals: decimals}
}

func (a Asset) IsNative() bool {
	return a.Kind == AssetNative
}

// Ref 日志与持久化使用的标识，原生币为 "native"
func (a Asset) Ref() string {
	if a.IsNative() {
		return "native"
	}
	return a.Contract.Hex()
}

func (a Asset) Same(b Asset) bool {
	if a.Kind != b.Kind {
		return false
	}
	return a.IsNative() || a.Contract == b.Contract
}

// Human 把最小单位换算成人类可读数量
func (a Asset) Human(raw *big.Int) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -int32(a.Decimals))
}

// TokenSpec 允许列表中的资产及其最小处理金额
type TokenSpec struct {
	Asset  Asset
	MinRaw *big.Int
}

// IsDust 余额为零或低于最小金额
func (s TokenSpec) IsDust(raw *big.Int) bool {
	if raw == nil || raw.Sign() <= 0 {
		return true
	}
	return s.MinRaw != nil && raw.Cmp(s.MinRaw) < 0
}

// Holding 一次余额扫描的结果
type Holding struct {
	Asset  Asset
	Raw    *big.Int
	Amount decimal.Decimal
}

// Network 单条链的运行时配置
type Network struct {
	Name       model.Network
	ChainID    *big.Int
	Client     ChainClient
	Receiver   common.Address // 归集目标 (资金接收钱包)
	Native     TokenSpec
	Settlement TokenSpec
	Tokens     []TokenSpec // 允许兑换的代币，按优先级排列
	GasTopUp   *big.Int
	GasReserve *big.Int
	GasBudget  uint64 // 兑换 + 授权 + 归集预计消耗的 gas 上限
}

// SpecFor 查找资产对应的配置
func (n *Network) SpecFor(asset Asset) (TokenSpec, bool) {
	if asset.IsNative() {
		return n.Native, true
	}
	if n.Settlement.Asset.Same(asset) {
		return n.Settlement, true
	}
	for _, spec := range n.Tokens {
		if spec.Asset.Same(asset) {
			return spec, true
		}
	}
	return TokenSpec{}, false
}

// AssetOf 根据交易记录还原已检测到的资产
func (n *Network) AssetOf(tx *model.OfframpTransaction) (Asset, error) {
	if tx.TokenAddress == "" {
		return n.Native.Asset, nil
	}
	if !common.IsHexAddress(tx.TokenAddress) {
		return Asset{}, fmt.Errorf("invalid token address %q", tx.TokenAddress)
	}
	asset := FungibleAsset(tx.TokenSymbol, common.HexToAddress(tx.TokenAddress), tx.TokenDecimals)
	if spec, ok := n.SpecFor(asset); ok {
		return spec.Asset, nil
	}
	return Asset{}, fmt.Errorf("token %s is not allowed on %s", tx.TokenAddress, n.Name)
}

// Networks 按名称索引的链配置
type Networks map[model.Network]*Network

func (ns Networks) Get(name model.Network) (*Network, error) {
	if net, ok := ns[name]; ok && net != nil {
		return net, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedNetwork, name)
}

// NewNetwork 把配置解析为运行时结构，client 由调用方负责拨号
func NewNetwork(name model.Network, cfg config.NetworkConfig, client ChainClient) (*Network, error) {
	if !name.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedNetwork, name)
	}
	if !common.IsHexAddress(cfg.Receiver) {
		return nil, fmt.Errorf("network %s: invalid receiver %q", name, cfg.Receiver)
	}

	nativeSymbol := cfg.NativeSymbol
	if nativeSymbol == "" {
		nativeSymbol = "ETH"
	}
	nativeMin, err := parseRaw(cfg.NativeMin, "native_min")
	if err != nil {
		return nil, fmt.Errorf("network %s: %w", name, err)
	}

	settlement, err := tokenSpec(cfg.Settlement)
	if err != nil {
		return nil, fmt.Errorf("network %s settlement: %w", name, err)
	}

	net := &Network{
		Name:       name,
		ChainID:    big.NewInt(cfg.ChainID),
		Client:     client,
		Receiver:   common.HexToAddress(cfg.Receiver),
		Native:     TokenSpec{Asset: NativeAsset(nativeSymbol), MinRaw: nativeMin},
		Settlement: settlement,
		GasBudget:  cfg.GasBudget,
	}
	for _, tc := range cfg.Tokens {
		spec, err := tokenSpec(tc)
		if err != nil {
			return nil, fmt.Errorf("network %s token %s: %w", name, tc.Symbol, err)
		}
		if spec.Asset.Same(settlement.Asset) {
			continue
		}
		net.Tokens = append(net.Tokens, spec)
	}

	if net.GasTopUp, err = parseRaw(cfg.GasTopUp, "gas_top_up"); err != nil {
		return nil, fmt.Errorf("network %s: %w", name, err)
	}
	if net.GasReserve, err = parseRaw(cfg.GasReserve, "gas_reserve"); err != nil {
		return nil, fmt.Errorf("network %s: %w", name, err)
	}
	if net.GasBudget == 0 {
		net.GasBudget = 300000
	}
	return net, nil
}

func tokenSpec(tc config.TokenConfig) (TokenSpec, error) {
	if !common.IsHexAddress(tc.Address) {
		return TokenSpec{}, fmt.Errorf("invalid token address %q", tc.Address)
	}
	minRaw, err := parseRaw(tc.MinAmount, "min_amount")
	if err != nil {
		return TokenSpec{}, err
	}
	return TokenSpec{
		Asset:  FungibleAsset(strings.ToUpper(tc.Symbol), common.HexToAddress(tc.Address), tc.Decimals),
		MinRaw: minRaw,
	}, nil
}

// parseRaw 解析最小单位的十进制字符串，空串视为 0
func parseRaw(s, field string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid %s %q", field, s)
	}
	return v, nil
}
