package offramp

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offramp-core/internal/model"
	"offramp-core/pkg/config"
)

func TestNewNetwork(t *testing.T) {
	cfg := config.NetworkConfig{
		ChainID:      8453,
		Receiver:     testReceiver.Hex(),
		NativeSymbol: "ETH",
		NativeMin:    "2000000000000000",
		GasTopUp:     "500000000000000",
		Settlement:   config.TokenConfig{Symbol: "usdc", Address: testUSDC.Hex(), Decimals: 6, MinAmount: "1000000"},
		Tokens: []config.TokenConfig{
			{Symbol: "USDC", Address: testUSDC.Hex(), Decimals: 6},
			{Symbol: "USDT", Address: testUSDT.Hex(), Decimals: 6, MinAmount: "1000000"},
		},
	}

	net, err := NewNetwork(model.NetworkBase, cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(8453), net.ChainID.Int64())
	assert.Equal(t, "USDC", net.Settlement.Asset.Symbol)
	require.Len(t, net.Tokens, 1, "settlement asset is not duplicated in the allow-list")
	assert.Equal(t, "USDT", net.Tokens[0].Asset.Symbol)
	assertBig(t, big.NewInt(2_000_000_000_000_000), net.Native.MinRaw)
	assert.Equal(t, 0, net.GasReserve.Sign())
	assert.Equal(t, uint64(300000), net.GasBudget)

	spec, ok := net.SpecFor(FungibleAsset("", testUSDT, 6))
	require.True(t, ok)
	assert.Equal(t, "USDT", spec.Asset.Symbol)
	_, ok = net.SpecFor(FungibleAsset("X", common.HexToAddress("0x01"), 18))
	assert.False(t, ok)
}

func TestNewNetwork_Invalid(t *testing.T) {
	base := config.NetworkConfig{
		Receiver:   testReceiver.Hex(),
		Settlement: config.TokenConfig{Address: testUSDC.Hex(), Decimals: 6},
	}

	_, err := NewNetwork("solana", base, nil)
	require.ErrorIs(t, err, ErrUnsupportedNetwork)

	bad := base
	bad.Receiver = "not-an-address"
	_, err = NewNetwork(model.NetworkBase, bad, nil)
	require.Error(t, err)

	bad = base
	bad.GasTopUp = "-1"
	_, err = NewNetwork(model.NetworkBase, bad, nil)
	require.Error(t, err)
}

func TestNetworks_Get(t *testing.T) {
	ns := Networks{model.NetworkBase: testNetwork(nil)}
	_, err := ns.Get(model.NetworkBase)
	require.NoError(t, err)
	_, err = ns.Get(model.NetworkEthereum)
	require.ErrorIs(t, err, ErrUnsupportedNetwork)
}
