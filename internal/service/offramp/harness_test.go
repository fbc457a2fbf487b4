package offramp

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"offramp-core/internal/model"
	"offramp-core/pkg/bip39"
	"offramp-core/pkg/retry"
	"offramp-core/pkg/utils/lock"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

var (
	testUSDC     = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	testUSDT     = common.HexToAddress("0x00000000000000000000000000000000000000c2")
	testDAI      = common.HexToAddress("0x00000000000000000000000000000000000000c3")
	testReceiver = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	testRouter   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
)

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000_000_000_000))
}

func usd(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000))
}

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func testSeed(t *testing.T) []byte {
	t.Helper()
	seed, err := bip39.NewMnemonicService().SeedFromMnemonic(testMnemonic, "")
	require.NoError(t, err)
	return seed
}

func testNetwork(client ChainClient) *Network {
	return &Network{
		Name:     model.NetworkBase,
		ChainID:  big.NewInt(8453),
		Client:   client,
		Receiver: testReceiver,
		Native:   TokenSpec{Asset: NativeAsset("ETH"), MinRaw: big.NewInt(1_000_000_000_000_000)},
		Settlement: TokenSpec{
			Asset:  FungibleAsset("USDC", testUSDC, 6),
			MinRaw: usd(1),
		},
		Tokens: []TokenSpec{
			{Asset: FungibleAsset("USDT", testUSDT, 6), MinRaw: usd(1)},
			{Asset: FungibleAsset("DAI", testDAI, 18), MinRaw: ether(1)},
		},
		GasTopUp:   big.NewInt(500_000_000_000_000),
		GasReserve: new(big.Int),
		GasBudget:  300000,
	}
}

type harness struct {
	t           *testing.T
	chain       *fakeChain
	aggregator  *fakeAggregator
	gateway     *fakeGateway
	store       *memoryStore
	locker      *lock.LocalLock
	net         *Network
	provisioner *WalletProvisioner
	treasury    *Treasury
	sm          *StateMachine
	rate        rateFunc
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	chain := newFakeChain(8453, testRouter)
	net := testNetwork(chain)

	provisioner, err := NewWalletProvisionerFromSeed(testSeed(t))
	require.NoError(t, err)

	sender := NewTxSender(time.Millisecond, 5*time.Second)
	treasury, err := NewTreasury(net, provisioner, sender)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	treasury.Start(ctx)
	chain.fund(treasury.Address(), ether(1))

	tiers := []FeeTier{
		{Min: decimal.Zero, Max: decPtr("1000"), Percentage: decimal.NewFromInt(2)},
		{Min: decimal.RequireFromString("1000.01"), Percentage: decimal.RequireFromString("1.5")},
	}
	fees, err := NewFeeCalculator(tiers)
	require.NoError(t, err)

	h := &harness{
		t:           t,
		chain:       chain,
		aggregator:  newFakeAggregator(testRouter),
		gateway:     newFakeGateway(),
		store:       newMemoryStore(),
		locker:      lock.NewLocalLock(),
		net:         net,
		provisioner: provisioner,
		treasury:    treasury,
		rate:        fixedRate("1600"),
	}

	treasuries := map[model.Network]*Treasury{net.Name: treasury}
	policy := retry.Immediate(3)
	var seq atomic.Int64

	h.sm = NewStateMachine(Deps{
		Store:        h.store,
		Networks:     Networks{net.Name: net},
		Provisioner:  provisioner,
		Scanner:      NewTokenScanner(),
		Funder:       NewGasFunder(treasuries, policy),
		Swapper:      NewSwapOrchestrator(h.aggregator, sender, policy, 100),
		Consolidator: NewConsolidator(sender, treasuries),
		Verifier:     NewSettlementVerifier(50),
		Fees:         fees,
		Rates: rateFunc(func(ctx context.Context, base, quote string) (decimal.Decimal, error) {
			return h.rate(ctx, base, quote)
		}),
		Payouts: NewPayoutDispatcher(h.gateway, policy),
		Locker:  h.locker,
	}, Options{
		Currency: "NGN",
		LockTTL:  time.Minute,
		NewID: func() string {
			return fmt.Sprintf("tx-%d", seq.Add(1))
		},
	})
	return h
}

// create 为新用户分配地址
func (h *harness) create(userID string) *model.OfframpTransaction {
	h.t.Helper()
	tx, err := h.sm.CreateAddress(context.Background(), CreateAddressInput{
		UserID:        &userID,
		Network:       model.NetworkBase,
		AccountNumber: "0123456789",
		BankCode:      "058",
		AccountName:   "ADA OBI",
	})
	require.NoError(h.t, err)
	return tx
}

func (h *harness) wallet(tx *model.OfframpTransaction) common.Address {
	return common.HexToAddress(tx.WalletAddress)
}

func (h *harness) reload(id string) *model.OfframpTransaction {
	h.t.Helper()
	tx, err := h.store.Get(context.Background(), id)
	require.NoError(h.t, err)
	return tx
}

func lower(s string) string {
	return strings.ToLower(s)
}
