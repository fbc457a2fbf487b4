package bip32

import (
	"encoding/hex"
	"testing"

	"offramp-core/pkg/bip39"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func TestNewMasterKeyFromSeed(t *testing.T) {
	seed := bip39.NewMnemonicService().MnemonicToSeed(testMnemonic, "")

	wallet, err := NewMasterKeyFromSeed(seed, &chaincfg.MainNetParams)
	require.NoError(t, err, "生成主密钥失败")
	require.NotNil(t, wallet.MasterKey())
	assert.True(t, wallet.MasterKey().IsPrivate())

	_, err = NewMasterKeyFromSeed([]byte("short"), nil)
	assert.ErrorIs(t, err, ErrInvalidSeed)
}

func TestDerivePath_EthereumVector(t *testing.T) {
	seed := bip39.NewMnemonicService().MnemonicToSeed(testMnemonic, "")
	wallet, err := NewMasterKeyFromSeed(seed, nil)
	require.NoError(t, err)

	// 公开测试向量: 该助记词在 m/44'/60'/0'/0/0 的地址
	key, err := wallet.DerivePath("m/44'/60'/0'/0/0")
	require.NoError(t, err)

	addr, err := key.Address()
	require.NoError(t, err)
	assert.Equal(t, "0x9858EfFD232B4033E47d90003D41EC34EcaEda94", addr)

	// h 后缀与 ' 等价
	same, err := wallet.DerivePath("m/44h/60h/0h/0/0")
	require.NoError(t, err)
	assert.Equal(t, key.String(), same.String())

	// 公钥派生出的地址与私钥一致
	pub, err := key.Neuter()
	require.NoError(t, err)
	assert.False(t, pub.IsPrivate())
	pubAddr, err := pub.Address()
	require.NoError(t, err)
	assert.Equal(t, addr, pubAddr)

	_, err = pub.ECDSA()
	assert.ErrorIs(t, err, ErrPublicOnly)
}

func TestDerivePath_Deterministic(t *testing.T) {
	seed, _ := hex.DecodeString("fffcf9f6da3247d8a846f4b6113e6173")
	wallet, err := NewMasterKeyFromSeed(seed, &chaincfg.MainNetParams)
	require.NoError(t, err)

	a, err := wallet.DerivePath("m/44'/60'/0'/0/42")
	require.NoError(t, err)
	b, err := wallet.DerivePath("m/44'/60'/0'/0/42")
	require.NoError(t, err)
	assert.Equal(t, a.String(), b.String())

	c, err := wallet.DerivePath("m/44'/60'/0'/0/43")
	require.NoError(t, err)
	assert.NotEqual(t, a.String(), c.String())
}

func TestParsePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		want    []uint32
		wantErr bool
	}{
		{"root", "m", nil, false},
		{"bip44 eth", "m/44'/60'/0'/0/7", []uint32{
			44 + hdkeychain.HardenedKeyStart,
			60 + hdkeychain.HardenedKeyStart,
			hdkeychain.HardenedKeyStart,
			0,
			7,
		}, false},
		{"missing prefix", "44'/60'", nil, true},
		{"not a number", "m/44'/abc", nil, true},
		{"index overflow", "m/2147483648", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePath(tt.path)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPath)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
