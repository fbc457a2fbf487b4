package offramp

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/ethereum/go-ethereum/common"

	"offramp-core/pkg/bip32"
	"offramp-core/pkg/crypto_util"
)

const (
	// DerivationPathTemplate BIP-44 以太坊路径，最后一段为地址索引
	DerivationPathTemplate = "m/44'/60'/0'/0/%d"

	maxIdentifierLen = 128
	// 0 号索引保留给 treasury，客户地址落在 [1, 2^31-1]
	treasuryIndex = 0
	indexBound    = hdkeychain.HardenedKeyStart - 1
)

// Wallet 托管地址及其签名者
type Wallet struct {
	Address common.Address
	Path    string
	Index   uint32
	signer  *Signer
}

func (w *Wallet) Signer() *Signer {
	return w.signer
}

// WalletProvisioner 由主种子确定性地派生托管钱包，不缓存任何私钥
type WalletProvisioner struct {
	master bip32.HDWallet
}

// NewWalletProvisioner master 为 nil 时所有派生都会返回 ErrDerivation
func NewWalletProvisioner(master bip32.HDWallet) *WalletProvisioner {
	return &WalletProvisioner{master: master}
}

// NewWalletProvisionerFromSeed 使用 BIP-39 种子创建
func NewWalletProvisionerFromSeed(seed []byte) (*WalletProvisioner, error) {
	master, err := bip32.NewMasterKeyFromSeed(seed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDerivation, err)
	}
	return NewWalletProvisioner(master), nil
}

// DerivationIndex 标识符到地址索引的稳定映射
func DerivationIndex(identifier string) uint32 {
	return crypto_util.BoundedIndex([]byte(identifier), indexBound)
}

// Derive 同一个标识符永远得到同一个地址
func (p *WalletProvisioner) Derive(identifier string) (*Wallet, error) {
	if err := validateIdentifier(identifier); err != nil {
		return nil, err
	}
	return p.DeriveIndex(DerivationIndex(identifier))
}

// Treasury 派生 treasury 钱包 (索引 0)
func (p *WalletProvisioner) Treasury() (*Wallet, error) {
	return p.DeriveIndex(treasuryIndex)
}

func (p *WalletProvisioner) DeriveIndex(index uint32) (*Wallet, error) {
	if p == nil || p.master == nil {
		return nil, fmt.Errorf("%w: master seed not configured", ErrDerivation)
	}
	if index >= hdkeychain.HardenedKeyStart {
		return nil, fmt.Errorf("%w: index %d out of range", ErrDerivation, index)
	}

	path := fmt.Sprintf(DerivationPathTemplate, index)
	key, err := p.master.DerivePath(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDerivation, err)
	}
	priv, err := key.ECDSA()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDerivation, err)
	}

	signer := newSigner(priv)
	return &Wallet{
		Address: signer.Address(),
		Path:    path,
		Index:   index,
		signer:  signer,
	}, nil
}

func validateIdentifier(identifier string) error {
	switch {
	case identifier == "":
		return fmt.Errorf("%w: empty identifier", ErrDerivation)
	case len(identifier) > maxIdentifierLen:
		return fmt.Errorf("%w: identifier longer than %d bytes", ErrDerivation, maxIdentifierLen)
	case strings.TrimSpace(identifier) != identifier:
		return fmt.Errorf("%w: identifier has surrounding whitespace", ErrDerivation)
	}
	return nil
}
