package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"go.uber.org/zap"

	"offramp-core/internal/model"
	"offramp-core/internal/service/offramp"
	"offramp-core/pkg/bip39"
	"offramp-core/pkg/chain"
	"offramp-core/pkg/config"
	"offramp-core/pkg/keystore"
	"offramp-core/pkg/logger"
)

// MasterMnemonic 优先读取加密 Keystore；明文助记词只允许在非生产环境使用
func MasterMnemonic(cfg config.WalletConfig, env string) (string, error) {
	if cfg.KeystorePath != "" {
		if _, err := os.Stat(cfg.KeystorePath); err == nil {
			if cfg.Password == "" {
				return "", errors.New("keystore 需要密码 (WALLET_PASSWORD)")
			}
			return keystore.LoadMnemonic(cfg.KeystorePath, cfg.Password)
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
	}
	if cfg.Mnemonic == "" {
		return "", fmt.Errorf("keystore %q 不存在且未配置助记词", cfg.KeystorePath)
	}
	if env == "production" {
		return "", errors.New("生产环境禁止使用明文助记词")
	}
	logger.Warn("使用配置中的明文助记词，仅限开发环境")
	return cfg.Mnemonic, nil
}

// Provisioner 从配置加载主种子并构造钱包派生器
func Provisioner(cfg config.WalletConfig, env string) (*offramp.WalletProvisioner, error) {
	mnemonic, err := MasterMnemonic(cfg, env)
	if err != nil {
		return nil, err
	}
	seed, err := bip39.NewMnemonicService().SeedFromMnemonic(mnemonic, "")
	if err != nil {
		return nil, err
	}
	return offramp.NewWalletProvisionerFromSeed(seed)
}

// Networks 连接每条链的 RPC 并解析代币配置；返回的 closer 关闭所有连接
func Networks(ctx context.Context, cfgs map[string]config.NetworkConfig) (offramp.Networks, func(), error) {
	names := make([]string, 0, len(cfgs))
	for name := range cfgs {
		names = append(names, name)
	}
	sort.Strings(names)

	var clients []*chain.EthClient
	closeAll := func() {
		for _, c := range clients {
			c.Close()
		}
	}

	nets := make(offramp.Networks, len(cfgs))
	for _, name := range names {
		network := model.Network(name)
		if !network.Valid() {
			closeAll()
			return nil, nil, fmt.Errorf("%w: %s", offramp.ErrUnsupportedNetwork, name)
		}
		nc := cfgs[name]

		dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		client, err := chain.Dial(dialCtx, nc.RpcUrl, nc.ChainID)
		cancel()
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("%s: %w", name, err)
		}
		clients = append(clients, client)

		net, err := offramp.NewNetwork(network, nc, client)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("%s: %w", name, err)
		}
		nets[network] = net
		logger.Info("链已连接",
			zap.String("network", name),
			zap.Int64("chain_id", nc.ChainID),
			zap.String("settlement", net.Settlement.Asset.Symbol),
			zap.Int("tokens", len(net.Tokens)))
	}
	return nets, closeAll, nil
}
