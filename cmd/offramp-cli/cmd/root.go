package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"offramp-core/pkg/config"
)

var cfgFile string

// rootCmd 代表基础命令，没有子命令时直接调用
var rootCmd = &cobra.Command{
	Use:   "offramp-cli",
	Short: "出金服务运维命令行工具",
	Long: `offramp-core 的运维工具。
支持生成加密的主助记词 Keystore、查看托管地址派生结果以及重启失败的出金交易。`,
	SilenceUsage: true,
}

// Execute 将所有子命令添加到根命令并设置标志
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "配置文件路径 (默认 ./config/config.yaml)")
}

func loadConfig() (*config.Config, error) {
	return config.LoadFile(cfgFile)
}
