package cmd

import (
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"offramp-core/internal/bootstrap"
	"offramp-core/internal/service/offramp"
)

var deriveCmd = &cobra.Command{
	Use:   "derive [identifier]",
	Short: "查看标识符对应的托管地址",
	Long:  `按用户 ID 或交易 ID 派生托管地址，用于核对数据库中的 wallet_address。--treasury 显示各链共用的 treasury 地址。`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		treasury, _ := cmd.Flags().GetBool("treasury")
		if !treasury && len(args) == 0 {
			return fmt.Errorf("需要 identifier 参数或 --treasury")
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Wallet.Password == "" && cfg.Wallet.Mnemonic == "" {
			if _, err := os.Stat(cfg.Wallet.KeystorePath); err == nil {
				fmt.Fprint(cmd.OutOrStdout(), "Keystore 密码: ")
				pw, err := term.ReadPassword(int(syscall.Stdin))
				fmt.Fprintln(cmd.OutOrStdout())
				if err != nil {
					return err
				}
				cfg.Wallet.Password = string(pw)
			}
		}

		provisioner, err := bootstrap.Provisioner(cfg.Wallet, cfg.App.Env)
		if err != nil {
			return err
		}

		var w *offramp.Wallet
		if treasury {
			w, err = provisioner.Treasury()
		} else {
			w, err = provisioner.Derive(args[0])
		}
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "address: %s\n", w.Address.Hex())
		fmt.Fprintf(out, "path:    %s\n", w.Path)
		fmt.Fprintf(out, "index:   %d\n", w.Index)
		return nil
	},
}

func init() {
	deriveCmd.Flags().Bool("treasury", false, "显示 treasury 地址")
	rootCmd.AddCommand(deriveCmd)
}
