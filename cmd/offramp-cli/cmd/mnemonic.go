package cmd

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"offramp-core/pkg/bip39"
	"offramp-core/pkg/keystore"
)

var mnemonicCmd = &cobra.Command{
	Use:   "mnemonic",
	Short: "主助记词管理",
}

var mnemonicNewCmd = &cobra.Command{
	Use:   "new",
	Short: "生成新的主助记词并加密保存",
	Long:  `生成 24 词 BIP-39 助记词，使用输入的密码加密后保存为 Keystore 文件。服务启动时通过 WALLET_PASSWORD 解密。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		outputFile, _ := cmd.Flags().GetString("output")
		show, _ := cmd.Flags().GetBool("show")
		if _, err := os.Stat(outputFile); err == nil {
			return fmt.Errorf("文件 %s 已存在，请先删除或指定其他文件名", outputFile)
		}

		password, err := readNewPassword(cmd)
		if err != nil {
			return err
		}

		mnemonic, err := bip39.NewMnemonicService().GenerateMnemonic(256)
		if err != nil {
			return err
		}

		key, err := keystore.EncryptMnemonic(mnemonic, password, 0)
		if err != nil {
			return fmt.Errorf("加密失败: %w", err)
		}
		if err := key.SaveToFile(outputFile); err != nil {
			return fmt.Errorf("保存文件失败: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Keystore 已保存: %s (id %s)\n", outputFile, key.Id)
		if show {
			fmt.Fprintln(out, "---------------------------------------------------")
			fmt.Fprintln(out, mnemonic)
			fmt.Fprintln(out, "---------------------------------------------------")
		}
		fmt.Fprintln(out, "请务必记住密码，丢失密码将无法恢复托管资产。")
		return nil
	},
}

func readNewPassword(cmd *cobra.Command) (string, error) {
	if pw := os.Getenv("WALLET_PASSWORD"); pw != "" {
		return pw, nil
	}
	fmt.Fprint(cmd.OutOrStdout(), "输入密码: ")
	first, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(cmd.OutOrStdout())
	if err != nil {
		return "", fmt.Errorf("读取密码失败: %w", err)
	}
	fmt.Fprint(cmd.OutOrStdout(), "确认密码: ")
	second, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(cmd.OutOrStdout())
	if err != nil {
		return "", fmt.Errorf("读取密码失败: %w", err)
	}
	if string(first) != string(second) {
		return "", errors.New("两次输入的密码不一致")
	}
	if len(first) < 12 {
		return "", errors.New("密码长度至少需要 12 位")
	}
	return string(first), nil
}

func init() {
	mnemonicNewCmd.Flags().StringP("output", "o", "wallet.json", "输出的 Keystore 文件名")
	mnemonicNewCmd.Flags().Bool("show", false, "同时打印助记词用于离线备份")
	mnemonicCmd.AddCommand(mnemonicNewCmd)
	rootCmd.AddCommand(mnemonicCmd)
}
