package cmd

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"offramp-core/internal/handler/response"
	"offramp-core/internal/provider"
)

var restartCmd = &cobra.Command{
	Use:   "restart [transaction-id]",
	Short: "重启失败的出金交易",
	Long:  `调用管理接口把失败的交易重置到最早未完成的阶段，并投递推进任务。`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		server, _ := cmd.Flags().GetString("server")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		endpoint := strings.TrimRight(server, "/") + "/api/v1/admin/offramp/" + url.PathEscape(args[0]) + "/restart"
		req, err := provider.NewRequest(ctx, http.MethodPost, endpoint, nil)
		if err != nil {
			return err
		}

		var resp response.Response
		if err := provider.NewClient("admin", httpClient, timeout).Do(req, &resp); err != nil {
			return err
		}
		if resp.Code != 0 {
			return fmt.Errorf("重启失败 (code %d): %s", resp.Code, resp.Message)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "已重启: %v\n", resp.Data)
		return nil
	},
}

// httpClient 测试时替换
var httpClient *http.Client

func init() {
	restartCmd.Flags().String("server", "http://localhost:8080", "offramp-server 地址")
	restartCmd.Flags().Duration("timeout", 10*time.Second, "请求超时")
	rootCmd.AddCommand(restartCmd)
}
