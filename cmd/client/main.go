package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"dhcptap/internal/cli"
	"dhcptap/internal/client/app"
)

func newRootCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "dhcptap-client",
		Short: "按 IP 或 MAC 查询 DHCP 事件",
		Example: `  dhcptap-client --ip 10.0.0.42
  dhcptap-client --mac 52:54:00:12:34:56 --limit 20`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := cli.NewViper(configPath, app.SetDefaults, cmd.Flags(), map[string]string{
				"server": "server",
				"ip":     "ip",
				"mac":    "mac",
				"limit":  "limit",
			})
			if err != nil {
				return err
			}
			cfg, err := app.LoadConfig(v)
			if err != nil {
				return err
			}
			return app.Run(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&configPath, "config", "c", "", "配置文件路径（yaml）")
	f.String("server", "http://127.0.0.1:8080", "Server 地址")
	f.String("ip", "", "按 IP 查询")
	f.String("mac", "", "按 MAC 查询")
	f.Int("limit", 200, "最多返回条数（1..2000）")
	return cmd
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "client 失败：%v\n", err)
		os.Exit(1)
	}
}
