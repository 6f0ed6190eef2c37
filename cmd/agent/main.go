package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"dhcptap/internal/agent/app"
	"dhcptap/internal/cli"
	"dhcptap/internal/logging"
)

func newRootCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "dhcptap-agent",
		Short: "抓取网卡上发往 DHCP 服务端端口的报文并上报",
		Long: `
在指定网卡上抓取 DHCPv4（UDP 67）和 DHCPv6（UDP 547）客户端报文，
写入捕获队列后解析成事件，打日志并上报到 dhcptap-server。

Examples:
  dhcptap-agent -i eth0
  dhcptap-agent -i eth0 --mode xdp --server 10.0.0.1:8080
  dhcptap-agent -c /etc/dhcptap/agent.yaml
`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := cli.NewViper(configPath, app.SetDefaults, cmd.Flags(), map[string]string{
				"interface":         "interface",
				"mode":              "mode",
				"queue.size_bytes":  "queue-size",
				"xdp.generic":       "xdp-generic",
				"report.server":     "server",
				"report.timeout":    "report-timeout",
				"dedup.window":      "dedup-window",
				"metrics.enabled":   "metrics",
				"metrics.listen":    "metrics-listen",
				"log.level":         "log-level",
			})
			if err != nil {
				return err
			}
			cfg, err := app.LoadConfig(v)
			if err != nil {
				return err
			}

			closer, err := logging.Setup(cfg.Log)
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := app.Run(ctx, cfg); err != nil {
				return err
			}
			logrus.Info("agent 正常退出")
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&configPath, "config", "c", "", "配置文件路径（yaml）")
	f.StringP("interface", "i", "", "要监听的网卡名（如 eth0），必填")
	f.String("mode", app.ModeAFPacket, "抓包方式：afpacket 或 xdp")
	f.Int("queue-size", 1<<20, "捕获队列字节数，必须是 2 的幂")
	f.Bool("xdp-generic", false, "XDP 使用 generic（skb）模式")
	f.String("server", "", "Server 地址，为空时只打日志")
	f.Duration("report-timeout", 0, "上报 HTTP 超时")
	f.Duration("dedup-window", 0, "重传去重窗口")
	f.Bool("metrics", false, "开启 Prometheus 指标")
	f.String("metrics-listen", ":9467", "指标监听地址")
	f.String("log-level", "info", "日志级别")
	return cmd
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "agent 退出：%v\n", err)
		os.Exit(1)
	}
}
