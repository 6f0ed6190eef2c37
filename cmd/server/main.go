package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"dhcptap/internal/cli"
	"dhcptap/internal/logging"
	"dhcptap/internal/server/app"
)

func newRootCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:          "dhcptap-server",
		Short:        "接收 agent 上报的 DHCP 事件并提供查询",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := cli.NewViper(configPath, app.SetDefaults, cmd.Flags(), map[string]string{
				"listen":    "listen",
				"db.driver": "db-driver",
				"db.path":   "db",
				"log.level": "log-level",
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
			if cfg.Log.Level != "debug" {
				gin.SetMode(gin.ReleaseMode)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return app.Run(ctx, cfg)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&configPath, "config", "c", "", "配置文件路径（yaml）")
	f.String("listen", ":8080", "监听地址")
	f.String("db-driver", app.DriverDuckDB, "数据库类型：duckdb 或 sqlite")
	f.String("db", "", "数据库文件路径")
	f.String("log-level", "info", "日志级别")
	return cmd
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "server 运行失败：%v\n", err)
		os.Exit(1)
	}
}
