package app

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"dhcptap/internal/agent/queue"
	"dhcptap/internal/logging"
)

const (
	ModeAFPacket = "afpacket"
	ModeXDP      = "xdp"
)

type QueueConfig struct {
	SizeBytes int `mapstructure:"size_bytes"`
}

type XDPConfig struct {
	Generic bool `mapstructure:"generic"`
}

type ReportConfig struct {
	// Server 为空时只打日志不上报
	Server  string        `mapstructure:"server"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type DedupConfig struct {
	Window time.Duration `mapstructure:"window"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

type Config struct {
	Interface string         `mapstructure:"interface"`
	Mode      string         `mapstructure:"mode"`
	Queue     QueueConfig    `mapstructure:"queue"`
	XDP       XDPConfig      `mapstructure:"xdp"`
	Report    ReportConfig   `mapstructure:"report"`
	Dedup     DedupConfig    `mapstructure:"dedup"`
	Metrics   MetricsConfig  `mapstructure:"metrics"`
	Log       logging.Config `mapstructure:"log"`
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("mode", ModeAFPacket)
	v.SetDefault("queue.size_bytes", 1<<20)
	v.SetDefault("xdp.generic", false)
	v.SetDefault("report.timeout", "5s")
	v.SetDefault("dedup.window", "5s")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", ":9467")
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file.enabled", false)
	v.SetDefault("log.file.path", "/var/log/dhcptap/agent.log")
	v.SetDefault("log.file.max_size_mb", 100)
	v.SetDefault("log.file.max_backups", 5)
	v.SetDefault("log.file.max_age_days", 30)
	v.SetDefault("log.file.compress", true)
}

func LoadConfig(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("解析配置失败：%w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Interface == "" {
		return fmt.Errorf("interface 必填")
	}
	switch c.Mode {
	case "":
		c.Mode = ModeAFPacket
	case ModeAFPacket, ModeXDP:
	default:
		return fmt.Errorf("mode 非法：%s（可选 afpacket / xdp）", c.Mode)
	}
	if c.Queue.SizeBytes == 0 {
		c.Queue.SizeBytes = 1 << 20
	}
	n := c.Queue.SizeBytes
	if n < queue.MinCapacity || n&(n-1) != 0 {
		return fmt.Errorf("queue.size_bytes 必须是不小于 %d 的 2 的幂：%d", queue.MinCapacity, n)
	}
	if c.Report.Timeout <= 0 {
		c.Report.Timeout = 5 * time.Second
	}
	if c.Dedup.Window <= 0 {
		c.Dedup.Window = 5 * time.Second
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		return fmt.Errorf("metrics.listen 不能为空")
	}
	return nil
}
