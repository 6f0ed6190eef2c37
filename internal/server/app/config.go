package app

import (
	"fmt"

	"github.com/spf13/viper"

	"dhcptap/internal/logging"
)

const (
	DriverDuckDB = "duckdb"
	DriverSQLite = "sqlite"
)

type DBConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

type Config struct {
	Listen string         `mapstructure:"listen"`
	DB     DBConfig       `mapstructure:"db"`
	Log    logging.Config `mapstructure:"log"`
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("listen", ":8080")
	v.SetDefault("db.driver", DriverDuckDB)
	v.SetDefault("db.path", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file.enabled", false)
	v.SetDefault("log.file.path", "/var/log/dhcptap/server.log")
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
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	switch c.DB.Driver {
	case "":
		c.DB.Driver = DriverDuckDB
	case DriverDuckDB, DriverSQLite:
	default:
		return fmt.Errorf("db.driver 非法：%s（可选 duckdb / sqlite）", c.DB.Driver)
	}
	if c.DB.Path == "" {
		c.DB.Path = "./dhcp_events." + c.DB.Driver
	}
	return nil
}
