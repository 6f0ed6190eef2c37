package app

import (
	"fmt"
	"net"

	"github.com/spf13/viper"
)

type Config struct {
	Server string `mapstructure:"server"`
	IP     string `mapstructure:"ip"`
	MAC    string `mapstructure:"mac"`
	Limit  int    `mapstructure:"limit"`
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("server", "http://127.0.0.1:8080")
	v.SetDefault("limit", 200)
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
	if c.Server == "" {
		return fmt.Errorf("server 必填")
	}
	if (c.IP == "") == (c.MAC == "") {
		return fmt.Errorf("ip 和 mac 必须且只能指定一个")
	}
	if c.IP != "" && net.ParseIP(c.IP) == nil {
		return fmt.Errorf("ip 非法：%s", c.IP)
	}
	if c.MAC != "" {
		if _, err := net.ParseMAC(c.MAC); err != nil {
			return fmt.Errorf("mac 非法：%s", c.MAC)
		}
	}
	return nil
}
