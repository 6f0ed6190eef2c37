// Package cli 把 cobra 的命令行参数、配置文件和 DHCPTAP_* 环境变量合并到一个 viper 实例。
package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "DHCPTAP"

// NewViper 的优先级：显式传入的参数 > 环境变量 > 配置文件 > 默认值。
// bindings 的 key 是配置项（如 queue.size_bytes），value 是参数名（如 queue-size）。
func NewViper(configPath string, setDefaults func(*viper.Viper), flags *pflag.FlagSet, bindings map[string]string) (*viper.Viper, error) {
	v := viper.New()
	if setDefaults != nil {
		setDefaults(v)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件 %s 失败：%w", configPath, err)
		}
	}

	for key, name := range bindings {
		f := flags.Lookup(name)
		if f == nil {
			return nil, fmt.Errorf("参数 --%s 不存在", name)
		}
		if err := v.BindPFlag(key, f); err != nil {
			return nil, fmt.Errorf("绑定参数 --%s 失败：%w", name, err)
		}
	}
	return v, nil
}
