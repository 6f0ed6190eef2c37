// Package logging 统一三个二进制的 logrus 配置：标准输出 + 可选的滚动日志文件。
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

type FileConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type Config struct {
	Level  string     `mapstructure:"level"`
	Format string     `mapstructure:"format"`
	File   FileConfig `mapstructure:"file"`
}

// Setup 配置全局 logger，返回的 io.Closer 用于关闭日志文件。
func Setup(cfg Config) (io.Closer, error) {
	return apply(logrus.StandardLogger(), cfg, os.Stdout)
}

func apply(l *logrus.Logger, cfg Config, stdout io.Writer) (io.Closer, error) {
	level := logrus.InfoLevel
	if cfg.Level != "" {
		lv, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("日志级别非法：%w", err)
		}
		level = lv
	}
	l.SetLevel(level)

	switch cfg.Format {
	case "", "text":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("日志格式非法：%s", cfg.Format)
	}

	if !cfg.File.Enabled {
		l.SetOutput(stdout)
		return nopCloser{}, nil
	}
	if cfg.File.Path == "" {
		return nil, fmt.Errorf("log.file.path 不能为空")
	}
	lj := &lumberjack.Logger{
		Filename:   cfg.File.Path,
		MaxSize:    cfg.File.MaxSizeMB,
		MaxBackups: cfg.File.MaxBackups,
		MaxAge:     cfg.File.MaxAgeDays,
		Compress:   cfg.File.Compress,
	}
	l.SetOutput(io.MultiWriter(stdout, lj))
	return lj, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
