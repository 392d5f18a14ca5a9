package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
)

// GetConfigDir 返回配置目录
func GetConfigDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".wabridge"
	}
	return filepath.Join(homeDir, ".wabridge")
}

// GetConfigPath 返回配置文件路径
func GetConfigPath() string {
	return filepath.Join(GetConfigDir(), "config.json")
}

// GetDataDir 返回数据目录
func GetDataDir() string {
	return GetConfigDir()
}

// GetLogsDir 返回日志目录
func GetLogsDir() string {
	return filepath.Join(GetConfigDir(), "logs")
}

// LoadConfig 从默认路径加载配置
func LoadConfig() (*Config, error) {
	return LoadConfigFrom(GetConfigPath())
}

// LoadConfigFrom 从文件加载配置，再叠加 WABRIDGE_* 环境变量
func LoadConfigFrom(configPath string) (*Config, error) {
	return loadConfig(configPath, env.Options{})
}

func loadConfig(configPath string, opts env.Options) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(configPath)
	switch {
	case os.IsNotExist(err):
		// 如果配置文件不存在，使用默认配置
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := env.ParseWithOptions(config, opts); err != nil {
		return nil, fmt.Errorf("failed to apply env overrides: %w", err)
	}

	config.Media.Root = expandPath(config.Media.Root)
	config.Media.PublicPrefix = "/" + strings.Trim(config.Media.PublicPrefix, "/")

	return config, nil
}

func expandPath(path string) string {
	if path == "" {
		return path
	}

	path = os.ExpandEnv(path)

	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			if path == "~" {
				return home
			}
			if strings.HasPrefix(path, "~/") {
				return filepath.Join(home, path[2:])
			}
		}
	}

	return path
}

// SaveConfig 保存配置到默认路径
func SaveConfig(config *Config) error {
	return SaveConfigTo(GetConfigPath(), config)
}

// SaveConfigTo 保存配置到指定文件
func SaveConfigTo(configPath string, config *Config) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// EnsureMediaRoot 确保媒体目录存在
func EnsureMediaRoot(config *Config) error {
	if err := os.MkdirAll(config.Media.Root, 0755); err != nil {
		return fmt.Errorf("failed to create media root: %w", err)
	}
	return nil
}
