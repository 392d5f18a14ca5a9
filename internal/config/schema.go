package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// BridgeConfig WhatsApp 桥接服务配置
type BridgeConfig struct {
	URL string `json:"url" mapstructure:"url" env:"WABRIDGE_BRIDGE_URL"`
	// RequestTimeout 单个桥接请求超时（秒）
	RequestTimeout int `json:"requestTimeout" mapstructure:"requestTimeout" env:"WABRIDGE_BRIDGE_REQUEST_TIMEOUT"`
	EventBuffer    int `json:"eventBuffer" mapstructure:"eventBuffer" env:"WABRIDGE_BRIDGE_EVENT_BUFFER"`
}

// ServerConfig HTTP / socket.io 服务配置
type ServerConfig struct {
	Host             string   `json:"host" mapstructure:"host" env:"WABRIDGE_SERVER_HOST"`
	Port             int      `json:"port" mapstructure:"port" env:"WABRIDGE_SERVER_PORT"`
	AllowOrigins     []string `json:"allowOrigins" mapstructure:"allowOrigins" env:"WABRIDGE_SERVER_ALLOW_ORIGINS" envSeparator:","`
	Secret           string   `json:"secret,omitempty" mapstructure:"secret" env:"WABRIDGE_SERVER_SECRET"`
	TokenExpiryHours int      `json:"tokenExpiryHours" mapstructure:"tokenExpiryHours" env:"WABRIDGE_SERVER_TOKEN_EXPIRY_HOURS"`
	GinMode          string   `json:"ginMode" mapstructure:"ginMode" env:"WABRIDGE_SERVER_GIN_MODE"`
	SubscriberBuffer int      `json:"subscriberBuffer" mapstructure:"subscriberBuffer" env:"WABRIDGE_SERVER_SUBSCRIBER_BUFFER"`
}

// MediaConfig 媒体缓存配置
type MediaConfig struct {
	Root         string `json:"root" mapstructure:"root" env:"WABRIDGE_MEDIA_ROOT"`
	PublicPrefix string `json:"publicPrefix" mapstructure:"publicPrefix" env:"WABRIDGE_MEDIA_PUBLIC_PREFIX"`
	Concurrency  int    `json:"concurrency" mapstructure:"concurrency" env:"WABRIDGE_MEDIA_CONCURRENCY"`
	// FetchTimeout 单次下载超时（秒）
	FetchTimeout int `json:"fetchTimeout" mapstructure:"fetchTimeout" env:"WABRIDGE_MEDIA_FETCH_TIMEOUT"`
	// RetentionMinutes 已完成记录在内存中保留的时间
	RetentionMinutes int    `json:"retentionMinutes" mapstructure:"retentionMinutes" env:"WABRIDGE_MEDIA_RETENTION_MINUTES"`
	SweepSchedule    string `json:"sweepSchedule" mapstructure:"sweepSchedule" env:"WABRIDGE_MEDIA_SWEEP_SCHEDULE"`
}

// Config 根配置
type Config struct {
	Bridge BridgeConfig `json:"bridge" mapstructure:"bridge"`
	Server ServerConfig `json:"server" mapstructure:"server"`
	Media  MediaConfig  `json:"media" mapstructure:"media"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			URL:            "ws://localhost:3001",
			RequestTimeout: 30,
			EventBuffer:    256,
		},
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             3100,
			AllowOrigins:     []string{"*"},
			TokenExpiryHours: 24 * 7,
			GinMode:          "release",
			SubscriberBuffer: 64,
		},
		Media: MediaConfig{
			Root:             filepath.Join(GetDataDir(), "media"),
			PublicPrefix:     "/media",
			Concurrency:      4,
			FetchTimeout:     120,
			RetentionMinutes: 30,
			SweepSchedule:    "@every 10m",
		},
	}
}

// Validate 检查配置是否可用
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Bridge.URL) == "" {
		return fmt.Errorf("bridge.url is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Media.Concurrency <= 0 {
		return fmt.Errorf("media.concurrency must be positive")
	}
	if strings.TrimSpace(c.Media.Root) == "" {
		return fmt.Errorf("media.root is required")
	}
	if !strings.HasPrefix(c.Media.PublicPrefix, "/") {
		return fmt.Errorf("media.publicPrefix must start with /")
	}
	return nil
}

// Addr 返回监听地址
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func (b BridgeConfig) Timeout() time.Duration {
	return seconds(b.RequestTimeout, 30)
}

func (m MediaConfig) Timeout() time.Duration {
	return seconds(m.FetchTimeout, 120)
}

func (m MediaConfig) Retention() time.Duration {
	if m.RetentionMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(m.RetentionMinutes) * time.Minute
}

func (s ServerConfig) TokenExpiry() time.Duration {
	if s.TokenExpiryHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(s.TokenExpiryHours) * time.Hour
}

func seconds(v, fallback int) time.Duration {
	if v <= 0 {
		v = fallback
	}
	return time.Duration(v) * time.Second
}
