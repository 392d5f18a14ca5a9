package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "ws://localhost:3001", cfg.Bridge.URL)
	assert.Equal(t, 30, cfg.Bridge.RequestTimeout)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 3100, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:3100", cfg.Server.Addr())

	assert.Equal(t, "/media", cfg.Media.PublicPrefix)
	assert.Equal(t, 4, cfg.Media.Concurrency)
	assert.Equal(t, "@every 10m", cfg.Media.SweepSchedule)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigFromMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope.json")

	cfg, err := loadConfig(path, env.Options{Environment: map[string]string{}})
	require.NoError(t, err)
	assert.Equal(t, 3100, cfg.Server.Port)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{
  "bridge": {"url": "ws://bridge:9000"},
  "server": {"port": 8080},
  "media": {"root": "~/wa-media", "publicPrefix": "files/"}
}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := loadConfig(path, env.Options{Environment: map[string]string{
		"WABRIDGE_SERVER_PORT":          "9090",
		"WABRIDGE_MEDIA_CONCURRENCY":    "8",
		"WABRIDGE_SERVER_ALLOW_ORIGINS": "http://a,http://b",
	}})
	require.NoError(t, err)

	assert.Equal(t, "ws://bridge:9000", cfg.Bridge.URL)
	// env 覆盖文件
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 8, cfg.Media.Concurrency)
	assert.Equal(t, []string{"http://a", "http://b"}, cfg.Server.AllowOrigins)
	assert.Equal(t, "/files", cfg.Media.PublicPrefix)

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "wa-media"), cfg.Media.Root)
	// 未设置的字段保留默认值
	assert.Equal(t, 120, cfg.Media.FetchTimeout)
}

func TestLoadConfigInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	_, err := loadConfig(path, env.Options{Environment: map[string]string{}})
	assert.Error(t, err)
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg := DefaultConfig()
	cfg.Server.Secret = "s3cret"

	require.NoError(t, SaveConfigTo(path, cfg))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := loadConfig(path, env.Options{Environment: map[string]string{}})
	require.NoError(t, err)
	assert.Equal(t, "s3cret", loaded.Server.Secret)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty bridge url", func(c *Config) { c.Bridge.URL = " " }},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }},
		{"zero concurrency", func(c *Config) { c.Media.Concurrency = 0 }},
		{"empty media root", func(c *Config) { c.Media.Root = "" }},
		{"relative prefix", func(c *Config) { c.Media.PublicPrefix = "media" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDurations(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Bridge.RequestTimeout = 0
	assert.Equal(t, "30s", cfg.Bridge.Timeout().String())
	assert.Equal(t, "2m0s", cfg.Media.Timeout().String())
	assert.Equal(t, "30m0s", cfg.Media.Retention().String())
	assert.Equal(t, "168h0m0s", cfg.Server.TokenExpiry().String())
}
