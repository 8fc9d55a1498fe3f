package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a3tai/mcp-conform/internal/locate"
)

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, ModeStdio, cfg.Mode)
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "mcp-conform", cfg.ServerName)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, int64(200*1024*1024), cfg.MaxFileSize)
	assert.Equal(t, DefaultLLMModel, cfg.LLMModel)
	assert.Equal(t, 120*time.Second, cfg.LLMTimeout)
	assert.Equal(t, 12, cfg.IndexPageThreshold)
	assert.Equal(t, locate.DefaultParams(), cfg.Locator)

	currentDir, _ := os.Getwd()
	assert.Equal(t, currentDir, cfg.DataDir)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "server mode", mutate: func(c *Config) { c.Mode = ModeServer }},
		{name: "invalid mode", mutate: func(c *Config) { c.Mode = "invalid" }, wantErr: "mode must be"},
		{name: "port too low in server mode", mutate: func(c *Config) { c.Mode = ModeServer; c.Port = 0 }, wantErr: "port"},
		{name: "port too high in server mode", mutate: func(c *Config) { c.Mode = ModeServer; c.Port = 70000 }, wantErr: "port"},
		{name: "port ignored in stdio mode", mutate: func(c *Config) { c.Port = 0 }},
		{name: "empty data directory", mutate: func(c *Config) { c.DataDir = "" }, wantErr: "data directory"},
		{name: "zero max file size", mutate: func(c *Config) { c.MaxFileSize = 0 }, wantErr: "file size"},
		{name: "bad log level", mutate: func(c *Config) { c.LogLevel = "verbose" }, wantErr: "invalid log level"},
		{name: "zero model timeout", mutate: func(c *Config) { c.LLMTimeout = 0 }, wantErr: "timeout"},
		{name: "zero index threshold", mutate: func(c *Config) { c.IndexPageThreshold = 0 }, wantErr: "threshold"},
		{name: "penalty above one", mutate: func(c *Config) { c.Locator.IndexPenalty = 1.5 }, wantErr: "locator"},
		{name: "penalty of one", mutate: func(c *Config) { c.Locator.IndexPenalty = 1 }},
		{name: "negative minimum score", mutate: func(c *Config) { c.Locator.MinScore = -1 }, wantErr: "locator"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfigValidateDirectoryCreation(t *testing.T) {
	cfg := validConfig(t)
	cfg.DataDir = filepath.Join(cfg.DataDir, "nested", "project")

	require.NoError(t, cfg.Validate())
	info, err := os.Stat(cfg.DataDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestApplyDerivedDefaults(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/data"
	cfg.applyDerivedDefaults()
	assert.Equal(t, filepath.Join("/data", ".mcp-conform", "projects.db"), cfg.StorePath)
	assert.Equal(t, filepath.Join("/data", ".mcp-conform", "cache"), cfg.CacheDir)

	cfg = DefaultConfig()
	cfg.StorePath = MemoryStore
	cfg.CacheDir = "/elsewhere"
	cfg.applyDerivedDefaults()
	assert.True(t, cfg.UsesMemoryStore())
	assert.Equal(t, "/elsewhere", cfg.CacheDir)
}

func TestConfigHelpers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host = "0.0.0.0"
	cfg.Port = 9000
	cfg.LLMAPIKey = "sk-secret"

	assert.Equal(t, "0.0.0.0:9000", cfg.Address())
	assert.Equal(t, "http://0.0.0.0:9000", cfg.BaseURL())
	assert.True(t, cfg.IsStdioMode())
	assert.False(t, cfg.IsServerMode())
	assert.False(t, cfg.IsDebug())
	assert.NotContains(t, cfg.String(), "sk-secret")

	cfg.Mode = ModeServer
	cfg.LogLevel = "debug"
	assert.True(t, cfg.IsServerMode())
	assert.True(t, cfg.IsDebug())
}
