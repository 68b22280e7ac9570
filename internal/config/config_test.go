package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	// Create a temporary config file
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "test_config.yaml")

	configContent := `
server:
  port: 9999
  origin: "https://app.example.com"
  https:
    enabled: true
cache:
  backend: "sqlite"
  db_file: "./test.db"
precache:
  version: "v7"
  assets: ["/", "/index.html"]
upstream:
  timeout: "10s"
`

	err := os.WriteFile(configFile, []byte(configContent), 0644)
	require.NoError(t, err, "Failed to create test config file")

	config, err := Load(configFile)
	require.NoError(t, err)

	assert.Equal(t, 9999, config.Server.Port)
	assert.Equal(t, "https://app.example.com", config.Server.Origin)
	assert.True(t, config.Server.HTTPS.Enabled)
	assert.Equal(t, "sqlite", config.Cache.Backend)
	assert.Equal(t, "v7", config.Precache.Version)
	assert.Equal(t, []string{"/", "/index.html"}, config.Precache.Assets)

	// Keys absent from the file keep their defaults
	assert.Equal(t, 8081, config.Server.ControlPort)
	assert.Equal(t, "/index.html", config.Precache.BootDocument)
	assert.True(t, config.Precache.SkipWaiting)
	assert.Equal(t, "info", config.Log.Level)

	require.NoError(t, config.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestDefaultManifest(t *testing.T) {
	cfg := Default()
	assert.Equal(t, []string{"/", "/index.html", "/manifest.json", "/icon-192.png", "/icon-512.png"}, cfg.Precache.Assets)
	assert.Equal(t, "dentro-v3", cfg.Precache.Version)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := Default()
		cfg.Server.Origin = "http://localhost:3000"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "invalid port",
			mutate:  func(c *Config) { c.Server.Port = -1 },
			wantErr: true,
		},
		{
			name:    "missing origin",
			mutate:  func(c *Config) { c.Server.Origin = "" },
			wantErr: true,
		},
		{
			name:    "non-http origin",
			mutate:  func(c *Config) { c.Server.Origin = "ftp://example.com" },
			wantErr: true,
		},
		{
			name:    "invalid timeout",
			mutate:  func(c *Config) { c.Upstream.Timeout = "invalid" },
			wantErr: true,
		},
		{
			name:    "invalid backend",
			mutate:  func(c *Config) { c.Cache.Backend = "redis" },
			wantErr: true,
		},
		{
			name:    "disk backend without folder",
			mutate:  func(c *Config) { c.Cache.Folder = "" },
			wantErr: true,
		},
		{
			name:    "memory backend without folder",
			mutate:  func(c *Config) { c.Cache.Backend = "memory"; c.Cache.Folder = "" },
			wantErr: false,
		},
		{
			name:    "no assets and no manifest file",
			mutate:  func(c *Config) { c.Precache.Assets = nil },
			wantErr: true,
		},
		{
			name: "manifest file only",
			mutate: func(c *Config) {
				c.Precache.Assets = nil
				c.Precache.ManifestFile = "manifest.yaml"
			},
			wantErr: false,
		},
		{
			name:    "https origin without https",
			mutate:  func(c *Config) { c.Server.Origin = "https://app.example.com" },
			wantErr: true,
		},
		{
			name: "https origin with https",
			mutate: func(c *Config) {
				c.Server.Origin = "https://app.example.com"
				c.Server.HTTPS.Enabled = true
			},
			wantErr: false,
		},
		{
			name:    "transparent without https",
			mutate:  func(c *Config) { c.Server.HTTPS.TransparentAddr = ":8443" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetUpstreamTimeout(t *testing.T) {
	config := Config{
		Upstream: UpstreamConfig{Timeout: "1m30s"},
	}

	timeout, err := config.GetUpstreamTimeout()
	require.NoError(t, err)
	assert.Equal(t, time.Minute+30*time.Second, timeout)

	config.Upstream.Timeout = ""
	timeout, err = config.GetUpstreamTimeout()
	require.NoError(t, err)
	assert.Zero(t, timeout)
}
