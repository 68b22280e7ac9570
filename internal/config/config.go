package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Cache    CacheConfig    `koanf:"cache"`
	Precache PrecacheConfig `koanf:"precache"`
	Upstream UpstreamConfig `koanf:"upstream"`
	Log      LogConfig      `koanf:"log"`
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Port        int         `koanf:"port"`
	ControlPort int         `koanf:"control_port"`
	Origin      string      `koanf:"origin"` // origin of the hosted web application
	HTTPS       HTTPSConfig `koanf:"https"`
}

// HTTPSConfig controls TLS interception of CONNECT tunnels
type HTTPSConfig struct {
	Enabled         bool   `koanf:"enabled"`
	CACertFile      string `koanf:"ca_cert_file"`
	CAKeyFile       string `koanf:"ca_key_file"`
	TransparentAddr string `koanf:"transparent_addr"`
}

// CacheConfig selects where named stores are persisted
type CacheConfig struct {
	Backend string `koanf:"backend"` // "disk", "sqlite" or "memory"
	Folder  string `koanf:"folder"`
	DBFile  string `koanf:"db_file"`
}

// PrecacheConfig describes the assets fetched at install time
type PrecacheConfig struct {
	Version      string   `koanf:"version"`
	BootDocument string   `koanf:"boot_document"`
	Assets       []string `koanf:"assets"`
	ManifestFile string   `koanf:"manifest_file"`
	SkipWaiting  bool     `koanf:"skip_waiting"`
}

// UpstreamConfig contains settings for network fetches made by the worker
type UpstreamConfig struct {
	Timeout string `koanf:"timeout"` // empty or "0s" means no timeout
}

type LogConfig struct {
	Level string `koanf:"level"`
}

// Default returns the configuration used when a key is absent from the file
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:        8080,
			ControlPort: 8081,
		},
		Cache: CacheConfig{
			Backend: "disk",
			Folder:  "./cache",
			DBFile:  "./cache.db",
		},
		Precache: PrecacheConfig{
			Version:      "dentro-v3",
			BootDocument: "/index.html",
			Assets: []string{
				"/",
				"/index.html",
				"/manifest.json",
				"/icon-192.png",
				"/icon-512.png",
			},
			SkipWaiting: true,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load loads configuration from a YAML file, on top of Default()
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	return &config, nil
}

// GetUpstreamTimeout parses and returns the upstream fetch timeout
func (c *Config) GetUpstreamTimeout() (time.Duration, error) {
	if c.Upstream.Timeout == "" {
		return 0, nil
	}
	return time.ParseDuration(c.Upstream.Timeout)
}

// GetOrigin parses and returns the application origin
func (c *Config) GetOrigin() (*url.URL, error) {
	u, err := url.Parse(c.Server.Origin)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("origin scheme must be http or https, got: %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("origin has no host: %q", c.Server.Origin)
	}
	return u, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	if c.Server.ControlPort < 0 || c.Server.ControlPort > 65535 {
		return fmt.Errorf("invalid control port: %d", c.Server.ControlPort)
	}

	if c.Server.Origin == "" {
		return fmt.Errorf("server origin is required")
	}

	origin, err := c.GetOrigin()
	if err != nil {
		return fmt.Errorf("invalid origin: %w", err)
	}

	// https requests only reach the worker through TLS interception
	if origin.Scheme == "https" && !c.Server.HTTPS.Enabled {
		return fmt.Errorf("https origin %s requires https to be enabled", c.Server.Origin)
	}

	if _, err := c.GetUpstreamTimeout(); err != nil {
		return fmt.Errorf("invalid upstream timeout format: %w", err)
	}

	switch c.Cache.Backend {
	case "disk":
		if c.Cache.Folder == "" {
			return fmt.Errorf("cache folder is required")
		}
	case "sqlite":
		if c.Cache.DBFile == "" {
			return fmt.Errorf("cache db_file is required")
		}
	case "memory":
	default:
		return fmt.Errorf("cache backend must be 'disk', 'sqlite' or 'memory', got: %s", c.Cache.Backend)
	}

	if c.Precache.ManifestFile == "" && len(c.Precache.Assets) == 0 {
		return fmt.Errorf("precache assets or manifest_file is required")
	}

	if c.Precache.BootDocument == "" {
		return fmt.Errorf("precache boot_document is required")
	}

	if c.Server.HTTPS.TransparentAddr != "" && !c.Server.HTTPS.Enabled {
		return fmt.Errorf("https transparent_addr requires https to be enabled")
	}

	return nil
}
