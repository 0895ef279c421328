package config

import (
	"fmt"
	"os"

	"github.com/bytedance/sonic"
	"github.com/kelseyhightower/envconfig"
)

// Config holds ambient process configuration — the bootstrap knobs the
// session driver needs before it even knows which chain it's running.
type Config struct {
	Logging LogConfig
	Chains  ChainsConfig
}

// LogConfig holds diagnostic-sink configuration.
type LogConfig struct {
	Level        string `envconfig:"LOG_LEVEL" default:"info"`
	Development  bool   `envconfig:"LOG_DEV" default:"false"`
	FallbackPath string `envconfig:"LOG_FALLBACK_PATH" default:"/var/log/qrexec-proxy.log"`
}

// ChainsConfig locates the chain configuration file.
type ChainsConfig struct {
	Path string `envconfig:"QREXEC_PROXY_CONFIG" default:"/etc/qrexec-proxy/config.json"`
}

// Load loads ambient configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads ambient configuration from the environment, falling
// back to Default() if any value is malformed.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns the ambient configuration's default values.
func Default() *Config {
	return &Config{
		Logging: LogConfig{
			Level:        "info",
			Development:  false,
			FallbackPath: "/var/log/qrexec-proxy.log",
		},
		Chains: ChainsConfig{
			Path: "/etc/qrexec-proxy/config.json",
		},
	}
}

// Chain describes one named filter chain: an ordered plugin list plus
// per-plugin configuration, keyed either by the plugin's position in the
// chain (stringified index, to disambiguate repeated plugin names) or by
// the plugin's bare name. Index wins when both are present.
type Chain struct {
	Plugins []string                  `json:"plugins"`
	Config  map[string]map[string]any `json:"config"`
}

// ChainConfig is the parsed chain configuration file: a dict of chain name
// to its Chain definition, exactly mirroring the file the session driver
// selects from via the "chain" segment of its positional argument.
type ChainConfig map[string]Chain

// LoadChains reads and parses the chain configuration file at path using
// sonic's fast JSON decoder.
func LoadChains(path string) (ChainConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read chain config %s: %w", path, err)
	}

	var chains ChainConfig
	if err := sonic.Unmarshal(data, &chains); err != nil {
		return nil, fmt.Errorf("parse chain config %s: %w", path, err)
	}
	return chains, nil
}

// Resolve returns the named chain, or false if it is not defined.
func (c ChainConfig) Resolve(name string) (Chain, bool) {
	chain, ok := c[name]
	return chain, ok
}

// PluginConfig returns the configuration map for the plugin at position
// index with the given name within a chain, trying the stringified index
// first and the plugin name second, matching spec.md's chain config
// lookup policy.
func (c Chain) PluginConfig(index int, name string) map[string]any {
	if c.Config == nil {
		return nil
	}
	if cfg, ok := c.Config[fmt.Sprintf("%d", index)]; ok {
		return cfg
	}
	return c.Config[name]
}
