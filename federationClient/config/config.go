package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/centauron/federation-node/federationClient/constant"
)

const (
	configSubdir   = constant.ConfigSubdir
	configFileName = constant.ConfigFileName
)

//go:embed default_config.json
var defaultConfigJSON []byte

func validateConfig(cfg *Config) error {
	if cfg.LogLevel < 0 || cfg.LogLevel > 5 {
		return fmt.Errorf("log level must be between 0 and 5")
	}

	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		return fmt.Errorf("log format must be 'json' or 'console'")
	}

	if strings.Count(cfg.NodeIdentifier, "#") > 0 {
		return fmt.Errorf("node identifier must not contain '#'")
	}

	if cfg.QueryServerPort == 0 {
		cfg.QueryServerPort = 8080
	}

	// Chain defaults
	if cfg.Chain.Adapter == "" {
		cfg.Chain.Adapter = "ethereum"
	}
	if cfg.Chain.PollingIntervalSeconds == 0 {
		cfg.Chain.PollingIntervalSeconds = 5
	}
	if cfg.Chain.RequestTimeoutSeconds == 0 {
		cfg.Chain.RequestTimeoutSeconds = 10
	}
	if cfg.Chain.StartHeight < -1 {
		return fmt.Errorf("chain start height must be -1 (latest) or a block height")
	}

	// Content store defaults
	if cfg.ContentStore.Backend == "" {
		cfg.ContentStore.Backend = "ipfs"
	}
	if cfg.ContentStore.Backend != "ipfs" && cfg.ContentStore.Backend != "local" {
		return fmt.Errorf("content store backend must be 'ipfs' or 'local'")
	}
	if cfg.ContentStore.Backend == "ipfs" && cfg.ContentStore.IPFSAPI == "" {
		cfg.ContentStore.IPFSAPI = "http://127.0.0.1:5001/"
	}

	// Bus defaults
	if cfg.Bus.Workers == 0 {
		cfg.Bus.Workers = 4
	}
	if cfg.Bus.QueueSize == 0 {
		cfg.Bus.QueueSize = 1024
	}
	if cfg.Bus.OutboxSweepIntervalSeconds == 0 {
		cfg.Bus.OutboxSweepIntervalSeconds = 60
	}
	if cfg.Bus.InboxSweepIntervalSeconds == 0 {
		cfg.Bus.InboxSweepIntervalSeconds = 60
	}
	if cfg.Bus.HTTPTimeoutSeconds == 0 {
		cfg.Bus.HTTPTimeoutSeconds = 30
	}
	if cfg.Bus.DeliveryMaxAttempts == 0 {
		cfg.Bus.DeliveryMaxAttempts = 5
	}
	if cfg.Bus.DeliveryMaxBackoffSeconds == 0 {
		cfg.Bus.DeliveryMaxBackoffSeconds = 60
	}
	if cfg.Bus.InboxMaxAttempts == 0 {
		cfg.Bus.InboxMaxAttempts = 3
	}
	if cfg.Bus.InboxMaxBackoffSeconds == 0 {
		cfg.Bus.InboxMaxBackoffSeconds = 30
	}
	if cfg.Bus.MaxResponseBytes == 0 {
		cfg.Bus.MaxResponseBytes = 1 << 20
	}
	if cfg.ContentStore.MaxFetchBytes == 0 {
		cfg.ContentStore.MaxFetchBytes = 64 << 20
	}

	// Share defaults
	if cfg.Share.TaskTimeoutHours == 0 {
		cfg.Share.TaskTimeoutHours = 24
	}
	if cfg.Share.TokenValidityDays == 0 {
		cfg.Share.TokenValidityDays = 30
	}
	if cfg.Share.DownloadTokenTTLMinutes == 0 {
		cfg.Share.DownloadTokenTTLMinutes = 15
	}

	if cfg.ComputeBackend == "" {
		cfg.ComputeBackend = "noop"
	}
	if cfg.Applications == nil {
		cfg.Applications = make(map[string]string)
	}

	return nil
}

// Validate checks the config and fills unset fields with defaults.
func Validate(cfg *Config) error {
	return validateConfig(cfg)
}

// Save writes the given config to <basePath>/config/cfederation_config.json.
func Save(cfg *Config, basePath string) error {
	if err := validateConfig(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	configDir := filepath.Join(basePath, configSubdir)
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configFile := filepath.Join(configDir, configFileName)
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Load reads the config from <basePath>/config/cfederation_config.json and applies defaults.
func Load(basePath string) (Config, error) {
	configFile := filepath.Join(basePath, configSubdir, configFileName)
	data, err := os.ReadFile(filepath.Clean(configFile))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := validateConfig(&cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadDefaultConfig loads the default configuration from embedded JSON
func LoadDefaultConfig() (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(defaultConfigJSON, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal default config: %w", err)
	}
	return &cfg, nil
}
