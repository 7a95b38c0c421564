package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"github.com/yourusername/wistia-offline-go/internal/domain"
)

// LoadConfig loads configuration from file and environment
func LoadConfig(configPath string) (*domain.Config, error) {
	// Start with default config
	config := domain.DefaultConfig()

	// Set up viper
	v := viper.New()
	v.SetConfigType("yaml")

	// If config path is provided, use it
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config in standard locations
		v.SetConfigName("config")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.wistia-offline")
		v.AddConfigPath("/etc/wistia-offline")
	}

	// Read environment variables, e.g. WISTIA_WISTIA_API_TOKEN
	v.SetEnvPrefix("WISTIA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvKeys(v)

	// Try to read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults
	}

	// Unmarshal into config struct
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Expand environment variables in paths
	config = expandPaths(config)

	// Validate config
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// bindEnvKeys makes environment overrides visible to Unmarshal for keys absent from the config file
func bindEnvKeys(v *viper.Viper) {
	for _, key := range []string{
		"server.host", "server.port",
		"wistia.api_base_url", "wistia.embed_base_url", "wistia.api_token",
		"storage.assets_dir", "storage.logs_dir",
		"ledger.backend", "ledger.database_path", "ledger.redis_addr", "ledger.redis_password", "ledger.redis_db",
		"logging.level",
	} {
		_ = v.BindEnv(key)
	}
}

// expandPaths expands environment variables in path configurations
func expandPaths(config *domain.Config) *domain.Config {
	config.Storage.AssetsDir = expandPath(config.Storage.AssetsDir)
	config.Storage.LogsDir = expandPath(config.Storage.LogsDir)
	config.Ledger.DatabasePath = expandPath(config.Ledger.DatabasePath)

	if config.Logging.OutputPath != "stdout" && config.Logging.OutputPath != "stderr" {
		config.Logging.OutputPath = expandPath(config.Logging.OutputPath)
	}

	return config
}

// expandPath expands environment variables and ~ in paths
func expandPath(path string) string {
	// Expand home directory
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	}

	// Replace $HOME before generic expansion so an unset HOME still resolves
	if strings.Contains(path, "$HOME") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = strings.ReplaceAll(path, "$HOME", home)
		}
	}

	return os.ExpandEnv(path)
}

// validateConfig validates the configuration
func validateConfig(config *domain.Config) error {
	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Wistia.EmbedBaseURL == "" {
		return fmt.Errorf("wistia embed base url not configured")
	}

	if config.Storage.AssetsDir == "" {
		return fmt.Errorf("assets directory not configured")
	}

	switch config.Ledger.Backend {
	case domain.LedgerBackendSQLite:
		if config.Ledger.DatabasePath == "" {
			return fmt.Errorf("ledger database path not configured")
		}
	case domain.LedgerBackendRedis:
		if config.Ledger.RedisAddr == "" {
			return fmt.Errorf("ledger redis address not configured")
		}
		if config.Ledger.RedisKey == "" {
			return fmt.Errorf("ledger redis key not configured")
		}
	default:
		return fmt.Errorf("unknown ledger backend: %q", config.Ledger.Backend)
	}

	if config.Engine.ConcurrentTransfers < 1 {
		return fmt.Errorf("concurrent transfers must be at least 1")
	}

	if config.Engine.SegmentConcurrency < 1 {
		return fmt.Errorf("segment concurrency must be at least 1")
	}

	if config.Engine.SegmentRetries < 0 {
		return fmt.Errorf("segment retries cannot be negative")
	}

	if config.Engine.MaxBandwidth < 0 {
		return fmt.Errorf("max bandwidth cannot be negative")
	}

	if config.Wistia.ResolverCacheSize < 1 {
		config.Wistia.ResolverCacheSize = 1
	}

	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}

	return nil
}

// SaveConfig saves configuration to file
func SaveConfig(config *domain.Config, path string) error {
	v := viper.New()
	v.SetConfigType("yaml")

	// Marshal config to viper
	v.Set("server", config.Server)
	v.Set("wistia", config.Wistia)
	v.Set("storage", config.Storage)
	v.Set("ledger", config.Ledger)
	v.Set("engine", config.Engine)
	v.Set("notification", config.Notification)
	v.Set("logging", config.Logging)

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Write config file
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
