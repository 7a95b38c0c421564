package domain

import "time"

// Config represents the application configuration
type Config struct {
	Server       ServerConfig       `mapstructure:"server" yaml:"server"`
	Wistia       WistiaConfig       `mapstructure:"wistia" yaml:"wistia"`
	Storage      StorageConfig      `mapstructure:"storage" yaml:"storage"`
	Ledger       LedgerConfig       `mapstructure:"ledger" yaml:"ledger"`
	Engine       EngineConfig       `mapstructure:"engine" yaml:"engine"`
	Notification NotificationConfig `mapstructure:"notification" yaml:"notification"`
	Logging      LoggingConfig      `mapstructure:"logging" yaml:"logging"`
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
}

// WistiaConfig contains Data API and embed host configuration
type WistiaConfig struct {
	APIBaseURL        string        `mapstructure:"api_base_url" yaml:"api_base_url"`
	EmbedBaseURL      string        `mapstructure:"embed_base_url" yaml:"embed_base_url"`
	APIToken          string        `mapstructure:"api_token" yaml:"api_token"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	ResolverCacheSize int           `mapstructure:"resolver_cache_size" yaml:"resolver_cache_size"`
}

// StorageConfig contains local storage locations
type StorageConfig struct {
	AssetsDir string `mapstructure:"assets_dir" yaml:"assets_dir"`
	LogsDir   string `mapstructure:"logs_dir" yaml:"logs_dir"`
}

// LedgerConfig selects and configures the durable ledger backend
type LedgerConfig struct {
	Backend       string `mapstructure:"backend" yaml:"backend"` // sqlite, redis
	DatabasePath  string `mapstructure:"database_path" yaml:"database_path"`
	RedisAddr     string `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password" yaml:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db" yaml:"redis_db"`
	RedisKey      string `mapstructure:"redis_key" yaml:"redis_key"`
}

// EngineConfig contains HLS transfer settings
type EngineConfig struct {
	ConcurrentTransfers int           `mapstructure:"concurrent_transfers" yaml:"concurrent_transfers"`
	SegmentConcurrency  int           `mapstructure:"segment_concurrency" yaml:"segment_concurrency"`
	SegmentRetries      int           `mapstructure:"segment_retries" yaml:"segment_retries"`
	RetryDelay          time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
	MaxBandwidth        int           `mapstructure:"max_bandwidth" yaml:"max_bandwidth"` // bits/s, 0 = highest available
	RequestTimeout      time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// NotificationConfig contains notification-related configuration
type NotificationConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Sound   bool   `mapstructure:"sound" yaml:"sound"`
	Method  string `mapstructure:"method" yaml:"method"` // osascript, notify-send
}

// LoggingConfig contains logging-related configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format" yaml:"format"`      // json, console
	OutputPath string `mapstructure:"output_path" yaml:"output_path"` // stdout, stderr, or file path
}

const (
	LedgerBackendSQLite = "sqlite"
	LedgerBackendRedis  = "redis"
)

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 8787,
		},
		Wistia: WistiaConfig{
			APIBaseURL:        "https://api.wistia.com",
			EmbedBaseURL:      "https://fast.wistia.net",
			RequestTimeout:    15 * time.Second,
			ResolverCacheSize: 256,
		},
		Storage: StorageConfig{
			AssetsDir: "$HOME/.wistia-offline/assets",
			LogsDir:   "$HOME/.wistia-offline/logs",
		},
		Ledger: LedgerConfig{
			Backend:      LedgerBackendSQLite,
			DatabasePath: "$HOME/.wistia-offline/ledger.db",
			RedisAddr:    "localhost:6379",
			RedisKey:     "wistia:offline:ledger",
		},
		Engine: EngineConfig{
			ConcurrentTransfers: 2,
			SegmentConcurrency:  4,
			SegmentRetries:      3,
			RetryDelay:          2 * time.Second,
			MaxBandwidth:        0,
			RequestTimeout:      30 * time.Second,
		},
		Notification: NotificationConfig{
			Enabled: false,
			Sound:   true,
			Method:  "osascript",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			OutputPath: "stdout",
		},
	}
}
