package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/wistia-offline-go/internal/domain"
)

func TestLoadConfig_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9090
wistia:
  api_token: secret
ledger:
  backend: redis
  redis_addr: cache:6379
engine:
  concurrent_transfers: 3
  retry_delay: 500ms
storage:
  assets_dir: ` + filepath.Join(dir, "assets") + `
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, config.Server.Port)
	assert.Equal(t, "secret", config.Wistia.APIToken)
	assert.Equal(t, domain.LedgerBackendRedis, config.Ledger.Backend)
	assert.Equal(t, "cache:6379", config.Ledger.RedisAddr)
	assert.Equal(t, 3, config.Engine.ConcurrentTransfers)
	assert.Equal(t, "500ms", config.Engine.RetryDelay.String())
	assert.Equal(t, filepath.Join(dir, "assets"), config.Storage.AssetsDir)
	// untouched keys keep defaults
	assert.Equal(t, "https://fast.wistia.net", config.Wistia.EmbedBaseURL)
	assert.Equal(t, 4, config.Engine.SegmentConcurrency)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0644))
	t.Setenv("WISTIA_WISTIA_API_TOKEN", "from-env")

	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", config.Wistia.APIToken)
}

func TestLoadConfig_InvalidBackend(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ledger:\n  backend: postgres\n"), 0644))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown ledger backend")
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*domain.Config)
		wantErr string
	}{
		{"defaults", func(*domain.Config) {}, ""},
		{"bad port", func(c *domain.Config) { c.Server.Port = 0 }, "invalid server port"},
		{"no transfers", func(c *domain.Config) { c.Engine.ConcurrentTransfers = 0 }, "concurrent transfers"},
		{"negative retries", func(c *domain.Config) { c.Engine.SegmentRetries = -1 }, "segment retries"},
		{"redis without key", func(c *domain.Config) {
			c.Ledger.Backend = domain.LedgerBackendRedis
			c.Ledger.RedisKey = ""
		}, "redis key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := domain.DefaultConfig()
			tt.mutate(config)
			err := validateConfig(config)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "assets"), expandPath("~/assets"))
	assert.Equal(t, home+"/.wistia-offline/ledger.db", expandPath("$HOME/.wistia-offline/ledger.db"))
	assert.Equal(t, "/tmp/x", expandPath("/tmp/x"))
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	config := domain.DefaultConfig()
	config.Server.Port = 9191
	config.Ledger.DatabasePath = "/tmp/ledger.db"
	config.Storage.AssetsDir = "/tmp/assets"
	config.Storage.LogsDir = "/tmp/logs"

	require.NoError(t, SaveConfig(config, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9191, loaded.Server.Port)
	assert.Equal(t, "/tmp/ledger.db", loaded.Ledger.DatabasePath)
	assert.Equal(t, config.Engine.RetryDelay, loaded.Engine.RetryDelay)
}
