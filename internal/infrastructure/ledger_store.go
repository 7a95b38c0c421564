package infrastructure

import (
	"context"
	"fmt"

	"github.com/yourusername/wistia-offline-go/internal/domain"
)

// NewLedgerStore opens the ledger backend selected in config
func NewLedgerStore(ctx context.Context, cfg domain.LedgerConfig) (domain.LedgerStore, error) {
	switch cfg.Backend {
	case domain.LedgerBackendSQLite, "":
		return NewSQLiteLedgerStore(cfg.DatabasePath)
	case domain.LedgerBackendRedis:
		return NewRedisLedgerStore(ctx, RedisLedgerConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Key:      cfg.RedisKey,
		})
	default:
		return nil, fmt.Errorf("unknown ledger backend: %q", cfg.Backend)
	}
}
