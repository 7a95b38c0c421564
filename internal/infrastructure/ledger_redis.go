package infrastructure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/yourusername/wistia-offline-go/internal/domain"
)

// RedisLedgerConfig configures the Redis-backed ledger store
type RedisLedgerConfig struct {
	Addr        string
	Password    string
	DB          int
	Key         string
	DialTimeout time.Duration
}

// RedisLedgerStore implements domain.LedgerStore as a single Redis hash keyed by hashed ID
type RedisLedgerStore struct {
	client *redis.Client
	key    string
}

// NewRedisLedgerStore connects to Redis and verifies the connection
func NewRedisLedgerStore(ctx context.Context, cfg RedisLedgerConfig) (*RedisLedgerStore, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	key := strings.TrimSpace(cfg.Key)
	if key == "" {
		key = "wistia:offline:ledger"
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
		MaxRetries:  2,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return &RedisLedgerStore{client: client, key: key}, nil
}

// LoadAll returns every persisted entry. Rows that cannot be decoded are skipped.
func (s *RedisLedgerStore) LoadAll(ctx context.Context) ([]*domain.LedgerEntry, error) {
	rows, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger hash: %w", err)
	}

	entries := make([]*domain.LedgerEntry, 0, len(rows))
	var decodeErrs []error
	for id, raw := range rows {
		var entry domain.LedgerEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			decodeErrs = append(decodeErrs, fmt.Errorf("entry %s: %w", id, err))
			continue
		}
		entry.HashedID = id
		entries = append(entries, &entry)
	}
	if len(entries) == 0 && len(decodeErrs) > 0 {
		return nil, errors.Join(decodeErrs...)
	}
	return entries, nil
}

// Save writes the entry for a media
func (s *RedisLedgerStore) Save(ctx context.Context, entry *domain.LedgerEntry) error {
	entry.UpdatedAt = time.Now()
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode ledger entry: %w", err)
	}
	return s.client.HSet(ctx, s.key, entry.HashedID, payload).Err()
}

// Delete removes the entry for a media
func (s *RedisLedgerStore) Delete(ctx context.Context, hashedID string) error {
	return s.client.HDel(ctx, s.key, hashedID).Err()
}

// Close closes the Redis connection pool
func (s *RedisLedgerStore) Close() error {
	return s.client.Close()
}
