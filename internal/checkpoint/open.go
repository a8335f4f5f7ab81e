package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/vinayprograms/hackmate/internal/config"
)

// Open returns the backend named by cfg.Backend.
func Open(cfg config.StorageConfig) (Store, error) {
	path := config.ExpandHome(cfg.Path)

	switch cfg.Backend {
	case config.BackendMemory:
		return NewMemoryStore(), nil
	case config.BackendFile, "":
		return NewFileStore(path)
	case config.BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		return NewSQLiteStore(path)
	case config.BackendRedis:
		return NewRedisStore(RedisConfig{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
			TTL:       cfg.Redis.TTLDuration(),
		})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
