package store

import (
	"context"
	"fmt"
	"path/filepath"
)

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config selects and configures a backend.
type Config struct {
	Backend string

	// Root is the file store directory, or the directory holding results.db
	// for the sqlite backend.
	Root string

	RedisURL    string
	RedisPrefix string
}

// Open constructs the configured backend.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", BackendFile:
		return NewFileStore(cfg.Root)
	case BackendSQLite:
		if cfg.Root == "" {
			return nil, fmt.Errorf("sqlite store: root is required")
		}
		return NewSQLiteStore(filepath.Join(cfg.Root, "results.db"))
	case BackendRedis:
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("redis store: redis url is required")
		}
		return NewRedisStore(ctx, cfg.RedisURL, cfg.RedisPrefix)
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
