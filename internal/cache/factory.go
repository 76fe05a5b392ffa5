package cache

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"ollamaswarm/config"
)

// New builds the backend selected by cfg.Type. It returns nil, nil for
// "none" so callers can treat a missing cache as a no-op.
func New(cfg config.CacheConfig) (Cache, error) {
	switch cfg.Type {
	case "", "none":
		return nil, nil
	case "redis":
		c, err := NewRedisCache(RedisConfig{
			URL: cfg.Redis.URL,
			Key: cfg.Redis.Key,
			TTL: cfg.Redis.TTL,
		})
		if err != nil {
			return nil, err
		}
		slog.Info("using redis cache", "key", c.key)
		return c, nil
	case "local":
		dir := cfg.Local.Dir
		if dir == "" {
			dir = ".cache"
		}
		path := filepath.Join(dir, LocalFileName)
		slog.Info("using local file cache", "path", path)
		return NewLocalCache(path), nil
	default:
		return nil, fmt.Errorf("unknown cache type %q", cfg.Type)
	}
}
