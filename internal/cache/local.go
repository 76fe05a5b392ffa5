package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// LocalFileName is the snapshot file created inside the configured directory.
const LocalFileName = "registry.json"

// LocalCache implements Cache using local file storage.
type LocalCache struct {
	mu       sync.RWMutex
	filePath string
}

// NewLocalCache creates a new local file-based cache at filePath.
func NewLocalCache(filePath string) *LocalCache {
	return &LocalCache{
		filePath: filePath,
	}
}

// Get reads the snapshot file.
func (c *LocalCache) Get(ctx context.Context) (*RegistrySnapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.filePath == "" {
		return nil, nil
	}

	data, err := os.ReadFile(c.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read cache file: %w", err)
	}

	var snapshot RegistrySnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to parse cache file: %w", err)
	}

	return &snapshot, nil
}

// Set writes the snapshot atomically via a temp file and rename.
func (c *LocalCache) Set(ctx context.Context, snapshot *RegistrySnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.filePath == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(c.filePath), 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	tmpFile := c.filePath + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o644); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := os.Rename(tmpFile, c.filePath); err != nil {
		_ = os.Remove(tmpFile)
		return fmt.Errorf("failed to rename cache file: %w", err)
	}

	return nil
}

// Close is a no-op for local cache.
func (c *LocalCache) Close() error {
	return nil
}
