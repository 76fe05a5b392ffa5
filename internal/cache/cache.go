// Package cache persists the host registry between restarts.
// Supports a local file for single instances and Redis for replicas that
// should share one view of the swarm.
package cache

import (
	"context"
	"time"
)

// SnapshotVersion is bumped when the stored layout changes incompatibly.
const SnapshotVersion = 1

// RegistrySnapshot is the data that gets stored and retrieved from the cache.
type RegistrySnapshot struct {
	Version   int            `json:"version"`
	UpdatedAt time.Time      `json:"updated_at"`
	Hosts     []SnapshotHost `json:"hosts"`
}

// SnapshotHost is one registered backend. Liveness is not persisted; it is
// re-learned after a restart.
type SnapshotHost struct {
	URL          string    `json:"url"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Cache defines the interface for registry snapshot storage.
// Implementations must be safe for concurrent use.
type Cache interface {
	// Get retrieves the snapshot.
	// Returns nil, nil if no snapshot exists yet.
	Get(ctx context.Context) (*RegistrySnapshot, error)

	// Set replaces the stored snapshot.
	Set(ctx context.Context, snapshot *RegistrySnapshot) error

	// Close releases any resources held by the cache.
	Close() error
}
