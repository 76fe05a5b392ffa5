// Package storage opens the database that backs the request log.
// One of SQLite, PostgreSQL or MongoDB is selected by configuration.
package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"ollamaswarm/config"
)

// Type constants for storage backends
const (
	TypeSQLite     = "sqlite"
	TypePostgreSQL = "postgresql"
	TypeMongoDB    = "mongodb"
)

// Default locations used when the configuration leaves them empty.
const (
	DefaultSQLitePath    = "data/ollamaswarm.db"
	DefaultMongoDatabase = "ollamaswarm"
	DefaultMaxConns      = 10
)

// Storage is an open database connection.
// Implementations must be safe for concurrent use.
type Storage interface {
	// Type returns the storage type ("sqlite", "postgresql", or "mongodb")
	Type() string

	// SQLiteDB returns the connection, or nil if not using SQLite.
	SQLiteDB() *sql.DB

	// PostgreSQLPool returns the pool, or nil if not using PostgreSQL.
	PostgreSQLPool() *pgxpool.Pool

	// MongoDatabase returns the database, or nil if not using MongoDB.
	MongoDatabase() *mongo.Database

	// Close releases all resources held by the storage.
	Close() error
}

// New opens the backend named by cfg.Type.
func New(ctx context.Context, cfg config.StorageConfig) (Storage, error) {
	switch cfg.Type {
	case TypeSQLite, "":
		return NewSQLite(cfg.SQLite)
	case TypePostgreSQL:
		return NewPostgreSQL(ctx, cfg.PostgreSQL)
	case TypeMongoDB:
		return NewMongoDB(ctx, cfg.MongoDB)
	default:
		return nil, fmt.Errorf("unknown storage type: %s (valid: sqlite, postgresql, mongodb)", cfg.Type)
	}
}
