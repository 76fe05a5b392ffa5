package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"ollamaswarm/config"
)

type postgresStorage struct {
	pool *pgxpool.Pool
}

// NewPostgreSQL creates a connection pool and verifies it with a ping.
func NewPostgreSQL(ctx context.Context, cfg config.PostgreSQLConfig) (Storage, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("PostgreSQL URL is required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PostgreSQL URL: %w", err)
	}

	poolCfg.MaxConns = DefaultMaxConns
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create PostgreSQL connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	return &postgresStorage{pool: pool}, nil
}

func (s *postgresStorage) Type() string                   { return TypePostgreSQL }
func (s *postgresStorage) SQLiteDB() *sql.DB              { return nil }
func (s *postgresStorage) PostgreSQLPool() *pgxpool.Pool  { return s.pool }
func (s *postgresStorage) MongoDatabase() *mongo.Database { return nil }

func (s *postgresStorage) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
