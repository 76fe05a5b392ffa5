package requestlog

import (
	"context"
	"errors"
	"fmt"

	"ollamaswarm/config"
	"ollamaswarm/internal/storage"
)

// Result bundles the logger, the reader and the storage they share.
type Result struct {
	Logger  LoggerInterface
	Reader  Reader
	Storage storage.Storage
}

// Close flushes the logger and then closes storage.
func (r *Result) Close() error {
	var errs []error
	if r.Logger != nil {
		if err := r.Logger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("logger close: %w", err))
		}
	}
	if r.Storage != nil {
		if err := r.Storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage close: %w", err))
		}
	}
	return errors.Join(errs...)
}

// New opens the configured storage and builds a logger and reader on it.
// When the request log is disabled the logger is a NoopLogger and no
// storage is opened.
func New(ctx context.Context, cfg *config.Config) (*Result, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	if !cfg.RequestLog.Enabled {
		return &Result{Logger: NoopLogger{}}, nil
	}

	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}

	res, err := NewWithSharedStorage(ctx, cfg, store)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	res.Storage = store
	return res, nil
}

// NewWithSharedStorage builds a logger and reader on storage owned by the
// caller. The returned Result does not close shared.
func NewWithSharedStorage(ctx context.Context, cfg *config.Config, shared storage.Storage) (*Result, error) {
	if shared == nil {
		return nil, fmt.Errorf("shared storage is required")
	}

	logCfg := Config{
		Enabled:       cfg.RequestLog.Enabled,
		BufferSize:    cfg.RequestLog.BufferSize,
		FlushInterval: cfg.RequestLog.FlushInterval,
		RetentionDays: cfg.RequestLog.RetentionDays,
	}

	store, err := NewStore(ctx, shared, logCfg.RetentionDays)
	if err != nil {
		return nil, err
	}
	reader, err := NewReader(shared)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &Result{
		Logger: NewLogger(store, logCfg),
		Reader: reader,
	}, nil
}

// NewStore creates the Store matching the storage backend.
func NewStore(ctx context.Context, s storage.Storage, retentionDays int) (Store, error) {
	switch s.Type() {
	case storage.TypeSQLite:
		return NewSQLiteStore(s.SQLiteDB(), retentionDays)
	case storage.TypePostgreSQL:
		return NewPostgreSQLStore(ctx, s.PostgreSQLPool(), retentionDays)
	case storage.TypeMongoDB:
		return NewMongoDBStore(ctx, s.MongoDatabase(), retentionDays)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", s.Type())
	}
}

// NewReader creates the Reader matching the storage backend.
// Returns nil when s is nil.
func NewReader(s storage.Storage) (Reader, error) {
	if s == nil {
		return nil, nil
	}
	switch s.Type() {
	case storage.TypeSQLite:
		return NewSQLiteReader(s.SQLiteDB())
	case storage.TypePostgreSQL:
		return NewPostgreSQLReader(s.PostgreSQLPool())
	case storage.TypeMongoDB:
		return NewMongoDBReader(s.MongoDatabase())
	default:
		return nil, fmt.Errorf("unknown storage type: %s", s.Type())
	}
}
