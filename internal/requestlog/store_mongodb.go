package requestlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"ollamaswarm/internal/observability"
)

// ErrPartialWrite is the sentinel behind PartialWriteError.
var ErrPartialWrite = errors.New("partial write failure")

// PartialWriteError reports a batch where some inserts failed.
type PartialWriteError struct {
	TotalEntries int
	FailedCount  int
	Cause        mongo.BulkWriteException
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("partial request log insert: %d of %d entries failed: %v",
		e.FailedCount, e.TotalEntries, e.Cause.Error())
}

func (e *PartialWriteError) Unwrap() error {
	return ErrPartialWrite
}

// MongoDBStore implements Store for MongoDB. Retention is enforced by a
// TTL index instead of a cleanup loop.
type MongoDBStore struct {
	collection *mongo.Collection
}

// NewMongoDBStore creates the collection indexes if they don't exist.
func NewMongoDBStore(ctx context.Context, database *mongo.Database, retentionDays int) (*MongoDBStore, error) {
	if database == nil {
		return nil, fmt.Errorf("database is required")
	}

	collection := database.Collection(collectionName)

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "host", Value: 1}}},
		{Keys: bson.D{{Key: "model", Value: 1}}},
		{Keys: bson.D{{Key: "request_id", Value: 1}}},
	}

	// Only one index per field may carry a TTL.
	tsIndex := mongo.IndexModel{Keys: bson.D{{Key: "timestamp", Value: -1}}}
	if retentionDays > 0 {
		ttlSeconds := int32(int64(retentionDays) * 24 * 60 * 60)
		tsIndex.Options = options.Index().SetExpireAfterSeconds(ttlSeconds)
	}
	indexes = append(indexes, tsIndex)

	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
		slog.Warn("failed to create some MongoDB indexes for request log", "error", err)
	}

	return &MongoDBStore{collection: collection}, nil
}

// WriteBatch inserts entries unordered so one bad document does not stop
// the rest.
func (s *MongoDBStore) WriteBatch(ctx context.Context, entries []*Entry) error {
	if len(entries) == 0 {
		return nil
	}

	docs := make([]interface{}, len(entries))
	for i, e := range entries {
		docs[i] = e
	}

	_, err := s.collection.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err != nil {
		var bulkErr mongo.BulkWriteException
		if errors.As(err, &bulkErr) {
			failedCount := len(bulkErr.WriteErrors)
			slog.Warn("partial request log insert failure",
				"total", len(entries),
				"failed", failedCount,
				"succeeded", len(entries)-failedCount,
			)
			observability.RequestLogPartialWriteFailures.Inc()
			return &PartialWriteError{
				TotalEntries: len(entries),
				FailedCount:  failedCount,
				Cause:        bulkErr,
			}
		}
		return fmt.Errorf("failed to insert request log entries: %w", err)
	}

	return nil
}

// Flush is a no-op; writes are synchronous.
func (s *MongoDBStore) Flush(_ context.Context) error {
	return nil
}

// Close is a no-op; the client belongs to the storage layer.
func (s *MongoDBStore) Close() error {
	return nil
}
