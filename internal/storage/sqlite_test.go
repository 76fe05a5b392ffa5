package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ollamaswarm/config"
)

func TestNew_SQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "swarm.db")
	store, err := New(context.Background(), config.StorageConfig{
		Type:   TypeSQLite,
		SQLite: config.SQLiteConfig{Path: path},
	})
	require.NoError(t, err)
	defer store.Close()

	assert.Equal(t, TypeSQLite, store.Type())
	assert.NotNil(t, store.SQLiteDB())
	assert.Nil(t, store.PostgreSQLPool())
	assert.Nil(t, store.MongoDatabase())
}

func TestNew_UnknownType(t *testing.T) {
	_, err := New(context.Background(), config.StorageConfig{Type: "cassandra"})
	require.Error(t, err)
}

func TestNew_MissingURLs(t *testing.T) {
	_, err := New(context.Background(), config.StorageConfig{Type: TypePostgreSQL})
	assert.ErrorContains(t, err, "PostgreSQL URL is required")

	_, err = New(context.Background(), config.StorageConfig{Type: TypeMongoDB})
	assert.ErrorContains(t, err, "MongoDB URL is required")
}

func TestSQLiteConcurrentWriteSafety(t *testing.T) {
	store, err := NewSQLite(config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	defer store.Close()

	db := store.SQLiteDB()
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS test_requests (id TEXT PRIMARY KEY, data TEXT)`)
	require.NoError(t, err)

	const goroutines = 10
	const insertsPerGoroutine = 50

	var wg sync.WaitGroup
	errs := make(chan error, goroutines*insertsPerGoroutine)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < insertsPerGoroutine; j++ {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				_, err := db.ExecContext(ctx, `INSERT INTO test_requests (id, data) VALUES (?, ?)`,
					fmt.Sprintf("%d-%d", id, j), "payload")
				cancel()
				if err != nil {
					errs <- fmt.Errorf("goroutine %d insert %d: %w", id, j, err)
				}
			}
		}(i)
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent write error: %v", err)
	}

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM test_requests").Scan(&count))
	assert.Equal(t, goroutines*insertsPerGoroutine, count)
}
