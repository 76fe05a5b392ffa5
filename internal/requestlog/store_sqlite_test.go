package requestlog

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ollamaswarm/config"
	"ollamaswarm/internal/storage"
)

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	s, err := storage.NewSQLite(config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "log.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s.SQLiteDB()
}

func sampleEntries(base time.Time) []*Entry {
	return []*Entry{
		{ID: "1", RequestID: "r1", Timestamp: base, Method: "POST", Path: "/api/generate", Host: "http://a:1", Model: "llama3:8b", StatusCode: 200, Attempts: 1, PromptTokens: 10, CompletionTokens: 20},
		{ID: "2", RequestID: "r2", Timestamp: base.Add(time.Second), Method: "POST", Path: "/api/chat", Host: "http://b:1", Model: "qwen2.5", StatusCode: 200, Attempts: 2},
		{ID: "3", RequestID: "r3", Timestamp: base.Add(2 * time.Second), Method: "GET", Path: "/api/tags", Host: "", StatusCode: 503, ErrorType: "no_hosts_available", ErrorMessage: "no hosts registered"},
	}
}

func TestSQLiteStore_WriteAndList(t *testing.T) {
	db := openSQLite(t)
	ctx := context.Background()

	store, err := NewSQLiteStore(db, 0)
	require.NoError(t, err)
	defer store.Close()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.WriteBatch(ctx, sampleEntries(base)))

	reader, err := NewSQLiteReader(db)
	require.NoError(t, err)

	page, err := reader.List(ctx, QueryParams{})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 50, page.Limit)
	require.Len(t, page.Entries, 3)

	assert.Equal(t, "3", page.Entries[0].ID, "newest first")
	assert.Equal(t, "no_hosts_available", page.Entries[0].ErrorType)
	last := page.Entries[2]
	assert.Equal(t, "llama3:8b", last.Model)
	assert.Equal(t, 10, last.PromptTokens)
	assert.Equal(t, 20, last.CompletionTokens)
	assert.True(t, base.Equal(last.Timestamp))
}

func TestSQLiteStore_DuplicateIDsIgnored(t *testing.T) {
	db := openSQLite(t)
	ctx := context.Background()
	store, err := NewSQLiteStore(db, 0)
	require.NoError(t, err)

	entries := sampleEntries(time.Now())
	require.NoError(t, store.WriteBatch(ctx, entries))
	require.NoError(t, store.WriteBatch(ctx, entries))

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM "+tableName).Scan(&n))
	assert.Equal(t, 3, n)
}

func TestSQLiteStore_LargeBatchIsChunked(t *testing.T) {
	db := openSQLite(t)
	store, err := NewSQLiteStore(db, 0)
	require.NoError(t, err)

	entries := make([]*Entry, maxEntriesPerBatch*3+7)
	for i := range entries {
		entries[i] = &Entry{ID: fmt.Sprintf("id-%d", i), Timestamp: time.Now(), Method: "GET", Path: "/api/tags"}
	}
	require.NoError(t, store.WriteBatch(context.Background(), entries))

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM "+tableName).Scan(&n))
	assert.Equal(t, len(entries), n)
}

func TestSQLiteReader_Filters(t *testing.T) {
	db := openSQLite(t)
	ctx := context.Background()
	store, err := NewSQLiteStore(db, 0)
	require.NoError(t, err)
	require.NoError(t, store.WriteBatch(ctx, sampleEntries(time.Now())))

	reader, err := NewSQLiteReader(db)
	require.NoError(t, err)

	tests := []struct {
		name   string
		params QueryParams
		want   []string
	}{
		{"by host", QueryParams{Host: "http://b:1"}, []string{"2"}},
		{"by model substring", QueryParams{Model: "llama"}, []string{"1"}},
		{"underscore is literal", QueryParams{Model: "llama_"}, nil},
		{"pagination", QueryParams{Limit: 1, Offset: 1}, []string{"2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := reader.List(ctx, tt.params)
			require.NoError(t, err)
			var ids []string
			for _, e := range page.Entries {
				ids = append(ids, e.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestSQLiteStore_Cleanup(t *testing.T) {
	db := openSQLite(t)
	store, err := NewSQLiteStore(db, 0)
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, store.WriteBatch(context.Background(), []*Entry{
		{ID: "old", Timestamp: now.AddDate(0, 0, -40), Method: "GET", Path: "/api/tags"},
		{ID: "new", Timestamp: now, Method: "GET", Path: "/api/tags"},
	}))

	store.retentionDays = 30
	store.cleanup()

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM "+tableName).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestNewSQLiteStore_NilDB(t *testing.T) {
	_, err := NewSQLiteStore(nil, 0)
	require.Error(t, err)
	_, err = NewSQLiteReader(nil)
	require.Error(t, err)
}

func TestClampLimitOffset(t *testing.T) {
	tests := []struct {
		limit, offset         int
		wantLimit, wantOffset int
	}{
		{0, 0, 50, 0},
		{500, -3, 200, 0},
		{10, 20, 10, 20},
	}
	for _, tt := range tests {
		l, o := clampLimitOffset(tt.limit, tt.offset)
		assert.Equal(t, tt.wantLimit, l)
		assert.Equal(t, tt.wantOffset, o)
	}
}

func TestEscapeLikeWildcards(t *testing.T) {
	assert.Equal(t, `a\%b\_c\\d`, escapeLikeWildcards(`a%b_c\d`))
}
