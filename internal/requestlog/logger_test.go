package requestlog

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockStore struct {
	mu      sync.Mutex
	entries []*Entry
	batches int
	closed  bool
}

func (m *mockStore) WriteBatch(_ context.Context, entries []*Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entries...)
	m.batches++
	return nil
}

func (m *mockStore) Flush(context.Context) error { return nil }

func (m *mockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func TestLogger_FlushesOnInterval(t *testing.T) {
	store := &mockStore{}
	logger := NewLogger(store, Config{Enabled: true, BufferSize: 100, FlushInterval: 20 * time.Millisecond})
	defer logger.Close()

	for i := 0; i < 5; i++ {
		logger.Write(&Entry{ID: fmt.Sprintf("e%d", i), Host: "http://a:1"})
	}

	assert.Eventually(t, func() bool { return store.count() == 5 }, time.Second, 10*time.Millisecond)
}

func TestLogger_FlushesOnThreshold(t *testing.T) {
	store := &mockStore{}
	logger := NewLogger(store, Config{Enabled: true, BufferSize: 500, FlushInterval: time.Hour})
	defer logger.Close()

	for i := 0; i < BatchFlushThreshold; i++ {
		logger.Write(&Entry{ID: fmt.Sprintf("e%d", i)})
	}

	assert.Eventually(t, func() bool { return store.count() == BatchFlushThreshold }, time.Second, 10*time.Millisecond)
}

func TestLogger_CloseDrainsBuffer(t *testing.T) {
	store := &mockStore{}
	logger := NewLogger(store, Config{Enabled: true, BufferSize: 50, FlushInterval: time.Hour})

	for i := 0; i < 10; i++ {
		logger.Write(&Entry{ID: fmt.Sprintf("e%d", i)})
	}
	require.NoError(t, logger.Close())

	assert.Equal(t, 10, store.count())
	assert.True(t, store.closed)
}

func TestLogger_CloseIsIdempotent(t *testing.T) {
	logger := NewLogger(&mockStore{}, Config{})
	require.NoError(t, logger.Close())
	require.NoError(t, logger.Close())
}

func TestLogger_WriteAfterCloseIsDropped(t *testing.T) {
	store := &mockStore{}
	logger := NewLogger(store, Config{})
	require.NoError(t, logger.Close())

	assert.NotPanics(t, func() { logger.Write(&Entry{ID: "late"}) })
	assert.Zero(t, store.count())
}

func TestLogger_WriteNilIsIgnored(t *testing.T) {
	store := &mockStore{}
	logger := NewLogger(store, Config{})
	logger.Write(nil)
	require.NoError(t, logger.Close())
	assert.Zero(t, store.count())
}

func TestLogger_Defaults(t *testing.T) {
	logger := NewLogger(&mockStore{}, Config{Enabled: true})
	defer logger.Close()

	assert.Equal(t, 1000, logger.Config().BufferSize)
	assert.Equal(t, 5*time.Second, logger.Config().FlushInterval)
}

func TestLogger_ConcurrentWriteAndClose(t *testing.T) {
	store := &mockStore{}
	logger := NewLogger(store, Config{BufferSize: 10, FlushInterval: time.Millisecond})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				logger.Write(&Entry{ID: fmt.Sprintf("%d-%d", i, j)})
			}
		}(i)
	}
	go func() { _ = logger.Close() }()
	wg.Wait()
	require.NoError(t, logger.Close())
}

func TestNoopLogger(t *testing.T) {
	var l LoggerInterface = NoopLogger{}
	l.Write(&Entry{ID: "x"})
	assert.False(t, l.Config().Enabled)
	assert.NoError(t, l.Close())
}
