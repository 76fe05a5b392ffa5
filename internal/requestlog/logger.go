package requestlog

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"ollamaswarm/internal/observability"
)

// LoggerInterface is what the proxy writes entries to.
type LoggerInterface interface {
	Write(entry *Entry)
	Config() Config
	Close() error
}

// Logger buffers entries in a channel and writes them to the store in
// batches, either when BatchFlushThreshold entries are queued or every
// FlushInterval.
type Logger struct {
	store         Store
	config        Config
	buffer        chan *Entry
	done          chan struct{}
	wg            sync.WaitGroup
	writes        sync.WaitGroup // in-flight Write calls
	flushInterval time.Duration
	closed        atomic.Bool
}

// NewLogger starts the background flush goroutine.
func NewLogger(store Store, cfg Config) *Logger {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}

	l := &Logger{
		store:         store,
		config:        cfg,
		buffer:        make(chan *Entry, cfg.BufferSize),
		done:          make(chan struct{}),
		flushInterval: cfg.FlushInterval,
	}

	l.wg.Add(1)
	go l.flushLoop()

	return l
}

// Write queues an entry without blocking. When the buffer is full the entry
// is dropped.
func (l *Logger) Write(entry *Entry) {
	if entry == nil || l.closed.Load() {
		return
	}

	l.writes.Add(1)
	defer l.writes.Done()

	// Close may have run between the first check and Add.
	if l.closed.Load() {
		return
	}

	select {
	case l.buffer <- entry:
	default:
		observability.RequestLogDropped.Inc()
		slog.Warn("request log buffer full, dropping entry",
			"request_id", entry.RequestID,
			"host", entry.Host,
		)
	}
}

// Config returns the logger configuration
func (l *Logger) Config() Config {
	return l.config
}

// Close flushes what is queued and closes the store. Safe to call twice.
func (l *Logger) Close() error {
	if l.closed.Swap(true) {
		return nil
	}

	l.writes.Wait()
	close(l.done)
	l.wg.Wait()

	return l.store.Close()
}

func (l *Logger) flushLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.flushInterval)
	defer ticker.Stop()

	batch := make([]*Entry, 0, BatchFlushThreshold)

	for {
		select {
		case entry := <-l.buffer:
			batch = append(batch, entry)
			if len(batch) >= BatchFlushThreshold {
				l.flushBatch(batch)
				batch = make([]*Entry, 0, BatchFlushThreshold)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				l.flushBatch(batch)
				batch = make([]*Entry, 0, BatchFlushThreshold)
			}

		case <-l.done:
			close(l.buffer)
			for entry := range l.buffer {
				batch = append(batch, entry)
			}
			if len(batch) > 0 {
				l.flushBatch(batch)
			}
			return
		}
	}
}

func (l *Logger) flushBatch(batch []*Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := l.store.WriteBatch(ctx, batch); err != nil {
		slog.Error("failed to write request log batch", "error", err, "count", len(batch))
	}
}

// NoopLogger discards everything. Used when the request log is disabled.
type NoopLogger struct{}

func (NoopLogger) Write(_ *Entry) {}
func (NoopLogger) Config() Config { return Config{} }
func (NoopLogger) Close() error   { return nil }
