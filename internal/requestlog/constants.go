package requestlog

import "time"

const (
	// BatchFlushThreshold is the number of queued entries that triggers a write.
	BatchFlushThreshold = 100

	// CleanupInterval is how often expired entries are deleted.
	CleanupInterval = 1 * time.Hour

	// TailBufferSize is how much of a response body is kept for token extraction.
	TailBufferSize = 8 * 1024

	tableName      = "request_log"
	collectionName = "request_log"
)
