package worker

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCompletionCacheSize bounds the in-memory record of recently
// completed jobs
const DefaultCompletionCacheSize = 1000

// CompletionCache remembers recently completed job IDs so re-listed jobs are
// skipped without a database round trip. Purely an optimization: the
// executions table stays authoritative, and losing this cache is safe.
type CompletionCache struct {
	recent *lru.Cache[string, time.Time]
}

// NewCompletionCache creates a cache bounded to size entries; sizes below 1
// fall back to the default capacity.
func NewCompletionCache(size int) (*CompletionCache, error) {
	if size <= 0 {
		size = DefaultCompletionCacheSize
	}
	recent, err := lru.New[string, time.Time](size)
	if err != nil {
		return nil, err
	}
	return &CompletionCache{recent: recent}, nil
}

// Add records a completed job with the current timestamp, evicting the
// least recently used entry when full
func (c *CompletionCache) Add(jobID string) {
	c.recent.Add(jobID, time.Now().UTC())
}

// Contains reports whether the job completed recently
func (c *CompletionCache) Contains(jobID string) bool {
	return c.recent.Contains(jobID)
}

// Len returns the number of cached completions
func (c *CompletionCache) Len() int {
	return c.recent.Len()
}
