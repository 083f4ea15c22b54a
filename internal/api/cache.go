package api

import (
	"sync"
	"time"

	"github.com/solboy/solalerts/internal/domain"
)

// LogSource is the read surface of the durable log.
type LogSource interface {
	Load() ([]domain.AlertRecord, error)
	ModTime() (time.Time, error)
	Path() string
}

// recordCache keeps the parsed log in memory for the TTL, re-reading
// early when the file's mtime moves. Records are stored newest first.
type recordCache struct {
	mu       sync.Mutex
	source   LogSource
	ttl      time.Duration
	records  []domain.AlertRecord
	loadedAt time.Time
	modTime  time.Time
}

func newRecordCache(source LogSource, ttl time.Duration) *recordCache {
	return &recordCache{source: source, ttl: ttl}
}

// get returns the cached records, refreshing when the TTL expired or the
// underlying file changed.
func (c *recordCache) get(now time.Time) ([]domain.AlertRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.loadedAt.IsZero() && now.Sub(c.loadedAt) < c.ttl {
		if mt, err := c.source.ModTime(); err == nil && mt.Equal(c.modTime) {
			return c.records, nil
		}
	}
	return c.reload(now)
}

// invalidate forces the next get to reload.
func (c *recordCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loadedAt = time.Time{}
}

func (c *recordCache) reload(now time.Time) ([]domain.AlertRecord, error) {
	records, err := c.source.Load()
	if err != nil {
		return nil, err
	}
	// Newest first, so handlers can slice without re-sorting.
	sorted := make([]domain.AlertRecord, len(records))
	copy(sorted, records)
	for i, j := 0, len(sorted)-1; i < j; i, j = i+1, j-1 {
		sorted[i], sorted[j] = sorted[j], sorted[i]
	}
	c.records = sorted
	c.loadedAt = now
	if mt, err := c.source.ModTime(); err == nil {
		c.modTime = mt
	}
	return c.records, nil
}
