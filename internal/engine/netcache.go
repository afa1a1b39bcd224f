package engine

import (
	"sync"

	"go.uber.org/zap"
)

// maxPayloadBytes caps the response bodies the cache will parse.
const maxPayloadBytes = 2 << 20

// NetworkCache holds stage codes observed in JSON response payloads during a
// run. It is constructed at run start, fed by the browser response observer
// and read by NetworkCacheReader. Entries are only added or replaced during a
// run; Reset empties it before the next one.
type NetworkCache struct {
	mu          sync.RWMutex
	codes       map[int]string
	totalStages int
	logger      *zap.Logger
}

// NewNetworkCache returns an empty cache for a challenge of totalStages.
func NewNetworkCache(totalStages int, logger *zap.Logger) *NetworkCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NetworkCache{
		codes:       make(map[int]string),
		totalStages: totalStages,
		logger:      logger.Named("netcache"),
	}
}

// Ingest parses a response body and records any stage codes it carries.
// It returns the number of stages added or updated. Safe to call from the
// observer goroutine while readers are active.
func (c *NetworkCache) Ingest(url string, body []byte) int {
	if len(body) == 0 || len(body) > maxPayloadBytes {
		return 0
	}
	found := ParseStageCodes(body, c.totalStages)
	if len(found) == 0 {
		return 0
	}

	c.mu.Lock()
	changed := 0
	for stage, code := range found {
		if c.codes[stage] != code {
			c.codes[stage] = code
			changed++
		}
	}
	c.mu.Unlock()

	if changed > 0 {
		c.logger.Debug("Captured stage codes from response.", zap.String("url", url), zap.Int("stages", changed))
	}
	return changed
}

// Lookup returns the cached code for stage.
func (c *NetworkCache) Lookup(stage int) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	code, ok := c.codes[stage]
	return code, ok
}

// Len reports how many stages are cached.
func (c *NetworkCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.codes)
}

// Reset empties the cache. Only called at run start.
func (c *NetworkCache) Reset() {
	c.mu.Lock()
	c.codes = make(map[int]string)
	c.mu.Unlock()
}
