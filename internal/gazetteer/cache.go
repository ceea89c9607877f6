// Package gazetteer caches place-name reference data for batch processing.
package gazetteer

import (
	"context"
	"fmt"
	"sync"

	"github.com/localnewslab/newsminer/internal/pipeline"
)

type cacheKey struct {
	sourceID  int64
	datasetID int64
	scoped    bool
}

func keyFor(sourceID int64, datasetID *int64) cacheKey {
	k := cacheKey{sourceID: sourceID}
	if datasetID != nil {
		k.datasetID = *datasetID
		k.scoped = true
	}
	return k
}

// BatchCache memoizes gazetteer loads for the lifetime of one stage batch.
// Items sharing a (source, dataset) key hit the provider exactly once; without
// this a batch of N articles from one source issues N large-table scans.
// Create a fresh cache per batch; it is safe for concurrent use within one.
type BatchCache struct {
	provider pipeline.GazetteerProvider

	mu      sync.Mutex
	entries map[cacheKey][]pipeline.PlaceEntry
	loads   int
}

// NewBatchCache wraps a provider for one batch.
func NewBatchCache(provider pipeline.GazetteerProvider) *BatchCache {
	return &BatchCache{
		provider: provider,
		entries:  make(map[cacheKey][]pipeline.PlaceEntry),
	}
}

// Load returns the gazetteer for the key, fetching it from the provider at
// most once per batch.
func (c *BatchCache) Load(ctx context.Context, sourceID int64, datasetID *int64) ([]pipeline.PlaceEntry, error) {
	key := keyFor(sourceID, datasetID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if entries, ok := c.entries[key]; ok {
		return entries, nil
	}

	entries, err := c.provider.LoadGazetteer(ctx, sourceID, datasetID)
	if err != nil {
		return nil, fmt.Errorf("load gazetteer source=%d: %w", sourceID, err)
	}
	c.entries[key] = entries
	c.loads++
	return entries, nil
}

// Loads reports how many provider fetches the cache has issued.
func (c *BatchCache) Loads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loads
}
