package extraction

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"stablecoin-transfers/internal/domain"
	"stablecoin-transfers/internal/observability"
)

// ProgramSignatureCache holds the token-program signature walk per window
// for the lifetime of a run. Concurrent first requests for the same window
// share a single walk.
type ProgramSignatureCache struct {
	mu      sync.RWMutex
	entries map[domain.WindowKey][]domain.CandidateReference
	group   singleflight.Group
}

// NewProgramSignatureCache creates an empty cache.
func NewProgramSignatureCache() *ProgramSignatureCache {
	return &ProgramSignatureCache{
		entries: make(map[domain.WindowKey][]domain.CandidateReference),
	}
}

// Get returns the cached references for key, calling load on a miss.
// Results of a failed load are not cached.
func (c *ProgramSignatureCache) Get(ctx context.Context, key domain.WindowKey, load func(context.Context) ([]domain.CandidateReference, error)) ([]domain.CandidateReference, error) {
	c.mu.RLock()
	refs, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		observability.RecordProgramCache(true)
		return refs, nil
	}
	observability.RecordProgramCache(false)

	v, err, _ := c.group.Do(fmt.Sprintf("%d:%d", key.Start, key.End), func() (interface{}, error) {
		c.mu.RLock()
		cached, ok := c.entries[key]
		c.mu.RUnlock()
		if ok {
			return cached, nil
		}

		loaded, err := load(ctx)
		if err != nil {
			return loaded, err
		}

		c.mu.Lock()
		c.entries[key] = loaded
		c.mu.Unlock()
		return loaded, nil
	})

	refs, _ = v.([]domain.CandidateReference)
	return refs, err
}

// Len returns the number of cached windows.
func (c *ProgramSignatureCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
