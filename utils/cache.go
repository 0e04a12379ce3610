package utils

import (
	"context"
	"sync"
	"time"

	"topup-go/models"
)

// LeaderboardCache holds the last top-donor query for a fixed TTL.
type LeaderboardCache struct {
	mutex     sync.RWMutex
	donors    []models.DonorTotal
	expiresAt time.Time
	fetchedAt time.Time
	ttl       time.Duration
	now       func() time.Time

	// generation is bumped by Invalidate so loads started before it are dropped.
	generation uint64

	hits   int64
	misses int64
}

// NewLeaderboardCache creates an empty cache.
func NewLeaderboardCache(ttl time.Duration) *LeaderboardCache {
	return &LeaderboardCache{ttl: ttl, now: time.Now}
}

// Get returns a copy of the cached donors if they have not expired.
func (lc *LeaderboardCache) Get() ([]models.DonorTotal, bool) {
	lc.mutex.RLock()
	defer lc.mutex.RUnlock()

	if lc.donors == nil || !lc.now().Before(lc.expiresAt) {
		return nil, false
	}
	out := make([]models.DonorTotal, len(lc.donors))
	copy(out, lc.donors)
	return out, true
}

// Set replaces the cached donors and restarts the TTL.
func (lc *LeaderboardCache) Set(donors []models.DonorTotal) {
	lc.mutex.Lock()
	defer lc.mutex.Unlock()
	lc.store(donors, lc.now())
}

func (lc *LeaderboardCache) store(donors []models.DonorTotal, fetchedAt time.Time) {
	stored := make([]models.DonorTotal, len(donors))
	copy(stored, donors)
	lc.donors = stored
	lc.fetchedAt = fetchedAt
	lc.expiresAt = fetchedAt.Add(lc.ttl)
}

// Invalidate drops the cached donors, e.g. after a donation completes.
func (lc *LeaderboardCache) Invalidate() {
	lc.mutex.Lock()
	lc.donors = nil
	lc.generation++
	lc.mutex.Unlock()
}

// GetOrLoad returns cached donors or calls load and caches its result.
// Load errors are not cached, and neither is a result whose load overlapped
// an Invalidate. The TTL counts from the start of the load.
func (lc *LeaderboardCache) GetOrLoad(ctx context.Context, load func(context.Context) ([]models.DonorTotal, error)) ([]models.DonorTotal, error) {
	if donors, ok := lc.Get(); ok {
		lc.mutex.Lock()
		lc.hits++
		lc.mutex.Unlock()
		return donors, nil
	}

	lc.mutex.Lock()
	lc.misses++
	generation := lc.generation
	started := lc.now()
	lc.mutex.Unlock()

	donors, err := load(ctx)
	if err != nil {
		return nil, err
	}

	lc.mutex.Lock()
	if lc.generation == generation {
		lc.store(donors, started)
	}
	lc.mutex.Unlock()
	return donors, nil
}

// CacheStats returns cache statistics
type CacheStats struct {
	Entries   int           `json:"entries"`
	TTL       time.Duration `json:"ttl"`
	FetchedAt time.Time     `json:"fetched_at"`
	Hits      int64         `json:"hits"`
	Misses    int64         `json:"misses"`
}

// Stats returns current cache statistics
func (lc *LeaderboardCache) Stats() CacheStats {
	lc.mutex.RLock()
	defer lc.mutex.RUnlock()
	return CacheStats{
		Entries:   len(lc.donors),
		TTL:       lc.ttl,
		FetchedAt: lc.fetchedAt,
		Hits:      lc.hits,
		Misses:    lc.misses,
	}
}
