package fetchstats

import (
	"sort"
	"sync"
	"time"
)

/*
	Fetch Statistics Package

	This package tracks per-category statistics of intercepted requests:
	- Request counts
	- Cache hits / misses
	- Network fallbacks (served from cache after a network failure)
	- Failures propagated to the caller
	- Cache writes and written bytes
*/

// CategoryStatistics holds statistics for a single request category
type CategoryStatistics struct {
	Category string `json:"category"`

	// Request counters
	TotalRequests int64   `json:"total_requests"`
	CacheHits     int64   `json:"cache_hits"`
	CacheMisses   int64   `json:"cache_misses"`
	CacheHitRate  float64 `json:"cache_hit_rate"` // Percentage

	// Degraded mode counters
	NetworkFallbacks int64 `json:"network_fallbacks"`
	Failures         int64 `json:"failures"`

	// Cache write statistics
	CacheWrites  int64 `json:"cache_writes"`
	BytesWritten int64 `json:"bytes_written"`
	WriteErrors  int64 `json:"write_errors"`

	// Last update timestamp
	LastUpdated time.Time `json:"last_updated"`

	mu sync.RWMutex
}

// Collector manages statistics for all categories
type Collector struct {
	stats map[string]*CategoryStatistics
	mu    sync.RWMutex
}

// NewCollector creates a new statistics collector
func NewCollector() *Collector {
	return &Collector{
		stats: make(map[string]*CategoryStatistics),
	}
}

// get returns the statistics for a category, creating them on first use
func (c *Collector) get(category string) *CategoryStatistics {
	c.mu.RLock()
	stats, exists := c.stats[category]
	c.mu.RUnlock()
	if exists {
		return stats
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if stats, exists = c.stats[category]; !exists {
		stats = &CategoryStatistics{
			Category:    category,
			LastUpdated: time.Now(),
		}
		c.stats[category] = stats
	}
	return stats
}

// GetStats returns a copy of the statistics for a category
func (c *Collector) GetStats(category string) *CategoryStatistics {
	c.mu.RLock()
	stats, exists := c.stats[category]
	c.mu.RUnlock()
	if !exists {
		return nil
	}
	return stats.snapshot()
}

// Snapshot returns copies of all category statistics, sorted by category
func (c *Collector) Snapshot() []*CategoryStatistics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]*CategoryStatistics, 0, len(c.stats))
	for _, stats := range c.stats {
		result = append(result, stats.snapshot())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Category < result[j].Category })
	return result
}

func (s *CategoryStatistics) snapshot() *CategoryStatistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return &CategoryStatistics{
		Category:         s.Category,
		TotalRequests:    s.TotalRequests,
		CacheHits:        s.CacheHits,
		CacheMisses:      s.CacheMisses,
		CacheHitRate:     s.CacheHitRate,
		NetworkFallbacks: s.NetworkFallbacks,
		Failures:         s.Failures,
		CacheWrites:      s.CacheWrites,
		BytesWritten:     s.BytesWritten,
		WriteErrors:      s.WriteErrors,
		LastUpdated:      s.LastUpdated,
	}
}

// RecordRequest records a request and whether it was answered from cache
func (c *Collector) RecordRequest(category string, cached bool) {
	stats := c.get(category)

	stats.mu.Lock()
	defer stats.mu.Unlock()

	stats.TotalRequests++
	if cached {
		stats.CacheHits++
	} else {
		stats.CacheMisses++
	}

	if stats.TotalRequests > 0 {
		stats.CacheHitRate = float64(stats.CacheHits) / float64(stats.TotalRequests) * 100.0
	}
	stats.LastUpdated = time.Now()
}

// RecordFallback records a response served from cache after a network failure
func (c *Collector) RecordFallback(category string) {
	stats := c.get(category)

	stats.mu.Lock()
	defer stats.mu.Unlock()
	stats.NetworkFallbacks++
	stats.LastUpdated = time.Now()
}

// RecordFailure records a failure propagated to the caller
func (c *Collector) RecordFailure(category string) {
	stats := c.get(category)

	stats.mu.Lock()
	defer stats.mu.Unlock()
	stats.Failures++
	stats.LastUpdated = time.Now()
}

// RecordCacheWrite records the outcome of a detached cache write
func (c *Collector) RecordCacheWrite(category string, size int64, err error) {
	stats := c.get(category)

	stats.mu.Lock()
	defer stats.mu.Unlock()
	if err != nil {
		stats.WriteErrors++
	} else {
		stats.CacheWrites++
		stats.BytesWritten += size
	}
	stats.LastUpdated = time.Now()
}

// Reset clears statistics for a category
func (c *Collector) Reset(category string) {
	c.mu.RLock()
	stats, exists := c.stats[category]
	c.mu.RUnlock()
	if !exists {
		return
	}

	stats.mu.Lock()
	defer stats.mu.Unlock()

	stats.TotalRequests = 0
	stats.CacheHits = 0
	stats.CacheMisses = 0
	stats.CacheHitRate = 0
	stats.NetworkFallbacks = 0
	stats.Failures = 0
	stats.CacheWrites = 0
	stats.BytesWritten = 0
	stats.WriteErrors = 0
	stats.LastUpdated = time.Now()
}
