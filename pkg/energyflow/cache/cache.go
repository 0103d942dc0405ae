package cache

import (
	"sync"
	"time"

	"k8s.io/klog/v2"

	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/api"
	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/clock"
)

// Cache keeps ready model descriptions per API base URL. Entries are served
// while younger than ttl and swept once older than maxAge.
type Cache struct {
	data    map[string]*cacheEntry
	mutex   sync.RWMutex
	ttl     time.Duration
	maxAge  time.Duration
	clock   clock.Clock
	stopCh  chan struct{}
	stopped sync.Once
	metrics *metrics
}

type cacheEntry struct {
	info      *api.ModelInfo
	timestamp time.Time
	hits      int64
}

type metrics struct {
	hits   int64
	misses int64
	mutex  sync.RWMutex
}

// New creates a cache backed by the real clock
func New(ttl, maxAge time.Duration) *Cache {
	return NewWithClock(ttl, maxAge, nil)
}

// NewWithClock creates a cache whose freshness checks and sweeps use clk
func NewWithClock(ttl, maxAge time.Duration, clk clock.Clock) *Cache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if maxAge < ttl {
		maxAge = ttl
	}

	c := &Cache{
		data:    make(map[string]*cacheEntry),
		ttl:     ttl,
		maxAge:  maxAge,
		clock:   clock.OrReal(clk),
		stopCh:  make(chan struct{}),
		metrics: &metrics{},
	}

	ticker := c.clock.NewTicker(c.ttl)
	go c.cleanup(ticker)

	return c
}

// Get returns a fresh entry for baseURL
func (c *Cache) Get(baseURL string) (*api.ModelInfo, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	entry, exists := c.data[baseURL]
	if !exists || c.clock.Since(entry.timestamp) > c.ttl {
		c.recordMiss()
		return nil, false
	}

	entry.hits++
	c.recordHit()

	info := *entry.info
	return &info, true
}

// Set stores info for baseURL. Only ready models are cached so a model that
// finishes loading is noticed on the next fetch.
func (c *Cache) Set(baseURL string, info *api.ModelInfo) {
	if info == nil || !info.Ready() {
		return
	}

	stored := *info

	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.data[baseURL] = &cacheEntry{
		info:      &stored,
		timestamp: c.clock.Now(),
	}

	klog.V(4).InfoS("Cached model info",
		"url", baseURL,
		"modelType", info.ModelType,
		"totalParams", info.TotalParams)
}

// GetMetrics returns cache performance metrics
func (c *Cache) GetMetrics() (hits, misses int64) {
	c.metrics.mutex.RLock()
	defer c.metrics.mutex.RUnlock()
	return c.metrics.hits, c.metrics.misses
}

func (c *Cache) recordHit() {
	c.metrics.mutex.Lock()
	c.metrics.hits++
	c.metrics.mutex.Unlock()
}

func (c *Cache) recordMiss() {
	c.metrics.mutex.Lock()
	c.metrics.misses++
	c.metrics.mutex.Unlock()
}

func (c *Cache) cleanup(ticker clock.Ticker) {
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C():
			c.removeExpired()
		}
	}
}

func (c *Cache) removeExpired() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	for baseURL, entry := range c.data {
		age := c.clock.Since(entry.timestamp)
		if age > c.maxAge {
			delete(c.data, baseURL)
			klog.V(4).InfoS("Removed expired cache entry",
				"url", baseURL,
				"age", age.String(),
				"hits", entry.hits)
		}
	}
}

// Close stops the cleanup goroutine. It is safe to call more than once.
func (c *Cache) Close() {
	c.stopped.Do(func() { close(c.stopCh) })
}

// Clear removes all entries from the cache
func (c *Cache) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.data = make(map[string]*cacheEntry)
	klog.V(4).Info("Cleared model info cache")
}

// Size returns the number of entries in the cache
func (c *Cache) Size() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.data)
}
