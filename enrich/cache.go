package enrich

import (
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"alertpipe/metrics"
)

const artifactKeySeparator = "@"

// ArtifactCache holds compiled per-rule artifacts (regex programs,
// expression programs) keyed by rule id and version so a rule is compiled
// at most once per version, never per alert. Entries for superseded
// versions are dropped explicitly on rule mutation and age out by TTL as
// a backstop.
type ArtifactCache struct {
	lru *expirable.LRU[string, any]

	// inflight tracks compilations in progress per key so concurrent
	// first-alerts of the same rule version compile once, while
	// unrelated keys compile independently.
	mu       sync.Mutex
	inflight map[string]*compileCall
}

// compileCall carries one in-flight compilation's outcome to every
// goroutine that arrived while it ran.
type compileCall struct {
	done chan struct{}
	val  any
	err  error
}

// NewArtifactCache creates a cache bounded to maxEntries with the given
// entry TTL.
func NewArtifactCache(maxEntries int, ttl time.Duration) *ArtifactCache {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	return &ArtifactCache{
		lru:      expirable.NewLRU[string, any](maxEntries, nil, ttl),
		inflight: make(map[string]*compileCall),
	}
}

// ArtifactKey builds the cache key for one rule version.
func ArtifactKey(ruleID string, version time.Time) string {
	return ruleID + artifactKeySeparator + version.UTC().Format(time.RFC3339Nano)
}

// GetOrCompile returns the cached artifact for the key, compiling it via
// the supplied function on a miss.
func (c *ArtifactCache) GetOrCompile(key string, compile func() (any, error)) (any, error) {
	if v, ok := c.lru.Get(key); ok {
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		return v, nil
	}

	c.mu.Lock()
	// Another goroutine may have compiled while we waited for the lock.
	if v, ok := c.lru.Get(key); ok {
		c.mu.Unlock()
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		return v, nil
	}
	if call, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		<-call.done
		return call.val, call.err
	}
	call := &compileCall{done: make(chan struct{})}
	c.inflight[key] = call
	c.mu.Unlock()

	metrics.CacheLookups.WithLabelValues("miss").Inc()
	call.val, call.err = compile()

	c.mu.Lock()
	if call.err == nil {
		c.lru.Add(key, call.val)
	}
	delete(c.inflight, key)
	c.mu.Unlock()
	close(call.done)
	return call.val, call.err
}

// InvalidateRule drops every cached version of a rule. Called by the rule
// service on update and delete.
func (c *ArtifactCache) InvalidateRule(ruleID string) {
	prefix := ruleID + artifactKeySeparator
	for _, key := range c.lru.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.lru.Remove(key)
		}
	}
}

// Purge empties the cache.
func (c *ArtifactCache) Purge() { c.lru.Purge() }

// Len returns the number of cached artifacts.
func (c *ArtifactCache) Len() int { return c.lru.Len() }
