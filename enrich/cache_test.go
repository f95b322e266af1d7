package enrich

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrCompileCaches(t *testing.T) {
	cache := NewArtifactCache(16, time.Minute)
	key := ArtifactKey("rule-1", time.Now())

	calls := 0
	compile := func() (any, error) {
		calls++
		return "artifact", nil
	}

	v, err := cache.GetOrCompile(key, compile)
	require.NoError(t, err)
	assert.Equal(t, "artifact", v)

	v, err = cache.GetOrCompile(key, compile)
	require.NoError(t, err)
	assert.Equal(t, "artifact", v)
	assert.Equal(t, 1, calls, "second lookup must hit the cache")
}

func TestGetOrCompileError(t *testing.T) {
	cache := NewArtifactCache(16, time.Minute)
	key := ArtifactKey("rule-1", time.Now())

	_, err := cache.GetOrCompile(key, func() (any, error) {
		return nil, fmt.Errorf("boom")
	})
	assert.Error(t, err)
	assert.Equal(t, 0, cache.Len(), "failed compiles are not cached")
}

func TestGetOrCompileConcurrentSingleCompile(t *testing.T) {
	cache := NewArtifactCache(16, time.Minute)
	key := ArtifactKey("rule-1", time.Now())

	var calls atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.GetOrCompile(key, func() (any, error) {
				calls.Add(1)
				return "artifact", nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), calls.Load(), "concurrent first lookups must compile once")
}

func TestGetOrCompileKeysCompileIndependently(t *testing.T) {
	cache := NewArtifactCache(16, time.Minute)

	slowStarted := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		_, err := cache.GetOrCompile(ArtifactKey("slow-rule", time.Now()), func() (any, error) {
			close(slowStarted)
			<-release
			return "slow", nil
		})
		assert.NoError(t, err)
	}()

	// A different key must compile while the slow one is still in flight.
	<-slowStarted
	v, err := cache.GetOrCompile(ArtifactKey("fast-rule", time.Now()), func() (any, error) {
		return "fast", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "fast", v)

	close(release)
	<-done
}

func TestVersionedKeysAreDistinct(t *testing.T) {
	v1 := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	v2 := v1.Add(time.Second)
	assert.NotEqual(t, ArtifactKey("rule-1", v1), ArtifactKey("rule-1", v2))
}

func TestInvalidateRuleDropsAllVersions(t *testing.T) {
	cache := NewArtifactCache(16, time.Minute)
	v1 := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	v2 := v1.Add(time.Second)

	for _, version := range []time.Time{v1, v2} {
		_, err := cache.GetOrCompile(ArtifactKey("rule-1", version), func() (any, error) { return "a", nil })
		require.NoError(t, err)
	}
	_, err := cache.GetOrCompile(ArtifactKey("rule-2", v1), func() (any, error) { return "b", nil })
	require.NoError(t, err)

	cache.InvalidateRule("rule-1")
	assert.Equal(t, 1, cache.Len(), "only rule-2's artifact should survive")
}
