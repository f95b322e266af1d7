package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultObservationWindow bounds how long a fingerprint counts as "seen"
// for uniqueness accounting. It matches the 24-bucket hourly duplicate
// distribution.
const DefaultObservationWindow = 24 * time.Hour

// RedisFingerprintTracker records fingerprint sightings per rule in Redis
// sets. SADD is atomic, so concurrent ingestion of the same fingerprint
// elects exactly one "first" observer.
type RedisFingerprintTracker struct {
	client *redis.Client
	window time.Duration
	logger *zap.SugaredLogger
}

// NewRedisFingerprintTracker creates a tracker against the given Redis
// instance.
func NewRedisFingerprintTracker(addr, password string, db int, window time.Duration, logger *zap.SugaredLogger) *RedisFingerprintTracker {
	if window <= 0 {
		window = DefaultObservationWindow
	}
	return &RedisFingerprintTracker{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}),
		window: window,
		logger: logger,
	}
}

// NewRedisFingerprintTrackerWithClient wraps an existing client; tests
// hand in a miniredis-backed client.
func NewRedisFingerprintTrackerWithClient(client *redis.Client, window time.Duration, logger *zap.SugaredLogger) *RedisFingerprintTracker {
	if window <= 0 {
		window = DefaultObservationWindow
	}
	return &RedisFingerprintTracker{client: client, window: window, logger: logger}
}

// Ping tests the Redis connection.
func (t *RedisFingerprintTracker) Ping(ctx context.Context) error {
	return t.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (t *RedisFingerprintTracker) Close() error {
	return t.client.Close()
}

// Observe records a fingerprint sighting and reports whether it is the
// first within the rule's observation window.
func (t *RedisFingerprintTracker) Observe(ctx context.Context, ruleID, fingerprint string) (bool, error) {
	key := "alertpipe:fp:" + ruleID

	added, err := t.client.SAdd(ctx, key, fingerprint).Result()
	if err != nil {
		return false, fmt.Errorf("failed to record fingerprint: %w", err)
	}
	// Refresh the window on every sighting; the set expires as a whole
	// once the rule goes quiet.
	if err := t.client.Expire(ctx, key, t.window).Err(); err != nil {
		t.logger.Debugw("Failed to refresh fingerprint window", "rule_id", ruleID, "error", err)
	}
	return added == 1, nil
}

// MemoryFingerprintTracker is the in-process fallback used when Redis is
// not configured, and by tests. Sightings expire after the observation
// window.
type MemoryFingerprintTracker struct {
	mu     sync.Mutex
	seen   map[string]map[string]time.Time
	window time.Duration
	now    func() time.Time
}

// NewMemoryFingerprintTracker creates an in-memory tracker.
func NewMemoryFingerprintTracker(window time.Duration) *MemoryFingerprintTracker {
	if window <= 0 {
		window = DefaultObservationWindow
	}
	return &MemoryFingerprintTracker{
		seen:   make(map[string]map[string]time.Time),
		window: window,
		now:    time.Now,
	}
}

// Observe records a fingerprint sighting and reports whether it is the
// first within the observation window.
func (t *MemoryFingerprintTracker) Observe(_ context.Context, ruleID, fingerprint string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	fingerprints, ok := t.seen[ruleID]
	if !ok {
		fingerprints = make(map[string]time.Time)
		t.seen[ruleID] = fingerprints
	}

	if last, ok := fingerprints[fingerprint]; ok && now.Sub(last) < t.window {
		fingerprints[fingerprint] = now
		return false, nil
	}

	fingerprints[fingerprint] = now
	t.prune(fingerprints, now)
	return true, nil
}

func (t *MemoryFingerprintTracker) prune(fingerprints map[string]time.Time, now time.Time) {
	for fp, last := range fingerprints {
		if now.Sub(last) >= t.window {
			delete(fingerprints, fp)
		}
	}
}
