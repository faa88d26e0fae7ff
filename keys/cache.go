package keykit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// DefaultExpiration matches the provider's observed rotation schedule.
const DefaultExpiration = 24 * time.Hour

// RetryBudget limits how often a key-lookup miss may trigger an extra
// refresh. Reserve consumes one slot; it returns false when the budget for
// the current window is spent. The in-process implementation lives in
// ratelimit/memory, a Redis-backed one for multi-replica deployments in
// ratelimit/redis.
type RetryBudget interface {
	Reserve() (bool, error)
}

// CacheConfig carries the knobs for a Cache. Zero values fall back to
// http.DefaultClient, DefaultExpiration and time.Now.
type CacheConfig struct {
	Client       *http.Client
	KeysEndpoint string
	Window       time.Duration
	Offline      bool
	Budget       RetryBudget
	Clock        func() time.Time
	Logger       logrus.FieldLogger
}

// Cache holds the current KeySet snapshot and implements the refresh policy:
// staleness is recomputed from the clock on every query, refresh replaces the
// snapshot wholesale, and concurrent refreshes collapse into one fetch so a
// burst of misses cannot blow the retry budget.
type Cache struct {
	client       *http.Client
	keysEndpoint string
	offline      bool
	budget       RetryBudget
	now          func() time.Time
	log          logrus.FieldLogger

	mu           sync.RWMutex
	set          *KeySet
	window       time.Duration
	retryEnabled bool

	group singleflight.Group
}

// NewCache builds a cache around the given key-set endpoint. The cache does
// not fetch eagerly; the first EnsureFresh or Refresh does.
func NewCache(cfg CacheConfig) *Cache {
	c := &Cache{
		client:       cfg.Client,
		keysEndpoint: cfg.KeysEndpoint,
		offline:      cfg.Offline,
		budget:       cfg.Budget,
		now:          cfg.Clock,
		log:          cfg.Logger,
		window:       cfg.Window,
		retryEnabled: true,
	}
	if c.client == nil {
		c.client = http.DefaultClient
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.window <= 0 {
		c.window = DefaultExpiration
	}
	return c
}

// Current returns the current snapshot, which may be nil before the first
// successful refresh.
func (c *Cache) Current() *KeySet {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.set
}

// IsFresh reports whether a snapshot exists and is younger than the
// expiration window at the given instant. Freshness is never cached.
func (c *Cache) IsFresh(now time.Time) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.set != nil && now.Sub(c.set.FetchedAt) <= c.window
}

// Offline reports whether the cache is caller-managed.
func (c *Cache) Offline() bool { return c.offline }

// SetWindow changes the expiration window applied to freshness checks.
func (c *Cache) SetWindow(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	c.window = d
	c.mu.Unlock()
}

// SetRetryEnabled toggles the retry-on-miss policy.
func (c *Cache) SetRetryEnabled(enabled bool) {
	c.mu.Lock()
	c.retryEnabled = enabled
	c.mu.Unlock()
}

// SetKeys replaces the snapshot with a caller-supplied one. This is the
// manual override used in offline mode and tests. Sets with a zero FetchedAt
// are stamped with the current clock.
func (c *Cache) SetKeys(set *KeySet) {
	if set != nil && set.FetchedAt.IsZero() {
		stamped := *set
		stamped.FetchedAt = c.now()
		set = &stamped
	}
	c.mu.Lock()
	c.set = set
	c.mu.Unlock()
}

// EnsureFresh refreshes when the snapshot is stale or absent. In offline
// mode it is a no-op: the caller owns the key lifecycle entirely.
func (c *Cache) EnsureFresh(ctx context.Context) error {
	if c.offline {
		return nil
	}
	if c.IsFresh(c.now()) {
		return nil
	}
	_, err := c.Refresh(ctx)
	return err
}

// Refresh fetches the key-set endpoint and replaces the snapshot wholesale.
// On any fetch or parse failure the previous snapshot is left untouched.
// Concurrent callers share a single in-flight fetch.
func (c *Cache) Refresh(ctx context.Context) (*KeySet, error) {
	v, err, _ := c.group.Do("refresh", func() (any, error) {
		return c.fetch(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*KeySet), nil
}

func (c *Cache) fetch(ctx context.Context) (*KeySet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.keysEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("keys: key set request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("keys: key set fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("keys: key set fetch failed: %s", resp.Status)
	}
	var doc KeysDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("keys: key set document parse: %w", err)
	}
	set, err := NewKeySet(doc.Keys, c.now())
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.set = set
	c.mu.Unlock()

	if c.log != nil {
		c.log.WithFields(logrus.Fields{
			"key_count":  len(set.Records),
			"fetched_at": set.FetchedAt.Format(time.RFC3339),
		}).Debug("key set refreshed")
	}
	return set, nil
}

// ShouldRetryOnMiss reports whether a key-lookup miss is allowed to trigger
// an extra refresh at all: never offline, only while retry is enabled, and
// only when a snapshot exists to refresh against. The once-per-hour budget
// is consumed separately by RetryRefresh.
func (c *Cache) ShouldRetryOnMiss() bool {
	if c.offline {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.retryEnabled && c.set != nil
}

// RetryRefresh performs the one bounded refresh a key-lookup miss is
// entitled to. The budget slot is consumed as soon as the attempt is made,
// regardless of whether the refresh succeeds or the rematch finds the key.
// The boolean reports whether a refresh was attempted.
func (c *Cache) RetryRefresh(ctx context.Context) (*KeySet, bool, error) {
	if !c.ShouldRetryOnMiss() {
		return nil, false, nil
	}
	if c.budget != nil {
		ok, err := c.budget.Reserve()
		if err != nil {
			// A broken budget backend must not open the refresh
			// floodgates; treat it as exhausted.
			if c.log != nil {
				c.log.WithError(err).Warn("retry budget unavailable, skipping refresh")
			}
			return nil, false, nil
		}
		if !ok {
			if c.log != nil {
				c.log.Debug("retry budget exhausted, skipping refresh")
			}
			return nil, false, nil
		}
	}
	set, err := c.Refresh(ctx)
	return set, true, err
}
