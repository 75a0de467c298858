package verifier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/upb/api-auth/internal/observability"
)

const (
	// DefaultCacheTTL matches the usual issuer key rotation window
	DefaultCacheTTL = 1 * time.Hour

	// DefaultFetchTimeout bounds a single key set fetch
	DefaultFetchTimeout = 5 * time.Second

	maxKeySetBytes = 1 << 20
	refreshKey     = "jwks"
)

// KeySetCacheConfig holds configuration for KeySetCache
type KeySetCacheConfig struct {
	URL          string
	TTL          time.Duration
	FetchTimeout time.Duration

	// RefreshMinInterval rate limits refreshes triggered by unknown key ids.
	// Zero disables the limit. Refreshes caused by TTL expiry are never limited.
	RefreshMinInterval time.Duration

	// HTTPClient overrides the default client; its Timeout is left untouched.
	HTTPClient *http.Client
}

// KeySetCache keeps the issuer's key set in memory. Readers use the current
// snapshot without locking; refreshes are collapsed into one in-flight fetch
// and publish a new snapshot atomically.
type KeySetCache struct {
	url          string
	ttl          time.Duration
	fetchTimeout time.Duration
	httpClient   *http.Client
	logger       *zap.Logger
	metrics      *observability.Metrics
	now          func() time.Time

	current           atomic.Pointer[KeySet]
	group             singleflight.Group
	unknownKidLimiter *rate.Limiter
}

// CacheOption customizes a KeySetCache
type CacheOption func(*KeySetCache)

// WithCacheClock replaces time.Now for TTL bookkeeping
func WithCacheClock(now func() time.Time) CacheOption {
	return func(c *KeySetCache) {
		c.now = now
	}
}

// WithCacheMetrics records lookups and refreshes in m
func WithCacheMetrics(m *observability.Metrics) CacheOption {
	return func(c *KeySetCache) {
		c.metrics = m
	}
}

// NewKeySetCache creates a cache for the key set published at cfg.URL.
// Nothing is fetched until the first Resolve, Warm or ForceRefresh.
func NewKeySetCache(cfg KeySetCacheConfig, logger *zap.Logger, opts ...CacheOption) *KeySetCache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultCacheTTL
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.FetchTimeout}
	}

	c := &KeySetCache{
		url:          cfg.URL,
		ttl:          cfg.TTL,
		fetchTimeout: cfg.FetchTimeout,
		httpClient:   httpClient,
		logger:       logger,
		now:          time.Now,
	}
	if cfg.RefreshMinInterval > 0 {
		c.unknownKidLimiter = rate.NewLimiter(rate.Every(cfg.RefreshMinInterval), 1)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resolve returns the key published under kid. A fresh snapshot that holds kid
// answers without network access. Otherwise the key set is refreshed once and
// the lookup retried once.
func (c *KeySetCache) Resolve(ctx context.Context, kid string) (*KeyEntry, error) {
	set := c.Snapshot()
	if set != nil && !set.Expired(c.now()) {
		if entry, ok := set.Lookup(kid); ok {
			c.metrics.RecordKeyLookup(true)
			return entry, nil
		}
		if c.unknownKidLimiter != nil && !c.unknownKidLimiter.Allow() {
			c.logger.Debug("unknown kid refresh suppressed", zap.String("kid", kid))
			return nil, newError(KindUnknownKeyID, fmt.Sprintf("kid %q not in key set", kid), nil)
		}
	}
	c.metrics.RecordKeyLookup(false)

	refreshed, err := c.refresh(ctx, set)
	if err != nil {
		return nil, err
	}
	if entry, ok := refreshed.Lookup(kid); ok {
		return entry, nil
	}
	return nil, newError(KindUnknownKeyID, fmt.Sprintf("kid %q not in key set", kid), nil)
}

// ForceRefresh fetches the key set from the issuer and publishes it.
// Concurrent callers share one fetch and observe the same result.
func (c *KeySetCache) ForceRefresh(ctx context.Context) (*KeySet, error) {
	return c.refresh(ctx, c.Snapshot())
}

// Warm performs the initial fetch so the first request does not pay for it
func (c *KeySetCache) Warm(ctx context.Context) error {
	_, err := c.ForceRefresh(ctx)
	return err
}

// Snapshot returns the current key set, or nil before the first successful fetch
func (c *KeySetCache) Snapshot() *KeySet {
	return c.current.Load()
}

// CacheStats describes the cached key set
type CacheStats struct {
	Cached    bool      `json:"cached"`
	Fresh     bool      `json:"fresh"`
	KeyCount  int       `json:"key_count"`
	FetchedAt time.Time `json:"fetched_at,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Stats returns cache statistics
func (c *KeySetCache) Stats() CacheStats {
	set := c.Snapshot()
	if set == nil {
		return CacheStats{}
	}
	return CacheStats{
		Cached:    true,
		Fresh:     !set.Expired(c.now()),
		KeyCount:  set.Len(),
		FetchedAt: set.FetchedAt,
		ExpiresAt: set.ExpiresAt(),
	}
}

// refresh replaces observed with a newly fetched key set. If another caller
// already published a different snapshot since observed was loaded, that
// snapshot is returned instead of fetching again.
func (c *KeySetCache) refresh(ctx context.Context, observed *KeySet) (*KeySet, error) {
	if cur := c.current.Load(); cur != nil && cur != observed {
		return cur, nil
	}

	ch := c.group.DoChan(refreshKey, func() (interface{}, error) {
		if cur := c.current.Load(); cur != nil && cur != observed {
			return cur, nil
		}

		// The fetch is shared by every waiting caller, so it must not die with
		// the caller that happened to start it.
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()

		set, err := c.fetch(fetchCtx)
		if err != nil {
			c.metrics.RecordKeySetRefresh(err, 0)
			c.logger.Warn("key set refresh failed",
				zap.String("url", c.url),
				zap.Error(err))
			return nil, err
		}

		c.current.Store(set)
		c.metrics.RecordKeySetRefresh(nil, set.Len())
		c.logger.Info("key set refreshed",
			zap.String("url", c.url),
			zap.Int("keys", set.Len()),
			zap.Time("expires_at", set.ExpiresAt()))
		return set, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, newError(KindKeySetUnavailable, "", res.Err)
		}
		return res.Val.(*KeySet), nil
	case <-ctx.Done():
		return nil, newError(KindKeySetUnavailable, "", ctx.Err())
	}
}

var errKeySetTooLarge = errors.New("key set response too large")

// fetch retrieves and parses the JWKS document
func (c *KeySetCache) fetch(ctx context.Context) (*KeySet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch JWKS: status code %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxKeySetBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read JWKS: %w", err)
	}
	if len(body) > maxKeySetBytes {
		return nil, errKeySetTooLarge
	}

	return parseKeySet(body, c.now(), c.ttl, c.logger)
}
