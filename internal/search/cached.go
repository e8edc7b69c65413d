package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"askweb/internal/cache"
	"askweb/internal/domain"
	"askweb/internal/metrics"
)

const defaultCacheTTL = time.Hour

// Cached memoizes successful searches. Failures are never cached.
type Cached struct {
	next   domain.SearchProvider
	store  cache.Store
	ttl    time.Duration
	logger *slog.Logger
}

func NewCached(next domain.SearchProvider, store cache.Store, ttl time.Duration, logger *slog.Logger) *Cached {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Cached{next: next, store: store, ttl: ttl, logger: logger}
}

func (c *Cached) Name() string { return c.next.Name() }

func (c *Cached) Search(ctx context.Context, query string, opts domain.SearchOptions) (*domain.SearchResults, error) {
	key := c.key(query, opts)

	var hit domain.SearchResults
	err := c.store.Get(ctx, key, &hit)
	switch {
	case err == nil:
		metrics.SearchCache.WithLabelValues("hit").Inc()
		return &hit, nil
	case !errors.Is(err, cache.ErrMiss):
		c.logger.Warn("search cache read failed", "provider", c.next.Name(), "err", err)
	}
	metrics.SearchCache.WithLabelValues("miss").Inc()

	res, err := c.next.Search(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	if err := c.store.Set(ctx, key, res, c.ttl); err != nil {
		c.logger.Warn("search cache write failed", "provider", c.next.Name(), "err", err)
	}
	return res, nil
}

func (c *Cached) key(query string, opts domain.SearchOptions) string {
	data, _ := json.Marshal(struct {
		Q string               `json:"q"`
		O domain.SearchOptions `json:"o"`
	}{query, opts})
	sum := sha256.Sum256(data)
	return "search:" + c.next.Name() + ":" + hex.EncodeToString(sum[:16])
}
