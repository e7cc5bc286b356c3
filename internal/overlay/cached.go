package overlay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/mohammed-shakir/terrain-contours/internal/core/model"
	"github.com/mohammed-shakir/terrain-contours/internal/core/observability"
)

const DefaultCacheTTL = 10 * time.Minute

// CachedSource memoises a Source per bbox and filter. Failures are not cached.
type CachedSource struct {
	logger *slog.Logger
	next   Source
	filter string
	cache  *ristretto.Cache
	ttl    time.Duration
}

type CacheConfig struct {
	// MaxCost bounds the cache by total vertex count.
	MaxCost int64
	TTL     time.Duration
	Filter  string
}

func NewCachedSource(logger *slog.Logger, next Source, cfg CacheConfig) (*CachedSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxCost <= 0 {
		cfg.MaxCost = 1 << 22
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultCacheTTL
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e6,
		MaxCost:     cfg.MaxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("overlay cache: %w", err)
	}
	return &CachedSource{logger: logger, next: next, filter: cfg.Filter, cache: c, ttl: cfg.TTL}, nil
}

func (c *CachedSource) key(bb model.BBox) string {
	return c.filter + "|" + bb.String()
}

func (c *CachedSource) Lines(ctx context.Context, bb model.BBox) ([]model.VectorLine, error) {
	k := c.key(bb)
	if v, ok := c.cache.Get(k); ok {
		if lines, ok := v.([]model.VectorLine); ok {
			observability.IncCacheHit("overlay")
			return lines, nil
		}
	}
	observability.IncCacheMiss("overlay")

	lines, err := c.next.Lines(ctx, bb)
	if err != nil {
		return nil, err
	}
	var cost int64 = 1
	for _, l := range lines {
		cost += int64(len(l.Points))
	}
	if !c.cache.SetWithTTL(k, lines, cost, c.ttl) {
		c.logger.Debug("overlay cache rejected entry", "key", k, "cost", cost)
	}
	return lines, nil
}

// Wait blocks until buffered writes are applied.
func (c *CachedSource) Wait() { c.cache.Wait() }

func (c *CachedSource) Close() { c.cache.Close() }
