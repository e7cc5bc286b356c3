// Package tilecache puts an in-process LRU and an optional shared store in
// front of a tile fetcher.
package tilecache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/mohammed-shakir/terrain-contours/internal/core/model"
	"github.com/mohammed-shakir/terrain-contours/internal/core/observability"
	"github.com/mohammed-shakir/terrain-contours/internal/hotness"
	"github.com/mohammed-shakir/terrain-contours/internal/tilecache/keys"
	"github.com/mohammed-shakir/terrain-contours/internal/tiles"
)

// Store is the shared second tier, usually redisstore.Client.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) (int, error)
}

type Config struct {
	Source       string
	L1Size       int
	TTL          time.Duration
	HotTTL       time.Duration
	HotThreshold float64
	HotRes       int
	OpTimeout    time.Duration
}

// Cached implements tiles.Fetcher. Concurrent misses for one tile share a
// single upstream fetch. Store errors are logged and fall through to the
// next tier.
type Cached struct {
	logger *slog.Logger
	next   tiles.Fetcher
	l1     *lru.Cache[string, []byte]
	l2     Store
	hot    hotness.Interface
	group  singleflight.Group
	cfg    Config
}

var _ tiles.Fetcher = (*Cached)(nil)

// New wraps next. l2 and hot may be nil.
func New(logger *slog.Logger, next tiles.Fetcher, l2 Store, hot hotness.Interface, cfg Config) (*Cached, error) {
	if next == nil {
		return nil, errors.New("tilecache: next fetcher is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.L1Size <= 0 {
		cfg.L1Size = 1024
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.HotTTL <= 0 {
		cfg.HotTTL = cfg.TTL
	}
	if cfg.HotRes <= 0 {
		cfg.HotRes = hotness.DefaultResolution
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 250 * time.Millisecond
	}
	l1, err := lru.New[string, []byte](cfg.L1Size)
	if err != nil {
		return nil, fmt.Errorf("tilecache: l1: %w", err)
	}
	return &Cached{logger: logger, next: next, l1: l1, l2: l2, hot: hot, cfg: cfg}, nil
}

// Fetch returns shared bytes; callers must not modify them.
func (c *Cached) Fetch(ctx context.Context, t model.Tile) ([]byte, error) {
	k := keys.Key(c.cfg.Source, t)
	cell := c.touch(t)

	if b, ok := c.l1.Get(k); ok {
		observability.IncCacheHit("l1")
		return b, nil
	}
	observability.IncCacheMiss("l1")

	v, err, _ := c.group.Do(k, func() (any, error) {
		if b, ok := c.getL2(ctx, k); ok {
			c.l1.Add(k, b)
			return b, nil
		}
		b, err := c.next.Fetch(ctx, t)
		if err != nil {
			return nil, err
		}
		c.l1.Add(k, b)
		c.setL2(ctx, k, b, c.ttlFor(cell))
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Invalidate drops the given tiles from both tiers and clears the hotness of
// their regions. It returns the number of L2 keys that existed.
func (c *Cached) Invalidate(ctx context.Context, ts []model.Tile) (int, error) {
	if len(ts) == 0 {
		return 0, nil
	}
	ks := make([]string, 0, len(ts))
	cells := make(map[string]struct{}, len(ts))
	for _, t := range ts {
		k := keys.Key(c.cfg.Source, t)
		c.l1.Remove(k)
		ks = append(ks, k)
		if cell := hotness.CellForTile(t, c.cfg.HotRes); cell != "" {
			cells[cell] = struct{}{}
		}
	}
	if c.hot != nil {
		for cell := range cells {
			c.hot.Reset(cell)
		}
	}
	if c.l2 == nil {
		return len(ks), nil
	}
	n, err := c.l2.Del(ctx, ks...)
	if err != nil {
		return 0, fmt.Errorf("tilecache: invalidate %d keys: %w", len(ks), err)
	}
	return n, nil
}

// Len is the number of entries held in-process.
func (c *Cached) Len() int { return c.l1.Len() }

func (c *Cached) touch(t model.Tile) string {
	if c.hot == nil {
		return ""
	}
	cell := hotness.CellForTile(t, c.cfg.HotRes)
	c.hot.Inc(cell)
	return cell
}

func (c *Cached) ttlFor(cell string) time.Duration {
	if c.hot != nil && c.cfg.HotThreshold > 0 && c.hot.Score(cell) >= c.cfg.HotThreshold {
		return c.cfg.HotTTL
	}
	return c.cfg.TTL
}

func (c *Cached) getL2(ctx context.Context, k string) ([]byte, bool) {
	if c.l2 == nil {
		return nil, false
	}
	opCtx, cancel := context.WithTimeout(ctx, c.cfg.OpTimeout)
	defer cancel()
	b, ok, err := c.l2.Get(opCtx, k)
	if err != nil {
		c.logger.Warn("tile cache read failed", "key", k, "err", err)
		return nil, false
	}
	if !ok {
		observability.IncCacheMiss("redis")
		return nil, false
	}
	observability.IncCacheHit("redis")
	return b, true
}

func (c *Cached) setL2(ctx context.Context, k string, b []byte, ttl time.Duration) {
	if c.l2 == nil {
		return
	}
	// written even when the request itself was canceled
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.OpTimeout)
	defer cancel()
	if err := c.l2.Set(opCtx, k, b, ttl); err != nil {
		c.logger.Warn("tile cache write failed", "key", k, "err", err)
	}
}
