package kafkaconsumer

import (
	"fmt"
	"slices"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mohammed-shakir/terrain-contours/internal/invalidation"
)

// tsDedupe remembers the newest applied event time per target, so replays
// and out-of-order duplicates do not hit the cache again.
type tsDedupe struct {
	mu  sync.Mutex
	lru *lru.Cache[string, int64]
}

func newTSDedupe(size int) *tsDedupe {
	if size <= 0 {
		size = 4096
	}
	c, _ := lru.New[string, int64](size)
	return &tsDedupe{lru: c}
}

// isNewer reports whether ts is after the last applied event for key.
func (d *tsDedupe) isNewer(key string, ts int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	last, ok := d.lru.Get(key)
	return !ok || ts > last
}

func (d *tsDedupe) record(key string, ts int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if last, ok := d.lru.Get(key); ok && last >= ts {
		return
	}
	d.lru.Add(key, ts)
}

func dedupeKey(ev invalidation.Event) string {
	if ev.Tile != nil {
		return fmt.Sprintf("%s|tile|%d/%d/%d", ev.Source, ev.Tile.Z, ev.Tile.X, ev.Tile.Y)
	}
	b := ev.BBox
	zooms := slices.Clone(ev.Zooms)
	slices.Sort(zooms)
	return fmt.Sprintf("%s|bbox|%g,%g,%g,%g|%v", ev.Source, b.MinLon, b.MinLat, b.MaxLon, b.MaxLat, zooms)
}
