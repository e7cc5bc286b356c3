// Package mosaic assembles decoded elevation tiles into one raster.
package mosaic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mohammed-shakir/terrain-contours/internal/core/model"
	"github.com/mohammed-shakir/terrain-contours/internal/core/observability"
	"github.com/mohammed-shakir/terrain-contours/internal/tiles"
)

const DefaultWorkers = 8

var ErrMosaicEmpty = errors.New("mosaic empty: every tile failed")

type GridDecoder interface {
	Decode(b []byte) (tiles.Grid, error)
	TileSize() int
}

type Config struct {
	Workers     int
	TileTimeout time.Duration
}

// TileFailure records a tile whose region was left as NaN.
type TileFailure struct {
	Tile model.Tile
	Kind string
	Err  error
}

// Mosaic is the assembled raster; Raster is in mosaic-local pixels.
type Mosaic struct {
	Raster   *model.Raster
	Tiles    tiles.TileSet
	Failures []TileFailure
}

func (m *Mosaic) Origin() (x, y float64) { return m.Tiles.Origin() }

// Degraded is the number of tiles missing from the raster.
func (m *Mosaic) Degraded() int { return len(m.Failures) }

type Assembler struct {
	logger      *slog.Logger
	fetcher     tiles.Fetcher
	decoder     GridDecoder
	workers     int
	tileTimeout time.Duration
}

func NewAssembler(logger *slog.Logger, f tiles.Fetcher, d GridDecoder, cfg Config) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Assembler{
		logger:      logger,
		fetcher:     f,
		decoder:     d,
		workers:     workers,
		tileTimeout: cfg.TileTimeout,
	}
}

type outcome struct {
	tile model.Tile
	err  error
}

// Assemble fetches and decodes every tile of ts into a NaN-prefilled arena.
// Each worker writes only its own tile's rectangle, so the arena needs no
// locking. Tile failures degrade that rectangle to NaN; the call fails only
// when no tile succeeds.
func (a *Assembler) Assemble(ctx context.Context, ts tiles.TileSet) (*Mosaic, error) {
	if ts.TileSize != a.decoder.TileSize() {
		return nil, fmt.Errorf("tile set size %d does not match decoder size %d", ts.TileSize, a.decoder.TileSize())
	}
	start := time.Now()

	w, h := ts.Extent()
	arena := model.NewRaster(w, h)
	list := ts.Tiles()

	jobs := make(chan model.Tile, len(list))
	results := make(chan outcome, len(list))

	workerN := min(a.workers, len(list))
	var wg sync.WaitGroup
	wg.Add(workerN)
	for range workerN {
		go func() {
			defer wg.Done()
			for t := range jobs {
				results <- outcome{tile: t, err: a.fill(ctx, arena, ts, t)}
			}
		}()
	}

	for _, t := range list {
		jobs <- t
	}
	close(jobs)
	wg.Wait()
	close(results)

	m := &Mosaic{Raster: arena, Tiles: ts}
	for r := range results {
		if r.err == nil {
			observability.IncTileOutcome("ok")
			continue
		}
		kind := tiles.Classify(r.err)
		observability.IncTileOutcome(kind)
		m.Failures = append(m.Failures, TileFailure{Tile: r.tile, Kind: kind, Err: r.err})
	}
	sort.Slice(m.Failures, func(i, j int) bool {
		a, b := m.Failures[i].Tile, m.Failures[j].Tile
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.X < b.X
	})
	observability.ObserveMosaicDegraded(m.Degraded())

	if m.Degraded() == len(list) {
		a.logger.Error("mosaic empty", "tiles", len(list), "zoom", ts.Zoom, "first_err", m.Failures[0].Err)
		return nil, fmt.Errorf("%w: %d/%d tiles failed, first: %v", ErrMosaicEmpty, len(list), len(list), m.Failures[0].Err)
	}
	if m.Degraded() > 0 {
		for _, f := range m.Failures {
			a.logger.Warn("tile degraded to missing data",
				"z", f.Tile.Z, "x", f.Tile.X, "y", f.Tile.Y, "kind", f.Kind, "err", f.Err)
		}
	}
	a.logger.Debug("mosaic assembled",
		"zoom", ts.Zoom, "tiles", len(list), "degraded", m.Degraded(),
		"width", w, "height", h, "dur", time.Since(start).String())
	return m, nil
}

// fill fetches, decodes and copies one tile into its rectangle of arena.
func (a *Assembler) fill(ctx context.Context, arena *model.Raster, ts tiles.TileSet, t model.Tile) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("tile %d/%d/%d abandoned: %w", t.Z, t.X, t.Y, err)
	}

	tctx, cancel := ctx, context.CancelFunc(func() {})
	if a.tileTimeout > 0 {
		tctx, cancel = context.WithTimeout(ctx, a.tileTimeout)
	}
	defer cancel()

	b, err := a.fetcher.Fetch(tctx, t)
	if err != nil {
		if ctx.Err() == nil && errors.Is(tctx.Err(), context.DeadlineExceeded) && !errors.Is(err, tiles.ErrTileFetchTimeout) {
			return fmt.Errorf("%w: tile %d/%d/%d after %s: %v", tiles.ErrTileFetchTimeout, t.Z, t.X, t.Y, a.tileTimeout, err)
		}
		return err
	}

	g, err := a.decoder.Decode(b)
	if err != nil {
		return fmt.Errorf("tile %d/%d/%d: %w", t.Z, t.X, t.Y, err)
	}

	ox, oy := ts.Offset(t)
	for r := 0; r < g.Size; r++ {
		copy(arena.Row(oy + r)[ox:ox+g.Size], g.Data[r*g.Size:(r+1)*g.Size])
	}
	return nil
}
