// Package tiles resolves, fetches and decodes elevation tiles.
package tiles

import (
	"errors"
	"fmt"
	"math"

	"github.com/mohammed-shakir/terrain-contours/internal/core/model"
	"github.com/mohammed-shakir/terrain-contours/internal/projection"
)

var (
	ErrNoTilesFound = errors.New("no tiles found for bbox/zoom")
	ErrTooManyTiles = errors.New("too many tiles for bbox/zoom")
)

// TileSet is the inclusive tile range covering a bbox at one zoom.
type TileSet struct {
	Zoom     int
	TileSize int
	MinX     int
	MinY     int
	MaxX     int
	MaxY     int
}

func (ts TileSet) CountX() int { return ts.MaxX - ts.MinX + 1 }
func (ts TileSet) CountY() int { return ts.MaxY - ts.MinY + 1 }
func (ts TileSet) Count() int  { return ts.CountX() * ts.CountY() }

// Extent is the mosaic size in pixels.
func (ts TileSet) Extent() (w, h int) {
	return ts.CountX() * ts.TileSize, ts.CountY() * ts.TileSize
}

// Origin is the global pixel position of the top-left tile's top-left corner.
func (ts TileSet) Origin() (x, y float64) {
	return float64(ts.MinX * ts.TileSize), float64(ts.MinY * ts.TileSize)
}

// Offset is the mosaic pixel offset of tile t.
func (ts TileSet) Offset(t model.Tile) (ox, oy int) {
	return (int(t.X) - ts.MinX) * ts.TileSize, (int(t.Y) - ts.MinY) * ts.TileSize
}

// Tiles lists the set row-major, top row first.
func (ts TileSet) Tiles() []model.Tile {
	out := make([]model.Tile, 0, ts.Count())
	for y := ts.MinY; y <= ts.MaxY; y++ {
		for x := ts.MinX; x <= ts.MaxX; x++ {
			out = append(out, model.NewTile(ts.Zoom, x, y))
		}
	}
	return out
}

// Resolve computes the tiles whose footprint intersects bb at zoom.
// maxTiles <= 0 disables the size guard.
func Resolve(bb model.BBox, zoom int, proj projection.Projector, maxTiles int) (TileSet, error) {
	if zoom < 0 || zoom > 30 {
		return TileSet{}, fmt.Errorf("%w: zoom %d out of range", ErrNoTilesFound, zoom)
	}
	size := proj.TileSize
	if size <= 0 {
		size = projection.DefaultTileSize
	}

	x0, y0 := proj.Project(bb.MinLon, bb.MaxLat, zoom)
	x1, y1 := proj.Project(bb.MaxLon, bb.MinLat, zoom)

	last := (1 << zoom) - 1
	ts := TileSet{
		Zoom:     zoom,
		TileSize: size,
		MinX:     clampIndex(x0, size, last),
		MinY:     clampIndex(y0, size, last),
		MaxX:     clampIndex(x1, size, last),
		MaxY:     clampIndex(y1, size, last),
	}
	if ts.MaxX < ts.MinX || ts.MaxY < ts.MinY {
		return TileSet{}, fmt.Errorf("%w: bbox=%s zoom=%d", ErrNoTilesFound, bb, zoom)
	}
	if maxTiles > 0 && ts.Count() > maxTiles {
		return TileSet{}, fmt.Errorf("%w: %d tiles at zoom %d (limit %d)", ErrTooManyTiles, ts.Count(), zoom, maxTiles)
	}
	return ts, nil
}

func clampIndex(px float64, size, last int) int {
	i := int(math.Floor(px / float64(size)))
	if i < 0 {
		return 0
	}
	if i > last {
		return last
	}
	return i
}
