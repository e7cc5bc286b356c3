// Package invalidation describes upstream tile change events and expands them
// into the tiles whose cached copies must be dropped.
package invalidation

import (
	"errors"
	"fmt"
	"time"

	"github.com/mohammed-shakir/terrain-contours/internal/core/model"
	"github.com/mohammed-shakir/terrain-contours/internal/projection"
	"github.com/mohammed-shakir/terrain-contours/internal/tiles"
)

var ErrTooManyTiles = errors.New("invalidation covers too many tiles")

type Event struct {
	Version int       `json:"version"`
	Op      string    `json:"op"`
	TS      time.Time `json:"ts"`
	Source  string    `json:"source,omitempty"`
	Tile    *TileRef  `json:"tile,omitempty"`
	BBox    *BBox     `json:"bbox,omitempty"`
	// Zooms limits a bbox event; empty means the consumer's configured zooms.
	Zooms []int `json:"zooms,omitempty"`
}

type TileRef struct {
	Z int `json:"z"`
	X int `json:"x"`
	Y int `json:"y"`
}

type BBox struct {
	MinLon float64 `json:"min_lon"`
	MinLat float64 `json:"min_lat"`
	MaxLon float64 `json:"max_lon"`
	MaxLat float64 `json:"max_lat"`
}

func (b BBox) Model() model.BBox {
	return model.BBox{MinLon: b.MinLon, MinLat: b.MinLat, MaxLon: b.MaxLon, MaxLat: b.MaxLat}
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return fmt.Errorf("version must be 1")
	}
	switch e.Op {
	case "update", "delete":
	default:
		return fmt.Errorf("op must be update|delete")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	if (e.Tile != nil) == (e.BBox != nil) {
		return fmt.Errorf("exactly one of tile or bbox is required")
	}
	if e.Tile != nil {
		t := *e.Tile
		if t.Z < 0 || t.Z > 30 {
			return fmt.Errorf("tile.z out of range")
		}
		n := 1 << t.Z
		if t.X < 0 || t.X >= n || t.Y < 0 || t.Y >= n {
			return fmt.Errorf("tile %d/%d/%d outside the grid", t.Z, t.X, t.Y)
		}
		return nil
	}
	if err := e.BBox.Model().Validate(); err != nil {
		return fmt.Errorf("bbox: %w", err)
	}
	for _, z := range e.Zooms {
		if z < 0 || z > 30 {
			return fmt.Errorf("zoom %d out of range", z)
		}
	}
	return nil
}

// Tiles expands a validated event into tile addresses. A bbox is resolved at
// each zoom, using defaultZooms when the event names none.
func (e Event) Tiles(proj projection.Projector, defaultZooms []int, maxTiles int) ([]model.Tile, error) {
	if e.Tile != nil {
		return []model.Tile{model.NewTile(e.Tile.Z, e.Tile.X, e.Tile.Y)}, nil
	}
	if e.BBox == nil {
		return nil, fmt.Errorf("event has neither tile nor bbox")
	}
	zooms := e.Zooms
	if len(zooms) == 0 {
		zooms = defaultZooms
	}
	bb := e.BBox.Model()
	var out []model.Tile
	for _, z := range zooms {
		ts, err := tiles.Resolve(bb, z, proj, 0)
		if err != nil {
			return nil, fmt.Errorf("zoom %d: %w", z, err)
		}
		if maxTiles > 0 && len(out)+ts.Count() > maxTiles {
			return nil, fmt.Errorf("%w: more than %d", ErrTooManyTiles, maxTiles)
		}
		out = append(out, ts.Tiles()...)
	}
	return out, nil
}
