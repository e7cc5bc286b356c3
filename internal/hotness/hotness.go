// Package hotness scores how often map regions are requested. Regions are
// H3 cells keyed by the centre of each requested tile.
package hotness

import (
	"github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/terrain-contours/internal/core/model"
)

const DefaultResolution = 6

type Interface interface {
	Inc(cell string)
	Score(cell string) float64
	Reset(cells ...string)
}

// CellFor returns the H3 cell at res containing lon/lat, or "" if h3 rejects it.
func CellFor(lon, lat float64, res int) string {
	cell, err := h3.LatLngToCell(h3.LatLng{Lat: lat, Lng: lon}, res)
	if err != nil {
		return ""
	}
	return cell.String()
}

func CellForTile(t model.Tile, res int) string {
	c := t.Center()
	return CellFor(c.Lon(), c.Lat(), res)
}
