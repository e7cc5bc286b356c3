// Package projection holds the spherical Web Mercator math shared by the
// raster and overlay paths.
package projection

import "math"

const (
	DefaultTileSize = 256

	// sin(lat) is clamped to this magnitude to keep the pole out of ln().
	maxSinLat = 0.9999
)

// Projector converts lon/lat to continuous global pixel space.
type Projector struct {
	TileSize int
}

func New(tileSize int) Projector {
	if tileSize <= 0 {
		tileSize = DefaultTileSize
	}
	return Projector{TileSize: tileSize}
}

// Scale is the width of the world in pixels at zoom.
func (p Projector) Scale(zoom int) float64 {
	return float64(p.tileSize()) * math.Exp2(float64(zoom))
}

func (p Projector) Project(lon, lat float64, zoom int) (px, py float64) {
	scale := p.Scale(zoom)
	px = (lon + 180.0) / 360.0 * scale

	sinLat := math.Sin(lat * math.Pi / 180.0)
	sinLat = math.Min(math.Max(sinLat, -maxSinLat), maxSinLat)
	py = (0.5 - math.Log((1+sinLat)/(1-sinLat))/(4*math.Pi)) * scale
	return px, py
}

func (p Projector) tileSize() int {
	if p.TileSize <= 0 {
		return DefaultTileSize
	}
	return p.TileSize
}
